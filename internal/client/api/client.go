// Package api is the HTTP client for the secret-tag server.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"go.uber.org/zap"

	"github.com/atinyakov/tagkeeper/internal/errs"
	"github.com/atinyakov/tagkeeper/internal/models"
)

// Endpoint paths.
const (
	PathEnroll         = "/owners/enroll"
	PathRegisterStart  = "/secret-tags/register/start"
	PathRegisterFinish = "/secret-tags/register/finish"
	PathLoginStart     = "/secret-tags/login/start"
	PathLoginFinish    = "/secret-tags/login/finish"
	PathSecretTags     = "/secret-tags"
	PathHealth         = "/health"
)

const maxErrorBody = 1 << 10

// Client calls the secret-tag endpoints. Failed calls are never retried.
type Client struct {
	http    *http.Client
	baseURL string
	logger  *zap.Logger
}

// New returns a Client for baseURL. hc carries the TLS setup.
func New(baseURL string, hc *http.Client, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{http: hc, baseURL: strings.TrimRight(baseURL, "/"), logger: logger}
}

// Enroll requests a client certificate for owner.
func (c *Client) Enroll(ctx context.Context, owner string) (models.EnrollResponse, error) {
	var out models.EnrollResponse
	err := c.do(ctx, http.MethodPost, PathEnroll, models.EnrollRequest{Owner: owner}, &out)
	return out, err
}

// RegisterStart sends the blinded registration request.
func (c *Client) RegisterStart(ctx context.Context, req models.RegisterStartRequest) (models.RegisterStartResponse, error) {
	var out models.RegisterStartResponse
	if err := c.do(ctx, http.MethodPost, PathRegisterStart, req, &out); err != nil {
		return out, err
	}
	if out.TagID == "" || out.Message == "" {
		return out, fmt.Errorf("%w: incomplete register/start response", errs.ErrDecode)
	}
	return out, nil
}

// RegisterFinish uploads the registration record and returns the stored tag.
func (c *Client) RegisterFinish(ctx context.Context, req models.RegisterFinishRequest) (models.Tag, error) {
	var out models.Tag
	if err := c.do(ctx, http.MethodPost, PathRegisterFinish, req, &out); err != nil {
		return out, err
	}
	if out.ID == "" {
		return out, fmt.Errorf("%w: register/finish response without tag id", errs.ErrDecode)
	}
	return out, nil
}

// LoginStart sends the login request.
func (c *Client) LoginStart(ctx context.Context, req models.LoginStartRequest) (models.LoginStartResponse, error) {
	var out models.LoginStartResponse
	if err := c.do(ctx, http.MethodPost, PathLoginStart, req, &out); err != nil {
		return out, err
	}
	if out.LoginID == "" || out.Message == "" {
		return out, fmt.Errorf("%w: incomplete login/start response", errs.ErrDecode)
	}
	return out, nil
}

// LoginFinish sends the key confirmation.
func (c *Client) LoginFinish(ctx context.Context, req models.LoginFinishRequest) error {
	return c.do(ctx, http.MethodPost, PathLoginFinish, req, nil)
}

// ListSecretTags returns the owner's secret tags.
func (c *Client) ListSecretTags(ctx context.Context) ([]models.Tag, error) {
	var out models.TagList
	if err := c.do(ctx, http.MethodGet, PathSecretTags, nil, &out); err != nil {
		return nil, err
	}
	return out.Tags, nil
}

// DeleteSecretTag deletes a secret tag.
func (c *Client) DeleteSecretTag(ctx context.Context, tagID string) error {
	return c.do(ctx, http.MethodDelete, PathSecretTags+"/"+url.PathEscape(tagID), nil, nil)
}

// Health checks that the server is reachable.
func (c *Client) Health(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, PathHealth, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		c.logger.Debug("request failed", zap.String("path", path), zap.Error(err))
		return fmt.Errorf("%w: %v", errs.ErrNetworkUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrDecode, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(data))
	var sentinel error
	switch resp.StatusCode {
	case http.StatusBadRequest:
		sentinel = errs.ErrInvalidInput
	case http.StatusUnauthorized, http.StatusForbidden:
		sentinel = errs.ErrAuthenticationFailed
	case http.StatusNotFound:
		sentinel = errs.ErrNotFound
	case http.StatusConflict:
		sentinel = errs.ErrDuplicateName
	case http.StatusUnprocessableEntity:
		sentinel = errs.ErrProtocolMismatch
	case http.StatusTooManyRequests:
		sentinel = errs.ErrRateLimited
	case http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		sentinel = errs.ErrNetworkUnavailable
	default:
		return fmt.Errorf("server error %d: %s", resp.StatusCode, msg)
	}
	if msg == "" {
		return sentinel
	}
	return &StatusError{Code: resp.StatusCode, Message: msg, err: sentinel}
}

// StatusError is a non-2xx answer. It unwraps to the matching errs sentinel.
type StatusError struct {
	Code    int
	Message string
	err     error
}

func (e *StatusError) Error() string { return fmt.Sprintf("%v: %s", e.err, e.Message) }

func (e *StatusError) Unwrap() error { return e.err }

// IsStatus reports whether err is a StatusError with the given code.
func IsStatus(err error, code int) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Code == code
}
