package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atinyakov/tagkeeper/internal/errs"
	"github.com/atinyakov/tagkeeper/internal/models"
	"github.com/atinyakov/tagkeeper/internal/opaque"
)

// DefaultPendingTTL bounds the gap between a start call and its finish.
const DefaultPendingTTL = 2 * time.Minute

// SecretTagRepository persists secret tags and their registration records.
type SecretTagRepository interface {
	NameTaken(ctx context.Context, owner, name string) (bool, error)
	Create(ctx context.Context, owner string, tag models.Tag, record []byte) (models.Tag, error)
	GetCredential(ctx context.Context, owner, tagID string) (models.StoredCredential, error)
	List(ctx context.Context, owner string) ([]models.Tag, error)
	Delete(ctx context.Context, owner, tagID string) error
}

type pendingRegistration struct {
	owner string
	tag   models.Tag
}

type pendingLogin struct {
	owner string
	tagID string
	state *opaque.ServerLogin
}

// SecretTagService is the server half of registration and login. The
// server never sees a phrase; it only evaluates blinded elements and keeps
// registration records.
type SecretTagService struct {
	repo   SecretTagRepository
	server *opaque.Server
	regs   *pendingStore[pendingRegistration]
	logins *pendingStore[pendingLogin]
	logger *zap.Logger
}

// SecretTagOption configures a SecretTagService.
type SecretTagOption func(*secretTagConfig)

type secretTagConfig struct {
	ttl    time.Duration
	logger *zap.Logger
}

func WithPendingTTL(d time.Duration) SecretTagOption {
	return func(c *secretTagConfig) { c.ttl = d }
}

func WithLogger(l *zap.Logger) SecretTagOption {
	return func(c *secretTagConfig) { c.logger = l }
}

// NewSecretTagService starts the expiry loops of the pending exchanges.
// Close stops them.
func NewSecretTagService(repo SecretTagRepository, server *opaque.Server, opts ...SecretTagOption) *SecretTagService {
	cfg := secretTagConfig{ttl: DefaultPendingTTL, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &SecretTagService{
		repo:   repo,
		server: server,
		regs:   newPendingStore[pendingRegistration](cfg.ttl, nil),
		logins: newPendingStore(cfg.ttl, func(p pendingLogin) { p.state.Wipe() }),
		logger: cfg.logger,
	}
	s.regs.start()
	s.logins.start()
	return s
}

// Close stops the expiry loops and wipes every pending login.
func (s *SecretTagService) Close() {
	s.regs.stop()
	s.logins.stop()
}

// RegisterStart assigns a tag ID and evaluates the blinded element.
func (s *SecretTagService) RegisterStart(ctx context.Context, owner string, req models.RegisterStartRequest) (models.RegisterStartResponse, error) {
	if err := models.ValidateTagName(req.Name); err != nil {
		return models.RegisterStartResponse{}, err
	}
	if err := models.ValidateColorCode(req.ColorCode); err != nil {
		return models.RegisterStartResponse{}, err
	}
	msg, err := opaque.DecodeRegistrationRequest(req.Message)
	if err != nil {
		return models.RegisterStartResponse{}, err
	}
	taken, err := s.repo.NameTaken(ctx, owner, req.Name)
	if err != nil {
		return models.RegisterStartResponse{}, err
	}
	if taken {
		return models.RegisterStartResponse{}, fmt.Errorf("%w: %q", errs.ErrDuplicateName, req.Name)
	}

	level, err := models.ParseSecurityLevel(string(req.SecurityLevel))
	if err != nil {
		return models.RegisterStartResponse{}, err
	}
	fingerprint := ""
	if level == models.SecurityEnhanced {
		if req.DeviceFingerprint == "" {
			return models.RegisterStartResponse{}, fmt.Errorf("%w: enhanced tags need a device fingerprint", errs.ErrInvalidInput)
		}
		fingerprint = req.DeviceFingerprint
	}
	tagID := uuid.NewString()
	resp, err := s.server.Register(tagID, msg)
	if err != nil {
		return models.RegisterStartResponse{}, err
	}
	s.regs.put(tagID, pendingRegistration{owner: owner, tag: models.Tag{
		ID:                tagID,
		Name:              req.Name,
		ColorCode:         req.ColorCode,
		AuthMethod:        models.AuthOpaque,
		SecurityLevel:     level,
		DeviceFingerprint: fingerprint,
		MigratedFrom:      req.MigratedFrom,
	}})
	s.logger.Debug("registration started", zap.String("owner", owner), zap.String("tag_id", tagID))
	return models.RegisterStartResponse{TagID: tagID, Message: resp.Encode()}, nil
}

// RegisterFinish stores the uploaded record under the pending tag.
func (s *SecretTagService) RegisterFinish(ctx context.Context, owner string, req models.RegisterFinishRequest) (models.Tag, error) {
	p, ok := s.regs.take(req.TagID)
	if !ok || p.owner != owner {
		return models.Tag{}, fmt.Errorf("%w: no pending registration", errs.ErrNotFound)
	}
	rec, err := opaque.DecodeRegistrationRecord(req.Message)
	if err != nil {
		return models.Tag{}, err
	}
	tag, err := s.repo.Create(ctx, owner, p.tag, rec.Bytes())
	if err != nil {
		return models.Tag{}, err
	}
	s.logger.Info("secret tag registered", zap.String("owner", owner), zap.String("tag_id", tag.ID))
	return tag, nil
}

// LoginStart answers a login request. An unknown tag, and an enhanced tag
// asked for from another device, get a response built from a fake record,
// so neither can be told apart from a wrong phrase.
func (s *SecretTagService) LoginStart(ctx context.Context, owner string, req models.LoginStartRequest) (models.LoginStartResponse, error) {
	if req.TagID == "" {
		return models.LoginStartResponse{}, fmt.Errorf("%w: tag id required", errs.ErrInvalidInput)
	}
	msg, err := opaque.DecodeLoginRequest(req.Message)
	if err != nil {
		return models.LoginStartResponse{}, err
	}

	var record *opaque.RegistrationRecord
	cred, err := s.repo.GetCredential(ctx, owner, req.TagID)
	switch {
	case errors.Is(err, errs.ErrNotFound):
	case err != nil:
		return models.LoginStartResponse{}, err
	case !deviceMatches(cred, req.DeviceFingerprint):
		s.logger.Info("login from unbound device", zap.String("owner", owner), zap.String("tag_id", req.TagID))
	default:
		if record, err = opaque.ParseRegistrationRecord(cred.Record); err != nil {
			s.logger.Error("stored registration record is malformed", zap.String("tag_id", req.TagID), zap.Error(err))
			record = nil
		}
	}

	resp, state, err := s.server.StartLogin(req.TagID, record, msg)
	if err != nil {
		return models.LoginStartResponse{}, err
	}
	loginID := uuid.NewString()
	s.logins.put(loginID, pendingLogin{owner: owner, tagID: req.TagID, state: state})
	return models.LoginStartResponse{LoginID: loginID, Message: resp.Encode()}, nil
}

// LoginFinish checks the client's key confirmation. Every failure,
// including an unknown or expired login ID, is errs.ErrAuthenticationFailed.
func (s *SecretTagService) LoginFinish(_ context.Context, owner string, req models.LoginFinishRequest) error {
	p, ok := s.logins.take(req.LoginID)
	if !ok {
		return errs.ErrAuthenticationFailed
	}
	defer p.state.Wipe()
	if p.owner != owner {
		return errs.ErrAuthenticationFailed
	}
	fin, err := opaque.DecodeLoginFinish(req.Message)
	if err != nil {
		return err
	}
	key, err := p.state.Finish(fin)
	if err != nil {
		s.logger.Info("login rejected", zap.String("owner", owner), zap.String("tag_id", p.tagID))
		return errs.ErrAuthenticationFailed
	}
	clear(key)
	s.logger.Info("login confirmed", zap.String("owner", owner), zap.String("tag_id", p.tagID))
	return nil
}

// List returns the owner's secret tags.
func (s *SecretTagService) List(ctx context.Context, owner string) ([]models.Tag, error) {
	return s.repo.List(ctx, owner)
}

// Delete soft-deletes a tag.
func (s *SecretTagService) Delete(ctx context.Context, owner, tagID string) error {
	if err := s.repo.Delete(ctx, owner, tagID); err != nil {
		return err
	}
	s.logger.Info("secret tag deleted", zap.String("owner", owner), zap.String("tag_id", tagID))
	return nil
}

// deviceMatches reports whether a login from fingerprint may use cred.
// Standard tags are not bound to a device.
func deviceMatches(cred models.StoredCredential, fingerprint string) bool {
	if cred.SecurityLevel != models.SecurityEnhanced {
		return true
	}
	return fingerprint != "" && subtle.ConstantTimeCompare([]byte(cred.DeviceFingerprint), []byte(fingerprint)) == 1
}
