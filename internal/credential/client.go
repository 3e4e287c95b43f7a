// Package credential drives the client side of the secret-tag registration
// and login exchanges. It keeps at most one pending attempt per identifier
// and kind, and wipes the intermediate state on every exit path.
package credential

import (
	"context"
	"crypto/rand"
	"fmt"
	"io"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"github.com/atinyakov/tagkeeper/internal/errs"
	"github.com/atinyakov/tagkeeper/internal/opaque"
)

const (
	MinPhraseLength = 3
	MaxPhraseLength = 100

	// DefaultAttemptTTL bounds how long a started exchange may wait for its finish call.
	DefaultAttemptTTL = 5 * time.Minute
)

// LoginResult is the outcome of a successful login finish. SessionKey must be
// handed to the session registry, which takes ownership and wipes it.
// Finalization is sent to the server to confirm the key; the session key
// itself never leaves the client.
type LoginResult struct {
	SessionKey   []byte
	Finalization *opaque.LoginFinish
}

type attempt struct {
	id    string
	reg   *opaque.ClientRegistration
	login *opaque.ClientLogin
}

func (a *attempt) wipe() {
	if a.reg != nil {
		a.reg.Wipe()
	}
	if a.login != nil {
		a.login.Wipe()
	}
}

type attempts = *ttlcache.Cache[string, *attempt]

// Client holds pending registration and login attempts. Attempts that
// outlive the TTL are evicted in the background and wiped on eviction.
type Client struct {
	registrations attempts
	logins        attempts

	ksf       opaque.KSF
	rnd       io.Reader
	ttl       time.Duration
	logger    *zap.Logger
	closeOnce sync.Once
}

// Option configures a Client.
type Option func(*Client)

func WithLogger(l *zap.Logger) Option { return func(c *Client) { c.logger = l } }

func WithKSF(k opaque.KSF) Option { return func(c *Client) { c.ksf = k } }

// WithRandom replaces the randomness source, mostly for failure tests.
func WithRandom(r io.Reader) Option { return func(c *Client) { c.rnd = r } }

func WithAttemptTTL(d time.Duration) Option { return func(c *Client) { c.ttl = d } }

// New creates a Client and starts its expiry loops. Close stops them.
func New(opts ...Option) *Client {
	c := &Client{
		ksf:    opaque.DefaultKSF,
		rnd:    rand.Reader,
		ttl:    DefaultAttemptTTL,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.registrations = c.newAttempts()
	c.logins = c.newAttempts()
	go c.registrations.Start()
	go c.logins.Start()
	return c
}

func (c *Client) newAttempts() attempts {
	cache := ttlcache.New[string, *attempt](
		ttlcache.WithTTL[string, *attempt](c.ttl),
		ttlcache.WithDisableTouchOnHit[string, *attempt](),
	)
	// Deleted items are handed back to the caller, who wipes them.
	cache.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[string, *attempt]) {
		if reason == ttlcache.EvictionReasonDeleted {
			return
		}
		item.Value().wipe()
		c.logger.Debug("pending attempt expired", zap.String("attempt_id", item.Value().id))
	})
	return cache
}

// ValidatePhrase checks the activation phrase length in characters.
func ValidatePhrase(phrase []byte) error {
	if !utf8.Valid(phrase) {
		return fmt.Errorf("%w: phrase is not valid UTF-8", errs.ErrInvalidInput)
	}
	n := utf8.RuneCount(phrase)
	if n < MinPhraseLength || n > MaxPhraseLength {
		return fmt.Errorf("%w: phrase must be %d to %d characters", errs.ErrInvalidInput, MinPhraseLength, MaxPhraseLength)
	}
	return nil
}

// StartRegistration blinds phrase and records the attempt under identifier,
// replacing any prior registration attempt for it. The caller keeps
// ownership of phrase.
func (c *Client) StartRegistration(phrase []byte, identifier string) (*opaque.RegistrationRequest, error) {
	if err := ValidatePhrase(phrase); err != nil {
		return nil, err
	}
	st, req, err := opaque.NewClientRegistration(phrase, c.ksf, c.rnd)
	if err != nil {
		return nil, err
	}
	a := &attempt{id: uuid.NewString(), reg: st}
	c.put(c.registrations, identifier, a)
	c.logger.Debug("registration started", zap.String("attempt_id", a.id))
	return req, nil
}

// FinishRegistration consumes the base64url server response and returns the
// record to upload.
func (c *Client) FinishRegistration(identifier, serverResponse string) (*opaque.RegistrationRecord, error) {
	a, err := c.take(c.registrations, identifier)
	if err != nil {
		return nil, err
	}
	defer a.wipe()

	resp, err := opaque.DecodeRegistrationResponse(serverResponse)
	if err != nil {
		c.logger.Debug("registration response rejected", zap.String("attempt_id", a.id), zap.Error(err))
		return nil, err
	}
	rec, err := a.reg.Finish(resp)
	if err != nil {
		return nil, err
	}
	c.logger.Debug("registration finished", zap.String("attempt_id", a.id))
	return rec, nil
}

// StartLogin blinds phrase for the tag identified by identifier, replacing
// any prior login attempt for it. Every call uses fresh randomness.
func (c *Client) StartLogin(phrase []byte, identifier string) (*opaque.LoginRequest, error) {
	if err := ValidatePhrase(phrase); err != nil {
		return nil, err
	}
	st, req, err := opaque.NewClientLogin(identifier, phrase, c.ksf, c.rnd)
	if err != nil {
		return nil, err
	}
	a := &attempt{id: uuid.NewString(), login: st}
	c.put(c.logins, identifier, a)
	c.logger.Debug("login started", zap.String("attempt_id", a.id), zap.String("tag_id", identifier))
	return req, nil
}

// FinishLogin consumes the base64url server response. A wrong phrase and an
// unknown tag both return errs.ErrAuthenticationFailed.
func (c *Client) FinishLogin(identifier, serverResponse string) (*LoginResult, error) {
	a, err := c.take(c.logins, identifier)
	if err != nil {
		return nil, err
	}
	defer a.wipe()

	resp, err := opaque.DecodeLoginResponse(serverResponse)
	if err != nil {
		c.logger.Debug("login response rejected", zap.String("attempt_id", a.id), zap.Error(err))
		return nil, err
	}
	key, fin, err := a.login.Finish(resp)
	if err != nil {
		return nil, err
	}
	return &LoginResult{SessionKey: key, Finalization: fin}, nil
}

// Pending reports whether an unexpired attempt of either kind exists for identifier.
func (c *Client) Pending(identifier string) bool {
	return c.registrations.Get(identifier) != nil || c.logins.Get(identifier) != nil
}

// Cancel wipes any pending attempt of either kind for identifier, for
// callers whose round-trip failed between start and finish.
func (c *Client) Cancel(identifier string) {
	for _, m := range []attempts{c.registrations, c.logins} {
		if item, ok := m.GetAndDelete(identifier); ok {
			item.Value().wipe()
		}
	}
}

// Close stops the expiry loops and wipes every pending attempt.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		for _, m := range []attempts{c.registrations, c.logins} {
			m.Stop()
			m.DeleteExpired()
			for _, item := range m.Items() {
				item.Value().wipe()
			}
			m.DeleteAll()
		}
	})
}

func (c *Client) put(m attempts, identifier string, a *attempt) {
	if prev, ok := m.GetAndDelete(identifier); ok {
		prev.Value().wipe()
		c.logger.Debug("pending attempt replaced", zap.String("attempt_id", prev.Value().id))
	}
	m.Set(identifier, a, ttlcache.DefaultTTL)
}

// take removes the attempt for identifier. Finishing twice or finishing an
// expired attempt is a protocol mismatch.
func (c *Client) take(m attempts, identifier string) (*attempt, error) {
	item, ok := m.GetAndDelete(identifier)
	if !ok {
		return nil, fmt.Errorf("%w: no pending attempt", errs.ErrProtocolMismatch)
	}
	return item.Value(), nil
}
