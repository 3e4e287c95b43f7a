// Package secrettags ties the credential exchange, the session registry, the
// tag cache and the content cipher into the operations the client exposes.
package secrettags

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/tagkeeper/internal/content"
	"github.com/atinyakov/tagkeeper/internal/credential"
	"github.com/atinyakov/tagkeeper/internal/errs"
	"github.com/atinyakov/tagkeeper/internal/models"
	"github.com/atinyakov/tagkeeper/internal/phrase"
	"github.com/atinyakov/tagkeeper/internal/session"
	"github.com/atinyakov/tagkeeper/internal/tagcache"
)

// API is the part of the server the service talks to.
type API interface {
	tagcache.TagAPI
	RegisterStart(ctx context.Context, req models.RegisterStartRequest) (models.RegisterStartResponse, error)
	RegisterFinish(ctx context.Context, req models.RegisterFinishRequest) (models.Tag, error)
	LoginStart(ctx context.Context, req models.LoginStartRequest) (models.LoginStartResponse, error)
	LoginFinish(ctx context.Context, req models.LoginFinishRequest) error
}

// TimeoutSource supplies the session timeout for new sessions.
type TimeoutSource interface {
	SessionTimeout() time.Duration
}

// Service runs secret-tag operations for one user.
type Service struct {
	api      API
	cache    *tagcache.Cache
	creds    *credential.Client
	sessions *session.Registry
	cipher   *content.Cipher
	detector *phrase.Detector
	timeouts TimeoutSource
	override time.Duration
	device   string
	logger   *zap.Logger
}

// Option configures a Service.
type Option func(*Service)

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.logger = l } }

func WithCredentials(c *credential.Client) Option { return func(s *Service) { s.creds = c } }

func WithRegistry(r *session.Registry) Option { return func(s *Service) { s.sessions = r } }

func WithCipher(c *content.Cipher) Option { return func(s *Service) { s.cipher = c } }

// WithDeviceFingerprint identifies this device. It is sent with every login
// and binds tags created with models.SecurityEnhanced.
func WithDeviceFingerprint(fp string) Option { return func(s *Service) { s.device = fp } }

// WithTimeoutOverride fixes the session timeout, ignoring the stored
// preference. Zero keeps the preference.
func WithTimeoutOverride(d time.Duration) Option { return func(s *Service) { s.override = d } }

// New creates a Service. Collaborators not supplied through options get
// defaults; the registry's expiry loop runs until Shutdown.
func New(api API, cache *tagcache.Cache, timeouts TimeoutSource, opts ...Option) *Service {
	s := &Service{
		api:      api,
		cache:    cache,
		timeouts: timeouts,
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.creds == nil {
		s.creds = credential.New(credential.WithLogger(s.logger))
	}
	if s.sessions == nil {
		s.sessions = session.NewRegistry(session.WithLogger(s.logger))
	}
	if s.cipher == nil {
		s.cipher = content.NewCipher(nil)
	}
	s.detector = phrase.NewDetector(s.logger)
	return s
}

// Cache returns the tag cache.
func (s *Service) Cache() *tagcache.Cache { return s.cache }

// Sessions returns the session registry.
func (s *Service) Sessions() *session.Registry { return s.sessions }

// CreateSecretTag registers a new secret tag. Name, color, level and
// phrase are checked before anything goes over the network. An enhanced
// tag is bound to this device's fingerprint. On success it also returns
// the warning the user must see about unrecoverable phrases.
func (s *Service) CreateSecretTag(ctx context.Context, name string, secretPhrase []byte, color string, level models.SecurityLevel) (models.Tag, string, error) {
	if err := models.ValidateTagName(name); err != nil {
		return models.Tag{}, "", err
	}
	level, err := models.ParseSecurityLevel(string(level))
	if err != nil {
		return models.Tag{}, "", err
	}
	fingerprint := ""
	if level == models.SecurityEnhanced {
		if s.device == "" {
			return models.Tag{}, "", fmt.Errorf("%w: no device fingerprint for an enhanced tag", errs.ErrInvalidInput)
		}
		fingerprint = s.device
	}
	if err := models.ValidateColorCode(color); err != nil {
		return models.Tag{}, "", err
	}
	if err := phrase.ValidateActivationPhrase(string(secretPhrase)); err != nil {
		return models.Tag{}, "", err
	}

	attemptKey := "register:" + models.FoldName(name)
	tag, err := s.cache.CreateSecretTag(ctx, name, func(ctx context.Context) (models.Tag, error) {
		req, err := s.creds.StartRegistration(secretPhrase, attemptKey)
		if err != nil {
			return models.Tag{}, err
		}
		start, err := s.api.RegisterStart(ctx, models.RegisterStartRequest{
			Name:              name,
			ColorCode:         color,
			SecurityLevel:     level,
			DeviceFingerprint: fingerprint,
			Message:           req.Encode(),
		})
		if err != nil {
			s.creds.Cancel(attemptKey)
			return models.Tag{}, err
		}
		rec, err := s.creds.FinishRegistration(attemptKey, start.Message)
		if err != nil {
			return models.Tag{}, err
		}
		return s.api.RegisterFinish(ctx, models.RegisterFinishRequest{TagID: start.TagID, Message: rec.Encode()})
	})
	if err != nil {
		return models.Tag{}, "", err
	}
	return tag, phrase.UnrecoverablePhraseWarning, nil
}

// DeleteSecretTag deletes the tag and ends any session it has. A tag the
// server no longer knows loses its session too.
func (s *Service) DeleteSecretTag(ctx context.Context, tagID string) error {
	err := s.cache.DeleteSecretTag(ctx, tagID)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	s.sessions.Deactivate(tagID)
	return err
}

// Unlock runs a login for tagID and activates a session with the resulting
// key. A wrong phrase and an unknown tag both fail with
// errs.ErrAuthenticationFailed.
func (s *Service) Unlock(ctx context.Context, tagID string, secretPhrase []byte) error {
	ticket := s.sessions.Begin(tagID)
	key, err := s.login(ctx, tagID, secretPhrase)
	if err != nil {
		s.sessions.Cancel(ticket)
		return err
	}
	return s.sessions.Activate(ticket, key, s.timeout())
}

// Resume unlocks a locked session after a fresh login. The session keeps
// its original expiry.
func (s *Service) Resume(ctx context.Context, tagID string, secretPhrase []byte) error {
	if s.sessions.State(tagID) != session.StateLocked {
		return fmt.Errorf("%w: no locked session for tag", errs.ErrNotFound)
	}
	ticket := s.sessions.Begin(tagID)
	key, err := s.login(ctx, tagID, secretPhrase)
	if err != nil {
		s.sessions.Cancel(ticket)
		return err
	}
	return s.sessions.Resume(ticket, key)
}

// StartLogin unlocks tagID, resuming it if it is locked. It lets the
// service act as the phrase detector's login starter.
func (s *Service) StartLogin(ctx context.Context, tagID string, secretPhrase []byte) error {
	if s.sessions.State(tagID) == session.StateLocked {
		return s.Resume(ctx, tagID, secretPhrase)
	}
	return s.Unlock(ctx, tagID, secretPhrase)
}

// HandleComposerText looks for a candidate phrase in text and unlocks the
// matching tag.
func (s *Service) HandleComposerText(ctx context.Context, text string, candidates []phrase.Candidate) (phrase.Match, bool, error) {
	return s.detector.ScanAndLogin(ctx, text, candidates, s)
}

// Lock keeps the session but drops its key.
func (s *Service) Lock(tagID string) error { return s.sessions.Lock(tagID) }

// Extend pushes the session expiry out by d, or by the configured timeout
// when d is zero.
func (s *Service) Extend(tagID string, d time.Duration) error {
	if d == 0 {
		d = s.timeout()
	}
	return s.sessions.Extend(tagID, d)
}

// Deactivate ends the session for tagID.
func (s *Service) Deactivate(tagID string) { s.sessions.Deactivate(tagID) }

// EncryptForTag seals plaintext with the tag's session key.
func (s *Service) EncryptForTag(ctx context.Context, tagID, plaintext string) (*content.Sealed, error) {
	return s.cipher.EncryptForTag(ctx, s.sessions, tagID, plaintext)
}

// DecryptForTag opens content sealed with the tag's session key.
func (s *Service) DecryptForTag(ctx context.Context, tagID string, sealed *content.Sealed) (string, error) {
	return s.cipher.DecryptForTag(ctx, s.sessions, tagID, sealed)
}

// OnBackground locks every session and applies the cache's background
// policy.
func (s *Service) OnBackground() error {
	s.sessions.LockAll()
	return s.cache.OnBackground()
}

// Shutdown wipes every session and pending exchange.
func (s *Service) Shutdown() {
	s.creds.Close()
	s.sessions.Close()
}

// login runs both login round-trips and returns the session key. The
// caller owns the key.
func (s *Service) login(ctx context.Context, tagID string, secretPhrase []byte) ([]byte, error) {
	req, err := s.creds.StartLogin(secretPhrase, tagID)
	if err != nil {
		return nil, err
	}
	start, err := s.api.LoginStart(ctx, models.LoginStartRequest{TagID: tagID, DeviceFingerprint: s.device, Message: req.Encode()})
	if err != nil {
		s.creds.Cancel(tagID)
		return nil, err
	}
	res, err := s.creds.FinishLogin(tagID, start.Message)
	if err != nil {
		s.logger.Info("login rejected", zap.String("tag_id", tagID))
		return nil, err
	}
	err = s.api.LoginFinish(ctx, models.LoginFinishRequest{LoginID: start.LoginID, Message: res.Finalization.Encode()})
	if err != nil {
		clear(res.SessionKey)
		return nil, err
	}
	return res.SessionKey, nil
}

func (s *Service) timeout() time.Duration {
	if s.override > 0 {
		return s.override
	}
	if s.timeouts == nil {
		return session.DefaultTimeout
	}
	return s.timeouts.SessionTimeout()
}
