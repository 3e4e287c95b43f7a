// Package preferences persists user choices that outlive a process: the
// session timeout, the security mode and this device's fingerprint.
package preferences

import (
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/atinyakov/tagkeeper/internal/errs"
	"github.com/atinyakov/tagkeeper/internal/kvstore"
	"github.com/atinyakov/tagkeeper/internal/tagcache"
)

const (
	sessionTimeoutKey = "prefs/session_timeout_minutes"
	securityModeKey   = "prefs/security_mode"
	deviceKey         = "prefs/device_fingerprint"

	DefaultSessionTimeoutMinutes = 2
	MinSessionTimeoutMinutes     = 1
	MaxSessionTimeoutMinutes     = 24 * 60
)

// Preferences reads and writes preferences in a key-value store.
type Preferences struct {
	store  kvstore.Store
	logger *zap.Logger
}

func New(store kvstore.Store, logger *zap.Logger) *Preferences {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Preferences{store: store, logger: logger}
}

// SessionTimeout returns the stored timeout or the default. Unreadable
// or out-of-range values fall back to the default with a warning.
func (p *Preferences) SessionTimeout() time.Duration {
	raw, ok, err := p.store.Get(sessionTimeoutKey)
	if err != nil {
		p.logger.Warn("read session timeout preference", zap.Error(err))
		return DefaultSessionTimeoutMinutes * time.Minute
	}
	if !ok {
		return DefaultSessionTimeoutMinutes * time.Minute
	}
	n, err := strconv.Atoi(string(raw))
	if err != nil || validateMinutes(n) != nil {
		p.logger.Warn("ignoring invalid session timeout preference", zap.ByteString("value", raw))
		return DefaultSessionTimeoutMinutes * time.Minute
	}
	return time.Duration(n) * time.Minute
}

// SetSessionTimeoutMinutes stores the timeout.
func (p *Preferences) SetSessionTimeoutMinutes(n int) error {
	if err := validateMinutes(n); err != nil {
		return err
	}
	return p.store.Set(sessionTimeoutKey, []byte(strconv.Itoa(n)))
}

// SecurityMode returns the stored mode, or fallback when nothing valid is stored.
func (p *Preferences) SecurityMode(fallback tagcache.Mode) tagcache.Mode {
	raw, ok, err := p.store.Get(securityModeKey)
	if err != nil {
		p.logger.Warn("read security mode preference", zap.Error(err))
		return fallback
	}
	if !ok {
		return fallback
	}
	m, err := tagcache.ParseMode(string(raw))
	if err != nil {
		p.logger.Warn("ignoring invalid security mode preference", zap.ByteString("value", raw))
		return fallback
	}
	return m
}

// SetSecurityMode stores the mode.
func (p *Preferences) SetSecurityMode(m tagcache.Mode) error {
	if _, err := tagcache.ParseMode(string(m)); err != nil {
		return err
	}
	return p.store.Set(securityModeKey, []byte(m))
}

// DeviceFingerprint returns the random identifier of this device,
// generating and storing it on first use.
func (p *Preferences) DeviceFingerprint() (string, error) {
	raw, ok, err := p.store.Get(deviceKey)
	if err != nil {
		return "", fmt.Errorf("read device fingerprint: %w", err)
	}
	if ok && len(raw) > 0 {
		return string(raw), nil
	}
	fp := uuid.NewString()
	if err := p.store.Set(deviceKey, []byte(fp)); err != nil {
		return "", fmt.Errorf("store device fingerprint: %w", err)
	}
	p.logger.Info("device fingerprint created")
	return fp, nil
}

func validateMinutes(n int) error {
	if n < MinSessionTimeoutMinutes || n > MaxSessionTimeoutMinutes {
		return fmt.Errorf("%w: session timeout must be %d to %d minutes", errs.ErrInvalidInput, MinSessionTimeoutMinutes, MaxSessionTimeoutMinutes)
	}
	return nil
}
