// Package models defines the core data structures for tags, cache entries
// and the payloads exchanged with the secret-tag server.
package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/text/cases"

	"github.com/atinyakov/tagkeeper/internal/errs"
)

// Name length limits for tags, counted in runes.
const (
	MinTagNameLength = 1
	MaxTagNameLength = 50
)

// AuthMethod identifies how a secret tag's credential was registered.
type AuthMethod string

const (
	// AuthOpaque marks a tag registered through the zero-knowledge exchange.
	AuthOpaque AuthMethod = "opaque"
	// AuthLegacy marks a tag created before the zero-knowledge exchange existed.
	AuthLegacy AuthMethod = "legacy"
)

// SecurityLevel controls how strictly a tag's registration record is bound.
type SecurityLevel string

const (
	// SecurityStandard is the default level.
	SecurityStandard SecurityLevel = "standard"
	// SecurityEnhanced binds the registration record to a device fingerprint.
	SecurityEnhanced SecurityLevel = "enhanced"
)

// Integrity describes whether a cache entry was read back intact.
type Integrity string

const (
	IntegrityValid     Integrity = "valid"
	IntegrityCorrupted Integrity = "corrupted"
	IntegrityUnknown   Integrity = "unknown"
)

// Tag holds tag metadata. It never carries an activation phrase or anything
// derived from one.
type Tag struct {
	// ID is assigned by the server; empty until the first round-trip.
	ID string `json:"id,omitempty"`
	// Name is 1-50 characters and unique per owner and tag type, ignoring case.
	Name string `json:"name"`
	// ColorCode is a "#RRGGBB" hex color or empty.
	ColorCode string    `json:"color_code,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	// AuthMethod is only meaningful for secret tags.
	AuthMethod    AuthMethod    `json:"auth_method,omitempty"`
	SecurityLevel SecurityLevel `json:"security_level,omitempty"`
	// DeviceFingerprint binds the registration record to one device.
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
	// MigratedFrom marks a legacy tag upgraded to the opaque method.
	MigratedFrom string `json:"migrated_from,omitempty"`
	// Secret is true for secret tags.
	Secret bool `json:"secret"`
	// OwnerID is filled in by the server.
	OwnerID string `json:"owner_id,omitempty"`
	// Version is the server change counter used by sync.
	Version int64 `json:"version"`
	// Deleted marks a soft-deleted tag on the server.
	Deleted bool `json:"deleted,omitempty"`
}

// StoredCredential is what the server keeps to answer a login: the
// registration record and the binding it was registered with.
type StoredCredential struct {
	Record            []byte
	SecurityLevel     SecurityLevel
	DeviceFingerprint string
}

// ParseSecurityLevel maps "" to SecurityStandard and rejects unknown levels.
func ParseSecurityLevel(s string) (SecurityLevel, error) {
	switch SecurityLevel(s) {
	case "", SecurityStandard:
		return SecurityStandard, nil
	case SecurityEnhanced:
		return SecurityEnhanced, nil
	}
	return "", fmt.Errorf("%w: unknown security level %q", errs.ErrInvalidInput, s)
}

// CacheEntry is the local mirror of one tag.
type CacheEntry struct {
	TagID        string    `json:"tag_id"`
	Tag          Tag       `json:"tag"`
	LastSyncedAt time.Time `json:"last_synced_at"`
	Integrity    Integrity `json:"integrity"`
}

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// ValidateTagName checks the rune length of a trimmed tag name.
func ValidateTagName(name string) error {
	n := utf8.RuneCountInString(strings.TrimSpace(name))
	if n < MinTagNameLength || n > MaxTagNameLength {
		return fmt.Errorf("%w: tag name must be %d-%d characters", errs.ErrInvalidInput, MinTagNameLength, MaxTagNameLength)
	}
	return nil
}

// ValidateColorCode accepts an empty string or a "#RRGGBB" color.
func ValidateColorCode(code string) error {
	if code == "" || colorPattern.MatchString(code) {
		return nil
	}
	return fmt.Errorf("%w: color code %q is not #RRGGBB", errs.ErrInvalidInput, code)
}

// FoldName returns the case-folded form used for name uniqueness checks.
func FoldName(name string) string {
	return cases.Fold().String(strings.TrimSpace(name))
}

// SameName reports whether two tag names collide ignoring case.
func SameName(a, b string) bool {
	return FoldName(a) == FoldName(b)
}
