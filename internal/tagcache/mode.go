package tagcache

import (
	"fmt"
	"strings"

	"github.com/atinyakov/tagkeeper/internal/errs"
)

// Mode is the security mode governing whether secret-tag metadata may
// touch persistent storage.
//
// Online and Offline are the base modes. The remaining names are accepted
// aliases that resolve to one of them, some with extra background behavior.
type Mode string

const (
	// ModeOnline never persists secret tags and lists them from the server only.
	ModeOnline Mode = "online"
	// ModeOffline persists secret tags after a verified sync and serves from cache.
	ModeOffline Mode = "offline"

	ModeMaximum     Mode = "maximum"
	ModeBalanced    Mode = "balanced"
	ModeConvenience Mode = "convenience"
	// ModeBorder behaves like online and also clears the cache whenever the
	// app goes to the background.
	ModeBorder Mode = "border"
)

// DefaultMode is the most restrictive base mode.
const DefaultMode = ModeOnline

var modes = map[Mode]Mode{
	ModeOnline:      ModeOnline,
	ModeOffline:     ModeOffline,
	ModeMaximum:     ModeOnline,
	ModeBalanced:    ModeOffline,
	ModeConvenience: ModeOffline,
	ModeBorder:      ModeOnline,
}

// ParseMode resolves a mode name, ignoring case and surrounding space.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := modes[m]; !ok {
		return "", fmt.Errorf("%w: unknown security mode %q", errs.ErrInvalidInput, s)
	}
	return m, nil
}

// Base returns the base mode m resolves to. Unknown modes resolve to the
// default.
func (m Mode) Base() Mode {
	if b, ok := modes[m]; ok {
		return b
	}
	return DefaultMode
}

// PersistsSecretTags reports whether secret-tag entries may be written to disk.
func (m Mode) PersistsSecretTags() bool { return m.Base() == ModeOffline }

// RetainsOnBackground reports whether in-memory secret entries survive
// backgrounding.
func (m Mode) RetainsOnBackground() bool { return m.Base() == ModeOffline }

// ClearsOnBackground reports whether backgrounding clears the whole
// secret-tag cache.
func (m Mode) ClearsOnBackground() bool { return m == ModeBorder }

func (m Mode) String() string { return string(m) }
