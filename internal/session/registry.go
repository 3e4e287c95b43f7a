// Package session keeps the in-memory table of unlocked secret tags. It is
// the only holder of session secrets; other packages reach a secret only
// through Borrow, for the duration of one call.
package session

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/awnumar/memguard"
	"github.com/benbjohnson/clock"
	"go.uber.org/zap"

	"github.com/atinyakov/tagkeeper/internal/errs"
)

// DefaultTimeout is the session lifetime when the user has not chosen one.
const DefaultTimeout = 2 * time.Minute

// State is the externally visible state of a tag's session.
type State int

const (
	StateAbsent State = iota
	StateAuthenticating
	StateActive
	StateLocked
)

func (s State) String() string {
	switch s {
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateLocked:
		return "locked"
	default:
		return "absent"
	}
}

// Info is a snapshot of one session without its secret.
type Info struct {
	TagID     string
	CreatedAt time.Time
	ExpiresAt time.Time
	Locked    bool
}

// Ticket is issued by Begin before a login round-trip and redeemed by
// Activate or Resume. Deactivating the tag (or everything) in between
// invalidates it.
type Ticket struct {
	tagID string
	seq   uint64
}

// TagID returns the tag the ticket was issued for.
func (t Ticket) TagID() string { return t.tagID }

// secret is a locked buffer shared between the entry and in-flight borrows.
// It is destroyed when it has been retired and the last borrow returns.
type secret struct {
	buf     *memguard.LockedBuffer
	refs    int
	retired bool
}

func (s *secret) retire() {
	if s.retired {
		return
	}
	s.retired = true
	if s.refs == 0 {
		s.buf.Destroy()
	}
}

func (s *secret) release() {
	s.refs--
	if s.retired && s.refs == 0 {
		s.buf.Destroy()
	}
}

type entry struct {
	tagID     string
	createdAt time.Time
	expiresAt time.Time
	secret    *secret // nil while locked
	timer     *clock.Timer
	gen       uint64
}

type expiry struct {
	tagID string
	gen   uint64
}

// Registry holds at most one session per tag. All mutations happen under
// one mutex; timers only enqueue expiry messages that a single loop
// goroutine applies.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	pending map[string]uint64
	seq     uint64
	gen     uint64
	closed  bool

	clock    clock.Clock
	logger   *zap.Logger
	expiries chan expiry
	quit     chan struct{}
	wg       sync.WaitGroup
}

// Option configures a Registry.
type Option func(*Registry)

// WithClock drives session timing; tests pass a *clock.Mock.
func WithClock(c clock.Clock) Option { return func(r *Registry) { r.clock = c } }

func WithLogger(l *zap.Logger) Option { return func(r *Registry) { r.logger = l } }

// NewRegistry starts the expiry loop. Call Close to stop it and wipe every
// secret.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		entries:  make(map[string]*entry),
		pending:  make(map[string]uint64),
		clock:    clock.New(),
		logger:   zap.NewNop(),
		expiries: make(chan expiry, 16),
		quit:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.wg.Add(1)
	go r.loop()
	return r
}

func (r *Registry) loop() {
	defer r.wg.Done()
	for {
		select {
		case ex := <-r.expiries:
			r.applyExpiry(ex)
		case <-r.quit:
			return
		}
	}
}

func (r *Registry) applyExpiry(ex expiry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[ex.tagID]
	if !ok || e.gen != ex.gen {
		return
	}
	if r.clock.Now().Before(e.expiresAt) {
		return
	}
	r.removeLocked(e, "expired")
}

// Begin marks tagID as authenticating and returns the ticket that a later
// Activate or Resume must present.
func (r *Registry) Begin(tagID string) Ticket {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seq++
	r.pending[tagID] = r.seq
	return Ticket{tagID: tagID, seq: r.seq}
}

// Cancel drops a ticket after a failed login.
func (r *Registry) Cancel(t Ticket) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.pending[t.tagID] == t.seq {
		delete(r.pending, t.tagID)
	}
}

// Activate stores key as the session secret for the ticket's tag and starts
// the expiry timer. Any existing session for the tag is wiped first. key is
// wiped before Activate returns, whatever the outcome.
func (r *Registry) Activate(t Ticket, key []byte, timeout time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.redeemLocked(t, key); err != nil {
		return err
	}
	if timeout <= 0 {
		wipe(key)
		return fmt.Errorf("%w: session timeout must be positive", errs.ErrInvalidInput)
	}
	if old, ok := r.entries[t.tagID]; ok {
		r.removeLocked(old, "replaced")
	}

	now := r.clock.Now()
	e := &entry{
		tagID:     t.tagID,
		createdAt: now,
		expiresAt: now.Add(timeout),
		secret:    newSecret(key),
	}
	r.entries[t.tagID] = e
	r.armLocked(e, timeout)
	r.logger.Info("session activated", zap.String("tag_id", t.tagID), zap.Duration("timeout", timeout))
	return nil
}

// Resume unlocks a locked session with the key from a fresh login. The
// session keeps its original expiry.
func (r *Registry) Resume(t Ticket, key []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.redeemLocked(t, key); err != nil {
		return err
	}
	e, ok := r.liveLocked(t.tagID)
	if !ok || e.secret != nil {
		wipe(key)
		return fmt.Errorf("%w: no locked session for tag", errs.ErrNotFound)
	}
	e.secret = newSecret(key)
	r.logger.Info("session resumed", zap.String("tag_id", t.tagID))
	return nil
}

// Extend resets the session's expiry to now+d.
func (r *Registry) Extend(tagID string, d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("%w: extension must be positive", errs.ErrInvalidInput)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.liveLocked(tagID)
	if !ok || e.secret == nil {
		return fmt.Errorf("%w: no active session for tag", errs.ErrNotFound)
	}
	e.expiresAt = r.clock.Now().Add(d)
	r.armLocked(e, d)
	r.logger.Debug("session extended", zap.String("tag_id", tagID), zap.Duration("by", d))
	return nil
}

// Lock wipes the session secret but keeps the session and its timing.
// Borrows in flight fail.
func (r *Registry) Lock(tagID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.liveLocked(tagID)
	if !ok {
		return fmt.Errorf("%w: no session for tag", errs.ErrNotFound)
	}
	r.lockLocked(e)
	return nil
}

// LockAll locks every session and invalidates outstanding tickets.
func (r *Registry) LockAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.entries {
		r.lockLocked(e)
	}
	clear(r.pending)
}

// Deactivate removes the session for tagID, if any, and invalidates an
// outstanding ticket for it.
func (r *Registry) Deactivate(tagID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, tagID)
	if e, ok := r.entries[tagID]; ok {
		r.removeLocked(e, "deactivated")
	}
}

// DeactivateAll removes every session. Tickets issued before the call can
// no longer be redeemed, so no login that started earlier survives it.
func (r *Registry) DeactivateAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deactivateAllLocked()
}

func (r *Registry) deactivateAllLocked() {
	clear(r.pending)
	for _, e := range r.entries {
		r.removeLocked(e, "deactivated")
	}
}

// RemainingTime returns the time left before expiry, or 0 if there is no
// live session. Locked sessions keep counting down.
func (r *Registry) RemainingTime(tagID string) time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.liveLocked(tagID)
	if !ok {
		return 0
	}
	return e.expiresAt.Sub(r.clock.Now())
}

// IsActive reports whether tagID has an unlocked, unexpired session.
func (r *Registry) IsActive(tagID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.liveLocked(tagID)
	return ok && e.secret != nil
}

// State returns the session state of tagID.
func (r *Registry) State(tagID string) State {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.liveLocked(tagID); ok {
		if e.secret == nil {
			return StateLocked
		}
		return StateActive
	}
	if _, ok := r.pending[tagID]; ok {
		return StateAuthenticating
	}
	return StateAbsent
}

// Sessions returns a snapshot of live sessions ordered by tag ID.
func (r *Registry) Sessions() []Info {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Info, 0, len(r.entries))
	for id := range r.entries {
		if e, ok := r.liveLocked(id); ok {
			out = append(out, Info{TagID: e.tagID, CreatedAt: e.createdAt, ExpiresAt: e.expiresAt, Locked: e.secret == nil})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TagID < out[j].TagID })
	return out
}

// Borrow runs fn with the session secret of tagID. It fails with
// errs.ErrSessionNotActive if the session is absent, locked or expired
// (expiry is checked here, not only by the timer), and also if the session
// is locked or removed while fn runs; fn's result is discarded then. fn
// must not keep secret after it returns.
func (r *Registry) Borrow(ctx context.Context, tagID string, fn func(secret []byte) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	e, ok := r.liveLocked(tagID)
	if !ok || e.secret == nil {
		r.mu.Unlock()
		return errs.ErrSessionNotActive
	}
	s := e.secret
	s.refs++
	r.mu.Unlock()

	err := fn(s.buf.Bytes())

	r.mu.Lock()
	s.release()
	stale := s.retired
	if !stale {
		// the timer may not have fired yet
		if e, ok := r.liveLocked(tagID); !ok || e.secret != s {
			stale = true
		}
	}
	r.mu.Unlock()

	if stale {
		return errs.ErrSessionNotActive
	}
	if err == nil {
		err = ctx.Err()
	}
	return err
}

// Close stops the expiry loop and wipes every session. The registry
// rejects new sessions afterwards.
func (r *Registry) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.deactivateAllLocked()
	r.mu.Unlock()

	close(r.quit)
	r.wg.Wait()
}

func (r *Registry) redeemLocked(t Ticket, key []byte) error {
	if r.closed {
		wipe(key)
		return fmt.Errorf("%w: registry closed", errs.ErrSessionNotActive)
	}
	if seq, ok := r.pending[t.tagID]; !ok || seq != t.seq {
		wipe(key)
		return fmt.Errorf("%w: login was cancelled", errs.ErrSessionNotActive)
	}
	delete(r.pending, t.tagID)
	if len(key) == 0 {
		return fmt.Errorf("%w: empty session key", errs.ErrInvalidInput)
	}
	return nil
}

// liveLocked returns the entry for tagID, removing it first if it has
// expired.
func (r *Registry) liveLocked(tagID string) (*entry, bool) {
	e, ok := r.entries[tagID]
	if !ok {
		return nil, false
	}
	if !r.clock.Now().Before(e.expiresAt) {
		r.removeLocked(e, "expired")
		return nil, false
	}
	return e, true
}

func (r *Registry) armLocked(e *entry, d time.Duration) {
	if e.timer != nil {
		e.timer.Stop()
	}
	r.gen++
	ex := expiry{tagID: e.tagID, gen: r.gen}
	e.gen = ex.gen
	e.timer = r.clock.AfterFunc(d, func() {
		select {
		case r.expiries <- ex:
		case <-r.quit:
		}
	})
}

func (r *Registry) lockLocked(e *entry) {
	if e.secret == nil {
		return
	}
	e.secret.retire()
	e.secret = nil
	r.logger.Info("session locked", zap.String("tag_id", e.tagID))
}

func (r *Registry) removeLocked(e *entry, reason string) {
	if e.timer != nil {
		e.timer.Stop()
	}
	if e.secret != nil {
		e.secret.retire()
		e.secret = nil
	}
	delete(r.entries, e.tagID)
	r.logger.Info("session removed", zap.String("tag_id", e.tagID), zap.String("reason", reason))
}

// newSecret moves key into locked memory; memguard wipes the source slice.
func newSecret(key []byte) *secret {
	return &secret{buf: memguard.NewBufferFromBytes(key)}
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
