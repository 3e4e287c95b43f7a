// Package tagcache mirrors tag metadata locally. Whether secret tags may
// be persisted is decided by the cache's security Mode.
package tagcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atinyakov/tagkeeper/internal/errs"
	"github.com/atinyakov/tagkeeper/internal/kvstore"
	"github.com/atinyakov/tagkeeper/internal/models"
)

const (
	secretPrefix  = "tags/secret/"
	regularPrefix = "tags/regular/"
	syncedAtKey   = "tags/meta/secret_synced_at"
)

// TagAPI is the part of the server API the cache reconciles against.
type TagAPI interface {
	ListSecretTags(ctx context.Context) ([]models.Tag, error)
	DeleteSecretTag(ctx context.Context, tagID string) error
}

// Registrar runs the server registration for a new secret tag and returns
// the acknowledged tag.
type Registrar func(ctx context.Context) (models.Tag, error)

// SyncResult counts the changes applied by SyncWithServer.
type SyncResult struct {
	Added   int
	Removed int
	Updated int
}

// Cache holds secret tags in memory and, in modes that allow it, in the
// key-value store. Regular tags are always persisted.
type Cache struct {
	mu        sync.Mutex
	store     kvstore.Store
	api       TagAPI
	mode      Mode
	secret    map[string]models.CacheEntry
	loaded    bool
	integrity models.Integrity

	// rev counts local writes; touched records the rev of the last local
	// write per tag so a sync does not undo changes made while it ran.
	rev     uint64
	touched map[string]uint64

	now    func() time.Time
	logger *zap.Logger
}

// Option configures a Cache.
type Option func(*Cache)

func WithLogger(l *zap.Logger) Option { return func(c *Cache) { c.logger = l } }

func WithClock(now func() time.Time) Option { return func(c *Cache) { c.now = now } }

// New creates a cache. If mode does not persist secret tags, anything left
// on disk by an earlier mode is purged right away.
func New(store kvstore.Store, api TagAPI, mode Mode, opts ...Option) (*Cache, error) {
	c := &Cache{
		store:     store,
		api:       api,
		mode:      mode,
		secret:    make(map[string]models.CacheEntry),
		touched:   make(map[string]uint64),
		integrity: models.IntegrityUnknown,
		now:       time.Now,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if cs, ok := store.(interface{ Corrupted() bool }); ok && cs.Corrupted() {
		c.logger.Warn("local store was unreadable at open, cache integrity is corrupted")
		c.integrity = models.IntegrityCorrupted
	}
	if !mode.PersistsSecretTags() {
		if err := c.purgePersistedLocked(); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// Mode returns the current security mode.
func (c *Cache) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Integrity reports the state of the last read from persistent storage.
func (c *Cache) Integrity() models.Integrity {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.integrity
}

// GetSecretTags lists secret tags. In online modes it always asks the
// server. In offline modes it serves the cache and only goes to the server
// when the cache is empty.
func (c *Cache) GetSecretTags(ctx context.Context) ([]models.Tag, error) {
	c.mu.Lock()
	persist := c.mode.PersistsSecretTags()
	if persist {
		c.loadLocked()
		if len(c.secret) > 0 {
			out := c.tagsLocked()
			c.mu.Unlock()
			return out, nil
		}
	}
	c.mu.Unlock()

	if _, err := c.SyncWithServer(ctx); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tagsLocked(), nil
}

// CreateSecretTag validates name, runs register and records the tag only
// after the server acknowledged it.
func (c *Cache) CreateSecretTag(ctx context.Context, name string, register Registrar) (models.Tag, error) {
	if err := models.ValidateTagName(name); err != nil {
		return models.Tag{}, err
	}
	c.mu.Lock()
	c.loadLocked()
	for _, e := range c.secret {
		if models.SameName(e.Tag.Name, name) {
			c.mu.Unlock()
			return models.Tag{}, fmt.Errorf("%w: %q", errs.ErrDuplicateName, name)
		}
	}
	c.mu.Unlock()

	tag, err := register(ctx)
	if err != nil {
		return models.Tag{}, err
	}
	if tag.ID == "" {
		return models.Tag{}, fmt.Errorf("%w: server returned a tag without an id", errs.ErrProtocolMismatch)
	}
	tag.Secret = true

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.putLocked(tag); err != nil {
		return models.Tag{}, err
	}
	c.logger.Info("secret tag created", zap.String("tag_id", tag.ID))
	return tag, nil
}

// DeleteSecretTag deletes the tag on the server, then locally. A tag the
// server no longer knows is purged locally too.
func (c *Cache) DeleteSecretTag(ctx context.Context, tagID string) error {
	err := c.api.DeleteSecretTag(ctx, tagID)
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if rmErr := c.removeLocked(tagID); rmErr != nil {
		return rmErr
	}
	return err
}

// ClearCache drops every secret-tag entry from memory and disk.
func (c *Cache) ClearCache() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.secret)
	c.loaded = true
	c.integrity = models.IntegrityUnknown
	if err := c.purgePersistedLocked(); err != nil {
		return err
	}
	c.logger.Info("secret tag cache cleared")
	return nil
}

// SyncWithServer replaces the local secret-tag set with the server's:
// entries missing on the server are purged, new ones are added. Tags
// created or deleted locally while the listing was in flight keep their
// local state.
func (c *Cache) SyncWithServer(ctx context.Context) (SyncResult, error) {
	c.mu.Lock()
	start := c.rev
	c.mu.Unlock()

	tags, err := c.api.ListSecretTags(ctx)
	if err != nil {
		return SyncResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.loadLocked()

	now := c.now().UTC()
	var res SyncResult
	seen := make(map[string]bool, len(tags))
	for _, t := range tags {
		if t.ID == "" || t.Deleted {
			continue
		}
		t.Secret = true
		seen[t.ID] = true
		if c.touched[t.ID] > start {
			continue
		}
		prev, ok := c.secret[t.ID]
		switch {
		case !ok:
			res.Added++
		case prev.Tag.Version != t.Version || prev.Tag.Name != t.Name || prev.Tag.ColorCode != t.ColorCode:
			res.Updated++
		}
		c.secret[t.ID] = models.CacheEntry{TagID: t.ID, Tag: t, LastSyncedAt: now, Integrity: models.IntegrityValid}
	}
	for id := range c.secret {
		if !seen[id] && c.touched[id] <= start {
			delete(c.secret, id)
			res.Removed++
		}
	}
	for id, r := range c.touched {
		if r <= start {
			delete(c.touched, id)
		}
	}

	if c.mode.PersistsSecretTags() {
		if err := c.persistAllLocked(now); err != nil {
			return res, err
		}
	}
	c.integrity = models.IntegrityValid
	c.logger.Info("secret tags synced",
		zap.Int("added", res.Added), zap.Int("removed", res.Removed), zap.Int("updated", res.Updated))
	return res, nil
}

// LastSyncedAt returns the time of the last persisted sync.
func (c *Cache) LastSyncedAt() (time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	raw, ok, err := c.store.Get(syncedAtKey)
	if err != nil || !ok {
		return time.Time{}, false
	}
	var ts time.Time
	if err := ts.UnmarshalText(raw); err != nil {
		return time.Time{}, false
	}
	return ts, true
}

// SetMode switches the security mode. Moving to a mode that does not
// persist secret tags purges them from disk; the in-memory set is kept.
func (c *Cache) SetMode(m Mode) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !m.PersistsSecretTags() {
		if err := c.purgePersistedLocked(); err != nil {
			return err
		}
	}
	c.logger.Info("security mode changed", zap.String("from", c.mode.String()), zap.String("to", m.String()))
	c.mode = m
	return nil
}

// OnBackground applies the mode's background policy.
func (c *Cache) OnBackground() error {
	c.mu.Lock()
	mode := c.mode
	if !mode.RetainsOnBackground() {
		clear(c.secret)
		c.loaded = false
	}
	c.mu.Unlock()

	if mode.ClearsOnBackground() {
		return c.ClearCache()
	}
	return nil
}

// UpsertRegularTag stores a regular tag.
func (c *Cache) UpsertRegularTag(t models.Tag) error {
	if t.ID == "" {
		return fmt.Errorf("%w: regular tag without id", errs.ErrInvalidInput)
	}
	if err := models.ValidateTagName(t.Name); err != nil {
		return err
	}
	t.Secret = false
	raw, err := json.Marshal(models.CacheEntry{TagID: t.ID, Tag: t, LastSyncedAt: c.now().UTC(), Integrity: models.IntegrityValid})
	if err != nil {
		return fmt.Errorf("encode regular tag: %w", err)
	}
	return c.store.Set(regularPrefix+t.ID, raw)
}

// RegularTags lists persisted regular tags sorted by name. Entries that
// fail to decode are skipped and logged.
func (c *Cache) RegularTags() ([]models.Tag, error) {
	keys, err := c.store.Keys(regularPrefix)
	if err != nil {
		return nil, err
	}
	out := make([]models.Tag, 0, len(keys))
	for _, k := range keys {
		e, err := c.readEntry(k, regularPrefix)
		if err != nil {
			c.logger.Warn("skipping corrupted regular tag", zap.String("key", k), zap.Error(err))
			continue
		}
		out = append(out, e.Tag)
	}
	sortTags(out)
	return out, nil
}

// RemoveRegularTag deletes a regular tag.
func (c *Cache) RemoveRegularTag(tagID string) error {
	return c.store.Delete(regularPrefix + tagID)
}

// loadLocked reads persisted secret entries once. A corrupted entry marks
// the cache corrupted and the cache is served as empty until a sync
// rewrites it.
func (c *Cache) loadLocked() {
	if c.loaded {
		return
	}
	c.loaded = true
	if !c.mode.PersistsSecretTags() {
		return
	}
	keys, err := c.store.Keys(secretPrefix)
	if err != nil {
		c.logger.Warn("listing cached secret tags failed", zap.Error(err))
		c.integrity = models.IntegrityCorrupted
		return
	}
	loaded := make(map[string]models.CacheEntry, len(keys))
	for _, k := range keys {
		e, err := c.readEntry(k, secretPrefix)
		if err != nil {
			c.logger.Warn("secret tag cache is corrupted, treating it as empty", zap.String("key", k), zap.Error(err))
			c.integrity = models.IntegrityCorrupted
			clear(c.secret)
			return
		}
		loaded[e.TagID] = e
	}
	for id, e := range loaded {
		c.secret[id] = e
	}
	if len(keys) > 0 {
		c.integrity = models.IntegrityValid
	}
}

func (c *Cache) readEntry(key, prefix string) (models.CacheEntry, error) {
	raw, ok, err := c.store.Get(key)
	if err != nil {
		return models.CacheEntry{}, fmt.Errorf("%w: %v", errs.ErrCacheCorrupted, err)
	}
	if !ok {
		return models.CacheEntry{}, fmt.Errorf("%w: %s vanished", errs.ErrCacheCorrupted, key)
	}
	var e models.CacheEntry
	if err := json.Unmarshal(raw, &e); err != nil {
		return models.CacheEntry{}, fmt.Errorf("%w: %v", errs.ErrCacheCorrupted, err)
	}
	if e.TagID == "" || e.TagID != e.Tag.ID || key != prefix+e.TagID {
		return models.CacheEntry{}, fmt.Errorf("%w: entry does not match key %s", errs.ErrCacheCorrupted, key)
	}
	return e, nil
}

func (c *Cache) putLocked(t models.Tag) error {
	e := models.CacheEntry{TagID: t.ID, Tag: t, LastSyncedAt: c.now().UTC(), Integrity: models.IntegrityValid}
	if c.mode.PersistsSecretTags() {
		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode secret tag: %w", err)
		}
		if err := c.store.Set(secretPrefix+t.ID, raw); err != nil {
			return err
		}
	}
	c.secret[t.ID] = e
	c.touchLocked(t.ID)
	return nil
}

func (c *Cache) removeLocked(tagID string) error {
	delete(c.secret, tagID)
	c.touchLocked(tagID)
	return c.store.Delete(secretPrefix + tagID)
}

func (c *Cache) touchLocked(tagID string) {
	c.rev++
	c.touched[tagID] = c.rev
}

func (c *Cache) persistAllLocked(now time.Time) error {
	keys, err := c.store.Keys(secretPrefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if _, ok := c.secret[strings.TrimPrefix(k, secretPrefix)]; !ok {
			if err := c.store.Delete(k); err != nil {
				return err
			}
		}
	}
	for id, e := range c.secret {
		raw, err := json.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode secret tag: %w", err)
		}
		if err := c.store.Set(secretPrefix+id, raw); err != nil {
			return err
		}
	}
	ts, err := now.MarshalText()
	if err != nil {
		return err
	}
	return c.store.Set(syncedAtKey, ts)
}

func (c *Cache) purgePersistedLocked() error {
	keys, err := c.store.Keys(secretPrefix)
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := c.store.Delete(k); err != nil {
			return err
		}
	}
	return c.store.Delete(syncedAtKey)
}

func (c *Cache) tagsLocked() []models.Tag {
	out := make([]models.Tag, 0, len(c.secret))
	for _, e := range c.secret {
		out = append(out, e.Tag)
	}
	sortTags(out)
	return out
}

func sortTags(ts []models.Tag) {
	sort.Slice(ts, func(i, j int) bool {
		a, b := models.FoldName(ts[i].Name), models.FoldName(ts[j].Name)
		if a != b {
			return a < b
		}
		return ts[i].ID < ts[j].ID
	})
}
