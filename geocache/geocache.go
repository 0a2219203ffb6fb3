// Package geocache implements a bounded, time-expiring cache whose
// lookups match on a (position, timestamp) tolerance window rather than
// an exact key. It answers "do we already have a fact close enough to
// this place and time to skip a remote call?".
//
// The cache persists through a kvstore.Store: one key holds the ordered
// index of live entry keys, and each entry lives under its own key. The
// durable store is authoritative; the cache keeps no in-memory state
// beyond an instance mutex serializing index read-modify-writes.
package geocache

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/roadbook/roadbook/kvstore"
	"github.com/roadbook/roadbook/session"
)

const (
	// DefaultMaxItems bounds the index after any purge/insert cycle.
	DefaultMaxItems = 20

	// DefaultEntryLifetime is how long an entry stays servable after
	// insertion. An explicit named value; expiry uses InsertedAt only.
	DefaultEntryLifetime = 5 * 24 * time.Hour
)

// Entry is one cached fact.
type Entry struct {
	Key        string            `json:"key"`
	Position   *session.GeoPoint `json:"position,omitempty"`
	SampleTime int64             `json:"sample_time"`
	InsertedAt int64             `json:"inserted_at"`
	Payload    json.RawMessage   `json:"payload"`
}

// Config tunes a Cache. Zero values fall back to defaults.
type Config struct {
	// Namespace prefixes every kvstore key; defaults to "geocache".
	Namespace string
	// MaxItems caps the index length; defaults to DefaultMaxItems.
	MaxItems int
	// EntryLifetime defaults to DefaultEntryLifetime.
	EntryLifetime time.Duration
	// Now overrides the clock, for tests.
	Now func() time.Time
}

// Cache is safe for concurrent use within one process. None of its
// operations return errors: persistence failures are logged and
// converted to a miss or a no-op, so a caller never needs a recovery
// path beyond "go ask the remote".
type Cache struct {
	store    kvstore.Store
	log      zerolog.Logger
	ns       string
	maxItems int
	lifetime time.Duration
	now      func() time.Time

	mu sync.Mutex // serializes index read-modify-write
}

// New creates a Cache over store.
func New(store kvstore.Store, logger zerolog.Logger, cfg Config) *Cache {
	if cfg.Namespace == "" {
		cfg.Namespace = "geocache"
	}
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultMaxItems
	}
	if cfg.EntryLifetime <= 0 {
		cfg.EntryLifetime = DefaultEntryLifetime
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Cache{
		store:    store,
		log:      logger.With().Str("component", "geocache").Logger(),
		ns:       cfg.Namespace,
		maxItems: cfg.MaxItems,
		lifetime: cfg.EntryLifetime,
		now:      cfg.Now,
	}
}

// Insert purges expired entries, durably stores payload under a
// freshly generated key, and prepends that key to the index, evicting
// the oldest survivor when the cache is full so the index never
// exceeds MaxItems. Returns the generated key, or "" when persistence
// failed (logged, not surfaced).
func (c *Cache) Insert(ctx context.Context, pos *session.GeoPoint, sampleTime int64, payload json.RawMessage) string {
	c.mu.Lock()
	defer c.mu.Unlock()

	index, ok := c.purgeLocked(ctx)
	if !ok {
		// Rewriting an unreadable index would orphan every stored
		// entry, so the insert becomes a logged no-op instead.
		return ""
	}

	nowMs := c.now().UnixMilli()
	// Timestamp plus a random suffix so rapid inserts cannot collide.
	key := fmt.Sprintf("%d-%s", nowMs, uuid.NewString()[:8])

	entry := Entry{
		Key:        key,
		Position:   pos,
		SampleTime: sampleTime,
		InsertedAt: nowMs,
		Payload:    payload,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		c.log.Error().Err(err).Str("op", "insert").Msg("marshal cache entry")
		return ""
	}
	if err := c.store.Set(ctx, c.entryKey(key), string(data)); err != nil {
		c.log.Error().Err(err).Str("op", "insert").Str("key", key).Msg("write cache entry")
		return ""
	}

	index = append([]string{key}, index...)
	if len(index) > c.maxItems {
		evicted := index[c.maxItems:]
		index = index[:c.maxItems]
		drop := make([]string, len(evicted))
		for i, k := range evicted {
			drop[i] = c.entryKey(k)
		}
		if err := c.store.RemoveMany(ctx, drop); err != nil {
			c.log.Error().Err(err).Str("op", "insert").Msg("remove evicted cache entries")
		}
	}
	c.writeIndex(ctx, "insert", index)
	return key
}

// FindApproximate returns the first live entry within tolerance of
// sampleTime and within radiusMeters of pos, or nil. A key named by the
// index whose entry cannot be read is logged as an error and skipped —
// lookup treats that as a data-integrity fault, unlike purge.
func (c *Cache) FindApproximate(ctx context.Context, pos session.GeoPoint, sampleTime int64, tolerance time.Duration, radiusMeters float64) *Entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	index, ok := c.readIndex(ctx, "find")
	if !ok || len(index) == 0 {
		return nil
	}

	nowMs := c.now().UnixMilli()
	radiusKm := radiusMeters / 1000.0

	for _, key := range index {
		entry, found, err := c.readEntry(ctx, key)
		if err != nil {
			c.log.Error().Err(err).Str("op", "find").Str("key", key).Msg("read cache entry")
			continue
		}
		if !found {
			c.log.Error().Str("op", "find").Str("key", key).Msg("index names missing entry")
			continue
		}
		if nowMs-entry.InsertedAt >= c.lifetime.Milliseconds() {
			continue
		}
		if absInt64(entry.SampleTime-sampleTime) > tolerance.Milliseconds() {
			continue
		}
		if entry.Position == nil {
			continue
		}
		if haversineKm(*entry.Position, pos) > radiusKm {
			continue
		}
		return entry
	}
	return nil
}

// PurgeExpired drops entries older than the configured lifetime, drops
// dangling index keys silently, caps the index to the most recently
// inserted MaxItems entries, and persists the trimmed index.
func (c *Cache) PurgeExpired(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	index, ok := c.purgeLocked(ctx)
	if !ok {
		return
	}
	c.writeIndex(ctx, "purge", index)
}

// purgeLocked runs the purge pass and returns the surviving index
// without persisting it; callers persist after any further mutation.
// Reports false when the index could not be read, in which case the
// caller must leave the stored index untouched. Must hold c.mu.
func (c *Cache) purgeLocked(ctx context.Context) ([]string, bool) {
	index, ok := c.readIndex(ctx, "purge")
	if !ok {
		return nil, false
	}

	nowMs := c.now().UnixMilli()
	type live struct {
		key        string
		insertedAt int64
	}
	var survivors []live
	var drop []string

	for _, key := range index {
		entry, found, err := c.readEntry(ctx, key)
		if err != nil || !found {
			// Dangling or unreadable key: already-expired as far as
			// purge is concerned, repair the index silently.
			c.log.Debug().Str("key", key).Msg("dropping dangling cache key")
			continue
		}
		if nowMs-entry.InsertedAt >= c.lifetime.Milliseconds() {
			drop = append(drop, c.entryKey(key))
			continue
		}
		survivors = append(survivors, live{key: key, insertedAt: entry.InsertedAt})
	}

	// Most recently inserted first; ties break on key bytes so the
	// order is deterministic even with coarse timestamps.
	sort.Slice(survivors, func(i, j int) bool {
		if survivors[i].insertedAt != survivors[j].insertedAt {
			return survivors[i].insertedAt > survivors[j].insertedAt
		}
		return survivors[i].key < survivors[j].key
	})

	for len(survivors) > c.maxItems {
		last := survivors[len(survivors)-1]
		drop = append(drop, c.entryKey(last.key))
		survivors = survivors[:len(survivors)-1]
	}

	if len(drop) > 0 {
		if err := c.store.RemoveMany(ctx, drop); err != nil {
			c.log.Error().Err(err).Str("op", "purge").Msg("remove expired cache entries")
		}
	}

	keys := make([]string, len(survivors))
	for i, s := range survivors {
		keys[i] = s.key
	}
	return keys, true
}

func (c *Cache) indexKey() string { return c.ns + ":index" }

func (c *Cache) entryKey(key string) string { return c.ns + ":entry:" + key }

func (c *Cache) readIndex(ctx context.Context, op string) ([]string, bool) {
	raw, found, err := c.store.Get(ctx, c.indexKey())
	if err != nil {
		c.log.Error().Err(err).Str("op", op).Msg("read cache index")
		return nil, false
	}
	if !found {
		return nil, true
	}
	var index []string
	if err := json.Unmarshal([]byte(raw), &index); err != nil {
		c.log.Error().Err(err).Str("op", op).Msg("decode cache index")
		return nil, false
	}
	return index, true
}

func (c *Cache) writeIndex(ctx context.Context, op string, index []string) {
	if index == nil {
		index = []string{}
	}
	data, err := json.Marshal(index)
	if err != nil {
		c.log.Error().Err(err).Str("op", op).Msg("marshal cache index")
		return
	}
	if err := c.store.Set(ctx, c.indexKey(), string(data)); err != nil {
		c.log.Error().Err(err).Str("op", op).Msg("write cache index")
	}
}

func (c *Cache) readEntry(ctx context.Context, key string) (*Entry, bool, error) {
	raw, found, err := c.store.Get(ctx, c.entryKey(key))
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	var entry Entry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return nil, false, err
	}
	return &entry, true, nil
}

func absInt64(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
