// Package cachetrimmer evicts entries from a named cache by age, count and total size.
package cachetrimmer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	cacheregistry "github.com/always-cache/offline-cache/pkg/cache-registry"
)

// Deleter removes stored responses. cache.Cache implements it.
type Deleter interface {
	Delete(ctx context.Context, key string) (bool, error)
}

// Limits configure the eviction passes. A zero value disables the pass.
type Limits struct {
	// Entries older than MaxAge are evicted regardless of the other limits.
	MaxAge time.Duration
	// At most MaxEntries entries are kept, the oldest are evicted first.
	MaxEntries int
	// The total size of entries with a known size is kept at or below MaxSize.
	MaxSize int64
}

// Enabled reports whether any pass is configured.
func (l Limits) Enabled() bool {
	return l.MaxAge > 0 || l.MaxEntries > 0 || l.MaxSize > 0
}

// Result lists the evicted keys per pass.
type Result struct {
	Age   []string
	Count []string
	Size  []string
}

// Total returns the number of evicted entries.
func (r Result) Total() int {
	return len(r.Age) + len(r.Count) + len(r.Size)
}

type Trimmer struct {
	cache    Deleter
	registry *cacheregistry.Registry
	limits   Limits
	now      func() time.Time
	log      zerolog.Logger
}

func New(cache Deleter, registry *cacheregistry.Registry, limits Limits) *Trimmer {
	return &Trimmer{
		cache:    cache,
		registry: registry,
		limits:   limits,
		now:      time.Now,
		log:      log.Logger,
	}
}

// WithClock returns a copy of the trimmer that computes entry ages with the given clock.
func (t *Trimmer) WithClock(now func() time.Time) *Trimmer {
	c := *t
	c.now = now
	return &c
}

// WithLogger returns a copy of the trimmer logging to the given logger.
func (t *Trimmer) WithLogger(logger zerolog.Logger) *Trimmer {
	c := *t
	c.log = logger
	return &c
}

// locks serializes trims per cache name.
var locks sync.Map

func lockCache(name string) func() {
	m, _ := locks.LoadOrStore(name, &sync.Mutex{})
	mutex := m.(*sync.Mutex)
	mutex.Lock()
	return mutex.Unlock
}

// Trim runs the age, count and size passes, in that order.
// Every pass deletes from both the cache and the registry before the next pass reads the registry.
func (t *Trimmer) Trim(ctx context.Context) (Result, error) {
	var result Result
	if !t.limits.Enabled() {
		return result, nil
	}
	defer lockCache(t.registry.CacheName())()

	var err error
	if t.limits.MaxAge > 0 {
		if result.Age, err = t.trimAge(ctx); err != nil {
			return result, err
		}
	}
	if t.limits.MaxEntries > 0 {
		if result.Count, err = t.trimCount(ctx); err != nil {
			return result, err
		}
	}
	if t.limits.MaxSize > 0 {
		if result.Size, err = t.trimSize(ctx); err != nil {
			return result, err
		}
	}
	if result.Total() > 0 {
		t.log.Debug().
			Str("cache", t.registry.CacheName()).
			Int("age", len(result.Age)).
			Int("count", len(result.Count)).
			Int("size", len(result.Size)).
			Msg("Trimmed cache")
	}
	return result, nil
}

func (t *Trimmer) trimAge(ctx context.Context) ([]string, error) {
	entries, err := t.registry.Entries(ctx)
	if err != nil {
		return nil, err
	}
	now := t.now()
	evicted := make([]string, 0)
	for _, e := range entries {
		if now.Sub(e.CachedAt) > t.limits.MaxAge {
			if err := t.evict(ctx, e.CacheKey); err != nil {
				return evicted, err
			}
			evicted = append(evicted, e.CacheKey)
		}
	}
	return evicted, nil
}

func (t *Trimmer) trimCount(ctx context.Context) ([]string, error) {
	entries, err := t.registry.Entries(ctx)
	if err != nil {
		return nil, err
	}
	evicted := make([]string, 0)
	for i := 0; i < len(entries)-t.limits.MaxEntries; i++ {
		if err := t.evict(ctx, entries[i].CacheKey); err != nil {
			return evicted, err
		}
		evicted = append(evicted, entries[i].CacheKey)
	}
	return evicted, nil
}

// trimSize counts entries of unknown size as zero and never evicts them.
func (t *Trimmer) trimSize(ctx context.Context) ([]string, error) {
	entries, err := t.registry.Entries(ctx)
	if err != nil {
		return nil, err
	}
	var total int64
	for _, e := range entries {
		if e.SizeKnown() {
			total += e.Size
		}
	}
	evicted := make([]string, 0)
	for _, e := range entries {
		if total <= t.limits.MaxSize {
			break
		}
		if !e.SizeKnown() {
			continue
		}
		if err := t.evict(ctx, e.CacheKey); err != nil {
			return evicted, err
		}
		evicted = append(evicted, e.CacheKey)
		total -= e.Size
	}
	return evicted, nil
}

// evict deletes the stored response before its registry entry,
// so a failed delete never leaves a response without metadata.
func (t *Trimmer) evict(ctx context.Context, key string) error {
	if _, err := t.cache.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete %s from cache %s: %w", key, t.registry.CacheName(), err)
	}
	if err := t.registry.Delete(ctx, key); err != nil {
		return fmt.Errorf("delete %s from registry %s: %w", key, t.registry.CacheName(), err)
	}
	t.log.Trace().Str("cache", t.registry.CacheName()).Str("key", key).Msg("Evicted entry")
	return nil
}
