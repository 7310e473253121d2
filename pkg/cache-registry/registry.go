// Package cacheregistry keeps track of what is stored in each named cache.
//
// Cache storage exposes neither the time a response was stored nor its size,
// so every write to a named cache is mirrored by an Entry in its registry.
// The trimmer reads the registry to decide what to evict.
package cacheregistry

import (
	"context"
	"sort"
	"time"
)

// UnknownSize is recorded for responses whose body cannot be measured (opaque responses).
const UnknownSize int64 = -1

// Entry is the metadata for a single cached response.
type Entry struct {
	CacheKey string
	CachedAt time.Time
	// Size in bytes, or UnknownSize.
	Size int64
}

// SizeKnown reports whether the entry takes part in size accounting.
func (e Entry) SizeKnown() bool {
	return e.Size >= 0
}

// Backend persists entries for all named caches.
//
// Implementations must be thread-safe!
type Backend interface {
	// Put upserts the entry for the key in the named cache.
	Put(ctx context.Context, cacheName string, entry Entry) error
	// Entries returns all entries of the named cache, in no particular order.
	Entries(ctx context.Context, cacheName string) ([]Entry, error)
	// Delete removes one entry. Deleting a missing entry is not an error.
	Delete(ctx context.Context, cacheName, cacheKey string) error
	// DeleteCache removes all entries of the named cache.
	DeleteCache(ctx context.Context, cacheName string) error
	// DeleteAll removes every entry of every cache.
	DeleteAll(ctx context.Context) error
}

// Registry is the view of a Backend for one named cache.
type Registry struct {
	name    string
	backend Backend
	now     func() time.Time
}

// New returns the registry for the named cache.
func New(backend Backend, cacheName string) *Registry {
	return &Registry{
		name:    cacheName,
		backend: backend,
		now:     time.Now,
	}
}

// WithClock returns a copy of the registry that timestamps entries with the given clock.
func (r *Registry) WithClock(now func() time.Time) *Registry {
	c := *r
	c.now = now
	return &c
}

// CacheName returns the name of the cache this registry tracks.
func (r *Registry) CacheName() string {
	return r.name
}

// Put records that the key was cached now. Use UnknownSize when the size cannot be measured.
func (r *Registry) Put(ctx context.Context, cacheKey string, size int64) error {
	if size < 0 {
		size = UnknownSize
	}
	return r.backend.Put(ctx, r.name, Entry{
		CacheKey: cacheKey,
		CachedAt: r.now(),
		Size:     size,
	})
}

// Entries returns all entries of the cache, oldest first.
func (r *Registry) Entries(ctx context.Context) ([]Entry, error) {
	entries, err := r.backend.Entries(ctx, r.name)
	if err != nil {
		return nil, err
	}
	SortOldestFirst(entries)
	return entries, nil
}

// Delete removes the entry for the key.
func (r *Registry) Delete(ctx context.Context, cacheKey string) error {
	return r.backend.Delete(ctx, r.name, cacheKey)
}

// Destroy removes every entry of this cache. It is used when the named cache itself is deleted.
func (r *Registry) Destroy(ctx context.Context) error {
	return r.backend.DeleteCache(ctx, r.name)
}

// DeleteAll wipes the registries of all caches.
func DeleteAll(ctx context.Context, backend Backend) error {
	return backend.DeleteAll(ctx)
}

// SortOldestFirst orders entries by the time they were cached, ties broken by key.
func SortOldestFirst(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].CachedAt.Equal(entries[j].CachedAt) {
			return entries[i].CacheKey < entries[j].CacheKey
		}
		return entries[i].CachedAt.Before(entries[j].CachedAt)
	})
}
