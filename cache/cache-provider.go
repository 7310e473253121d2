package cache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	cacheregistry "github.com/always-cache/offline-cache/pkg/cache-registry"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
)

// ErrQuotaExceeded is returned by Put when storing a response would take the
// storage over its quota. Callers are expected to free space before retrying.
var ErrQuotaExceeded = errors.New("cache storage quota exceeded")

// Storage is a collection of named caches.
// Named caches are isolated from each other: the same key may be stored in many of them.
//
// Implementations must be thread-safe!
type Storage interface {
	// Open returns the named cache, creating it if it does not exist.
	Open(ctx context.Context, name string) (Cache, error)
	// Lookup returns the named cache, or nil if it does not exist.
	Lookup(ctx context.Context, name string) (Cache, error)
	// Names lists all existing caches.
	Names(ctx context.Context) ([]string, error)
	// Delete removes the named cache and everything stored in it.
	// It reports whether the cache existed.
	Delete(ctx context.Context, name string) (bool, error)
}

// Cache stores HTTP responses under string keys, usually normalized URLs.
type Cache interface {
	Name() string
	// Match returns the response stored under the key, or nil if there is none.
	Match(ctx context.Context, key string, opts MatchOptions) (*http.Response, error)
	// Put stores the response under the key, replacing any previous response.
	// The response body is consumed and set back.
	Put(ctx context.Context, key string, res *http.Response) error
	// Delete removes the response stored under the key and reports whether there was one.
	Delete(ctx context.Context, key string) (bool, error)
	// Keys returns all keys of the cache.
	Keys(ctx context.Context) ([]string, error)
}

// MatchOptions control how a stored response is selected.
type MatchOptions struct {
	// IgnoreVary disables matching of the header fields listed in the stored Vary header.
	IgnoreVary bool
	// Header contains the request header fields to compare against the stored request.
	Header http.Header
}

// provider is the byte level storage behind a Store.
type provider interface {
	create(ctx context.Context, name string) error
	exists(ctx context.Context, name string) (bool, error)
	names(ctx context.Context) ([]string, error)
	drop(ctx context.Context, name string) (bool, error)
	get(ctx context.Context, name, key string) ([]byte, bool, error)
	// put must fail with ErrQuotaExceeded if quota > 0 and the total stored bytes would exceed it.
	put(ctx context.Context, name, key string, b []byte, quota int64) error
	purge(ctx context.Context, name, key string) (bool, error)
	keys(ctx context.Context, name string) ([]string, error)
}

// Option configures a Store.
type Option func(*Store)

// WithQuota limits the total number of bytes stored across all caches.
// Zero means unlimited.
func WithQuota(bytes int64) Option {
	return func(s *Store) {
		s.quota = bytes
	}
}

// WithRegistry sets the registry backend returned by Registry.
func WithRegistry(backend cacheregistry.Backend) Option {
	return func(s *Store) {
		s.registry = backend
	}
}

// Store implements Storage on top of a provider.
type Store struct {
	p        provider
	quota    int64
	registry cacheregistry.Backend
}

func newStore(p provider, opts []Option) *Store {
	s := &Store{p: p}
	for _, opt := range opts {
		opt(s)
	}
	if s.registry == nil {
		s.registry = cacheregistry.NewMemory()
	}
	return s
}

// Registry returns the registry backend shared by everything using this store.
// Unless set with WithRegistry, it is kept in memory.
func (s *Store) Registry() cacheregistry.Backend {
	return s.registry
}

func (s *Store) Open(ctx context.Context, name string) (Cache, error) {
	if name == "" {
		return nil, errors.New("cache name required")
	}
	if err := s.p.create(ctx, name); err != nil {
		return nil, fmt.Errorf("open cache %s: %w", name, err)
	}
	return &NamedCache{name: name, store: s}, nil
}

func (s *Store) Lookup(ctx context.Context, name string) (Cache, error) {
	ok, err := s.p.exists(ctx, name)
	if err != nil || !ok {
		return nil, err
	}
	return &NamedCache{name: name, store: s}, nil
}

func (s *Store) Names(ctx context.Context) ([]string, error) {
	return s.p.names(ctx)
}

func (s *Store) Delete(ctx context.Context, name string) (bool, error) {
	return s.p.drop(ctx, name)
}

// NamedCache is a single cache of a Store.
type NamedCache struct {
	name  string
	store *Store
}

func (c *NamedCache) Name() string {
	return c.name
}

func (c *NamedCache) Match(ctx context.Context, key string, opts MatchOptions) (*http.Response, error) {
	b, ok, err := c.store.p.get(ctx, c.name, key)
	if err != nil || !ok {
		return nil, err
	}
	res, err := serializer.BytesToResponse(b)
	if err != nil {
		return nil, fmt.Errorf("decode stored response %s: %w", key, err)
	}
	if !opts.IgnoreVary && !headerFieldsMatch(opts.Header, res) {
		return nil, nil
	}
	return res, nil
}

func (c *NamedCache) Put(ctx context.Context, key string, res *http.Response) error {
	b, err := serializer.ResponseToBytes(res)
	if err != nil {
		return fmt.Errorf("encode response %s: %w", key, err)
	}
	return c.store.p.put(ctx, c.name, key, b, c.store.quota)
}

func (c *NamedCache) Delete(ctx context.Context, key string) (bool, error) {
	return c.store.p.purge(ctx, c.name, key)
}

func (c *NamedCache) Keys(ctx context.Context) ([]string, error) {
	return c.store.p.keys(ctx, c.name)
}

// headerFieldsMatch checks that the header fields nominated by the stored response's Vary
// header have the same values in the new request as in the request that produced it.
func headerFieldsMatch(header http.Header, stored *http.Response) bool {
	var storedHeader http.Header
	if stored.Request != nil {
		storedHeader = stored.Request.Header
	}
	for _, name := range getListHeader(stored.Header, "Vary") {
		if name == "*" {
			return false
		}
		if header.Get(name) != storedHeader.Get(name) {
			return false
		}
	}
	return true
}

func getListHeader(header http.Header, field string) []string {
	list := make([]string, 0)
	for _, hdr := range header.Values(field) {
		for _, item := range strings.Split(hdr, ",") {
			if item = strings.TrimSpace(item); item != "" {
				list = append(list, item)
			}
		}
	}
	return list
}
