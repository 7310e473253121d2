package cache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stores(t *testing.T, opts ...Option) map[string]*Store {
	t.Helper()
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "cache.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	sqlite, err := NewSQLiteStore(db, opts...)
	require.NoError(t, err)
	return map[string]*Store{
		"memory": NewMemStore(opts...),
		"sqlite": sqlite,
	}
}

func response(url, body string) *http.Response {
	req, _ := http.NewRequest("GET", url, nil)
	return &http.Response{
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": {"text/plain"}},
		Body:       io.NopCloser(strings.NewReader(body)),
		Request:    req,
	}
}

func TestPutAndMatch(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			c, err := store.Open(ctx, "pages")
			require.NoError(t, err)

			res := response("https://example.com/", "Hello world")
			require.NoError(t, c.Put(ctx, "https://example.com/", res))

			// the stored response is still readable by the caller
			body, _ := io.ReadAll(res.Body)
			assert.Equal(t, "Hello world", string(body))

			cached, err := c.Match(ctx, "https://example.com/", MatchOptions{IgnoreVary: true})
			require.NoError(t, err)
			require.NotNil(t, cached)
			body, _ = io.ReadAll(cached.Body)
			assert.Equal(t, "Hello world", string(body))
			assert.Equal(t, "text/plain", cached.Header.Get("Content-Type"))

			missing, err := c.Match(ctx, "https://example.com/missing", MatchOptions{IgnoreVary: true})
			require.NoError(t, err)
			assert.Nil(t, missing)
		})
	}
}

func TestKeysAndDelete(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			c, err := store.Open(ctx, "pages")
			require.NoError(t, err)
			require.NoError(t, c.Put(ctx, "b", response("https://example.com/b", "b")))
			require.NoError(t, c.Put(ctx, "a", response("https://example.com/a", "a")))

			keys, err := c.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"a", "b"}, keys)

			deleted, err := c.Delete(ctx, "a")
			require.NoError(t, err)
			assert.True(t, deleted)
			deleted, err = c.Delete(ctx, "a")
			require.NoError(t, err)
			assert.False(t, deleted)

			keys, err = c.Keys(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"b"}, keys)
		})
	}
}

func TestNamedCachesAreIsolated(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			pages, err := store.Open(ctx, "pages")
			require.NoError(t, err)
			images, err := store.Open(ctx, "images")
			require.NoError(t, err)
			require.NoError(t, pages.Put(ctx, "k", response("https://example.com/", "page")))

			res, err := images.Match(ctx, "k", MatchOptions{IgnoreVary: true})
			require.NoError(t, err)
			assert.Nil(t, res)

			names, err := store.Names(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"images", "pages"}, names)

			existed, err := store.Delete(ctx, "pages")
			require.NoError(t, err)
			assert.True(t, existed)

			names, err = store.Names(ctx)
			require.NoError(t, err)
			assert.Equal(t, []string{"images"}, names)

			reopened, err := store.Open(ctx, "pages")
			require.NoError(t, err)
			keys, err := reopened.Keys(ctx)
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestLookupDoesNotCreate(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			missing, err := store.Lookup(ctx, "pages")
			require.NoError(t, err)
			assert.Nil(t, missing)
			names, err := store.Names(ctx)
			require.NoError(t, err)
			assert.Empty(t, names)

			_, err = store.Open(ctx, "pages")
			require.NoError(t, err)
			found, err := store.Lookup(ctx, "pages")
			require.NoError(t, err)
			require.NotNil(t, found)
			assert.Equal(t, "pages", found.Name())

			// deleting from a removed cache leaves it removed
			_, err = store.Delete(ctx, "pages")
			require.NoError(t, err)
			deleted, err := found.Delete(ctx, "k")
			require.NoError(t, err)
			assert.False(t, deleted)
			names, err = store.Names(ctx)
			require.NoError(t, err)
			assert.Empty(t, names)
		})
	}
}

func TestStoreRegistry(t *testing.T) {
	store := NewMemStore()
	assert.NotNil(t, store.Registry())
	assert.Equal(t, store.Registry(), store.Registry())
}

func TestQuota(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t, WithQuota(600)) {
		t.Run(name, func(t *testing.T) {
			c, err := store.Open(ctx, "big")
			require.NoError(t, err)
			require.NoError(t, c.Put(ctx, "small", response("https://example.com/small", "x")))

			err = c.Put(ctx, "large", response("https://example.com/large", strings.Repeat("x", 1000)))
			assert.True(t, errors.Is(err, ErrQuotaExceeded), "error is %v", err)

			// replacing an entry only counts the difference
			require.NoError(t, c.Put(ctx, "small", response("https://example.com/small", "y")))

			existed, err := store.Delete(ctx, "big")
			require.NoError(t, err)
			assert.True(t, existed)
			c, err = store.Open(ctx, "big")
			require.NoError(t, err)
			require.NoError(t, c.Put(ctx, "small", response("https://example.com/small", "x")))
		})
	}
}

func TestMatchVary(t *testing.T) {
	ctx := context.Background()
	for name, store := range stores(t) {
		t.Run(name, func(t *testing.T) {
			c, err := store.Open(ctx, "pages")
			require.NoError(t, err)
			res := response("https://example.com/", "gzipped")
			res.Header.Set("Vary", "Accept-Encoding")
			res.Request.Header.Set("Accept-Encoding", "gzip")
			require.NoError(t, c.Put(ctx, "k", res))

			other := http.Header{"Accept-Encoding": {"br"}}
			miss, err := c.Match(ctx, "k", MatchOptions{Header: other})
			require.NoError(t, err)
			assert.Nil(t, miss)

			same := http.Header{"Accept-Encoding": {"gzip"}}
			hit, err := c.Match(ctx, "k", MatchOptions{Header: same})
			require.NoError(t, err)
			assert.NotNil(t, hit)

			ignored, err := c.Match(ctx, "k", MatchOptions{IgnoreVary: true, Header: other})
			require.NoError(t, err)
			assert.NotNil(t, ignored)
		})
	}
}
