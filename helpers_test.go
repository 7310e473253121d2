package offlinecache

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/always-cache/offline-cache/cache"
	cacheregistry "github.com/always-cache/offline-cache/pkg/cache-registry"
)

var errOffline = errors.New("offline")

// fetcher counts network requests and answers them with fn.
type fetcher struct {
	calls atomic.Int32
	fn    func(req *http.Request) (*http.Response, error)
}

func (f *fetcher) Do(req *http.Request) (*http.Response, error) {
	f.calls.Add(1)
	return f.fn(req)
}

func serve(contentType, body string) *fetcher {
	return &fetcher{fn: func(req *http.Request) (*http.Response, error) {
		return response(req, http.StatusOK, contentType, body), nil
	}}
}

func offline() *fetcher {
	return &fetcher{fn: func(req *http.Request) (*http.Response, error) {
		return nil, errOffline
	}}
}

func response(req *http.Request, status int, contentType, body string) *http.Response {
	return &http.Response{
		Status:        strconv.Itoa(status) + " " + http.StatusText(status),
		StatusCode:    status,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        http.Header{"Content-Type": {contentType}},
		Body:          io.NopCloser(strings.NewReader(body)),
		ContentLength: int64(len(body)),
		Request:       req,
	}
}

func get(t *testing.T, url string) *http.Request {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	return req
}

func readBody(t *testing.T, res *http.Response) string {
	t.Helper()
	require.NotNil(t, res)
	b, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	res.Body.Close()
	return string(b)
}

type env struct {
	storage *cache.Store
	backend cacheregistry.Backend
	now     time.Time
	mutex   sync.Mutex
}

func newEnv(opts ...cache.Option) *env {
	return &env{
		storage: cache.NewMemStore(opts...),
		backend: cacheregistry.NewMemory(),
		now:     time.Unix(1000, 0),
	}
}

func (e *env) clock() time.Time {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	return e.now
}

func (e *env) advance(d time.Duration) {
	e.mutex.Lock()
	defer e.mutex.Unlock()
	e.now = e.now.Add(d)
}

func (e *env) config(name string, f Fetcher) Config {
	logger := zerolog.Nop()
	return Config{
		CacheName: name,
		Storage:   e.storage,
		Registry:  e.backend,
		Fetcher:   f,
		Logger:    &logger,
		Clock:     e.clock,
	}
}

func (e *env) keys(t *testing.T, name string) []string {
	t.Helper()
	c, err := e.storage.Open(context.Background(), name)
	require.NoError(t, err)
	keys, err := c.Keys(context.Background())
	require.NoError(t, err)
	return keys
}

func (e *env) entries(t *testing.T, name string) []cacheregistry.Entry {
	t.Helper()
	entries, err := cacheregistry.New(e.backend, name).Entries(context.Background())
	require.NoError(t, err)
	return entries
}

// prime stores a response for the URL.
func (e *env) prime(t *testing.T, name, url, contentType, body string) {
	t.Helper()
	h, err := NewHandler("test", e.config(name, offline()))
	require.NoError(t, err)
	req := get(t, url)
	require.NoError(t, h.SaveToCache(context.Background(), req, response(req, http.StatusOK, contentType, body)))
}
