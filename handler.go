package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/metrics"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	cacheregistry "github.com/always-cache/offline-cache/pkg/cache-registry"
	cachestatus "github.com/always-cache/offline-cache/pkg/cache-status"
	cachetrimmer "github.com/always-cache/offline-cache/pkg/cache-trimmer"
	rangeresponse "github.com/always-cache/offline-cache/pkg/range-response"
	serializer "github.com/always-cache/offline-cache/pkg/response-serializer"
)

// Fetcher sends requests to the network. *http.Client implements it.
type Fetcher interface {
	Do(req *http.Request) (*http.Response, error)
}

// FetchOptions are applied to every network request of a strategy.
type FetchOptions struct {
	// ReferrerPolicy decides how much of the Referer header is forwarded:
	// "no-referrer", "origin", "same-origin", "origin-when-cross-origin",
	// "strict-origin-when-cross-origin". Empty forwards it as is.
	ReferrerPolicy string
	// Header fields added to the request.
	Header http.Header
}

// Config configures a strategy. Zero limits are not enforced.
type Config struct {
	// Name of the cache the strategy reads and writes. Required.
	CacheName string
	// Storage holding the named caches. Required.
	Storage cache.Storage
	// Registry backend recording what is stored. If nil, the backend of the Storage is used,
	// so that all strategies on one Storage share it. *cache.Store provides one.
	Registry cacheregistry.Backend
	// Fetcher for network requests. http.DefaultClient is used if nil.
	Fetcher Fetcher
	// NetworkTimeout after which NetworkFirst answers from the cache.
	NetworkTimeout time.Duration
	MaxAge         time.Duration
	MaxEntries     int
	// MaxEntrySize in bytes of a single response; larger responses are not cached.
	MaxEntrySize int64
	// MaxSize in bytes of all responses in the cache.
	MaxSize      int64
	FetchOptions FetchOptions
	// Keyer resolves relative request URLs.
	Keyer cachekey.CacheKeyer
	// Logger to use. The global zerolog logger is used if nil.
	Logger  *zerolog.Logger
	Metrics *metrics.Metrics
	// Clock used for registry timestamps and entry ages. time.Now if nil.
	Clock func() time.Time
}

// registryProvider is a Storage that comes with its own registry backend.
type registryProvider interface {
	Registry() cacheregistry.Backend
}

// Handler holds the fetch and cache primitives the strategies are built of.
type Handler struct {
	strategy     string
	cacheName    string
	storage      cache.Storage
	backend      cacheregistry.Backend
	registry     *cacheregistry.Registry
	trimmer      *cachetrimmer.Trimmer
	fetcher      Fetcher
	keyer        cachekey.CacheKeyer
	fetchOptions FetchOptions
	maxEntrySize int64
	log          zerolog.Logger
	metrics      *metrics.Metrics
}

// NewHandler validates the configuration and returns the primitives for it.
func NewHandler(strategy string, cfg Config) (*Handler, error) {
	if cfg.CacheName == "" {
		return nil, errors.New("cache name required")
	}
	if cfg.Storage == nil {
		return nil, fmt.Errorf("cache %s: storage required", cfg.CacheName)
	}
	if cfg.NetworkTimeout < 0 || cfg.MaxAge < 0 || cfg.MaxEntries < 0 || cfg.MaxEntrySize < 0 || cfg.MaxSize < 0 {
		return nil, fmt.Errorf("cache %s: limits must not be negative", cfg.CacheName)
	}

	logger := log.Logger
	if cfg.Logger != nil {
		logger = *cfg.Logger
	}
	logger = logger.With().
		Str("strategy", strategy).
		Str("cache", cfg.CacheName).
		Logger()

	backend := cfg.Registry
	if backend == nil {
		p, ok := cfg.Storage.(registryProvider)
		if !ok {
			return nil, fmt.Errorf("cache %s: registry required", cfg.CacheName)
		}
		backend = p.Registry()
	}
	fetcher := cfg.Fetcher
	if fetcher == nil {
		fetcher = http.DefaultClient
	}

	registry := cacheregistry.New(backend, cfg.CacheName)
	if cfg.Clock != nil {
		registry = registry.WithClock(cfg.Clock)
	}

	h := &Handler{
		strategy:     strategy,
		cacheName:    cfg.CacheName,
		storage:      cfg.Storage,
		backend:      backend,
		registry:     registry,
		fetcher:      fetcher,
		keyer:        cfg.Keyer,
		fetchOptions: cfg.FetchOptions,
		maxEntrySize: cfg.MaxEntrySize,
		log:          logger,
		metrics:      cfg.Metrics,
	}

	limits := cachetrimmer.Limits{
		MaxAge:     cfg.MaxAge,
		MaxEntries: cfg.MaxEntries,
		MaxSize:    cfg.MaxSize,
	}
	if limits.Enabled() {
		h.trimmer = cachetrimmer.New(&lazyCache{h}, registry, limits).WithLogger(logger)
		if cfg.Clock != nil {
			h.trimmer = h.trimmer.WithClock(cfg.Clock)
		}
	}
	return h, nil
}

// CacheName returns the name of the cache the handler works on.
func (h *Handler) CacheName() string {
	return h.cacheName
}

// FetchFromCache returns the stored response for the request, or nil.
// Vary header fields are ignored. A Range request is answered with the requested part
// of the stored response, and a redirected response is rebuilt without its redirect
// unless the request follows redirects.
func (h *Handler) FetchFromCache(ctx context.Context, req *http.Request) *http.Response {
	key := h.keyer.GetKey(req)
	c, err := h.storage.Lookup(ctx, h.cacheName)
	if err != nil {
		h.log.Error().Err(err).Msg("Could not open cache")
		return nil
	}
	if c == nil {
		h.log.Trace().Str("key", key).Msg("Cache miss, no cache")
		return nil
	}
	res, err := c.Match(ctx, key, cache.MatchOptions{IgnoreVary: true})
	if err != nil {
		h.log.Error().Err(err).Str("key", key).Msg("Could not read from cache")
		return nil
	}
	if res == nil {
		h.log.Trace().Str("key", key).Msg("Cache miss")
		return nil
	}

	status := cachestatus.Hit()
	if req.Header.Get("Range") != "" {
		partial, err := rangeresponse.BuildPartialResponse(req, res)
		if err != nil {
			h.log.Error().Err(err).Str("key", key).Msg("Could not build partial response")
			return nil
		}
		if partial != res {
			status = status.Detail("range")
		}
		res = partial
	}

	if h.redirected(req, res) && RedirectModeFrom(ctx) != RedirectFollow {
		h.log.Trace().Str("key", key).Msg("Removing redirect from cached response")
		res = withoutRedirect(req, res)
	}

	h.log.Debug().Str("key", key).Msg("Cache hit")
	status.Set(res)
	return res
}

// redirected reports whether the stored response was served for another URL than requested.
func (h *Handler) redirected(req *http.Request, res *http.Response) bool {
	if res.Request == nil || res.Request.URL == nil {
		return false
	}
	return cachekey.Normalize(res.Request.URL) != h.keyer.GetKey(req)
}

// FetchFromNetwork sends the request to the network with the configured fetch options.
// The Referer of the original request is forwarded. Errors are returned as is.
func (h *Handler) FetchFromNetwork(ctx context.Context, req *http.Request) (*http.Response, error) {
	out := req.Clone(ctx)
	out.RequestURI = ""
	if !req.URL.IsAbs() {
		out.URL = h.keyer.RequestURL(req)
		out.Host = ""
	}
	applyReferrerPolicy(h.fetchOptions.ReferrerPolicy, out)
	for name, values := range h.fetchOptions.Header {
		out.Header.Del(name)
		for _, v := range values {
			out.Header.Add(name, v)
		}
	}

	h.log.Trace().Str("url", out.URL.String()).Msg("Fetching from network")
	res, err := h.fetcher.Do(out)
	if err != nil {
		h.metrics.NetworkError(h.cacheName)
		return nil, fmt.Errorf("fetch %s: %w", out.URL, err)
	}
	return res, nil
}

// CanCacheResponse reports whether the response may be stored: status 200 or an opaque response.
func CanCacheResponse(res *http.Response) bool {
	return res != nil && (res.StatusCode == http.StatusOK || res.StatusCode == 0)
}

// SaveToCache stores the response, records it in the registry and trims the cache.
// The response body is buffered and set back.
// When the storage quota is exceeded, every cache and every registry is cleared
// and the error is returned.
func (h *Handler) SaveToCache(ctx context.Context, req *http.Request, res *http.Response) error {
	if !CanCacheResponse(res) {
		return nil
	}
	key := h.keyer.GetResponseKey(req, res)

	size, err := responseSize(res)
	if err != nil {
		return fmt.Errorf("measure response %s: %w", key, err)
	}
	if h.maxEntrySize > 0 {
		if size == cacheregistry.UnknownSize {
			h.log.Warn().Str("key", key).Msg("Not caching response of unknown size")
			h.metrics.Skip(h.cacheName, "size_unknown")
			return nil
		}
		if size > h.maxEntrySize {
			h.log.Info().Str("key", key).Int64("size", size).Msg("Not caching response larger than max entry size")
			h.metrics.Skip(h.cacheName, "too_large")
			return nil
		}
	}

	err = h.write(ctx, key, res, size)
	if errors.Is(err, cache.ErrQuotaExceeded) {
		h.log.Error().Err(err).Str("key", key).Msg("Storage quota exceeded, clearing all caches")
		h.metrics.QuotaReset()
		if clearErr := Clear(ctx, h.storage, h.backend); clearErr != nil {
			h.log.Error().Err(clearErr).Msg("Could not clear caches")
		}
	}
	if err != nil {
		return err
	}
	h.metrics.Store(h.cacheName)
	h.log.Debug().Str("key", key).Int64("size", size).Msg("Saved response to cache")
	return nil
}

// write stores the response and its registry entry concurrently, then trims.
func (h *Handler) write(ctx context.Context, key string, res *http.Response, size int64) error {
	c, err := h.storage.Open(ctx, h.cacheName)
	if err != nil {
		return fmt.Errorf("open cache %s: %w", h.cacheName, err)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return c.Put(gctx, key, res)
	})
	g.Go(func() error {
		return h.registry.Put(gctx, key, size)
	})
	if err := g.Wait(); err != nil {
		if !errors.Is(err, cache.ErrQuotaExceeded) {
			// one of the writes may have succeeded, drop both
			if _, delErr := c.Delete(ctx, key); delErr != nil {
				h.log.Error().Err(delErr).Str("key", key).Msg("Could not remove response")
			} else if delErr := h.registry.Delete(ctx, key); delErr != nil {
				h.log.Error().Err(delErr).Str("key", key).Msg("Could not remove registry entry")
			}
		}
		return err
	}
	return h.trim(ctx)
}

func (h *Handler) trim(ctx context.Context) error {
	if h.trimmer == nil {
		return nil
	}
	result, err := h.trimmer.Trim(ctx)
	h.metrics.Evict(h.cacheName, "age", len(result.Age))
	h.metrics.Evict(h.cacheName, "count", len(result.Count))
	h.metrics.Evict(h.cacheName, "size", len(result.Size))
	return err
}

// respond returns the network response to the caller and saves a copy of it in the background.
func (h *Handler) respond(ctx context.Context, req *http.Request, res *http.Response, reason cachestatus.FwdReason) (*http.Response, *Pending) {
	h.metrics.Response(h.strategy, h.cacheName, "network")
	if !CanCacheResponse(res) {
		cachestatus.Forward(reason).Set(res)
		return res, settled(nil)
	}
	clone, err := serializer.Clone(res)
	if err != nil {
		h.log.Error().Err(err).Msg("Could not read response body")
		return nil, settled(err)
	}
	cachestatus.Forward(reason).Stored().Set(res)
	return res, h.background(ctx, func(ctx context.Context) error {
		return h.SaveToCache(ctx, req, clone)
	})
}

// saveAndClose saves a response nobody else reads and releases it.
func (h *Handler) saveAndClose(ctx context.Context, req *http.Request, res *http.Response) error {
	if res.Body != nil {
		defer res.Body.Close()
	}
	return h.SaveToCache(ctx, req, res)
}

// background runs fn detached from the cancellation of ctx.
func (h *Handler) background(ctx context.Context, fn func(ctx context.Context) error) *Pending {
	ctx = context.WithoutCancel(ctx)
	done := h.metrics.Track()
	return goPending(func() error {
		defer done()
		return fn(ctx)
	})
}

// responseSize returns the size of the response body, or UnknownSize for opaque responses.
func responseSize(res *http.Response) (int64, error) {
	if res.StatusCode == 0 {
		return cacheregistry.UnknownSize, nil
	}
	if cl := res.Header.Get("Content-Length"); cl != "" {
		if size, err := strconv.ParseInt(cl, 10, 64); err == nil && size >= 0 {
			return size, nil
		}
	}
	body, err := serializer.BufferBody(res)
	if err != nil {
		return 0, err
	}
	return int64(len(body)), nil
}

func applyReferrerPolicy(policy string, req *http.Request) {
	referer := req.Header.Get("Referer")
	if referer == "" || policy == "" {
		return
	}
	ref, err := url.Parse(referer)
	if err != nil {
		req.Header.Del("Referer")
		return
	}
	origin := ref.Scheme + "://" + ref.Host + "/"
	sameOrigin := ref.Scheme == req.URL.Scheme && ref.Host == req.URL.Host
	downgrade := ref.Scheme == "https" && req.URL.Scheme != "https"

	switch policy {
	case "no-referrer":
		req.Header.Del("Referer")
	case "origin":
		req.Header.Set("Referer", origin)
	case "same-origin":
		if !sameOrigin {
			req.Header.Del("Referer")
		}
	case "origin-when-cross-origin":
		if !sameOrigin {
			req.Header.Set("Referer", origin)
		}
	case "strict-origin-when-cross-origin":
		if downgrade {
			req.Header.Del("Referer")
		} else if !sameOrigin {
			req.Header.Set("Referer", origin)
		}
	}
}

// lazyCache looks up the named cache for every delete, as it may have been removed in between.
// A removed cache is not created again.
type lazyCache struct {
	h *Handler
}

func (l *lazyCache) Delete(ctx context.Context, key string) (bool, error) {
	c, err := l.h.storage.Lookup(ctx, l.h.cacheName)
	if err != nil || c == nil {
		return false, err
	}
	return c.Delete(ctx, key)
}
