package offlinecache

import (
	"context"
	"net/http"

	"golang.org/x/sync/singleflight"

	cachestatus "github.com/always-cache/offline-cache/pkg/cache-status"
)

// StaleWhileRevalidate answers from the cache and updates the cache from the network
// in the background. On a miss it answers from the network.
type StaleWhileRevalidate struct {
	*Handler
	revalidations singleflight.Group
}

func NewStaleWhileRevalidate(cfg Config) (*StaleWhileRevalidate, error) {
	h, err := NewHandler(StrategyStaleWhileRevalidate, cfg)
	if err != nil {
		return nil, err
	}
	return &StaleWhileRevalidate{Handler: h}, nil
}

func (s *StaleWhileRevalidate) Handle(ctx context.Context, req *http.Request) (*http.Response, *Pending) {
	if res := s.FetchFromCache(ctx, req); res != nil {
		s.metrics.Response(s.strategy, s.cacheName, "cache")
		return res, s.background(ctx, func(ctx context.Context) error {
			s.revalidate(ctx, req)
			return nil
		})
	}
	res, err := s.FetchFromNetwork(ctx, req)
	if err != nil {
		s.log.Debug().Err(err).Msg("No response")
		s.metrics.Response(s.strategy, s.cacheName, "none")
		return nil, settled(nil)
	}
	return s.respond(ctx, req, res, cachestatus.FwdUriMiss)
}

// revalidate refreshes the cached response. Concurrent revalidations of a key share one fetch.
// Errors are logged only.
func (s *StaleWhileRevalidate) revalidate(ctx context.Context, req *http.Request) {
	key := s.keyer.GetKey(req)
	_, err, _ := s.revalidations.Do(key, func() (any, error) {
		full := req.Clone(ctx)
		full.Header.Del("Range")
		res, err := s.FetchFromNetwork(ctx, full)
		if err != nil {
			return nil, err
		}
		return nil, s.saveAndClose(ctx, full, res)
	})
	if err != nil {
		s.log.Warn().Err(err).Str("key", key).Msg("Revalidation failed")
		s.metrics.RevalidationError(s.cacheName)
		return
	}
	s.log.Trace().Str("key", key).Msg("Revalidated")
}
