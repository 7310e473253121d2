package offlinecache

import (
	"context"
	"net/http"

	cachestatus "github.com/always-cache/offline-cache/pkg/cache-status"
)

// CacheFirst answers from the cache and goes to the network only on a miss.
type CacheFirst struct {
	*Handler
}

func NewCacheFirst(cfg Config) (*CacheFirst, error) {
	h, err := NewHandler(StrategyCacheFirst, cfg)
	if err != nil {
		return nil, err
	}
	return &CacheFirst{h}, nil
}

func (s *CacheFirst) Handle(ctx context.Context, req *http.Request) (*http.Response, *Pending) {
	if res := s.FetchFromCache(ctx, req); res != nil {
		s.metrics.Response(s.strategy, s.cacheName, "cache")
		return res, settled(nil)
	}
	res, err := s.FetchFromNetwork(ctx, req)
	if err != nil {
		s.log.Debug().Err(err).Msg("No response")
		s.metrics.Response(s.strategy, s.cacheName, "none")
		return nil, settled(nil)
	}
	return s.respond(ctx, req, res, cachestatus.FwdUriMiss)
}
