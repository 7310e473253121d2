package offlinecache

import (
	"context"
	"net/http"
	"time"

	cachestatus "github.com/always-cache/offline-cache/pkg/cache-status"
)

// NetworkFirst answers from the network and falls back to the cache when the network
// fails, or when it takes longer than the network timeout and a cached response exists.
type NetworkFirst struct {
	*Handler
	timeout time.Duration
}

func NewNetworkFirst(cfg Config) (*NetworkFirst, error) {
	h, err := NewHandler(StrategyNetworkFirst, cfg)
	if err != nil {
		return nil, err
	}
	return &NetworkFirst{Handler: h, timeout: cfg.NetworkTimeout}, nil
}

type outcome struct {
	res *http.Response
	err error
}

func (s *NetworkFirst) Handle(ctx context.Context, req *http.Request) (*http.Response, *Pending) {
	// the network request is not aborted when the cache wins the race
	network := make(chan outcome, 1)
	go func() {
		res, err := s.FetchFromNetwork(context.WithoutCancel(ctx), req)
		network <- outcome{res: res, err: err}
	}()

	var timedOut chan outcome
	stop := make(chan struct{})
	if s.timeout > 0 {
		timedOut = make(chan outcome, 1)
		go s.cacheAfterTimeout(ctx, req, timedOut, stop)
	}

	won, fromNetwork, loser := first(network, timedOut)
	close(stop)

	if !fromNetwork {
		if won.res != nil {
			s.log.Debug().Dur("timeout", s.timeout).Msg("Network timed out, using cached response")
			s.metrics.Response(s.strategy, s.cacheName, "cache")
			return won.res, s.background(ctx, func(ctx context.Context) error {
				late := <-loser
				if late.err != nil || late.res == nil {
					return nil
				}
				return s.saveAndClose(ctx, req, late.res)
			})
		}
		// nothing cached, so waiting longer costs nothing
		won = <-loser
	}

	if won.err != nil || won.res == nil {
		s.log.Debug().Err(won.err).Msg("Network failed, falling back to cache")
		if res := s.FetchFromCache(ctx, req); res != nil {
			s.metrics.Response(s.strategy, s.cacheName, "cache")
			return res, settled(nil)
		}
		s.metrics.Response(s.strategy, s.cacheName, "none")
		return nil, settled(nil)
	}
	return s.respond(ctx, req, won.res, cachestatus.FwdMiss)
}

// cacheAfterTimeout looks up the cache once the network timeout has passed.
func (s *NetworkFirst) cacheAfterTimeout(ctx context.Context, req *http.Request, out chan<- outcome, stop <-chan struct{}) {
	timer := time.NewTimer(s.timeout)
	defer timer.Stop()
	select {
	case <-timer.C:
		out <- outcome{res: s.FetchFromCache(ctx, req)}
	case <-stop:
	}
}
