package offlinecache

import (
	"context"
	"net/http"
)

// Strategy answers requests from the cache, the network or both.
//
// Handle returns the response, or nil if there is none, together with the signal
// of work that continues after the response was returned. Handle never fails:
// errors of the continued work are reported by Pending.Wait.
type Strategy interface {
	Handle(ctx context.Context, req *http.Request) (*http.Response, *Pending)
}

const (
	StrategyCacheFirst           = "cacheFirst"
	StrategyNetworkFirst         = "networkFirst"
	StrategyStaleWhileRevalidate = "staleWhileRevalidate"
)
