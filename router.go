package offlinecache

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	cachestatus "github.com/always-cache/offline-cache/pkg/cache-status"
)

// ErrNoResponse is returned by RoundTrip when the matched strategy had no response.
var ErrNoResponse = errors.New("no response from cache or network")

// Router dispatches requests to the strategy of the first matching rule.
// Requests matching no rule go to the network untouched.
// It implements http.RoundTripper.
type Router struct {
	mutex   sync.RWMutex
	rules   []Rule
	next    http.RoundTripper
	pending sync.WaitGroup
	log     zerolog.Logger
}

// NewRouter returns a router sending unmatched requests to next.
// http.DefaultTransport is used if next is nil.
func NewRouter(next http.RoundTripper) *Router {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Router{
		next: next,
		log:  log.Logger,
	}
}

// WithLogger sets the logger of the router.
func (r *Router) WithLogger(logger zerolog.Logger) *Router {
	r.log = logger
	return r
}

// AddRule appends a rule. Rules are tried in the order they were added.
func (r *Router) AddRule(rule Rule) {
	r.mutex.Lock()
	defer r.mutex.Unlock()
	r.rules = append(r.rules, rule)
}

func (r *Router) find(req *http.Request) Strategy {
	r.mutex.RLock()
	defer r.mutex.RUnlock()
	for _, rule := range r.rules {
		if rule.matches(req) {
			return rule.Handler
		}
	}
	return nil
}

// Handle answers the request with the matching strategy.
// Unmatched requests are sent to the network; their errors result in a nil response.
// The completion signal is also tracked by Wait.
func (r *Router) Handle(ctx context.Context, req *http.Request) (*http.Response, *Pending) {
	strategy := r.find(req)
	if strategy == nil {
		r.log.Trace().Str("url", req.URL.String()).Msg("No rule matched, passing through")
		res, err := r.next.RoundTrip(req.WithContext(ctx))
		if err != nil {
			r.log.Debug().Err(err).Str("url", req.URL.String()).Msg("Pass-through request failed")
			return nil, settled(nil)
		}
		cachestatus.Forward(cachestatus.FwdBypass).Set(res)
		return res, settled(nil)
	}
	res, pending := strategy.Handle(ctx, req)
	r.track(req, pending)
	return res, pending
}

// RoundTrip implements http.RoundTripper.
func (r *Router) RoundTrip(req *http.Request) (*http.Response, error) {
	strategy := r.find(req)
	if strategy == nil {
		res, err := r.next.RoundTrip(req)
		if err == nil {
			cachestatus.Forward(cachestatus.FwdBypass).Set(res)
		}
		return res, err
	}
	res, pending := strategy.Handle(req.Context(), req)
	r.track(req, pending)
	if res == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoResponse, req.URL)
	}
	return res, nil
}

func (r *Router) track(req *http.Request, p *Pending) {
	r.pending.Add(1)
	go func() {
		defer r.pending.Done()
		if err := p.Wait(); err != nil {
			r.log.Error().Err(err).Str("url", req.URL.String()).Msg("Background cache operation failed")
		}
	}()
}

// Wait blocks until the work continued after all handled requests has finished.
func (r *Router) Wait() {
	r.pending.Wait()
}
