package main

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"
	cacheregistry "github.com/always-cache/offline-cache/pkg/cache-registry"
)

// cacheInfo sums up a named cache. Entries of unknown size are counted in Unknown, not in Size.
type cacheInfo struct {
	Name    string `json:"name"`
	Entries int    `json:"entries"`
	Size    int64  `json:"size"`
	Unknown int    `json:"unknownSize"`
}

type admin struct {
	storage  cache.Storage
	registry cacheregistry.Backend
}

// newServer routes the admin endpoints and proxies everything else.
func newServer(proxy http.Handler, storage cache.Storage, registry cacheregistry.Backend, gatherer prometheus.Gatherer) http.Handler {
	a := &admin{storage: storage, registry: registry}

	r := chi.NewRouter()
	r.Use(requestID)
	r.Get("/_offline/caches", a.listCaches)
	r.Delete("/_offline/caches/{name}", a.deleteCache)
	r.Post("/_offline/clear", a.clear)
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Handle("/*", proxy)
	return r
}

// requestID adds a request id to the request logger and the response.
func requestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-Id")
		if id == "" {
			id = uuid.NewString()
		}
		logger := log.Logger.With().Str("request_id", id).Logger()
		w.Header().Set("X-Request-Id", id)
		logger.Trace().Str("method", r.Method).Str("url", r.URL.String()).Msg("Request")
		next.ServeHTTP(w, r.WithContext(logger.WithContext(r.Context())))
	})
}

func (a *admin) listCaches(w http.ResponseWriter, r *http.Request) {
	names, err := a.storage.Names(r.Context())
	if err != nil {
		a.fail(w, r, err)
		return
	}
	infos := make([]cacheInfo, 0, len(names))
	for _, name := range names {
		entries, err := cacheregistry.New(a.registry, name).Entries(r.Context())
		if err != nil {
			a.fail(w, r, err)
			return
		}
		info := cacheInfo{Name: name, Entries: len(entries)}
		for _, e := range entries {
			if e.SizeKnown() {
				info.Size += e.Size
			} else {
				info.Unknown++
			}
		}
		infos = append(infos, info)
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(infos)
}

func (a *admin) deleteCache(w http.ResponseWriter, r *http.Request) {
	existed, err := offlinecache.DeleteCache(r.Context(), a.storage, a.registry, chi.URLParam(r, "name"))
	if err != nil {
		a.fail(w, r, err)
		return
	}
	if !existed {
		http.NotFound(w, r)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *admin) clear(w http.ResponseWriter, r *http.Request) {
	if err := offlinecache.Clear(r.Context(), a.storage, a.registry); err != nil {
		a.fail(w, r, err)
		return
	}
	log.Ctx(r.Context()).Info().Msg("Cleared all caches")
	w.WriteHeader(http.StatusNoContent)
}

func (a *admin) fail(w http.ResponseWriter, r *http.Request, err error) {
	log.Ctx(r.Context()).Error().Err(err).Msg("Admin request failed")
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
