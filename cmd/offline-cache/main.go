package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	offlinecache "github.com/always-cache/offline-cache"
	"github.com/always-cache/offline-cache/cache"
	"github.com/always-cache/offline-cache/metrics"
	cachekey "github.com/always-cache/offline-cache/pkg/cache-key"
	cacheregistry "github.com/always-cache/offline-cache/pkg/cache-registry"
)

// settings are read from the environment (and .env), flags override them.
type settings struct {
	Port    int    `env:"PORT" envDefault:"8080"`
	DB      string `env:"DB" envDefault:"cache.db"`
	Config  string `env:"CONFIG" envDefault:"offline-cache.yaml"`
	Origin  string `env:"ORIGIN"`
	LogFile string `env:"LOG_FILE"`
	Quota   int64  `env:"QUOTA"`
	Trace   bool   `env:"TRACE"`
}

// this is set by goreleaser
var version string

func loadSettings() (settings, error) {
	var s settings
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return s, fmt.Errorf("load .env: %w", err)
	}
	if err := env.ParseWithOptions(&s, env.Options{Prefix: "OFFLINE_CACHE_"}); err != nil {
		return s, fmt.Errorf("parse environment: %w", err)
	}

	flag.IntVar(&s.Port, "port", s.Port, "Port to listen on")
	flag.StringVar(&s.DB, "db", s.DB, "Cache DB file name (use 'memory' for in-memory db)")
	flag.StringVar(&s.Config, "config", s.Config, "Rules file")
	flag.StringVar(&s.Origin, "origin", s.Origin, "Origin URL to proxy to (overrides the rules file)")
	flag.StringVar(&s.LogFile, "log-file", s.LogFile, "Log file to use (in addition to stdout)")
	flag.Int64Var(&s.Quota, "quota", s.Quota, "Storage quota in bytes (0 for unlimited)")
	flag.BoolVar(&s.Trace, "vv", s.Trace, "Verbosity: trace logging")
	flag.Parse()
	return s, nil
}

func main() {
	if version == "" {
		version = "DEV"
	}
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Println(version)
		return
	}

	s, err := loadSettings()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	setupLogging(s)

	config, err := offlinecache.LoadConfig(s.Config)
	if err != nil {
		log.Fatal().Err(err).Str("file", s.Config).Msg("Could not load rules")
	}
	if s.Origin != "" {
		config.Origin = s.Origin
	}
	originURL, err := url.Parse(config.Origin)
	if err != nil || originURL.Scheme == "" || originURL.Host == "" {
		log.Fatal().Err(err).Str("origin", config.Origin).Msg("Please specify a valid origin")
	}

	// set up sqlite storage and registry on the same db
	dbFilename := s.DB
	if dbFilename == "memory" {
		dbFilename = ""
	}
	db, err := cache.OpenSQLite(dbFilename)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open database")
	}
	defer db.Close()
	storage, err := cache.NewSQLiteStore(db, cache.WithQuota(s.Quota))
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create cache storage")
	}
	registry, err := cacheregistry.NewSQLite(db)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create cache registry")
	}

	promRegistry := prometheus.NewRegistry()
	m := metrics.New("offline_cache", promRegistry)

	router := offlinecache.NewRouter(http.DefaultTransport).WithLogger(log.Logger)
	rules, err := config.BuildRules(offlinecache.Config{
		Storage:  storage,
		Registry: registry,
		Fetcher:  &http.Client{Timeout: time.Minute},
		Keyer:    cachekey.NewCacheKeyer(originURL.String()),
		Logger:   &log.Logger,
		Metrics:  m,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Could not create rules")
	}
	for _, rule := range rules {
		router.AddRule(rule)
	}

	proxy := &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(originURL)
			pr.SetXForwarded()
		},
		Transport:    router,
		ErrorHandler: proxyError,
	}

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", s.Port),
		Handler: newServer(proxy, storage, registry, promRegistry),
	}

	go func() {
		log.Info().Msgf("Proxying port %v to %s", s.Port, originURL.String())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("Server failed")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Could not shut down server")
	}
	// let cache writes of answered requests finish
	router.Wait()
	log.Info().Msg("Stopped")
}

func proxyError(w http.ResponseWriter, r *http.Request, err error) {
	log.Ctx(r.Context()).Warn().Err(err).Str("url", r.URL.String()).Msg("No response")
	if errors.Is(err, offlinecache.ErrNoResponse) {
		http.Error(w, "Offline and not cached", http.StatusGatewayTimeout)
		return
	}
	w.WriteHeader(http.StatusBadGateway)
}
