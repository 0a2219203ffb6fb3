// cmd/api/main.go
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/roadbook/roadbook/backend"
	"github.com/roadbook/roadbook/geocache"
	"github.com/roadbook/roadbook/internal/config"
	"github.com/roadbook/roadbook/internal/http/routes"
	"github.com/roadbook/roadbook/kvstore"
	"github.com/roadbook/roadbook/pending"
	"github.com/roadbook/roadbook/routeinfo"
	"github.com/roadbook/roadbook/syncer"
	"github.com/roadbook/roadbook/weather"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	// Logger
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(os.Stdout).Level(level).With().Timestamp().Logger()
	log.Printf("starting api on :%s", cfg.Port)

	// Durable key-value store
	store, closeStore, err := buildStore(cfg)
	if err != nil {
		log.Fatalf("store error: %v", err)
	}
	defer closeStore()

	// Authoritative backend
	var be backend.Backend
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("db error: %v", err)
		}
		defer pool.Close()
		be = backend.NewPostgres(pool)
	} else {
		logger.Warn().Msg("DATABASE_URL unset, committing to in-memory backend")
		be = backend.NewMemory()
	}

	// Connectivity probe
	probe := syncer.NewProbe(cfg.ProbeURL, cfg.ProbeInterval, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go probe.Run(ctx)

	// Queue + mirror, rebuilt from the durable store before use
	mirror := pending.NewMirror()
	queue := pending.NewQueue(store, mirror, logger)
	if err := queue.Init(ctx); err != nil {
		log.Fatalf("queue init error: %v", err)
	}

	// Weather with approximate-cache read-through
	cache := geocache.New(store, logger, geocache.Config{
		Namespace:     "weathercache",
		MaxItems:      cfg.CacheMaxItems,
		EntryLifetime: cfg.CacheLifetime,
	})
	var weatherOpts []weather.Option
	if cfg.WeatherBaseURL != "" {
		weatherOpts = append(weatherOpts, weather.WithBaseURL(cfg.WeatherBaseURL))
	}
	if cfg.WeatherArchiveURL != "" {
		weatherOpts = append(weatherOpts, weather.WithArchiveURL(cfg.WeatherArchiveURL))
	}
	wc := weather.NewClient(weatherOpts...)
	cachedWeather := weather.NewCachedClient(wc, cache, probe.Online, logger)

	var routeOpts []routeinfo.Option
	if cfg.OSRMBaseURL != "" {
		routeOpts = append(routeOpts, routeinfo.WithBaseURL(cfg.OSRMBaseURL))
	}
	rc := routeinfo.NewClient(routeOpts...)

	// Reconciler + connectivity watcher. Enrichment goes through the
	// cache-fronted weather client so sync passes reuse cached samples.
	rec := syncer.NewReconciler(queue, mirror, be, cachedWeather, rc, probe, logger)
	watcher := syncer.NewWatcher(probe, rec, logger)
	go watcher.Run(ctx)

	saver := syncer.NewSaver(be, queue, cachedWeather, rc, probe, logger)

	// Router / server
	s := routes.New(routes.ServerOptions{
		Saver:      saver,
		Reconciler: rec,
		Queue:      queue,
		Mirror:     mirror,
		Weather:    cachedWeather,
		RedisAddr:  cfg.RedisAddr,
		Log:        logger,
	})
	h := hlog.NewHandler(logger)(s.Router)

	srv := &http.Server{Addr: ":" + cfg.Port, Handler: h}
	log.Fatal(srv.ListenAndServe())
}

func buildStore(cfg *config.Config) (kvstore.Store, func(), error) {
	switch cfg.StoreBackend {
	case config.StoreRedis:
		st, err := kvstore.NewRedis(cfg.StoreRedisURL, "roadbook")
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	case config.StoreFile:
		st, err := kvstore.NewFile(cfg.StorePath)
		if err != nil {
			return nil, nil, err
		}
		return st, func() {}, nil
	default:
		path := cfg.StorePath
		if path == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, nil, err
			}
			path = filepath.Join(home, ".roadbook", "roadbook.db")
		}
		st, err := kvstore.NewBolt(path)
		if err != nil {
			return nil, nil, err
		}
		return st, func() { _ = st.Close() }, nil
	}
}
