// cmd/worker/main.go
package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"

	"github.com/roadbook/roadbook/backend"
	"github.com/roadbook/roadbook/geocache"
	"github.com/roadbook/roadbook/internal/config"
	"github.com/roadbook/roadbook/internal/jobs"
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
		log.Fatal("config error: ", err)
	}

	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	store, closeStore, err := buildStore(cfg)
	if err != nil {
		log.Fatal("store error: ", err)
	}
	defer closeStore()

	var be backend.Backend
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatal("unable to connect to database: ", err)
		}
		defer pool.Close()
		be = backend.NewPostgres(pool)
	} else {
		logger.Warn().Msg("DATABASE_URL unset, committing to in-memory backend")
		be = backend.NewMemory()
	}

	probe := syncer.NewProbe(cfg.ProbeURL, cfg.ProbeInterval, logger)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go probe.Run(ctx)

	mirror := pending.NewMirror()
	queue := pending.NewQueue(store, mirror, logger)
	if err := queue.Init(ctx); err != nil {
		log.Fatal("queue init error: ", err)
	}

	// Weather with approximate-cache read-through, shared with the API
	// through the durable store.
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

	rec := syncer.NewReconciler(queue, mirror, be, cachedWeather, rc, probe, logger)

	// Connectivity-transition trigger
	watcher := syncer.NewWatcher(probe, rec, logger)
	go watcher.Run(ctx)

	// Periodic trigger, funneled through the same sync task
	go schedulePeriodic(ctx, cfg, logger)

	srv := asynq.NewServer(asynq.RedisClientOpt{Addr: cfg.RedisAddr}, asynq.Config{
		Concurrency: 2,
		Queues: map[string]int{
			"sync":    10, // higher priority
			"default": 5,  // default priority
		},
	})
	mux := asynq.NewServeMux()
	mux.HandleFunc(jobs.TaskSyncPending, jobs.NewSyncHandler(rec, logger))

	log.Println("Worker running...")
	log.Fatal(srv.Run(mux))
}

// schedulePeriodic enqueues a sync task every SyncInterval so queued
// records retry even without a connectivity transition.
func schedulePeriodic(ctx context.Context, cfg *config.Config, logger zerolog.Logger) {
	client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := client.Close(); err != nil {
			logger.Warn().Err(err).Msg("close asynq client")
		}
	}()

	ticker := time.NewTicker(cfg.SyncInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			payload, _ := json.Marshal(jobs.SyncPendingPayload{Reason: "interval"})
			task := asynq.NewTask(jobs.TaskSyncPending, payload)
			if _, err := client.Enqueue(task, asynq.Queue("sync"), asynq.MaxRetry(1)); err != nil {
				logger.Warn().Err(err).Msg("enqueue periodic sync failed")
			}
		}
	}
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
