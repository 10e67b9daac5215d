package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/newtonslens/labsync/internal/application"
	"github.com/newtonslens/labsync/internal/application/syncer"
	"github.com/newtonslens/labsync/internal/config"
	"github.com/newtonslens/labsync/internal/domain/analysis"
	"github.com/newtonslens/labsync/internal/infra/assets"
	assetcache "github.com/newtonslens/labsync/internal/infra/cache/asset"
	"github.com/newtonslens/labsync/internal/infra/cache/response"
	"github.com/newtonslens/labsync/internal/infra/connectivity"
	"github.com/newtonslens/labsync/internal/infra/fallback"
	"github.com/newtonslens/labsync/internal/infra/gateway/openai"
	"github.com/newtonslens/labsync/internal/infra/httpserver"
	memoryqueue "github.com/newtonslens/labsync/internal/infra/queue/memory"
	postgresqueue "github.com/newtonslens/labsync/internal/infra/queue/postgres"
	sqlitequeue "github.com/newtonslens/labsync/internal/infra/queue/sqlite"
	"github.com/newtonslens/labsync/internal/middleware"
)

func main() {
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx := context.Background()

	queue, closeQueue, err := openQueue(ctx, cfg)
	if err != nil {
		log.Fatalf("storage init error: %v", err)
	}
	defer closeQueue()

	// The asset cache is optional; without it the API still serves
	// analysis traffic but not the application shell.
	var shell *assetcache.Cache
	if cfg.Assets.Enabled {
		m := cfg.Assets.Minio
		store, err := assets.New(ctx, m.Endpoint, m.Region, m.BucketName,
			m.AccessKey, m.SecretKey, m.UseSSL)
		if err != nil {
			log.Fatalf("asset store init error: %v", err)
		}
		shell, err = assetcache.New(cfg.Assets.Root, cfg.Assets.Version, store)
		if err != nil {
			log.Fatalf("asset cache init error: %v", err)
		}
	}

	monitor := connectivity.NewMonitor(cfg.Connectivity.AssumeOnline)
	if cfg.Connectivity.ProbeURL != "" {
		interval := time.Duration(cfg.Connectivity.ProbeIntervalSeconds) * time.Second
		go monitor.Probe(ctx, cfg.Connectivity.ProbeURL, interval)
	}

	gateway := openai.NewClient(cfg.Gateway.APIKey, cfg.Gateway.Model)

	respCache := response.New(response.Config{
		MaxEntries: cfg.ResponseCache.MaxEntries,
		TTL:        time.Duration(cfg.ResponseCache.TTLMinutes) * time.Minute,
	})

	coord := syncer.NewCoordinator(
		queue,
		gateway,
		respCache,
		fallback.New(),
		monitor,
		application.SystemClock{},
		syncer.Config{
			MaxAttempts:    cfg.Sync.MaxAttempts,
			BaseDelay:      cfg.BaseDelay(),
			AttemptTimeout: cfg.GatewayTimeout(),
			DrainFanout:    cfg.Sync.DrainFanout,
		},
	)
	coord.Start()
	defer coord.Close()

	checkers := map[string]middleware.HealthChecker{
		"storage": middleware.CheckFunc(func(ctx context.Context) error {
			_, err := queue.Count(ctx)
			return err
		}),
	}

	metricsExtra := func() map[string]interface{} {
		return map[string]interface{}{
			"sync":           coord.Metrics(),
			"response_cache": respCache.Metrics(),
		}
	}

	mux := chi.NewRouter()
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   corsOrigins(cfg),
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-API-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	mux.Use(middleware.LoggingMiddleware)
	mux.Use(middleware.MetricsMiddleware)
	mux.Use(middleware.RateLimitMiddleware(cfg.RateLimit.Burst, cfg.RateLimit.PerMinute))
	mux.Use(middleware.APIKeyAuth(cfg.Auth.APIKeys))
	mux.Mount("/", httpserver.NewRouter(coord, queue, shell, checkers, monitor.Online, metricsExtra))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("server listening on %s driver=%s online=%t", addr, cfg.Storage.Driver, monitor.Online())
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}

func openQueue(ctx context.Context, cfg *config.Config) (analysis.Queue, func(), error) {
	switch cfg.Storage.Driver {
	case "memory":
		return memoryqueue.New(cfg.Storage.RecordCap), func() {}, nil
	case "postgres":
		q, err := postgresqueue.Connect(ctx, cfg.PostgresDSN(), cfg.Storage.RecordCap)
		if err != nil {
			return nil, nil, err
		}
		return q, func() { q.Close() }, nil
	case "sqlite":
		q, err := sqlitequeue.Open(ctx, cfg.Storage.Path, cfg.Storage.RecordCap)
		if err != nil {
			return nil, nil, err
		}
		return q, func() { q.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}

func corsOrigins(cfg *config.Config) []string {
	if len(cfg.Server.CORSOrigins) == 0 {
		return []string{"*"}
	}
	return cfg.Server.CORSOrigins
}
