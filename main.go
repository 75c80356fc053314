package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"taskflow/api"
	"taskflow/board"
	"taskflow/config"
	"taskflow/storage"
	"taskflow/subscription"
	"taskflow/syncer"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := log.StandardLogger()
	cfg.ConfigureLogging(logger)

	tp := sdktrace.NewTracerProvider()
	otel.SetTracerProvider(tp)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.ProvisionStorage {
		if err := storage.Provision(ctx, cfg.StorageConnectionString, cfg.TasksTable, cfg.ChangesQueue); err != nil {
			log.Fatalf("provision storage: %v", err)
		}
		log.Info("storage provisioned")
	}

	tables, err := storage.New(cfg.StorageConnectionString, cfg.TasksTable, logger)
	if err != nil {
		log.Fatalf("storage: %v", err)
	}
	redisOpts, err := cfg.RedisOptions()
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	rc := redis.NewClient(redisOpts)
	docs := storage.NewCache(tables, rc, cfg.SnapshotCacheTTL, logger)

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []syncer.Option{
		syncer.WithResyncInterval(cfg.ResyncInterval),
		syncer.WithRegisterer(reg),
		syncer.WithLogger(logger),
	}
	if cfg.ChangesQueue != "" {
		changes, err := storage.NewChangeLog(cfg.StorageConnectionString, cfg.ChangesQueue)
		if err != nil {
			log.Fatalf("change log: %v", err)
		}
		opts = append(opts, syncer.WithChangeLog(changes))
	}
	adapter := syncer.New(docs, syncer.NewRedisNotifier(rc, cfg.ChangesChannel, logger), opts...)

	store := board.New(adapter, board.WithLogger(logger), board.WithRegisterer(reg))
	manager := subscription.NewManager(adapter, store, logger)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept},
	}))
	api.RegisterMetrics(e, reg)
	api.Register(e, store, api.Config{
		OwnerID: cfg.OwnerID,
		Health: func() error {
			if _, ok := manager.Active(); !ok {
				return errors.New("no active subscription")
			}
			return nil
		},
		Deduper: api.NewRedisDeduper(rc, cfg.IdempotencyTTL),
		Logger:  logger,
	})

	manager.Activate(context.Background(), cfg.OwnerID)

	go func() {
		if err := e.Start(":" + cfg.HTTPPort); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("http server: %v", err)
		}
	}()
	log.WithField("port", cfg.HTTPPort).Info("taskflow started")

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := shutdown(shutdownCtx, e, manager, store); err != nil {
		log.WithError(err).Warn("http shutdown")
	}
	if err := rc.Close(); err != nil {
		log.WithError(err).Warn("redis close")
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Warn("tracer shutdown")
	}
}

// shutdown stops the subscription and closes the Store before the HTTP server,
// so open event streams end instead of holding the server until ctx expires.
func shutdown(ctx context.Context, e *echo.Echo, manager *subscription.Manager, store *board.Store) error {
	manager.Deactivate()
	store.Close()
	return e.Shutdown(ctx)
}
