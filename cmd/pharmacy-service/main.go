package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/redis/go-redis/v9"

	"github.com/medflow/pharmacy-ledger/internal/pharmacy/events"
	"github.com/medflow/pharmacy-ledger/internal/pharmacy/handler"
	"github.com/medflow/pharmacy-ledger/internal/pharmacy/repository"
	"github.com/medflow/pharmacy-ledger/internal/pharmacy/service"
	"github.com/medflow/pharmacy-ledger/migrations"
	"github.com/medflow/pharmacy-ledger/pkg/config"
	"github.com/medflow/pharmacy-ledger/pkg/database"
	"github.com/medflow/pharmacy-ledger/pkg/httputil"
	"github.com/medflow/pharmacy-ledger/pkg/i18n"
	"github.com/medflow/pharmacy-ledger/pkg/lock"
	"github.com/medflow/pharmacy-ledger/pkg/logger"
	"github.com/medflow/pharmacy-ledger/pkg/messaging"
)

const serviceName = "pharmacy-service"

func main() {
	// Load configuration with validation (fails fast in production if required config is missing)
	cfg, err := config.LoadWithValidation(serviceName)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(serviceName, cfg.Server.Environment)
	log.Info().Msg("starting Pharmacy Service")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := database.New(&cfg.Database, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx, cfg.Database.Schema); err != nil {
		log.Fatal().Err(err).Msg("failed to create database schema")
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		log.Fatal().Err(err).Msg("failed to apply migrations")
	}

	locker, rdb, err := newLocker(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.Lock.Backend).Msg("failed to set up batch lock")
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// Event publishing is optional; a nil publisher drops events
	var (
		rmq       *messaging.RabbitMQ
		publisher *events.PharmacyEventPublisher
	)
	if cfg.RabbitMQ.Enabled {
		rmq, err = messaging.New(&cfg.RabbitMQ, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to RabbitMQ")
		}
		defer rmq.Close()

		publisher, err = events.NewPharmacyEventPublisher(rmq, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create event publisher")
		}
	}

	// Stores and services
	tx, medicines, batches, movements := repository.NewStores(db)
	stores := service.Stores{Tx: tx, Medicines: medicines, Batches: batches, Movements: movements}
	settings := service.SettingsFromConfig(&cfg.Ledger)

	catalog := service.NewCatalogService(stores, settings, publisher, log)
	registry := service.NewRegistryService(stores, settings, publisher, log)
	engine := service.NewEngine(stores, registry, locker, settings, publisher, log)
	query := service.NewQueryService(stores, settings, log)

	handlers := &handler.Handlers{
		Medicines: handler.NewMedicineHandler(catalog, log),
		Batches:   handler.NewBatchHandler(registry, query, log),
		Movements: handler.NewMovementHandler(engine, query, cfg.Ledger.ConflictRetries, settings.Location, log),
		Dashboard: handler.NewDashboardHandler(query, log),
	}

	r := chi.NewRouter()

	r.Use(middleware.RealIP)
	r.Use(httputil.RequestID)
	r.Use(httputil.Logger(log))
	r.Use(httputil.Recoverer(log))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-Request-ID", "Accept-Language", httputil.HeaderUserID, httputil.HeaderUserName, httputil.HeaderUserRole},
		ExposedHeaders:   []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(i18n.Middleware(cfg.Server.DefaultLocale))
	r.Use(httputil.ActorMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		status := map[string]interface{}{
			"status":   "healthy",
			"service":  serviceName,
			"database": db.Health(r.Context()),
		}
		if rmq != nil {
			status["rabbitmq"] = rmq.Health()
		}
		if rdb != nil {
			status["redis"] = redisHealth(r.Context(), rdb)
		}
		httputil.JSON(w, http.StatusOK, status)
	})

	r.Route("/api/v1/pharmacy", handlers.Routes)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server stopped")
}

// newLocker builds the per-batch lock for the configured backend. The redis
// client is returned so it can be closed on shutdown.
func newLocker(ctx context.Context, cfg *config.Config, log *logger.Logger) (lock.Locker, *redis.Client, error) {
	switch cfg.Lock.Backend {
	case config.LockBackendRedis:
		locker, rdb, err := lock.Connect(ctx, cfg.Lock, log)
		if err != nil {
			return nil, nil, err
		}
		log.Info().Str("addr", cfg.Lock.RedisAddr).Msg("using redis batch lock")
		return locker, rdb, nil
	default:
		return lock.NewKeyedMutex(), nil, nil
	}
}

func redisHealth(ctx context.Context, rdb *redis.Client) string {
	if err := rdb.Ping(ctx).Err(); err != nil {
		return "unhealthy: " + err.Error()
	}
	return "healthy"
}
