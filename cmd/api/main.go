package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/treniren/internal/api"
	"example.com/treniren/internal/auth"
	"example.com/treniren/internal/config"
	"example.com/treniren/internal/domain"
	"example.com/treniren/internal/events"
	"example.com/treniren/internal/logging"
	"example.com/treniren/internal/observability"
	"example.com/treniren/internal/persistence/memory"
	"example.com/treniren/internal/persistence/postgres"
	httptransport "example.com/treniren/internal/transport/http"
)

func main() {
	cfg := config.Load()
	logger := logging.New(logging.Options{Level: cfg.LogLevel, Prefix: "api"})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var repo domain.WorkoutRepository
	if cfg.PostgresURL != "" {
		pool, err := pgxpool.New(ctx, cfg.PostgresURL)
		if err != nil {
			logger.Fatal("failed to connect to postgres", "err", err)
		}
		defer pool.Close()
		if err := postgres.Migrate(ctx, pool); err != nil {
			logger.Fatal("failed to migrate", "err", err)
		}
		repo = postgres.NewRepository(pool)
	} else {
		logger.Warn("POSTGRES_URL not set, workouts are kept in memory")
		repo = memory.NewRepository()
	}

	var publisher events.Publisher = events.Noop{}
	if len(cfg.KafkaBrokers) > 0 {
		producer := events.NewKafkaProducer(cfg.KafkaBrokers)
		defer producer.Close()
		publisher = events.NewKafkaPublisher(producer)
	}

	service := domain.NewService(repo, events.NewWorkoutSink(publisher, "workout_recorded", logger))

	handler := api.NewHandler(service)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	requestLogger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			logger.Debug("request", "method", r.Method, "path", r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	authMiddleware := auth.NewMiddleware(auth.Config{Secret: cfg.JWTSecret, Issuer: cfg.JWTIssuer})

	server := httptransport.NewServer(httptransport.DefaultServerConfig(cfg.HTTPAddress),
		observability.Instrument("api", requestLogger(authMiddleware.Wrap(mux))))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("workout api listening", "addr", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server error", "err", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "err", err)
	}
}

