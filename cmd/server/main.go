// Command server runs the lending dashboard API.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"loanflow/internal/domain"
	"loanflow/internal/flow"
	"loanflow/internal/handler"
	"loanflow/internal/ledger/network"
	"loanflow/internal/lending"
	"loanflow/internal/middleware"
	"loanflow/internal/notification"
	"loanflow/internal/repository/postgres"
	"loanflow/internal/runs"
	"loanflow/internal/scheduler"
	"loanflow/pkg/cache"
	"loanflow/pkg/config"
	"loanflow/pkg/logger"
	"loanflow/pkg/validator"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New("loanflow-server")

	if err := cfg.ValidateCore(); err != nil {
		log.Fatal("Invalid configuration", map[string]interface{}{"error": err.Error()})
	}

	val := validator.New()
	params := lending.ParamsFromConfig(cfg.Flow)
	if err := params.Validate(val); err != nil {
		log.Fatal("Invalid flow parameters", map[string]interface{}{"error": err.Error()})
	}

	log.Info("Starting lending flow service", map[string]interface{}{
		"port":     cfg.Server.Port,
		"simulate": cfg.Ledger.Simulate,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, faucet, err := network.Open(ctx, cfg.Ledger, log)
	if err != nil {
		log.Fatal("Failed to open ledger", map[string]interface{}{"error": err.Error()})
	}
	defer client.Close()

	checks := map[string]handler.Check{}
	var opts []runs.Option

	// Run history archive
	if cfg.Database.URL != "" {
		db, err := sqlx.Connect("postgres", cfg.Database.URL)
		if err != nil {
			log.Fatal("Failed to connect to database", map[string]interface{}{"error": err.Error()})
		}
		defer db.Close()
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)

		opts = append(opts, runs.WithArchive(postgres.NewRunRepository(db)))
		checks["database"] = db.PingContext
	} else {
		log.Warn("DATABASE_URL not set, run history is not archived", nil)
	}

	// Live snapshots and rate limiting
	var snapshots runs.SnapshotStore = runs.NewMemorySnapshots()
	var limiter *middleware.RateLimiter
	if cfg.Redis.URL != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.URL,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := redisClient.Ping(ctx).Err(); err != nil {
			log.Fatal("Failed to connect to Redis", map[string]interface{}{"error": err.Error()})
		}
		defer redisClient.Close()

		snapshots = runs.NewRedisSnapshots(cache.NewFromClient(redisClient, "loanflow:"), cfg.Redis.SnapshotTTL)
		limiter = middleware.NewRateLimiter(redisClient, cfg.Server.StartLimit, cfg.Server.StartWindow)
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	} else {
		log.Warn("REDIS_URL not set, snapshots are kept in memory", nil)
	}

	// Event fan-out
	var sinks []notification.Sink
	if len(cfg.Kafka.Brokers) > 0 {
		kp := notification.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer kp.Close()
		sinks = append(sinks, kp)
		log.Info("Publishing flow events to Kafka", map[string]interface{}{"topic": cfg.Kafka.Topic})
	}
	opts = append(opts, runs.WithPublishers(notification.NewService(log, sinks...)))

	orchestrator := flow.NewOrchestrator(client, faucet, params, log)
	runService := runs.NewService(orchestrator, snapshots, log, opts...)

	if cfg.Schedule.Interval > 0 && len(cfg.Schedule.Scenarios) > 0 {
		sched := scheduler.NewScheduler(runService, log)
		for _, id := range cfg.Schedule.Scenarios {
			if _, ok := flow.LookupScenario(domain.ScenarioID(id)); !ok {
				log.Fatal("Unknown scheduled scenario", map[string]interface{}{"scenario": id})
			}
			sched.Schedule(&scheduler.ScheduledRun{Scenario: domain.ScenarioID(id), Interval: cfg.Schedule.Interval})
		}
		sched.Start(ctx)
		defer sched.Stop()
	}

	router := handler.NewRouter(handler.RouterConfig{
		Runs:      handler.NewRunHandler(runService, val, log),
		System:    handler.NewSystemHandler(checks, runService, log),
		Auth:      middleware.NewAuthMiddleware(cfg.JWT.Secret),
		Limiter:   limiter,
		Logger:    log,
		BodyLimit: 1 << 20,
	})

	// WriteTimeout stays zero so event streams are not cut off.
	srv := &http.Server{
		Addr:        fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		IdleTimeout: cfg.Server.IdleTimeout,
	}

	go func() {
		log.Info("Lending flow service started", map[string]interface{}{"address": srv.Addr})
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Server failed", map[string]interface{}{"error": err.Error()})
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("Shutting down lending flow service...", nil)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server forced to shutdown", map[string]interface{}{"error": err.Error()})
	}
	if err := runService.Shutdown(shutdownCtx); err != nil {
		log.Error("Runs did not stop in time", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	log.Info("Lending flow service stopped gracefully", nil)
}
