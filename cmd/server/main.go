package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	httpapi "github.com/campusswap/campusswap/internal/api/http"
	"github.com/campusswap/campusswap/internal/application/audit"
	"github.com/campusswap/campusswap/internal/application/auth"
	"github.com/campusswap/campusswap/internal/application/dispute"
	"github.com/campusswap/campusswap/internal/application/exchange"
	"github.com/campusswap/campusswap/internal/application/listing"
	"github.com/campusswap/campusswap/internal/application/user"
	"github.com/campusswap/campusswap/internal/config"
	"github.com/campusswap/campusswap/internal/domain/trust"
	"github.com/campusswap/campusswap/internal/infrastructure/keyvalue"
	"github.com/campusswap/campusswap/internal/infrastructure/postgres"
	"github.com/campusswap/campusswap/internal/metrics"
)

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db error: %v", err)
	}
	defer pool.Close()

	if err := postgres.RunMigrations(ctx, pool, cfg.MigrationsDir); err != nil {
		log.Fatalf("migration error: %v", err)
	}

	// repositories
	userRepo := postgres.NewUserRepository(pool)
	sessionRepo := postgres.NewSessionRepository(pool)
	listingRepo := postgres.NewListingRepository(pool)
	requestRepo := postgres.NewRequestRepository(pool)
	disputeRepo := postgres.NewDisputeRepository(pool)
	auditRepo := postgres.NewAuditRepository(pool)
	exchangeStore := postgres.NewExchangeStore(pool)

	// infrastructure
	var idempotency keyvalue.Store
	if cfg.RedisAddr != "" {
		idempotency, err = keyvalue.NewRedisStore(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatalf("redis error: %v", err)
		}
	} else {
		idempotency = keyvalue.NewMemoryStore()
	}
	defer idempotency.Close()

	trustEngine, err := trust.NewEngine(trust.DefaultRules())
	if err != nil {
		log.Fatalf("trust rules error: %v", err)
	}
	recorder := metrics.NewRecorder()

	// services
	auditSvc := audit.NewService(auditRepo, logger)
	userSvc := user.NewService(userRepo, logger)
	authSvc := auth.NewService(userRepo, sessionRepo, auditRepo, cfg.SessionTTL, logger)
	listingSvc := listing.NewService(listingRepo, auditRepo, recorder, logger)
	exchangeSvc := exchange.NewService(exchangeStore, userRepo, trustEngine, recorder, logger)
	disputeSvc := dispute.NewService(disputeRepo, exchangeSvc, auditRepo, logger)

	// API server
	apiServer := httpapi.NewServer(
		exchangeSvc,
		listingSvc,
		disputeSvc,
		auditSvc,
		authSvc,
		userSvc,
		requestRepo,
		idempotency,
		recorder,
		metrics.Handler(),
		cfg.SessionCookieName,
		cfg.SessionCookieSecure,
	)

	httpServer := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      apiServer.Router(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// background loops
	go func() {
		ticker := time.NewTicker(cfg.ExpirySweepInterval)
		defer ticker.Stop()
		for range ticker.C {
			n, err := listingSvc.ExpireDue(context.Background(), time.Now().UTC(), 100)
			if err != nil {
				logger.Error().Err(err).Msg("listing expiry sweep failed")
				continue
			}
			if n > 0 {
				logger.Info().Int("expired", n).Msg("listings expired")
			}
		}
	}()

	go func() {
		ticker := time.NewTicker(cfg.SessionPurgeEvery)
		defer ticker.Stop()
		for range ticker.C {
			if _, err := authSvc.PurgeExpired(context.Background()); err != nil {
				logger.Error().Err(err).Msg("session purge failed")
			}
		}
	}()

	// start server
	go func() {
		logger.Info().Str("addr", cfg.ServerAddr).Msg("http server started")
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("http server failed")
		}
	}()

	// graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	ctxShutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = httpServer.Shutdown(ctxShutdown)
}
