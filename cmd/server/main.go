package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"careadmin/internal/audit"
	auditmemory "careadmin/internal/audit/store/memory"
	auditpostgres "careadmin/internal/audit/store/postgres"
	"careadmin/internal/auth"
	"careadmin/internal/auth/store/user"
	"careadmin/internal/platform/config"
	"careadmin/internal/platform/httpserver"
	"careadmin/internal/platform/logger"
	"careadmin/internal/platform/metrics"
	"careadmin/internal/platform/postgres"
	"careadmin/internal/platform/redis"
	"careadmin/internal/session"
	httptransport "careadmin/internal/transport/http"
)

// main wires dependencies and owns the process lifecycle. Business logic
// lives in the internal packages; everything here is construction order and
// shutdown order.
func main() {
	cfg := config.FromEnv()
	log := logger.New(logger.ParseLevel(cfg.LogLevel))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
	}

	rc, err := redis.New(ctx, cfg.RedisURL)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if rc != nil {
		defer rc.Close()
	}

	var auditStore audit.Store
	if db != nil {
		pg := auditpostgres.New(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Error("audit schema setup failed", "error", err)
			os.Exit(1)
		}
		auditStore = pg
		log.Info("audit store: postgres")
	} else {
		auditStore = auditmemory.New()
		log.Warn("audit store: in-memory, entries do not survive restart")
	}

	var tracker session.Tracker
	if rc != nil {
		tracker = session.NewRedisTracker(rc.Client, cfg.SessionTimeout)
		log.Info("session tracker: redis", "timeout", cfg.SessionTimeout)
	} else {
		tracker = session.NewRegistry(cfg.SessionTimeout)
		log.Info("session tracker: in-memory", "timeout", cfg.SessionTimeout)
	}

	publisher := audit.NewPublisher(auditStore, log, audit.WithBuffer(cfg.AuditBuffer))
	recorder := audit.NewRecorder(publisher, log)

	jwtService := auth.NewJWTService(cfg.JWTSigningKey, cfg.JWTIssuer, cfg.JWTAudience)
	users := user.New()
	if err := seedUsers(ctx, users, log); err != nil {
		log.Error("user seeding failed", "error", err)
		os.Exit(1)
	}
	authService := auth.NewService(users, jwtService)

	m := metrics.New()

	router := httptransport.NewRouter(httptransport.Dependencies{
		Logger:    log,
		Metrics:   m,
		Recorder:  recorder,
		Auth:      httptransport.NewAuthHandler(authService, tracker, log),
		Audit:     httptransport.NewAuditHandler(auditStore, log),
		Sessions:  httptransport.NewSessionHandler(tracker, log),
		Validator: jwtService,
		Tracker:   tracker,
	})

	srv := httpserver.New(cfg.Addr, router)
	sweeper := session.NewSweeper(tracker, cfg.SweepInterval, log)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info("starting careadmin", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()

	// Drain any buffered audit entries before the process exits.
	publisher.Close()

	if err != nil && !errors.Is(err, context.Canceled) {
		log.Error("server exited with error", "error", err)
		os.Exit(1)
	}
	log.Info("shutdown complete")
}

// seedUsers loads a bootstrap account so the API is usable out of the box.
// Real deployments point DATABASE_URL at a provisioned user table instead.
func seedUsers(ctx context.Context, users *user.InMemoryStore, log *slog.Logger) error {
	email := os.Getenv("SEED_ADMIN_EMAIL")
	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if email == "" || password == "" {
		email = "admin@careadmin.local"
		password = "changeme"
		log.Warn("seeding default admin credentials, set SEED_ADMIN_EMAIL and SEED_ADMIN_PASSWORD")
	}

	hash, err := auth.HashPassword(password)
	if err != nil {
		return err
	}
	return users.Create(ctx, &user.User{
		ID:           "00000000-0000-0000-0000-000000000001",
		Email:        email,
		Name:         "Administrator",
		Role:         "admin",
		PasswordHash: hash,
	})
}
