package main

import (
	"context"
	"encoding/json"
	"os"
	"time"

	"careadmin/internal/audit"
	auditmemory "careadmin/internal/audit/store/memory"
	auditpostgres "careadmin/internal/audit/store/postgres"
	"careadmin/internal/auth/store/resettoken"
	"careadmin/internal/platform/config"
	"careadmin/internal/platform/logger"
	"careadmin/internal/platform/postgres"
	"careadmin/internal/retention"
)

// main runs one retention pass and exits. Intended to be invoked from cron or
// a scheduler; a non-zero exit means at least one step failed.
func main() {
	cfg := config.FromEnv()
	log := logger.New(logger.ParseLevel(cfg.LogLevel))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()

	db, err := postgres.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}

	var (
		tokens retention.TokenStore
		audits audit.Store
	)
	if db != nil {
		defer db.Close()

		pg := auditpostgres.New(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			log.Error("audit schema setup failed", "error", err)
			os.Exit(1)
		}
		tokenStore := resettoken.NewPostgres(db)
		if err := tokenStore.EnsureSchema(ctx); err != nil {
			log.Error("reset token schema setup failed", "error", err)
			os.Exit(1)
		}
		tokens = tokenStore
		audits = pg
	} else {
		// Without a database there is nothing durable to clean, but the run
		// still executes so the scheduling path can be exercised end to end.
		log.Warn("no DATABASE_URL set, retention runs against empty in-memory stores")
		tokens = resettoken.New()
		audits = auditmemory.New()
	}

	publisher := audit.NewPublisher(audits, log)
	svc := retention.NewService(tokens, audits, publisher, log,
		retention.WithWindows(cfg.TokenWindow(), cfg.AuditWindow()))

	result := svc.Run(ctx)
	publisher.Close()

	out, _ := json.Marshal(result)
	os.Stdout.Write(append(out, '\n'))

	if !result.Success {
		os.Exit(1)
	}
}
