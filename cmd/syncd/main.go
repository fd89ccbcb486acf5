package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/lumehealth/lume-sync/internal/config"
	synchandler "github.com/lumehealth/lume-sync/internal/handler/sync"
	"github.com/lumehealth/lume-sync/internal/repository/sqlite"
	"github.com/lumehealth/lume-sync/internal/router"
	auditsvc "github.com/lumehealth/lume-sync/internal/service/audit"
	syncsvc "github.com/lumehealth/lume-sync/internal/service/sync"
	"github.com/lumehealth/lume-sync/pkg/auth"
	"github.com/lumehealth/lume-sync/pkg/logger"
	"github.com/lumehealth/lume-sync/pkg/metrics"
	"github.com/lumehealth/lume-sync/pkg/remote"
	"github.com/lumehealth/lume-sync/pkg/worker"
)

func main() {
	log := logger.NewLogger(nil)

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err, "failed to load config")
	}

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		log.Fatal(err, "failed to open database")
	}
	defer db.Close()

	m := metrics.New("lume_sync")
	registry := prometheus.NewRegistry()
	m.Register(registry)

	base := sqlite.NewBaseRepository(db)
	progressRepo := sqlite.NewProgressRepository(base)
	moodRepo := sqlite.NewMoodRepository(base)
	workoutRepo := sqlite.NewWorkoutRepository(base)
	mealRepo := sqlite.NewMealRepository(base)
	outboxRepo := sqlite.NewOutboxRepository(base)
	auditRepo := sqlite.NewAuditRepository(base)

	tokenStore, err := auth.NewFileTokenStore(cfg.Auth.TokenFile, cfg.Secrets.TokenKey)
	if err != nil {
		log.Fatal(err, "failed to open token store")
	}
	tokens, err := auth.NewManager(tokenStore, log, m, func() {
		log.Warn("session terminated, sign in again to resume syncing")
	})
	if err != nil {
		log.Fatal(err, "failed to initialize token manager")
	}

	client := remote.NewClient(remote.Config{
		BaseURL: cfg.Remote.BaseURL,
		APIKey:  cfg.Secrets.APIKey,
		Timeout: cfg.Remote.Timeout,
	}, tokens, log, m)

	dispatcher := syncsvc.NewService(progressRepo, moodRepo, workoutRepo, mealRepo, client, log)
	auditor := auditsvc.NewService(auditRepo, outboxRepo, client, log)

	processor := worker.NewOutboxProcessor(outboxRepo, dispatcher, worker.OutboxProcessorConfig{
		UserID:        cfg.UserID(),
		BatchSize:     cfg.Outbox.BatchSize,
		PollInterval:  cfg.Outbox.PollInterval,
		PushTimeout:   cfg.Outbox.PushTimeout,
		ReclaimGrace:  cfg.Outbox.ReclaimGrace,
		Concurrency:   cfg.Outbox.Concurrency,
		RatePerSecond: cfg.Outbox.RatePerSecond,
	}, log, m)

	handler := synchandler.NewHandler(
		outboxRepo, progressRepo, moodRepo, workoutRepo, mealRepo,
		auditor, tokens, cfg.UserID(), log,
	)

	srv := &http.Server{
		Addr:    cfg.Server.Addr,
		Handler: router.New(db, handler, registry, log),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := processor.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error(err, "outbox processor stopped")
		}
	}()

	go func() {
		log.Info("diagnostics server listening", "addr", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err, "diagnostics server failed")
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error(err, "diagnostics server shutdown failed")
	}
}
