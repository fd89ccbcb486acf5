package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/lumehealth/lume-sync/internal/config"
	"github.com/lumehealth/lume-sync/internal/repository/sqlite"
	auditsvc "github.com/lumehealth/lume-sync/internal/service/audit"
	"github.com/lumehealth/lume-sync/pkg/auth"
	"github.com/lumehealth/lume-sync/pkg/logger"
	"github.com/lumehealth/lume-sync/pkg/metrics"
	"github.com/lumehealth/lume-sync/pkg/remote"
)

// syncctl runs one-shot maintenance commands against the local sync
// database while the daemon is stopped (or alongside it; all writes go
// through the same WAL database).
func main() {
	var (
		includeRemote = flag.Bool("remote", false, "include the remote divergence check (needs a session)")
		cleanup       = flag.Bool("cleanup", false, "delete orphaned outbox events instead of auditing")
		timeout       = flag.Duration("timeout", 60*time.Second, "overall command timeout")
	)
	flag.Parse()

	log := logger.NewLogger(&logger.Config{
		Level:  logger.WarnLevel,
		Output: os.Stderr,
	})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err, "failed to load config")
	}

	db, err := sqlite.Open(cfg.Database.Path)
	if err != nil {
		log.Fatal(err, "failed to open database")
	}
	defer db.Close()

	base := sqlite.NewBaseRepository(db)
	outboxRepo := sqlite.NewOutboxRepository(base)
	auditRepo := sqlite.NewAuditRepository(base)

	var lister auditsvc.Lister
	if *includeRemote {
		tokenStore, err := auth.NewFileTokenStore(cfg.Auth.TokenFile, cfg.Secrets.TokenKey)
		if err != nil {
			log.Fatal(err, "failed to open token store")
		}
		m := metrics.New("lume_sync")
		tokens, err := auth.NewManager(tokenStore, log, m, nil)
		if err != nil {
			log.Fatal(err, "failed to initialize token manager")
		}
		lister = remote.NewClient(remote.Config{
			BaseURL: cfg.Remote.BaseURL,
			APIKey:  cfg.Secrets.APIKey,
			Timeout: cfg.Remote.Timeout,
		}, tokens, log, m)
	}

	auditor := auditsvc.NewService(auditRepo, outboxRepo, lister, log)

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if *cleanup {
		removed, err := auditor.CleanupOrphans(ctx, cfg.UserID())
		if err != nil {
			log.Fatal(err, "cleanup failed")
		}
		fmt.Printf("removed %d orphaned events\n", removed)
		return
	}

	report, err := auditor.Run(ctx, cfg.UserID(), *includeRemote)
	if err != nil {
		log.Fatal(err, "audit failed")
	}

	out, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		log.Fatal(err, "failed to encode report")
	}
	fmt.Println(string(out))

	if !report.Clean() {
		os.Exit(1)
	}
}
