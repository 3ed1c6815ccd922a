package main

import (
	"context"
	"flag"
	"log"

	"github.com/bilheteria/backend/internal/config"
	"github.com/bilheteria/backend/internal/database"
	"github.com/bilheteria/backend/internal/store"
)

// One-shot CLI: deletes reconciliation outcome rows past the retention
// window. Kept off the reconcile hot path on purpose; run it from a
// maintenance schedule or by hand.
func main() {
	days := flag.Int("days", 0, "override retention window in days (default: configured value)")
	dryRun := flag.Bool("dry-run", false, "report what would be purged without deleting")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	retention := cfg.Reconcile.AuditRetentionDays
	if *days > 0 {
		retention = *days
	}

	db, err := database.NewPostgres(cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	audit := store.NewAudit(db)

	if *dryRun {
		outcomes, err := audit.ListRecent(context.Background(), 1)
		if err != nil {
			log.Fatalf("Failed to query audit store: %v", err)
		}
		log.Printf("Dry run: retention window is %d days (%d recent rows sampled), nothing deleted", retention, len(outcomes))
		return
	}

	count, err := audit.PurgeOlderThan(context.Background(), retention)
	if err != nil {
		log.Fatalf("Failed to purge outcomes: %v", err)
	}

	log.Printf("Purged %d reconciliation outcomes older than %d days", count, retention)
}
