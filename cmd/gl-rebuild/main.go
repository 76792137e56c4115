// Command gl-rebuild is the deterministic rebuild CLI supplementing the
// engine's recovery path (spec.md §4.5, §10): replay a tenant's journal
// history over a date range and reinsert AccountBalance rows from scratch.
package main

import (
	"context"
	"database/sql"
	"flag"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/withobsrvr/gl-ledger/internal/balance"
	"github.com/withobsrvr/gl-ledger/internal/config"
)

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic("failed to initialize zap logger: " + err.Error())
	}
	defer logger.Sync()

	configPath := flag.String("config", "config.yaml", "path to the gl-consumer YAML config file")
	tenantID := flag.String("tenant", "", "tenant_id to rebuild")
	from := flag.String("from", "", "rebuild start date, YYYY-MM-DD (inclusive)")
	to := flag.String("to", "", "rebuild end date, YYYY-MM-DD (inclusive)")
	flag.Parse()

	if *tenantID == "" || *from == "" || *to == "" {
		logger.Fatal("tenant, from, and to are required")
	}

	fromDate, err := time.Parse("2006-01-02", *from)
	if err != nil {
		logger.Fatal("invalid --from date", zap.Error(err))
	}
	toDate, err := time.Parse("2006-01-02", *to)
	if err != nil {
		logger.Fatal("invalid --to date", zap.Error(err))
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("failed to load config", zap.Error(err))
	}

	db, err := sql.Open("postgres", cfg.Database.ConnectionString())
	if err != nil {
		logger.Fatal("failed to open database", zap.Error(err))
	}
	defer db.Close()

	ctx := context.Background()
	now := time.Now().UTC()
	if err := balance.RebuildRange(ctx, db, *tenantID, fromDate, toDate, now, logger); err != nil {
		logger.Fatal("rebuild failed", zap.Error(err))
	}

	logger.Info("rebuild complete", zap.String("tenant_id", *tenantID), zap.Time("from", fromDate), zap.Time("to", toDate))
}
