package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"time"

	"github.com/jia-app/recoveryservice/internal/config"
	sharedlog "github.com/jia-app/recoveryservice/internal/log"
	"github.com/jia-app/recoveryservice/internal/recovery/repo/postgres"
	"github.com/jia-app/recoveryservice/internal/recovery/usecase"
)

// Recomputes daily recovery rollups for a date range. Rollups are
// upserted per (date, campaign_type, segment), so reruns are safe.
func main() {
	configPath := flag.String("config", "config.yaml", "path to the configuration file")
	from := flag.String("from", "", "first date to backfill (YYYY-MM-DD)")
	to := flag.String("to", "", "last date to backfill (YYYY-MM-DD), defaults to -from")
	flag.Parse()

	if *from == "" {
		log.Fatal("Usage: recovery-backfill -from 2026-08-01 [-to 2026-08-24]")
	}

	start, err := time.Parse("2006-01-02", *from)
	if err != nil {
		log.Fatalf("Invalid -from date: %v", err)
	}
	end := start
	if *to != "" {
		if end, err = time.Parse("2006-01-02", *to); err != nil {
			log.Fatalf("Invalid -to date: %v", err)
		}
	}
	if end.Before(start) {
		log.Fatal("-to must not be before -from")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := sharedlog.Init(cfg.Log.Level); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}

	ctx := context.Background()

	poolCfg := postgres.DefaultPoolConfig()
	poolCfg.DSN = cfg.Database.GetDSN()
	poolCfg.MaxConns = cfg.Database.MaxConns
	poolCfg.MinConns = cfg.Database.MinConns

	store, err := postgres.NewStore(ctx, poolCfg)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer store.Close()

	analytics := usecase.NewAnalytics(store.Analytics(), store.Failure(), store.Campaign())

	total := 0
	for date := start; !date.After(end); date = date.AddDate(0, 0, 1) {
		rows, err := analytics.GenerateDailyMetrics(ctx, date)
		if err != nil {
			log.Fatalf("Failed to generate metrics for %s: %v", date.Format("2006-01-02"), err)
		}
		total += len(rows)
		fmt.Printf("%s: %d rollup rows\n", date.Format("2006-01-02"), len(rows))
	}

	fmt.Printf("Backfill complete: %d rollup rows upserted\n", total)
}
