package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mmdatafocus/sla_dashboard/config"
	"github.com/mmdatafocus/sla_dashboard/models"
	"github.com/mmdatafocus/sla_dashboard/summary"
	"github.com/mmdatafocus/sla_dashboard/utils"
)

func main() {
	brand := flag.String("brand", "", "Optional: backfill only this brand code. If empty, backfills all order tables.")
	country := flag.String("country", "", "Optional: backfill only this country code.")
	force := flag.Bool("force", false, "Regenerate tables that already have summary rows.")
	asJSON := flag.Bool("json", false, "Print the result as JSON.")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = utils.SetCorrelationIdInContext(ctx, uuid.NewString())
	ctx = utils.SetJobActorInContext(ctx, "cli:backfill-daily-summary")

	req := summary.GenerateRequest{Brand: *brand, Country: *country, Force: *force}
	if err := utils.ValidateStruct(req); err != nil {
		fmt.Fprintf(os.Stderr, "invalid flags: %v\n", utils.ProcessValidationErrors(err))
		os.Exit(2)
	}

	db, err := config.ConnectDatabaseWithRetry(ctx, config.AnalyticsDatabaseSettings())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect analytics database: %v\n", err)
		os.Exit(1)
	}
	defer config.CloseDatabase(db)

	rdb, locker, err := config.ConnectOptionalRedis(ctx, 30*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis unavailable, running without cache and job locks: %v\n", err)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// Ensure schema is up-to-date (creates sla_daily_summaries if missing).
	if err := models.MigrateTable(db); err != nil {
		fmt.Fprintf(os.Stderr, "migrate analytics database: %v\n", err)
		os.Exit(1)
	}

	a := summary.NewAggregator(db, rdb, locker, config.LoadSettings(), config.GetLogger())
	result, err := a.Generate(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "backfill failed: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
	} else {
		for _, t := range result.Tables {
			switch {
			case t.Skipped:
				fmt.Printf("%-32s skipped (summaries exist; use -force)\n", t.Table)
			case !t.Success:
				fmt.Printf("%-32s FAILED: %s\n", t.Table, t.Error)
			default:
				note := ""
				if !t.HasTatConfig {
					note = " (no tat config: totals only)"
				}
				fmt.Printf("%-32s orders=%-8d rows=%-6d replaced=%d%s\n", t.Table, t.OrdersScanned, t.RowsWritten, t.RowsReplaced, note)
			}
		}
		fmt.Printf("tables=%d generated=%d skipped=%d failed=%d rows=%d duration=%dms\n",
			result.TablesTotal, result.TablesGenerated, result.TablesSkipped, result.TablesFailed,
			result.RowsWritten, result.DurationMs)
	}
	if result.TablesFailed > 0 || result.Canceled {
		os.Exit(3)
	}
	fmt.Println("Backfill complete")
}
