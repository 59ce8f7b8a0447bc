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
	dryRun := flag.Bool("dry-run", false, "Only report orphans and integrity; delete nothing.")
	asJSON := flag.Bool("json", false, "Print the result as JSON.")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = utils.SetCorrelationIdInContext(ctx, uuid.NewString())
	ctx = utils.SetJobActorInContext(ctx, "cli:sla-cleanup")

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
	if err := models.MigrateTable(db); err != nil {
		fmt.Fprintf(os.Stderr, "migrate analytics database: %v\n", err)
		os.Exit(1)
	}

	a := summary.NewAggregator(db, rdb, locker, config.LoadSettings(), config.GetLogger())

	var (
		out    interface{}
		report summary.IntegrityReport
	)
	if *dryRun {
		report, err = a.Integrity(ctx)
		out = report
	} else {
		var result summary.CleanupResult
		result, err = a.Cleanup(ctx)
		report = result.Integrity
		out = result
		if err == nil && !*asJSON {
			for _, o := range result.Orphans {
				fmt.Printf("removed %-6d rows for %s/%s: %s\n", o.SummaryRows, o.Brand, o.Country, o.Reason)
			}
			fmt.Printf("rows deleted=%d duration=%dms\n", result.RowsDeleted, result.DurationMs)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "cleanup failed: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(out)
		return
	}
	if *dryRun {
		for _, o := range report.Orphans {
			fmt.Printf("orphan %s/%s rows=%d: %s\n", o.Brand, o.Country, o.SummaryRows, o.Reason)
		}
	}
	for _, t := range report.TablesWithoutConfig {
		fmt.Printf("no tat config for %s\n", t.Name)
	}
	fmt.Printf("summary rows=%d unbalanced=%d order tables=%d\n", report.SummaryRows, report.UnbalancedRows, report.OrderTables)
}
