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
	"github.com/mmdatafocus/sla_dashboard/etlsync"
	"github.com/mmdatafocus/sla_dashboard/models"
	"github.com/mmdatafocus/sla_dashboard/utils"
)

func main() {
	brand := flag.String("brand", "", "Optional: sync only this brand code.")
	country := flag.String("country", "", "Optional: sync only this country code.")
	force := flag.Bool("force", false, "Re-sync every row, ignoring the last successful sync.")
	asJSON := flag.Bool("json", false, "Print the result as JSON.")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = utils.SetCorrelationIdInContext(ctx, uuid.NewString())
	ctx = utils.SetJobActorInContext(ctx, "cli:etl-sync")

	req := etlsync.Request{Brand: *brand, Country: *country, Force: *force, TriggeredBy: models.SyncTriggeredCLI}
	if err := utils.ValidateStruct(req); err != nil {
		fmt.Fprintf(os.Stderr, "invalid flags: %v\n", utils.ProcessValidationErrors(err))
		os.Exit(2)
	}

	source, err := config.ConnectDatabaseWithRetry(ctx, config.MasterDatabaseSettings())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect master database: %v\n", err)
		os.Exit(1)
	}
	defer config.CloseDatabase(source)
	target, err := config.ConnectDatabaseWithRetry(ctx, config.AnalyticsDatabaseSettings())
	if err != nil {
		fmt.Fprintf(os.Stderr, "connect analytics database: %v\n", err)
		os.Exit(1)
	}
	defer config.CloseDatabase(target)

	rdb, locker, err := config.ConnectOptionalRedis(ctx, 30*time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis unavailable, running without job locks: %v\n", err)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	if err := models.MigrateTable(target); err != nil {
		fmt.Fprintf(os.Stderr, "migrate analytics database: %v\n", err)
		os.Exit(1)
	}

	s := etlsync.NewSynchronizer(source, target, locker, config.LoadSettings(), config.GetLogger())
	result, err := s.Run(ctx, req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "sync failed: %v\n", err)
		os.Exit(1)
	}

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		_ = enc.Encode(result)
	} else {
		for _, t := range result.Tables {
			status := "ok"
			if !t.Success {
				status = "FAILED: " + t.Error
			}
			fmt.Printf("%-32s processed=%-8d failed=%-8d %s\n", t.SourceTable, t.ProcessedCount, t.FailedCount, status)
		}
		fmt.Printf("run=%d status=%s tables=%d/%d records=%d failed=%d duration=%dms\n",
			result.RunId, result.Status, result.TablesSuccess, result.TablesTotal,
			result.RecordsSynced, result.RecordsFailed, result.DurationMs)
	}
	if result.HasFailures() {
		os.Exit(3)
	}
}
