package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"bitbucket.org/mmdatafocus/hr_sync_backend/config"
	"bitbucket.org/mmdatafocus/hr_sync_backend/models"
	"bitbucket.org/mmdatafocus/hr_sync_backend/socsync"
	"bitbucket.org/mmdatafocus/hr_sync_backend/utils"
)

const usage = `usage: soc-sync-admin <command> [flags]

commands:
  status    --run-id N              print a run and its chain
  cancel    --run-id N [--force]    cancel a run chain
  resume    --run-id N              resume a pending continuation in this process
  dispatch                          publish due continuation tasks once
  reap                              mark stale runs as error once
  migrate                           run AutoMigrate
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	cmd := os.Args[1]

	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	runID := fs.Uint("run-id", 0, "sync run id")
	force := fs.Bool("force", false, "cancel terminal runs too")
	_ = fs.Parse(os.Args[2:])

	logger := config.GetLogger()
	config.ConnectDatabaseWithRetry()
	db := config.GetDB()
	if db == nil {
		fmt.Fprintln(os.Stderr, "database not initialized")
		os.Exit(1)
	}

	// Operators act across owners.
	ctx := utils.SetSkipOwnerScopeInContext(context.Background(), true)

	if cmd == "migrate" {
		if err := models.AutoMigrate(db); err != nil {
			fail("migrate", err)
		}
		fmt.Println("migrated")
		return
	}

	svc, cleanup, err := socsync.Bootstrap(ctx, logger)
	if err != nil {
		fail("bootstrap", err)
	}
	defer cleanup()

	switch cmd {
	case "status":
		requireRunID(*runID)
		printChain(ctx, svc, uint(*runID))

	case "cancel":
		requireRunID(*runID)
		run, err := svc.Tracker.Get(ctx, uint(*runID))
		if err != nil {
			fail("cancel", err)
		}
		if _, err := svc.Cancel(ctx, run.Owner, run.ID, *force); err != nil {
			fail("cancel", err)
		}
		printChain(ctx, svc, run.ID)

	case "resume":
		requireRunID(*runID)
		if err := svc.Resume(ctx, uint(*runID)); err != nil {
			fail("resume", err)
		}
		printChain(ctx, svc, uint(*runID))

	case "dispatch":
		n := socsync.NewDispatcher(db, svc.Scheduler.Publisher, logger).DispatchOnce(ctx)
		fmt.Printf("published %d continuation tasks\n", n)

	case "reap":
		reaper := &socsync.Reaper{DB: db, Logger: logger, StaleAfter: svc.Settings.StaleAfter}
		n, err := reaper.ReapOnce(ctx)
		if err != nil {
			fail("reap", err)
		}
		fmt.Printf("reaped %d stale runs\n", n)

	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
}

func requireRunID(id uint) {
	if id == 0 {
		fmt.Fprintln(os.Stderr, "--run-id is required")
		os.Exit(1)
	}
}

func fail(op string, err error) {
	fmt.Fprintf(os.Stderr, "%s failed: %v\n", op, err)
	os.Exit(1)
}

func printChain(ctx context.Context, svc *socsync.Service, id uint) {
	run, err := svc.Tracker.Get(ctx, id)
	if err != nil {
		fail("status", err)
	}
	ids, err := svc.Tracker.ChainIDs(ctx, run.ChainRootID())
	if err != nil {
		fail("status", err)
	}
	for _, chainID := range ids {
		r, err := svc.Tracker.Get(ctx, chainID)
		if err != nil {
			fail("status", err)
		}
		marker := " "
		if r.ID == id {
			marker = "*"
		}
		fmt.Printf("%s id=%d owner=%s kind=%s status=%s depth=%d batch=%d/%d processed=%d/%d success=%d failed=%d message=%q\n",
			marker, r.ID, r.Owner, r.Kind, r.Status, r.ChainDepth, r.CurrentBatchIndex, r.TotalBatches,
			r.ProcessedRecords, r.TotalRecords, r.SuccessCount, r.FailedCount, strings.TrimSpace(r.Message))
	}
}
