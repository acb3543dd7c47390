package socsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/hr_sync_backend/config"
	"bitbucket.org/mmdatafocus/hr_sync_backend/models"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// Pipeline runs one invocation of a claimed sync run: fetch (or load the chain
// snapshot), split, execute batches with cancellation checks and checkpoints,
// then finish or schedule a continuation when the execution budget runs out.
type Pipeline struct {
	Tracker     *Tracker
	Fetcher     Fetcher
	Credentials CredentialProvider
	Executor    *Executor
	Scheduler   *Scheduler
	Snapshots   SnapshotStore
	Settings    config.SyncSettings
	Logger      *logrus.Logger
	Now         func() time.Time
}

func (p *Pipeline) now() time.Time {
	if p.Now != nil {
		return p.Now()
	}
	return time.Now()
}

func (p *Pipeline) Run(ctx context.Context, runID uint) (err error) {
	started := p.now()
	var counters Counters
	logger := p.Logger.WithFields(logrus.Fields{"run_id": runID})

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync pipeline panic: %v", r)
		}
		if err == nil {
			return
		}
		if errors.Is(err, ErrRunCancelled) {
			logger.Info("sync cancelled; stopping")
			err = nil
			return
		}
		logger.WithField("processed", counters.Processed).Error("sync failed: " + err.Error())
		if ferr := p.Tracker.Fail(context.WithoutCancel(ctx), runID, counters, err); ferr != nil &&
			!errors.Is(ferr, ErrRunCancelled) && !errors.Is(ferr, ErrInvalidTransition) {
			config.LogError(p.Logger, "socsync", "Run", "write error status", logrus.Fields{"run_id": runID}, ferr)
		}
	}()

	run, err := p.Tracker.Get(ctx, runID)
	if err != nil {
		return err
	}
	counters = Counters{Processed: run.ProcessedRecords, Success: run.SuccessCount, Failed: run.FailedCount}
	logger = logger.WithFields(logrus.Fields{"owner": run.Owner, "kind": run.Kind, "chain_depth": run.ChainDepth})

	ctx, span := tracer.Start(ctx, "soc.sync.run", trace.WithAttributes(
		attribute.Int64("sync.run_id", int64(run.ID)),
		attribute.String("sync.kind", run.Kind),
		attribute.Int("sync.chain_depth", run.ChainDepth),
	))
	defer span.End()

	if err := p.checkCancelled(ctx, runID); err != nil {
		return err
	}

	ds, snapshotKey, err := p.loadDataset(ctx, run, logger)
	if err != nil {
		return err
	}

	if err := p.checkCancelled(ctx, runID); err != nil {
		return err
	}

	total := len(ds.Records)
	batches := SplitBatches(total, run.BatchSize)
	if err := p.Tracker.MarkProcessing(ctx, runID, total, len(batches), snapshotKey,
		fmt.Sprintf("Fetched %d records; processing %d batches", total, len(batches))); err != nil {
		return err
	}

	next := run.ResumeFromBatch
	if next < 0 {
		next = 0
	}
	if next > len(batches) {
		next = len(batches)
	}
	if floor := max(run.ResumeFromRecord, recordsBefore(batches, next)); counters.Processed < floor {
		counters.Processed = floor
	}
	if counters.Processed > total {
		counters.Processed = total
	}

	groupSize := 1
	if run.Parallel {
		groupSize = max(run.MaxConcurrent, 1)
	}

	didWork := false
	for next < len(batches) {
		if didWork && (p.budgetExhausted(started) || ctx.Err() != nil) {
			return p.continueLater(context.WithoutCancel(ctx), run, next, counters, total, len(batches), snapshotKey, logger)
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := p.checkCancelled(ctx, runID); err != nil {
			return err
		}

		group := nextGroup(batches, next, groupSize)
		res := p.runGroup(ctx, run, group, ds.Records, logger)
		for _, b := range group {
			counters.Processed += b.Len()
		}
		counters.Success += res.Success
		counters.Failed += res.Failed
		next += len(group)
		didWork = true

		msg := fmt.Sprintf("Processed batch %d of %d (%d/%d records)", next, len(batches), counters.Processed, total)
		if err := p.Tracker.RecordProgress(ctx, runID, counters, next, msg); err != nil {
			return err
		}
	}

	return p.finish(ctx, run, counters, total, snapshotKey, logger)
}

func (p *Pipeline) budgetExhausted(started time.Time) bool {
	return p.now().Sub(started) >= p.Settings.ExecutionBudget-p.Settings.SafetyMargin
}

func (p *Pipeline) checkCancelled(ctx context.Context, runID uint) error {
	cancelled, err := p.Tracker.IsCancelled(ctx, runID)
	if err != nil {
		return err
	}
	if cancelled {
		return ErrRunCancelled
	}
	return nil
}

// loadDataset prefers the chain snapshot and falls back to a fresh fetch.
func (p *Pipeline) loadDataset(ctx context.Context, run *models.SyncRun, logger *logrus.Entry) (*Dataset, string, error) {
	if p.Snapshots != nil && run.SnapshotKey != "" {
		raw, err := p.Snapshots.Load(ctx, run.SnapshotKey)
		if err == nil {
			ds, perr := ParseDataset(raw)
			if perr == nil {
				return ds, run.SnapshotKey, nil
			}
			err = perr
		}
		logger.Warn("snapshot unavailable; refetching: " + err.Error())
	}

	params, err := p.Credentials.Resolve(ctx, run.Kind, run.Owner, Period{Start: run.PeriodStart, End: run.PeriodEnd})
	if err != nil {
		return nil, "", err
	}
	ds, err := p.Fetcher.Fetch(ctx, run.Kind, params)
	if err != nil {
		return nil, "", err
	}

	key := ""
	if p.Snapshots != nil {
		key = SnapshotKey(*run)
		if err := p.Snapshots.Save(ctx, key, ds.Raw); err != nil {
			logger.Warn("snapshot not saved; continuations will refetch: " + err.Error())
			key = ""
		}
	}
	return ds, key, nil
}

// runGroup executes a group of batches; with more than one batch they run concurrently.
func (p *Pipeline) runGroup(ctx context.Context, run *models.SyncRun, group []BatchRange, records []gjson.Result, logger *logrus.Entry) BatchResult {
	if len(group) == 1 {
		b := group[0]
		return p.Executor.Execute(ctx, run, b, records[b.Start:b.End])
	}

	results := make([]BatchResult, len(group))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(len(group))
	for i, b := range group {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i] = BatchResult{Failed: b.Len()}
					logger.WithField("batch", b.Index).Error(fmt.Sprintf("batch panic: %v", r))
				}
			}()
			results[i] = p.Executor.Execute(gctx, run, b, records[b.Start:b.End])
			return nil
		})
	}
	_ = g.Wait()

	var sum BatchResult
	for _, r := range results {
		sum.Add(r)
	}
	return sum
}

func (p *Pipeline) continueLater(ctx context.Context, run *models.SyncRun, next int, c Counters, total, totalBatches int, snapshotKey string, logger *logrus.Entry) error {
	child, err := p.Scheduler.Schedule(ctx, ContinuationRequest{
		Parent:       run,
		NextBatch:    next,
		Counters:     c,
		TotalRecords: total,
		TotalBatches: totalBatches,
		SnapshotKey:  snapshotKey,
	})
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"next_batch":   next,
		"processed":    c.Processed,
		"child_run_id": child.ID,
	}).Info("execution budget reached; continuation scheduled")
	return nil
}

func (p *Pipeline) finish(ctx context.Context, run *models.SyncRun, c Counters, total int, snapshotKey string, logger *logrus.Entry) error {
	status := finalStatus(c)
	var message, detail string
	switch {
	case total == 0:
		message = "Sync completed: SOC returned no records"
	case status == models.SyncStatusCompleted:
		message = fmt.Sprintf("Sync completed: %d records processed", c.Processed)
	case status == models.SyncStatusCompletedWithErrors:
		message = fmt.Sprintf("Sync completed with errors: %d succeeded, %d failed", c.Success, c.Failed)
		detail = fmt.Sprintf("%d of %d records failed; see the error report", c.Failed, c.Processed)
	default:
		message = fmt.Sprintf("Sync failed: none of the %d records could be stored", c.Processed)
		detail = fmt.Sprintf("%d of %d records failed; see the error report", c.Failed, c.Processed)
	}

	if err := p.Tracker.Finish(ctx, run.ID, status, c, message, detail); err != nil {
		return err
	}
	if p.Snapshots != nil && snapshotKey != "" {
		if err := p.Snapshots.Delete(ctx, snapshotKey); err != nil {
			logger.Warn("snapshot not deleted: " + err.Error())
		}
	}
	logger.WithFields(logrus.Fields{
		"status":    status,
		"processed": c.Processed,
		"success":   c.Success,
		"failed":    c.Failed,
	}).Info("sync finished")
	return nil
}

func finalStatus(c Counters) string {
	switch {
	case c.Failed > 0 && c.Success == 0:
		return models.SyncStatusError
	case c.Failed > 0:
		return models.SyncStatusCompletedWithErrors
	default:
		return models.SyncStatusCompleted
	}
}
