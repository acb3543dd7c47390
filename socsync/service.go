package socsync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/hr_sync_backend/config"
	"bitbucket.org/mmdatafocus/hr_sync_backend/models"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

const periodLayout = "02/01/2006"

// Deps are the collaborators of a Service. Zero values get defaults in NewService.
type Deps struct {
	DB          *gorm.DB
	Logger      *logrus.Logger
	Settings    config.SyncSettings
	Fetcher     Fetcher
	Credentials CredentialProvider
	Publisher   Publisher
	Snapshots   SnapshotStore
	Locker      *redislock.Client
	Now         func() time.Time
}

// Service is the entry point used by the HTTP handlers, the Pub/Sub consumers and the admin CLI.
type Service struct {
	DB          *gorm.DB
	Logger      *logrus.Logger
	Settings    config.SyncSettings
	Tracker     *Tracker
	Guard       *Guard
	Scheduler   *Scheduler
	Pipeline    *Pipeline
	Credentials CredentialProvider

	// Launch runs a claimed pipeline invocation. Defaults to a new goroutine.
	Launch func(fn func())
	Now    func() time.Time
}

func NewService(d Deps) *Service {
	if d.Logger == nil {
		d.Logger = config.GetLogger()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Fetcher == nil {
		d.Fetcher = NewClient(d.Settings)
	}
	if d.Credentials == nil {
		d.Credentials = &DBCredentialProvider{DB: d.DB, DefaultBaseURL: d.Settings.BaseURL}
	}

	svc := &Service{
		DB:          d.DB,
		Logger:      d.Logger,
		Settings:    d.Settings,
		Credentials: d.Credentials,
		Now:         d.Now,
		Launch:      func(fn func()) { go fn() },
	}
	if d.Publisher == nil {
		d.Publisher = &LocalPublisher{Resume: svc.Resume, Logger: d.Logger}
	}

	svc.Tracker = &Tracker{DB: d.DB, Now: d.Now}
	svc.Guard = &Guard{DB: d.DB, Locker: d.Locker, Logger: d.Logger, Scope: d.Settings.GuardScope}
	svc.Scheduler = &Scheduler{DB: d.DB, Publisher: d.Publisher, Logger: d.Logger, Now: d.Now}
	svc.Pipeline = &Pipeline{
		Tracker:     svc.Tracker,
		Fetcher:     d.Fetcher,
		Credentials: d.Credentials,
		Executor: &Executor{
			DB:           d.DB,
			Logger:       d.Logger,
			SubBatchSize: d.Settings.SubBatchSize,
			PhoneRegion:  d.Settings.PhoneRegion,
		},
		Scheduler: svc.Scheduler,
		Snapshots: d.Snapshots,
		Settings:  d.Settings,
		Logger:    d.Logger,
		Now:       d.Now,
	}
	return svc
}

type runOptions struct {
	batchSize        int
	parallel         bool
	maxConcurrent    int
	resumeFromBatch  int
	resumeFromRecord int
}

func (s *Service) options(req StartRequest) (runOptions, error) {
	opts := runOptions{
		batchSize:     s.Settings.DefaultBatchSize,
		maxConcurrent: s.Settings.DefaultMaxConcurrent,
	}
	if req.BatchSize != nil {
		if *req.BatchSize < 1 || *req.BatchSize > s.Settings.MaxBatchSize {
			return opts, fmt.Errorf("%w: batchSize must be between 1 and %d", ErrInvalidRequest, s.Settings.MaxBatchSize)
		}
		opts.batchSize = *req.BatchSize
	}
	if req.MaxConcurrent != nil {
		if *req.MaxConcurrent < 1 || *req.MaxConcurrent > s.Settings.MaxConcurrentCap {
			return opts, fmt.Errorf("%w: maxConcurrent must be between 1 and %d", ErrInvalidRequest, s.Settings.MaxConcurrentCap)
		}
		opts.maxConcurrent = *req.MaxConcurrent
	}
	if req.Parallel != nil {
		opts.parallel = *req.Parallel
	}
	if req.ResumeFromBatch != nil {
		if *req.ResumeFromBatch < 0 {
			return opts, fmt.Errorf("%w: resumeFromBatch must not be negative", ErrInvalidRequest)
		}
		opts.resumeFromBatch = *req.ResumeFromBatch
	}
	if req.ResumeFromRecord != nil {
		if *req.ResumeFromRecord < 0 {
			return opts, fmt.Errorf("%w: resumeFromRecord must not be negative", ErrInvalidRequest)
		}
		opts.resumeFromRecord = *req.ResumeFromRecord
	}
	return opts, nil
}

// period resolves the absenteeism window. Defaults to the last twelve months.
func (s *Service) period(kind string, req StartRequest) (Period, error) {
	if kind != models.SyncKindAbsenteeism {
		return Period{}, nil
	}
	end := s.Now()
	var start time.Time
	var err error
	if strings.TrimSpace(req.EndDate) != "" {
		if end, err = parsePeriodDate(req.EndDate); err != nil {
			return Period{}, fmt.Errorf("%w: endDate %q", ErrInvalidRequest, req.EndDate)
		}
	}
	if strings.TrimSpace(req.StartDate) != "" {
		if start, err = parsePeriodDate(req.StartDate); err != nil {
			return Period{}, fmt.Errorf("%w: startDate %q", ErrInvalidRequest, req.StartDate)
		}
	} else {
		start = end.AddDate(-1, 0, 0)
	}
	if start.After(end) {
		return Period{}, fmt.Errorf("%w: startDate is after endDate", ErrInvalidRequest)
	}
	return Period{Start: start.Format(periodLayout), End: end.Format(periodLayout)}, nil
}

func parsePeriodDate(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if t, err := time.Parse(periodLayout, v); err == nil {
		return t, nil
	}
	return time.Parse("2006-01-02", v)
}

// Start admits and launches a sync. With SyncId set it resumes or retries that run instead.
func (s *Service) Start(ctx context.Context, owner string, req StartRequest) (*models.SyncRun, error) {
	if req.SyncId != nil {
		return s.restart(ctx, owner, *req.SyncId, req)
	}

	kind := strings.ToLower(strings.TrimSpace(req.Type))
	if !models.IsValidSyncKind(kind) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidKind, req.Type)
	}
	opts, err := s.options(req)
	if err != nil {
		return nil, err
	}
	period, err := s.period(kind, req)
	if err != nil {
		return nil, err
	}
	if _, err := s.Credentials.Resolve(ctx, kind, owner, period); err != nil {
		return nil, err
	}

	run, err := s.Guard.Admit(ctx, owner, kind, func(ctx context.Context) (*models.SyncRun, error) {
		run := &models.SyncRun{
			Owner:            owner,
			Kind:             kind,
			Status:           models.SyncStatusPending,
			TriggeredBy:      models.SyncTriggeredManual,
			BatchSize:        opts.batchSize,
			Parallel:         opts.parallel,
			MaxConcurrent:    opts.maxConcurrent,
			ResumeFromBatch:  opts.resumeFromBatch,
			ResumeFromRecord: opts.resumeFromRecord,
			PeriodStart:      period.Start,
			PeriodEnd:        period.End,
			Message:          "Sync queued",
		}
		if err := s.Tracker.Create(ctx, run); err != nil {
			return nil, err
		}
		return run, nil
	})
	if err != nil {
		return nil, err
	}

	s.launch(ctx, run.ID, models.SyncStatusInProgress, "Fetching records from SOC")
	return run, nil
}

func (s *Service) restart(ctx context.Context, owner string, id uint, req StartRequest) (*models.SyncRun, error) {
	run, err := s.Tracker.GetForOwner(ctx, id, owner)
	if err != nil {
		return nil, err
	}
	opts, err := s.options(req)
	if err != nil {
		return nil, err
	}

	switch run.Status {
	case models.SyncStatusPending:
		updates := map[string]interface{}{"updated_at": s.Now().UTC()}
		if req.ResumeFromBatch != nil {
			updates["resume_from_batch"] = opts.resumeFromBatch
		}
		if req.ResumeFromRecord != nil {
			updates["resume_from_record"] = opts.resumeFromRecord
		}
		res := s.DB.WithContext(ctx).Model(&models.SyncRun{}).
			Where("id = ? AND status = ?", run.ID, models.SyncStatusPending).
			Updates(updates)
		if res.Error != nil {
			return nil, res.Error
		}
		status := models.SyncStatusInProgress
		if run.ParentRunId != nil && run.TriggeredBy == models.SyncTriggeredContinuation {
			status = models.SyncStatusContinues
		}
		s.launch(ctx, run.ID, status, "Resuming sync")
		return s.Tracker.Get(ctx, run.ID)

	case models.SyncStatusNeedsContinuation:
		var child models.SyncRun
		err := s.DB.WithContext(ctx).Where("parent_run_id = ? AND owner = ?", run.ID, owner).Take(&child).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: run %d has no continuation", ErrInvalidTransition, run.ID)
		}
		if err != nil {
			return nil, err
		}
		if models.IsTerminalSyncStatus(child.Status) || child.Status == models.SyncStatusNeedsContinuation {
			return nil, fmt.Errorf("%w: continuation %d already %s", ErrInvalidTransition, child.ID, child.Status)
		}
		if child.Status != models.SyncStatusPending {
			return nil, &AlreadyRunningError{RunID: child.ID, Kind: child.Kind, Status: child.Status}
		}
		s.launch(ctx, child.ID, models.SyncStatusContinues, "Resuming sync")
		return s.Tracker.Get(ctx, child.ID)

	case models.SyncStatusError, models.SyncStatusCancelled:
		return s.retry(ctx, run, opts, req)

	case models.SyncStatusCompleted, models.SyncStatusCompletedWithErrors:
		return nil, fmt.Errorf("%w: run %d already %s", ErrInvalidTransition, run.ID, run.Status)

	default:
		return nil, &AlreadyRunningError{RunID: run.ID, Kind: run.Kind, Status: run.Status}
	}
}

// retry starts a new run in the failed run's chain, picking up at its last checkpoint.
func (s *Service) retry(ctx context.Context, failed *models.SyncRun, opts runOptions, req StartRequest) (*models.SyncRun, error) {
	period := Period{Start: failed.PeriodStart, End: failed.PeriodEnd}
	if _, err := s.Credentials.Resolve(ctx, failed.Kind, failed.Owner, period); err != nil {
		return nil, err
	}

	resumeBatch, resumeRecord := failed.CurrentBatchIndex, failed.ProcessedRecords
	counters := Counters{Processed: failed.ProcessedRecords, Success: failed.SuccessCount, Failed: failed.FailedCount}
	if req.ResumeFromBatch != nil {
		resumeBatch = opts.resumeFromBatch
		resumeRecord = opts.resumeFromRecord
		counters = Counters{Processed: resumeRecord}
	}
	if req.BatchSize == nil {
		opts.batchSize = failed.BatchSize
	}
	if req.Parallel == nil {
		opts.parallel = failed.Parallel
	}
	if req.MaxConcurrent == nil {
		opts.maxConcurrent = failed.MaxConcurrent
	}
	if opts.batchSize != failed.BatchSize && req.ResumeFromBatch == nil {
		// Batch indices only carry over with the same batch size.
		resumeBatch, resumeRecord, counters = 0, 0, Counters{}
	}

	parentID := failed.ID
	rootID := failed.ChainRootID()
	run, err := s.Guard.Admit(ctx, failed.Owner, failed.Kind, func(ctx context.Context) (*models.SyncRun, error) {
		run := &models.SyncRun{
			Owner:             failed.Owner,
			Kind:              failed.Kind,
			Status:            models.SyncStatusPending,
			TriggeredBy:       models.SyncTriggeredRetry,
			ProcessedRecords:  counters.Processed,
			SuccessCount:      counters.Success,
			FailedCount:       counters.Failed,
			CurrentBatchIndex: resumeBatch,
			BatchSize:         opts.batchSize,
			Parallel:          opts.parallel,
			MaxConcurrent:     opts.maxConcurrent,
			ResumeFromBatch:   resumeBatch,
			ResumeFromRecord:  resumeRecord,
			PeriodStart:       failed.PeriodStart,
			PeriodEnd:         failed.PeriodEnd,
			ParentRunId:       &parentID,
			RootRunId:         &rootID,
			ChainDepth:        failed.ChainDepth + 1,
			Message:           fmt.Sprintf("Retry of run %d queued", failed.ID),
		}
		if err := s.Tracker.Create(ctx, run); err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return nil, fmt.Errorf("%w: run %d was already retried", ErrInvalidTransition, failed.ID)
			}
			return nil, err
		}
		return run, nil
	})
	if err != nil {
		return nil, err
	}

	s.launch(ctx, run.ID, models.SyncStatusInProgress, "Fetching records from SOC")
	return run, nil
}

// launch claims a pending run and runs the pipeline outside the request lifetime.
func (s *Service) launch(ctx context.Context, runID uint, status, message string) {
	bg := context.WithoutCancel(ctx)
	s.Launch(func() {
		if err := s.Tracker.Claim(bg, runID, []string{models.SyncStatusPending}, status, message); err != nil {
			s.Logger.WithFields(logrus.Fields{"run_id": runID}).Warn("sync not claimed: " + err.Error())
			return
		}
		_ = s.Pipeline.Run(bg, runID)
	})
}

// Resume is the continuation consumer entry point. A run that is no longer
// pending was already claimed by an earlier delivery and is skipped.
func (s *Service) Resume(ctx context.Context, runID uint) error {
	err := s.Tracker.Claim(ctx, runID, []string{models.SyncStatusPending}, models.SyncStatusContinues, "Continuation resumed")
	switch {
	case err == nil:
	case errors.Is(err, ErrRunCancelled), errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrRunNotFound):
		s.Logger.WithFields(logrus.Fields{"run_id": runID}).Info("continuation skipped: " + err.Error())
		return nil
	default:
		return err
	}
	// Pipeline failures are recorded on the run itself; redelivery would not help.
	_ = s.Pipeline.Run(ctx, runID)
	return nil
}

// Cancel marks the run and every run of its chain cancelled.
func (s *Service) Cancel(ctx context.Context, owner string, id uint, force bool) (*models.SyncRun, error) {
	run, err := s.Tracker.GetForOwner(ctx, id, owner)
	if err != nil {
		return nil, err
	}
	ids, err := s.Tracker.ChainIDs(ctx, run.ChainRootID())
	if err != nil {
		return nil, err
	}
	n, err := s.Tracker.Cancel(ctx, ids, force, "Sync cancelled by user")
	if err != nil {
		return nil, err
	}
	s.Logger.WithFields(logrus.Fields{
		"run_id":  id,
		"owner":   owner,
		"force":   force,
		"updated": n,
	}).Info("sync cancel requested")
	return s.Tracker.Get(ctx, id)
}

func (s *Service) Status(ctx context.Context, owner string, id uint) (*models.SyncRun, error) {
	return s.Tracker.GetForOwner(ctx, id, owner)
}

func (s *Service) History(ctx context.Context, owner, kind string, limit int) ([]models.SyncRun, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	q := s.DB.WithContext(ctx).Where("owner = ?", owner)
	if kind != "" {
		if !models.IsValidSyncKind(kind) {
			return nil, fmt.Errorf("%w: %q", ErrInvalidKind, kind)
		}
		q = q.Where("kind = ?", kind)
	}
	var runs []models.SyncRun
	err := q.Order("id desc").Limit(limit).Find(&runs).Error
	return runs, err
}

// RecordErrors returns the per-record error log of a run.
func (s *Service) RecordErrors(ctx context.Context, owner string, id uint) (*models.SyncRun, []models.SyncRecordError, error) {
	run, err := s.Tracker.GetForOwner(ctx, id, owner)
	if err != nil {
		return nil, nil, err
	}
	var errs []models.SyncRecordError
	err = s.DB.WithContext(ctx).
		Where("sync_run_id = ? AND owner = ?", run.ID, owner).
		Order("batch_index asc, record_index asc").
		Find(&errs).Error
	return run, errs, err
}
