package socsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/hr_sync_backend/models"
	"bitbucket.org/mmdatafocus/hr_sync_backend/utils"
	"gorm.io/gorm"
)

// claimable statuses a pipeline invocation may fail from.
var failableStatuses = []string{
	models.SyncStatusPending,
	models.SyncStatusInProgress,
	models.SyncStatusContinues,
	models.SyncStatusProcessing,
}

// Counters is the cumulative progress of a run chain.
type Counters struct {
	Processed int
	Success   int
	Failed    int
}

// Tracker owns every write to sync_runs. All writes are conditional on the
// current status so a cancellation is never overwritten by a progress write.
type Tracker struct {
	DB  *gorm.DB
	Now func() time.Time
}

func (t *Tracker) now() time.Time {
	if t.Now != nil {
		return t.Now().UTC()
	}
	return time.Now().UTC()
}

func (t *Tracker) Create(ctx context.Context, run *models.SyncRun) error {
	now := t.now()
	run.CreatedAt = now
	run.UpdatedAt = now
	return t.DB.WithContext(ctx).Create(run).Error
}

func (t *Tracker) Get(ctx context.Context, id uint) (*models.SyncRun, error) {
	var run models.SyncRun
	if err := t.DB.WithContext(ctx).Where("id = ?", id).Take(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return &run, nil
}

func (t *Tracker) GetForOwner(ctx context.Context, id uint, owner string) (*models.SyncRun, error) {
	var run models.SyncRun
	if err := t.DB.WithContext(ctx).Where("id = ? AND owner = ?", id, owner).Take(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRunNotFound
		}
		return nil, err
	}
	return &run, nil
}

// IsCancelled is the cancellation monitor: a plain read of the run's status.
func (t *Tracker) IsCancelled(ctx context.Context, id uint) (bool, error) {
	var status string
	err := t.DB.WithContext(ctx).Model(&models.SyncRun{}).Where("id = ?", id).Pluck("status", &status).Error
	if err != nil {
		return false, err
	}
	return status == models.SyncStatusCancelled, nil
}

// Claim moves a run from one of from to status and stamps started_at.
func (t *Tracker) Claim(ctx context.Context, id uint, from []string, status, message string) error {
	now := t.now()
	return t.transition(ctx, id, from, map[string]interface{}{
		"status":       status,
		"message":      message,
		"started_at":   now,
		"updated_at":   now,
		"completed_at": nil,
	})
}

// MarkProcessing records the fetched dataset size.
func (t *Tracker) MarkProcessing(ctx context.Context, id uint, total, totalBatches int, snapshotKey, message string) error {
	values := map[string]interface{}{
		"status":        models.SyncStatusProcessing,
		"total_records": total,
		"total_batches": totalBatches,
		"message":       message,
		"updated_at":    t.now(),
	}
	if snapshotKey != "" {
		values["snapshot_key"] = snapshotKey
	}
	return t.transition(ctx, id, models.SyncRunningStatuses, values)
}

// RecordProgress checkpoints counters after a batch (sequential) or group (concurrent).
func (t *Tracker) RecordProgress(ctx context.Context, id uint, c Counters, nextBatch int, message string) error {
	return t.transition(ctx, id, []string{models.SyncStatusProcessing}, map[string]interface{}{
		"processed_records":   c.Processed,
		"success_count":       c.Success,
		"failed_count":        c.Failed,
		"current_batch_index": nextBatch,
		"message":             message,
		"updated_at":          t.now(),
	})
}

// Finish writes a terminal status, completed_at and the final counters.
func (t *Tracker) Finish(ctx context.Context, id uint, status string, c Counters, message, errorDetail string) error {
	now := t.now()
	return t.transition(ctx, id, models.SyncRunningStatuses, map[string]interface{}{
		"status":            status,
		"processed_records": c.Processed,
		"success_count":     c.Success,
		"failed_count":      c.Failed,
		"message":           message,
		"error_detail":      utils.Truncate(errorDetail, 2000),
		"updated_at":        now,
		"completed_at":      now,
	})
}

// Fail marks a run as error unless it has already reached another status.
func (t *Tracker) Fail(ctx context.Context, id uint, c Counters, cause error) error {
	now := t.now()
	message := fmt.Sprintf("Sync failed after %d records: %s", c.Processed, utils.Truncate(cause.Error(), 300))
	return t.transition(ctx, id, failableStatuses, map[string]interface{}{
		"status":       models.SyncStatusError,
		"message":      utils.Truncate(message, 500),
		"error_detail": utils.Truncate(cause.Error(), 2000),
		"updated_at":   now,
		"completed_at": now,
	})
}

// Cancel marks ids cancelled. Without force only active rows change, and the chain's
// needs_continuation parents follow only when something was still active. completed_at
// keeps its first value.
func (t *Tracker) Cancel(ctx context.Context, ids []uint, force bool, message string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	now := t.now()
	values := map[string]interface{}{
		"status":       models.SyncStatusCancelled,
		"message":      message,
		"updated_at":   now,
		"completed_at": gorm.Expr("COALESCE(completed_at, ?)", now),
	}
	if force {
		res := t.DB.WithContext(ctx).Model(&models.SyncRun{}).
			Where("id IN ? AND status <> ?", ids, models.SyncStatusCancelled).
			Updates(values)
		return res.RowsAffected, res.Error
	}

	var n int64
	err := t.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.SyncRun{}).
			Where("id IN ? AND status IN ?", ids, models.SyncActiveStatuses).
			Updates(values)
		if res.Error != nil || res.RowsAffected == 0 {
			return res.Error
		}
		n = res.RowsAffected
		res = tx.Model(&models.SyncRun{}).
			Where("id IN ? AND status = ?", ids, models.SyncStatusNeedsContinuation).
			Updates(values)
		n += res.RowsAffected
		return res.Error
	})
	return n, err
}

// ChainIDs returns every run id of the chain rooted at rootID.
func (t *Tracker) ChainIDs(ctx context.Context, rootID uint) ([]uint, error) {
	var ids []uint
	err := t.DB.WithContext(ctx).Model(&models.SyncRun{}).
		Where("id = ? OR root_run_id = ?", rootID, rootID).
		Order("id asc").
		Pluck("id", &ids).Error
	return ids, err
}

func (t *Tracker) transition(ctx context.Context, id uint, from []string, values map[string]interface{}) error {
	res := t.DB.WithContext(ctx).Model(&models.SyncRun{}).
		Where("id = ? AND status IN ?", id, from).
		Updates(values)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected > 0 {
		return nil
	}
	return t.explainNoop(ctx, id)
}

func (t *Tracker) explainNoop(ctx context.Context, id uint) error {
	var run models.SyncRun
	if err := t.DB.WithContext(ctx).Select("id", "status").Where("id = ?", id).Take(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrRunNotFound
		}
		return err
	}
	if run.Status == models.SyncStatusCancelled {
		return ErrRunCancelled
	}
	return fmt.Errorf("%w: run %d is %s", ErrInvalidTransition, id, run.Status)
}
