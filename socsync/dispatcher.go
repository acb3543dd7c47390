package socsync

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/hr_sync_backend/config"
	"bitbucket.org/mmdatafocus/hr_sync_backend/models"
	"bitbucket.org/mmdatafocus/hr_sync_backend/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Dispatcher republishes continuation tasks the scheduler could not deliver.
type Dispatcher struct {
	DB           *gorm.DB
	Publisher    Publisher
	Logger       *logrus.Logger
	DispatcherID string
	Now          func() time.Time

	BatchSize      int
	PollInterval   time.Duration
	LockTimeout    time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
}

func NewDispatcher(db *gorm.DB, publisher Publisher, logger *logrus.Logger) *Dispatcher {
	return &Dispatcher{
		DB:             db,
		Publisher:      publisher,
		Logger:         logger,
		DispatcherID:   uuid.NewString(),
		Now:            time.Now,
		BatchSize:      20,
		PollInterval:   2 * time.Second,
		LockTimeout:    30 * time.Second,
		MaxAttempts:    10,
		InitialBackoff: 5 * time.Second,
	}
}

func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return
		case <-time.After(d.PollInterval):
		}
	}
}

// DispatchOnce claims due tasks and publishes them. Returns how many were published.
func (d *Dispatcher) DispatchOnce(ctx context.Context) int {
	if d.DB == nil || d.Publisher == nil {
		return 0
	}
	now := d.Now().UTC()
	staleBefore := now.Add(-d.LockTimeout)

	var claimed []models.ContinuationTask
	err := d.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		// Eligible:
		// - PENDING / FAILED and ready to retry
		// - PROCESSING with a stale lock (publisher crashed mid-flight)
		q := tx.
			Where(`
				(
					publish_status IN ? AND (next_attempt_at IS NULL OR next_attempt_at <= ?)
				)
				OR
				(
					publish_status = ? AND locked_at IS NOT NULL AND locked_at <= ?
				)
			`, []string{models.ContinuationPublishPending, models.ContinuationPublishFailed}, now,
				models.ContinuationPublishProcessing, staleBefore).
			Order("id ASC").
			Limit(d.BatchSize)
		if tx.Dialector.Name() != "sqlite" {
			q = q.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"})
		}
		if err := q.Find(&claimed).Error; err != nil {
			return err
		}
		for i := range claimed {
			if d.MaxAttempts > 0 && claimed[i].PublishAttempts >= d.MaxAttempts {
				msg := fmt.Sprintf("max publish attempts exceeded (%d)", d.MaxAttempts)
				claimed[i].PublishStatus = models.ContinuationPublishDead
				if err := tx.Model(&models.ContinuationTask{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
					"publish_status":     models.ContinuationPublishDead,
					"last_publish_error": &msg,
					"next_attempt_at":    nil,
					"locked_at":          nil,
					"locked_by":          nil,
				}).Error; err != nil {
					return err
				}
				continue
			}
			claimed[i].PublishStatus = models.ContinuationPublishProcessing
			claimed[i].PublishAttempts++
			if err := tx.Model(&models.ContinuationTask{}).Where("id = ?", claimed[i].ID).Updates(map[string]interface{}{
				"publish_status":   models.ContinuationPublishProcessing,
				"locked_at":        now,
				"locked_by":        d.DispatcherID,
				"publish_attempts": gorm.Expr("publish_attempts + 1"),
				"next_attempt_at":  nil,
			}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		config.LogError(d.Logger, "socsync", "DispatchOnce", "claim continuation tasks", nil, err)
		return 0
	}

	published := 0
	for _, task := range claimed {
		if task.PublishStatus == models.ContinuationPublishDead {
			d.Logger.WithFields(logrus.Fields{"task_id": task.ID, "run_id": task.ChildRunId}).
				Error("continuation task moved to DEAD; run must be resumed manually")
			continue
		}
		msgID, pubErr := d.Publisher.PublishContinuation(ctx, continuationMessage(task))
		if pubErr != nil {
			d.markFailed(ctx, task, pubErr)
			continue
		}
		d.markSent(ctx, task.ID, msgID)
		published++
	}
	return published
}

func (d *Dispatcher) markSent(ctx context.Context, taskID uint, msgID string) {
	now := d.Now().UTC()
	_ = d.DB.WithContext(ctx).Model(&models.ContinuationTask{}).
		Where("id = ?", taskID).
		Updates(map[string]interface{}{
			"publish_status":     models.ContinuationPublishSent,
			"published_at":       &now,
			"pub_sub_message_id": &msgID,
			"locked_at":          nil,
			"locked_by":          nil,
			"next_attempt_at":    nil,
		}).Error
}

func (d *Dispatcher) markFailed(ctx context.Context, task models.ContinuationTask, err error) {
	now := d.Now().UTC()
	msg := utils.Truncate(err.Error(), 2000)
	values := map[string]interface{}{
		"publish_status":     models.ContinuationPublishFailed,
		"last_publish_error": &msg,
		"locked_at":          nil,
		"locked_by":          nil,
	}
	if d.MaxAttempts > 0 && task.PublishAttempts >= d.MaxAttempts {
		values["publish_status"] = models.ContinuationPublishDead
		values["next_attempt_at"] = nil
	} else {
		backoff := d.InitialBackoff
		for i := 1; i < task.PublishAttempts; i++ {
			backoff *= 2
			if backoff > 10*time.Minute {
				backoff = 10 * time.Minute
				break
			}
		}
		next := now.Add(backoff)
		values["next_attempt_at"] = &next
	}
	_ = d.DB.WithContext(ctx).Model(&models.ContinuationTask{}).Where("id = ?", task.ID).Updates(values).Error

	d.Logger.WithFields(logrus.Fields{
		"task_id": task.ID,
		"run_id":  task.ChildRunId,
		"attempt": task.PublishAttempts,
		"status":  values["publish_status"],
		"owner":   task.Owner,
		"kind":    task.Kind,
	}).Error("continuation publish failed: " + err.Error())
}
