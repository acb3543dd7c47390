package socsync

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/hr_sync_backend/models"
	"bitbucket.org/mmdatafocus/hr_sync_backend/utils"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Publisher hands a continuation to whatever resumes it.
type Publisher interface {
	PublishContinuation(ctx context.Context, msg ContinuationMessage) (string, error)
}

// ContinuationRequest carries the exact resume coordinates captured at the budget check.
type ContinuationRequest struct {
	Parent       *models.SyncRun
	NextBatch    int
	Counters     Counters
	TotalRecords int
	TotalBatches int
	SnapshotKey  string
}

// Scheduler persists a continuation (parent transition, child run and outbox
// task in one transaction) and then tries to publish it right away. A failed
// publish leaves the task for the Dispatcher; the parent stays needs_continuation.
type Scheduler struct {
	DB             *gorm.DB
	Publisher      Publisher
	Logger         *logrus.Logger
	Now            func() time.Time
	InitialBackoff time.Duration
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *Scheduler) Schedule(ctx context.Context, req ContinuationRequest) (*models.SyncRun, error) {
	parent := req.Parent
	now := s.now()
	rootID := parent.ChainRootID()
	parentID := parent.ID

	child := models.SyncRun{
		Owner:             parent.Owner,
		Kind:              parent.Kind,
		Status:            models.SyncStatusPending,
		TriggeredBy:       models.SyncTriggeredContinuation,
		TotalRecords:      req.TotalRecords,
		ProcessedRecords:  req.Counters.Processed,
		SuccessCount:      req.Counters.Success,
		FailedCount:       req.Counters.Failed,
		CurrentBatchIndex: req.NextBatch,
		TotalBatches:      req.TotalBatches,
		BatchSize:         parent.BatchSize,
		Parallel:          parent.Parallel,
		MaxConcurrent:     parent.MaxConcurrent,
		ResumeFromBatch:   req.NextBatch,
		ResumeFromRecord:  req.Counters.Processed,
		PeriodStart:       parent.PeriodStart,
		PeriodEnd:         parent.PeriodEnd,
		SnapshotKey:       req.SnapshotKey,
		ParentRunId:       &parentID,
		RootRunId:         &rootID,
		ChainDepth:        parent.ChainDepth + 1,
		Message:           fmt.Sprintf("Waiting to resume at batch %d of %d", req.NextBatch+1, req.TotalBatches),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	var task models.ContinuationTask

	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&models.SyncRun{}).
			Where("id = ? AND status = ?", parent.ID, models.SyncStatusProcessing).
			Updates(map[string]interface{}{
				"status":              models.SyncStatusNeedsContinuation,
				"processed_records":   req.Counters.Processed,
				"success_count":       req.Counters.Success,
				"failed_count":        req.Counters.Failed,
				"current_batch_index": req.NextBatch,
				"message": fmt.Sprintf("Time budget reached after %d of %d records; continuing from batch %d",
					req.Counters.Processed, req.TotalRecords, req.NextBatch+1),
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return (&Tracker{DB: tx}).explainNoop(ctx, parent.ID)
		}
		if err := tx.Create(&child).Error; err != nil {
			return err
		}
		task = models.ContinuationTask{
			ChildRunId:    child.ID,
			ParentRunId:   parent.ID,
			Owner:         parent.Owner,
			Kind:          parent.Kind,
			PublishStatus: models.ContinuationPublishPending,
		}
		return tx.Create(&task).Error
	})
	if err != nil {
		return nil, err
	}

	s.publishNow(ctx, &task)
	return &child, nil
}

// publishNow is the fast path; the Dispatcher retries whatever it leaves behind.
func (s *Scheduler) publishNow(ctx context.Context, task *models.ContinuationTask) {
	if s.Publisher == nil {
		return
	}
	db := s.DB.WithContext(ctx)
	now := s.now()
	res := db.Model(&models.ContinuationTask{}).
		Where("id = ? AND publish_status = ?", task.ID, models.ContinuationPublishPending).
		Updates(map[string]interface{}{
			"publish_status":   models.ContinuationPublishProcessing,
			"locked_at":        now,
			"publish_attempts": gorm.Expr("publish_attempts + 1"),
		})
	if res.Error != nil || res.RowsAffected == 0 {
		return
	}

	msgID, err := s.Publisher.PublishContinuation(ctx, continuationMessage(*task))
	if err != nil {
		backoff := s.InitialBackoff
		if backoff <= 0 {
			backoff = 5 * time.Second
		}
		next := now.Add(backoff)
		msg := utils.Truncate(err.Error(), 2000)
		_ = db.Model(&models.ContinuationTask{}).Where("id = ?", task.ID).Updates(map[string]interface{}{
			"publish_status":     models.ContinuationPublishFailed,
			"last_publish_error": &msg,
			"next_attempt_at":    &next,
			"locked_at":          nil,
		}).Error
		if s.Logger != nil {
			s.Logger.WithFields(logrus.Fields{
				"run_id":  task.ChildRunId,
				"task_id": task.ID,
			}).Warn("continuation publish failed; left for dispatcher: " + err.Error())
		}
		return
	}
	_ = db.Model(&models.ContinuationTask{}).Where("id = ?", task.ID).Updates(map[string]interface{}{
		"publish_status":     models.ContinuationPublishSent,
		"published_at":       &now,
		"pub_sub_message_id": &msgID,
		"locked_at":          nil,
	}).Error
}

func continuationMessage(task models.ContinuationTask) ContinuationMessage {
	return ContinuationMessage{
		TaskId:      task.ID,
		RunId:       task.ChildRunId,
		ParentRunId: task.ParentRunId,
		Owner:       task.Owner,
		Kind:        task.Kind,
	}
}

// LocalPublisher resumes continuations in-process. Used when Pub/Sub is not configured.
type LocalPublisher struct {
	Resume func(ctx context.Context, runID uint) error
	Logger *logrus.Logger
}

func (p *LocalPublisher) PublishContinuation(ctx context.Context, msg ContinuationMessage) (string, error) {
	if p.Resume == nil {
		return "", fmt.Errorf("local publisher has no resume target")
	}
	go func() {
		if err := p.Resume(context.WithoutCancel(ctx), msg.RunId); err != nil && p.Logger != nil {
			p.Logger.WithFields(logrus.Fields{"run_id": msg.RunId}).Warn("local continuation not resumed: " + err.Error())
		}
	}()
	return fmt.Sprintf("local-%d", msg.TaskId), nil
}
