package socsync

import (
	"context"
	"fmt"
	"time"

	"bitbucket.org/mmdatafocus/hr_sync_backend/config"
	"bitbucket.org/mmdatafocus/hr_sync_backend/models"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Reaper fails runs whose invocation died without writing a terminal status.
// Pending and needs_continuation rows are left to the dispatcher.
type Reaper struct {
	DB         *gorm.DB
	Logger     *logrus.Logger
	StaleAfter time.Duration
	Now        func() time.Time
}

func (r *Reaper) now() time.Time {
	if r.Now != nil {
		return r.Now().UTC()
	}
	return time.Now().UTC()
}

func (r *Reaper) ReapOnce(ctx context.Context) (int64, error) {
	now := r.now()
	cutoff := now.Add(-r.StaleAfter)
	res := r.DB.WithContext(ctx).Model(&models.SyncRun{}).
		Where("status IN ? AND updated_at < ?", models.SyncRunningStatuses, cutoff).
		Updates(map[string]interface{}{
			"status":       models.SyncStatusError,
			"message":      fmt.Sprintf("Stale run: no progress for %s", r.StaleAfter),
			"error_detail": "stale run",
			"updated_at":   now,
			"completed_at": now,
		})
	if res.Error != nil {
		return 0, res.Error
	}
	if res.RowsAffected > 0 && r.Logger != nil {
		r.Logger.WithFields(logrus.Fields{"reaped": res.RowsAffected, "cutoff": cutoff}).Warn("stale sync runs marked as error")
	}
	return res.RowsAffected, nil
}

// Start schedules ReapOnce on a cron schedule such as "@every 1m".
func (r *Reaper) Start(schedule string) (*cron.Cron, error) {
	c := cron.New()
	_, err := c.AddFunc(schedule, func() {
		if _, err := r.ReapOnce(context.Background()); err != nil {
			config.LogError(r.Logger, "socsync", "Reaper", "reap stale runs", nil, err)
		}
	})
	if err != nil {
		return nil, err
	}
	c.Start()
	return c, nil
}
