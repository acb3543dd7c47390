package socsync

import (
	"context"
	"errors"
	"time"

	"bitbucket.org/mmdatafocus/hr_sync_backend/config"
	"bitbucket.org/mmdatafocus/hr_sync_backend/models"
	"github.com/bsm/redislock"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// Guard admits at most one active run per (owner, kind), or per owner when
// Scope is config.GuardScopeOwner. When a redis locker is configured the
// check-and-create runs under a short lock so concurrent admissions cannot race.
type Guard struct {
	DB      *gorm.DB
	Locker  *redislock.Client
	Logger  *logrus.Logger
	Scope   string
	LockTTL time.Duration
}

func (g *Guard) lockKey(owner, kind string) string {
	if g.Scope == config.GuardScopeOwner {
		return "SocSyncAdmission:" + owner
	}
	return "SocSyncAdmission:" + owner + ":" + kind
}

// Admit runs create when no conflicting run is active.
func (g *Guard) Admit(ctx context.Context, owner, kind string, create func(ctx context.Context) (*models.SyncRun, error)) (*models.SyncRun, error) {
	if g.Locker != nil {
		ttl := g.LockTTL
		if ttl <= 0 {
			ttl = 10 * time.Second
		}
		lock, err := g.Locker.Obtain(ctx, g.lockKey(owner, kind), ttl, &redislock.Options{
			RetryStrategy: redislock.LimitRetry(redislock.LinearBackoff(50*time.Millisecond), 20),
		})
		switch {
		case errors.Is(err, redislock.ErrNotObtained):
			return nil, &AlreadyRunningError{Kind: kind}
		case err != nil:
			// Best effort: fall back to the plain existence check.
			if g.Logger != nil {
				g.Logger.WithFields(logrus.Fields{"owner": owner, "kind": kind}).Warn("admission lock unavailable: " + err.Error())
			}
		default:
			defer func() { _ = lock.Release(context.Background()) }()
		}
	}

	existing, err := g.ActiveRun(ctx, owner, kind)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, &AlreadyRunningError{RunID: existing.ID, Kind: existing.Kind, Status: existing.Status}
	}
	return create(ctx)
}

// ActiveRun returns the newest non-terminal run that conflicts with (owner, kind).
func (g *Guard) ActiveRun(ctx context.Context, owner, kind string) (*models.SyncRun, error) {
	q := g.DB.WithContext(ctx).
		Where("owner = ? AND status IN ?", owner, models.SyncActiveStatuses)
	if g.Scope != config.GuardScopeOwner {
		q = q.Where("kind = ?", kind)
	}
	var run models.SyncRun
	if err := q.Order("id desc").Take(&run).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}
