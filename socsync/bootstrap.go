package socsync

import (
	"context"

	"bitbucket.org/mmdatafocus/hr_sync_backend/config"
	"github.com/sirupsen/logrus"
)

// Bootstrap wires a Service from the env-driven config globals. The database
// (and redis, when used) must already be connected. The returned func releases
// the Pub/Sub topic and the storage client.
func Bootstrap(ctx context.Context, logger *logrus.Logger) (*Service, func(), error) {
	settings, err := config.LoadSyncSettings()
	if err != nil {
		return nil, nil, err
	}

	cleanup := func() {}
	deps := Deps{
		DB:       config.GetDB(),
		Logger:   logger,
		Settings: settings,
		Locker:   config.GetRedisLock(),
	}

	pub, err := NewPublisherFromSettings(ctx, settings)
	if err != nil {
		return nil, nil, err
	}
	if pub != nil {
		deps.Publisher = pub
		cleanup = pub.Stop
	}

	if settings.SnapshotBucket != "" {
		client, err := config.GetStorageClient(ctx)
		if err != nil {
			cleanup()
			return nil, nil, err
		}
		deps.Snapshots = &GCSSnapshotStore{Client: client, Bucket: settings.SnapshotBucket}
		prev := cleanup
		cleanup = func() {
			prev()
			_ = client.Close()
		}
	}

	logger.WithFields(logrus.Fields{
		"continuation_mode": settings.ContinuationMode,
		"guard_scope":       settings.GuardScope,
		"snapshots":         settings.SnapshotBucket != "",
		"budget":            settings.ExecutionBudget.String(),
	}).Info("soc sync service configured")
	return NewService(deps), cleanup, nil
}
