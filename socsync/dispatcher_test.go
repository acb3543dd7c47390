package socsync

import (
	"context"
	"errors"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/hr_sync_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func laterClock(d time.Duration) func() time.Time {
	return func() time.Time { return time.Now().Add(d) }
}

// loadTask reads into a fresh struct so columns reset to NULL are not masked by stale fields.
func loadTask(t *testing.T, env *testEnv, id uint) models.ContinuationTask {
	t.Helper()
	var task models.ContinuationTask
	require.NoError(t, env.db.First(&task, id).Error)
	return task
}

func TestSchedulerPublishFailureLeavesTaskForDispatcher(t *testing.T) {
	env := newTestEnv(t, companiesJSON(60))
	env.publisher.err = errors.New("pubsub unavailable")
	env.svc.Pipeline.Now = newSteppingClock(100 * time.Second).Now

	parent, err := env.svc.Start(context.Background(), testOwner, StartRequest{Type: "company", BatchSize: intPtr(10)})
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusNeedsContinuation, env.run(t, parent.ID).Status)

	var task models.ContinuationTask
	require.NoError(t, env.db.Where("parent_run_id = ?", parent.ID).Take(&task).Error)
	assert.Equal(t, models.ContinuationPublishFailed, task.PublishStatus)
	assert.Equal(t, 1, task.PublishAttempts)
	require.NotNil(t, task.LastPublishError)
	assert.Contains(t, *task.LastPublishError, "pubsub unavailable")
	require.NotNil(t, task.NextAttemptAt)

	d := NewDispatcher(env.db, env.publisher, testLogger())

	// not due yet
	assert.Equal(t, 0, d.DispatchOnce(context.Background()))

	env.publisher.err = nil
	d.Now = laterClock(time.Minute)
	assert.Equal(t, 1, d.DispatchOnce(context.Background()))

	task = loadTask(t, env, task.ID)
	assert.Equal(t, models.ContinuationPublishSent, task.PublishStatus)
	assert.Equal(t, 2, task.PublishAttempts)
	require.NotNil(t, task.PubSubMessageId)
	assert.Nil(t, task.LockedAt)

	msgs := env.publisher.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, task.ChildRunId, msgs[0].RunId)

	// sent tasks are never picked again
	d.Now = laterClock(time.Hour)
	assert.Equal(t, 0, d.DispatchOnce(context.Background()))

	require.NoError(t, env.svc.Resume(context.Background(), msgs[0].RunId))
	assert.Equal(t, models.SyncStatusCompleted, env.run(t, msgs[0].RunId).Status)
}

func TestDispatcherMovesTaskToDeadAfterMaxAttempts(t *testing.T) {
	env := newTestEnv(t, companiesJSON(60))
	env.publisher.err = errors.New("permission denied")
	env.svc.Pipeline.Now = newSteppingClock(100 * time.Second).Now

	_, err := env.svc.Start(context.Background(), testOwner, StartRequest{Type: "company", BatchSize: intPtr(10)})
	require.NoError(t, err)

	d := NewDispatcher(env.db, env.publisher, testLogger())
	d.MaxAttempts = 3

	d.Now = laterClock(time.Minute)
	assert.Equal(t, 0, d.DispatchOnce(context.Background()))
	var first models.ContinuationTask
	require.NoError(t, env.db.Take(&first).Error)
	task := loadTask(t, env, first.ID)
	assert.Equal(t, models.ContinuationPublishFailed, task.PublishStatus)
	assert.Equal(t, 2, task.PublishAttempts)
	require.NotNil(t, task.NextAttemptAt)

	d.Now = laterClock(time.Hour)
	assert.Equal(t, 0, d.DispatchOnce(context.Background()))
	task = loadTask(t, env, first.ID)
	assert.Equal(t, models.ContinuationPublishDead, task.PublishStatus)
	assert.Equal(t, 3, task.PublishAttempts)
	assert.Nil(t, task.NextAttemptAt)

	d.Now = laterClock(24 * time.Hour)
	assert.Equal(t, 0, d.DispatchOnce(context.Background()))
	task = loadTask(t, env, first.ID)
	assert.Equal(t, 3, task.PublishAttempts)
}

func TestDispatcherReclaimsStaleProcessingTask(t *testing.T) {
	db := newTestDB(t)
	locked := time.Now().UTC().Add(-time.Hour)
	task := models.ContinuationTask{
		ChildRunId:      7,
		ParentRunId:     6,
		Owner:           testOwner,
		Kind:            models.SyncKindCompany,
		PublishStatus:   models.ContinuationPublishProcessing,
		PublishAttempts: 1,
		LockedAt:        &locked,
	}
	require.NoError(t, db.Create(&task).Error)

	pub := &recordingPublisher{}
	d := NewDispatcher(db, pub, testLogger())
	assert.Equal(t, 1, d.DispatchOnce(context.Background()))

	msgs := pub.Messages()
	require.Len(t, msgs, 1)
	assert.EqualValues(t, 7, msgs[0].RunId)
	assert.EqualValues(t, 6, msgs[0].ParentRunId)
}

func TestDispatcherRunStopsWithContext(t *testing.T) {
	db := newTestDB(t)
	d := NewDispatcher(db, &recordingPublisher{}, testLogger())
	d.PollInterval = 10 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		d.Run(ctx)
		close(done)
	}()
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher did not stop")
	}
}
