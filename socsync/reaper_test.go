package socsync

import (
	"context"
	"testing"
	"time"

	"bitbucket.org/mmdatafocus/hr_sync_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReaperFailsStaleRunningRuns(t *testing.T) {
	db := newTestDB(t)
	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	old := now.Add(-30 * time.Minute)
	recent := now.Add(-time.Minute)

	runs := []*models.SyncRun{
		{Owner: testOwner, Kind: models.SyncKindCompany, Status: models.SyncStatusProcessing, UpdatedAt: old},
		{Owner: testOwner, Kind: models.SyncKindEmployee, Status: models.SyncStatusContinues, UpdatedAt: recent},
		{Owner: testOwner, Kind: models.SyncKindAbsenteeism, Status: models.SyncStatusPending, UpdatedAt: old},
		{Owner: "owner-b", Kind: models.SyncKindCompany, Status: models.SyncStatusNeedsContinuation, UpdatedAt: old},
		{Owner: "owner-b", Kind: models.SyncKindEmployee, Status: models.SyncStatusInProgress, UpdatedAt: old},
	}
	for _, r := range runs {
		r.CreatedAt = r.UpdatedAt
		require.NoError(t, db.Create(r).Error)
	}

	reaper := &Reaper{DB: db, Logger: testLogger(), StaleAfter: 10 * time.Minute, Now: func() time.Time { return now }}
	n, err := reaper.ReapOnce(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, n)

	var got []models.SyncRun
	require.NoError(t, db.Order("id").Find(&got).Error)
	assert.Equal(t, models.SyncStatusError, got[0].Status)
	assert.Equal(t, "Stale run: no progress for 10m0s", got[0].Message)
	assert.NotNil(t, got[0].CompletedAt)
	assert.Equal(t, models.SyncStatusContinues, got[1].Status)
	assert.Equal(t, models.SyncStatusPending, got[2].Status)
	assert.Equal(t, models.SyncStatusNeedsContinuation, got[3].Status)
	assert.Equal(t, models.SyncStatusError, got[4].Status)

	n, err = reaper.ReapOnce(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 0, n)
}

func TestReaperStartRejectsBadSchedule(t *testing.T) {
	reaper := &Reaper{DB: newTestDB(t), Logger: testLogger(), StaleAfter: time.Minute}
	_, err := reaper.Start("every now and then")
	assert.Error(t, err)

	c, err := reaper.Start("@every 1h")
	require.NoError(t, err)
	c.Stop()
}
