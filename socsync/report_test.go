package socsync

import (
	"testing"

	"bitbucket.org/mmdatafocus/hr_sync_backend/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildErrorReport(t *testing.T) {
	run := models.SyncRun{ID: 12, Kind: models.SyncKindEmployee, Status: models.SyncStatusCompletedWithErrors, TotalRecords: 130, ProcessedRecords: 130, SuccessCount: 127, FailedCount: 3}
	errs := []models.SyncRecordError{
		{BatchIndex: 0, RecordIndex: 4, RecordCount: 1, ExternalCode: "X5", ErrorCode: models.SyncErrorInvalidRecord, Message: "record 4: field CODIGO is not numeric", RawPayload: `{"CODIGO":"X5"}`},
		{BatchIndex: 2, RecordIndex: 100, RecordCount: 2, ErrorCode: models.SyncErrorSubBatchFailed, Message: "deadlock"},
	}

	f, err := BuildErrorReport(run, errs)
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{"Summary", "Errors"}, f.GetSheetList())

	status, err := f.GetCellValue("Summary", "B3")
	require.NoError(t, err)
	assert.Equal(t, models.SyncStatusCompletedWithErrors, status)

	rows, err := f.GetRows("Errors")
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, []string{"Batch", "Record", "Rows", "External code", "Error code", "Message", "Raw payload"}, rows[0])
	assert.Equal(t, []string{"1", "5", "1", "X5", "invalid_record", "record 4: field CODIGO is not numeric", `{"CODIGO":"X5"}`}, rows[1])
	assert.Equal(t, "3", rows[2][0])
	assert.Equal(t, "101", rows[2][1])
	assert.Equal(t, "sub_batch_failed", rows[2][4])
}

func TestBuildErrorReportWithoutErrors(t *testing.T) {
	f, err := BuildErrorReport(models.SyncRun{ID: 1, Status: models.SyncStatusCompleted}, nil)
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows("Errors")
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
