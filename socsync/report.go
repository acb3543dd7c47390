package socsync

import (
	"fmt"

	"bitbucket.org/mmdatafocus/hr_sync_backend/models"
	"github.com/xuri/excelize/v2"
)

const (
	reportSummarySheet = "Summary"
	reportErrorsSheet  = "Errors"
)

var reportErrorHeadings = []interface{}{
	"Batch", "Record", "Rows", "External code", "Error code", "Message", "Raw payload",
}

// BuildErrorReport writes the run summary and its per-record errors into a workbook.
func BuildErrorReport(run models.SyncRun, errs []models.SyncRecordError) (*excelize.File, error) {
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", reportSummarySheet); err != nil {
		return nil, err
	}

	summary := [][]interface{}{
		{"Sync id", run.ID},
		{"Type", run.Kind},
		{"Status", run.Status},
		{"Total records", run.TotalRecords},
		{"Processed", run.ProcessedRecords},
		{"Succeeded", run.SuccessCount},
		{"Failed", run.FailedCount},
		{"Message", run.Message},
	}
	for i, row := range summary {
		if err := f.SetSheetRow(reportSummarySheet, fmt.Sprintf("A%d", i+1), &row); err != nil {
			return nil, err
		}
	}

	if _, err := f.NewSheet(reportErrorsSheet); err != nil {
		return nil, err
	}
	if err := f.SetSheetRow(reportErrorsSheet, "A1", &reportErrorHeadings); err != nil {
		return nil, err
	}
	for i, e := range errs {
		row := []interface{}{
			e.BatchIndex + 1,
			e.RecordIndex + 1,
			e.RecordCount,
			e.ExternalCode,
			e.ErrorCode,
			e.Message,
			e.RawPayload,
		}
		if err := f.SetSheetRow(reportErrorsSheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return nil, err
		}
	}
	if err := f.SetColWidth(reportErrorsSheet, "F", "G", 60); err != nil {
		return nil, err
	}
	return f, nil
}
