package models

import "time"

const (
	SyncKindCompany     = "company"
	SyncKindEmployee    = "employee"
	SyncKindAbsenteeism = "absenteeism"
)

const (
	SyncStatusPending             = "pending"
	SyncStatusInProgress          = "in_progress"
	SyncStatusContinues           = "continues"
	SyncStatusProcessing          = "processing"
	SyncStatusNeedsContinuation   = "needs_continuation"
	SyncStatusCompleted           = "completed"
	SyncStatusCompletedWithErrors = "completed_with_errors"
	SyncStatusError               = "error"
	SyncStatusCancelled           = "cancelled"
)

const (
	SyncTriggeredManual       = "manual"
	SyncTriggeredContinuation = "continuation"
	SyncTriggeredRetry        = "retry"
	SyncTriggeredAdmin        = "admin"
)

var (
	// SyncActiveStatuses block admission of a new run for the same owner/kind.
	// needs_continuation is final for its row; a live chain stays guarded through its
	// pending or running child, created in the same transaction.
	SyncActiveStatuses = []string{
		SyncStatusPending,
		SyncStatusInProgress,
		SyncStatusContinues,
		SyncStatusProcessing,
	}

	// SyncRunningStatuses are the statuses the pipeline itself writes from.
	SyncRunningStatuses = []string{
		SyncStatusInProgress,
		SyncStatusContinues,
		SyncStatusProcessing,
	}

	SyncTerminalStatuses = []string{
		SyncStatusCompleted,
		SyncStatusCompletedWithErrors,
		SyncStatusError,
		SyncStatusCancelled,
	}
)

func IsValidSyncKind(kind string) bool {
	switch kind {
	case SyncKindCompany, SyncKindEmployee, SyncKindAbsenteeism:
		return true
	}
	return false
}

func IsTerminalSyncStatus(status string) bool {
	for _, s := range SyncTerminalStatuses {
		if s == status {
			return true
		}
	}
	return false
}

// SyncRun is the checkpoint row of one pipeline invocation. Continuations
// form a linear chain through ParentRunId; RootRunId points at the first run.
type SyncRun struct {
	ID          uint   `gorm:"primary_key" json:"id"`
	Owner       string `gorm:"size:100;not null;index:idx_sync_runs_owner_kind_status,priority:1" json:"owner"`
	Kind        string `gorm:"size:20;not null;index:idx_sync_runs_owner_kind_status,priority:2" json:"kind"`
	Status      string `gorm:"size:30;not null;index:idx_sync_runs_owner_kind_status,priority:3" json:"status"`
	TriggeredBy string `gorm:"size:20" json:"triggered_by"`

	TotalRecords      int `gorm:"not null;default:0" json:"total_records"`
	ProcessedRecords  int `gorm:"not null;default:0" json:"processed_records"`
	SuccessCount      int `gorm:"not null;default:0" json:"success_count"`
	FailedCount       int `gorm:"not null;default:0" json:"failed_count"`
	CurrentBatchIndex int `gorm:"not null;default:0" json:"current_batch_index"`
	TotalBatches      int `gorm:"not null;default:0" json:"total_batches"`

	BatchSize        int    `gorm:"not null;default:0" json:"batch_size"`
	Parallel         bool   `gorm:"not null;default:false" json:"parallel"`
	MaxConcurrent    int    `gorm:"not null;default:0" json:"max_concurrent"`
	ResumeFromBatch  int    `gorm:"not null;default:0" json:"resume_from_batch"`
	ResumeFromRecord int    `gorm:"not null;default:0" json:"resume_from_record"`
	PeriodStart      string `gorm:"size:10" json:"period_start,omitempty"`
	PeriodEnd        string `gorm:"size:10" json:"period_end,omitempty"`
	SnapshotKey      string `gorm:"size:255" json:"snapshot_key,omitempty"`

	ParentRunId *uint `gorm:"uniqueIndex" json:"parent_run_id"`
	RootRunId   *uint `gorm:"index" json:"root_run_id"`
	ChainDepth  int   `gorm:"not null;default:0" json:"chain_depth"`

	Message     string     `gorm:"size:500" json:"message"`
	ErrorDetail string     `gorm:"type:text" json:"error_detail,omitempty"`
	StartedAt   *time.Time `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at"`
	CreatedAt   time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt   time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// ChainRootID is the id of the first run of the continuation chain.
func (r SyncRun) ChainRootID() uint {
	if r.RootRunId != nil {
		return *r.RootRunId
	}
	return r.ID
}

const (
	SyncErrorInvalidRecord  = "invalid_record"
	SyncErrorSubBatchFailed = "sub_batch_failed"
)

type SyncRecordError struct {
	ID           uint      `gorm:"primary_key" json:"id"`
	SyncRunId    uint      `gorm:"index;not null" json:"sync_run_id"`
	Owner        string    `gorm:"size:100;not null;index" json:"owner"`
	Kind         string    `gorm:"size:20;not null" json:"kind"`
	BatchIndex   int       `json:"batch_index"`
	RecordIndex  int       `json:"record_index"`
	RecordCount  int       `gorm:"not null;default:1" json:"record_count"`
	ExternalCode string    `gorm:"size:100" json:"external_code"`
	ErrorCode    string    `gorm:"size:30;not null" json:"error_code"`
	Message      string    `gorm:"type:text" json:"message"`
	RawPayload   string    `gorm:"type:text" json:"raw_payload,omitempty"`
	CreatedAt    time.Time `gorm:"autoCreateTime" json:"created_at"`
}
