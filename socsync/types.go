package socsync

import "bitbucket.org/mmdatafocus/hr_sync_backend/models"

// StartRequest is the body of POST /api/soc/sync.
type StartRequest struct {
	Type             string `json:"type"`
	SyncId           *uint  `json:"syncId"`
	ResumeFromBatch  *int   `json:"resumeFromBatch"`
	ResumeFromRecord *int   `json:"resumeFromRecord"`
	Parallel         *bool  `json:"parallel"`
	BatchSize        *int   `json:"batchSize"`
	MaxConcurrent    *int   `json:"maxConcurrent"`
	StartDate        string `json:"startDate"`
	EndDate          string `json:"endDate"`
}

// SyncResponse is returned by the start and cancel endpoints.
type SyncResponse struct {
	Success bool   `json:"success"`
	SyncId  uint   `json:"syncId"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Error   string `json:"error,omitempty"`
}

type CancelRequest struct {
	Force bool `json:"force"`
}

type CredentialsRequest struct {
	CompanyCode           string `json:"companyCode" binding:"required"`
	BaseURL               string `json:"baseUrl"`
	CompanyExportCode     string `json:"companyExportCode"`
	CompanyExportKey      string `json:"companyExportKey"`
	EmployeeExportCode    string `json:"employeeExportCode"`
	EmployeeExportKey     string `json:"employeeExportKey"`
	AbsenteeismExportCode string `json:"absenteeismExportCode"`
	AbsenteeismExportKey  string `json:"absenteeismExportKey"`
}

type SyncRunResponse struct {
	ID                uint    `json:"id"`
	Type              string  `json:"type"`
	Status            string  `json:"status"`
	TotalRecords      int     `json:"totalRecords"`
	ProcessedRecords  int     `json:"processedRecords"`
	SuccessCount      int     `json:"successCount"`
	FailedCount       int     `json:"failedCount"`
	CurrentBatchIndex int     `json:"currentBatchIndex"`
	TotalBatches      int     `json:"totalBatches"`
	Message           string  `json:"message"`
	ErrorDetail       string  `json:"errorDetail,omitempty"`
	ParentRunId       *uint   `json:"parentRunId"`
	ChainDepth        int     `json:"chainDepth"`
	TriggeredBy       string  `json:"triggeredBy"`
	StartedAt         *string `json:"startedAt"`
	UpdatedAt         *string `json:"updatedAt"`
	CompletedAt       *string `json:"completedAt"`
}

type SyncHistoryResponse struct {
	Items []SyncRunResponse `json:"items"`
}

// ContinuationMessage is the Pub/Sub payload that resumes a continuation run.
type ContinuationMessage struct {
	TaskId      uint   `json:"task_id"`
	RunId       uint   `json:"run_id"`
	ParentRunId uint   `json:"parent_run_id"`
	Owner       string `json:"owner"`
	Kind        string `json:"kind"`
}

type PubSubPushEnvelope struct {
	Message struct {
		Data []byte `json:"data"`
		ID   string `json:"messageId"`
	} `json:"message"`
	Subscription string `json:"subscription"`
}

func mapRunToResponse(run models.SyncRun) SyncRunResponse {
	return SyncRunResponse{
		ID:                run.ID,
		Type:              run.Kind,
		Status:            run.Status,
		TotalRecords:      run.TotalRecords,
		ProcessedRecords:  run.ProcessedRecords,
		SuccessCount:      run.SuccessCount,
		FailedCount:       run.FailedCount,
		CurrentBatchIndex: run.CurrentBatchIndex,
		TotalBatches:      run.TotalBatches,
		Message:           run.Message,
		ErrorDetail:       run.ErrorDetail,
		ParentRunId:       run.ParentRunId,
		ChainDepth:        run.ChainDepth,
		TriggeredBy:       run.TriggeredBy,
		StartedAt:         formatTime(run.StartedAt),
		UpdatedAt:         formatTime(&run.UpdatedAt),
		CompletedAt:       formatTime(run.CompletedAt),
	}
}
