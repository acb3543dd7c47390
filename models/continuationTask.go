package models

import "time"

const (
	ContinuationPublishPending    = "PENDING"
	ContinuationPublishProcessing = "PROCESSING"
	ContinuationPublishFailed     = "FAILED"
	ContinuationPublishSent       = "SENT"
	ContinuationPublishDead       = "DEAD"
)

// ContinuationTask is the durable outbox entry that asks a worker to resume ChildRunId.
type ContinuationTask struct {
	ID               uint       `gorm:"primary_key" json:"id"`
	ChildRunId       uint       `gorm:"uniqueIndex;not null" json:"child_run_id"`
	ParentRunId      uint       `gorm:"index;not null" json:"parent_run_id"`
	Owner            string     `gorm:"size:100;not null" json:"owner"`
	Kind             string     `gorm:"size:20;not null" json:"kind"`
	PublishStatus    string     `gorm:"size:20;not null;index" json:"publish_status"`
	PublishAttempts  int        `gorm:"not null;default:0" json:"publish_attempts"`
	NextAttemptAt    *time.Time `json:"next_attempt_at"`
	LastPublishError *string    `gorm:"type:text" json:"last_publish_error"`
	LockedAt         *time.Time `json:"locked_at"`
	LockedBy         *string    `gorm:"size:64" json:"locked_by"`
	PublishedAt      *time.Time `json:"published_at"`
	PubSubMessageId  *string    `gorm:"size:100" json:"pub_sub_message_id"`
	CreatedAt        time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt        time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
