package chat

import (
	"time"

	"gorm.io/datatypes"
)

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

// Job is one dispatched turn. The request and response messages exist before
// the job is queued.
type Job struct {
	ID string `gorm:"primaryKey;size:26"` // ULID length

	UserID    uint64 `gorm:"index;not null;index:uniq_user_idempo,unique,priority:1"`
	SessionID string `gorm:"size:36;index;not null"`
	Pipeline  string `gorm:"type:varchar(255);not null"`

	Payload datatypes.JSONMap

	RequestMessageID  string `gorm:"size:36;not null"`
	ResponseMessageID string `gorm:"size:36;not null"`

	IdempotencyKey *string `gorm:"type:varchar(128);index:uniq_user_idempo,unique,priority:2" json:"idempotency_key"`

	Status JobStatus `gorm:"type:varchar(16);index;not null"`

	// Filled when failed
	Error *string `gorm:"type:text"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (Job) TableName() string { return "chat_jobs" }

// JobMessage is the queue entry. It carries the session and payload so a
// worker can replay the turn after a restart.
type JobMessage struct {
	JobID     string         `json:"job_id"`
	SessionID string         `json:"session_id"`
	Pipeline  string         `json:"pipeline"`
	Payload   map[string]any `json:"payload"`
}
