package model

import (
	"encoding/json"
	"time"
)

// SubmitJobRequest is the body of POST /api/jobs
type SubmitJobRequest struct {
	JobKind string          `json:"jobKind" validate:"required"`
	Params  json.RawMessage `json:"params" validate:"required"`
}

// SubmitJobResponse is returned once the provider accepted a job
type SubmitJobResponse struct {
	JobID   string  `json:"jobId"`
	JobKind JobKind `json:"jobKind"`
}

// JobRecord remembers who owns a job. It is kept in the jobs table and
// cached in Redis.
type JobRecord struct {
	JobID       string    `gorm:"primaryKey;size:191" json:"jobId"`
	Kind        JobKind   `gorm:"size:32;not null" json:"kind"`
	OwnerID     string    `gorm:"size:191;not null;index" json:"ownerId"`
	SubmittedAt time.Time `gorm:"not null" json:"submittedAt"`
}

func (JobRecord) TableName() string { return "jobs" }

// ProviderEnvelope is the provider's response wrapper.
type ProviderEnvelope struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}
