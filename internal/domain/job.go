package domain

import (
	"encoding/json"
	"time"
)

// JobType enumerates supported image transformation categories.
type JobType string

const (
	JobTypeVirtualTryOn     JobType = "virtual_tryon"
	JobTypeModelSwap        JobType = "model_swap"
	JobTypePhotoEdit        JobType = "photo_edit"
	JobTypeProductMarketing JobType = "product_marketing"
)

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// RetryState tracks where a job sits in the fallback lifecycle. Transitions
// are one-way: fresh -> fallback_attempted -> terminal. A failed job may be
// resubmitted to an alternate provider exactly once, and only while its retry
// state is still fresh.
type RetryState string

const (
	RetryStateFresh             RetryState = "fresh"
	RetryStateFallbackAttempted RetryState = "fallback_attempted"
	RetryStateTerminal          RetryState = "terminal"
)

// Job encapsulates one user-requested image transformation and its lifecycle
// against an external provider.
type Job struct {
	ID              string
	UserID          string
	Type            JobType
	Status          JobStatus
	Provider        string
	TaskID          string
	InputImageURL   string
	GarmentImageURL string
	ResultURL       string
	Analysis        string
	ErrorMessage    string
	RetryState      RetryState
	Metadata        json.RawMessage
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Terminal reports whether the job has reached a final state.
func (j *Job) Terminal() bool {
	return j.Status == JobStatusCompleted || j.Status == JobStatusFailed
}

// FallbackEligible reports whether an automatic resubmission to an alternate
// provider is still allowed. Both input images must be present because the
// fallback providers require the full person/garment pair.
func (j *Job) FallbackEligible() bool {
	return j.RetryState == RetryStateFresh &&
		j.InputImageURL != "" &&
		j.GarmentImageURL != ""
}

// FallbackLineage is recorded in the job metadata when a fallback
// resubmission occurs, so the original attempt stays traceable.
type FallbackLineage struct {
	OriginalTaskID   string `json:"original_task_id"`
	FallbackProvider string `json:"fallback_provider"`
	FallbackModel    string `json:"fallback_model,omitempty"`
	Reason           string `json:"reason,omitempty"`
}
