package models

import "time"

// UploadStatus represents the outcome of an upload run.
type UploadStatus string

const (
	UploadStatusRunning   UploadStatus = "running"
	UploadStatusSucceeded UploadStatus = "succeeded"
	UploadStatusNoURL     UploadStatus = "no_url"
	UploadStatusFailed    UploadStatus = "failed"
)

// Upload records one build-and-upload invocation.
type Upload struct {
	ID         string
	ProjectID  string
	Task       string
	URL        string
	Status     UploadStatus
	Error      string
	StartedAt  time.Time
	FinishedAt *time.Time
}
