package models

import (
	"time"
)

// JobStatus enumerates lifecycle states persisted in Postgres.
type JobStatus string

const (
	StatusQueued  JobStatus = "queued"
	StatusRunning JobStatus = "running"
	StatusSuccess JobStatus = "success"
	StatusFailed  JobStatus = "failed"
)

// validTransitions defines the forward-only state machine:
// queued → running → (success | failed). Terminal states allow nothing.
var validTransitions = map[JobStatus][]JobStatus{
	StatusQueued:  {StatusRunning},
	StatusRunning: {StatusSuccess, StatusFailed},
	StatusSuccess: {},
	StatusFailed:  {},
}

// CanTransition reports whether moving from one status to another is allowed.
func CanTransition(from, to JobStatus) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// IsTerminal reports whether the status admits no further transitions.
func IsTerminal(s JobStatus) bool {
	return s == StatusSuccess || s == StatusFailed
}

// Job represents one pipeline execution triggered by a push event.
type Job struct {
	ID            string    `json:"id"`
	RepoURL       string    `json:"repo_url"`
	CommitSHA     string    `json:"commit_sha"`
	Pusher        string    `json:"pusher"`
	Branch        string    `json:"branch"`
	Status        JobStatus `json:"status"`
	CreatedAt     time.Time `json:"created_at"`
	ReportContent *string   `json:"report_content,omitempty"`
}

// LogEntry is one append-only log line attached to a job.
type LogEntry struct {
	JobID     string    `json:"job_id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// DeriveJobID maps a commit SHA to its job id: the first seven characters.
// Two deliveries for the same commit intentionally share an id so redelivery
// is idempotent at the ingress boundary. Unrelated commits sharing a 7-char
// prefix would collide too; that trade-off is inherited deliberately.
func DeriveJobID(commitSHA string) string {
	if len(commitSHA) <= 7 {
		return commitSHA
	}
	return commitSHA[:7]
}
