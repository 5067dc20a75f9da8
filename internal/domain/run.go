package domain

import "time"

// RunStatus represents the lifecycle state of an extraction run
type RunStatus string

const (
	RunStatusInProgress            RunStatus = "in_progress"
	RunStatusCompleted             RunStatus = "completed"
	RunStatusCompletedWithFailures RunStatus = "completed_with_failures"
	RunStatusCancelled             RunStatus = "cancelled"
	RunStatusAborted               RunStatus = "aborted"
)

// ExtractionRun represents one invocation over a date range
type ExtractionRun struct {
	ID        string    `json:"id"`
	Filters   Filters   `json:"filters"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Status    RunStatus `json:"status"`
	ResumedOf string    `json:"resumed_of,omitempty"` // run whose COMPLETE partitions were skipped
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// StatusFor derives the final status of a run from its summary
func StatusFor(s RunSummary) RunStatus {
	if s.AtRisk() {
		return RunStatusCompletedWithFailures
	}
	return RunStatusCompleted
}
