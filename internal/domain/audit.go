package domain

import (
	"fmt"
	"time"
)

// AuditStatus is the terminal status of a partition
type AuditStatus string

const (
	AuditStatusComplete  AuditStatus = "COMPLETE"
	AuditStatusTruncated AuditStatus = "TRUNCATED"
	AuditStatusFailed    AuditStatus = "FAILED"
)

// PartitionAudit is the completeness evidence for one partition.
// It is created once when the partition finishes and not changed afterwards.
type PartitionAudit struct {
	RunID             string      `json:"run_id,omitempty"`
	Partition         string      `json:"partition"`
	Date              time.Time   `json:"date"`
	ReportedTotal     int         `json:"reported_total"`
	Retrieved         int         `json:"retrieved"`
	Pages             int         `json:"pages"`
	IncompleteResults bool        `json:"incomplete_results,omitempty"`
	Status            AuditStatus `json:"status"`
	Error             string      `json:"error,omitempty"`
	StartedAt         time.Time   `json:"started_at"`
	FinishedAt        time.Time   `json:"finished_at"`
}

// Missing returns how many reported results were not retrieved
func (a PartitionAudit) Missing() int {
	if a.Retrieved >= a.ReportedTotal {
		return 0
	}
	return a.ReportedTotal - a.Retrieved
}

// RunSummary aggregates the audit log of a run
type RunSummary struct {
	Partitions    int `json:"partitions"`
	Complete      int `json:"complete"`
	Truncated     int `json:"truncated"`
	Failed        int `json:"failed"`
	Skipped       int `json:"skipped"`
	ReportedTotal int `json:"reported_total"`
	Retrieved     int `json:"retrieved"`
	SinkErrors    int `json:"sink_errors"`
}

// Add counts one finished partition
func (s *RunSummary) Add(a PartitionAudit) {
	s.Partitions++
	s.ReportedTotal += a.ReportedTotal
	s.Retrieved += a.Retrieved
	switch a.Status {
	case AuditStatusComplete:
		s.Complete++
	case AuditStatusTruncated:
		s.Truncated++
	case AuditStatusFailed:
		s.Failed++
	}
}

// AtRisk reports whether the dataset of the run cannot be trusted as complete
func (s RunSummary) AtRisk() bool {
	return s.Failed > 0 || s.Truncated > 0 || s.SinkErrors > 0
}

// String renders a one-line summary such as "2 of 365 partitions failed"
func (s RunSummary) String() string {
	return fmt.Sprintf("%d of %d partitions failed, %d truncated, %d skipped; retrieved %d of %d reported",
		s.Failed, s.Partitions, s.Truncated, s.Skipped, s.Retrieved, s.ReportedTotal)
}

// SummarizeAudits builds a summary from an audit log
func SummarizeAudits(audits []PartitionAudit) RunSummary {
	var s RunSummary
	for _, a := range audits {
		s.Add(a)
	}
	return s
}

// ExtractionResult is everything one orchestrator invocation produced
type ExtractionResult struct {
	RunID   string
	Records []RawRecord
	Audits  []PartitionAudit
	Summary RunSummary
}
