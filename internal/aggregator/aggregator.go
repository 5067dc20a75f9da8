package aggregator

import (
	"context"

	"github.com/kurihiro0119/github-repo-extractor/internal/domain"
	"github.com/kurihiro0119/github-repo-extractor/internal/storage"
)

// Aggregator defines the interface for building run reports from storage
type Aggregator interface {
	// GetRun retrieves a run
	GetRun(ctx context.Context, runID string) (*domain.ExtractionRun, error)

	// ListRuns retrieves recent runs
	ListRuns(ctx context.Context, limit int) ([]*domain.ExtractionRun, error)

	// GetAudits retrieves the audit log of a run
	GetAudits(ctx context.Context, runID string) ([]domain.PartitionAudit, error)

	// RunReport checks the completeness of a run
	RunReport(ctx context.Context, runID string) (*domain.RunReport, error)
}

// aggregator implements the Aggregator interface
type aggregator struct {
	storage storage.Storage
}

// NewAggregator creates a new aggregator
func NewAggregator(storage storage.Storage) Aggregator {
	return &aggregator{
		storage: storage,
	}
}

// GetRun retrieves a run
func (a *aggregator) GetRun(ctx context.Context, runID string) (*domain.ExtractionRun, error) {
	return a.storage.GetRun(ctx, runID)
}

// ListRuns retrieves recent runs
func (a *aggregator) ListRuns(ctx context.Context, limit int) ([]*domain.ExtractionRun, error) {
	return a.storage.ListRuns(ctx, limit)
}

// GetAudits retrieves the audit log of a run, failing for unknown runs
func (a *aggregator) GetAudits(ctx context.Context, runID string) ([]domain.PartitionAudit, error) {
	if _, err := a.storage.GetRun(ctx, runID); err != nil {
		return nil, err
	}
	return a.storage.GetAudits(ctx, runID)
}

// RunReport compares reported, retrieved and persisted counts for every
// day of the run's range
func (a *aggregator) RunReport(ctx context.Context, runID string) (*domain.RunReport, error) {
	run, err := a.storage.GetRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	audits, err := a.storage.GetAudits(ctx, runID)
	if err != nil {
		return nil, err
	}

	persisted, err := a.storage.CountRepositoriesByPartition(ctx, runID)
	if err != nil {
		return nil, err
	}

	// Days completed by the run this one resumed count as covered
	inherited := map[string]bool{}
	if run.ResumedOf != "" {
		if inherited, err = a.storage.CompletedPartitions(ctx, run.ResumedOf); err != nil {
			return nil, err
		}
	}

	report := &domain.RunReport{
		Run:        run,
		Summary:    domain.SummarizeAudits(audits),
		Partitions: make([]domain.PartitionReport, 0, len(audits)),
		Failed:     []string{},
		Truncated:  []string{},
		Unaudited:  []string{},
	}

	audited := make(map[string]bool, len(audits))
	for _, audit := range audits {
		audited[audit.Partition] = true
		report.Persisted += persisted[audit.Partition]
		report.Partitions = append(report.Partitions, domain.PartitionReport{
			Partition:     audit.Partition,
			Status:        audit.Status,
			ReportedTotal: audit.ReportedTotal,
			Retrieved:     audit.Retrieved,
			Persisted:     persisted[audit.Partition],
			Missing:       audit.Missing(),
			Error:         audit.Error,
		})

		switch audit.Status {
		case domain.AuditStatusFailed:
			report.Failed = append(report.Failed, audit.Partition)
		case domain.AuditStatusTruncated:
			report.Truncated = append(report.Truncated, audit.Partition)
		}
	}

	dateRange := domain.DateRange{Start: run.StartDate, End: run.EndDate}
	for _, p := range dateRange.Partitions() {
		id := p.ID()
		switch {
		case audited[id]:
		case inherited[id]:
			report.Summary.Skipped++
		default:
			report.Unaudited = append(report.Unaudited, id)
		}
	}

	report.Trustworthy = run.Status == domain.RunStatusCompleted &&
		!report.Summary.AtRisk() &&
		len(report.Unaudited) == 0

	return report, nil
}
