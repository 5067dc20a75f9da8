package collector

import (
	"context"

	"github.com/kurihiro0119/github-repo-extractor/internal/domain"
)

// PageFetcher retrieves one page of search results for a query
type PageFetcher interface {
	// FetchPage returns the page or a *FetchFailure / *MalformedResponse error.
	// It never reports a failed request as an empty page.
	FetchPage(ctx context.Context, q domain.Query, page int) (*domain.PageResult, error)
}

// PartitionWalker paginates one partition to exhaustion or to the result ceiling
type PartitionWalker interface {
	// WalkPartition returns the records collected so far and the partition audit.
	// On error the audit is FAILED and the records are the partial set.
	WalkPartition(ctx context.Context, q domain.Query) ([]domain.RawRecord, domain.PartitionAudit, error)
}

// Sink receives each finished partition before the next one starts
type Sink interface {
	RecordPartition(ctx context.Context, runID string, audit domain.PartitionAudit, records []domain.RawRecord) error
}

// SinkFunc adapts a function to the Sink interface
type SinkFunc func(ctx context.Context, runID string, audit domain.PartitionAudit, records []domain.RawRecord) error

// RecordPartition calls f
func (f SinkFunc) RecordPartition(ctx context.Context, runID string, audit domain.PartitionAudit, records []domain.RawRecord) error {
	return f(ctx, runID, audit, records)
}
