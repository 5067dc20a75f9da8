package auditlog

import (
	"context"
	"errors"

	"github.com/kurihiro0119/github-repo-extractor/internal/collector"
	"github.com/kurihiro0119/github-repo-extractor/internal/domain"
)

// Multi hands each partition to every sink in order. A failing sink does
// not prevent the others from running.
type Multi []collector.Sink

// RecordPartition calls every sink and joins their errors
func (m Multi) RecordPartition(ctx context.Context, runID string, audit domain.PartitionAudit, records []domain.RawRecord) error {
	var errs []error
	for _, sink := range m {
		if err := sink.RecordPartition(ctx, runID, audit, records); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
