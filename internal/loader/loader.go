// Package loader persists finished partitions.
package loader

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kurihiro0119/github-repo-extractor/internal/domain"
	"github.com/kurihiro0119/github-repo-extractor/internal/storage"
	"github.com/kurihiro0119/github-repo-extractor/internal/transform"
)

// Loader transforms the records of a partition and stores them with the
// partition audit. It implements collector.Sink.
type Loader struct {
	store       storage.Storage
	transformer *transform.Transformer
	logger      zerolog.Logger
}

// NewLoader creates a loader
func NewLoader(store storage.Storage, transformer *transform.Transformer, logger zerolog.Logger) *Loader {
	return &Loader{
		store:       store,
		transformer: transformer,
		logger:      logger,
	}
}

// RecordPartition transforms and persists one partition in a single transaction
func (l *Loader) RecordPartition(ctx context.Context, runID string, audit domain.PartitionAudit, records []domain.RawRecord) error {
	repos, stats := l.transformer.Transform(runID, audit.Partition, records)

	if err := l.store.SavePartition(ctx, audit, repos); err != nil {
		return fmt.Errorf("failed to persist partition %s: %w", audit.Partition, err)
	}

	l.logger.Debug().
		Str("run_id", runID).
		Str("partition", audit.Partition).
		Str("status", string(audit.Status)).
		Int("raw", stats.Raw).
		Int("persisted", stats.Output).
		Msg("Partition persisted")
	return nil
}
