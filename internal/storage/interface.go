package storage

import (
	"context"

	"github.com/kurihiro0119/github-repo-extractor/internal/domain"
)

// Storage is the abstract interface for the persistence layer
type Storage interface {
	// Run operations
	CreateRun(ctx context.Context, run *domain.ExtractionRun) error
	UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus) error
	GetRun(ctx context.Context, runID string) (*domain.ExtractionRun, error)
	ListRuns(ctx context.Context, limit int) ([]*domain.ExtractionRun, error)

	// SavePartition stores the rows of one partition together with its
	// audit in a single transaction
	SavePartition(ctx context.Context, audit domain.PartitionAudit, repos []domain.Repository) error

	// Audit retrieval, ordered by partition date
	GetAudits(ctx context.Context, runID string) ([]domain.PartitionAudit, error)
	CompletedPartitions(ctx context.Context, runID string) (map[string]bool, error)

	// Repository retrieval
	CountRepositories(ctx context.Context, runID string) (int, error)
	CountRepositoriesByPartition(ctx context.Context, runID string) (map[string]int, error)

	// Migration
	Migrate(ctx context.Context) error

	// Connection management
	Close() error
}
