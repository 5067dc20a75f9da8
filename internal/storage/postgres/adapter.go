package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/kurihiro0119/github-repo-extractor/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-extractor/internal/errors"
	"github.com/kurihiro0119/github-repo-extractor/internal/storage"
)

// uniqueViolation is the PostgreSQL error code for a duplicate key
const uniqueViolation = pq.ErrorCode("23505")

// postgresStorage implements the Storage interface for PostgreSQL
type postgresStorage struct {
	db *sql.DB
}

// NewPostgresStorage creates a new PostgreSQL storage instance
func NewPostgresStorage(connStr string) (storage.Storage, error) {
	db, err := sql.Open("postgres", connStr)
	if err != nil {
		return nil, err
	}

	// Test connection
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &postgresStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *postgresStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		filters JSONB NOT NULL,
		start_date DATE NOT NULL,
		end_date DATE NOT NULL,
		status TEXT NOT NULL,
		resumed_of TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);

	CREATE TABLE IF NOT EXISTS partition_audits (
		run_id TEXT NOT NULL REFERENCES runs(id),
		partition_id TEXT NOT NULL,
		partition_date DATE NOT NULL,
		reported_total INTEGER NOT NULL,
		retrieved INTEGER NOT NULL,
		pages INTEGER NOT NULL,
		incomplete_results BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL,
		error TEXT,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (run_id, partition_id)
	);

	CREATE INDEX IF NOT EXISTS idx_partition_audits_status ON partition_audits(run_id, status);

	CREATE TABLE IF NOT EXISTS repositories (
		run_id TEXT NOT NULL REFERENCES runs(id),
		partition_id TEXT NOT NULL,
		id BIGINT NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ,
		pushed_at TIMESTAMPTZ,
		size DOUBLE PRECISION,
		stargazers_count BIGINT NOT NULL,
		watchers_count BIGINT NOT NULL,
		language TEXT NOT NULL,
		forks BIGINT NOT NULL,
		watchers BIGINT NOT NULL,
		score DOUBLE PRECISION NOT NULL,
		user_login TEXT NOT NULL,
		user_type TEXT NOT NULL,
		user_id BIGINT NOT NULL,
		PRIMARY KEY (run_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_repositories_partition ON repositories(run_id, partition_id);
	CREATE INDEX IF NOT EXISTS idx_repositories_user_id ON repositories(user_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// CreateRun saves a new run
func (s *postgresStorage) CreateRun(ctx context.Context, run *domain.ExtractionRun) error {
	filtersJSON, err := json.Marshal(run.Filters)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO runs (id, filters, start_date, end_date, status, resumed_of, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		string(filtersJSON),
		run.StartDate,
		run.EndDate,
		string(run.Status),
		sql.NullString{String: run.ResumedOf, Valid: run.ResumedOf != ""},
		run.CreatedAt,
		run.UpdatedAt,
	)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return apperrors.NewConflictError(fmt.Sprintf("run %s already exists", run.ID), err)
	}
	return err
}

// UpdateRunStatus sets the status of a run
func (s *postgresStorage) UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET status = $1, updated_at = $2 WHERE id = $3`,
		string(status), time.Now().UTC(), runID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return apperrors.NewNotFoundError("run " + runID)
	}
	return nil
}

// GetRun retrieves a run by ID
func (s *postgresStorage) GetRun(ctx context.Context, runID string) (*domain.ExtractionRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, filters, start_date, end_date, status, resumed_of, created_at, updated_at
		FROM runs
		WHERE id = $1
	`, runID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("run " + runID)
	}
	return run, err
}

// ListRuns retrieves the most recent runs first. limit <= 0 returns all.
func (s *postgresStorage) ListRuns(ctx context.Context, limit int) ([]*domain.ExtractionRun, error) {
	var limitArg interface{}
	if limit > 0 {
		limitArg = limit
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filters, start_date, end_date, status, resumed_of, created_at, updated_at
		FROM runs
		ORDER BY created_at DESC
		LIMIT $1
	`, limitArg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []*domain.ExtractionRun
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRun(sc scanner) (*domain.ExtractionRun, error) {
	var run domain.ExtractionRun
	var filtersJSON []byte
	var status string
	var resumedOf sql.NullString

	err := sc.Scan(&run.ID, &filtersJSON, &run.StartDate, &run.EndDate, &status, &resumedOf, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(filtersJSON, &run.Filters); err != nil {
		return nil, fmt.Errorf("decode filters of run %s: %w", run.ID, err)
	}
	run.Status = domain.RunStatus(status)
	run.ResumedOf = resumedOf.String
	return &run, nil
}

// SavePartition saves the audit and rows of one partition in a transaction
func (s *postgresStorage) SavePartition(ctx context.Context, audit domain.PartitionAudit, repos []domain.Repository) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO partition_audits
			(run_id, partition_id, partition_date, reported_total, retrieved, pages, incomplete_results, status, error, started_at, finished_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (run_id, partition_id) DO UPDATE SET
			reported_total = EXCLUDED.reported_total,
			retrieved = EXCLUDED.retrieved,
			pages = EXCLUDED.pages,
			incomplete_results = EXCLUDED.incomplete_results,
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			started_at = EXCLUDED.started_at,
			finished_at = EXCLUDED.finished_at
	`,
		audit.RunID,
		audit.Partition,
		audit.Date,
		audit.ReportedTotal,
		audit.Retrieved,
		audit.Pages,
		audit.IncompleteResults,
		string(audit.Status),
		sql.NullString{String: audit.Error, Valid: audit.Error != ""},
		audit.StartedAt,
		audit.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("save audit: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO repositories
			(run_id, partition_id, id, name, description, created_at, updated_at, pushed_at, size,
			 stargazers_count, watchers_count, language, forks, watchers, score, user_login, user_type, user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
		ON CONFLICT (run_id, id) DO UPDATE SET
			partition_id = EXCLUDED.partition_id,
			name = EXCLUDED.name,
			description = EXCLUDED.description,
			updated_at = EXCLUDED.updated_at,
			pushed_at = EXCLUDED.pushed_at,
			size = EXCLUDED.size,
			stargazers_count = EXCLUDED.stargazers_count,
			watchers_count = EXCLUDED.watchers_count,
			language = EXCLUDED.language,
			forks = EXCLUDED.forks,
			watchers = EXCLUDED.watchers,
			score = EXCLUDED.score
	`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range repos {
		_, err = stmt.ExecContext(ctx,
			audit.RunID,
			audit.Partition,
			r.ID,
			r.Name,
			r.Description,
			r.CreatedAt,
			r.UpdatedAt,
			r.PushedAt,
			r.Size,
			r.StargazersCount,
			r.WatchersCount,
			r.Language,
			r.Forks,
			r.Watchers,
			r.Score,
			r.User,
			r.UserType,
			r.UserID,
		)
		if err != nil {
			return fmt.Errorf("save repository %d: %w", r.ID, err)
		}
	}

	return tx.Commit()
}

// GetAudits retrieves the audit log of a run
func (s *postgresStorage) GetAudits(ctx context.Context, runID string) ([]domain.PartitionAudit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, partition_id, partition_date, reported_total, retrieved, pages, incomplete_results, status, error, started_at, finished_at
		FROM partition_audits
		WHERE run_id = $1
		ORDER BY partition_date, partition_id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var audits []domain.PartitionAudit
	for rows.Next() {
		var a domain.PartitionAudit
		var status string
		var errText sql.NullString

		err := rows.Scan(&a.RunID, &a.Partition, &a.Date, &a.ReportedTotal, &a.Retrieved, &a.Pages,
			&a.IncompleteResults, &status, &errText, &a.StartedAt, &a.FinishedAt)
		if err != nil {
			return nil, err
		}
		a.Status = domain.AuditStatus(status)
		a.Error = errText.String
		audits = append(audits, a)
	}
	return audits, rows.Err()
}

// CompletedPartitions returns the partitions of a run whose audit is COMPLETE
func (s *postgresStorage) CompletedPartitions(ctx context.Context, runID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT partition_id FROM partition_audits WHERE run_id = $1 AND status = $2
	`, runID, string(domain.AuditStatusComplete))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	completed := make(map[string]bool)
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		completed[p] = true
	}
	return completed, rows.Err()
}

// CountRepositories counts the persisted rows of a run
func (s *postgresStorage) CountRepositories(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM repositories WHERE run_id = $1`, runID).Scan(&n)
	return n, err
}

// CountRepositoriesByPartition counts the persisted rows of a run per partition
func (s *postgresStorage) CountRepositoriesByPartition(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT partition_id, COUNT(*) FROM repositories WHERE run_id = $1 GROUP BY partition_id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var p string
		var n int
		if err := rows.Scan(&p, &n); err != nil {
			return nil, err
		}
		counts[p] = n
	}
	return counts, rows.Err()
}

// Close closes the database connection
func (s *postgresStorage) Close() error {
	return s.db.Close()
}
