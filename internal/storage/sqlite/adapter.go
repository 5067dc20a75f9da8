package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/kurihiro0119/github-repo-extractor/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-extractor/internal/errors"
	"github.com/kurihiro0119/github-repo-extractor/internal/storage"
)

// sqliteStorage implements the Storage interface for SQLite
type sqliteStorage struct {
	db *sql.DB
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (storage.Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, err
	}
	// One writer at a time; avoids SQLITE_BUSY between the loader and API readers
	db.SetMaxOpenConns(1)

	s := &sqliteStorage{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}

	return s, nil
}

// Migrate runs database migrations
func (s *sqliteStorage) Migrate(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id TEXT PRIMARY KEY,
		filters TEXT NOT NULL,
		start_date TEXT NOT NULL,
		end_date TEXT NOT NULL,
		status TEXT NOT NULL,
		resumed_of TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_runs_created_at ON runs(created_at);

	CREATE TABLE IF NOT EXISTS partition_audits (
		run_id TEXT NOT NULL REFERENCES runs(id),
		partition_id TEXT NOT NULL,
		partition_date TEXT NOT NULL,
		reported_total INTEGER NOT NULL,
		retrieved INTEGER NOT NULL,
		pages INTEGER NOT NULL,
		incomplete_results INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		error TEXT,
		started_at TIMESTAMP NOT NULL,
		finished_at TIMESTAMP NOT NULL,
		PRIMARY KEY (run_id, partition_id)
	);

	CREATE INDEX IF NOT EXISTS idx_partition_audits_status ON partition_audits(run_id, status);

	CREATE TABLE IF NOT EXISTS repositories (
		run_id TEXT NOT NULL REFERENCES runs(id),
		partition_id TEXT NOT NULL,
		id INTEGER NOT NULL,
		name TEXT NOT NULL,
		description TEXT,
		created_at TIMESTAMP NOT NULL,
		updated_at TIMESTAMP,
		pushed_at TIMESTAMP,
		size REAL,
		stargazers_count INTEGER NOT NULL,
		watchers_count INTEGER NOT NULL,
		language TEXT NOT NULL,
		forks INTEGER NOT NULL,
		watchers INTEGER NOT NULL,
		score REAL NOT NULL,
		user_login TEXT NOT NULL,
		user_type TEXT NOT NULL,
		user_id INTEGER NOT NULL,
		PRIMARY KEY (run_id, id)
	);

	CREATE INDEX IF NOT EXISTS idx_repositories_partition ON repositories(run_id, partition_id);
	CREATE INDEX IF NOT EXISTS idx_repositories_user_id ON repositories(user_id);
	`

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// CreateRun saves a new run
func (s *sqliteStorage) CreateRun(ctx context.Context, run *domain.ExtractionRun) error {
	filtersJSON, err := json.Marshal(run.Filters)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO runs (id, filters, start_date, end_date, status, resumed_of, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.db.ExecContext(ctx, query,
		run.ID,
		string(filtersJSON),
		run.StartDate.Format(domain.DateLayout),
		run.EndDate.Format(domain.DateLayout),
		string(run.Status),
		nullString(run.ResumedOf),
		run.CreatedAt,
		run.UpdatedAt,
	)
	if isConstraintError(err) {
		return apperrors.NewConflictError(fmt.Sprintf("run %s already exists", run.ID), err)
	}
	return err
}

// UpdateRunStatus sets the status of a run
func (s *sqliteStorage) UpdateRunStatus(ctx context.Context, runID string, status domain.RunStatus) error {
	res, err := s.db.ExecContext(ctx, `UPDATE runs SET status = ?, updated_at = ? WHERE id = ?`,
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
func (s *sqliteStorage) GetRun(ctx context.Context, runID string) (*domain.ExtractionRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, filters, start_date, end_date, status, resumed_of, created_at, updated_at
		FROM runs
		WHERE id = ?
	`, runID)

	run, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperrors.NewNotFoundError("run " + runID)
	}
	return run, err
}

// ListRuns retrieves the most recent runs first. limit <= 0 returns all.
func (s *sqliteStorage) ListRuns(ctx context.Context, limit int) ([]*domain.ExtractionRun, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, filters, start_date, end_date, status, resumed_of, created_at, updated_at
		FROM runs
		ORDER BY created_at DESC
		LIMIT ?
	`, limit)
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
	var filtersJSON, startDate, endDate, status string
	var resumedOf sql.NullString

	err := sc.Scan(&run.ID, &filtersJSON, &startDate, &endDate, &status, &resumedOf, &run.CreatedAt, &run.UpdatedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(filtersJSON), &run.Filters); err != nil {
		return nil, fmt.Errorf("decode filters of run %s: %w", run.ID, err)
	}
	if run.StartDate, err = time.Parse(domain.DateLayout, startDate); err != nil {
		return nil, err
	}
	if run.EndDate, err = time.Parse(domain.DateLayout, endDate); err != nil {
		return nil, err
	}
	run.Status = domain.RunStatus(status)
	run.ResumedOf = resumedOf.String
	return &run, nil
}

// SavePartition saves the audit and rows of one partition in a transaction
func (s *sqliteStorage) SavePartition(ctx context.Context, audit domain.PartitionAudit, repos []domain.Repository) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	_, err = tx.ExecContext(ctx, `
		INSERT OR REPLACE INTO partition_audits
			(run_id, partition_id, partition_date, reported_total, retrieved, pages, incomplete_results, status, error, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		audit.RunID,
		audit.Partition,
		audit.Date.Format(domain.DateLayout),
		audit.ReportedTotal,
		audit.Retrieved,
		audit.Pages,
		boolToInt(audit.IncompleteResults),
		string(audit.Status),
		nullString(audit.Error),
		audit.StartedAt,
		audit.FinishedAt,
	)
	if err != nil {
		return fmt.Errorf("save audit: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT OR REPLACE INTO repositories
			(run_id, partition_id, id, name, description, created_at, updated_at, pushed_at, size,
			 stargazers_count, watchers_count, language, forks, watchers, score, user_login, user_type, user_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
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
func (s *sqliteStorage) GetAudits(ctx context.Context, runID string) ([]domain.PartitionAudit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT run_id, partition_id, partition_date, reported_total, retrieved, pages, incomplete_results, status, error, started_at, finished_at
		FROM partition_audits
		WHERE run_id = ?
		ORDER BY partition_date, partition_id
	`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var audits []domain.PartitionAudit
	for rows.Next() {
		var a domain.PartitionAudit
		var date, status string
		var incomplete int
		var errText sql.NullString

		err := rows.Scan(&a.RunID, &a.Partition, &date, &a.ReportedTotal, &a.Retrieved, &a.Pages,
			&incomplete, &status, &errText, &a.StartedAt, &a.FinishedAt)
		if err != nil {
			return nil, err
		}

		if a.Date, err = time.Parse(domain.DateLayout, date); err != nil {
			return nil, err
		}
		a.IncompleteResults = incomplete == 1
		a.Status = domain.AuditStatus(status)
		a.Error = errText.String
		audits = append(audits, a)
	}
	return audits, rows.Err()
}

// CompletedPartitions returns the partitions of a run whose audit is COMPLETE
func (s *sqliteStorage) CompletedPartitions(ctx context.Context, runID string) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT partition_id FROM partition_audits WHERE run_id = ? AND status = ?
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
func (s *sqliteStorage) CountRepositories(ctx context.Context, runID string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM repositories WHERE run_id = ?`, runID).Scan(&n)
	return n, err
}

// CountRepositoriesByPartition counts the persisted rows of a run per partition
func (s *sqliteStorage) CountRepositoriesByPartition(ctx context.Context, runID string) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT partition_id, COUNT(*) FROM repositories WHERE run_id = ? GROUP BY partition_id
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
func (s *sqliteStorage) Close() error {
	return s.db.Close()
}

func isConstraintError(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.Code == sqlite3.ErrConstraint
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
