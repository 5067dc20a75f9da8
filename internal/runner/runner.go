// Package runner wires configuration, storage, the search collector and the
// audit sinks into extraction runs.
package runner

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kurihiro0119/github-repo-extractor/internal/auditlog"
	"github.com/kurihiro0119/github-repo-extractor/internal/collector"
	"github.com/kurihiro0119/github-repo-extractor/internal/config"
	"github.com/kurihiro0119/github-repo-extractor/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-extractor/internal/errors"
	"github.com/kurihiro0119/github-repo-extractor/internal/loader"
	"github.com/kurihiro0119/github-repo-extractor/internal/logging"
	"github.com/kurihiro0119/github-repo-extractor/internal/storage"
	"github.com/kurihiro0119/github-repo-extractor/internal/storage/postgres"
	"github.com/kurihiro0119/github-repo-extractor/internal/storage/sqlite"
	"github.com/kurihiro0119/github-repo-extractor/internal/transform"
)

// OpenStorage opens the configured storage backend
func OpenStorage(cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageType {
	case "postgres":
		store, err := postgres.NewPostgresStorage(cfg.PostgresURL)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize PostgreSQL storage: %w", err)
		}
		return store, nil
	default:
		store, err := sqlite.NewSQLiteStorage(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite storage: %w", err)
		}
		return store, nil
	}
}

// Request describes one extraction. Empty fields fall back to the configuration.
type Request struct {
	StartDate string
	EndDate   string
	Filters   *domain.Filters

	// ResumeRunID skips partitions that are COMPLETE in that run. Its date
	// range and filters are reused unless overridden.
	ResumeRunID string
}

// Outcome is what a finished run produced
type Outcome struct {
	Run    *domain.ExtractionRun
	Result *domain.ExtractionResult
}

// Runner executes at most one extraction at a time
type Runner struct {
	cfg         *config.Config
	store       storage.Storage
	fetcher     collector.PageFetcher
	extraSinks  []collector.Sink
	closers     []io.Closer
	transformer *transform.Transformer
	logger      zerolog.Logger

	mu     sync.Mutex
	active string

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a runner with the GitHub fetcher and the configured audit sinks
func New(cfg *config.Config, store storage.Storage) (*Runner, error) {
	governor := collector.NewGovernor(cfg.MinInterval, nil, logging.NewLogger("governor"))
	fetcher, err := collector.NewSearchFetcher(collector.FetcherConfig{
		BaseURL:      cfg.GitHubAPIURL,
		Token:        cfg.GitHubToken,
		MaxAttempts:  cfg.MaxAttempts,
		RetryBackoff: cfg.RetryBackoff,
		Timeout:      cfg.RequestTimeout,
	}, governor, logging.NewLogger("fetcher"))
	if err != nil {
		return nil, err
	}

	var sinks []collector.Sink
	var closers []io.Closer

	if cfg.AuditLogFile != "" {
		fileSink, err := auditlog.NewFileSink(cfg.AuditLogFile)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, fileSink)
		closers = append(closers, fileSink)
	}

	if cfg.RedisURL != "" {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		client, err := auditlog.DialRedis(ctx, cfg.RedisURL)
		cancel()
		if err != nil {
			for _, c := range closers {
				_ = c.Close()
			}
			return nil, err
		}
		redisSink := auditlog.NewRedisSink(client)
		sinks = append(sinks, redisSink)
		closers = append(closers, redisSink)
	}

	r := NewWithFetcher(cfg, store, fetcher, sinks...)
	r.closers = closers
	return r, nil
}

// NewWithFetcher creates a runner on an explicit fetcher. extraSinks receive
// every partition after it has been persisted.
func NewWithFetcher(cfg *config.Config, store storage.Storage, fetcher collector.PageFetcher, extraSinks ...collector.Sink) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		cfg:         cfg,
		store:       store,
		fetcher:     fetcher,
		extraSinks:  extraSinks,
		transformer: transform.NewTransformer(logging.NewLogger("transform")),
		logger:      logging.NewLogger("runner"),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// plan is a validated request with its run already persisted
type plan struct {
	run       *domain.ExtractionRun
	dateRange domain.DateRange
	filters   domain.Filters
	skip      func(domain.Partition) bool
}

// Run executes an extraction and blocks until it finishes
func (r *Runner) Run(ctx context.Context, req Request) (*Outcome, error) {
	if err := r.acquire(); err != nil {
		return nil, err
	}

	p, err := r.prepare(ctx, req)
	if err != nil {
		r.release()
		return nil, err
	}
	r.setActive(p.run.ID)
	defer r.release()

	return r.execute(ctx, p)
}

// Start validates the request, records the run and executes it in the background
func (r *Runner) Start(req Request) (*domain.ExtractionRun, error) {
	if err := r.acquire(); err != nil {
		return nil, err
	}

	p, err := r.prepare(r.ctx, req)
	if err != nil {
		r.release()
		return nil, err
	}
	r.setActive(p.run.ID)

	run := *p.run
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release()
		if _, err := r.execute(r.ctx, p); err != nil {
			r.logger.Error().Err(err).Str("run_id", p.run.ID).Msg("Background run ended with error")
		}
	}()

	return &run, nil
}

// Active returns the ID of the executing run, if any
func (r *Runner) Active() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.active
}

// Close cancels a background run, waits for it and releases the sinks
func (r *Runner) Close() error {
	r.cancel()
	r.wg.Wait()

	var errs []error
	for _, c := range r.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return stderrors.Join(errs...)
}

func (r *Runner) acquire() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active != "" {
		return apperrors.NewConflictError("run "+r.active+" is still executing", apperrors.ErrRunInProgress)
	}
	r.active = "pending"
	return nil
}

func (r *Runner) setActive(runID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = runID
}

func (r *Runner) release() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.active = ""
}

// prepare resolves defaults, validates the request and persists the run
func (r *Runner) prepare(ctx context.Context, req Request) (*plan, error) {
	start, end := req.StartDate, req.EndDate
	var filters *domain.Filters
	var skip func(domain.Partition) bool

	if req.ResumeRunID != "" {
		prev, err := r.store.GetRun(ctx, req.ResumeRunID)
		if err != nil {
			return nil, err
		}
		completed, err := r.store.CompletedPartitions(ctx, prev.ID)
		if err != nil {
			return nil, err
		}
		if start == "" {
			start = prev.StartDate.Format(domain.DateLayout)
		}
		if end == "" {
			end = prev.EndDate.Format(domain.DateLayout)
		}
		filters = &prev.Filters
		skip = func(p domain.Partition) bool { return completed[p.ID()] }
	}

	if start == "" {
		start = r.cfg.StartDate
	}
	if end == "" {
		end = r.cfg.EndDate
	}
	dateRange, err := domain.ParseDateRange(start, end)
	if err != nil {
		return nil, apperrors.NewBadRequestError(err.Error())
	}

	if req.Filters != nil {
		if err := domain.ValidatePredicates(req.Filters.Predicates()); err != nil {
			return nil, apperrors.NewBadRequestError(err.Error())
		}
		filters = req.Filters
	}
	if filters == nil {
		loaded, err := config.LoadFilters(r.cfg.FiltersFile)
		if err != nil {
			return nil, err
		}
		filters = &loaded
	}

	now := time.Now().UTC()
	run := &domain.ExtractionRun{
		ID:        uuid.NewString(),
		Filters:   *filters,
		StartDate: dateRange.Start,
		EndDate:   dateRange.End,
		Status:    domain.RunStatusInProgress,
		ResumedOf: req.ResumeRunID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.CreateRun(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to create run: %w", err)
	}

	return &plan{run: run, dateRange: dateRange, filters: *filters, skip: skip}, nil
}

// execute runs the orchestrator and records the final run status
func (r *Runner) execute(ctx context.Context, p *plan) (*Outcome, error) {
	sinks := auditlog.Multi{loader.NewLoader(r.store, r.transformer, logging.NewLogger("loader"))}
	sinks = append(sinks, r.extraSinks...)

	walker := collector.NewWalker(r.fetcher, logging.NewLogger("walker"))
	orchestrator := collector.NewOrchestrator(walker, sinks, collector.OrchestratorConfig{
		DiscardPartial:     r.cfg.DiscardPartial,
		AbortAfterFailures: r.cfg.AbortAfterFailures,
	}, logging.NewLogger("orchestrator"))

	result, runErr := orchestrator.RunExtraction(ctx, p.dateRange, p.filters, collector.RunOptions{
		RunID: p.run.ID,
		Skip:  p.skip,
	})

	status := statusFor(result, runErr)
	if err := r.store.UpdateRunStatus(context.WithoutCancel(ctx), p.run.ID, status); err != nil {
		r.logger.Error().Err(err).Str("run_id", p.run.ID).Msg("Failed to update run status")
	}
	p.run.Status = status
	p.run.UpdatedAt = time.Now().UTC()

	return &Outcome{Run: p.run, Result: result}, runErr
}

func statusFor(result *domain.ExtractionResult, err error) domain.RunStatus {
	switch {
	case err == nil && result != nil:
		return domain.StatusFor(result.Summary)
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return domain.RunStatusCancelled
	default:
		return domain.RunStatusAborted
	}
}
