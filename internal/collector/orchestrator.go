package collector

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/kurihiro0119/github-repo-extractor/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-extractor/internal/errors"
)

// OrchestratorConfig holds the failure policy of a run
type OrchestratorConfig struct {
	// DiscardPartial drops the records of FAILED partitions instead of keeping them
	DiscardPartial bool

	// AbortAfterFailures stops the run after this many consecutive FAILED
	// partitions. Zero never aborts.
	AbortAfterFailures int
}

// RunOptions identify one invocation
type RunOptions struct {
	RunID string

	// Skip reports partitions that need no work, e.g. COMPLETE in a resumed run
	Skip func(p domain.Partition) bool
}

// Orchestrator drives the partition walker across a date range
type Orchestrator struct {
	walker PartitionWalker
	sink   Sink
	cfg    OrchestratorConfig
	logger zerolog.Logger
}

// NewOrchestrator creates an orchestrator. sink may be nil.
func NewOrchestrator(walker PartitionWalker, sink Sink, cfg OrchestratorConfig, logger zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		walker: walker,
		sink:   sink,
		cfg:    cfg,
		logger: logger,
	}
}

// RunExtraction walks every day of dateRange in ascending order, one at a
// time. A FAILED partition does not stop the run. Each partition is handed
// to the sink before the next starts. On cancellation or abort the partial
// result is returned together with the error.
func (o *Orchestrator) RunExtraction(ctx context.Context, dateRange domain.DateRange, filters domain.Filters, opts RunOptions) (*domain.ExtractionResult, error) {
	if err := dateRange.Validate(); err != nil {
		return nil, apperrors.NewBadRequestError(err.Error())
	}

	partitions := dateRange.Partitions()
	result := &domain.ExtractionResult{RunID: opts.RunID}
	log := o.logger.With().Str("run_id", opts.RunID).Logger()

	log.Info().
		Str("filters", filters.String()).
		Str("start", dateRange.Start.Format(domain.DateLayout)).
		Str("end", dateRange.End.Format(domain.DateLayout)).
		Int("partitions", len(partitions)).
		Msg("Extraction started")

	consecutiveFailures := 0
	for i, p := range partitions {
		if err := ctx.Err(); err != nil {
			log.Warn().
				Int("remaining", len(partitions)-i).
				Str("summary", result.Summary.String()).
				Msg("Extraction cancelled")
			return result, err
		}

		if opts.Skip != nil && opts.Skip(p) {
			result.Summary.Skipped++
			log.Debug().Str("partition", p.ID()).Msg("Skipping completed partition")
			continue
		}

		q := domain.Query{Filters: filters, Partition: p}
		records, audit, err := o.walker.WalkPartition(ctx, q)
		audit.RunID = opts.RunID
		partitionsTotal.WithLabelValues(string(audit.Status)).Inc()

		if err != nil {
			consecutiveFailures++
			if o.cfg.DiscardPartial {
				records = nil
			}
		} else {
			consecutiveFailures = 0
		}

		result.Records = append(result.Records, records...)
		result.Audits = append(result.Audits, audit)
		result.Summary.Add(audit)

		if o.sink != nil {
			// The audit must be recorded even when the run is being cancelled
			if serr := o.sink.RecordPartition(context.WithoutCancel(ctx), opts.RunID, audit, records); serr != nil {
				result.Summary.SinkErrors++
				log.Error().Err(serr).Str("partition", audit.Partition).Msg("Failed to record partition")
			}
		}

		if o.cfg.AbortAfterFailures > 0 && consecutiveFailures >= o.cfg.AbortAfterFailures {
			log.Error().
				Int("consecutive_failures", consecutiveFailures).
				Str("summary", result.Summary.String()).
				Msg("Extraction aborted")
			return result, fmt.Errorf("%w: %d consecutive partitions failed", apperrors.ErrRunAborted, consecutiveFailures)
		}
	}

	if err := ctx.Err(); err != nil {
		log.Warn().Str("summary", result.Summary.String()).Msg("Extraction cancelled")
		return result, err
	}

	event := log.Info()
	if result.Summary.AtRisk() {
		event = log.Warn()
	}
	event.
		Int("records", len(result.Records)).
		Str("summary", result.Summary.String()).
		Msg("Extraction finished")

	return result, nil
}
