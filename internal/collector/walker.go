package collector

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/kurihiro0119/github-repo-extractor/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-extractor/internal/errors"
)

// Walker paginates a single partition. It keeps no state between walks.
type Walker struct {
	fetcher PageFetcher
	logger  zerolog.Logger
	now     func() time.Time
}

// NewWalker creates a partition walker on top of fetcher
func NewWalker(fetcher PageFetcher, logger zerolog.Logger) *Walker {
	return &Walker{
		fetcher: fetcher,
		logger:  logger,
		now:     time.Now,
	}
}

// WalkPartition requests pages 1..MaxPages until a page comes back empty or
// the result ceiling is reached. total_count is taken from the first page.
func (w *Walker) WalkPartition(ctx context.Context, q domain.Query) ([]domain.RawRecord, domain.PartitionAudit, error) {
	audit := domain.PartitionAudit{
		Partition: q.Partition.ID(),
		Date:      q.Partition.Start,
		StartedAt: w.now(),
	}
	log := w.logger.With().Str("partition", audit.Partition).Logger()

	var records []domain.RawRecord
	for page := 1; page <= domain.MaxPages && len(records) < domain.ResultCeiling; page++ {
		result, err := w.fetcher.FetchPage(ctx, q, page)
		if err != nil {
			audit.Retrieved = len(records)
			audit.Status = domain.AuditStatusFailed
			audit.Error = err.Error()
			audit.FinishedAt = w.now()
			log.Error().
				Err(err).
				Str("cause", failureCause(err)).
				Int("page", page).
				Int("retrieved", audit.Retrieved).
				Msg("Partition failed")
			return records, audit, err
		}

		audit.Pages = page
		if page == 1 {
			audit.ReportedTotal = result.TotalCount
		}
		if result.IncompleteResults {
			audit.IncompleteResults = true
		}
		if len(result.Items) == 0 {
			break
		}
		records = append(records, result.Items...)
		recordsRetrievedTotal.Add(float64(len(result.Items)))
	}

	audit.Retrieved = len(records)
	audit.FinishedAt = w.now()

	if audit.Retrieved < audit.ReportedTotal {
		audit.Status = domain.AuditStatusTruncated
		log.Warn().
			Int("reported", audit.ReportedTotal).
			Int("retrieved", audit.Retrieved).
			Int("missing", audit.Missing()).
			Msg("Partition truncated at result ceiling")
	} else {
		audit.Status = domain.AuditStatusComplete
		log.Info().
			Int("retrieved", audit.Retrieved).
			Int("pages", audit.Pages).
			Msg("Partition complete")
	}

	return records, audit, nil
}

// failureCause names why a page could not be fetched, for log filtering
func failureCause(err error) string {
	switch {
	case apperrors.IsMalformedResponse(err):
		return "malformed"
	case apperrors.IsFetchFailure(err):
		return "fetch"
	default:
		return "unknown"
	}
}
