package collector

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-repo-extractor/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-extractor/internal/errors"
)

// fakeFetcher serves a fixed total from full pages and fails on chosen pages
type fakeFetcher struct {
	mu       sync.Mutex
	totals   map[string]int           // partition -> total_count
	failures map[string]map[int]error // partition -> page -> error
	calls    []int
}

func (f *fakeFetcher) FetchPage(ctx context.Context, q domain.Query, page int) (*domain.PageResult, error) {
	f.mu.Lock()
	f.calls = append(f.calls, page)
	f.mu.Unlock()

	id := q.Partition.ID()
	if err := f.failures[id][page]; err != nil {
		return nil, err
	}

	total := f.totals[id]
	available := total
	if available > domain.ResultCeiling {
		available = domain.ResultCeiling
	}
	from := (page - 1) * domain.PageSize
	n := available - from
	if n < 0 {
		n = 0
	}
	if n > domain.PageSize {
		n = domain.PageSize
	}
	return &domain.PageResult{TotalCount: total, Items: makeItems(from, n)}, nil
}

func (f *fakeFetcher) Calls() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.calls...)
}

func fetchFailure(partition string, page int) error {
	return &apperrors.FetchFailure{Partition: partition, Page: page, Attempts: 3, Err: errors.New("503 Service Unavailable")}
}

func TestWalkPartition_Complete(t *testing.T) {
	fetcher := &fakeFetcher{totals: map[string]int{"2025-01-01": 250}}
	w := NewWalker(fetcher, zerolog.Nop())

	records, audit, err := w.WalkPartition(context.Background(), testQuery("2025-01-01"))
	require.NoError(t, err)

	assert.Len(t, records, 250)
	assert.Equal(t, domain.AuditStatusComplete, audit.Status)
	assert.Equal(t, 250, audit.ReportedTotal)
	assert.Equal(t, 250, audit.Retrieved)
	assert.Equal(t, "2025-01-01", audit.Partition)
	assert.Equal(t, []int{1, 2, 3, 4}, fetcher.Calls())
}

func TestWalkPartition_TruncatedAtCeiling(t *testing.T) {
	fetcher := &fakeFetcher{totals: map[string]int{"2025-03-15": 1532}}
	w := NewWalker(fetcher, zerolog.Nop())

	records, audit, err := w.WalkPartition(context.Background(), testQuery("2025-03-15"))
	require.NoError(t, err)

	assert.Len(t, records, 1000)
	assert.Equal(t, domain.AuditStatusTruncated, audit.Status)
	assert.Equal(t, 1532, audit.ReportedTotal)
	assert.Equal(t, 1000, audit.Retrieved)
	assert.Equal(t, 532, audit.Missing())
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10}, fetcher.Calls(), "page 11 is never requested")
}

func TestWalkPartition_ExactlyAtCeiling(t *testing.T) {
	fetcher := &fakeFetcher{totals: map[string]int{"2025-01-01": 1000}}
	w := NewWalker(fetcher, zerolog.Nop())

	records, audit, err := w.WalkPartition(context.Background(), testQuery("2025-01-01"))
	require.NoError(t, err)

	assert.Len(t, records, 1000)
	assert.Equal(t, domain.AuditStatusComplete, audit.Status)
	assert.Len(t, fetcher.Calls(), 10)
}

func TestWalkPartition_EmptyPartition(t *testing.T) {
	fetcher := &fakeFetcher{totals: map[string]int{}}
	w := NewWalker(fetcher, zerolog.Nop())

	records, audit, err := w.WalkPartition(context.Background(), testQuery("2025-01-01"))
	require.NoError(t, err)

	assert.Empty(t, records)
	assert.Equal(t, domain.AuditStatusComplete, audit.Status)
	assert.Equal(t, 0, audit.ReportedTotal)
	assert.Equal(t, []int{1}, fetcher.Calls())
}

func TestWalkPartition_FirstPageFails(t *testing.T) {
	fetcher := &fakeFetcher{
		totals:   map[string]int{"2025-01-02": 700},
		failures: map[string]map[int]error{"2025-01-02": {1: fetchFailure("2025-01-02", 1)}},
	}
	w := NewWalker(fetcher, zerolog.Nop())

	records, audit, err := w.WalkPartition(context.Background(), testQuery("2025-01-02"))
	require.Error(t, err)
	assert.True(t, apperrors.IsFetchFailure(err))

	assert.Empty(t, records)
	assert.Equal(t, domain.AuditStatusFailed, audit.Status)
	assert.Equal(t, 0, audit.ReportedTotal)
	assert.Equal(t, 0, audit.Retrieved)
	assert.NotEmpty(t, audit.Error)
	assert.Equal(t, []int{1}, fetcher.Calls())
}

func TestWalkPartition_LaterPageFails(t *testing.T) {
	fetcher := &fakeFetcher{
		totals:   map[string]int{"2025-01-02": 700},
		failures: map[string]map[int]error{"2025-01-02": {2: fetchFailure("2025-01-02", 2)}},
	}
	w := NewWalker(fetcher, zerolog.Nop())

	records, audit, err := w.WalkPartition(context.Background(), testQuery("2025-01-02"))
	require.Error(t, err)

	assert.Len(t, records, 100)
	assert.Equal(t, domain.AuditStatusFailed, audit.Status)
	assert.Equal(t, 700, audit.ReportedTotal)
	assert.Equal(t, 100, audit.Retrieved)
	assert.Equal(t, []int{1, 2}, fetcher.Calls(), "no page after a failure")
}

func TestWalkPartition_MalformedFails(t *testing.T) {
	fetcher := &fakeFetcher{
		totals: map[string]int{"2025-01-02": 150},
		failures: map[string]map[int]error{"2025-01-02": {
			2: &apperrors.MalformedResponse{Partition: "2025-01-02", Page: 2, Reason: "missing items"},
		}},
	}
	w := NewWalker(fetcher, zerolog.Nop())

	records, audit, err := w.WalkPartition(context.Background(), testQuery("2025-01-02"))
	assert.True(t, apperrors.IsMalformedResponse(err))
	assert.Len(t, records, 100)
	assert.Equal(t, domain.AuditStatusFailed, audit.Status)
}

func TestWalkPartition_Idempotent(t *testing.T) {
	fetcher := &fakeFetcher{totals: map[string]int{"2025-01-01": 420}}
	w := NewWalker(fetcher, zerolog.Nop())

	first, a1, err := w.WalkPartition(context.Background(), testQuery("2025-01-01"))
	require.NoError(t, err)
	second, a2, err := w.WalkPartition(context.Background(), testQuery("2025-01-01"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, a1.Status, a2.Status)
	assert.Equal(t, a1.Retrieved, a2.Retrieved)
	assert.Equal(t, a1.ReportedTotal, a2.ReportedTotal)
}

func TestWalkPartition_RetrievedNeverExceedsCeiling(t *testing.T) {
	for _, total := range []int{0, 1, 99, 100, 101, 999, 1000, 1001, 50000} {
		fetcher := &fakeFetcher{totals: map[string]int{"2025-01-01": total}}
		w := NewWalker(fetcher, zerolog.Nop())

		records, audit, err := w.WalkPartition(context.Background(), testQuery("2025-01-01"))
		require.NoError(t, err)

		assert.LessOrEqual(t, len(records), domain.ResultCeiling)
		assert.LessOrEqual(t, len(fetcher.Calls()), domain.MaxPages)
		if total > domain.ResultCeiling {
			assert.Equal(t, domain.AuditStatusTruncated, audit.Status, "total %d", total)
		} else {
			assert.Equal(t, domain.AuditStatusComplete, audit.Status, "total %d", total)
		}
	}
}

func TestFailureCause(t *testing.T) {
	assert.Equal(t, "malformed", failureCause(&apperrors.MalformedResponse{Reason: "missing total_count"}))
	assert.Equal(t, "fetch", failureCause(&apperrors.FetchFailure{Attempts: 3, Err: errors.New("503")}))
	assert.Equal(t, "unknown", failureCause(errors.New("boom")))
}
