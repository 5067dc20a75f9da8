package domain

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultFilters_String(t *testing.T) {
	f := DefaultFilters()

	assert.Equal(t, "is:public archived:false size:>=500 stars:>=1 forks:>=1 has:readme has:license", f.String())
	assert.Equal(t, 7, f.Len())
}

func TestFilters_Immutable(t *testing.T) {
	preds := []Predicate{{Qualifier: "is", Value: "public"}}
	f := NewFilters(preds...)

	preds[0].Value = "private"
	assert.Equal(t, "is:public", f.String(), "constructor must copy its input")

	got := f.Predicates()
	got[0].Value = "private"
	assert.Equal(t, "is:public", f.String(), "accessor must return a copy")
}

func TestValidatePredicates(t *testing.T) {
	assert.NoError(t, ValidatePredicates(DefaultFilters().Predicates()))
	assert.NoError(t, ValidatePredicates(nil))

	err := ValidatePredicates([]Predicate{{Qualifier: "stars", Value: ""}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "predicate 1")

	err = ValidatePredicates([]Predicate{{Qualifier: "is", Value: "public"}, {Qualifier: "created", Value: ">2020-01-01"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "created")
}

func TestFilters_JSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(DefaultFilters())
	require.NoError(t, err)

	var decoded Filters
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, DefaultFilters().String(), decoded.String())
}

func TestQuery_String(t *testing.T) {
	day := time.Date(2025, 1, 2, 15, 4, 5, 0, time.UTC)

	t.Run("filters and day partition", func(t *testing.T) {
		q := Query{Filters: DefaultFilters(), Partition: DayPartition(day)}
		assert.Equal(t, "is:public archived:false size:>=500 stars:>=1 forks:>=1 has:readme has:license created:2025-01-02", q.String())
	})

	t.Run("no filters", func(t *testing.T) {
		q := Query{Partition: DayPartition(day)}
		assert.Equal(t, "created:2025-01-02", q.String())
	})

	t.Run("multi-day partition", func(t *testing.T) {
		p := Partition{Start: day, End: day.AddDate(0, 0, 6)}
		assert.Equal(t, "created:2025-01-02..2025-01-08", p.Qualifier())
	})
}

func TestDateRange_Partitions(t *testing.T) {
	t.Run("inclusive ascending days", func(t *testing.T) {
		r, err := ParseDateRange("2024-12-30", "2025-01-02")
		require.NoError(t, err)

		parts := r.Partitions()
		require.Len(t, parts, 4)
		ids := make([]string, len(parts))
		for i, p := range parts {
			ids[i] = p.ID()
		}
		assert.Equal(t, []string{"2024-12-30", "2024-12-31", "2025-01-01", "2025-01-02"}, ids)
	})

	t.Run("single day", func(t *testing.T) {
		r, err := ParseDateRange("2025-03-01", "2025-03-01")
		require.NoError(t, err)
		assert.Len(t, r.Partitions(), 1)
	})

	t.Run("full leap year", func(t *testing.T) {
		r, err := ParseDateRange("2024-01-01", "2024-12-31")
		require.NoError(t, err)
		assert.Len(t, r.Partitions(), 366)
	})

	t.Run("inverted range rejected", func(t *testing.T) {
		_, err := ParseDateRange("2025-01-02", "2025-01-01")
		assert.Error(t, err)
	})

	t.Run("bad date rejected", func(t *testing.T) {
		_, err := ParseDateRange("2025-13-01", "2025-01-01")
		assert.Error(t, err)
	})
}

func TestNewPageRequest(t *testing.T) {
	req := NewPageRequest(Query{}, 3)

	assert.Equal(t, 3, req.Page)
	assert.Equal(t, PageSize, req.PerPage)
	assert.Equal(t, 10, MaxPages)
}

func TestRunSummary(t *testing.T) {
	audits := []PartitionAudit{
		{Partition: "2025-01-01", ReportedTotal: 250, Retrieved: 250, Status: AuditStatusComplete},
		{Partition: "2025-01-02", ReportedTotal: 300, Retrieved: 100, Status: AuditStatusFailed},
		{Partition: "2025-01-03", ReportedTotal: 1532, Retrieved: 1000, Status: AuditStatusTruncated},
	}

	s := SummarizeAudits(audits)

	assert.Equal(t, 3, s.Partitions)
	assert.Equal(t, 1, s.Complete)
	assert.Equal(t, 1, s.Failed)
	assert.Equal(t, 1, s.Truncated)
	assert.Equal(t, 2082, s.ReportedTotal)
	assert.Equal(t, 1350, s.Retrieved)
	assert.True(t, s.AtRisk())
	assert.Contains(t, s.String(), "1 of 3 partitions failed")
	assert.Equal(t, RunStatusCompletedWithFailures, StatusFor(s))
	assert.Equal(t, 532, audits[2].Missing())
	assert.Equal(t, 0, audits[0].Missing())
}

func TestRunSummary_Clean(t *testing.T) {
	s := SummarizeAudits([]PartitionAudit{
		{ReportedTotal: 10, Retrieved: 10, Status: AuditStatusComplete},
	})

	assert.False(t, s.AtRisk())
	assert.Equal(t, RunStatusCompleted, StatusFor(s))

	s.SinkErrors = 1
	assert.True(t, s.AtRisk())
}
