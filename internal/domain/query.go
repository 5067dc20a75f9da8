package domain

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	// PageSize is the fixed number of results requested per search page
	PageSize = 100

	// ResultCeiling is the maximum number of results the search API returns for one query
	ResultCeiling = 1000

	// MaxPages is the last page number that can be requested within ResultCeiling
	MaxPages = ResultCeiling / PageSize

	// DateLayout is the format of partition identifiers and CLI dates
	DateLayout = "2006-01-02"
)

// Predicate is a single search qualifier such as "stars:>=1"
type Predicate struct {
	Qualifier string `json:"qualifier" toml:"qualifier"`
	Value     string `json:"value" toml:"value"`
}

// String renders the predicate as it appears in a search query
func (p Predicate) String() string {
	return p.Qualifier + ":" + p.Value
}

// ValidatePredicates rejects incomplete predicates and any "created"
// qualifier, which the partition owns
func ValidatePredicates(predicates []Predicate) error {
	for i, p := range predicates {
		if p.Qualifier == "" || p.Value == "" {
			return fmt.Errorf("predicate %d needs both qualifier and value", i+1)
		}
		if p.Qualifier == "created" {
			return fmt.Errorf("created is set per partition and cannot be a base filter")
		}
	}
	return nil
}

// Filters is the fixed predicate set of a run. Only the partition varies
// between queries, so Filters never exposes its backing slice.
type Filters struct {
	predicates []Predicate
}

// NewFilters creates a filter set from a copy of the given predicates
func NewFilters(predicates ...Predicate) Filters {
	cp := make([]Predicate, len(predicates))
	copy(cp, predicates)
	return Filters{predicates: cp}
}

// DefaultFilters returns the predicate set used when no filter file is configured
func DefaultFilters() Filters {
	return NewFilters(
		Predicate{Qualifier: "is", Value: "public"},
		Predicate{Qualifier: "archived", Value: "false"},
		Predicate{Qualifier: "size", Value: ">=500"},
		Predicate{Qualifier: "stars", Value: ">=1"},
		Predicate{Qualifier: "forks", Value: ">=1"},
		Predicate{Qualifier: "has", Value: "readme"},
		Predicate{Qualifier: "has", Value: "license"},
	)
}

// Predicates returns a copy of the predicates
func (f Filters) Predicates() []Predicate {
	cp := make([]Predicate, len(f.predicates))
	copy(cp, f.predicates)
	return cp
}

// Len returns the number of predicates
func (f Filters) Len() int {
	return len(f.predicates)
}

// String renders the predicates joined by spaces
func (f Filters) String() string {
	terms := make([]string, 0, len(f.predicates))
	for _, p := range f.predicates {
		terms = append(terms, p.String())
	}
	return strings.Join(terms, " ")
}

// MarshalJSON encodes the filters as a list of predicates
func (f Filters) MarshalJSON() ([]byte, error) {
	return json.Marshal(f.Predicates())
}

// UnmarshalJSON decodes a list of predicates
func (f *Filters) UnmarshalJSON(data []byte) error {
	var preds []Predicate
	if err := json.Unmarshal(data, &preds); err != nil {
		return err
	}
	*f = NewFilters(preds...)
	return nil
}

// Partition is an inclusive creation-date bound, normally one calendar day
type Partition struct {
	Start time.Time
	End   time.Time
}

// DayPartition returns the partition covering the calendar day of t (UTC)
func DayPartition(t time.Time) Partition {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return Partition{Start: day, End: day}
}

// ID identifies the partition in logs and audit records
func (p Partition) ID() string {
	if p.End.IsZero() || sameDay(p.Start, p.End) {
		return p.Start.Format(DateLayout)
	}
	return p.Start.Format(DateLayout) + ".." + p.End.Format(DateLayout)
}

// Qualifier renders the created-date bound of the partition
func (p Partition) Qualifier() string {
	return "created:" + p.ID()
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// DateRange is an inclusive range of calendar days
type DateRange struct {
	Start time.Time
	End   time.Time
}

// ParseDateRange parses two YYYY-MM-DD dates
func ParseDateRange(start, end string) (DateRange, error) {
	s, err := time.Parse(DateLayout, start)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid start date %q: %w", start, err)
	}
	e, err := time.Parse(DateLayout, end)
	if err != nil {
		return DateRange{}, fmt.Errorf("invalid end date %q: %w", end, err)
	}
	r := DateRange{Start: s, End: e}
	if err := r.Validate(); err != nil {
		return DateRange{}, err
	}
	return r, nil
}

// Validate checks that the range is not inverted
func (r DateRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return fmt.Errorf("date range requires both start and end")
	}
	if r.End.Before(r.Start) {
		return fmt.Errorf("end date %s is before start date %s", r.End.Format(DateLayout), r.Start.Format(DateLayout))
	}
	return nil
}

// Partitions returns one partition per day in ascending order
func (r DateRange) Partitions() []Partition {
	start := DayPartition(r.Start).Start
	end := DayPartition(r.End).Start

	var partitions []Partition
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		partitions = append(partitions, Partition{Start: d, End: d})
	}
	return partitions
}

// Query is the filter set bound to one partition
type Query struct {
	Filters   Filters
	Partition Partition
}

// String renders the q parameter of a search request
func (q Query) String() string {
	if q.Filters.Len() == 0 {
		return q.Partition.Qualifier()
	}
	return q.Filters.String() + " " + q.Partition.Qualifier()
}

// PageRequest identifies one search request
type PageRequest struct {
	Query   Query
	Page    int
	PerPage int
}

// NewPageRequest creates a page request with the fixed page size
func NewPageRequest(q Query, page int) PageRequest {
	return PageRequest{Query: q, Page: page, PerPage: PageSize}
}

// RawRecord is a repository object exactly as the search API returned it
type RawRecord = json.RawMessage

// PageResult is the decoded body of one successful search response
type PageResult struct {
	TotalCount        int
	IncompleteResults bool
	Items             []RawRecord
}
