// Package transform turns raw search records into repository rows.
package transform

import (
	"encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/kurihiro0119/github-repo-extractor/internal/domain"
)

// UnknownLanguage replaces a missing language
const UnknownLanguage = "Unknown"

// rawOwner is the nested owner object of a search item
type rawOwner struct {
	Login string  `json:"login"`
	Type  *string `json:"type"`
	ID    *int64  `json:"id"`
}

// rawRepository holds the fields of a search item that are kept.
// Pointers mark fields whose absence changes the outcome.
type rawRepository struct {
	ID              *int64    `json:"id"`
	Name            string    `json:"name"`
	Description     *string   `json:"description"`
	CreatedAt       *string   `json:"created_at"`
	UpdatedAt       *string   `json:"updated_at"`
	PushedAt        *string   `json:"pushed_at"`
	Size            *float64  `json:"size"`
	StargazersCount int64     `json:"stargazers_count"`
	WatchersCount   int64     `json:"watchers_count"`
	Language        *string   `json:"language"`
	Forks           int64     `json:"forks"`
	Watchers        int64     `json:"watchers"`
	Score           float64   `json:"score"`
	Archived        *bool     `json:"archived"`
	Disabled        *bool     `json:"disabled"`
	IsTemplate      *bool     `json:"is_template"`
	Owner           *rawOwner `json:"owner"`
}

// Stats counts what each step removed
type Stats struct {
	Raw        int `json:"raw"`
	Undecoded  int `json:"undecoded"`
	Excluded   int `json:"excluded"` // archived, disabled, template or flag missing
	Duplicates int `json:"duplicates"`
	Incomplete int `json:"incomplete"` // missing id, created_at, user_id or user_type
	Output     int `json:"output"`
}

// Transformer flattens and cleans raw records
type Transformer struct {
	logger zerolog.Logger
}

// NewTransformer creates a transformer
func NewTransformer(logger zerolog.Logger) *Transformer {
	return &Transformer{logger: logger}
}

// row is a record between the cleaning steps
type row struct {
	repo domain.Repository
}

// Transform converts the records of one partition. Records that cannot be
// decoded are counted and skipped rather than failing the batch.
func (t *Transformer) Transform(runID, partition string, records []domain.RawRecord) ([]domain.Repository, Stats) {
	stats := Stats{Raw: len(records)}
	log := t.logger.With().Str("partition", partition).Logger()

	seen := make(map[int64]bool, len(records))
	rows := make([]row, 0, len(records))

	for _, rec := range records {
		var raw rawRepository
		if err := json.Unmarshal(rec, &raw); err != nil {
			stats.Undecoded++
			log.Debug().Err(err).Msg("Skipping undecodable record")
			continue
		}

		if !isFalse(raw.Archived) || !isFalse(raw.Disabled) || !isFalse(raw.IsTemplate) {
			stats.Excluded++
			continue
		}

		if raw.ID != nil {
			if seen[*raw.ID] {
				stats.Duplicates++
				continue
			}
			seen[*raw.ID] = true
		}

		r, ok := flatten(raw)
		if !ok {
			stats.Incomplete++
			continue
		}
		r.repo.RunID = runID
		r.repo.Partition = partition
		rows = append(rows, r)
	}

	imputeSize(rows)

	out := make([]domain.Repository, len(rows))
	for i, r := range rows {
		out[i] = r.repo
	}
	stats.Output = len(out)

	log.Debug().
		Int("raw", stats.Raw).
		Int("excluded", stats.Excluded).
		Int("duplicates", stats.Duplicates).
		Int("incomplete", stats.Incomplete).
		Int("output", stats.Output).
		Msg("Transformed partition records")

	return out, stats
}

// flatten maps a raw record onto a row. ok is false when a required field is missing.
func flatten(raw rawRepository) (row, bool) {
	if raw.ID == nil || raw.CreatedAt == nil || raw.Owner == nil || raw.Owner.ID == nil || raw.Owner.Type == nil {
		return row{}, false
	}
	createdAt, err := time.Parse(time.RFC3339, *raw.CreatedAt)
	if err != nil {
		return row{}, false
	}

	language := UnknownLanguage
	if raw.Language != nil && *raw.Language != "" {
		language = *raw.Language
	}

	r := row{
		repo: domain.Repository{
			ID:              *raw.ID,
			Name:            raw.Name,
			Description:     raw.Description,
			CreatedAt:       createdAt,
			UpdatedAt:       parseTime(raw.UpdatedAt),
			PushedAt:        parseTime(raw.PushedAt),
			StargazersCount: raw.StargazersCount,
			WatchersCount:   raw.WatchersCount,
			Language:        language,
			Forks:           raw.Forks,
			Watchers:        raw.Watchers,
			Score:           raw.Score,
			User:            raw.Owner.Login,
			UserType:        *raw.Owner.Type,
			UserID:          *raw.Owner.ID,
		},
	}
	if raw.Size != nil {
		size := *raw.Size
		r.repo.Size = &size
	}
	return r, true
}

// isFalse reports whether a flag is present and false. A missing flag
// excludes the record like a set one.
func isFalse(b *bool) bool {
	return b != nil && !*b
}

func parseTime(s *string) *time.Time {
	if s == nil {
		return nil
	}
	t, err := time.Parse(time.RFC3339, *s)
	if err != nil {
		return nil
	}
	return &t
}

// imputeSize fills missing sizes with the owner's mean size. Rows still
// missing one get the mean of the batch after that first fill. When no row
// has a size the sizes stay nil.
func imputeSize(rows []row) {
	type acc struct {
		sum float64
		n   int
	}
	byOwner := make(map[int64]*acc)
	for _, r := range rows {
		if r.repo.Size == nil {
			continue
		}
		a, ok := byOwner[r.repo.UserID]
		if !ok {
			a = &acc{}
			byOwner[r.repo.UserID] = a
		}
		a.sum += *r.repo.Size
		a.n++
	}

	var all acc
	for i := range rows {
		if rows[i].repo.Size == nil {
			if a := byOwner[rows[i].repo.UserID]; a != nil {
				mean := a.sum / float64(a.n)
				rows[i].repo.Size = &mean
			}
		}
		if rows[i].repo.Size != nil {
			all.sum += *rows[i].repo.Size
			all.n++
		}
	}

	if all.n == 0 {
		return
	}
	for i := range rows {
		if rows[i].repo.Size == nil {
			mean := all.sum / float64(all.n)
			rows[i].repo.Size = &mean
		}
	}
}
