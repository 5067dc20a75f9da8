package config

import (
	"fmt"
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/kurihiro0119/github-repo-extractor/internal/domain"
)

// filtersFile is the TOML layout of FILTERS_FILE:
//
//	[[predicate]]
//	qualifier = "stars"
//	value = ">=1"
type filtersFile struct {
	Predicates []domain.Predicate `toml:"predicate"`
}

// LoadFilters reads the predicate set of a run. An empty path yields the defaults.
func LoadFilters(path string) (domain.Filters, error) {
	if path == "" {
		return domain.DefaultFilters(), nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return domain.Filters{}, fmt.Errorf("read filters file: %w", err)
	}
	return ParseFilters(data)
}

// ParseFilters decodes a TOML predicate list
func ParseFilters(data []byte) (domain.Filters, error) {
	var f filtersFile
	if err := toml.Unmarshal(data, &f); err != nil {
		return domain.Filters{}, fmt.Errorf("parse filters: %w", err)
	}
	if err := domain.ValidatePredicates(f.Predicates); err != nil {
		return domain.Filters{}, &ConfigError{Field: "FILTERS_FILE", Message: err.Error()}
	}
	return domain.NewFilters(f.Predicates...), nil
}
