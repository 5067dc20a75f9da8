package domain

import "time"

// Repository is the flattened row persisted for a search result
type Repository struct {
	RunID           string     `json:"run_id"`
	Partition       string     `json:"partition"`
	ID              int64      `json:"id"`
	Name            string     `json:"name"`
	Description     *string    `json:"description"`
	CreatedAt       time.Time  `json:"created_at"`
	UpdatedAt       *time.Time `json:"updated_at"`
	PushedAt        *time.Time `json:"pushed_at"`
	Size            *float64   `json:"size"`
	StargazersCount int64      `json:"stargazers_count"`
	WatchersCount   int64      `json:"watchers_count"`
	Language        string     `json:"language"`
	Forks           int64      `json:"forks"`
	Watchers        int64      `json:"watchers"`
	Score           float64    `json:"score"`
	User            string     `json:"user"`
	UserType        string     `json:"user_type"`
	UserID          int64      `json:"user_id"`
}
