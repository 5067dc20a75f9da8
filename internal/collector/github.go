package collector

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/go-github/v55/github"
	"github.com/rs/zerolog"
	"golang.org/x/oauth2"

	"github.com/kurihiro0119/github-repo-extractor/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-extractor/internal/errors"
)

// ErrorClass classifies a failed search request
type ErrorClass string

const (
	ErrorClassClient    ErrorClass = "client"
	ErrorClassServer    ErrorClass = "server"
	ErrorClassRateLimit ErrorClass = "rate_limit"
	ErrorClassNetwork   ErrorClass = "network"
	ErrorClassMalformed ErrorClass = "malformed"
	ErrorClassCanceled  ErrorClass = "canceled"
)

// shouldRetry reports whether another attempt can change the outcome
func shouldRetry(class ErrorClass) bool {
	switch class {
	case ErrorClassServer, ErrorClassRateLimit, ErrorClassNetwork:
		return true
	default:
		return false
	}
}

// FetcherConfig configures a SearchFetcher
type FetcherConfig struct {
	BaseURL      string
	Token        string
	MaxAttempts  int
	RetryBackoff time.Duration
	Timeout      time.Duration
	Clock        Clock
}

// SearchFetcher fetches repository search pages through go-github
type SearchFetcher struct {
	client       *github.Client
	governor     RateLimiter
	clock        Clock
	maxAttempts  int
	retryBackoff time.Duration
	logger       zerolog.Logger
}

// searchResponse mirrors the search body. Pointers and raw items let
// missing fields be told apart from empty ones.
type searchResponse struct {
	TotalCount        *int              `json:"total_count"`
	IncompleteResults bool              `json:"incomplete_results"`
	Items             []json.RawMessage `json:"items"`
}

// NewSearchFetcher creates a fetcher. Every attempt waits on governor first.
func NewSearchFetcher(cfg FetcherConfig, governor RateLimiter, logger zerolog.Logger) (*SearchFetcher, error) {
	var httpClient *http.Client
	if cfg.Token != "" {
		ts := oauth2.StaticTokenSource(
			&oauth2.Token{AccessToken: cfg.Token},
		)
		httpClient = oauth2.NewClient(context.Background(), ts)
	} else {
		logger.Warn().Msg("GITHUB_TOKEN not set, search requests are unauthenticated")
		httpClient = &http.Client{}
	}
	httpClient.Timeout = cfg.Timeout

	client := github.NewClient(httpClient)
	if cfg.BaseURL != "" {
		base := cfg.BaseURL
		if !strings.HasSuffix(base, "/") {
			base += "/"
		}
		u, err := url.Parse(base)
		if err != nil {
			return nil, fmt.Errorf("invalid GitHub API URL: %w", err)
		}
		client.BaseURL = u
	}

	maxAttempts := cfg.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	clock := cfg.Clock
	if clock == nil {
		clock = SystemClock{}
	}

	return &SearchFetcher{
		client:       client,
		governor:     governor,
		clock:        clock,
		maxAttempts:  maxAttempts,
		retryBackoff: cfg.RetryBackoff,
		logger:       logger,
	}, nil
}

// FetchPage fetches one page, retrying transient failures up to maxAttempts
func (f *SearchFetcher) FetchPage(ctx context.Context, q domain.Query, page int) (*domain.PageResult, error) {
	req := domain.NewPageRequest(q, page)
	partition := q.Partition.ID()

	var lastErr error
	var lastClass ErrorClass
	for attempt := 1; attempt <= f.maxAttempts; attempt++ {
		if attempt > 1 && f.retryBackoff > 0 {
			if err := f.clock.Sleep(ctx, f.retryBackoff); err != nil {
				return nil, f.failure(req, attempt-1, err)
			}
		}
		if err := f.governor.Wait(ctx); err != nil {
			return nil, f.failure(req, attempt-1, err)
		}

		result, class, err := f.do(ctx, req)
		if err == nil {
			searchRequestsTotal.WithLabelValues("ok").Inc()
			if attempt > 1 {
				f.logger.Info().
					Str("partition", partition).
					Int("page", page).
					Int("attempt", attempt).
					Msg("Search page succeeded after retry")
			}
			return result, nil
		}
		searchRequestsTotal.WithLabelValues(string(class)).Inc()

		if class == ErrorClassMalformed {
			f.logger.Error().Err(err).Str("partition", partition).Int("page", page).Msg("Malformed search response")
			return nil, err
		}

		lastErr, lastClass = err, class
		if !shouldRetry(class) {
			return nil, f.failure(req, attempt, err)
		}

		if attempt < f.maxAttempts {
			searchRetriesTotal.WithLabelValues(string(class)).Inc()
			f.logger.Warn().
				Err(err).
				Str("partition", partition).
				Int("page", page).
				Int("attempt", attempt).
				Str("error_class", string(class)).
				Msg("Search request failed, retrying")
		}
	}

	searchRetryExhaustedTotal.WithLabelValues(string(lastClass)).Inc()
	return nil, f.failure(req, f.maxAttempts, lastErr)
}

func (f *SearchFetcher) failure(req domain.PageRequest, attempts int, err error) *apperrors.FetchFailure {
	return &apperrors.FetchFailure{
		Query:     req.Query.String(),
		Partition: req.Query.Partition.ID(),
		Page:      req.Page,
		Attempts:  attempts,
		Err:       err,
	}
}

// do performs a single request and validates the body
func (f *SearchFetcher) do(ctx context.Context, req domain.PageRequest) (*domain.PageResult, ErrorClass, error) {
	params := url.Values{}
	params.Set("q", req.Query.String())
	params.Set("sort", "created")
	params.Set("order", "desc")
	params.Set("page", strconv.Itoa(req.Page))
	params.Set("per_page", strconv.Itoa(req.PerPage))

	httpReq, err := f.client.NewRequest(http.MethodGet, "search/repositories?"+params.Encode(), nil)
	if err != nil {
		return nil, ErrorClassClient, fmt.Errorf("failed to build search request: %w", err)
	}

	// Buffered so a dropped connection fails the read rather than the decode
	var buf bytes.Buffer
	start := time.Now()
	resp, err := f.client.Do(ctx, httpReq, &buf)
	searchRequestDuration.Observe(time.Since(start).Seconds())

	f.updateRateLimit(resp, err)

	if err != nil {
		return nil, classify(ctx, resp, err), err
	}

	var body searchResponse
	if raw := bytes.TrimSpace(buf.Bytes()); len(raw) > 0 {
		if err := json.Unmarshal(raw, &body); err != nil {
			return nil, ErrorClassMalformed, &apperrors.MalformedResponse{
				Partition: req.Query.Partition.ID(),
				Page:      req.Page,
				Reason:    "undecodable body",
				Err:       err,
			}
		}
	}

	result, reason := validate(&body)
	if reason != "" {
		return nil, ErrorClassMalformed, &apperrors.MalformedResponse{
			Partition: req.Query.Partition.ID(),
			Page:      req.Page,
			Reason:    reason,
		}
	}
	return result, "", nil
}

// classify maps a transport or go-github error to an ErrorClass. Only the
// caller's context ends retrying; client timeouts are network failures.
func classify(ctx context.Context, resp *github.Response, err error) ErrorClass {
	if ctx.Err() != nil {
		return ErrorClassCanceled
	}

	var rateErr *github.RateLimitError
	var abuseErr *github.AbuseRateLimitError
	if stderrors.As(err, &rateErr) || stderrors.As(err, &abuseErr) {
		return ErrorClassRateLimit
	}

	if resp == nil || resp.Response == nil {
		return ErrorClassNetwork
	}

	status := resp.StatusCode
	switch {
	case status >= 200 && status < 300:
		// headers arrived but reading the body failed
		return ErrorClassNetwork
	case status == http.StatusTooManyRequests:
		return ErrorClassRateLimit
	case status >= 500:
		return ErrorClassServer
	default:
		return ErrorClassClient
	}
}

// validate checks the shape of a decoded body and returns a reason when it is malformed
func validate(body *searchResponse) (*domain.PageResult, string) {
	if body.TotalCount == nil {
		return nil, "missing total_count"
	}
	if *body.TotalCount < 0 {
		return nil, "negative total_count"
	}
	if body.Items == nil {
		return nil, "missing items"
	}

	items := make([]domain.RawRecord, 0, len(body.Items))
	for i, item := range body.Items {
		if !bytes.HasPrefix(bytes.TrimSpace(item), []byte("{")) {
			return nil, fmt.Sprintf("item %d is not an object", i)
		}
		items = append(items, domain.RawRecord(item))
	}

	return &domain.PageResult{
		TotalCount:        *body.TotalCount,
		IncompleteResults: body.IncompleteResults,
		Items:             items,
	}, ""
}

// updateRateLimit feeds the reported quota to the governor
func (f *SearchFetcher) updateRateLimit(resp *github.Response, err error) {
	var rateErr *github.RateLimitError
	if stderrors.As(err, &rateErr) {
		f.governor.UpdateLimit(rateErr.Rate.Remaining, rateErr.Rate.Reset.Time)
		return
	}

	var abuseErr *github.AbuseRateLimitError
	if stderrors.As(err, &abuseErr) && abuseErr.RetryAfter != nil {
		f.governor.UpdateLimit(0, f.clock.Now().Add(*abuseErr.RetryAfter))
		return
	}

	if resp == nil || resp.Response == nil || resp.Header.Get("X-RateLimit-Remaining") == "" {
		return
	}
	f.governor.UpdateLimit(resp.Rate.Remaining, resp.Rate.Reset.Time)
}
