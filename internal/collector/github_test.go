package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/kurihiro0119/github-repo-extractor/internal/errors"
)

func writePage(w http.ResponseWriter, total, n int) {
	items := make([]json.RawMessage, n)
	for i := range items {
		items[i] = json.RawMessage(fmt.Sprintf(`{"id":%d,"name":"repo-%d"}`, i+1, i+1))
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]interface{}{
		"total_count":        total,
		"incomplete_results": false,
		"items":              items,
	})
}

func newTestFetcher(t *testing.T, handler http.HandlerFunc, limiter RateLimiter) (*SearchFetcher, *int32) {
	t.Helper()
	var calls int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		handler(w, r)
	}))
	t.Cleanup(server.Close)

	f, err := NewSearchFetcher(FetcherConfig{
		BaseURL:     server.URL,
		Token:       "test-token",
		MaxAttempts: 3,
		Timeout:     5 * time.Second,
		Clock:       newFakeClock(),
	}, limiter, zerolog.Nop())
	require.NoError(t, err)
	return f, &calls
}

func TestFetchPage_Success(t *testing.T) {
	limiter := &countingLimiter{}
	f, calls := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/search/repositories", r.URL.Path)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		params := r.URL.Query()
		assert.Equal(t, "stars:>=1 created:2025-01-01", params.Get("q"))
		assert.Equal(t, "created", params.Get("sort"))
		assert.Equal(t, "desc", params.Get("order"))
		assert.Equal(t, "2", params.Get("page"))
		assert.Equal(t, "100", params.Get("per_page"))

		writePage(w, 250, 100)
	}, limiter)

	result, err := f.FetchPage(context.Background(), testQuery("2025-01-01"), 2)
	require.NoError(t, err)

	assert.Equal(t, 250, result.TotalCount)
	assert.Len(t, result.Items, 100)
	assert.JSONEq(t, `{"id":1,"name":"repo-1"}`, string(result.Items[0]))
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
	assert.Equal(t, 1, limiter.Waits())
}

func TestFetchPage_EmptyPage(t *testing.T) {
	f, _ := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		writePage(w, 250, 0)
	}, &countingLimiter{})

	result, err := f.FetchPage(context.Background(), testQuery("2025-01-01"), 4)
	require.NoError(t, err)

	assert.Equal(t, 250, result.TotalCount)
	assert.NotNil(t, result.Items)
	assert.Empty(t, result.Items)
}

func TestFetchPage_RetriesTransientFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
	}{
		{"server error", http.StatusInternalServerError},
		{"bad gateway", http.StatusBadGateway},
		{"too many requests", http.StatusTooManyRequests},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n int32
			limiter := &countingLimiter{}
			f, calls := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
				if atomic.AddInt32(&n, 1) < 3 {
					w.WriteHeader(tt.status)
					return
				}
				writePage(w, 10, 10)
			}, limiter)

			result, err := f.FetchPage(context.Background(), testQuery("2025-01-01"), 1)
			require.NoError(t, err)

			assert.Len(t, result.Items, 10)
			assert.Equal(t, int32(3), atomic.LoadInt32(calls))
			assert.Equal(t, 3, limiter.Waits(), "every attempt passes through the governor")
		})
	}
}

func TestFetchPage_ExhaustedAttempts(t *testing.T) {
	limiter := &countingLimiter{}
	f, calls := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}, limiter)

	result, err := f.FetchPage(context.Background(), testQuery("2025-01-01"), 3)
	require.Error(t, err)
	assert.Nil(t, result, "a failure is never reported as an empty page")

	var ff *apperrors.FetchFailure
	require.ErrorAs(t, err, &ff)
	assert.Equal(t, 3, ff.Attempts)
	assert.Equal(t, 3, ff.Page)
	assert.Equal(t, "2025-01-01", ff.Partition)
	assert.Equal(t, "stars:>=1 created:2025-01-01", ff.Query)
	assert.Equal(t, int32(3), atomic.LoadInt32(calls))
	assert.Equal(t, 3, limiter.Waits())
}

func TestFetchPage_ClientErrorNotRetried(t *testing.T) {
	f, calls := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"Validation Failed"}`))
	}, &countingLimiter{})

	_, err := f.FetchPage(context.Background(), testQuery("2025-01-01"), 1)

	var ff *apperrors.FetchFailure
	require.ErrorAs(t, err, &ff)
	assert.Equal(t, 1, ff.Attempts)
	assert.Equal(t, int32(1), atomic.LoadInt32(calls))
}

func TestFetchPage_Malformed(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		reason string
	}{
		{"missing total_count", `{"incomplete_results":false,"items":[]}`, "missing total_count"},
		{"missing items", `{"total_count":5,"incomplete_results":false}`, "missing items"},
		{"null items", `{"total_count":5,"items":null}`, "missing items"},
		{"non-object item", `{"total_count":1,"items":[42]}`, "item 0 is not an object"},
		{"invalid json", `{"total_count":`, "undecodable body"},
		{"empty body", ``, "missing total_count"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, calls := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tt.body))
			}, &countingLimiter{})

			result, err := f.FetchPage(context.Background(), testQuery("2025-01-01"), 1)
			assert.Nil(t, result)

			var mr *apperrors.MalformedResponse
			require.ErrorAs(t, err, &mr)
			assert.Equal(t, tt.reason, mr.Reason)
			assert.False(t, apperrors.IsFetchFailure(err))
			assert.Equal(t, int32(1), atomic.LoadInt32(calls), "malformed responses are not retried")
		})
	}
}

func TestFetchPage_NetworkError(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	server.Close()

	limiter := &countingLimiter{}
	f, err := NewSearchFetcher(FetcherConfig{
		BaseURL:     server.URL,
		MaxAttempts: 2,
		Timeout:     time.Second,
		Clock:       newFakeClock(),
	}, limiter, zerolog.Nop())
	require.NoError(t, err)

	_, err = f.FetchPage(context.Background(), testQuery("2025-01-01"), 1)

	var ff *apperrors.FetchFailure
	require.ErrorAs(t, err, &ff)
	assert.Equal(t, 2, ff.Attempts)
	assert.Equal(t, 2, limiter.Waits())
}

func TestFetchPage_RetriesClientTimeout(t *testing.T) {
	var n int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) == 1 {
			select {
			case <-time.After(300 * time.Millisecond):
			case <-r.Context().Done():
			}
			return
		}
		writePage(w, 1, 1)
	}))
	t.Cleanup(server.Close)

	limiter := &countingLimiter{}
	f, err := NewSearchFetcher(FetcherConfig{
		BaseURL:     server.URL,
		MaxAttempts: 3,
		Timeout:     100 * time.Millisecond,
		Clock:       newFakeClock(),
	}, limiter, zerolog.Nop())
	require.NoError(t, err)

	result, err := f.FetchPage(context.Background(), testQuery("2025-01-01"), 1)
	require.NoError(t, err, "a request timeout is retried")
	assert.Len(t, result.Items, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(&n))
	assert.Equal(t, 2, limiter.Waits())
}

func TestFetchPage_RetriesTruncatedBody(t *testing.T) {
	var n int32
	f, calls := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) == 1 {
			hj, ok := w.(http.Hijacker)
			require.True(t, ok)
			conn, rw, err := hj.Hijack()
			require.NoError(t, err)
			_, _ = rw.WriteString("HTTP/1.1 200 OK\r\nContent-Type: application/json\r\nContent-Length: 500\r\n\r\n")
			_, _ = rw.WriteString(`{"total_count":1,"items":[{"id":1`)
			_ = rw.Flush()
			_ = conn.Close()
			return
		}
		writePage(w, 1, 1)
	}, &countingLimiter{})

	result, err := f.FetchPage(context.Background(), testQuery("2025-01-01"), 1)
	require.NoError(t, err, "a body cut short by the connection is retried")
	assert.Len(t, result.Items, 1)
	assert.Equal(t, int32(2), atomic.LoadInt32(calls))
}

func TestFetchPage_Cancelled(t *testing.T) {
	f, calls := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		writePage(w, 1, 1)
	}, &countingLimiter{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := f.FetchPage(ctx, testQuery("2025-01-01"), 1)
	assert.True(t, apperrors.IsFetchFailure(err))
	assert.True(t, errors.Is(err, context.Canceled))
	assert.Equal(t, int32(0), atomic.LoadInt32(calls))
}

func TestFetchPage_RetryBackoff(t *testing.T) {
	var n int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&n, 1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		writePage(w, 1, 1)
	}))
	defer server.Close()

	clock := newFakeClock()
	f, err := NewSearchFetcher(FetcherConfig{
		BaseURL:      server.URL,
		MaxAttempts:  3,
		RetryBackoff: 5 * time.Second,
		Timeout:      time.Second,
		Clock:        clock,
	}, &countingLimiter{}, zerolog.Nop())
	require.NoError(t, err)

	_, err = f.FetchPage(context.Background(), testQuery("2025-01-01"), 1)
	require.NoError(t, err)
	assert.Equal(t, []time.Duration{5 * time.Second}, clock.Sleeps())
}

func TestFetchPage_FeedsRateLimitHeaders(t *testing.T) {
	reset := time.Now().Add(time.Minute).Unix()
	limiter := &countingLimiter{}
	f, _ := newTestFetcher(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-RateLimit-Limit", "30")
		w.Header().Set("X-RateLimit-Remaining", "29")
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(reset, 10))
		w.Header().Set("X-RateLimit-Resource", "search")
		writePage(w, 1, 1)
	}, limiter)

	_, err := f.FetchPage(context.Background(), testQuery("2025-01-01"), 1)
	require.NoError(t, err)

	remaining, resetTime := limiter.CheckLimit()
	assert.Equal(t, 29, remaining)
	assert.Equal(t, reset, resetTime.Unix())
}

func TestNewSearchFetcher_NormalizesBaseURL(t *testing.T) {
	f, err := NewSearchFetcher(FetcherConfig{BaseURL: "http://example.test/api/v3"}, &countingLimiter{}, zerolog.Nop())
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(f.client.BaseURL.String(), "/api/v3/"))
}

func TestClassify(t *testing.T) {
	assert.True(t, shouldRetry(ErrorClassServer))
	assert.True(t, shouldRetry(ErrorClassRateLimit))
	assert.True(t, shouldRetry(ErrorClassNetwork))
	assert.False(t, shouldRetry(ErrorClassClient))
	assert.False(t, shouldRetry(ErrorClassMalformed))
	assert.False(t, shouldRetry(ErrorClassCanceled))

	timeout := fmt.Errorf("Client.Timeout exceeded: %w", context.DeadlineExceeded)
	assert.Equal(t, ErrorClassNetwork, classify(context.Background(), nil, timeout))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Equal(t, ErrorClassCanceled, classify(ctx, nil, context.Canceled))
}
