package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/kurihiro0119/github-repo-extractor/internal/domain"
)

// Client is the API client for github-repo-extractor
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// StartRunRequest is the body of a run request. Empty fields use the server defaults.
type StartRunRequest struct {
	StartDate   string             `json:"start_date,omitempty"`
	EndDate     string             `json:"end_date,omitempty"`
	ResumeRunID string             `json:"resume_run_id,omitempty"`
	Filters     []domain.Predicate `json:"filters,omitempty"`
}

// APIError is a non-2xx response from the server
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("API error: %d %s - %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("API error: %d - %s", e.StatusCode, e.Message)
}

// ListRuns retrieves recent runs
func (c *Client) ListRuns(limit int) ([]*domain.ExtractionRun, error) {
	params := url.Values{}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var response struct {
		Data []*domain.ExtractionRun `json:"data"`
	}
	if err := c.get("/api/v1/runs", params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetRun retrieves a single run
func (c *Client) GetRun(runID string) (*domain.ExtractionRun, error) {
	var response struct {
		Data *domain.ExtractionRun `json:"data"`
	}
	if err := c.get("/api/v1/runs/"+url.PathEscape(runID), nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetAudits retrieves the partition audit log of a run, optionally only one status
func (c *Client) GetAudits(runID string, status domain.AuditStatus) ([]domain.PartitionAudit, error) {
	params := url.Values{}
	if status != "" {
		params.Set("status", string(status))
	}

	var response struct {
		Data []domain.PartitionAudit `json:"data"`
	}
	if err := c.get("/api/v1/runs/"+url.PathEscape(runID)+"/partitions", params, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetReport retrieves the completeness report of a run
func (c *Client) GetReport(runID string) (*domain.RunReport, error) {
	var response struct {
		Data *domain.RunReport `json:"data"`
	}
	if err := c.get("/api/v1/runs/"+url.PathEscape(runID)+"/report", nil, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// StartRun asks the server to start an extraction in the background
func (c *Client) StartRun(req StartRunRequest) (*domain.ExtractionRun, error) {
	var response struct {
		Data *domain.ExtractionRun `json:"data"`
	}
	if err := c.post("/api/v1/runs", req, &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// HealthCheck checks if the API is healthy
func (c *Client) HealthCheck() error {
	var response struct {
		Status string `json:"status"`
	}
	if err := c.get("/health", nil, &response); err != nil {
		return err
	}
	if response.Status != "ok" {
		return fmt.Errorf("unhealthy status: %s", response.Status)
	}
	return nil
}

func (c *Client) get(path string, params url.Values, result interface{}) error {
	u, err := url.Parse(c.baseURL + path)
	if err != nil {
		return err
	}
	if len(params) > 0 {
		u.RawQuery = params.Encode()
	}

	resp, err := c.httpClient.Get(u.String())
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decode(resp, result)
}

func (c *Client) post(path string, body, result interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}

	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return decode(resp, result)
}

func decode(resp *http.Response, result interface{}) error {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(body)}

		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &envelope) == nil && envelope.Error.Code != "" {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}

	return json.NewDecoder(resp.Body).Decode(result)
}
