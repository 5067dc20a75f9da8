package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/kurihiro0119/github-repo-extractor/internal/aggregator"
	"github.com/kurihiro0119/github-repo-extractor/internal/domain"
	apperrors "github.com/kurihiro0119/github-repo-extractor/internal/errors"
	"github.com/kurihiro0119/github-repo-extractor/internal/runner"
)

// RunStarter starts extraction runs in the background
type RunStarter interface {
	Start(req runner.Request) (*domain.ExtractionRun, error)
	Active() string
}

// Handler handles API requests
type Handler struct {
	aggregator aggregator.Aggregator
	runner     RunStarter
}

// NewHandler creates a new API handler. starter may be nil for a read-only API.
func NewHandler(agg aggregator.Aggregator, starter RunStarter) *Handler {
	return &Handler{
		aggregator: agg,
		runner:     starter,
	}
}

// StartRunRequest is the body of POST /api/v1/runs
type StartRunRequest struct {
	StartDate   string             `json:"start_date"`
	EndDate     string             `json:"end_date"`
	ResumeRunID string             `json:"resume_run_id"`
	Filters     []domain.Predicate `json:"filters"`
}

// ListRuns returns recent runs
// GET /api/v1/runs
func (h *Handler) ListRuns(c *gin.Context) {
	limit := parseIntQuery(c, "limit", 20)

	runs, err := h.aggregator.ListRuns(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": runs,
	})
}

// StartRun starts an extraction in the background
// POST /api/v1/runs
func (h *Handler) StartRun(c *gin.Context) {
	if h.runner == nil {
		respondError(c, apperrors.NewBadRequestError("this server does not start runs"))
		return
	}

	var body StartRunRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			respondError(c, apperrors.NewBadRequestError("invalid request body: "+err.Error()))
			return
		}
	}

	req := runner.Request{
		StartDate:   body.StartDate,
		EndDate:     body.EndDate,
		ResumeRunID: body.ResumeRunID,
	}
	if len(body.Filters) > 0 {
		if err := domain.ValidatePredicates(body.Filters); err != nil {
			respondError(c, apperrors.NewBadRequestError("invalid filters: "+err.Error()))
			return
		}
		filters := domain.NewFilters(body.Filters...)
		req.Filters = &filters
	}

	run, err := h.runner.Start(req)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"data": run,
	})
}

// GetRun returns a single run
// GET /api/v1/runs/:id
func (h *Handler) GetRun(c *gin.Context) {
	run, err := h.aggregator.GetRun(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": run,
	})
}

// GetAudits returns the partition audit log of a run
// GET /api/v1/runs/:id/partitions
func (h *Handler) GetAudits(c *gin.Context) {
	audits, err := h.aggregator.GetAudits(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	if status := c.Query("status"); status != "" {
		filtered := make([]domain.PartitionAudit, 0, len(audits))
		for _, a := range audits {
			if string(a.Status) == status {
				filtered = append(filtered, a)
			}
		}
		audits = filtered
	}

	c.JSON(http.StatusOK, gin.H{
		"data": audits,
	})
}

// GetReport returns the completeness report of a run
// GET /api/v1/runs/:id/report
func (h *Handler) GetReport(c *gin.Context) {
	report, err := h.aggregator.RunReport(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data": report,
	})
}

// HealthCheck returns the health status of the API
// GET /health
func (h *Handler) HealthCheck(c *gin.Context) {
	resp := gin.H{
		"status": "ok",
	}
	if h.runner != nil {
		if active := h.runner.Active(); active != "" {
			resp["active_run"] = active
		}
	}
	c.JSON(http.StatusOK, resp)
}

// parseIntQuery parses an integer query parameter with a default value
func parseIntQuery(c *gin.Context, key string, defaultValue int) int {
	valueStr := c.Query(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil || value <= 0 {
		return defaultValue
	}
	return value
}

// respondError sends an error response
func respondError(c *gin.Context, err error) {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		status := http.StatusInternalServerError
		switch appErr.Code {
		case apperrors.ErrCodeNotFound:
			status = http.StatusNotFound
		case apperrors.ErrCodeBadRequest:
			status = http.StatusBadRequest
		case apperrors.ErrCodeConflict:
			status = http.StatusConflict
		}
		c.JSON(status, gin.H{
			"error": gin.H{
				"code":    appErr.Code,
				"message": appErr.Message,
			},
		})
		return
	}

	c.JSON(http.StatusInternalServerError, gin.H{
		"error": gin.H{
			"code":    apperrors.ErrCodeInternal,
			"message": "internal server error",
		},
	})
}
