package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlbridge/internal/store"
)

const (
	defaultActivityLimit = 100
	maxActivityLimit     = 1000
	activityTimeout      = 3 * time.Second
)

// ActivityHandler exposes a job's read-only activity history.
type ActivityHandler struct {
	repo    store.ActivityRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewActivityHandler wires the repository and logger. A nil repo makes every
// request answer 503.
func NewActivityHandler(repo store.ActivityRepository, logger *zap.Logger) *ActivityHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ActivityHandler{
		repo:    repo,
		timeout: activityTimeout,
		logger:  logger,
	}
}

// ListActivity handles GET /v1/jobs/{job_id}/activity?limit=&offset=. It returns
// {"activity": [...]} oldest first, 400 for malformed IDs or paging, 503 when no
// repository is configured, or 500 if the repository call fails.
func (h *ActivityHandler) ListActivity(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "activity repository unavailable")
		return
	}
	jobID, err := parseJobID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultActivityLimit, maxActivityLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	entries, err := h.repo.ListActivity(ctx, jobID.String(), limit, offset)
	if err != nil {
		h.logger.Error("list activity failed", zap.String("job_id", jobID.String()), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list activity")
		return
	}
	if entries == nil {
		entries = []store.Activity{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"activity": entries,
		"limit":    limit,
		"offset":   offset,
	})
}

func parseJobID(r *http.Request) (uuid.UUID, error) {
	jobIDStr := chi.URLParam(r, "job_id")
	if jobIDStr == "" {
		return uuid.UUID{}, errors.New("job_id is required")
	}
	jobID, err := uuid.Parse(jobIDStr)
	if err != nil {
		return uuid.UUID{}, errors.New("invalid job_id")
	}
	return jobID, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}
