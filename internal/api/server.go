// Package api exposes the HTTP interface for the crawl service.
package api

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlbridge/internal/config"
	"github.com/JakeFAU/crawlbridge/internal/crawler"
	"github.com/JakeFAU/crawlbridge/internal/metrics"
	"github.com/JakeFAU/crawlbridge/internal/store"
)

// JobDispatcher queues jobs and interrupts running ones.
type JobDispatcher interface {
	Enqueue(ctx context.Context, item crawler.QueueItem) error
	Cancel(jobID string) bool
}

// Connections resolves and lists configured repository connections.
type Connections interface {
	crawler.ConnectorRegistry
	Names() []string
}

// Deps are the collaborators the HTTP handlers use. Activity is optional.
type Deps struct {
	JobStore    crawler.JobStore
	Dispatcher  JobDispatcher
	Connections Connections
	Activity    store.ActivityRepository
	IDs         crawler.IDGenerator
	Clock       crawler.Clock
}

// Server wires HTTP handlers to the dispatcher and stores.
type Server struct {
	router      chi.Router
	jobStore    crawler.JobStore
	dispatcher  JobDispatcher
	connections Connections
	idGen       crawler.IDGenerator
	clock       crawler.Clock
	cfg         config.Config
	logger      *zap.Logger
}

const enqueueTimeout = 5 * time.Second

// NewServer constructs a Server with middleware and routes.
func NewServer(deps Deps, cfg config.Config, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		jobStore:    deps.JobStore,
		dispatcher:  deps.Dispatcher,
		connections: deps.Connections,
		idGen:       deps.IDs,
		clock:       deps.Clock,
		cfg:         cfg,
		logger:      logger,
	}
	activity := NewActivityHandler(deps.Activity, logger)

	r := chi.NewRouter()
	r.Use(requestIDMiddleware)
	r.Use(loggingMiddleware(logger))
	r.Use(recoverMiddleware(logger))
	r.Use(metrics.Middleware)
	r.Use(timeoutMiddleware(60 * time.Second))

	r.Get("/healthz", s.healthz)
	r.Get("/readyz", s.readyz)
	r.Handle("/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if cfg.Auth.Enabled {
			r.Use(apiKeyMiddleware(cfg.Auth.APIKey))
		}
		r.Get("/connections", s.listConnections)
		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", s.submitJob)
			r.Post("/standard", s.submitStandardJob)
			r.Route("/{job_id}", func(r chi.Router) {
				r.Get("/status", s.getJobStatus)
				r.Get("/result", s.getJobResult)
				r.Get("/activity", activity.ListActivity)
				r.Post("/cancel", s.cancelJob)
			})
		})
	})

	s.router = r
	return s
}

// Handler returns the Router for use with http.Server.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) readyz(w http.ResponseWriter, _ *http.Request) {
	if s.connections == nil || len(s.connections.Names()) == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "no connections configured"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) listConnections(w http.ResponseWriter, _ *http.Request) {
	names := []string{}
	if s.connections != nil {
		names = s.connections.Names()
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": names})
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req jobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	params, err := s.toJobParameters(req)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.enqueueAndRespond(w, r, params)
}

func (s *Server) submitStandardJob(w http.ResponseWriter, r *http.Request) {
	var req standardJobRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		writeError(w, http.StatusBadRequest, "missing job name")
		return
	}
	templateParams, ok := s.cfg.StandardJobs[req.Name]
	if !ok {
		writeError(w, http.StatusNotFound, "standard job template not found")
		return
	}
	params := s.applyDefaults(cloneJobParameters(templateParams))
	if err := s.validate(params); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.enqueueAndRespond(w, r, params)
}

func (s *Server) enqueueAndRespond(w http.ResponseWriter, r *http.Request, params crawler.JobParameters) {
	jobID, err := s.enqueueJob(r.Context(), params)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, context.DeadlineExceeded) {
			status = http.StatusServiceUnavailable
		}
		s.logger.Error("enqueue job failed", zap.Error(err))
		writeError(w, status, err.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"job_id": jobID})
}

func (s *Server) getJobStatus(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		writeJobLookupError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"job": job})
}

func (s *Server) getJobResult(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		writeJobLookupError(w, err)
		return
	}
	docs, err := s.jobStore.ListDocuments(r.Context(), jobID)
	if err != nil {
		s.logger.Error("list documents failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to fetch job documents")
		return
	}
	writeJSON(w, http.StatusOK, crawler.JobResult{Job: job, Documents: docs})
}

// cancelJob marks a job canceled and interrupts it if a worker is running it.
func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobStore.GetJob(r.Context(), jobID)
	if err != nil {
		writeJobLookupError(w, err)
		return
	}
	if job.Status.IsTerminal() {
		writeJSON(w, http.StatusConflict, map[string]string{
			"job_id": jobID,
			"status": string(job.Status),
			"error":  "job already finished",
		})
		return
	}
	if err := s.jobStore.UpdateJobStatus(
		r.Context(),
		jobID,
		crawler.JobStatusCanceled,
		"canceled via API",
		job.Counters,
	); err != nil {
		s.logger.Error("cancel job failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to cancel job")
		return
	}
	interrupted := s.dispatcher.Cancel(jobID)
	s.logger.Info("job canceled", zap.String("job_id", jobID), zap.Bool("interrupted", interrupted))
	writeJSON(w, http.StatusOK, map[string]any{
		"job_id":      jobID,
		"status":      string(crawler.JobStatusCanceled),
		"interrupted": interrupted,
	})
}

func (s *Server) enqueueJob(ctx context.Context, params crawler.JobParameters) (string, error) {
	jobID, err := s.idGen.NewID()
	if err != nil {
		return "", fmt.Errorf("generate job id: %w", err)
	}
	now := s.clock.Now()
	job := crawler.Job{
		ID:         jobID,
		Status:     crawler.JobStatusQueued,
		Submitted:  now,
		Parameters: params,
		Counters:   crawler.JobCounters{},
	}
	if err := s.jobStore.CreateJob(ctx, job); err != nil {
		return "", fmt.Errorf("create job: %w", err)
	}
	queueCtx, cancel := context.WithTimeout(ctx, enqueueTimeout)
	defer cancel()
	item := crawler.QueueItem{
		JobID:     jobID,
		Params:    params,
		Attempt:   1,
		Submitted: now.Unix(),
	}
	if err := s.dispatcher.Enqueue(queueCtx, item); err != nil {
		return "", fmt.Errorf("enqueue job: %w", err)
	}
	return jobID, nil
}

func (s *Server) toJobParameters(req jobRequest) (crawler.JobParameters, error) {
	if req.Connection == "" {
		return crawler.JobParameters{}, errors.New("connection required")
	}
	params := crawler.JobParameters{
		Connection:    req.Connection,
		Seeds:         cloneStringSlice(req.Seeds),
		MaxDepth:      valueOrDefault(req.MaxDepth, s.cfg.Crawler.MaxDepthDefault),
		MaxDocuments:  valueOrDefault(req.MaxDocuments, s.cfg.Crawler.MaxDocumentsDefault),
		BudgetSeconds: valueOrDefault(req.BudgetSeconds, s.cfg.Crawler.BudgetSeconds),
		Include:       cloneStringSlice(req.Include),
		Exclude:       cloneStringSlice(req.Exclude),
		Tags:          req.Tags,
	}
	if params.MaxDepth < 0 || params.MaxDocuments < 0 || params.BudgetSeconds < 0 {
		return crawler.JobParameters{}, errors.New("limits must be >= 0")
	}
	params = s.applyDefaults(params)
	if err := s.validate(params); err != nil {
		return crawler.JobParameters{}, err
	}
	return params, nil
}

func (s *Server) validate(params crawler.JobParameters) error {
	if s.connections == nil {
		return errors.New("no connections configured")
	}
	if _, err := s.connections.Connector(params.Connection); err != nil {
		return fmt.Errorf("connection %q: %w", params.Connection, crawler.ErrUnknownConnection)
	}
	if _, err := crawler.NewFilter(params.Include, params.Exclude); err != nil {
		return fmt.Errorf("invalid filter: %w", err)
	}
	return nil
}

type standardJobRequest struct {
	Name string `json:"name"`
}

type jobRequest struct {
	Connection    string            `json:"connection"`
	Seeds         []string          `json:"seeds"`
	MaxDepth      *int              `json:"max_depth"`
	MaxDocuments  *int              `json:"max_documents"`
	BudgetSeconds *int              `json:"budget_seconds"`
	Include       []string          `json:"include"`
	Exclude       []string          `json:"exclude"`
	Tags          map[string]string `json:"tags"`
}

func valueOrDefault[T any](ptr *T, def T) T {
	if ptr == nil {
		return def
	}
	return *ptr
}

func (s *Server) applyDefaults(params crawler.JobParameters) crawler.JobParameters {
	if params.MaxDepth == 0 {
		params.MaxDepth = s.cfg.Crawler.MaxDepthDefault
	}
	if params.MaxDocuments == 0 {
		params.MaxDocuments = s.cfg.Crawler.MaxDocumentsDefault
	}
	if params.BudgetSeconds == 0 {
		params.BudgetSeconds = s.cfg.Crawler.BudgetSeconds
	}
	if params.Tags == nil {
		params.Tags = map[string]string{}
	}
	return params
}

func cloneJobParameters(src crawler.JobParameters) crawler.JobParameters {
	cp := src
	cp.Seeds = cloneStringSlice(src.Seeds)
	cp.Include = cloneStringSlice(src.Include)
	cp.Exclude = cloneStringSlice(src.Exclude)
	if src.Tags != nil {
		cp.Tags = make(map[string]string, len(src.Tags))
		for k, v := range src.Tags {
			cp.Tags[k] = v
		}
	}
	return cp
}

func cloneStringSlice(src []string) []string {
	if len(src) == 0 {
		return nil
	}
	dst := make([]string, len(src))
	copy(dst, src)
	return dst
}

func requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		reqID := r.Header.Get("X-Request-ID")
		if reqID == "" {
			reqID = uuid.NewString()
		}
		ctx := context.WithValue(r.Context(), requestIDKey{}, reqID)
		w.Header().Set("X-Request-ID", reqID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}

func loggingMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := &responseWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(ww, r)
			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.status),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.String("request_id", requestID(r.Context())),
			)
		})
	}
}

func recoverMiddleware(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					logger.Error("panic recovered", zap.Any("error", rec), zap.String("request_id", requestID(r.Context())))
					writeError(w, http.StatusInternalServerError, "internal server error")
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func timeoutMiddleware(d time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.TimeoutHandler(next, d, "request timed out")
	}
}

type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	n, err := rw.ResponseWriter.Write(b)
	if err != nil {
		return n, fmt.Errorf("write response: %w", err)
	}
	return n, nil
}

func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := rw.ResponseWriter.(http.Hijacker); ok {
		conn, buf, err := h.Hijack()
		if err != nil {
			return nil, nil, fmt.Errorf("hijack connection: %w", err)
		}
		return conn, buf, nil
	}
	return nil, nil, errors.New("hijacker not supported")
}

type requestIDKey struct{}

func apiKeyMiddleware(expected string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := r.Header.Get("X-API-Key")
			if key == "" {
				key = r.URL.Query().Get("api_key")
			}
			if key != expected {
				writeError(w, http.StatusForbidden, "unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func writeJobLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, crawler.ErrJobNotFound) {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeError(w, http.StatusInternalServerError, "failed to load job")
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		zap.L().Error("write JSON failed", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
