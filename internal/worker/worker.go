// Package worker runs crawl jobs: it drives a connector through the seed,
// version, children and content phases over bridge tasks and disposes of each
// document according to how its phase failed.
package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlbridge/internal/bridge"
	"github.com/JakeFAU/crawlbridge/internal/crawler"
	"github.com/JakeFAU/crawlbridge/internal/metrics"
	"github.com/JakeFAU/crawlbridge/internal/progress"
)

// ErrJobCanceled is the cancellation cause of a job stopped through the API.
var ErrJobCanceled = errors.New("job canceled")

// errBudgetExhausted is the cancellation cause of a job that ran out of time.
var errBudgetExhausted = errors.New("budget exhausted")

// Config controls Worker behavior.
type Config struct {
	// BlobPrefix is prepended to every output object path.
	BlobPrefix string
	// Topic receives one event per ingested or deleted document. Empty disables publishing.
	Topic string
	// ChannelCapacity bounds every bridge channel.
	ChannelCapacity int
	// ChunkSize is the byte stream chunk size; 0 uses the bridge default.
	ChunkSize int
	// TaskTimeout bounds each bridge task; expiry is a retryable failure.
	TaskTimeout time.Duration
	// MaxAttempts caps how often a document is tried within one job.
	MaxAttempts int
	// RetryDelay is how long a retryable document waits before its next attempt.
	RetryDelay time.Duration
	// GiveUpAfter fails a document whose first failure is older than this.
	GiveUpAfter time.Duration
	// ProgressInterval throttles intermediate counter updates.
	ProgressInterval time.Duration
	// StoreTimeout bounds the final status write of a canceled job.
	StoreTimeout time.Duration
}

// Defaults applied by New for zero values.
const (
	DefaultChannelCapacity  = 16
	DefaultMaxAttempts      = 3
	DefaultRetryDelay       = 5 * time.Minute
	DefaultGiveUpAfter      = 3 * time.Hour
	DefaultProgressInterval = 2 * time.Second
	DefaultStoreTimeout     = 10 * time.Second
)

// Deps are the collaborators a Worker needs. Publisher, Emitter and Supervisor are optional.
type Deps struct {
	Queue      crawler.Queue
	Connectors crawler.ConnectorRegistry
	JobStore   crawler.JobStore
	BlobStore  crawler.BlobStore
	Versions   crawler.VersionStore
	Publisher  crawler.Publisher
	Hasher     crawler.Hasher
	Clock      crawler.Clock
	Emitter    progress.Emitter
	Supervisor *bridge.Supervisor
}

// Tracker hands out cancellable job contexts so jobs can be stopped from outside.
type Tracker interface {
	Track(ctx context.Context, jobID string) (context.Context, context.CancelCauseFunc)
}

// Worker consumes queue items and executes the document pipeline.
type Worker struct {
	deps   Deps
	cfg    Config
	logger *zap.Logger
	tracer trace.Tracer
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Emitter == nil {
		deps.Emitter = progress.Discard
	}
	if cfg.ChannelCapacity <= 0 {
		cfg.ChannelCapacity = DefaultChannelCapacity
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = DefaultMaxAttempts
	}
	if cfg.RetryDelay < 0 {
		cfg.RetryDelay = 0
	} else if cfg.RetryDelay == 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	if cfg.GiveUpAfter <= 0 {
		cfg.GiveUpAfter = DefaultGiveUpAfter
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = DefaultProgressInterval
	}
	if cfg.StoreTimeout <= 0 {
		cfg.StoreTimeout = DefaultStoreTimeout
	}
	return &Worker{
		deps:   deps,
		cfg:    cfg,
		logger: logger,
		tracer: otel.Tracer("github.com/JakeFAU/crawlbridge/internal/worker"),
	}
}

// Run blocks, consuming queue items until the context finishes or the queue closes.
// tracker may be nil.
func (w *Worker) Run(ctx context.Context, tracker Tracker) {
	for {
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			if errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			continue
		}
		w.logger.Debug("dequeued job", zap.String("job_id", item.JobID))
		jobCtx, cancel := ctx, context.CancelCauseFunc(func(error) {})
		if tracker != nil {
			jobCtx, cancel = tracker.Track(ctx, item.JobID)
		}
		w.RunJob(jobCtx, item)
		cancel(nil)
	}
}

// RunJob executes one job to a terminal status. It returns the final job record.
func (w *Worker) RunJob(ctx context.Context, item crawler.QueueItem) crawler.Job {
	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()

	logger := w.logger.With(zap.String("job_id", item.JobID), zap.String("connection", item.Params.Connection))

	job, err := w.deps.JobStore.GetJob(ctx, item.JobID)
	if err != nil {
		logger.Error("load job failed", zap.Error(err))
		return crawler.Job{ID: item.JobID, Status: crawler.JobStatusFailed, ErrorText: err.Error()}
	}
	if job.Status.IsTerminal() {
		logger.Info("skipping job already in terminal state", zap.String("status", string(job.Status)))
		return job
	}

	ctx, span := w.tracer.Start(ctx, "crawl.job", trace.WithAttributes(
		attribute.String("job.id", item.JobID),
		attribute.String("job.connection", item.Params.Connection),
	))
	defer span.End()

	start := w.deps.Clock.Now()
	run, err := w.newJobRun(ctx, item, logger)
	if err != nil {
		logger.Error("job setup failed", zap.Error(err))
		return w.finish(ctx, span, item, crawler.JobCounters{}, crawler.JobStatusFailed, err.Error(), start)
	}
	defer run.stopBudget()

	if err := w.deps.JobStore.UpdateJobStatus(ctx, item.JobID, crawler.JobStatusRunning, "", run.counters); err != nil {
		logger.Error("update job status failed", zap.Error(err))
		return w.finish(ctx, span, item, crawler.JobCounters{}, crawler.JobStatusFailed, err.Error(), start)
	}
	w.emit(progress.Event{JobID: item.JobID, Stage: progress.StageJobStart, Connection: item.Params.Connection})
	logger.Info("job started")

	crawlErr := w.crawl(run)
	status, errText := w.deriveFinalStatus(run, crawlErr)
	return w.finish(ctx, span, item, run.counters, status, errText, start)
}

// finish writes the terminal status, reports it and returns the final job record.
func (w *Worker) finish(
	ctx context.Context,
	span trace.Span,
	item crawler.QueueItem,
	counters crawler.JobCounters,
	status crawler.JobStatus,
	errText string,
	start time.Time,
) crawler.Job {
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.cfg.StoreTimeout)
	defer cancel()

	logger := w.logger.With(zap.String("job_id", item.JobID))
	if err := w.deps.JobStore.UpdateJobStatus(writeCtx, item.JobID, status, errText, counters); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
	}
	metrics.ObserveJob(string(status))

	stage := progress.StageJobDone
	switch status {
	case crawler.JobStatusFailed:
		stage = progress.StageJobError
		span.SetStatus(codes.Error, errText)
	case crawler.JobStatusCanceled:
		stage = progress.StageJobCanceled
	}
	elapsed := w.deps.Clock.Now().Sub(start)
	if elapsed < 0 {
		elapsed = 0
	}
	w.emit(progress.Event{
		JobID:      item.JobID,
		Stage:      stage,
		Connection: item.Params.Connection,
		Dur:        elapsed,
		Note:       errText,
	})
	span.SetAttributes(
		attribute.String("job.status", string(status)),
		attribute.Int("job.ingested", counters.DocumentsIngested),
		attribute.Int("job.failed", counters.DocumentsFailed),
	)
	logger.Info("job finished",
		zap.String("status", string(status)),
		zap.String("error", errText),
		zap.Int("ingested", counters.DocumentsIngested),
		zap.Int("unchanged", counters.DocumentsSkipped),
		zap.Int("deleted", counters.DocumentsDeleted),
		zap.Int("failed", counters.DocumentsFailed),
		zap.Int("retries", counters.Retries),
	)

	job, err := w.deps.JobStore.GetJob(writeCtx, item.JobID)
	if err != nil {
		return crawler.Job{ID: item.JobID, Status: status, ErrorText: errText, Counters: counters, Parameters: item.Params}
	}
	return job
}

// deriveFinalStatus maps the crawl outcome onto a terminal job status.
func (w *Worker) deriveFinalStatus(run *jobRun, crawlErr error) (crawler.JobStatus, string) {
	c := run.counters
	if crawlErr != nil {
		switch cause := context.Cause(run.ctx); {
		case errors.Is(cause, errBudgetExhausted):
			if c.Processed() == 0 {
				return crawler.JobStatusFailed, errBudgetExhausted.Error()
			}
			return crawler.JobStatusSucceeded, errBudgetExhausted.Error()
		case run.ctx.Err() != nil:
			return crawler.JobStatusCanceled, causeText(cause)
		default:
			return crawler.JobStatusFailed, crawlErr.Error()
		}
	}
	if c.DocumentsFailed > 0 && c.DocumentsIngested+c.DocumentsSkipped+c.DocumentsDeleted == 0 {
		return crawler.JobStatusFailed, "all documents failed"
	}
	return crawler.JobStatusSucceeded, ""
}

func causeText(cause error) string {
	if cause == nil || errors.Is(cause, context.Canceled) {
		return "canceled"
	}
	return cause.Error()
}

func (w *Worker) emit(evt progress.Event) {
	if evt.TS.IsZero() {
		evt.TS = w.deps.Clock.Now()
	}
	w.deps.Emitter.Emit(evt)
}

// taskOptions labels a bridge task for one connector phase.
func (w *Worker) taskOptions(run *jobRun, phase crawler.Phase) []bridge.Option {
	opts := []bridge.Option{
		bridge.WithName(run.conn.Kind() + "." + string(phase)),
		bridge.WithLogger(run.logger),
	}
	if w.deps.Supervisor != nil {
		opts = append(opts, bridge.WithSupervisor(w.deps.Supervisor))
	}
	if w.cfg.TaskTimeout > 0 && phase != crawler.PhaseSeed {
		opts = append(opts, bridge.WithTimeout(w.cfg.TaskTimeout))
	}
	return opts
}

func (w *Worker) checkConnection(ctx context.Context, run *jobRun) error {
	_, err := bridge.Call(ctx, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, run.conn.Check(ctx)
	}, w.taskOptions(run, "check")...)
	if err != nil {
		return fmt.Errorf("check connection %s: %w", run.conn.Name(), err)
	}
	return nil
}
