package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlbridge/internal/bridge"
	"github.com/JakeFAU/crawlbridge/internal/crawler"
	"github.com/JakeFAU/crawlbridge/internal/fingerprint"
	"github.com/JakeFAU/crawlbridge/internal/progress"
)

// document is one frontier entry.
type document struct {
	id           string
	depth        int
	attempts     int
	firstFailure time.Time
	notBefore    time.Time
}

// jobRun is the mutable state of one job. It is owned by the worker goroutine.
type jobRun struct {
	ctx        context.Context
	item       crawler.QueueItem
	conn       crawler.Connector
	filter     *crawler.Filter
	logger     *zap.Logger
	stopBudget func() bool

	counters  crawler.JobCounters
	seen      map[string]struct{}
	frontier  []*document
	deferred  []*document
	lastFlush time.Time
}

func (w *Worker) newJobRun(ctx context.Context, item crawler.QueueItem, logger *zap.Logger) (*jobRun, error) {
	if w.deps.Connectors == nil {
		return nil, fmt.Errorf("no connectors configured")
	}
	conn, err := w.deps.Connectors.Connector(item.Params.Connection)
	if err != nil {
		return nil, fmt.Errorf("resolve connection: %w", err)
	}
	filter, err := crawler.NewFilter(item.Params.Include, item.Params.Exclude)
	if err != nil {
		return nil, fmt.Errorf("build filter: %w", err)
	}
	runCtx, cancel := context.WithCancelCause(ctx)
	stop := func() bool { return false }
	if item.Params.BudgetSeconds > 0 {
		t := time.AfterFunc(time.Duration(item.Params.BudgetSeconds)*time.Second, func() {
			cancel(errBudgetExhausted)
		})
		stop = t.Stop
	}
	return &jobRun{
		ctx:    runCtx,
		item:   item,
		conn:   conn,
		filter: filter,
		logger: logger.With(zap.String("kind", conn.Kind())),
		stopBudget: func() bool {
			stopped := stop()
			cancel(nil)
			return stopped
		},
		seen:      make(map[string]struct{}),
		lastFlush: w.deps.Clock.Now(),
	}, nil
}

// crawl checks the connection, seeds the frontier and processes documents until the
// frontier is empty, the document limit is reached or the job is interrupted. A
// non-nil error aborts the job.
func (w *Worker) crawl(run *jobRun) error {
	if err := w.checkConnection(run.ctx, run); err != nil {
		return err
	}
	if err := w.seed(run); err != nil {
		return err
	}
	for {
		if err := run.ctx.Err(); err != nil {
			return fmt.Errorf("job interrupted: %w", context.Cause(run.ctx))
		}
		if run.limitReached() {
			run.logger.Info("document limit reached", zap.Int("max_documents", run.item.Params.MaxDocuments))
			return nil
		}
		doc, err := w.next(run)
		if err != nil {
			return err
		}
		if doc == nil {
			return nil
		}
		if err := w.processDocument(run, doc); err != nil {
			return err
		}
		w.flushCounters(run)
	}
}

// seed fills the frontier from the connector, retrying transient failures.
func (w *Worker) seed(run *jobRun) error {
	var firstFailure time.Time
	for attempt := 1; ; attempt++ {
		var ids []string
		seq, task := bridge.StartSequence(run.ctx, w.cfg.ChannelCapacity,
			func(ctx context.Context, out *bridge.Sequence) error {
				return run.conn.Seed(ctx, run.item.Params, out)
			}, w.taskOptions(run, crawler.PhaseSeed)...)
		bridge.Drain(seq, func(id string) bool {
			ids = append(ids, id)
			return true
		})
		err := task.Finish()
		if err == nil {
			for _, id := range ids {
				run.push(id, 0)
			}
			run.logger.Info("frontier seeded", zap.Int("seeds", len(ids)))
			return nil
		}

		kind := bridge.KindOf(err)
		if kind != bridge.KindRemoteIO {
			return fmt.Errorf("seed: %w", err)
		}
		now := w.deps.Clock.Now()
		if firstFailure.IsZero() {
			firstFailure = now
		}
		if attempt >= w.cfg.MaxAttempts || now.Sub(firstFailure) >= w.cfg.GiveUpAfter {
			return fmt.Errorf("seed after %d attempts: %w", attempt, err)
		}
		run.counters.Retries++
		run.logger.Warn("seeding failed, retrying",
			zap.String("phase", string(crawler.PhaseSeed)),
			zap.Int("attempt", attempt),
			zap.Duration("delay", w.cfg.RetryDelay),
			zap.Error(err))
		if err := w.sleep(run, w.cfg.RetryDelay); err != nil {
			return err
		}
	}
}

// next pops the frontier, or waits for the earliest deferred retry. It returns nil
// when no work remains.
func (w *Worker) next(run *jobRun) (*document, error) {
	if len(run.frontier) > 0 {
		doc := run.frontier[0]
		run.frontier[0] = nil
		run.frontier = run.frontier[1:]
		return doc, nil
	}
	if len(run.deferred) == 0 {
		return nil, nil
	}
	earliest := 0
	for i, d := range run.deferred {
		if d.notBefore.Before(run.deferred[earliest].notBefore) {
			earliest = i
		}
	}
	doc := run.deferred[earliest]
	run.deferred = append(run.deferred[:earliest], run.deferred[earliest+1:]...)
	if err := w.sleep(run, doc.notBefore.Sub(w.deps.Clock.Now())); err != nil {
		return nil, err
	}
	return doc, nil
}

func (w *Worker) sleep(run *jobRun, d time.Duration) error {
	select {
	case <-w.deps.Clock.After(d):
		return nil
	case <-run.ctx.Done():
		return fmt.Errorf("job interrupted: %w", context.Cause(run.ctx))
	}
}

func (run *jobRun) push(id string, depth int) {
	if _, ok := run.seen[id]; ok {
		return
	}
	run.seen[id] = struct{}{}
	run.frontier = append(run.frontier, &document{id: id, depth: depth})
}

func (run *jobRun) limitReached() bool {
	limit := run.item.Params.MaxDocuments
	return limit > 0 && run.counters.Processed() >= limit
}

// discoveryFull reports whether enough documents are pending to satisfy the limit.
func (run *jobRun) discoveryFull() bool {
	limit := run.item.Params.MaxDocuments
	return limit > 0 && len(run.frontier)+len(run.deferred)+run.counters.Processed() >= limit
}

// processDocument runs one document through version, children and content. It
// returns an error only when the job must abort.
func (w *Worker) processDocument(run *jobRun, doc *document) error {
	ctx, span := w.tracer.Start(run.ctx, "crawl.document", trace.WithAttributes(
		attribute.String("document.id", doc.id),
		attribute.Int("document.depth", doc.depth),
		attribute.Int("document.attempt", doc.attempts+1),
	))
	defer span.End()

	if !run.filter.Allow(doc.id) {
		w.emit(w.docEvent(run, doc, progress.StageDocExcluded))
		return nil
	}

	info, err := bridge.Call(ctx, func(ctx context.Context) (crawler.DocumentInfo, error) {
		return run.conn.Version(ctx, doc.id)
	}, w.taskOptions(run, crawler.PhaseVersion)...)
	if errors.Is(err, crawler.ErrNotFound) {
		return w.dispose(run, doc, crawler.PhaseVersion, w.deleteDocument(ctx, run, doc), span)
	}
	if err != nil {
		return w.dispose(run, doc, crawler.PhaseVersion, err, span)
	}

	if info.Container && (run.item.Params.MaxDepth <= 0 || doc.depth < run.item.Params.MaxDepth) {
		if err := w.enumerate(ctx, run, doc); err != nil {
			return w.dispose(run, doc, crawler.PhaseChildren, err, span)
		}
	}
	if !info.Indexable {
		return nil
	}

	prev, found, err := w.deps.Versions.GetVersion(ctx, run.conn.Name(), doc.id)
	if err != nil {
		return w.dispose(run, doc, crawler.PhaseVersion, storeError("read version", err), span)
	}
	if found && !fingerprint.NeedsProcessing(prev.Version, info.Version) {
		run.counters.DocumentsSkipped++
		w.record(ctx, run, doc, crawler.DocumentRecord{Status: crawler.DocumentUnchanged, Version: info.Version, BlobURI: prev.BlobPath})
		w.emit(w.docEvent(run, doc, progress.StageDocSkipped))
		w.observeDocument(run, crawler.DocumentUnchanged)
		return nil
	}
	phase, err := w.ingest(ctx, run, doc, info)
	return w.dispose(run, doc, phase, err, span)
}

// enumerate drains the children of a container into the frontier. It abandons the
// enumeration once enough documents are known.
func (w *Worker) enumerate(ctx context.Context, run *jobRun, doc *document) error {
	seq, task := bridge.StartSequence(ctx, w.cfg.ChannelCapacity,
		func(ctx context.Context, out *bridge.Sequence) error {
			return run.conn.Children(ctx, doc.id, out)
		}, w.taskOptions(run, crawler.PhaseChildren)...)
	added := 0
	bridge.Drain(seq, func(id string) bool {
		before := len(run.seen)
		run.push(id, doc.depth+1)
		added += len(run.seen) - before
		return !run.discoveryFull()
	})
	if err := task.Finish(); err != nil {
		return err
	}
	if task.Outcome() == bridge.OutcomeCancelled {
		run.logger.Debug("child enumeration stopped early", zap.String("doc_id", doc.id), zap.Int("added", added))
	}
	return nil
}

// ingest streams content into the blob store, publishes the event and stores the
// new version. It returns the phase the error belongs to.
func (w *Worker) ingest(ctx context.Context, run *jobRun, doc *document, info crawler.DocumentInfo) (crawler.Phase, error) {
	start := w.deps.Clock.Now()
	w.emit(w.docEvent(run, doc, progress.StageFetchStart))

	path := w.buildBlobPath(run.conn.Name(), doc.id)
	contentType := info.ContentType
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	stream, task := bridge.StartStream(ctx, w.cfg.ChannelCapacity, w.cfg.ChunkSize,
		func(ctx context.Context, out *bridge.ByteStream) error {
			return run.conn.Content(ctx, doc.id, out)
		}, w.taskOptions(run, crawler.PhaseContent)...)
	digest := w.deps.Hasher.NewDigest()
	counter := &countingWriter{}
	uri, putErr := w.deps.BlobStore.PutObject(ctx, path, contentType, io.TeeReader(stream, io.MultiWriter(digest, counter)))
	if putErr != nil {
		task.RequestAbandon()
	}
	if err := task.Finish(); err != nil {
		return crawler.PhaseContent, err
	}
	if putErr != nil {
		return crawler.PhaseIngest, storeError("put object", putErr)
	}
	if task.Outcome() == bridge.OutcomeCancelled {
		return crawler.PhaseContent, bridge.RemoteIO("content stream abandoned", nil)
	}

	hash := digest.Sum()
	now := w.deps.Clock.Now()
	rec := crawler.DocumentRecord{
		Status:      crawler.DocumentIngested,
		Version:     info.Version,
		Phase:       crawler.PhaseIngest,
		ContentHash: hash,
		BlobURI:     uri,
		Bytes:       counter.n,
		DurationMs:  now.Sub(start).Milliseconds(),
	}
	if err := w.publish(ctx, run, doc, rec, info); err != nil {
		return crawler.PhaseIngest, err
	}
	if err := w.deps.Versions.PutVersion(ctx, crawler.VersionRecord{
		Connection: run.conn.Name(),
		DocumentID: doc.id,
		Version:    info.Version,
		BlobPath:   path,
		UpdatedAt:  now,
	}); err != nil {
		return crawler.PhaseIngest, storeError("write version", err)
	}

	run.counters.DocumentsIngested++
	w.record(ctx, run, doc, rec)
	evt := w.docEvent(run, doc, progress.StageFetchDone)
	evt.Bytes = counter.n
	evt.Dur = now.Sub(start)
	w.emit(evt)
	w.observeDocument(run, crawler.DocumentIngested)
	run.logger.Debug("document ingested",
		zap.String("doc_id", doc.id),
		zap.String("blob_uri", uri),
		zap.String("hash", hash),
		zap.Int64("bytes", counter.n))
	return "", nil
}

// deleteDocument removes a vanished document from the output and the version store.
func (w *Worker) deleteDocument(ctx context.Context, run *jobRun, doc *document) error {
	prev, found, err := w.deps.Versions.GetVersion(ctx, run.conn.Name(), doc.id)
	if err != nil {
		return storeError("read version", err)
	}
	if !found {
		evt := w.docEvent(run, doc, progress.StageDocSkipped)
		evt.Note = "document not found"
		w.emit(evt)
		return nil
	}
	if prev.BlobPath != "" {
		if err := w.deps.BlobStore.DeleteObject(ctx, prev.BlobPath); err != nil {
			return storeError("delete object", err)
		}
	}
	rec := crawler.DocumentRecord{Status: crawler.DocumentDeleted, Version: prev.Version, Phase: crawler.PhaseVersion}
	if err := w.publish(ctx, run, doc, rec, crawler.DocumentInfo{}); err != nil {
		return err
	}
	if err := w.deps.Versions.DeleteVersion(ctx, run.conn.Name(), doc.id); err != nil {
		return storeError("delete version", err)
	}
	run.counters.DocumentsDeleted++
	w.record(ctx, run, doc, rec)
	w.emit(w.docEvent(run, doc, progress.StageDocDeleted))
	w.observeDocument(run, crawler.DocumentDeleted)
	run.logger.Info("document deleted", zap.String("doc_id", doc.id))
	return nil
}

// record persists a document disposition. Store failures are logged, not retried.
func (w *Worker) record(ctx context.Context, run *jobRun, doc *document, rec crawler.DocumentRecord) {
	rec.JobID = run.item.JobID
	rec.DocumentID = doc.id
	if rec.Attempts == 0 {
		rec.Attempts = doc.attempts + 1
	}
	rec.FetchedAt = w.deps.Clock.Now()
	if err := w.deps.JobStore.RecordDocument(context.WithoutCancel(ctx), rec); err != nil {
		run.logger.Error("record document failed", zap.String("doc_id", doc.id), zap.Error(err))
	}
}

// flushCounters writes intermediate counters at most once per ProgressInterval.
func (w *Worker) flushCounters(run *jobRun) {
	now := w.deps.Clock.Now()
	if now.Sub(run.lastFlush) < w.cfg.ProgressInterval {
		return
	}
	run.lastFlush = now
	if err := w.deps.JobStore.UpdateJobStatus(run.ctx, run.item.JobID, crawler.JobStatusRunning, "", run.counters); err != nil {
		run.logger.Warn("progress update failed", zap.Error(err))
	}
}

func (w *Worker) docEvent(run *jobRun, doc *document, stage progress.Stage) progress.Event {
	return progress.Event{
		JobID:      run.item.JobID,
		Stage:      stage,
		Connection: run.conn.Name(),
		DocumentID: doc.id,
	}
}

// buildBlobPath derives a stable object path from the connection and document ID so
// a changed document overwrites its previous content.
func (w *Worker) buildBlobPath(connection, documentID string) string {
	d := w.deps.Hasher.NewDigest()
	_, _ = io.WriteString(d, documentID)
	key := d.Sum()
	shard := key
	if len(shard) > 2 {
		shard = shard[:2]
	}
	prefix := strings.Trim(w.cfg.BlobPrefix, "/")
	if prefix == "" {
		return fmt.Sprintf("%s/%s/%s", connection, shard, key)
	}
	return fmt.Sprintf("%s/%s/%s/%s", prefix, connection, shard, key)
}

// storeError classifies an output or store failure. Context errors keep their
// identity so an interrupted job is not retried.
func storeError(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return &bridge.Error{Kind: bridge.KindInterrupted, Op: op, Err: err}
	}
	return bridge.RemoteIO(op, err)
}

func spanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

type countingWriter struct {
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	c.n += int64(len(p))
	return len(p), nil
}
