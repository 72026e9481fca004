package worker

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlbridge/internal/bridge"
	"github.com/JakeFAU/crawlbridge/internal/crawler"
	"github.com/JakeFAU/crawlbridge/internal/metrics"
	"github.com/JakeFAU/crawlbridge/internal/progress"
)

// IngestEvent is published once per ingested or deleted document.
type IngestEvent struct {
	JobID       string            `json:"job_id"`
	Connection  string            `json:"connection"`
	DocumentID  string            `json:"document_id"`
	Action      string            `json:"action"`
	Version     string            `json:"version,omitempty"`
	ContentHash string            `json:"content_hash,omitempty"`
	ContentType string            `json:"content_type,omitempty"`
	URI         string            `json:"uri,omitempty"`
	BlobURI     string            `json:"blob_uri,omitempty"`
	Bytes       int64             `json:"bytes"`
	Tags        map[string]string `json:"tags,omitempty"`
	At          time.Time         `json:"at"`
}

// PartitionKey keeps every event of one document on the same partition.
func (e IngestEvent) PartitionKey() string {
	return e.Connection + "/" + e.DocumentID
}

// dispose applies the consumer action for a document failure. Retryable failures
// are deferred; malformed documents are marked failed; abandoned work is dropped.
// Interruptions and contract violations abort the job.
func (w *Worker) dispose(run *jobRun, doc *document, phase crawler.Phase, err error, span trace.Span) error {
	if err == nil {
		return nil
	}
	kind := bridge.KindOf(err)
	if kind == bridge.KindRemoteIO || kind == bridge.KindProtocol {
		doc.attempts++
	}
	switch kind {
	case bridge.KindRemoteIO:
		w.retry(run, doc, phase, err, span)
		return nil
	case bridge.KindProtocol:
		w.fail(run, doc, phase, err, span, err.Error())
		return nil
	case bridge.KindCancelled:
		return nil
	default:
		spanError(span, err)
		return fmt.Errorf("%s %s: %w", phase, doc.id, err)
	}
}

func (w *Worker) retry(run *jobRun, doc *document, phase crawler.Phase, err error, span trace.Span) {
	now := w.deps.Clock.Now()
	if doc.firstFailure.IsZero() {
		doc.firstFailure = now
	}
	if doc.attempts >= w.cfg.MaxAttempts || now.Sub(doc.firstFailure) >= w.cfg.GiveUpAfter {
		w.fail(run, doc, phase, err, span, fmt.Sprintf("giving up after %d attempts: %v", doc.attempts, err))
		return
	}
	doc.notBefore = now.Add(w.cfg.RetryDelay)
	run.deferred = append(run.deferred, doc)
	run.counters.Retries++

	evt := w.docEvent(run, doc, progress.StageDocRetry)
	evt.Phase = string(phase)
	evt.Kind = bridge.KindRemoteIO.String()
	evt.Note = err.Error()
	w.emit(evt)
	run.logger.Info("document retry scheduled",
		zap.String("doc_id", doc.id),
		zap.String("phase", string(phase)),
		zap.Int("attempt", doc.attempts),
		zap.Time("not_before", doc.notBefore),
		zap.Error(err))
}

func (w *Worker) fail(run *jobRun, doc *document, phase crawler.Phase, err error, span trace.Span, errText string) {
	spanError(span, err)
	run.counters.DocumentsFailed++
	w.record(run.ctx, run, doc, crawler.DocumentRecord{
		Status:    crawler.DocumentFailed,
		Phase:     phase,
		Attempts:  doc.attempts,
		ErrorText: errText,
	})
	kind := bridge.KindOf(err)
	evt := w.docEvent(run, doc, progress.StageDocError)
	evt.Phase = string(phase)
	evt.Kind = kind.String()
	evt.Note = errText
	w.emit(evt)
	w.observeDocument(run, crawler.DocumentFailed)
	run.logger.Warn("document failed",
		zap.String("doc_id", doc.id),
		zap.String("phase", string(phase)),
		zap.Stringer("kind", kind),
		zap.Int("attempts", doc.attempts),
		zap.Error(err))
}

// publish announces a document disposition. It is a no-op without a publisher or topic.
func (w *Worker) publish(ctx context.Context, run *jobRun, doc *document, rec crawler.DocumentRecord, info crawler.DocumentInfo) error {
	if w.deps.Publisher == nil || w.cfg.Topic == "" {
		return nil
	}
	evt := IngestEvent{
		JobID:       run.item.JobID,
		Connection:  run.conn.Name(),
		DocumentID:  doc.id,
		Action:      string(rec.Status),
		Version:     rec.Version,
		ContentHash: rec.ContentHash,
		ContentType: info.ContentType,
		URI:         info.URI,
		BlobURI:     rec.BlobURI,
		Bytes:       rec.Bytes,
		Tags:        run.item.Params.Tags,
		At:          w.deps.Clock.Now(),
	}
	id, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, evt)
	if err != nil {
		return storeError("publish event", err)
	}
	run.logger.Debug("ingest event published", zap.String("doc_id", doc.id), zap.String("message_id", id))
	return nil
}

func (w *Worker) observeDocument(run *jobRun, status crawler.DocumentStatus) {
	metrics.ObserveDocument(run.conn.Kind(), string(status))
}
