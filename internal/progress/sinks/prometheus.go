package sinks

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/crawlbridge/internal/progress"
)

// PrometheusSink exports job and document activity as Prometheus metrics. It owns
// its collectors so several sinks can target separate registries in tests.
type PrometheusSink struct {
	jobsStarted   prometheus.Counter
	jobsCompleted *prometheus.CounterVec
	jobsRunning   prometheus.Gauge
	jobRuntime    *prometheus.HistogramVec

	documents     *prometheus.CounterVec
	bytesIngested *prometheus.CounterVec
	fetchDuration *prometheus.HistogramVec

	mu      sync.Mutex
	running map[string]struct{}
}

// NewPrometheusSink registers the collectors against the provided registry.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		jobsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "crawlbridge_activity_jobs_started_total",
			Help: "Total jobs that have started.",
		}),
		jobsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawlbridge_activity_jobs_completed_total",
			Help: "Total jobs completed partitioned by result.",
		}, []string{"result"}),
		jobsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "crawlbridge_activity_jobs_running",
			Help: "Current number of running jobs.",
		}),
		jobRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawlbridge_activity_job_runtime_seconds",
			Help:    "Wall time per completed job.",
			Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 3600},
		}, []string{"result"}),
		documents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawlbridge_activity_documents_total",
			Help: "Document activity partitioned by connection and stage.",
		}, []string{"connection", "stage"}),
		bytesIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "crawlbridge_activity_bytes_total",
			Help: "Content bytes ingested per connection.",
		}, []string{"connection"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "crawlbridge_activity_fetch_duration_seconds",
			Help:    "Document fetch duration per connection.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10, 30},
		}, []string{"connection"}),
		running: make(map[string]struct{}),
	}
	for _, collector := range []prometheus.Collector{
		s.jobsStarted,
		s.jobsCompleted,
		s.jobsRunning,
		s.jobRuntime,
		s.documents,
		s.bytesIngested,
		s.fetchDuration,
	} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors from the batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		if evt.Stage.IsDocument() {
			s.handleDocumentEvent(evt)
			continue
		}
		s.handleJobEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) handleJobEvent(evt progress.Event) {
	var result string
	switch evt.Stage {
	case progress.StageJobStart:
		s.jobsStarted.Inc()
		if s.track(evt.JobID, true) {
			s.jobsRunning.Inc()
		}
		return
	case progress.StageJobDone:
		result = "success"
	case progress.StageJobError:
		result = "error"
	case progress.StageJobCanceled:
		result = "canceled"
	default:
		return
	}
	s.jobsCompleted.WithLabelValues(result).Inc()
	if evt.Dur > 0 {
		s.jobRuntime.WithLabelValues(result).Observe(evt.Dur.Seconds())
	}
	if s.track(evt.JobID, false) {
		s.jobsRunning.Dec()
	}
}

func (s *PrometheusSink) handleDocumentEvent(evt progress.Event) {
	conn := evt.Connection
	if conn == "" {
		conn = "unknown"
	}
	s.documents.WithLabelValues(conn, string(evt.Stage)).Inc()
	if evt.Stage != progress.StageFetchDone {
		return
	}
	if evt.Bytes > 0 {
		s.bytesIngested.WithLabelValues(conn).Add(float64(evt.Bytes))
	}
	if evt.Dur > 0 {
		s.fetchDuration.WithLabelValues(conn).Observe(evt.Dur.Seconds())
	}
}

// track records a job as running (start) or finished and reports whether the
// running set changed, so duplicate events do not skew the gauge.
func (s *PrometheusSink) track(jobID string, start bool) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.running[jobID]
	if start {
		if ok {
			return false
		}
		s.running[jobID] = struct{}{}
		return true
	}
	if !ok {
		return false
	}
	delete(s.running, jobID)
	return true
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
