// Package cmd defines the crawlbridge CLI.
//
// Architecture overview:
//   - serve: internal/api.Server exposes health, metrics, connection listing and job management endpoints. Jobs are
//     validated against the configured connections, persisted via the JobStore and enqueued for the worker pool.
//   - Dispatcher & queue: jobs flow through a bounded in-memory queue sized by config.Crawler.QueueDepth and are
//     fanned out to a fixed worker pool sized by config.Crawler.Concurrency. Running jobs are tracked so the API can
//     interrupt them.
//   - Crawl pipeline: workers drive a connector through seed, version, children and content phases. Every connector
//     call runs as a bridge task that streams identifiers or bytes through a bounded channel and can be abandoned
//     from the consuming side.
//   - Persistence & fanout: content goes to the configured BlobStore (memory/local/GCS), fingerprints and job
//     records to memory or Postgres, and one event per ingested or deleted document to Pub/Sub or Kafka.
//   - Observability: zap logs carry job and document IDs, Prometheus metrics are served on /metrics, the progress
//     Hub batches activity for log, Prometheus and store sinks, and OpenTelemetry spans cover jobs and documents.
//
// Quick checklist:
//   - Configure env vars: CRAWLER_SERVER_PORT or PORT, CRAWLER_CRAWLER_CONCURRENCY, CRAWLER_STORAGE_*,
//     CRAWLER_VERSIONS_* and CRAWLER_PUBLISHER_*; connections are declared in the config file.
//   - Run the service: crawlbridge serve --config config.yaml
//   - Crawl once: crawlbridge crawl --config config.yaml --connection docs
package cmd
