package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlbridge/internal/bridge"
	"github.com/JakeFAU/crawlbridge/internal/crawler"
	hashsha "github.com/JakeFAU/crawlbridge/internal/hash/sha256"
	mempub "github.com/JakeFAU/crawlbridge/internal/publisher/memory"
	memqueue "github.com/JakeFAU/crawlbridge/internal/queue/memory"
	memstore "github.com/JakeFAU/crawlbridge/internal/storage/memory"
)

func TestWorkerRunJobIngestsTree(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newTree(), Config{Topic: "ingest"})
	job := h.run(t, crawler.JobParameters{})

	require.Equal(t, crawler.JobStatusSucceeded, job.Status)
	require.Empty(t, job.ErrorText)
	require.Equal(t, crawler.JobCounters{DocumentsIngested: 3}, job.Counters)
	require.Equal(t, 3, h.blobs.Len())

	path := h.worker.buildBlobPath("docs", "/root/sub/b.txt")
	body, ok := h.blobs.Get(path)
	require.True(t, ok)
	require.Equal(t, "bravo", string(body))

	rec, found, err := h.versions.GetVersion(context.Background(), "docs", "/root/sub/b.txt")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "v1", rec.Version)
	require.Equal(t, path, rec.BlobPath)

	msgs := h.publisher.Messages("ingest")
	require.Len(t, msgs, 3)
	var evt IngestEvent
	require.NoError(t, msgs[0].Decode(&evt))
	require.Equal(t, string(crawler.DocumentIngested), evt.Action)
	require.Equal(t, job.ID, evt.JobID)
	require.NotEmpty(t, evt.ContentHash)

	docs, err := h.jobs.ListDocuments(context.Background(), job.ID)
	require.NoError(t, err)
	require.Len(t, docs, 3)
	for _, d := range docs {
		require.Equal(t, crawler.DocumentIngested, d.Status)
		require.Equal(t, 1, d.Attempts)
	}
}

func TestWorkerRunJobSkipsUnchangedDocuments(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newTree(), Config{})
	first := h.run(t, crawler.JobParameters{})
	require.Equal(t, 3, first.Counters.DocumentsIngested)

	second := h.run(t, crawler.JobParameters{})
	require.Equal(t, crawler.JobStatusSucceeded, second.Status)
	require.Equal(t, crawler.JobCounters{DocumentsSkipped: 3}, second.Counters)
	require.Equal(t, 3, h.conn.contentCalls())
}

func TestWorkerRunJobReingestsChangedDocument(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newTree(), Config{})
	h.run(t, crawler.JobParameters{})

	h.conn.update("/root/a.txt", "v2", "alpha, revised")
	job := h.run(t, crawler.JobParameters{})
	require.Equal(t, crawler.JobCounters{DocumentsIngested: 1, DocumentsSkipped: 2}, job.Counters)
	require.Equal(t, 3, h.blobs.Len())

	body, ok := h.blobs.Get(h.worker.buildBlobPath("docs", "/root/a.txt"))
	require.True(t, ok)
	require.Equal(t, "alpha, revised", string(body))
}

func TestWorkerRunJobDeletesVanishedDocument(t *testing.T) {
	t.Parallel()

	tree := newTree()
	tree.add("/orphan.txt", &fakeNode{version: "v1", content: "orphan", indexable: true})
	h := newHarness(t, tree, Config{Topic: "ingest"})
	params := crawler.JobParameters{Seeds: []string{"/root", "/orphan.txt"}}
	h.run(t, params)
	require.Equal(t, 4, h.blobs.Len())

	h.conn.remove("/orphan.txt")
	job := h.run(t, params)
	require.Equal(t, crawler.JobCounters{DocumentsSkipped: 3, DocumentsDeleted: 1}, job.Counters)
	require.Equal(t, 3, h.blobs.Len())
	_, found, err := h.versions.GetVersion(context.Background(), "docs", "/orphan.txt")
	require.NoError(t, err)
	require.False(t, found)

	msgs := h.publisher.Messages("ingest")
	var evt IngestEvent
	require.NoError(t, msgs[len(msgs)-1].Decode(&evt))
	require.Equal(t, string(crawler.DocumentDeleted), evt.Action)
	require.Equal(t, "/orphan.txt", evt.DocumentID)
}

func TestWorkerRunJobMissingUnknownDocumentIsSkipped(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newTree(), Config{})
	job := h.run(t, crawler.JobParameters{Seeds: []string{"/never-existed"}})
	require.Equal(t, crawler.JobStatusSucceeded, job.Status)
	require.Equal(t, crawler.JobCounters{}, job.Counters)
}

func TestWorkerRunJobRetriesRemoteFailure(t *testing.T) {
	t.Parallel()

	tree := newTree()
	tree.nodes["/root/a.txt"].remoteFailures = 1
	h := newHarness(t, tree, Config{RetryDelay: time.Minute})
	start := h.clock.Now()
	job := h.run(t, crawler.JobParameters{})

	require.Equal(t, crawler.JobStatusSucceeded, job.Status)
	require.Equal(t, crawler.JobCounters{DocumentsIngested: 3, Retries: 1}, job.Counters)
	require.GreaterOrEqual(t, h.clock.Now().Sub(start), time.Minute)

	docs, err := h.jobs.ListDocuments(context.Background(), job.ID)
	require.NoError(t, err)
	attempts := map[string]int{}
	for _, d := range docs {
		attempts[d.DocumentID] = d.Attempts
	}
	require.Equal(t, 2, attempts["/root/a.txt"])
}

func TestWorkerRunJobGivesUpAfterMaxAttempts(t *testing.T) {
	t.Parallel()

	tree := newTree()
	tree.nodes["/root/a.txt"].remoteFailures = 100
	h := newHarness(t, tree, Config{MaxAttempts: 3, RetryDelay: time.Second})
	job := h.run(t, crawler.JobParameters{})

	require.Equal(t, crawler.JobStatusSucceeded, job.Status)
	require.Equal(t, crawler.JobCounters{DocumentsIngested: 2, DocumentsFailed: 1, Retries: 2}, job.Counters)
	require.Equal(t, 3, tree.nodes["/root/a.txt"].calls)

	rec := h.document(t, job.ID, "/root/a.txt")
	require.Equal(t, crawler.DocumentFailed, rec.Status)
	require.Equal(t, crawler.PhaseContent, rec.Phase)
	require.Contains(t, rec.ErrorText, "giving up after 3 attempts")
}

func TestWorkerRunJobGivesUpAfterHorizon(t *testing.T) {
	t.Parallel()

	tree := newTree()
	tree.nodes["/root/a.txt"].remoteFailures = 100
	h := newHarness(t, tree, Config{MaxAttempts: 100, RetryDelay: time.Hour, GiveUpAfter: 3 * time.Hour})
	job := h.run(t, crawler.JobParameters{})

	require.Equal(t, 1, job.Counters.DocumentsFailed)
	require.Equal(t, 3, job.Counters.Retries)
	require.Equal(t, 4, tree.nodes["/root/a.txt"].calls)
}

func TestWorkerRunJobProtocolErrorFailsWithoutRetry(t *testing.T) {
	t.Parallel()

	tree := newTree()
	tree.nodes["/root/a.txt"].versionErr = bridge.Protocol("bad metadata", nil)
	h := newHarness(t, tree, Config{})
	job := h.run(t, crawler.JobParameters{})

	require.Equal(t, crawler.JobStatusSucceeded, job.Status)
	require.Equal(t, crawler.JobCounters{DocumentsIngested: 2, DocumentsFailed: 1}, job.Counters)
	rec := h.document(t, job.ID, "/root/a.txt")
	require.Equal(t, crawler.PhaseVersion, rec.Phase)
	require.Contains(t, rec.ErrorText, "bad metadata")
}

func TestWorkerRunJobTruncatedContentLeavesNoOutput(t *testing.T) {
	t.Parallel()

	tree := newTree()
	tree.nodes["/root/a.txt"].contentErr = bridge.Protocol("corrupt body", nil)
	h := newHarness(t, tree, Config{})
	job := h.run(t, crawler.JobParameters{})

	require.Equal(t, 1, job.Counters.DocumentsFailed)
	_, ok := h.blobs.Get(h.worker.buildBlobPath("docs", "/root/a.txt"))
	require.False(t, ok)
	_, found, err := h.versions.GetVersion(context.Background(), "docs", "/root/a.txt")
	require.NoError(t, err)
	require.False(t, found)
}

func TestWorkerRunJobPublishFailureKeepsDocumentUnversioned(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newTree(), Config{Topic: "ingest", MaxAttempts: 1})
	h.worker.deps.Publisher = failingPublisher{}
	job := h.run(t, crawler.JobParameters{})

	require.Equal(t, crawler.JobStatusFailed, job.Status)
	require.Equal(t, "all documents failed", job.ErrorText)
	require.Equal(t, 3, job.Counters.DocumentsFailed)
	_, found, err := h.versions.GetVersion(context.Background(), "docs", "/root/a.txt")
	require.NoError(t, err)
	require.False(t, found)
}

func TestWorkerRunJobHonorsMaxDocuments(t *testing.T) {
	t.Parallel()

	tree := newTree()
	for i := range 50 {
		tree.nodes["/root"].children = append(tree.nodes["/root"].children, fmt.Sprintf("/root/gen-%02d.txt", i))
		tree.add(fmt.Sprintf("/root/gen-%02d.txt", i), &fakeNode{version: "v1", content: "x", indexable: true})
	}
	h := newHarness(t, tree, Config{ChannelCapacity: 1})
	job := h.run(t, crawler.JobParameters{MaxDocuments: 2})

	require.Equal(t, crawler.JobStatusSucceeded, job.Status)
	require.Equal(t, 2, job.Counters.Processed())
	require.Equal(t, 2, h.blobs.Len())
}

func TestWorkerRunJobHonorsMaxDepth(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newTree(), Config{})
	job := h.run(t, crawler.JobParameters{MaxDepth: 1})

	require.Equal(t, crawler.JobCounters{DocumentsIngested: 2}, job.Counters)
	_, ok := h.blobs.Get(h.worker.buildBlobPath("docs", "/root/sub/b.txt"))
	require.False(t, ok)
}

func TestWorkerRunJobAppliesFilter(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newTree(), Config{})
	job := h.run(t, crawler.JobParameters{Exclude: []string{"/root/sub/*.txt"}})

	require.Equal(t, crawler.JobCounters{DocumentsIngested: 2}, job.Counters)
}

func TestWorkerRunJobCanceled(t *testing.T) {
	t.Parallel()

	tree := newTree()
	tree.nodes["/root/a.txt"].block = true
	h := newHarness(t, tree, Config{})
	jobID := h.create(t, crawler.JobParameters{})

	ctx, cancel := context.WithCancelCause(context.Background())
	go func() {
		<-tree.blocked
		cancel(ErrJobCanceled)
	}()
	job := h.worker.RunJob(ctx, crawler.QueueItem{JobID: jobID, Params: crawler.JobParameters{Connection: "docs"}})

	require.Equal(t, crawler.JobStatusCanceled, job.Status)
	require.Equal(t, "job canceled", job.ErrorText)
	require.Zero(t, job.Counters.DocumentsFailed)
	_, ok := h.blobs.Get(h.worker.buildBlobPath("docs", "/root/a.txt"))
	require.False(t, ok)
}

func TestWorkerRunJobHostShutdownDuringSeedAbortsJob(t *testing.T) {
	t.Parallel()

	tree := newTree()
	tree.seedBlock = true
	h := newHarness(t, tree, Config{})
	go func() {
		<-tree.blocked
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = h.worker.deps.Supervisor.Shutdown(ctx)
	}()
	job := h.run(t, crawler.JobParameters{})

	require.Equal(t, crawler.JobStatusFailed, job.Status)
	require.Contains(t, job.ErrorText, "host shutdown")
	require.Zero(t, job.Counters.Processed())
	require.Zero(t, h.conn.contentCalls())
	require.Zero(t, h.blobs.Len())
}

func TestWorkerRunJobAfterHostShutdownFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newTree(), Config{})
	require.NoError(t, h.worker.deps.Supervisor.Shutdown(context.Background()))
	job := h.run(t, crawler.JobParameters{})

	require.Equal(t, crawler.JobStatusFailed, job.Status)
	require.Contains(t, job.ErrorText, "interrupted")
	require.Zero(t, h.blobs.Len())
}

func TestWorkerRunJobUnknownConnectionFails(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newTree(), Config{})
	jobID := h.create(t, crawler.JobParameters{Connection: "nope"})
	job := h.worker.RunJob(context.Background(), crawler.QueueItem{JobID: jobID, Params: crawler.JobParameters{Connection: "nope"}})

	require.Equal(t, crawler.JobStatusFailed, job.Status)
	require.Contains(t, job.ErrorText, "unknown connection")
}

func TestWorkerRunJobCheckFailureFailsJob(t *testing.T) {
	t.Parallel()

	tree := newTree()
	tree.checkErr = errors.New("credentials rejected")
	h := newHarness(t, tree, Config{})
	job := h.run(t, crawler.JobParameters{})

	require.Equal(t, crawler.JobStatusFailed, job.Status)
	require.Contains(t, job.ErrorText, "credentials rejected")
	require.Zero(t, h.blobs.Len())
}

func TestWorkerRunJobSeedProtocolFailureFailsJob(t *testing.T) {
	t.Parallel()

	tree := newTree()
	tree.seedErr = bridge.Protocol("listing unreadable", nil)
	h := newHarness(t, tree, Config{})
	job := h.run(t, crawler.JobParameters{})

	require.Equal(t, crawler.JobStatusFailed, job.Status)
	require.Contains(t, job.ErrorText, "listing unreadable")
}

func TestWorkerRunJobSkipsTerminalJob(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newTree(), Config{})
	jobID := h.create(t, crawler.JobParameters{})
	require.NoError(t, h.jobs.UpdateJobStatus(context.Background(), jobID, crawler.JobStatusCanceled, "canceled", crawler.JobCounters{}))

	job := h.worker.RunJob(context.Background(), crawler.QueueItem{JobID: jobID, Params: crawler.JobParameters{Connection: "docs"}})
	require.Equal(t, crawler.JobStatusCanceled, job.Status)
	require.Zero(t, h.conn.contentCalls())
}

func TestWorkerRunConsumesQueueUntilClosed(t *testing.T) {
	t.Parallel()

	h := newHarness(t, newTree(), Config{})
	queue := memqueue.NewQueue(4)
	h.worker.deps.Queue = queue

	jobID := h.create(t, crawler.JobParameters{})
	require.NoError(t, queue.Enqueue(context.Background(), crawler.QueueItem{JobID: jobID, Params: crawler.JobParameters{Connection: "docs"}}))
	queue.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		h.worker.Run(context.Background(), nil)
	}()
	require.Eventually(t, func() bool {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}, time.Second, 10*time.Millisecond)

	job, err := h.jobs.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusSucceeded, job.Status)
}

func TestDeriveFinalStatus(t *testing.T) {
	t.Parallel()

	w := New(Deps{}, Config{}, zap.NewNop())
	abort := errors.New("aborted")
	cases := map[string]struct {
		cause    error
		counters crawler.JobCounters
		crawlErr error
		status   crawler.JobStatus
		errText  string
	}{
		"clean":             {status: crawler.JobStatusSucceeded},
		"partial failures":  {counters: crawler.JobCounters{DocumentsIngested: 1, DocumentsFailed: 1}, status: crawler.JobStatusSucceeded},
		"all failed":        {counters: crawler.JobCounters{DocumentsFailed: 2}, status: crawler.JobStatusFailed, errText: "all documents failed"},
		"abort":             {crawlErr: abort, status: crawler.JobStatusFailed, errText: "aborted"},
		"canceled":          {cause: ErrJobCanceled, crawlErr: abort, status: crawler.JobStatusCanceled, errText: "job canceled"},
		"shutdown":          {cause: context.Canceled, crawlErr: abort, status: crawler.JobStatusCanceled, errText: "canceled"},
		"budget with work":  {cause: errBudgetExhausted, crawlErr: abort, counters: crawler.JobCounters{DocumentsIngested: 1}, status: crawler.JobStatusSucceeded, errText: "budget exhausted"},
		"budget no work":    {cause: errBudgetExhausted, crawlErr: abort, status: crawler.JobStatusFailed, errText: "budget exhausted"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			ctx, cancel := context.WithCancelCause(context.Background())
			defer cancel(nil)
			if tc.cause != nil {
				cancel(tc.cause)
			}
			status, errText := w.deriveFinalStatus(&jobRun{ctx: ctx, counters: tc.counters}, tc.crawlErr)
			require.Equal(t, tc.status, status)
			require.Equal(t, tc.errText, errText)
		})
	}
}

func TestWorkerBuildBlobPath(t *testing.T) {
	t.Parallel()

	w := New(Deps{Hasher: hashsha.New()}, Config{BlobPrefix: "/crawl/"}, zap.NewNop())
	first := w.buildBlobPath("docs", "/srv/a.txt")
	require.Equal(t, first, w.buildBlobPath("docs", "/srv/a.txt"))
	require.NotEqual(t, first, w.buildBlobPath("docs", "/srv/b.txt"))
	require.True(t, strings.HasPrefix(first, "crawl/docs/"))
	parts := strings.Split(first, "/")
	require.Len(t, parts, 4)
	require.Equal(t, parts[3][:2], parts[2])

	bare := New(Deps{Hasher: hashsha.New()}, Config{}, zap.NewNop())
	require.True(t, strings.HasPrefix(bare.buildBlobPath("docs", "x"), "docs/"))
}

// --- fakes ---

type harness struct {
	worker    *Worker
	conn      *fakeConnector
	jobs      *memstore.JobStore
	blobs     *memstore.BlobStore
	versions  *memstore.VersionStore
	publisher *mempub.Publisher
	clock     *fakeClock
	seq       int
}

func newHarness(t *testing.T, conn *fakeConnector, cfg Config) *harness {
	t.Helper()
	h := &harness{
		conn:      conn,
		jobs:      memstore.NewJobStore(),
		blobs:     memstore.NewBlobStore(),
		versions:  memstore.NewVersionStore(),
		publisher: mempub.New("ingest"),
		clock:     &fakeClock{now: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)},
	}
	h.worker = New(Deps{
		Connectors: fakeRegistry{conn},
		JobStore:   h.jobs,
		BlobStore:  h.blobs,
		Versions:   h.versions,
		Publisher:  h.publisher,
		Hasher:     hashsha.New(),
		Clock:      h.clock,
		Supervisor: bridge.NewSupervisor(zap.NewNop()),
	}, cfg, zap.NewNop())
	return h
}

func (h *harness) create(t *testing.T, params crawler.JobParameters) string {
	t.Helper()
	h.seq++
	id := fmt.Sprintf("job-%d", h.seq)
	if params.Connection == "" {
		params.Connection = "docs"
	}
	require.NoError(t, h.jobs.CreateJob(context.Background(), crawler.Job{
		ID:         id,
		Status:     crawler.JobStatusQueued,
		Submitted:  h.clock.Now(),
		Parameters: params,
	}))
	return id
}

func (h *harness) run(t *testing.T, params crawler.JobParameters) crawler.Job {
	t.Helper()
	params.Connection = "docs"
	id := h.create(t, params)
	job := h.worker.RunJob(context.Background(), crawler.QueueItem{JobID: id, Params: params})
	require.Zero(t, h.worker.deps.Supervisor.Outstanding())
	return job
}

func (h *harness) document(t *testing.T, jobID, docID string) crawler.DocumentRecord {
	t.Helper()
	docs, err := h.jobs.ListDocuments(context.Background(), jobID)
	require.NoError(t, err)
	for _, d := range docs {
		if d.DocumentID == docID {
			return d
		}
	}
	t.Fatalf("no record for %s", docID)
	return crawler.DocumentRecord{}
}

type fakeNode struct {
	version        string
	content        string
	children       []string
	indexable      bool
	container      bool
	versionErr     error
	contentErr     error
	remoteFailures int
	block          bool
	calls          int
}

type fakeConnector struct {
	mu       sync.Mutex
	nodes    map[string]*fakeNode
	seeds    []string
	checkErr  error
	seedErr   error
	seedBlock bool
	blocked   chan struct{}
	contents int
}

// newTree builds /root with a.txt, c.txt and sub/b.txt.
func newTree() *fakeConnector {
	c := &fakeConnector{
		nodes:   map[string]*fakeNode{},
		seeds:   []string{"/root"},
		blocked: make(chan struct{}),
	}
	c.add("/root", &fakeNode{container: true, children: []string{"/root/a.txt", "/root/c.txt", "/root/sub"}})
	c.add("/root/a.txt", &fakeNode{version: "v1", content: "alpha", indexable: true})
	c.add("/root/c.txt", &fakeNode{version: "v1", content: "charlie", indexable: true})
	c.add("/root/sub", &fakeNode{container: true, children: []string{"/root/sub/b.txt"}})
	c.add("/root/sub/b.txt", &fakeNode{version: "v1", content: "bravo", indexable: true})
	return c
}

func (c *fakeConnector) add(id string, n *fakeNode) {
	c.nodes[id] = n
}

func (c *fakeConnector) update(id, version, content string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.nodes[id].version = version
	c.nodes[id].content = content
}

func (c *fakeConnector) remove(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.nodes, id)
}

func (c *fakeConnector) contentCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contents
}

func (c *fakeConnector) Name() string { return "docs" }

func (c *fakeConnector) Kind() string { return "fake" }

func (c *fakeConnector) Check(context.Context) error { return c.checkErr }

func (c *fakeConnector) Seed(ctx context.Context, params crawler.JobParameters, out *bridge.Sequence) error {
	if c.seedErr != nil {
		return c.seedErr
	}
	seeds := c.seeds
	if len(params.Seeds) > 0 {
		seeds = params.Seeds
	}
	for _, id := range seeds {
		if !out.Put(id) {
			return nil
		}
	}
	if c.seedBlock {
		close(c.blocked)
		<-ctx.Done()
		return ctx.Err()
	}
	return nil
}

func (c *fakeConnector) Version(_ context.Context, id string) (crawler.DocumentInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[id]
	if !ok {
		return crawler.DocumentInfo{}, crawler.ErrNotFound
	}
	if n.versionErr != nil {
		return crawler.DocumentInfo{}, n.versionErr
	}
	return crawler.DocumentInfo{
		Version:     n.version,
		Container:   n.container,
		Indexable:   n.indexable,
		ContentType: "text/plain",
		URI:         "fake://" + id,
	}, nil
}

func (c *fakeConnector) Children(_ context.Context, id string, out *bridge.Sequence) error {
	c.mu.Lock()
	children := append([]string(nil), c.nodes[id].children...)
	c.mu.Unlock()
	for _, child := range children {
		if !out.Put(child) {
			return bridge.ErrAbandoned
		}
	}
	return nil
}

func (c *fakeConnector) Content(ctx context.Context, id string, out *bridge.ByteStream) error {
	c.mu.Lock()
	n := c.nodes[id]
	n.calls++
	c.contents++
	content, contentErr, block := n.content, n.contentErr, n.block
	fail := n.remoteFailures > 0
	if fail {
		n.remoteFailures--
	}
	c.mu.Unlock()

	if block {
		close(c.blocked)
		<-ctx.Done()
		return ctx.Err()
	}
	if fail {
		return errors.New("connection reset by peer")
	}
	if _, err := io.Copy(out, strings.NewReader(content)); err != nil {
		return err
	}
	return contentErr
}

type fakeRegistry struct {
	conn crawler.Connector
}

func (r fakeRegistry) Connector(name string) (crawler.Connector, error) {
	if name != r.conn.Name() {
		return nil, fmt.Errorf("%q: %w", name, crawler.ErrUnknownConnection)
	}
	return r.conn, nil
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// After advances the clock by d and fires immediately.
func (c *fakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	if d > 0 {
		c.now = c.now.Add(d)
	}
	now := c.now
	c.mu.Unlock()
	ch := make(chan time.Time, 1)
	ch <- now
	return ch
}

type failingPublisher struct{}

func (failingPublisher) Publish(context.Context, string, any) (string, error) {
	return "", errors.New("broker unavailable")
}
