package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlbridge/internal/app"
	"github.com/JakeFAU/crawlbridge/internal/config"
	"github.com/JakeFAU/crawlbridge/internal/connectors/filesystem"
	"github.com/JakeFAU/crawlbridge/internal/crawler"
)

func TestRunCrawl_PrintsResult(t *testing.T) {
	a := newTestApp(t)

	var out bytes.Buffer
	err := runCrawl(context.Background(), a, crawlOptions{connection: "docs", maxDepth: -1, maxDocuments: -1, budget: -1}, &out)
	require.NoError(t, err)

	var result crawler.JobResult
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	require.Equal(t, crawler.JobStatusSucceeded, result.Job.Status)
	require.Equal(t, 1, result.Job.Counters.DocumentsIngested)
	require.Equal(t, "cli", result.Job.Parameters.Tags["source"])

	out.Reset()
	require.NoError(t, runCrawl(context.Background(), a, crawlOptions{connection: "docs", maxDepth: -1, maxDocuments: -1, budget: -1}, &out))
	require.NoError(t, json.Unmarshal(out.Bytes(), &result))
	require.Equal(t, 0, result.Job.Counters.DocumentsIngested)
	require.Equal(t, 1, result.Job.Counters.DocumentsSkipped)
}

func TestRunCrawl_RejectsUnknownConnection(t *testing.T) {
	a := newTestApp(t)

	err := runCrawl(context.Background(), a, crawlOptions{connection: "missing"}, &bytes.Buffer{})
	require.ErrorIs(t, err, crawler.ErrUnknownConnection)
}

func TestRunCrawl_CanceledJobReturnsError(t *testing.T) {
	a := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var out bytes.Buffer
	err := runCrawl(ctx, a, crawlOptions{connection: "docs", maxDepth: -1, maxDocuments: -1, budget: -1}, &out)
	require.ErrorContains(t, err, "canceled")
	require.Contains(t, out.String(), `"status": "canceled"`)
}

func TestResolveAppWithoutServices(t *testing.T) {
	_, err := resolveApp(context.Background())
	require.EqualError(t, err, "application services not initialized")
}

func TestFlagOrDefault(t *testing.T) {
	require.Equal(t, 7, flagOrDefault(-1, 7))
	require.Equal(t, 0, flagOrDefault(0, 7))
	require.Equal(t, 3, flagOrDefault(3, 7))
}

func newTestApp(t *testing.T) *app.App {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "readme.md"), []byte("# hello"), 0o600))

	cfg := config.Config{
		Crawler:   config.CrawlerConfig{Concurrency: 1, QueueDepth: 1},
		Retry:     config.RetryConfig{MaxAttempts: 1, Delay: time.Millisecond},
		HTTP:      config.HTTPConfig{TimeoutSeconds: 5},
		Storage:   config.StorageConfig{Backend: "memory"},
		Versions:  config.VersionsConfig{Backend: "memory"},
		Publisher: config.PublisherConfig{Backend: "none"},
		Connectors: map[string]config.ConnectorConfig{
			"docs": {Kind: config.KindFilesystem, Filesystem: filesystem.Config{Roots: []string{root}}},
		},
	}
	a, err := app.New(context.Background(), cfg, zap.NewNop(), app.WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, a.Close(context.Background()))
	})
	return a
}
