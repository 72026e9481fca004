package app_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/crawlbridge/internal/app"
	"github.com/JakeFAU/crawlbridge/internal/config"
	"github.com/JakeFAU/crawlbridge/internal/connectors/filesystem"
	"github.com/JakeFAU/crawlbridge/internal/crawler"
	memorypublisher "github.com/JakeFAU/crawlbridge/internal/publisher/memory"
	"github.com/JakeFAU/crawlbridge/internal/storage/local"
	memoryStorage "github.com/JakeFAU/crawlbridge/internal/storage/memory"
)

func baseConfig(t *testing.T) config.Config {
	t.Helper()
	root := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(root, "a.txt"), []byte("alpha"), 0o600))
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o750))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "b.txt"), []byte("bravo"), 0o600))

	return config.Config{
		Server:  config.ServerConfig{Port: 8080},
		Crawler: config.CrawlerConfig{Concurrency: 2, QueueDepth: 4, ChannelCapacity: 4},
		Retry:   config.RetryConfig{MaxAttempts: 2, Delay: time.Millisecond},
		HTTP:    config.HTTPConfig{TimeoutSeconds: 5, UserAgent: "crawlbridge-test"},
		Storage: config.StorageConfig{Backend: "memory", Prefix: "documents"},
		Versions: config.VersionsConfig{
			Backend: "memory",
		},
		Publisher: config.PublisherConfig{Backend: "memory", Topic: "documents-ingested"},
		Progress:  config.ProgressConfig{Prometheus: true},
		Connectors: map[string]config.ConnectorConfig{
			"docs": {
				Kind:       config.KindFilesystem,
				Filesystem: filesystem.Config{Roots: []string{root}},
			},
		},
	}
}

func newApp(t *testing.T, cfg config.Config) *app.App {
	t.Helper()
	a, err := app.New(context.Background(), cfg, zap.NewNop(), app.WithRegisterer(prometheus.NewRegistry()))
	require.NoError(t, err)
	return a
}

func TestNew_MemoryBackends(t *testing.T) {
	a := newApp(t, baseConfig(t))
	defer func() {
		require.NoError(t, a.Close(context.Background()))
	}()

	assert.Equal(t, []string{"docs"}, a.Connectors.Names())
	assert.IsType(t, &memoryStorage.BlobStore{}, a.Blobs)
	assert.IsType(t, &memoryStorage.VersionStore{}, a.Versions)
	assert.IsType(t, &memoryStorage.JobStore{}, a.JobStore)
	assert.IsType(t, &memorypublisher.Publisher{}, a.Publisher)
	assert.Len(t, a.Workers, 2)
	assert.NotNil(t, a.Server)
	assert.NotNil(t, a.Dispatcher)
}

func TestNew_LocalStorage(t *testing.T) {
	cfg := baseConfig(t)
	cfg.Storage = config.StorageConfig{Backend: "local", BaseDir: t.TempDir()}
	cfg.Publisher.Backend = "none"

	a := newApp(t, cfg)
	defer func() {
		require.NoError(t, a.Close(context.Background()))
	}()

	assert.IsType(t, &local.BlobStore{}, a.Blobs)
	assert.Nil(t, a.Publisher)
}

func TestNew_ConfigErrors(t *testing.T) {
	testCases := []struct {
		name          string
		configSetup   func(*config.Config)
		expectedError string
	}{
		{
			name:          "unknown storage backend",
			configSetup:   func(c *config.Config) { c.Storage.Backend = "tape" },
			expectedError: "unknown storage backend: tape",
		},
		{
			name:          "unknown versions backend",
			configSetup:   func(c *config.Config) { c.Versions.Backend = "mongo" },
			expectedError: "unknown versions backend: mongo",
		},
		{
			name:          "unknown publisher backend",
			configSetup:   func(c *config.Config) { c.Publisher.Backend = "carrier-pigeon" },
			expectedError: "unknown publisher backend: carrier-pigeon",
		},
		{
			name: "unknown connector kind",
			configSetup: func(c *config.Config) {
				c.Connectors["ftp"] = config.ConnectorConfig{Kind: "ftp"}
			},
			expectedError: `unsupported connector kind "ftp"`,
		},
		{
			name: "filesystem connector without roots",
			configSetup: func(c *config.Config) {
				c.Connectors["empty"] = config.ConnectorConfig{Kind: config.KindFilesystem}
			},
			expectedError: "at least one root is required",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := baseConfig(t)
			tc.configSetup(&cfg)

			_, err := app.New(context.Background(), cfg, zap.NewNop(), app.WithRegisterer(prometheus.NewRegistry()))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.expectedError)
		})
	}
}

func TestApp_RunsQueuedJobEndToEnd(t *testing.T) {
	a := newApp(t, baseConfig(t))

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		a.Dispatcher.Run(ctx)
	}()

	jobID := uuid.NewString()
	params := crawler.JobParameters{Connection: "docs"}
	require.NoError(t, a.JobStore.CreateJob(ctx, crawler.Job{ID: jobID, Status: crawler.JobStatusQueued, Parameters: params}))
	require.NoError(t, a.Dispatcher.Enqueue(ctx, crawler.QueueItem{JobID: jobID, Params: params, Attempt: 1}))

	require.Eventually(t, func() bool {
		job, err := a.JobStore.GetJob(context.Background(), jobID)
		return err == nil && job.Status.IsTerminal()
	}, 5*time.Second, 10*time.Millisecond)

	job, err := a.JobStore.GetJob(context.Background(), jobID)
	require.NoError(t, err)
	assert.Equal(t, crawler.JobStatusSucceeded, job.Status)
	assert.Equal(t, 2, job.Counters.DocumentsIngested)

	blobs, ok := a.Blobs.(*memoryStorage.BlobStore)
	require.True(t, ok)
	assert.Equal(t, 2, blobs.Len())

	pub, ok := a.Publisher.(*memorypublisher.Publisher)
	require.True(t, ok)
	assert.Len(t, pub.Messages("documents-ingested"), 2)

	cancel()
	wg.Wait()
	require.NoError(t, a.Close(context.Background()))

	activity, err := a.Activity.ListActivity(context.Background(), jobID, 100, 0)
	require.NoError(t, err)
	require.NotEmpty(t, activity)
	assert.Equal(t, "JOB_START", activity[0].Stage)
	assert.Equal(t, "JOB_DONE", activity[len(activity)-1].Stage)
}

func TestApp_CloseIsIdempotentForResources(t *testing.T) {
	a := newApp(t, baseConfig(t))
	require.NoError(t, a.Close(context.Background()))
	require.NoError(t, a.Close(context.Background()))
}
