package sinks

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/crawlbridge/internal/progress"
)

func TestLogSinkWritesFields(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zapcore.InfoLevel)
	sink := NewLogSink(zap.New(core))

	require.NoError(t, sink.Consume(context.Background(), []progress.Event{
		{JobID: "job", TS: time.Now(), Stage: progress.StageFetchDone, DocumentID: "a", Bytes: 10},
		{JobID: "job", TS: time.Now(), Stage: progress.StageDocError, DocumentID: "b", Phase: "content", Kind: "protocol"},
	}))
	require.NoError(t, sink.Close(context.Background()))

	entries := logs.All()
	require.Len(t, entries, 2)
	require.Equal(t, zapcore.InfoLevel, entries[0].Level)
	require.Equal(t, int64(10), entries[0].ContextMap()["bytes"])
	require.Equal(t, zapcore.WarnLevel, entries[1].Level)
	require.Equal(t, "content", entries[1].ContextMap()["phase"])
	require.Equal(t, "b", entries[1].ContextMap()["doc_id"])
}
