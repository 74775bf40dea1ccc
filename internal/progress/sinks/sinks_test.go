package sinks

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/JakeFAU/paperfetch/internal/progress"
)

const sessionID = "0192a4a0-0000-7000-8000-000000000001"

func sessionBatch(start time.Time) []progress.Event {
	return []progress.Event{
		{SessionID: sessionID, TS: start, Stage: progress.StageSessionStart, Note: "session started"},
		{SessionID: sessionID, TS: start, Stage: progress.StageDiscoveryDone, Source: "legal", Pages: 2, Note: "法治日报: found 2 pages"},
		{
			SessionID: sessionID, TS: start, Stage: progress.StageFetchDone, Source: "legal",
			Title: "p1", Bytes: 1024, StatusClass: progress.Status2xx, Dur: 200 * time.Millisecond, Note: "downloaded p1",
		},
		{
			SessionID: sessionID, TS: start, Stage: progress.StageFetchError, Source: "legal",
			Title: "p2", StatusClass: progress.Status4xx, Note: "failed p2",
		},
		{SessionID: sessionID, TS: start.Add(5 * time.Second), Stage: progress.StageSessionDone, Note: "download complete: 1 succeeded, 1 failed"},
	}
}

func TestPrometheusSinkRecordsMetrics(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	sink, err := NewPrometheusSink(reg)
	require.NoError(t, err)

	require.NoError(t, sink.Consume(context.Background(), sessionBatch(time.Now())))

	require.InDelta(t, 1, testutil.ToFloat64(sink.sessionsStarted), 0)
	require.InDelta(t, 1, testutil.ToFloat64(sink.sessionsFinished.WithLabelValues("completed")), 0)
	require.InDelta(t, 0, testutil.ToFloat64(sink.sessionsRunning), 0)
	require.InDelta(t, 2, testutil.ToFloat64(sink.pagesFound.WithLabelValues("legal")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(sink.fetches.WithLabelValues("legal", "2xx")), 0)
	require.InDelta(t, 1, testutil.ToFloat64(sink.fetches.WithLabelValues("legal", "4xx")), 0)
	require.InDelta(t, 1024, testutil.ToFloat64(sink.fetchBytes.WithLabelValues("legal")), 0)
	require.Equal(t, 1, testutil.CollectAndCount(sink.sessionRuntime))
}

func TestPrometheusSinkDuplicateRegistration(t *testing.T) {
	t.Parallel()

	reg := prometheus.NewRegistry()
	_, err := NewPrometheusSink(reg)
	require.NoError(t, err)
	_, err = NewPrometheusSink(reg)
	require.Error(t, err)
}

func TestWriterSinkPrintsNotes(t *testing.T) {
	t.Parallel()

	var buf bytes.Buffer
	sink := NewWriterSink(&buf)
	batch := sessionBatch(time.Now())
	batch = append(batch, progress.Event{SessionID: sessionID, Stage: progress.StageSessionDone})
	require.NoError(t, sink.Consume(context.Background(), batch))
	require.Equal(t, "session started\n法治日报: found 2 pages\ndownloaded p1\nfailed p2\ndownload complete: 1 succeeded, 1 failed\n", buf.String())
}

func TestHistorySinkKeepsRecentLines(t *testing.T) {
	t.Parallel()

	sink := NewHistorySink(3)
	require.NoError(t, sink.Consume(context.Background(), sessionBatch(time.Now())))

	lines := sink.Lines(sessionID)
	require.Len(t, lines, 3)
	require.Equal(t, "downloaded p1", lines[0].Text)
	require.Equal(t, progress.StageSessionDone, lines[2].Stage)
	require.Empty(t, sink.Lines("other"))

	sink.Forget(sessionID)
	require.Empty(t, sink.Lines(sessionID))
}

func TestLogSinkLevels(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	sink := NewLogSink(zap.New(core))
	require.NoError(t, sink.Consume(context.Background(), sessionBatch(time.Now())))

	require.Equal(t, 5, logs.Len())
	warns := logs.FilterLevelExact(zap.WarnLevel).All()
	require.Len(t, warns, 1)
	require.Equal(t, "failed p2", warns[0].Message)
	require.NoError(t, sink.Close(context.Background()))
}
