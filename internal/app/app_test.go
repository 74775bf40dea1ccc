package app_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/paperfetch/internal/app"
	"github.com/JakeFAU/paperfetch/internal/config"
	"github.com/JakeFAU/paperfetch/internal/newspaper"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	v := viper.New()
	v.Set("download.output_dir", t.TempDir())
	v.Set("download.timezone", "UTC")
	cfg, err := config.FromViper(v)
	require.NoError(t, err)
	return cfg
}

func build(t *testing.T, cfg config.Config, opts app.Options) *app.App {
	t.Helper()
	opts.Registerer = prometheus.NewRegistry()
	a, err := app.Build(context.Background(), cfg, zap.NewNop(), opts)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(context.Background()) })
	return a
}

func TestBuildDefaults(t *testing.T) {
	a := build(t, testConfig(t), app.Options{})

	require.Equal(t, []string{"people", "economic", "legal", "worker", "science", "xinhua"}, a.Registry.IDs())
	require.NotNil(t, a.Manager)
	require.NotNil(t, a.History)
	require.NoError(t, a.Ready(context.Background()))
	require.NoError(t, a.Close(context.Background()))
}

func TestBuildLocalArchive(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = config.BackendLocal
	cfg.Storage.LocalDir = filepath.Join(t.TempDir(), "archive")

	build(t, cfg, app.Options{})

	info, err := os.Stat(cfg.Storage.LocalDir)
	require.NoError(t, err)
	require.True(t, info.IsDir())
}

func TestBuildRejectsUnknownBackend(t *testing.T) {
	cfg := testConfig(t)
	cfg.Storage.Backend = "ftp"

	_, err := app.Build(context.Background(), cfg, zap.NewNop(), app.Options{Registerer: prometheus.NewRegistry()})
	require.ErrorContains(t, err, "unknown storage backend")
}

func TestBuildRejectsBadDSN(t *testing.T) {
	cfg := testConfig(t)
	cfg.DB.DSN = "postgres://localhost:99999999/papers"

	_, err := app.Build(context.Background(), cfg, zap.NewNop(), app.Options{Registerer: prometheus.NewRegistry()})
	require.ErrorContains(t, err, "init session store")
}

func TestDownloadSessionEndToEnd(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/rmrb/pc/layout/202501/02/node_01.html", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<div class="swiper-slide"><a id="pageLink" href="node_01.html">01版：要闻</a></div>
<a href="../../../attachement/202501/02/a1.pdf">下载</a>`))
	})
	mux.HandleFunc("/rmrb/pc/attachement/202501/02/a1.pdf", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF-1.4 front page"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	cfg := testConfig(t)
	cfg.Download.Roots = map[string]string{"people": srv.URL}
	var out bytes.Buffer
	a := build(t, cfg, app.Options{Out: &out, Concurrency: 2})

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- a.Manager.Run(ctx) }()

	date := time.Date(2025, time.January, 2, 0, 0, 0, 0, time.UTC)
	id, err := a.Manager.Submit(ctx, newspaper.Request{Date: date, Sources: []string{"people"}})
	require.NoError(t, err)

	summary, err := a.Manager.Wait(ctx, id)
	require.NoError(t, err)
	require.Equal(t, newspaper.StatusCompleted, summary.Status)
	require.Equal(t, newspaper.Counts{Total: 1, Succeeded: 1}, summary.Counts)

	path := filepath.Join(cfg.Download.OutputDir, "2025-01-02", "人民日报_20250102_第01版_要闻.pdf")
	body, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "%PDF-1.4 front page", string(body))

	rec, err := a.Store.GetSession(ctx, id)
	require.NoError(t, err)
	require.Equal(t, newspaper.StatusCompleted, rec.Status)

	require.NoError(t, a.Close(ctx))
	require.NoError(t, <-done)
	require.Contains(t, out.String(), "all 1 files downloaded")
	require.NotEmpty(t, a.History.Lines(id))
}
