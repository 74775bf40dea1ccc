package cmd

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/paperfetch/internal/app"
	"github.com/JakeFAU/paperfetch/internal/config"
	"github.com/JakeFAU/paperfetch/internal/newspaper"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(append([]string{"--env-file", ""}, args...))
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "paperfetch.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

// isolatedRegistry keeps each Build off the default Prometheus registry.
func isolatedRegistry(t *testing.T) {
	t.Helper()
	prev := buildApp
	buildApp = func(ctx context.Context, cfg config.Config, logger *zap.Logger, opts app.Options) (*app.App, error) {
		opts.Registerer = prometheus.NewRegistry()
		return app.Build(ctx, cfg, logger, opts)
	}
	t.Cleanup(func() { buildApp = prev })
}

func TestParseDate(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, time.March, 4, 23, 30, 0, 0, time.FixedZone("CST", 8*3600))
	got, err := parseDate("", now)
	require.NoError(t, err)
	require.Equal(t, time.Date(2025, time.March, 4, 0, 0, 0, 0, time.UTC), got)

	got, err = parseDate("2025-01-02", now)
	require.NoError(t, err)
	require.Equal(t, "2025-01-02", got.Format(newspaper.DateLayout))

	_, err = parseDate("02/01/2025", now)
	require.ErrorContains(t, err, "want YYYY-MM-DD")
}

func TestSourcesCommand(t *testing.T) {
	out, err := execute(t, "sources")
	require.NoError(t, err)
	require.Contains(t, out, "ID")
	for _, id := range []string{"people", "economic", "legal", "worker", "science", "xinhua"} {
		require.Contains(t, out, id)
	}
	require.Contains(t, out, "人民日报")
}

func TestDownloadRequiresSource(t *testing.T) {
	cfgPath := writeConfig(t, fmt.Sprintf("download:\n  output_dir: %s\n", t.TempDir()))
	_, err := execute(t, "--config", cfgPath, "download", "--date", "2025-01-02")
	require.ErrorIs(t, err, newspaper.ErrNoSources)
}

func TestDownloadRejectsBadDate(t *testing.T) {
	_, err := execute(t, "download", "--date", "tomorrow", "--source", "people")
	require.ErrorContains(t, err, "invalid --date")
}

func TestDownloadCommand(t *testing.T) {
	isolatedRegistry(t)

	mux := http.NewServeMux()
	mux.HandleFunc("/rmrb/pc/layout/202501/02/node_01.html", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<div class="swiper-slide"><a id="pageLink" href="node_01.html">01版：要闻</a></div>
<div class="swiper-slide"><a id="pageLink" href="node_02.html">02版：国内</a></div>
<a href="../../../attachement/202501/02/a1.pdf">下载</a>`))
	})
	mux.HandleFunc("/rmrb/pc/layout/202501/02/node_02.html", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`<a href="../../../attachement/202501/02/b2.pdf">下载</a>`))
	})
	mux.HandleFunc("/rmrb/pc/attachement/202501/02/a1.pdf", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("%PDF-1.4 page one"))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	outDir := t.TempDir()
	cfgPath := writeConfig(t, fmt.Sprintf(`download:
  output_dir: %s
  timezone: UTC
  roots:
    people: %s
logging:
  development: false
`, outDir, srv.URL))

	out, err := execute(t, "--config", cfgPath, "download", "--date", "2025-01-02", "--source", "people", "--concurrency", "2")
	require.NoError(t, err)
	require.Contains(t, out, "session started: 2025-01-02")
	require.Contains(t, out, "人民日报: found 2 pages")
	require.Contains(t, out, "download complete: 1 succeeded, 1 failed")

	_, err = os.Stat(filepath.Join(outDir, "2025-01-02", "人民日报_20250102_第01版_要闻.pdf"))
	require.NoError(t, err)
	_, err = os.Stat(filepath.Join(outDir, "2025-01-02", "人民日报_20250102_第02版_国内.pdf"))
	require.True(t, os.IsNotExist(err))
}
