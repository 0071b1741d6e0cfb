//go:build integration

package integration_test

import (
	_ "embed"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"audiofetch/internal/config"
	"audiofetch/internal/consts"
	"audiofetch/internal/depmanager"
	"audiofetch/internal/observability"
	"audiofetch/internal/service"
	"audiofetch/internal/source"
	"audiofetch/internal/transcoder"
	"audiofetch/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

//go:embed testdata/fake-ytdlp.sh
var fakeYTDLPScript string

// streamPayload is what the fake media host serves for every item.
const streamPayload = "fake audio payload"

type ytdlpIntegrationFixture struct {
	cfg      *config.Config
	registry *prometheus.Registry
	svc      service.Coordinator
	outDir   string
}

func newYTdlpIntegrationFixture(t *testing.T) *ytdlpIntegrationFixture {
	t.Helper()

	if runtime.GOOS == "windows" {
		t.Skip("integration fake yt-dlp helper uses shell script")
	}

	baseDir := t.TempDir()

	cfg, err := config.New()
	if err != nil {
		t.Fatalf("config new: %v", err)
	}

	cfg.DepManager.BinsDir = filepath.Join(baseDir, "bins")
	cfg.DepManager.UseSystemBinaries = false
	cfg.Dir.Output = filepath.Join(baseDir, "Music")
	cfg.Dir.Cache = filepath.Join(baseDir, "cache")
	cfg.Dir.CookieFile = ""
	cfg.Source.Name = consts.SourceYTdlp
	cfg.Source.Transcoder = consts.TranscoderMock
	cfg.Fetch.RetryDelay = 10 * time.Millisecond
	cfg.Fetch.Tag = false

	if err := os.MkdirAll(cfg.DepManager.BinsDir, 0o755); err != nil {
		t.Fatalf("mkdir bins dir: %v", err)
	}

	log := logger.Discard()
	depMgr := depmanager.New(log, cfg.DepManager)

	// an existing non-empty binary is never downloaded again
	fakeBinaryPath := depMgr.GetBinaryPath(depmanager.BinaryYTdlp)
	if err := os.WriteFile(fakeBinaryPath, []byte(fakeYTDLPScript), 0o755); err != nil {
		t.Fatalf("write fake yt-dlp: %v", err)
	}

	if err := depMgr.Resolve(t.Context(), depmanager.BinaryYTdlp); err != nil {
		t.Fatalf("resolve yt-dlp: %v", err)
	}

	media := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat(streamPayload, 1024)))
	}))
	t.Cleanup(media.Close)
	t.Setenv("FAKE_STREAM_BASE", media.URL)

	registry := prometheus.NewRegistry()
	metrics := observability.New(registry)

	src, err := source.New(cfg.Source.Name, log, source.Options{
		HTTPClient: media.Client(),
		YTdlpPath:  depMgr.Path(depmanager.BinaryYTdlp),
		CacheDir:   cfg.Dir.Cache,
		MixItemCap: cfg.Fetch.MixItemCap,
	})
	if err != nil {
		t.Fatalf("source new: %v", err)
	}

	conv, err := transcoder.New(cfg.Source.Transcoder, log, "")
	if err != nil {
		t.Fatalf("transcoder new: %v", err)
	}

	return &ytdlpIntegrationFixture{
		cfg:      cfg,
		registry: registry,
		svc:      service.New(cfg, log, src, conv, metrics),
		outDir:   cfg.Dir.Output,
	}
}
