//nolint:testpackage // using internal package access to cover private helpers
package depmanager

import (
	"archive/tar"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"audiofetch/internal/config"
	"audiofetch/internal/errs"
	"audiofetch/pkg/logger"

	"github.com/ulikunitz/xz"
)

type rtFunc func(*http.Request) (*http.Response, error)

func (f rtFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

func newLinuxManager(cfg config.DepManager) *Manager {
	mgr := New(logger.Discard(), cfg)
	mgr.platform = Platform{OS: platformLinux, Arch: archAMD64}

	return mgr
}

// tarXZ builds a BtbN-style archive with the binary nested in a bin directory.
func tarXZ(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer

	xw, err := xz.NewWriter(&buf)
	if err != nil {
		t.Fatalf("xz writer: %v", err)
	}

	tw := tar.NewWriter(xw)

	if err := tw.WriteHeader(&tar.Header{Name: "ffmpeg-master/bin/", Typeflag: tar.TypeDir, Mode: 0o755}); err != nil {
		t.Fatal(err)
	}

	for name, content := range files {
		hdr := &tar.Header{Name: "ffmpeg-master/bin/" + name, Typeflag: tar.TypeReg, Mode: 0o755, Size: int64(len(content))}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatal(err)
		}

		if _, err := io.WriteString(tw, content); err != nil {
			t.Fatal(err)
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatal(err)
	}

	if err := xw.Close(); err != nil {
		t.Fatal(err)
	}

	return buf.Bytes()
}

func TestParseSHASums(t *testing.T) {
	t.Parallel()

	hashA := strings.Repeat("a", sha256HexLength)
	hashB := strings.Repeat("b", sha256HexLength)

	tests := []struct {
		name     string
		content  string
		wantHash map[string]string
	}{
		{
			name:     "valid sums",
			content:  hashA + "  yt-dlp_linux\n" + hashB + "  ffmpeg-master-latest-linux64-gpl.tar.xz\n",
			wantHash: map[string]string{"yt-dlp_linux": hashA, "ffmpeg-master-latest-linux64-gpl.tar.xz": hashB},
		},
		{
			name:     "empty content",
			content:  "",
			wantHash: map[string]string{},
		},
		{
			name:     "invalid format",
			content:  "not a valid line",
			wantHash: map[string]string{},
		},
		{
			name:     "invalid hash length",
			content:  "short  filename",
			wantHash: map[string]string{},
		},
		{
			name:     "mixed valid and invalid",
			content:  hashA + "  valid_file\ninvalid line here\n" + hashB + "  another_valid",
			wantHash: map[string]string{"valid_file": hashA, "another_valid": hashB},
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mgr := New(logger.Discard(), config.DepManager{})
			mgr.ParseSHASums(tc.content)

			if len(mgr.shaSums) != len(tc.wantHash) {
				t.Errorf("got %d sums, want %d", len(mgr.shaSums), len(tc.wantHash))
			}

			for filename, wantHash := range tc.wantHash {
				if got := mgr.shaSums[filename]; got != wantHash {
					t.Errorf("hash for %s: got %s, want %s", filename, got, wantHash)
				}
			}
		})
	}
}

func TestGetBinaryPath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		binary   BinaryName
		os       string
		wantPath string
	}{
		{"yt-dlp on linux", BinaryYTdlp, "linux", "/app/bins/yt-dlp"},
		{"yt-dlp on windows", BinaryYTdlp, "windows", "/app/bins/yt-dlp.exe"},
		{"ffmpeg on darwin", BinaryFFmpeg, "darwin", "/app/bins/ffmpeg"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mgr := New(logger.Discard(), config.DepManager{BinsDir: "/app/bins"})
			mgr.platform.OS = tc.os

			if got := mgr.GetBinaryPath(tc.binary); got != tc.wantPath {
				t.Errorf("got %s, want %s", got, tc.wantPath)
			}
		})
	}
}

func TestGetBinaryURL(t *testing.T) {
	t.Parallel()

	cfg := config.DepManager{
		YTdlpLinuxAMD64:  "https://x/yt-dlp_linux",
		YTdlpLinuxARM64:  "https://x/yt-dlp_linux_aarch64",
		FFmpegLinuxAMD64: "https://x/ffmpeg-linux64.tar.xz",
		FFmpegLinuxARM64: "",
	}

	tests := []struct {
		name     string
		platform Platform
		binary   BinaryName
		want     string
		wantErr  error
	}{
		{"yt-dlp amd64", Platform{"linux", "amd64"}, BinaryYTdlp, "https://x/yt-dlp_linux", nil},
		{"yt-dlp arm64", Platform{"linux", "arm64"}, BinaryYTdlp, "https://x/yt-dlp_linux_aarch64", nil},
		{"ffmpeg amd64", Platform{"linux", "amd64"}, BinaryFFmpeg, "https://x/ffmpeg-linux64.tar.xz", nil},
		{"ffmpeg arm64 not configured", Platform{"linux", "arm64"}, BinaryFFmpeg, "", nil},
		{"darwin", Platform{"darwin", "arm64"}, BinaryFFmpeg, "", errs.ErrUnsupportedPlatform},
		{"linux 386", Platform{"linux", "386"}, BinaryYTdlp, "", errs.ErrUnsupportedPlatform},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			mgr := New(logger.Discard(), cfg)
			mgr.platform = tc.platform

			got, err := mgr.getBinaryURL(tc.binary)

			switch {
			case tc.wantErr != nil:
				if !errors.Is(err, tc.wantErr) {
					t.Errorf("err = %v, want %v", err, tc.wantErr)
				}
			case tc.want == "":
				if err == nil {
					t.Errorf("expected error for missing URL, got %q", got)
				}
			case got != tc.want || err != nil:
				t.Errorf("got %q, %v; want %q", got, err, tc.want)
			}
		})
	}
}

func TestGetDownloadFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		arch   string
		binary BinaryName
		want   string
	}{
		{archAMD64, BinaryYTdlp, "yt-dlp_linux"},
		{archARM64, BinaryYTdlp, "yt-dlp_linux_aarch64"},
		{archAMD64, BinaryFFmpeg, "ffmpeg-master-latest-linux64-gpl.tar.xz"},
		{archARM64, BinaryFFmpeg, "ffmpeg-master-latest-linuxarm64-gpl.tar.xz"},
	}

	for _, tc := range tests {
		mgr := New(logger.Discard(), config.DepManager{})
		mgr.platform = Platform{OS: platformLinux, Arch: tc.arch}

		if got := mgr.getDownloadFilename(tc.binary); got != tc.want {
			t.Errorf("%s/%s: got %s, want %s", tc.binary, tc.arch, got, tc.want)
		}
	}
}

func TestFetchSHASums(t *testing.T) {
	t.Parallel()

	hash := strings.Repeat("e", sha256HexLength)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ytdlp":
			fmt.Fprintf(w, "%s  yt-dlp_linux\n", hash)
		case "/ffmpeg":
			fmt.Fprintf(w, "%s  ffmpeg-master-latest-linux64-gpl.tar.xz\n", hash)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer server.Close()

	mgr := newLinuxManager(config.DepManager{
		YTdlpSHA256SumsURL:  server.URL + "/ytdlp",
		FFmpegSHA256SumsURL: server.URL + "/ffmpeg",
	})

	if err := mgr.FetchSHASums(t.Context()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(mgr.shaSums) != 2 {
		t.Errorf("got %d sums, want 2", len(mgr.shaSums))
	}

	broken := newLinuxManager(config.DepManager{YTdlpSHA256SumsURL: server.URL + "/broken"})
	if err := broken.FetchSHASums(t.Context()); err == nil {
		t.Error("expected error for server error response")
	}

	empty := newLinuxManager(config.DepManager{})
	if err := empty.FetchSHASums(t.Context()); err == nil {
		t.Error("expected error without sums URLs")
	}
}

func TestSetSystemBinaries(t *testing.T) {
	dir := t.TempDir()

	fake := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(fake, []byte("#!/bin/sh\n"), filePermExecutable); err != nil {
		t.Fatal(err)
	}

	t.Setenv("PATH", dir)

	mgr := New(logger.Discard(), config.DepManager{UseSystemBinaries: true})

	if err := mgr.Resolve(t.Context(), BinaryFFmpeg); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	if got := mgr.Path(BinaryFFmpeg); got != fake {
		t.Errorf("Path() = %q, want %q", got, fake)
	}

	if err := mgr.Resolve(t.Context(), BinaryYTdlp); !errors.Is(err, errs.ErrBinaryNotFound) {
		t.Errorf("Resolve() error = %v, want ErrBinaryNotFound", err)
	}
}

func TestInstallAll(t *testing.T) {
	archive := tarXZ(t, map[string]string{"ffmpeg": "ffmpeg binary", "ffprobe": "ffprobe binary"})

	var downloads int

	mgr := newLinuxManager(config.DepManager{
		BinsDir:          t.TempDir(),
		YTdlpLinuxAMD64:  "https://dl.invalid/yt-dlp_linux",
		FFmpegLinuxAMD64: "https://dl.invalid/ffmpeg-master-latest-linux64-gpl.tar.xz",
	})
	mgr.client = &http.Client{
		Transport: rtFunc(func(r *http.Request) (*http.Response, error) {
			downloads++

			var body []byte

			switch r.URL.Path {
			case "/yt-dlp_linux":
				body = []byte("yt-dlp binary")
			case "/ffmpeg-master-latest-linux64-gpl.tar.xz":
				body = archive
			default:
				return &http.Response{StatusCode: http.StatusNotFound, Body: io.NopCloser(strings.NewReader("nf")), Header: make(http.Header), Request: r}, nil //nolint:lll
			}

			return &http.Response{StatusCode: http.StatusOK, Body: io.NopCloser(bytes.NewReader(body)), Header: make(http.Header), Request: r}, nil //nolint:lll
		}),
	}

	if err := mgr.Resolve(t.Context(), BinaryFFmpeg, BinaryYTdlp); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}

	for name, want := range map[BinaryName]string{BinaryFFmpeg: "ffmpeg binary", BinaryYTdlp: "yt-dlp binary"} {
		path := mgr.Path(name)

		data, err := os.ReadFile(path)
		if err != nil {
			t.Fatalf("read %s: %v", name, err)
		}

		if string(data) != want {
			t.Errorf("%s content = %q, want %q", name, data, want)
		}

		info, _ := os.Stat(path)
		if info.Mode().Perm()&0o100 == 0 {
			t.Errorf("%s is not executable: %v", name, info.Mode())
		}
	}

	if _, err := os.Stat(filepath.Join(mgr.cfg.BinsDir, "ffprobe")); !os.IsNotExist(err) {
		t.Errorf("only the requested binary should be extracted, ffprobe stat err = %v", err)
	}

	// second run reuses what is on disk
	if err := mgr.Resolve(t.Context(), BinaryFFmpeg, BinaryYTdlp); err != nil {
		t.Fatalf("second Resolve() error = %v", err)
	}

	if downloads != 2 {
		t.Errorf("downloads = %d, want 2", downloads)
	}
}

func TestInstallAll_CheckUpdates(t *testing.T) {
	const filename = "yt-dlp_linux"

	newHash := strings.Repeat("a", sha256HexLength)
	oldHash := strings.Repeat("b", sha256HexLength)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/sha":
			fmt.Fprintf(w, "%s  %s\n", newHash, filename)
		case "/bin":
			_, _ = w.Write([]byte("updated binary"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	binsDir := t.TempDir()
	if err := os.WriteFile(filepath.Join(binsDir, "yt-dlp"), []byte("old binary"), filePermExecutable); err != nil {
		t.Fatal(err)
	}

	mgr := newLinuxManager(config.DepManager{
		BinsDir:            binsDir,
		CheckUpdates:       true,
		YTdlpSHA256SumsURL: server.URL + "/sha",
		YTdlpLinuxAMD64:    server.URL + "/bin",
	})
	mgr.savedSums = map[string]string{filename: oldHash}

	if err := mgr.InstallAll(t.Context(), BinaryYTdlp); err != nil {
		t.Fatalf("InstallAll() error = %v", err)
	}

	data, err := os.ReadFile(filepath.Join(binsDir, "yt-dlp"))
	if err != nil {
		t.Fatalf("read binary: %v", err)
	}

	if string(data) != "updated binary" {
		t.Errorf("binary content = %q, want updated", data)
	}

	if got := mgr.savedSums[filename]; got != newHash {
		t.Errorf("saved checksum = %s, want %s", got, newHash)
	}

	reloaded := newLinuxManager(config.DepManager{BinsDir: binsDir})
	if err := reloaded.loadSavedSums(); err != nil {
		t.Fatalf("loadSavedSums() error = %v", err)
	}

	reloaded.shaSums = map[string]string{filename: newHash}

	if updates := reloaded.findUpdates([]BinaryName{BinaryYTdlp}); len(updates) != 0 {
		t.Errorf("unchanged checksum reported as update: %v", updates)
	}
}

func TestFindUpdates(t *testing.T) {
	t.Parallel()

	hashA := strings.Repeat("a", sha256HexLength)
	hashB := strings.Repeat("b", sha256HexLength)

	mgr := newLinuxManager(config.DepManager{})
	mgr.shaSums = map[string]string{
		"yt-dlp_linux": hashA,
		"ffmpeg-master-latest-linux64-gpl.tar.xz": hashA,
	}
	mgr.savedSums = map[string]string{
		"yt-dlp_linux": hashB,
		"ffmpeg-master-latest-linux64-gpl.tar.xz": hashA,
	}

	updates := mgr.findUpdates([]BinaryName{BinaryYTdlp, BinaryFFmpeg})
	if !updates[BinaryYTdlp] || updates[BinaryFFmpeg] || len(updates) != 1 {
		t.Errorf("updates = %v, want only yt-dlp", updates)
	}
}

func TestExtractTarFile_Missing(t *testing.T) {
	t.Parallel()

	archive := tarXZ(t, map[string]string{"ffprobe": "x"})

	r, err := xz.NewReader(bytes.NewReader(archive))
	if err != nil {
		t.Fatal(err)
	}

	if err := extractTarFile(r, "ffmpeg", io.Discard); err == nil {
		t.Error("expected error for missing target")
	}
}
