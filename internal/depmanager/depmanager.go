// Package depmanager locates or installs the external binaries audiofetch runs:
// ffmpeg for conversion and yt-dlp for the yt-dlp source.
// Checksums are used only to detect when new versions are available, not to verify downloads.
package depmanager

import (
	"archive/tar"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"time"

	"audiofetch/internal/config"
	"audiofetch/internal/errs"

	"github.com/ulikunitz/xz"
)

// BinaryName represents the name of a binary dependency.
type BinaryName string

// Binary dependency names.
const (
	BinaryYTdlp  BinaryName = "yt-dlp"
	BinaryFFmpeg BinaryName = "ffmpeg"
)

const (
	platformLinux   = "linux"
	platformWindows = "windows"
	archARM64       = "arm64"
	archAMD64       = "amd64"
)

const (
	// downloadTimeout is the HTTP client timeout for downloading binaries.
	downloadTimeout = 10 * time.Minute
	// filePermExecutable is the file permission for executable binaries.
	filePermExecutable = 0o755
	// filePermReadWrite is the file permission for regular files.
	filePermReadWrite = 0o644
	// sha256HexLength is the expected length of SHA256 hex string.
	sha256HexLength = 64
	// sha256SumsFieldCount is the expected field count in SHA256SUMS format.
	sha256SumsFieldCount = 2
	// savedSumsFilename is the filename for saved checksums.
	savedSumsFilename = ".sha256sums.json"
)

// Platform represents the OS and architecture combination.
type Platform struct {
	OS   string
	Arch string
}

// String returns the platform string in format "os/arch".
func (p Platform) String() string {
	return p.OS + "/" + p.Arch
}

// Manager manages binary dependencies.
type Manager struct {
	log      *slog.Logger
	cfg      config.DepManager
	platform Platform
	client   *http.Client

	mu        sync.RWMutex
	shaSums   map[string]string     // filename -> sha256 hash (fetched from remote)
	savedSums map[string]string     // filename -> sha256 hash (saved from previous run)
	binPaths  map[BinaryName]string // binary name -> resolved path
}

// New creates a new dependency manager.
func New(log *slog.Logger, cfg config.DepManager) *Manager {
	return &Manager{
		log: log.With(slog.String("package", "depmanager")),
		cfg: cfg,
		platform: Platform{
			OS:   runtime.GOOS,
			Arch: runtime.GOARCH,
		},
		client: &http.Client{
			Timeout: downloadTimeout,
		},
		shaSums:   make(map[string]string),
		savedSums: make(map[string]string),
		binPaths:  make(map[BinaryName]string),
	}
}

// Resolve makes every named binary available, from PATH or from BinsDir.
func (m *Manager) Resolve(ctx context.Context, names ...BinaryName) error {
	if m.cfg.UseSystemBinaries {
		return m.SetSystemBinaries(names...)
	}

	return m.InstallAll(ctx, names...)
}

// SetSystemBinaries looks the binaries up in the system PATH.
func (m *Manager) SetSystemBinaries(names ...BinaryName) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, name := range names {
		path, err := exec.LookPath(string(name))
		if err != nil {
			return fmt.Errorf("%s: %w: %w", name, errs.ErrBinaryNotFound, err)
		}

		m.binPaths[name] = path
	}

	return nil
}

// InstallAll downloads missing binaries into BinsDir.
// With CheckUpdates, binaries whose remote checksum changed are downloaded again.
func (m *Manager) InstallAll(ctx context.Context, names ...BinaryName) error {
	log := m.log

	err := os.MkdirAll(m.cfg.BinsDir, filePermExecutable)
	if err != nil {
		return fmt.Errorf("create bins directory: %w", err)
	}

	err = m.loadSavedSums()
	if err != nil {
		log.DebugContext(ctx, "no saved checksums found, first run", slog.Any("error", err))
	}

	var stale map[BinaryName]bool

	if m.cfg.CheckUpdates {
		if err := m.FetchSHASums(ctx); err != nil {
			log.WarnContext(ctx, "update check: failed to fetch checksums", slog.Any("error", err))
		} else {
			stale = m.findUpdates(names)
		}
	}

	for _, name := range names {
		if m.isBinaryExists(name) && !stale[name] {
			m.setBinaryPath(name)
			log.DebugContext(ctx, "binary already exists", slog.String("binary", string(name)))

			continue
		}

		if err := m.downloadAndInstall(ctx, name); err != nil {
			return fmt.Errorf("download and install %s: %w", name, err)
		}
	}

	log.InfoContext(ctx, "binaries are installed", slog.Any("binaries", m.paths()))

	if !m.cfg.CheckUpdates {
		return nil
	}

	if err := m.saveSums(); err != nil {
		log.WarnContext(ctx, "failed to save checksums", slog.Any("error", err))
	}

	return nil
}

// Path returns the resolved path for a binary, or empty if it was not resolved.
func (m *Manager) Path(name BinaryName) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.binPaths[name]
}

func (m *Manager) paths() map[BinaryName]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return maps.Clone(m.binPaths)
}

// GetBinaryPath returns the install path of a binary inside BinsDir.
//   - /home/user/ + binary => /home/user/binary
func (m *Manager) GetBinaryPath(name BinaryName) string {
	filename := string(name)
	if m.platform.OS == platformWindows {
		filename += ".exe"
	}

	return filepath.Join(m.cfg.BinsDir, filename)
}

// FetchSHASums fetches and parses SHA256 sums from the configured URLs.
func (m *Manager) FetchSHASums(ctx context.Context) error {
	sumsURLs := m.collectSHASumsURLs()
	if len(sumsURLs) == 0 {
		return errors.New("no SHA256 sums URLs configured")
	}

	for _, url := range sumsURLs {
		body, err := m.get(ctx, url)
		if err != nil {
			return fmt.Errorf("fetch SHA sums: %w", err)
		}

		m.ParseSHASums(string(body))
	}

	return nil
}

func (m *Manager) collectSHASumsURLs() []string {
	var sumsURLs []string

	for _, raw := range []string{m.cfg.YTdlpSHA256SumsURL, m.cfg.FFmpegSHA256SumsURL} {
		for part := range strings.SplitSeq(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				sumsURLs = append(sumsURLs, part)
			}
		}
	}

	return sumsURLs
}

func (m *Manager) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}

	return body, nil
}

// ParseSHASums parses SHA256 sums from content in the format "hash  filename".
// Malformed lines are skipped.
func (m *Manager) ParseSHASums(content string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for line := range strings.Lines(content) {
		parts := strings.Fields(line)
		if len(parts) != sha256SumsFieldCount || len(parts[0]) != sha256HexLength {
			continue
		}

		m.shaSums[parts[1]] = parts[0]
	}

	m.log.Debug("parsed SHA256 sums", slog.Int("count", len(m.shaSums)))
}

// findUpdates returns the binaries whose fetched checksum differs from the saved one.
func (m *Manager) findUpdates(names []BinaryName) map[BinaryName]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	updates := make(map[BinaryName]bool)

	for _, name := range names {
		filename := m.getDownloadFilename(name)

		newHash, hasNew := m.shaSums[filename]
		oldHash, hasOld := m.savedSums[filename]

		if hasNew && (!hasOld || newHash != oldHash) {
			updates[name] = true
		}
	}

	return updates
}

// isBinaryExists checks if a binary file exists and has non-zero size.
func (m *Manager) isBinaryExists(name BinaryName) bool {
	info, err := os.Stat(m.GetBinaryPath(name))

	return err == nil && info.Size() > 0
}

func (m *Manager) setBinaryPath(name BinaryName) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.binPaths[name] = m.GetBinaryPath(name)
}

// downloadAndInstall downloads and installs a dependency binary.
func (m *Manager) downloadAndInstall(ctx context.Context, name BinaryName) error {
	log := m.log.With(slog.String("binary", string(name)))

	url, err := m.getBinaryURL(name)
	if err != nil {
		return err
	}

	log.InfoContext(ctx, "downloading binary", slog.String("url", url))

	if err := m.downloadDependency(ctx, url, name); err != nil {
		return fmt.Errorf("download dependency: %w", err)
	}

	if err := os.Chmod(m.GetBinaryPath(name), filePermExecutable); err != nil {
		return fmt.Errorf("chmod: %w", err)
	}

	m.setBinaryPath(name)

	log.InfoContext(ctx, "binary installed successfully", slog.String("path", m.GetBinaryPath(name)))

	return nil
}

// loadSavedSums loads saved checksums from file.
func (m *Manager) loadSavedSums() error {
	data, err := os.ReadFile(filepath.Join(m.cfg.BinsDir, savedSumsFilename))
	if err != nil {
		return fmt.Errorf("read checksums file: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := json.Unmarshal(data, &m.savedSums); err != nil {
		return fmt.Errorf("unmarshal checksums: %w", err)
	}

	return nil
}

// saveSums saves current checksums to file for future comparison.
func (m *Manager) saveSums() error {
	m.mu.RLock()
	data, err := json.MarshalIndent(m.shaSums, "", "  ")
	m.mu.RUnlock()

	if err != nil {
		return fmt.Errorf("marshal checksums: %w", err)
	}

	if err := os.WriteFile(filepath.Join(m.cfg.BinsDir, savedSumsFilename), data, filePermReadWrite); err != nil {
		return fmt.Errorf("write checksums file: %w", err)
	}

	m.mu.Lock()
	m.savedSums = maps.Clone(m.shaSums)
	m.mu.Unlock()

	return nil
}

// getDownloadFilename returns the filename as it appears in the sums file for a binary.
func (m *Manager) getDownloadFilename(name BinaryName) string {
	arm := m.platform.Arch == archARM64

	switch name {
	case BinaryYTdlp:
		if arm {
			return "yt-dlp_linux_aarch64"
		}

		return "yt-dlp_linux"
	case BinaryFFmpeg:
		if arm {
			return "ffmpeg-master-latest-linuxarm64-gpl.tar.xz"
		}

		return "ffmpeg-master-latest-linux64-gpl.tar.xz"
	}

	return string(name)
}

// getBinaryURL returns the download URL for the current platform.
// Only linux builds are downloadable; elsewhere binaries must come from PATH.
func (m *Manager) getBinaryURL(name BinaryName) (string, error) {
	if m.platform.OS != platformLinux || (m.platform.Arch != archAMD64 && m.platform.Arch != archARM64) {
		return "", fmt.Errorf("%s on %s: %w", name, m.platform, errs.ErrUnsupportedPlatform)
	}

	var arm64, amd64 string

	switch name {
	case BinaryYTdlp:
		arm64, amd64 = m.cfg.YTdlpLinuxARM64, m.cfg.YTdlpLinuxAMD64
	case BinaryFFmpeg:
		arm64, amd64 = m.cfg.FFmpegLinuxARM64, m.cfg.FFmpegLinuxAMD64
	}

	url := amd64
	if m.platform.Arch == archARM64 {
		url = arm64
	}

	if url == "" {
		return "", fmt.Errorf("no download URL configured for %s on %s", name, m.platform)
	}

	return url, nil
}

// downloadDependency downloads url into BinsDir, extracting name from tar.xz archives.
func (m *Manager) downloadDependency(ctx context.Context, url string, name BinaryName) error {
	binPath := m.GetBinaryPath(name)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("download: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	tmpFile, err := os.CreateTemp(m.cfg.BinsDir, "download-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}

	tmpPath := tmpFile.Name()

	defer func() {
		tmpFile.Close()
		os.Remove(tmpPath)
	}()

	if strings.HasSuffix(url, ".tar.xz") {
		xzReader, err := xz.NewReader(resp.Body)
		if err != nil {
			return fmt.Errorf("create xz reader: %w", err)
		}

		if err := extractTarFile(xzReader, filepath.Base(binPath), tmpFile); err != nil {
			return fmt.Errorf("extract: %w", err)
		}
	} else if _, err := io.Copy(tmpFile, resp.Body); err != nil {
		return fmt.Errorf("write file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, binPath); err != nil {
		return fmt.Errorf("rename: %w", err)
	}

	return nil
}

// extractTarFile copies the first regular file whose base name is target into w.
func extractTarFile(reader io.Reader, target string, w io.Writer) error {
	tarReader := tar.NewReader(reader)

	for {
		header, err := tarReader.Next()
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%s not found in tar archive", target)
		}

		if err != nil {
			return fmt.Errorf("read tar header: %w", err)
		}

		if header.Typeflag != tar.TypeReg || filepath.Base(header.Name) != target {
			continue
		}

		if _, err := io.Copy(w, tarReader); err != nil {
			return fmt.Errorf("extract file: %w", err)
		}

		return nil
	}
}
