// Package config handles application configuration loading and management.
package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the application configuration.
type Config struct {
	App        App
	Fetch      Fetch
	Dir        Dir
	Source     Source
	Metrics    Metrics
	DepManager DepManager
	Proxy      Proxy
}

// App holds application-wide configuration.
type App struct {
	LogLevel  string `env:"AUDIOFETCH_APP_LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"AUDIOFETCH_APP_LOG_FORMAT" envDefault:"json"`
	// LogFile receives logs instead of stderr; the TUI needs the terminal for itself.
	LogFile string `env:"AUDIOFETCH_APP_LOG_FILE" envDefault:""`
	// UI is either "plain" or "tui".
	UI string `env:"AUDIOFETCH_APP_UI" envDefault:"plain"`
}

// Fetch holds per-item retrieval and dispatch configuration.
type Fetch struct {
	SingleMaxRetries     int           `env:"AUDIOFETCH_FETCH_SINGLE_MAX_RETRIES"     envDefault:"2"`
	CollectionMaxRetries int           `env:"AUDIOFETCH_FETCH_COLLECTION_MAX_RETRIES" envDefault:"3"`
	RetryDelay           time.Duration `env:"AUDIOFETCH_FETCH_RETRY_DELAY"            envDefault:"5s"`
	MaxConcurrent        int           `env:"AUDIOFETCH_FETCH_MAX_CONCURRENT"         envDefault:"4"`
	MixItemCap           int           `env:"AUDIOFETCH_FETCH_MIX_ITEM_CAP"           envDefault:"25"`
	ProbeTimeout         time.Duration `env:"AUDIOFETCH_FETCH_PROBE_TIMEOUT"          envDefault:"30s"`
	EventBuffer          int           `env:"AUDIOFETCH_FETCH_EVENT_BUFFER"           envDefault:"64"`
	BitrateKbps          int           `env:"AUDIOFETCH_FETCH_BITRATE_KBPS"           envDefault:"192"`
	// Tag writes title and artist ID3 frames into finished files.
	Tag bool `env:"AUDIOFETCH_FETCH_TAG" envDefault:"true"`
}

// Dir holds directory paths for output, cache, and cookie file.
type Dir struct {
	Output string `env:"AUDIOFETCH_DIR_OUTPUT" envDefault:"./Music"`
	Cache  string `env:"AUDIOFETCH_DIR_CACHE"  envDefault:"./data/cache"` // yt-dlp cache (meta, sigs)

	// must contain cookies.txt file, used by the yt-dlp source only
	// see: https://github.com/yt-dlp/yt-dlp/wiki/FAQ#how-do-i-pass-cookies-to-yt-dlp
	CookieFile string `env:"AUDIOFETCH_DIR_COOKIE_FILE" envDefault:""`
}

// SetAbsPaths converts all directory paths to absolute paths.
func (c *Dir) SetAbsPaths() error {
	var err error
	if c.Output, err = filepath.Abs(c.Output); err != nil {
		return fmt.Errorf("output: %w", err)
	}

	if c.Cache, err = filepath.Abs(c.Cache); err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	if c.CookieFile != "" {
		if c.CookieFile, err = filepath.Abs(c.CookieFile); err != nil {
			return fmt.Errorf("cookie file: %w", err)
		}
	}

	return nil
}

// Source selects the media source and transcoder implementations.
type Source struct {
	// Name is one of "youtube", "ytdlp" or "mock".
	Name string `env:"AUDIOFETCH_SOURCE_NAME" envDefault:"youtube"`
	// Transcoder is one of "ffmpeg" or "mock".
	Transcoder string `env:"AUDIOFETCH_SOURCE_TRANSCODER" envDefault:"ffmpeg"`
	// RequestTimeout bounds a single HTTP request made by the native source.
	RequestTimeout time.Duration `env:"AUDIOFETCH_SOURCE_REQUEST_TIMEOUT" envDefault:"0s"`
}

// Metrics holds the optional prometheus endpoint configuration.
type Metrics struct {
	// Addr enables the /metrics endpoint when not empty, e.g. ":9090".
	Addr            string        `env:"AUDIOFETCH_METRICS_ADDR"             envDefault:""`
	ShutdownTimeout time.Duration `env:"AUDIOFETCH_METRICS_SHUTDOWN_TIMEOUT" envDefault:"3s"`
}

// New loads configuration from environment variables.
func New() (*Config, error) {
	cfg := &Config{}

	err := env.Parse(cfg)
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	err = cfg.Dir.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set absolute paths: %w", err)
	}

	err = cfg.DepManager.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set dep manager absolute paths: %w", err)
	}

	cfg.Proxy.parseList()

	return cfg, nil
}

// DepManager holds binary dependency management configuration.
type DepManager struct {
	// BinsDir is the directory where downloaded binaries are stored.
	BinsDir string `env:"AUDIOFETCH_DEPMANAGER_BINS_DIR" envDefault:"./bins"`
	// UseSystemBinaries looks binaries up in PATH instead of downloading them.
	UseSystemBinaries bool `env:"AUDIOFETCH_DEPMANAGER_USE_SYSTEM_BINARIES" envDefault:"true"`
	// CheckUpdates compares remote checksums with the saved ones and redownloads changed binaries.
	CheckUpdates bool `env:"AUDIOFETCH_DEPMANAGER_CHECK_UPDATES" envDefault:"false"`

	// ffmpeg binary URLs per platform.
	FFmpegSHA256SumsURL string `env:"AUDIOFETCH_DEPMANAGER_FFMPEG_SHA256SUMS_URL" envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/checksums.sha256"`                        //nolint:lll
	FFmpegLinuxARM64    string `env:"AUDIOFETCH_DEPMANAGER_FFMPEG_LINUX_ARM64" envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/ffmpeg-master-latest-linuxarm64-gpl.tar.xz"` //nolint:lll
	FFmpegLinuxAMD64    string `env:"AUDIOFETCH_DEPMANAGER_FFMPEG_LINUX_AMD64" envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/ffmpeg-master-latest-linux64-gpl.tar.xz"`    //nolint:lll

	// yt-dlp binary URLs per platform.
	YTdlpSHA256SumsURL string `env:"AUDIOFETCH_DEPMANAGER_YTDLP_SHA256SUMS_URL" envDefault:"https://github.com/yt-dlp/yt-dlp/releases/latest/download/SHA2-256SUMS"`      //nolint:lll
	YTdlpLinuxARM64    string `env:"AUDIOFETCH_DEPMANAGER_YTDLP_LINUX_ARM64" envDefault:"https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp_linux_aarch64"` //nolint:lll
	YTdlpLinuxAMD64    string `env:"AUDIOFETCH_DEPMANAGER_YTDLP_LINUX_AMD64" envDefault:"https://github.com/yt-dlp/yt-dlp/releases/latest/download/yt-dlp_linux"`         //nolint:lll
}

// SetAbsPaths converts the BinsDir path to an absolute path.
func (d *DepManager) SetAbsPaths() error {
	var err error
	if d.BinsDir, err = filepath.Abs(d.BinsDir); err != nil {
		return fmt.Errorf("bins dir: %w", err)
	}

	return nil
}

// Proxy holds proxy configuration for source requests.
type Proxy struct {
	// List is a comma-separated list of proxy URLs, e.g. socks5://host:1080
	List string `env:"AUDIOFETCH_PROXY_LIST" envDefault:""`
	// HealthCheck dials a proxy before handing it out.
	HealthCheck   bool          `env:"AUDIOFETCH_PROXY_HEALTH_CHECK"   envDefault:"true"`
	HealthTimeout time.Duration `env:"AUDIOFETCH_PROXY_HEALTH_TIMEOUT" envDefault:"5s"`
	// MaxFailures is how many failed requests put a proxy into backoff.
	MaxFailures    int           `env:"AUDIOFETCH_PROXY_MAX_FAILURES"    envDefault:"3"`
	FailureBackoff time.Duration `env:"AUDIOFETCH_PROXY_FAILURE_BACKOFF" envDefault:"30s"`

	// Proxies is the parsed list of proxy URLs
	Proxies []string `env:"-"`
}

// parseList parses the comma-separated proxy list.
func (p *Proxy) parseList() {
	p.Proxies = nil

	if p.List == "" {
		return
	}

	for proxy := range strings.SplitSeq(p.List, ",") {
		proxy = strings.TrimSpace(proxy)
		if proxy != "" {
			p.Proxies = append(p.Proxies, proxy)
		}
	}
}
