package config_test

import (
	"path/filepath"
	"slices"
	"testing"
	"time"

	"audiofetch/internal/config"
)

func TestNewDefaults(t *testing.T) {
	t.Setenv("AUDIOFETCH_DIR_OUTPUT", "./Music")

	got, err := config.New()
	if err != nil {
		t.Fatalf("New() failed: %v", err)
	}

	if got.Fetch.SingleMaxRetries != 2 {
		t.Errorf("SingleMaxRetries = %d, want 2", got.Fetch.SingleMaxRetries)
	}

	if got.Fetch.CollectionMaxRetries != 3 {
		t.Errorf("CollectionMaxRetries = %d, want 3", got.Fetch.CollectionMaxRetries)
	}

	if got.Fetch.RetryDelay != 5*time.Second {
		t.Errorf("RetryDelay = %v, want 5s", got.Fetch.RetryDelay)
	}

	if got.Fetch.MaxConcurrent != 4 {
		t.Errorf("MaxConcurrent = %d, want 4", got.Fetch.MaxConcurrent)
	}

	if got.Fetch.MixItemCap != 25 {
		t.Errorf("MixItemCap = %d, want 25", got.Fetch.MixItemCap)
	}

	if got.Source.Name != "youtube" {
		t.Errorf("Source.Name = %q, want youtube", got.Source.Name)
	}

	if !filepath.IsAbs(got.Dir.Output) {
		t.Errorf("expected absolute path, got %s", got.Dir.Output)
	}

	if filepath.Base(got.Dir.Output) != "Music" {
		t.Errorf("expected Music output dir, got %s", got.Dir.Output)
	}

	if !filepath.IsAbs(got.Dir.Cache) {
		t.Errorf("expected absolute path, got %s", got.Dir.Cache)
	}

	if !filepath.IsAbs(got.DepManager.BinsDir) {
		t.Errorf("expected absolute path, got %s", got.DepManager.BinsDir)
	}

	if got.Dir.CookieFile != "" {
		t.Errorf("expected empty cookie file, got %s", got.Dir.CookieFile)
	}
}

func TestNewOverrides(t *testing.T) {
	tests := []struct {
		name  string
		env   map[string]string
		check func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "fetch tuning",
			env: map[string]string{
				"AUDIOFETCH_FETCH_MAX_CONCURRENT": "8",
				"AUDIOFETCH_FETCH_RETRY_DELAY":    "250ms",
				"AUDIOFETCH_FETCH_TAG":            "false",
			},
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()

				if cfg.Fetch.MaxConcurrent != 8 {
					t.Errorf("MaxConcurrent = %d, want 8", cfg.Fetch.MaxConcurrent)
				}

				if cfg.Fetch.RetryDelay != 250*time.Millisecond {
					t.Errorf("RetryDelay = %v, want 250ms", cfg.Fetch.RetryDelay)
				}

				if cfg.Fetch.Tag {
					t.Error("Tag = true, want false")
				}
			},
		},
		{
			name: "proxy list",
			env: map[string]string{
				"AUDIOFETCH_PROXY_LIST": "socks5://127.0.0.1:1080 , ,http://10.0.0.1:3128",
			},
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()

				want := []string{"socks5://127.0.0.1:1080", "http://10.0.0.1:3128"}
				if !slices.Equal(cfg.Proxy.Proxies, want) {
					t.Errorf("Proxies = %v, want %v", cfg.Proxy.Proxies, want)
				}
			},
		},
		{
			name: "cookie file made absolute",
			env: map[string]string{
				"AUDIOFETCH_DIR_COOKIE_FILE": "./data/cookies.txt",
			},
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()

				if !filepath.IsAbs(cfg.Dir.CookieFile) {
					t.Errorf("expected absolute path, got %s", cfg.Dir.CookieFile)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := config.New()
			if err != nil {
				t.Fatalf("New() failed: %v", err)
			}

			tt.check(t, cfg)
		})
	}
}

func TestNewInvalidDuration(t *testing.T) {
	t.Setenv("AUDIOFETCH_FETCH_RETRY_DELAY", "soon")

	if _, err := config.New(); err == nil {
		t.Fatal("expected error for invalid duration")
	}
}
