package proxy_test

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync/atomic"
	"testing"
	"time"

	"audiofetch/internal/config"
	"audiofetch/internal/errs"
	"audiofetch/internal/observability"
	"audiofetch/internal/proxy"
	"audiofetch/pkg/logger"

	"github.com/prometheus/client_golang/prometheus"
)

func newManager(t *testing.T, proxies []string, healthCheck bool) *proxy.Manager {
	t.Helper()

	m, err := proxy.New(logger.Discard(), config.Proxy{
		Proxies:        proxies,
		HealthCheck:    healthCheck,
		HealthTimeout:  time.Second,
		MaxFailures:    2,
		FailureBackoff: time.Minute,
	}, observability.New(prometheus.NewRegistry()))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	return m
}

// closedAddr returns an address nothing listens on.
func closedAddr(t *testing.T) string {
	t.Helper()

	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}

	addr := l.Addr().String()
	l.Close()

	return addr
}

func TestNew(t *testing.T) {
	tests := []struct {
		name      string
		proxies   []string
		wantCount int
		wantErr   bool
	}{
		{
			name:      "empty proxies",
			wantCount: 0,
		},
		{
			name:      "single proxy",
			proxies:   []string{"socks5h://127.0.0.1:1080"},
			wantCount: 1,
		},
		{
			name:      "duplicates collapse",
			proxies:   []string{"socks5h://127.0.0.1:1080", "socks5h://127.0.0.1:1080", "http://10.0.0.1:3128"},
			wantCount: 2,
		},
		{
			name:      "IPv6 without port",
			proxies:   []string{"socks5h://[::1]"},
			wantCount: 1,
		},
		{
			name:    "invalid proxy URL",
			proxies: []string{"not a valid url://:"},
			wantErr: true,
		},
		{
			name:    "unsupported scheme",
			proxies: []string{"ftp://127.0.0.1:21"},
			wantErr: true,
		},
		{
			name:    "missing host",
			proxies: []string{"socks5://"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := proxy.New(logger.Discard(), config.Proxy{Proxies: tt.proxies}, observability.New(prometheus.NewRegistry()))
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}

			if err == nil && m.Count() != tt.wantCount {
				t.Errorf("Count() = %d, want %d", m.Count(), tt.wantCount)
			}
		})
	}
}

func TestGetProxy_NoProxies(t *testing.T) {
	m := newManager(t, nil, true)

	got, err := m.GetProxy(t.Context())
	if err != nil || got != "" {
		t.Errorf("GetProxy() = %q, %v; want empty, nil", got, err)
	}
}

func TestGetProxy_WithoutHealthCheck(t *testing.T) {
	proxies := []string{"socks5h://proxy1:1080", "socks5h://proxy2:1080", "socks5h://proxy3:1080"}
	m := newManager(t, proxies, false)

	for range 10 {
		got, err := m.GetProxy(t.Context())
		if err != nil {
			t.Fatalf("GetProxy() error = %v", err)
		}

		if !slices.Contains(proxies, got) {
			t.Fatalf("GetProxy() = %q, not configured", got)
		}
	}
}

func TestGetProxy_HealthCheck(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer l.Close()

	healthy := "http://" + l.Addr().String()
	dead := "http://" + closedAddr(t)

	m := newManager(t, []string{dead, healthy}, true)

	for range 5 {
		got, err := m.GetProxy(t.Context())
		if err != nil {
			t.Fatalf("GetProxy() error = %v", err)
		}

		if got != healthy {
			t.Fatalf("GetProxy() = %q, want the healthy proxy", got)
		}
	}
}

func TestGetProxy_NoneHealthy(t *testing.T) {
	m := newManager(t, []string{"http://" + closedAddr(t)}, true)

	if _, err := m.GetProxy(t.Context()); !errors.Is(err, errs.ErrNoProxiesAvailable) {
		t.Errorf("GetProxy() error = %v, want ErrNoProxiesAvailable", err)
	}
}

func TestMarkFailedBackoff(t *testing.T) {
	a, b := "socks5://10.0.0.1:1080", "socks5://10.0.0.2:1080"
	m := newManager(t, []string{a, b}, false)

	m.MarkFailed(a)

	if got := m.Available(); len(got) != 2 {
		t.Fatalf("one failure below the threshold removed the proxy: %v", got)
	}

	m.MarkFailed(a)

	if got := m.Available(); !slices.Equal(got, []string{b}) {
		t.Fatalf("Available() = %v, want only %s", got, b)
	}

	m.MarkSuccess(a)

	if got := m.Available(); len(got) != 2 {
		t.Errorf("MarkSuccess did not restore the proxy: %v", got)
	}
}

func TestTransport(t *testing.T) {
	var hits atomic.Int32

	// a plain HTTP proxy receives absolute-form requests and answers them itself
	proxySrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)

		if r.URL.Host != "media.invalid" {
			http.Error(w, "unexpected host "+r.URL.Host, http.StatusBadGateway)

			return
		}

		io.WriteString(w, "via proxy")
	}))
	defer proxySrv.Close()

	m := newManager(t, []string{proxySrv.URL}, true)

	resp, err := m.HTTPClient(5 * time.Second).Get("http://media.invalid/stream")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "via proxy" {
		t.Errorf("got %d %q", resp.StatusCode, body)
	}

	if hits.Load() != 1 {
		t.Errorf("proxy hits = %d, want 1", hits.Load())
	}
}

func TestTransport_FailureCounts(t *testing.T) {
	dead := "http://" + closedAddr(t)
	m := newManager(t, []string{dead}, false)

	client := m.HTTPClient(time.Second)

	for range 2 {
		if _, err := client.Get("http://media.invalid/stream"); err == nil {
			t.Fatal("expected error through a dead proxy")
		}
	}

	if got := m.Available(); len(got) != 0 {
		t.Errorf("Available() = %v, want dead proxy in backoff", got)
	}

	if _, err := client.Get("http://media.invalid/stream"); !errors.Is(err, errs.ErrNoProxiesAvailable) {
		t.Errorf("Get() error = %v, want ErrNoProxiesAvailable", err)
	}
}
