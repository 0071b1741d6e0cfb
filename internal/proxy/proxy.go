// Package proxy handles proxy management including selection, health checking and failure backoff.
package proxy

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"audiofetch/internal/config"
	"audiofetch/internal/errs"
	"audiofetch/internal/observability"
)

const (
	defaultSOCKSPort = "1080"
	defaultHTTPPort  = "8080"

	maxBackoff = time.Hour
)

type proxyInfo struct {
	url          *url.URL
	failures     int
	backoffUntil time.Time
}

// Manager handles proxy selection and health checking.
type Manager struct {
	log     *slog.Logger
	metrics *observability.Metrics

	healthCheck    bool
	healthTimeout  time.Duration
	maxFailures    int
	failureBackoff time.Duration

	mu      sync.Mutex
	proxies map[string]*proxyInfo
	order   []string // insertion order for stable iteration
}

// New creates a new proxy manager from the parsed proxy list.
func New(log *slog.Logger, cfg config.Proxy, metrics *observability.Metrics) (*Manager, error) {
	m := &Manager{
		log:            log.With(slog.String("package", "proxy")),
		metrics:        metrics,
		healthCheck:    cfg.HealthCheck,
		healthTimeout:  cfg.HealthTimeout,
		maxFailures:    max(cfg.MaxFailures, 1),
		failureBackoff: cfg.FailureBackoff,
		proxies:        make(map[string]*proxyInfo, len(cfg.Proxies)),
		order:          make([]string, 0, len(cfg.Proxies)),
	}

	for _, raw := range cfg.Proxies {
		u, err := parse(raw)
		if err != nil {
			return nil, err
		}

		if _, ok := m.proxies[raw]; ok {
			continue
		}

		m.proxies[raw] = &proxyInfo{url: u}
		m.order = append(m.order, raw)
	}

	m.metrics.SetProxiesAvailable(len(m.order))

	return m, nil
}

func parse(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid proxy URL %q: %w", raw, err)
	}

	switch u.Scheme {
	case "http", "https", "socks5", "socks5h":
	default:
		return nil, fmt.Errorf("invalid proxy URL %q: unsupported scheme %q", raw, u.Scheme)
	}

	if u.Hostname() == "" {
		return nil, fmt.Errorf("invalid proxy URL %q: missing host", raw)
	}

	return u, nil
}

// redact hides credentials so proxy URLs can be logged and used as labels.
func redact(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid"
	}

	return u.Redacted()
}

// Count returns the number of configured proxies.
func (m *Manager) Count() int {
	return len(m.order)
}

// Available returns the proxies not in backoff, in configuration order.
func (m *Manager) Available() []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.available(time.Now())
}

func (m *Manager) available(now time.Time) []string {
	available := make([]string, 0, len(m.order))

	for _, raw := range m.order {
		if now.After(m.proxies[raw].backoffUntil) {
			available = append(available, raw)
		}
	}

	return available
}

// GetProxy returns a random usable proxy URL, or an empty string if no proxies are configured.
// With health checking enabled every candidate is dialed once before being handed out.
func (m *Manager) GetProxy(ctx context.Context) (string, error) {
	if len(m.order) == 0 {
		return "", nil
	}

	candidates := m.Available()
	rand.Shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	for _, raw := range candidates {
		if !m.healthCheck {
			return raw, nil
		}

		if err := m.checkHealth(ctx, raw); err != nil {
			m.log.DebugContext(ctx, "proxy health check failed", slog.String("proxy", redact(raw)), slog.Any("error", err))
			m.MarkFailed(raw)

			continue
		}

		return raw, nil
	}

	return "", errs.ErrNoProxiesAvailable
}

// MarkFailed records a failure and puts the proxy into exponential backoff
// once it reaches the failure threshold.
func (m *Manager) MarkFailed(raw string) {
	m.metrics.RecordProxyFailure(redact(raw))

	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.proxies[raw]
	if !ok {
		return
	}

	info.failures++

	if info.failures < m.maxFailures {
		return
	}

	backoff := min(m.failureBackoff*time.Duration(1<<min(info.failures-m.maxFailures, 16)), maxBackoff)
	info.backoffUntil = time.Now().Add(backoff)

	m.metrics.SetProxiesAvailable(len(m.available(time.Now())))

	m.log.Warn("proxy marked as failed",
		slog.String("proxy", redact(raw)),
		slog.Int("failure_count", info.failures),
		slog.Duration("backoff", backoff))
}

// MarkSuccess resets the failure count of a proxy.
func (m *Manager) MarkSuccess(raw string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	info, ok := m.proxies[raw]
	if !ok {
		return
	}

	info.failures = 0
	info.backoffUntil = time.Time{}
}

// checkHealth dials the proxy host.
func (m *Manager) checkHealth(ctx context.Context, raw string) error {
	m.mu.Lock()
	u := m.proxies[raw].url
	m.mu.Unlock()

	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "socks5", "socks5h":
			port = defaultSOCKSPort
		default:
			port = defaultHTTPPort
		}
	}

	checkCtx, cancel := context.WithTimeout(ctx, m.healthTimeout)
	defer cancel()

	dialer := &net.Dialer{}

	conn, err := dialer.DialContext(checkCtx, "tcp", net.JoinHostPort(u.Hostname(), port))
	if err != nil {
		return fmt.Errorf("dial proxy: %w", err)
	}

	return conn.Close()
}

type proxyKey struct{}

// Transport wraps base so every request goes through a proxy picked by the manager.
// Failed round trips count against the proxy that carried them.
func (m *Manager) Transport(base *http.Transport) http.RoundTripper {
	if base == nil {
		base = http.DefaultTransport.(*http.Transport).Clone()
	}

	base.Proxy = func(req *http.Request) (*url.URL, error) {
		raw, _ := req.Context().Value(proxyKey{}).(string)
		if raw == "" {
			return nil, nil //nolint:nilnil // direct connection
		}

		m.mu.Lock()
		defer m.mu.Unlock()

		return m.proxies[raw].url, nil
	}

	return &roundTripper{m: m, base: base}
}

// HTTPClient returns a client using Transport, or a plain client when no proxies are configured.
func (m *Manager) HTTPClient(timeout time.Duration) *http.Client {
	if m.Count() == 0 {
		return &http.Client{Timeout: timeout}
	}

	return &http.Client{Timeout: timeout, Transport: m.Transport(nil)}
}

type roundTripper struct {
	m    *Manager
	base http.RoundTripper
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	raw, err := rt.m.GetProxy(req.Context())
	if err != nil {
		return nil, fmt.Errorf("pick proxy: %w", err)
	}

	if raw == "" {
		return rt.base.RoundTrip(req)
	}

	rt.m.metrics.RecordProxyRequest(redact(raw))

	resp, err := rt.base.RoundTrip(req.WithContext(context.WithValue(req.Context(), proxyKey{}, raw)))
	if err != nil {
		rt.m.MarkFailed(raw)

		return nil, err
	}

	rt.m.MarkSuccess(raw)

	return resp, nil
}
