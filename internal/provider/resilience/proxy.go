package resilience

import (
	"context"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// ProxyPoolConfig configures proxy candidates and their validation.
type ProxyPoolConfig struct {
	// Candidates are proxy URLs such as "http://10.0.0.1:8080".
	Candidates []string

	// TestURL is fetched through a candidate to validate it.
	TestURL string

	// Timeout bounds each validation request. Default: 5 seconds
	Timeout time.Duration

	Logger zerolog.Logger
}

// ProxyPool hands out a working proxy per attempt, or none.
type ProxyPool struct {
	candidates []*url.URL
	testURL    string
	timeout    time.Duration
	logger     zerolog.Logger
}

// NewProxyPool parses the candidates. A candidate without a scheme is taken
// as http.
func NewProxyPool(cfg ProxyPoolConfig) (*ProxyPool, error) {
	if cfg.TestURL == "" {
		return nil, fmt.Errorf("proxy pool: test url is required")
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}

	pool := &ProxyPool{testURL: cfg.TestURL, timeout: cfg.Timeout, logger: cfg.Logger}
	for _, raw := range cfg.Candidates {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "://") {
			raw = "http://" + raw
		}
		u, err := url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("proxy pool: parse %q: %w", raw, err)
		}
		pool.candidates = append(pool.candidates, u)
	}
	return pool, nil
}

// Size returns the number of candidates.
func (p *ProxyPool) Size() int {
	return len(p.candidates)
}

// Pick tries the candidates in random order and returns the first that
// passes validation. When none does it logs the degradation and returns nil
// so the caller connects directly.
func (p *ProxyPool) Pick(ctx context.Context) *url.URL {
	order := rand.Perm(len(p.candidates))
	for _, i := range order {
		candidate := p.candidates[i]
		if err := p.validate(ctx, candidate); err != nil {
			p.logger.Debug().
				Str("proxy", candidate.Redacted()).
				Err(err).
				Msg("proxy rejected")
			continue
		}
		return candidate
	}

	p.logger.Error().
		Int("candidates", len(p.candidates)).
		Msg("no usable proxy, falling back to direct connection")
	return nil
}

func (p *ProxyPool) validate(ctx context.Context, proxy *url.URL) error {
	client := &http.Client{
		Timeout:   p.timeout,
		Transport: &http.Transport{Proxy: http.ProxyURL(proxy)},
	}
	defer client.CloseIdleConnections()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.testURL, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

// TunnelProxy builds a fixed authenticated proxy URL, as offered by tunnel
// proxy services. An empty host yields nil.
func TunnelProxy(host, username, password string) (*url.URL, error) {
	if host == "" {
		return nil, nil
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("tunnel proxy: %w", err)
	}
	if username != "" {
		u.User = url.UserPassword(username, password)
	}
	return u, nil
}

type proxyKey struct{}

// withProxy attaches the proxy chosen for one attempt to the request context.
func withProxy(ctx context.Context, proxy *url.URL) context.Context {
	if proxy == nil {
		return ctx
	}
	return context.WithValue(ctx, proxyKey{}, proxy)
}

// proxyFunc resolves the proxy for a request: the per-attempt choice first,
// then the fixed tunnel, otherwise direct.
func proxyFunc(tunnel *url.URL) func(*http.Request) (*url.URL, error) {
	return func(req *http.Request) (*url.URL, error) {
		if p, ok := req.Context().Value(proxyKey{}).(*url.URL); ok {
			return p, nil
		}
		return tunnel, nil
	}
}
