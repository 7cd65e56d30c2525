package resilience

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker/v2"

	"github.com/pm25forecast/pm25forecast/internal/telemetry"
)

// ClientConfig holds configuration for the fetch client of one source.
type ClientConfig struct {
	// Name identifies the source in logs, metrics and the registry.
	Name string

	// Timeout bounds each attempt. Default: 15 seconds
	Timeout time.Duration

	// MaxAttempts is the total number of attempts per fetch. Default: 3
	MaxAttempts int

	// BackoffUnit scales the wait before retry n: 2^(n-1) units plus up to
	// one unit of jitter. Default: 1 second
	BackoffUnit time.Duration

	// Politeness is the randomized pre-request delay. Zero disables it.
	Politeness Politeness

	// UserAgents is the identity pool. Default: DefaultUserAgents
	UserAgents []string

	// Proxies, when set, supplies a validated proxy per attempt.
	Proxies *ProxyPool

	// Tunnel is a fixed proxy used when Proxies yields none.
	Tunnel *url.URL

	// CircuitBreaker configures the source breaker.
	// If nil, uses DefaultCircuitBreakerConfig.
	CircuitBreaker *CircuitBreakerConfig

	// Registry, when set, records the outcome of every fetch.
	Registry *Registry

	Logger  zerolog.Logger
	Metrics *telemetry.PipelineMetrics
	Clock   clockwork.Clock
}

// DefaultClientConfig returns the production settings for a scraped source.
func DefaultClientConfig(name string) ClientConfig {
	cbConfig := DefaultCircuitBreakerConfig(name)
	return ClientConfig{
		Name:           name,
		Timeout:        15 * time.Second,
		MaxAttempts:    3,
		BackoffUnit:    time.Second,
		Politeness:     DefaultPoliteness(),
		UserAgents:     DefaultUserAgents,
		CircuitBreaker: &cbConfig,
	}
}

// Request describes one logical fetch. Params go into the query string for
// every method; Form, when set, is sent as a urlencoded body.
type Request struct {
	Method  string
	URL     string
	Params  url.Values
	Form    url.Values
	Referer string
}

func (r Request) method() string {
	if r.Method == "" {
		return http.MethodGet
	}
	return r.Method
}

func (r Request) target() (*url.URL, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return nil, err
	}
	if len(r.Params) > 0 {
		q := u.Query()
		for k, vs := range r.Params {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return u, nil
}

// Response is a fully read HTTP response.
type Response struct {
	URL        string
	StatusCode int
	Header     http.Header
	Body       []byte
	Attempts   int
}

// Fetcher is the fetch capability consumed by source clients.
type Fetcher interface {
	Fetch(ctx context.Context, req Request) (*Response, error)
}

// Client performs polite, retrying fetches against one source.
type Client struct {
	config         ClientConfig
	circuitBreaker *gobreaker.CircuitBreaker[*Response]
	clock          clockwork.Clock
	logger         zerolog.Logger

	mu         sync.Mutex
	httpClient *http.Client
	rebuilds   atomic.Int64
}

// NewClient creates a fetch client.
func NewClient(cfg ClientConfig) *Client {
	if cfg.Timeout == 0 {
		cfg.Timeout = 15 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffUnit == 0 {
		cfg.BackoffUnit = time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}

	cbConfig := DefaultCircuitBreakerConfig(cfg.Name)
	if cfg.CircuitBreaker != nil {
		cbConfig = *cfg.CircuitBreaker
	}

	c := &Client{
		config:         cfg,
		circuitBreaker: NewCircuitBreaker[*Response](cbConfig),
		clock:          cfg.Clock,
		logger:         cfg.Logger.With().Str("source", cfg.Name).Logger(),
	}
	c.httpClient = c.newHTTPClient()

	if cfg.Registry != nil {
		cfg.Registry.Register(cfg.Name, c)
	}
	return c
}

func (c *Client) newHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:               proxyFunc(c.config.Tunnel),
		MaxIdleConns:        10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &http.Client{Timeout: c.config.Timeout, Transport: transport}
}

func (c *Client) session() *http.Client {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.httpClient
}

// resetSession discards pooled connections and starts a fresh transport.
func (c *Client) resetSession() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.httpClient.CloseIdleConnections()
	c.httpClient = c.newHTTPClient()
	c.rebuilds.Add(1)
}

// SessionResets returns how many times the transport was rebuilt.
func (c *Client) SessionResets() int64 {
	return c.rebuilds.Load()
}

// Name returns the source name.
func (c *Client) Name() string {
	return c.config.Name
}

// Fetch waits the politeness delay, then performs up to MaxAttempts attempts.
// Transient failures are retried with exponential backoff; definitive HTTP
// errors and an open circuit end the fetch at once. Failures are returned as
// *FetchError.
func (c *Client) Fetch(ctx context.Context, req Request) (*Response, error) {
	target, err := req.target()
	if err != nil {
		return nil, &FetchError{Kind: OutcomeFatal, URL: req.URL, Err: err}
	}
	rawURL := target.String()

	if err := c.politeDelay(ctx, target.Hostname()); err != nil {
		return nil, &FetchError{Kind: OutcomeFatal, URL: rawURL, Err: err}
	}

	var (
		result     *Response
		attempts   int
		lastStatus int
	)

	operation := func() error {
		attempts++
		resp, err := c.attempt(ctx, req, target)
		outcome, reset := classify(resp, err)
		c.config.Metrics.RecordAttempt(ctx, c.config.Name, outcome.String())

		if resp != nil {
			lastStatus = resp.StatusCode
		}

		switch outcome {
		case OutcomeSuccess:
			resp.Attempts = attempts
			result = resp
			return nil
		case OutcomeFatal:
			if err == nil {
				err = &StatusError{StatusCode: resp.StatusCode}
			}
			if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
				err = ErrCircuitOpen
			}
			return backoff.Permanent(err)
		default:
			if reset {
				c.resetSession()
			}
			return err
		}
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(newAttemptBackOff(c.config.BackoffUnit), uint64(c.config.MaxAttempts-1)), //nolint:gosec // MaxAttempts is positive
		ctx,
	)
	notify := func(err error, wait time.Duration) {
		c.logger.Warn().
			Str("url", rawURL).
			Int("attempt", attempts).
			Int("max_attempts", c.config.MaxAttempts).
			Dur("retry_in", wait).
			Err(err).
			Msg("fetch attempt failed, retrying")
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		fetchErr := c.fetchError(rawURL, attempts, lastStatus, err)
		c.recordFailure(fetchErr)
		c.logger.Error().
			Str("url", rawURL).
			Int("attempts", attempts).
			Int("status", fetchErr.StatusCode).
			Str("outcome", fetchErr.Kind.String()).
			Err(err).
			Msg("fetch failed")
		return nil, fetchErr
	}

	c.recordSuccess()
	c.logger.Debug().
		Str("url", rawURL).
		Int("attempts", attempts).
		Int("status", result.StatusCode).
		Int("bytes", len(result.Body)).
		Msg("fetch succeeded")
	return result, nil
}

func (c *Client) fetchError(rawURL string, attempts, lastStatus int, err error) *FetchError {
	fe := &FetchError{URL: rawURL, Attempts: attempts, Err: err}

	var statusErr *StatusError
	switch {
	case errors.As(err, &statusErr) && !retryableStatus(statusErr.StatusCode):
		fe.Kind = OutcomeFatal
		fe.StatusCode = statusErr.StatusCode
	case errors.Is(err, ErrCircuitOpen), errors.Is(err, context.Canceled):
		fe.Kind = OutcomeFatal
	default:
		fe.Kind = OutcomeRetryable
		fe.StatusCode = lastStatus
		if attempts >= c.config.MaxAttempts {
			fe.Err = fmt.Errorf("%w: %w", ErrMaxRetriesExceeded, err)
		}
	}
	return fe
}

func (c *Client) attempt(ctx context.Context, req Request, target *url.URL) (*Response, error) {
	var proxy *url.URL
	if c.config.Proxies != nil && c.config.Proxies.Size() > 0 {
		proxy = c.config.Proxies.Pick(ctx)
	}

	//nolint:bodyclose // the body is drained and closed inside the guarded call
	return c.circuitBreaker.Execute(func() (*Response, error) {
		var body io.Reader = http.NoBody
		if req.Form != nil {
			body = strings.NewReader(req.Form.Encode())
		}

		httpReq, err := http.NewRequestWithContext(withProxy(ctx, proxy), req.method(), target.String(), body)
		if err != nil {
			return nil, err
		}
		httpReq.Header = browserHeaders(c.config.UserAgents, req, target)
		if req.Form != nil {
			httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded; charset=UTF-8")
		}

		r, err := c.session().Do(httpReq)
		if err != nil {
			return nil, err
		}
		defer r.Body.Close()

		data, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, err
		}

		resp := &Response{
			URL:        target.String(),
			StatusCode: r.StatusCode,
			Header:     r.Header,
			Body:       data,
		}
		if retryableStatus(r.StatusCode) {
			return resp, &StatusError{StatusCode: r.StatusCode}
		}
		return resp, nil
	})
}

func (c *Client) politeDelay(ctx context.Context, host string) error {
	d := c.config.Politeness.Delay(host, rand.Float64())
	if d <= 0 {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-c.clock.After(d):
		return nil
	}
}

func (c *Client) recordSuccess() {
	if c.config.Registry != nil {
		c.config.Registry.RecordSuccess(c.config.Name)
	}
}

func (c *Client) recordFailure(err error) {
	if c.config.Registry != nil {
		c.config.Registry.RecordFailure(c.config.Name, err)
	}
}

// CircuitBreakerState returns the current state of the circuit breaker.
func (c *Client) CircuitBreakerState() gobreaker.State {
	return c.circuitBreaker.State()
}

// CircuitBreakerCounts returns the current counts of the circuit breaker.
func (c *Client) CircuitBreakerCounts() gobreaker.Counts {
	return c.circuitBreaker.Counts()
}
