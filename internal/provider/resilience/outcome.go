package resilience

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"syscall"

	"github.com/sony/gobreaker/v2"
)

// Predefined errors for fetch operations.
var (
	// ErrCircuitOpen is returned while the source's circuit breaker is open.
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrMaxRetriesExceeded marks a fetch that used up every attempt.
	ErrMaxRetriesExceeded = errors.New("max retries exceeded")
)

// Outcome classifies a single fetch attempt.
type Outcome int

const (
	// OutcomeSuccess is a 2xx/3xx response.
	OutcomeSuccess Outcome = iota

	// OutcomeRetryable is a transient failure: timeout, connection reset,
	// protocol error, or a throttling/5xx status.
	OutcomeRetryable

	// OutcomeFatal is a definitive HTTP error or an open circuit; never retried.
	OutcomeFatal
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRetryable:
		return "retryable"
	case OutcomeFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// FetchError is returned when a fetch does not produce a usable response.
type FetchError struct {
	Kind       Outcome
	URL        string
	Attempts   int
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetch %s: %s after %d attempt(s): status %d", e.URL, e.Kind, e.Attempts, e.StatusCode)
	}
	return fmt.Sprintf("fetch %s: %s after %d attempt(s): %v", e.URL, e.Kind, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// StatusError is an HTTP error status.
type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d %s", e.StatusCode, http.StatusText(e.StatusCode))
}

// retryableStatus lists statuses retried the way a transport retry policy would.
func retryableStatus(code int) bool {
	switch code {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout:
		return true
	}
	return false
}

// classify maps an attempt result to an outcome. resetSession is set when the
// underlying connection state is suspect and the transport must be rebuilt.
func classify(resp *Response, err error) (outcome Outcome, resetSession bool) {
	if err == nil {
		if resp != nil && resp.StatusCode >= http.StatusBadRequest {
			return OutcomeFatal, false
		}
		return OutcomeSuccess, false
	}

	var statusErr *StatusError
	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return OutcomeFatal, false
	case errors.Is(err, context.Canceled):
		return OutcomeFatal, false
	case errors.As(err, &statusErr):
		return OutcomeRetryable, false
	case isTimeout(err):
		return OutcomeRetryable, false
	case isConnectionBroken(err):
		return OutcomeRetryable, true
	default:
		return OutcomeRetryable, false
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func isConnectionBroken(err error) bool {
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNABORTED) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	var (
		opErr    *net.OpError
		tlsErr   tls.RecordHeaderError
		certErr  *tls.CertificateVerificationError
		protoErr *http.ProtocolError
	)
	return errors.As(err, &opErr) ||
		errors.As(err, &tlsErr) ||
		errors.As(err, &certErr) ||
		errors.As(err, &protoErr)
}
