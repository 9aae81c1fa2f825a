package tap

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/time/rate"
	"go.uber.org/zap"

	"github.com/homemade/tap-talonone/logger"
)

// HTTPRequestTimeout bounds each attempt of a request to the Talon.One API,
// reading the body included. Retry waits do not count against it.
const HTTPRequestTimeout = 60 * time.Second

const (
	DefaultMaxRetries   = 3
	DefaultRetryBackoff = time.Second
	MaxRetryBackoff     = 30 * time.Second
)

// retryTransport retries requests that failed with a network error, 429 or
// a 5xx status. Retry-After is honoured when the server sends it.
type retryTransport struct {
	next       http.RoundTripper
	maxRetries int
	backoff    time.Duration
	timeout    time.Duration
	metrics    *Metrics
	// sleep waits for d or until ctx is done.
	sleep func(ctx context.Context, d time.Duration) error
}

func newRetryTransport(next http.RoundTripper, maxRetries int, metrics *Metrics) *retryTransport {
	return &retryTransport{
		next:       next,
		maxRetries: maxRetries,
		backoff:    DefaultRetryBackoff,
		timeout:    HTTPRequestTimeout,
		metrics:    metrics,
		sleep:      sleepContext,
	}
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	for attempt := 0; ; attempt++ {
		res, err := t.attempt(req)
		reason, retry := retryReason(req, res, err)
		if !retry || attempt >= t.maxRetries || req.Body != nil && req.GetBody == nil {
			return res, err
		}
		wait := t.delay(attempt, res)
		if res != nil {
			_, _ = io.Copy(io.Discard, res.Body)
			res.Body.Close()
		}
		t.metrics.observeRetry(reason)
		logger.Warn("retrying Talon.One request",
			zap.String("url", req.URL.Redacted()),
			zap.String("reason", reason),
			zap.Int("attempt", attempt+1),
			zap.Duration("wait", wait),
		)
		if err := t.sleep(req.Context(), wait); err != nil {
			return nil, err
		}
		if req.GetBody != nil {
			body, err := req.GetBody()
			if err != nil {
				return nil, err
			}
			req = req.Clone(req.Context())
			req.Body = body
		}
	}
}

// attempt sends req once under its own deadline. The deadline stays live
// until the response body is closed.
func (t *retryTransport) attempt(req *http.Request) (*http.Response, error) {
	if t.timeout <= 0 {
		return t.next.RoundTrip(req)
	}
	ctx, cancel := context.WithTimeout(req.Context(), t.timeout)
	res, err := t.next.RoundTrip(req.WithContext(ctx))
	if err != nil {
		cancel()
		return nil, err
	}
	res.Body = &cancelOnClose{ReadCloser: res.Body, cancel: cancel}
	return res, nil
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}

func (t *retryTransport) delay(attempt int, res *http.Response) time.Duration {
	if res != nil {
		if after := res.Header.Get("Retry-After"); after != "" {
			if seconds, err := strconv.Atoi(after); err == nil && seconds >= 0 {
				return min(time.Duration(seconds)*time.Second, MaxRetryBackoff)
			}
			if at, err := http.ParseTime(after); err == nil {
				return min(max(time.Until(at), 0), MaxRetryBackoff)
			}
		}
	}
	return min(t.backoff<<attempt, MaxRetryBackoff)
}

func retryReason(req *http.Request, res *http.Response, err error) (string, bool) {
	if err != nil {
		// a cancelled run must not be retried
		if req.Context().Err() != nil {
			return "", false
		}
		return "network", true
	}
	switch {
	case res.StatusCode == http.StatusTooManyRequests:
		return "rate_limited", true
	case res.StatusCode >= 500:
		return "server_error", true
	default:
		return "", false
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// rateLimitTransport holds every request until the limiter allows it.
type rateLimitTransport struct {
	next    http.RoundTripper
	limiter *rate.Limiter
}

func newRateLimitTransport(next http.RoundTripper, requestsPerSecond float64) http.RoundTripper {
	if requestsPerSecond <= 0 {
		return next
	}
	return &rateLimitTransport{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(requestsPerSecond), 1),
	}
}

func (t *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.next.RoundTrip(req)
}
