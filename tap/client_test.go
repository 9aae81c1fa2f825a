package tap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClient_FetchPage(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "ManagementKey-v1 secret", r.Header.Get("Authorization"))
		assert.Equal(t, "/v1/applications", r.URL.Path)
		fmt.Fprint(w, `{"hasMore":false,"data":[]}`)
	}))
	defer server.Close()

	sc := NewSyncContext(Config{AuthToken: "secret", APIURL: server.URL, AccountID: 1}, false)
	params := url.Values{"skip": {"40"}, "pageSize": {"20"}}
	page, err := NewClient(sc).FetchPage(context.Background(), "applications", "/v1/applications", params)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, page.Status)
	assert.Equal(t, `{"hasMore":false,"data":[]}`, string(page.Body))
	require.NotNil(t, page.URL)
	assert.Equal(t, "40", page.URL.Query().Get("skip"))
	assert.Equal(t, "20", page.URL.Query().Get("pageSize"))
	assert.Equal(t, float64(1), testutil.ToFloat64(sc.Metrics.Requests.WithLabelValues("applications", "200")))
}

func TestClient_FetchPageSendsPathEscapedOnce(t *testing.T) {
	var escaped string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		escaped = r.URL.EscapedPath()
		fmt.Fprint(w, `{"hasMore":false,"data":[]}`)
	}))
	defer server.Close()

	c := NewStreamContext(map[string]any{"application_id": int64(7), "integration_id": "a b/c?d%"})
	path, err := FriendsStream.ResolvePath(c)
	require.NoError(t, err)

	sc := NewSyncContext(Config{AuthToken: "secret", APIURL: server.URL + "/", AccountID: 1}, false)
	page, err := NewClient(sc).FetchPage(context.Background(), "friends", path, url.Values{"skip": {"0"}})
	require.NoError(t, err)

	assert.Equal(t, "/v1/applications/7/profile/a%20b%2Fc%3Fd%25/friends", escaped)
	assert.Equal(t, "/v1/applications/7/profile/a b/c?d%/friends", page.URL.Path)
	assert.Equal(t, "0", page.URL.Query().Get("skip"))
}

func TestClient_FetchPageError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprint(w, `{"message":"invalid key","StatusCode":401}`)
	}))
	defer server.Close()

	sc := NewSyncContext(Config{AuthToken: "wrong", APIURL: server.URL, AccountID: 1, MaxRetries: 3}, false)
	_, err := NewClient(sc).FetchPage(context.Background(), "users", "/v1/users", url.Values{"skip": {"0"}})

	var transportErr *TransportError
	require.True(t, errors.As(err, &transportErr))
	assert.Equal(t, "users", transportErr.Stream)
	assert.Equal(t, http.MethodGet, transportErr.Method)
	assert.Equal(t, http.StatusUnauthorized, transportErr.Status)
	assert.Equal(t, "invalid key", transportErr.Body["message"])
	assert.Contains(t, transportErr.URL, "/v1/users?skip=0")
	assert.Equal(t, float64(0), testutil.ToFloat64(sc.Metrics.Retries.WithLabelValues("server_error")), "4xx is not retried")
}

func TestRetryTransport_RetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch calls.Add(1) {
		case 1:
			w.WriteHeader(http.StatusServiceUnavailable)
		case 2:
			w.Header().Set("Retry-After", "7")
			w.WriteHeader(http.StatusTooManyRequests)
		default:
			fmt.Fprint(w, `{}`)
		}
	}))
	defer server.Close()

	metrics := NewMetrics()
	var waits []time.Duration
	rt := newRetryTransport(http.DefaultTransport, 3, metrics)
	rt.sleep = func(ctx context.Context, d time.Duration) error {
		waits = append(waits, d)
		return nil
	}

	res, err := (&http.Client{Transport: rt}).Get(server.URL)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, []time.Duration{DefaultRetryBackoff, 7 * time.Second}, waits)
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Retries.WithLabelValues("server_error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.Retries.WithLabelValues("rate_limited")))
}

func TestRetryTransport_GivesUp(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	rt := newRetryTransport(http.DefaultTransport, 2, nil)
	rt.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	res, err := (&http.Client{Transport: rt}).Get(server.URL)
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusBadGateway, res.StatusCode)
	assert.Equal(t, int32(3), calls.Load(), "one attempt and two retries")
}

func TestRetryTransport_TimeoutIsPerAttempt(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			select {
			case <-r.Context().Done():
			case <-time.After(time.Second):
			}
			return
		}
		fmt.Fprint(w, `{"ok":true}`)
	}))
	defer server.Close()

	rt := newRetryTransport(http.DefaultTransport, 1, nil)
	rt.timeout = 50 * time.Millisecond
	var waited time.Duration
	rt.sleep = func(ctx context.Context, d time.Duration) error {
		// a wait longer than the attempt timeout must not fail the retry
		waited = d
		return sleepContext(ctx, 100*time.Millisecond)
	}

	res, err := (&http.Client{Transport: rt}).Get(server.URL)
	require.NoError(t, err)
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(body))
	assert.Equal(t, int32(2), calls.Load())
	assert.Equal(t, DefaultRetryBackoff, waited)
}

func TestRetryTransport_Delay(t *testing.T) {
	rt := newRetryTransport(http.DefaultTransport, 3, nil)
	assert.Equal(t, time.Second, rt.delay(0, nil))
	assert.Equal(t, 4*time.Second, rt.delay(2, nil))
	assert.Equal(t, MaxRetryBackoff, rt.delay(10, nil))

	res := &http.Response{Header: http.Header{"Retry-After": {"3600"}}}
	assert.Equal(t, MaxRetryBackoff, rt.delay(0, res))
}

func TestRateLimitTransport(t *testing.T) {
	assert.Equal(t, http.DefaultTransport, newRateLimitTransport(http.DefaultTransport, 0))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	defer server.Close()

	client := &http.Client{Transport: newRateLimitTransport(http.DefaultTransport, 0.001)}
	res, err := client.Get(server.URL)
	require.NoError(t, err)
	res.Body.Close()

	// the next token is far away, so a short deadline fails fast
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	_, err = client.Do(req)
	assert.Error(t, err)
}
