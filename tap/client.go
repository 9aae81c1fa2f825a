package tap

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/carlmjohnson/requests"
	"go.uber.org/zap"

	"github.com/homemade/tap-talonone/logger"
)

// AuthScheme prefixes the management API key in the Authorization header.
const AuthScheme = "ManagementKey-v1"

// APIError is the decoded body of a failed Talon.One API call.
type APIError map[string]interface{}

// Client fetches pages from the Talon.One management API.
// It embeds *SyncContext for shared run configuration.
type Client struct {
	*SyncContext
	transport http.RoundTripper
}

func NewClient(sc *SyncContext) *Client {
	var rt http.RoundTripper = http.DefaultTransport
	if sc.RecordRequests {
		rt = requests.Record(rt, sc.RecordingDir)
	}
	rt = newRetryTransport(rt, sc.Config.MaxRetries, sc.Metrics)
	rt = newRateLimitTransport(rt, sc.Config.RequestsPerSecond)
	return &Client{SyncContext: sc, transport: rt}
}

// APIBuilder returns a new requests.Builder configured for the Talon.One API.
func (c *Client) APIBuilder() *requests.Builder {
	return requests.
		URL(c.Config.APIURL).
		Transport(c.transport).
		Header("Authorization", fmt.Sprintf("%s %s", AuthScheme, c.Config.AuthToken)).
		Accept("application/json")
}

// FetchPage GETs path with params on behalf of stream. The returned page
// carries the URL the request was actually sent to.
func (c *Client) FetchPage(ctx context.Context, stream string, path string, params url.Values) (Page, error) {
	var page Page
	var body bytes.Buffer
	apiError := APIError{}

	// path is already escaped, so it replaces the base URL instead of
	// going through Builder.Path, which would escape it again
	builder := c.APIBuilder().BaseURL(c.endpoint(path))
	for key, values := range params {
		builder = builder.Param(key, values...)
	}

	started := time.Now()
	err := builder.
		AddValidator(func(res *http.Response) error {
			page.Status = res.StatusCode
			page.URL = res.Request.URL
			return nil
		}).
		ErrorJSON(&apiError).
		Handle(func(res *http.Response) error {
			_, err := io.Copy(&body, res.Body)
			return err
		}).
		Fetch(ctx)
	c.Metrics.observeRequest(stream, page.Status, err, time.Since(started))

	if err != nil {
		requestURL := c.requestURL(path, params)
		if page.URL != nil {
			requestURL = page.URL.Redacted()
		}
		logger.Error("Talon.One request failed",
			zap.String("stream", stream),
			zap.String("url", requestURL),
			zap.Int("status", page.Status),
			zap.Any("body", apiError),
		)
		return page, &TransportError{
			Stream: stream,
			Method: http.MethodGet,
			URL:    requestURL,
			Status: page.Status,
			Body:   apiError,
			Err:    err,
		}
	}
	page.Body = body.Bytes()
	logger.Debug("fetched page",
		zap.String("stream", stream),
		zap.String("url", page.URL.Redacted()),
		zap.Int("bytes", len(page.Body)),
	)
	return page, nil
}

// endpoint joins the API URL and an escaped path.
func (c *Client) endpoint(path string) string {
	return strings.TrimSuffix(c.Config.APIURL, "/") + path
}

func (c *Client) requestURL(path string, params url.Values) string {
	raw := c.endpoint(path)
	if len(params) > 0 {
		raw += "?" + params.Encode()
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return u.Redacted()
}
