// Package api is the single point through which every HTTP call to the
// backend passes: it builds requests, attaches bearer auth, classifies
// outcomes into the closed error taxonomy, and decodes typed payloads.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"tailtrail/internal/models"
	"tailtrail/internal/observability"
)

// maxErrorBody bounds how much of a failure body is read for classification
// and logging.
const maxErrorBody = 64 << 10

// TokenSource supplies the current bearer token. An empty string means no
// session. The session store is the only writer; the client only reads.
type TokenSource interface {
	Token() string
}

// Options configures a Client.
type Options struct {
	BaseURL        string
	Tokens         TokenSource
	Online         func() bool // connectivity pre-flight; nil assumes online
	ExpiryMarker   string      // server marker in 401 bodies for expired tokens
	FilesField     string      // multipart field name for file parts
	RequestTimeout time.Duration
	UploadTimeout  time.Duration
	OnAuthExpired  func()            // invoked once per expiry-marked 401
	Transport      http.RoundTripper // injectable for tests
}

// Client executes API requests. All methods are safe for concurrent use.
type Client struct {
	base          *url.URL
	http          *http.Client
	uploads       *http.Client
	tokens        TokenSource
	online        func() bool
	expiryMarker  string
	filesField    string
	onAuthExpired func()
	log           *observability.HTTPLogger
}

// NewClient creates a Client from options. BaseURL and Tokens are required.
func NewClient(opts Options) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, errors.New("api: base URL is required")
	}
	base, err := url.Parse(opts.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("api: invalid base URL: %w", err)
	}
	if opts.Tokens == nil {
		return nil, errors.New("api: token source is required")
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 15 * time.Second
	}
	if opts.UploadTimeout <= 0 {
		opts.UploadTimeout = 60 * time.Second
	}
	if opts.ExpiryMarker == "" {
		opts.ExpiryMarker = "Token expired!"
	}
	if opts.FilesField == "" {
		opts.FilesField = "files"
	}
	online := opts.Online
	if online == nil {
		online = func() bool { return true }
	}

	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}

	return &Client{
		base:          base,
		http:          &http.Client{Timeout: opts.RequestTimeout, Transport: transport},
		uploads:       &http.Client{Timeout: opts.UploadTimeout, Transport: transport},
		tokens:        opts.Tokens,
		online:        online,
		expiryMarker:  opts.ExpiryMarker,
		filesField:    opts.FilesField,
		onAuthExpired: opts.OnAuthExpired,
		log:           observability.NewHTTPLogger(),
	}, nil
}

// Request describes one API call.
type Request struct {
	Method      string
	Path        string // relative endpoint, e.g. "/api/v1/posts/"
	Query       url.Values
	Body        any       // JSON-encoded when non-nil and Raw is nil
	Raw         io.Reader // pre-built body (multipart); overrides Body
	ContentType string    // required with Raw
	RequireAuth bool      // fail fast with Unauthorized when no token is held
	Upload      bool      // use the long upload timeout
}

// do executes the request and returns the 2xx response body, or a classified
// *models.APIError.
func (c *Client) do(ctx context.Context, req Request) ([]byte, error) {
	span, ctx := observability.NewSpan(ctx, "api."+req.Method+" "+req.Path)
	defer span.End()
	span.AddAttributes(
		attribute.String("http.method", req.Method),
		attribute.String("http.path", req.Path),
	)

	start := time.Now()
	body, err := c.execute(ctx, req)
	observability.APIRequestLatency.WithLabelValues(req.Method).Observe(time.Since(start).Seconds())
	if err != nil {
		span.SetError(err)
		observability.RecordRequest(req.Method, models.ErrorCode(err))
		return nil, err
	}
	observability.RecordRequest(req.Method, "ok")
	return body, nil
}

func (c *Client) execute(ctx context.Context, req Request) ([]byte, error) {
	// Pre-flight: never attempt a doomed request.
	if !c.online() {
		return nil, models.NewNoConnectivityError()
	}

	token := c.tokens.Token()
	if req.RequireAuth && token == "" {
		return nil, models.NewUnauthorizedError("no active session")
	}

	u := *c.base
	u.Path = strings.TrimSuffix(u.Path, "/") + req.Path
	if req.Query != nil {
		u.RawQuery = req.Query.Encode()
	}

	var bodyReader io.Reader
	contentType := req.ContentType
	switch {
	case req.Raw != nil:
		bodyReader = req.Raw
	case req.Body != nil:
		encoded, err := json.Marshal(req.Body)
		if err != nil {
			return nil, models.NewBadResponseError(0, fmt.Sprintf("encode request body: %v", err))
		}
		bodyReader = bytes.NewReader(encoded)
		contentType = "application/json"
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, u.String(), bodyReader)
	if err != nil {
		return nil, models.NewServerUnavailableError(err)
	}
	if contentType != "" {
		httpReq.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	client := c.http
	if req.Upload {
		client = c.uploads
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, c.classifyTransport(ctx, req, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, models.NewServerUnavailableError(err)
		}
		return data, nil
	}

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return nil, c.classifyStatus(ctx, req, resp.StatusCode, string(raw))
}

func (c *Client) classifyTransport(ctx context.Context, req Request, err error) error {
	var classified *models.APIError
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		classified = models.NewTimeoutError(err)
	case errors.As(err, &netErr) && netErr.Timeout():
		classified = models.NewTimeoutError(err)
	default:
		classified = models.NewServerUnavailableError(err)
	}
	c.log.LogTransportError(ctx, req.Method, req.Path, err)
	return classified
}

func (c *Client) classifyStatus(ctx context.Context, req Request, status int, body string) error {
	var classified *models.APIError
	switch {
	case status == http.StatusUnauthorized:
		// Token expiry is detected here, centrally, so every caller benefits
		// from the session teardown uniformly.
		if strings.Contains(body, c.expiryMarker) && c.onAuthExpired != nil {
			c.onAuthExpired()
		}
		classified = models.NewUnauthorizedError(body)
	case status == http.StatusForbidden:
		// Expected outcome for unauthenticated optional-auth views; not logged.
		return models.NewForbiddenError()
	case status == http.StatusNotFound:
		classified = models.NewNotFoundError(req.Path)
	case status >= 500:
		classified = models.NewServerErrorError(status)
	default:
		classified = models.NewBadResponseError(status, body)
	}
	c.log.LogFailure(ctx, req.Method, req.Path, status, body)
	return classified
}

// Call executes the request and decodes the 2xx response body into T. A body
// that fails to decode surfaces as a DecodeFailure, never silently.
func Call[T any](ctx context.Context, c *Client, req Request) (T, error) {
	var out T
	data, err := c.do(ctx, req)
	if err != nil {
		return out, err
	}
	if len(data) == 0 {
		// 204-style success with no body decodes to the zero value.
		return out, nil
	}
	if err := json.Unmarshal(data, &out); err != nil {
		return out, models.NewDecodeFailureError(err)
	}
	return out, nil
}

// Exec executes a request whose response body the caller does not need.
func (c *Client) Exec(ctx context.Context, req Request) error {
	_, err := c.do(ctx, req)
	return err
}
