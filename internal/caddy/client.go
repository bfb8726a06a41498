package caddy

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

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/osa911/fastcaddy/internal/logging"
	"github.com/osa911/fastcaddy/internal/version"
)

const tracerName = "github.com/osa911/fastcaddy/internal/caddy"

// Options configures a Client. Zero values fall back to defaults.
type Options struct {
	AdminAddress string        // http(s)://host:port or unix:///path/to/admin.sock
	ServerName   string        // HTTP server that owns the routes
	Timeout      time.Duration // bound on every admin request, including rate limiting
	RateLimit    float64       // requests per second, 0 disables limiting
	RateBurst    int
	HTTPClient   *http.Client
	Logger       *logging.Logger
}

// Client talks to the Caddy admin API. It keeps no copy of the config: every
// call reflects the store at call time.
type Client struct {
	baseURL string
	server  string
	http    *http.Client
	timeout time.Duration
	limiter *rate.Limiter
	logger  *logging.Logger
	tracer  trace.Tracer
}

// New builds a ready-to-use client. It does not contact Caddy; use
// ValidateConnection or Setup for that.
func New(opts Options) (*Client, error) {
	addr := strings.TrimSpace(opts.AdminAddress)
	if addr == "" {
		addr = DefaultAdminAddress
	}

	httpClient := opts.HTTPClient
	baseURL := strings.TrimRight(addr, "/")

	if strings.HasPrefix(addr, unixScheme) {
		socket := strings.TrimPrefix(addr, unixScheme)
		if socket == "" {
			return nil, fmt.Errorf("empty unix socket path in %q", addr)
		}
		if httpClient == nil {
			httpClient = &http.Client{Transport: unixTransport(socket)}
		}
		baseURL = "http://localhost"
	} else {
		u, err := url.Parse(addr)
		if err != nil || u.Host == "" {
			return nil, fmt.Errorf("invalid admin address %q", addr)
		}
		if u.Scheme != "http" && u.Scheme != "https" {
			return nil, fmt.Errorf("unsupported admin address scheme %q", u.Scheme)
		}
	}
	if httpClient == nil {
		httpClient = &http.Client{}
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	server := opts.ServerName
	if server == "" {
		server = DefaultServerName
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RateLimit > 0 {
		burst := opts.RateBurst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(opts.RateLimit), burst)
	}

	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Client{
		baseURL: baseURL,
		server:  server,
		http:    httpClient,
		timeout: timeout,
		limiter: limiter,
		logger:  logger,
		tracer:  otel.Tracer(tracerName),
	}, nil
}

func unixTransport(socket string) *http.Transport {
	dialer := &net.Dialer{Timeout: 5 * time.Second}
	return &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			return dialer.DialContext(ctx, "unix", socket)
		},
	}
}

// ServerName is the HTTP server routes are added to.
func (c *Client) ServerName() string { return c.server }

// ValidateConnection checks that the admin API answers.
func (c *Client) ValidateConnection(ctx context.Context) error {
	if _, err := c.do(ctx, "ping", http.MethodGet, "/config/", nil); err != nil {
		return err
	}
	c.logger.Debug("Successfully connected to Caddy admin API at %s", c.baseURL)
	return nil
}

// GetConfig returns the node at path, or ErrNotFound when it is null or the
// path cannot be traversed.
func (c *Client) GetConfig(ctx context.Context, path string) (any, error) {
	return c.getNode(ctx, "get", configPath(path))
}

// GetConfigMap is GetConfig for object nodes.
func (c *Client) GetConfigMap(ctx context.Context, path string) (map[string]any, error) {
	node, err := c.GetConfig(ctx, path)
	if err != nil {
		return nil, err
	}
	m, ok := node.(map[string]any)
	if !ok {
		return nil, &StoreError{Op: "get", Path: configPath(path), Err: ErrRejected, Msg: fmt.Sprintf("node is %T, not an object", node)}
	}
	return m, nil
}

// HasPath is true iff path resolves to a non-empty node.
func (c *Client) HasPath(ctx context.Context, path string) (bool, error) {
	node, err := c.GetConfig(ctx, path)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return !isEmpty(node), nil
}

// GetByID returns the object tagged with @id.
func (c *Client) GetByID(ctx context.Context, id string) (any, error) {
	return c.getNode(ctx, "get", idPath(id, ""))
}

// HasID is true iff an object tagged with @id currently exists.
func (c *Client) HasID(ctx context.Context, id string) (bool, error) {
	_, err := c.GetByID(ctx, id)
	if IsNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// PutConfig creates a new key or inserts into an array at path.
func (c *Client) PutConfig(ctx context.Context, path string, value any) error {
	_, err := c.do(ctx, "put", http.MethodPut, configPath(path), value)
	return err
}

// PostConfig sets a key, or appends when path is an array.
func (c *Client) PostConfig(ctx context.Context, path string, value any) error {
	_, err := c.do(ctx, "post", http.MethodPost, configPath(path), value)
	return err
}

// PatchConfig replaces an existing value.
func (c *Client) PatchConfig(ctx context.Context, path string, value any) error {
	_, err := c.do(ctx, "patch", http.MethodPatch, configPath(path), value)
	return err
}

// DeleteConfig removes the value at path.
func (c *Client) DeleteConfig(ctx context.Context, path string) error {
	_, err := c.do(ctx, "delete", http.MethodDelete, configPath(path), nil)
	return err
}

// PostByID posts value below the object tagged with id.
func (c *Client) PostByID(ctx context.Context, id, subPath string, value any) error {
	_, err := c.do(ctx, "post", http.MethodPost, idPath(id, subPath), value)
	return err
}

// DeleteByID removes the object tagged with id.
func (c *Client) DeleteByID(ctx context.Context, id string) error {
	_, err := c.do(ctx, "delete", http.MethodDelete, idPath(id, ""), nil)
	return err
}

// Load replaces the whole running config.
func (c *Client) Load(ctx context.Context, cfg any) error {
	_, err := c.do(ctx, "load", http.MethodPost, "/load", cfg)
	return err
}

func (c *Client) getNode(ctx context.Context, op, path string) (any, error) {
	body, err := c.do(ctx, op, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}

	var node any
	if len(bytes.TrimSpace(body)) > 0 {
		if err := json.Unmarshal(body, &node); err != nil {
			return nil, &StoreError{Op: op, Path: path, Err: ErrRejected, Msg: "malformed JSON response", Cause: err}
		}
	}
	if node == nil {
		return nil, &StoreError{Op: op, Path: path, Status: http.StatusOK, Err: ErrNotFound, Msg: "null"}
	}
	return node, nil
}

// do performs one admin request bounded by the client timeout. Responses
// above 299 are turned into *StoreError values.
func (c *Client) do(ctx context.Context, op, method, path string, payload any) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	requestID := uuid.NewString()
	ctx, span := c.tracer.Start(ctx, "caddy.admin "+op, trace.WithAttributes(
		attribute.String("http.method", method),
		attribute.String("caddy.path", path),
		attribute.String("request.id", requestID),
	))
	defer span.End()

	fail := func(err *StoreError) ([]byte, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Err.Error())
		return nil, err
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return fail(&StoreError{Op: op, Path: path, Err: ErrStoreUnavailable, Msg: "rate limiter", Cause: err})
	}

	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal %s payload: %w", op, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("X-Request-ID", requestID)
	req.Header.Set("User-Agent", version.UserAgent())
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.LogAdminRequest(requestID, method, path, 0, time.Since(start))
		return fail(&StoreError{Op: op, Path: path, Err: ErrStoreUnavailable, Msg: transportMessage(err), Cause: err})
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	c.logger.LogAdminRequest(requestID, method, path, resp.StatusCode, time.Since(start))
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))
	if err != nil {
		return fail(&StoreError{Op: op, Path: path, Status: resp.StatusCode, Err: ErrStoreUnavailable, Msg: "failed to read response", Cause: err})
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg := errorMessage(data)
		return fail(&StoreError{Op: op, Path: path, Status: resp.StatusCode, Err: classify(resp.StatusCode, msg), Msg: msg})
	}
	return data, nil
}

func transportMessage(err error) string {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return "request timed out"
	case errors.Is(err, context.Canceled):
		return "request cancelled"
	default:
		return err.Error()
	}
}

// errorMessage extracts Caddy's {"error": "..."} body, falling back to the
// raw text.
func errorMessage(body []byte) string {
	var apiErr struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil && apiErr.Error != "" {
		return apiErr.Error
	}
	return strings.TrimSpace(string(body))
}

func configPath(path string) string {
	clean := CleanPath(path)
	if clean == "" {
		return "/config/"
	}
	return "/config/" + clean
}

func idPath(id, subPath string) string {
	p := "/id/" + url.PathEscape(id)
	if sub := CleanPath(subPath); sub != "" {
		p += "/" + sub
	}
	return p
}

func isEmpty(node any) bool {
	switch v := node.(type) {
	case nil:
		return true
	case map[string]any:
		return len(v) == 0
	case []any:
		return len(v) == 0
	case string:
		return v == ""
	case bool:
		return !v
	case float64:
		return v == 0
	default:
		return false
	}
}
