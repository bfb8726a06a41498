package caddy

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa911/fastcaddy/internal/caddy/admintest"
	"github.com/osa911/fastcaddy/internal/logging"
)

func newTestClient(t *testing.T, srv *admintest.Server) *Client {
	t.Helper()
	c, err := New(Options{
		AdminAddress: srv.URL,
		Timeout:      2 * time.Second,
		Logger:       logging.Discard(),
	})
	require.NoError(t, err)
	return c
}

func seedServer(t *testing.T, srv *admintest.Server, routes ...any) {
	t.Helper()
	if routes == nil {
		routes = []any{}
	}
	srv.Seed(t, map[string]any{
		"apps": map[string]any{
			"http": map[string]any{
				"servers": map[string]any{
					"srv0": map[string]any{
						"listen": []any{":80", ":443"},
						"routes": routes,
					},
				},
			},
		},
	})
}

func TestNewRejectsBadAddresses(t *testing.T) {
	tests := []string{"ftp://localhost:2019", "not a url", "unix://"}
	for _, addr := range tests {
		t.Run(addr, func(t *testing.T) {
			_, err := New(Options{AdminAddress: addr})
			assert.Error(t, err)
		})
	}
}

func TestNewDefaults(t *testing.T) {
	c, err := New(Options{})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:2019", c.baseURL)
	assert.Equal(t, DefaultServerName, c.ServerName())

	c, err = New(Options{AdminAddress: "unix:///run/caddy/admin.sock"})
	require.NoError(t, err)
	assert.Equal(t, "http://localhost", c.baseURL)
}

func TestHasPath(t *testing.T) {
	srv := admintest.New(t)
	seedServer(t, srv)
	c := newTestClient(t, srv)
	ctx := context.Background()

	tests := []struct {
		path string
		want bool
	}{
		{"/apps/http/servers", true},
		{"/apps/http/servers/srv0/listen", true},
		{"/apps/http/servers/srv0/routes", false}, // empty list
		{"/apps/tls/automation", false},           // cannot traverse
		{"/apps/http/missing", false},             // null
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			got, err := c.HasPath(ctx, tt.path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestGetConfigNotFound(t *testing.T) {
	srv := admintest.New(t)
	c := newTestClient(t, srv)

	_, err := c.GetConfig(context.Background(), "/apps/http")
	require.Error(t, err)
	assert.True(t, IsNotFound(err))
	assert.False(t, IsUnavailable(err))

	var se *StoreError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "/config/apps/http", se.Path)
}

func TestHasIDReflectsStore(t *testing.T) {
	srv := admintest.New(t)
	seedServer(t, srv, reverseProxyRoute("api.test.com", "api.test.com", []string{"localhost:8080"}))
	c := newTestClient(t, srv)
	ctx := context.Background()

	ok, err := c.HasID(ctx, "api.test.com")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = c.HasID(ctx, "ghost.test.com")
	require.NoError(t, err)
	assert.False(t, ok)

	// No caching: a change behind the client's back is visible immediately.
	seedServer(t, srv)
	ok, err = c.HasID(ctx, "api.test.com")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestUnavailableIsNeverAbsence(t *testing.T) {
	srv := admintest.New(t)
	seedServer(t, srv)
	srv.SetUnavailable(true)
	c := newTestClient(t, srv)
	ctx := context.Background()

	_, err := c.HasID(ctx, "api.test.com")
	assert.True(t, IsUnavailable(err))

	_, err = c.HasPath(ctx, PathHTTPServers)
	assert.True(t, IsUnavailable(err))
}

func TestTransportFailureIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c, err := New(Options{AdminAddress: addr, Timeout: time.Second})
	require.NoError(t, err)

	_, err = c.HasID(context.Background(), "api.test.com")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
}

func TestTimeoutIsUnavailable(t *testing.T) {
	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-block:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(block)

	c, err := New(Options{AdminAddress: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)

	_, err = c.HasID(context.Background(), "slow.test.com")
	require.Error(t, err)
	assert.True(t, IsUnavailable(err))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestRequestIDHeader(t *testing.T) {
	var got, agent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Get("X-Request-ID")
		agent = r.Header.Get("User-Agent")
		w.Write([]byte(`{"apps":{}}`))
	}))
	defer srv.Close()

	c, err := New(Options{AdminAddress: srv.URL})
	require.NoError(t, err)
	require.NoError(t, c.ValidateConnection(context.Background()))
	assert.Len(t, got, 36)
	assert.True(t, strings.HasPrefix(agent, "fastcaddy/"))
}

func TestClassify(t *testing.T) {
	tests := []struct {
		status int
		msg    string
		want   error
	}{
		{404, "unknown object ID 'x'", ErrNotFound},
		{400, "invalid traversal path at: config/apps/tls", ErrNotFound},
		{400, "[/config/apps] key does not exist: x", ErrNotFound},
		{400, "loading new config: duplicate ID 'api.test.com' found", ErrConflict},
		{400, "[/config/apps] key already exists: http", ErrConflict},
		{409, "", ErrConflict},
		{429, "", ErrStoreUnavailable},
		{500, "boom", ErrStoreUnavailable},
		{502, "", ErrStoreUnavailable},
		{400, "decoding request body: unexpected EOF", ErrRejected},
		{403, "host not allowed", ErrRejected},
	}

	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.status, tt.msg))
		})
	}
}

func TestStoreErrorMessage(t *testing.T) {
	err := &StoreError{Op: "delete", Path: "/id/x", Status: 404, Err: ErrNotFound, Msg: "unknown object ID 'x'"}
	assert.Equal(t, "delete /id/x: not found (status 404): unknown object ID 'x'", err.Error())
	assert.ErrorIs(t, err, ErrNotFound)

	cause := context.DeadlineExceeded
	err = &StoreError{Op: "get", Err: ErrStoreUnavailable, Cause: cause}
	assert.ErrorIs(t, err, ErrStoreUnavailable)
	assert.ErrorIs(t, err, cause)
}

func TestPostArrayIntoArrayIsRejected(t *testing.T) {
	srv := admintest.New(t)
	seedServer(t, srv)
	c := newTestClient(t, srv)

	err := c.PostConfig(context.Background(), RoutesPath("srv0"), []any{map[string]any{"@id": "x"}})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRejected)

	routes, err := c.GetConfig(context.Background(), RoutesPath("srv0"))
	require.NoError(t, err)
	assert.Empty(t, routes)
}
