package manifest

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa911/fastcaddy/internal/caddy"
	"github.com/osa911/fastcaddy/internal/caddy/admintest"
	"github.com/osa911/fastcaddy/internal/logging"
	"github.com/osa911/fastcaddy/internal/service"
)

const sample = `
version: 1
delete:
  - old.test.com
proxies:
  - domain: api.test.com
    target: localhost:8080
  - domain: web.test.com
    target: 10.0.0.5:3000
wildcards:
  - base: dev.local
    subdomains:
      - name: app
        ports: ["8090", " 8091"]
        host: localhost
`

func TestParse(t *testing.T) {
	m, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)

	assert.Equal(t, 1, m.Version)
	assert.False(t, m.Force)
	assert.Equal(t, service.FailIfExists, m.Mode())
	assert.Equal(t, []string{"old.test.com"}, m.Delete)
	assert.Equal(t, Proxy{Domain: "api.test.com", Target: "localhost:8080"}, m.Proxies[0])
	assert.Equal(t, []string{"8090", "8091"}, m.Wildcards[0].Subdomains[0].Ports)
	assert.Equal(t, []string{
		"api.test.com",
		"web.test.com",
		"wildcard-dev.local",
		"app.dev.local",
	}, m.RouteIDs())
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name    string
		doc     string
		wantMsg string
	}{
		{"empty", "", "empty document"},
		{"wrong version", "version: 2\n", "Version"},
		{"unknown key", "version: 1\nroutes: []\n", "routes"},
		{"bad target", "version: 1\nproxies:\n  - domain: api.test.com\n    target: localhost\n", "hostname_port"},
		{"bad domain", "version: 1\nproxies:\n  - domain: 'bad host'\n    target: localhost:80\n", "hostname_rfc1123"},
		{"dotted label", "version: 1\nwildcards:\n  - base: dev.local\n    subdomains:\n      - name: a.b\n        ports: ['80']\n", "subdomain_label"},
		{"no ports", "version: 1\nwildcards:\n  - base: dev.local\n    subdomains:\n      - name: app\n", "Ports"},
		{"port range", "version: 1\nwildcards:\n  - base: dev.local\n    subdomains:\n      - name: app\n        ports: ['70000']\n", "upstream_port"},
		{"duplicate", "version: 1\nproxies:\n  - domain: a.test.com\n    target: h:1\n  - domain: a.test.com\n    target: h:2\n", "more than once"},
		{"two documents", "version: 1\n---\nversion: 1\n", "multiple"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.doc))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalidManifest)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoad(t *testing.T) {
	path := filepath.Join(t.TempDir(), "routes.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 1\nforce: true\n"), 0o600))

	m, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, service.Replace, m.Mode())

	_, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestApply(t *testing.T) {
	srv := admintest.New(t)
	srv.Seed(t, map[string]any{
		"apps": map[string]any{"http": map[string]any{"servers": map[string]any{
			"srv0": map[string]any{"routes": []any{}},
		}}},
	})
	client, err := caddy.New(caddy.Options{AdminAddress: srv.URL, Timeout: 2 * time.Second, Logger: logging.Discard()})
	require.NoError(t, err)
	svc := service.NewRouteService(client, service.RouteServiceOptions{VerifyAttempts: 1})
	ctx := context.Background()

	require.NoError(t, client.AddReverseProxy(ctx, "old.test.com", "localhost:1"))
	srv.FailID("web.test.com")

	m, err := Parse(strings.NewReader(sample))
	require.NoError(t, err)
	report := Apply(ctx, svc, m)

	names := make([]string, len(report.Stages))
	for i, s := range report.Stages {
		names[i] = s.Name
	}
	assert.Equal(t, []string{"delete", "proxies", "wildcards", "subdomains"}, names)
	assert.Equal(t, 5, report.Total())
	assert.Equal(t, 1, report.Failed())
	assert.Equal(t, "4/5 succeeded, 1 failed", report.Summary())
	assert.False(t, report.Stages[1].Result.Results["web.test.com"])

	assert.Zero(t, srv.CountID("old.test.com"))
	assert.Equal(t, []string{"localhost:8090", "localhost:8091"}, srv.Upstreams("app.dev.local"))

	// Re-applying without force refuses the existing routes and changes nothing.
	srv.ClearFailures()
	again := Apply(ctx, svc, m)
	assert.Equal(t, 1, again.Stages[0].Result.Succeeded())
	assert.False(t, again.Stages[1].Result.Results["api.test.com"])
	assert.Equal(t, 1, srv.CountID("api.test.com"))
}
