package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa911/fastcaddy/internal/caddy/admintest"
)

func runCLI(t *testing.T, srv *admintest.Server, args ...string) (string, error) {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("CADDY_ADMIN_API", srv.URL)
	t.Setenv("CADDY_SETTLE_DELAY", "0s")
	t.Setenv("LOG_FILE", filepath.Join(home, "fastcaddy.log"))
	t.Setenv("LOG_LEVEL", "error")

	forceFlag, manifestForce = false, false
	adminFlag, serverFlag, levelFlag, manifestFile = "", "", "", ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestCLIRouteLifecycle(t *testing.T) {
	srv := admintest.New(t)

	out, err := runCLI(t, srv, "setup", "--local")
	require.NoError(t, err)
	assert.Contains(t, out, "Caddy is ready (server srv0)")

	out, err = runCLI(t, srv, "add-proxy", "api.test.com", "localhost:8080")
	require.NoError(t, err)
	assert.Contains(t, out, "api.test.com: applied")

	out, err = runCLI(t, srv, "add-proxy", "api.test.com", "localhost:9090")
	assert.ErrorIs(t, err, errFailures)
	assert.Contains(t, out, "api.test.com: exists")
	assert.Equal(t, []string{"localhost:8080"}, srv.Upstreams("api.test.com"))

	_, err = runCLI(t, srv, "add-proxy", "api.test.com", "localhost:9090", "--force")
	require.NoError(t, err)
	assert.Equal(t, []string{"localhost:9090"}, srv.Upstreams("api.test.com"))

	out, err = runCLI(t, srv, "check", "api.test.com", "web.test.com")
	require.NoError(t, err)
	assert.Contains(t, out, "api.test.com: present")
	assert.Contains(t, out, "web.test.com: absent")
	assert.Contains(t, out, "1 of 2 present")

	out, err = runCLI(t, srv, "del-proxy", "api.test.com", "web.test.com")
	require.NoError(t, err)
	assert.Contains(t, out, "2/2 succeeded, 0 failed")
	assert.Zero(t, srv.CountID("api.test.com"))
}

func TestCLIApplyManifest(t *testing.T) {
	srv := admintest.New(t)
	_, err := runCLI(t, srv, "setup", "--local")
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "routes.yaml")
	doc := "version: 1\nproxies:\n  - domain: a.test.com\n    target: localhost:1001\nwildcards:\n  - base: dev.local\n    subdomains:\n      - name: app\n        ports: ['8090']\n"
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	out, err := runCLI(t, srv, "apply", "-f", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Total: 3/3 succeeded, 0 failed")
	assert.Equal(t, []string{"localhost:8090"}, srv.Upstreams("app.dev.local"))
}

func TestCLIUnavailableFails(t *testing.T) {
	srv := admintest.New(t)
	srv.SetUnavailable(true)

	_, err := runCLI(t, srv, "check", "api.test.com")
	assert.ErrorIs(t, err, errFailures)

	_, err = runCLI(t, srv, "status")
	assert.Error(t, err)
}

func TestCLIVersion(t *testing.T) {
	srv := admintest.New(t)
	out, err := runCLI(t, srv, "version")
	require.NoError(t, err)
	assert.Contains(t, out, "fastcaddy version: dev")
	assert.Empty(t, srv.Requests())
}
