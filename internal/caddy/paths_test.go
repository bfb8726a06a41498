package caddy

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa911/fastcaddy/internal/caddy/admintest"
)

func TestNormalizeAndCleanPath(t *testing.T) {
	tests := []struct {
		in         string
		normalized string
		cleaned    string
	}{
		{"/apps/http/servers", "/apps/http/servers", "apps/http/servers"},
		{"apps/http/servers/", "/apps/http/servers", "apps/http/servers"},
		{"apps/http/servers", "/apps/http/servers", "apps/http/servers"},
		{"/", "/", ""},
		{"", "/", ""},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.normalized, NormalizePath(tt.in))
			assert.Equal(t, tt.cleaned, CleanPath(tt.in))
		})
	}
}

func TestPathKeysRoundTrip(t *testing.T) {
	keys := PathToKeys("/apps/tls/automation/policies")
	assert.Equal(t, []string{"apps", "tls", "automation", "policies"}, keys)
	assert.Equal(t, "/apps/tls/automation/policies", KeysToPath(keys...))

	assert.Nil(t, PathToKeys("/"))
	assert.Equal(t, "/", KeysToPath())
}

func TestNestedSetDict(t *testing.T) {
	d := map[string]any{"keep": 1}
	NestedSetDict(d, "value", "a", "b", "c")

	a, ok := d["a"].(map[string]any)
	require.True(t, ok)
	b, ok := a["b"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "value", b["c"])
	assert.Equal(t, 1, d["keep"])

	// Non-map values on the way are replaced.
	NestedSetDict(d, true, "keep", "x")
	assert.Equal(t, map[string]any{"x": true}, d["keep"])

	NestedSetDict(d, "ignored")
	assert.Len(t, d, 2)
}

func TestInitPathOnEmptyConfig(t *testing.T) {
	srv := admintest.New(t)
	c := newTestClient(t, srv)
	ctx := context.Background()

	require.NoError(t, c.InitPath(ctx, "/apps/http/servers"))

	node, err := c.GetConfigMap(ctx, "/apps/http")
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"servers": map[string]any{}}, node)
}

func TestInitPathKeepsExistingSiblings(t *testing.T) {
	srv := admintest.New(t)
	srv.Seed(t, map[string]any{
		"apps": map[string]any{
			"http": map[string]any{"servers": map[string]any{"srv0": map[string]any{"routes": []any{}}}},
		},
	})
	c := newTestClient(t, srv)
	ctx := context.Background()

	require.NoError(t, c.InitPath(ctx, "/apps/tls/automation"))
	require.NoError(t, c.InitPath(ctx, "/apps/tls/automation"))

	cfg := srv.Config().(map[string]any)
	apps := cfg["apps"].(map[string]any)
	assert.Contains(t, apps, "http")
	assert.Equal(t, map[string]any{"automation": map[string]any{}}, apps["tls"])
}
