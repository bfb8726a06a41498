package caddy

import (
	"context"

	"github.com/osa911/fastcaddy/internal/logging"
)

// SetupOptions controls the one-time bootstrap of a Caddy instance.
type SetupOptions struct {
	// CloudflareToken enables the ACME DNS-01 challenge through Cloudflare.
	CloudflareToken string
	// ServerName overrides the client's server for this call.
	ServerName string
	// Local switches TLS to Caddy's internal issuer.
	Local bool
	// InstallTrust sets the local CA's install_trust flag when non-nil.
	InstallTrust *bool
}

// Setup prepares Caddy for route management: PKI trust, TLS automation and an
// HTTP server with an empty route list. Parts that already exist are left
// alone, so calling it twice is safe.
func (c *Client) Setup(ctx context.Context, opts SetupOptions) error {
	server := opts.ServerName
	if server == "" {
		server = c.server
	}

	if opts.InstallTrust != nil {
		if err := c.setupPKITrust(ctx, *opts.InstallTrust); err != nil {
			return logging.WrapError(err, "failed to configure PKI trust")
		}
	}

	var policy map[string]any
	if opts.Local {
		policy = internalTLSPolicy()
	} else {
		policy = acmeTLSPolicy(opts.CloudflareToken)
	}
	if err := c.ensureTLSPolicy(ctx, policy); err != nil {
		return logging.WrapError(err, "failed to configure TLS automation")
	}

	if err := c.initServer(ctx, server); err != nil {
		return logging.WrapError(err, "failed to initialize server "+server)
	}

	c.logger.Info("Caddy setup complete (server %s, local=%t)", server, opts.Local)
	return nil
}

func (c *Client) setupPKITrust(ctx context.Context, install bool) error {
	if err := c.InitPath(ctx, PathPKILocalCA); err != nil {
		return err
	}
	return c.PostConfig(ctx, PathPKILocalCA+"/install_trust", install)
}

func internalTLSPolicy() map[string]any {
	return map[string]any{
		"issuers": []any{
			map[string]any{"module": "internal"},
		},
	}
}

func acmeTLSPolicy(cloudflareToken string) map[string]any {
	issuer := map[string]any{"module": "acme"}
	if cloudflareToken != "" {
		issuer["challenges"] = map[string]any{
			"dns": map[string]any{
				"provider": map[string]any{
					"name":      "cloudflare",
					"api_token": cloudflareToken,
				},
			},
		}
	}
	return map[string]any{"issuers": []any{issuer}}
}

// ensureTLSPolicy installs policy unless automation policies already exist.
// An existing empty list gets the policy appended; a missing list is created
// holding it.
func (c *Client) ensureTLSPolicy(ctx context.Context, policy map[string]any) error {
	exists, err := c.HasPath(ctx, PathTLSPolicies)
	if err != nil {
		return err
	}
	if exists {
		c.logger.Debug("TLS automation policies already present, leaving them unchanged")
		return nil
	}

	present, err := c.nodeExists(ctx, PathTLSPolicies)
	if err != nil {
		return err
	}
	if present {
		return c.PostConfig(ctx, PathTLSPolicies, policy)
	}

	if err := c.InitPath(ctx, PathTLSAutomation); err != nil {
		return err
	}
	return c.PostConfig(ctx, PathTLSPolicies, []any{policy})
}

func (c *Client) initServer(ctx context.Context, server string) error {
	exists, err := c.nodeExists(ctx, ServerPath(server))
	if err != nil {
		return err
	}
	if exists {
		c.logger.Debug("Server %s already configured", server)
		return nil
	}
	if err := c.InitPath(ctx, PathHTTPServers); err != nil {
		return err
	}
	return c.PutConfig(ctx, ServerPath(server), map[string]any{
		"listen": []any{":80", ":443"},
		"routes": []any{},
	})
}

// StatusPaths are the config sections reported by Status.
var StatusPaths = []string{PathHTTPServers, PathTLSAutomation, PathPKI}

// Status reports which of StatusPaths hold configuration.
func (c *Client) Status(ctx context.Context) (map[string]bool, error) {
	out := make(map[string]bool, len(StatusPaths))
	for _, p := range StatusPaths {
		ok, err := c.HasPath(ctx, p)
		if err != nil {
			return nil, err
		}
		out[p] = ok
	}
	return out, nil
}
