package caddy

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/osa911/fastcaddy/internal/utils"
)

// Kind is the shape of a route.
type Kind string

const (
	KindPlain     Kind = "plain"     // host-matched reverse proxy
	KindWildcard  Kind = "wildcard"  // *.base catch-all holding a subroute
	KindSubdomain Kind = "subdomain" // sub.base reverse proxy, usually nested in a wildcard
)

const wildcardPrefix = "wildcard-"

// Route is a route entry as this package writes and reads it.
type Route struct {
	ID        string
	Kind      Kind
	Host      string
	Upstreams []string
	// Path is the route list the route was appended to. It is empty when the
	// route was read back by id, since Caddy does not report locations.
	Path string
}

// PlainRouteID is the id of the reverse proxy route for domain.
func PlainRouteID(domain string) string { return domain }

// WildcardRouteID is the id of the catch-all route for base.
func WildcardRouteID(base string) string { return wildcardPrefix + base }

// SubdomainRouteID is the id of the route for sub under base.
func SubdomainRouteID(base, sub string) string { return sub + "." + base }

// reverseProxyRoute renders the JSON object Caddy expects for a host-matched
// reverse proxy.
func reverseProxyRoute(id, host string, upstreams []string) map[string]any {
	ups := make([]any, 0, len(upstreams))
	for _, u := range upstreams {
		ups = append(ups, map[string]any{"dial": u})
	}
	return map[string]any{
		"@id": id,
		"match": []any{
			map[string]any{"host": []any{host}},
		},
		"handle": []any{
			map[string]any{
				"handler":   "reverse_proxy",
				"upstreams": ups,
			},
		},
		"terminal": true,
	}
}

func wildcardRoute(base string) map[string]any {
	return map[string]any{
		"@id": WildcardRouteID(base),
		"match": []any{
			map[string]any{"host": []any{"*." + base}},
		},
		"handle": []any{
			map[string]any{
				"handler": "subroute",
				"routes":  []any{},
			},
		},
		"terminal": true,
	}
}

// warnIfNotPublic flags hosts such as IPs and single labels that an ACME
// issuer cannot get a certificate for. The route is still added.
func (c *Client) warnIfNotPublic(host string) {
	if !utils.IsValidDomain(host) {
		c.logger.Warn("%s is not a public domain name, ACME issuers cannot get a certificate for it", host)
	}
}

func invalid(op, format string, args ...any) error {
	return &StoreError{Op: op, Err: ErrInvalidRoute, Msg: fmt.Sprintf(format, args...)}
}

// AddReverseProxy appends a reverse proxy route for domain to the server's
// route list. It does not check for an existing route; Caddy rejects a
// duplicate @id with ErrConflict.
func (c *Client) AddReverseProxy(ctx context.Context, domain, target string) error {
	if !utils.ValidateHost(domain) {
		return invalid("add", "invalid host %q", domain)
	}
	if !utils.ValidateTarget(target) {
		return invalid("add", "invalid target %q", target)
	}

	c.warnIfNotPublic(domain)

	route := reverseProxyRoute(PlainRouteID(domain), domain, []string{target})
	if err := c.PostConfig(ctx, RoutesPath(c.server), route); err != nil {
		return err
	}
	c.logger.Info("Added reverse proxy %s -> %s", domain, target)
	return nil
}

// AddWildcardRoute appends a *.base route whose subroute receives the
// subdomain routes added later.
func (c *Client) AddWildcardRoute(ctx context.Context, base string) error {
	if !utils.ValidateHost(base) {
		return invalid("add", "invalid base domain %q", base)
	}

	c.warnIfNotPublic(base)

	if err := c.PostConfig(ctx, RoutesPath(c.server), wildcardRoute(base)); err != nil {
		return err
	}
	c.logger.Info("Added wildcard route *.%s", base)
	return nil
}

// AddSubReverseProxy adds a route for sub.base dialing host:port for every
// port. The route is nested in the wildcard for base when that exists and
// appended to the server otherwise; ordering is left to the caller.
func (c *Client) AddSubReverseProxy(ctx context.Context, base, sub string, ports []string, host string) error {
	if !utils.ValidateHost(base) {
		return invalid("add", "invalid base domain %q", base)
	}
	if !utils.ValidateSubdomainLabel(sub) {
		return invalid("add", "invalid subdomain %q", sub)
	}
	if len(ports) == 0 {
		return invalid("add", "no ports given for %s.%s", sub, base)
	}
	if host == "" {
		host = "localhost"
	}

	upstreams := make([]string, 0, len(ports))
	for _, p := range ports {
		p = strings.TrimSpace(p)
		if !utils.ValidatePort(p) {
			return invalid("add", "invalid port %q", p)
		}
		upstreams = append(upstreams, net.JoinHostPort(host, p))
	}

	id := SubdomainRouteID(base, sub)
	route := reverseProxyRoute(id, id, upstreams)

	err := c.PostByID(ctx, WildcardRouteID(base), "handle/0/routes", route)
	if IsNotFound(err) {
		c.logger.Warn("No wildcard route for %s, adding %s at server level", base, id)
		err = c.PostConfig(ctx, RoutesPath(c.server), route)
	}
	if err != nil {
		return err
	}
	c.logger.Info("Added subdomain proxy %s -> %s", id, strings.Join(upstreams, ", "))
	return nil
}

// AddSubdomainRoute is AddSubReverseProxy for a single localhost port.
func (c *Client) AddSubdomainRoute(ctx context.Context, base, sub, port string) error {
	return c.AddSubReverseProxy(ctx, base, sub, []string{port}, "localhost")
}

// DeleteRoute removes the route tagged with id. An absent id is ErrNotFound.
func (c *Client) DeleteRoute(ctx context.Context, id string) error {
	if id == "" {
		return invalid("delete", "empty route id")
	}
	if err := c.DeleteByID(ctx, id); err != nil {
		return err
	}
	c.logger.Info("Deleted route %s", id)
	return nil
}

// GetRoute reads the route tagged with id back into a Route.
func (c *Client) GetRoute(ctx context.Context, id string) (Route, error) {
	node, err := c.GetByID(ctx, id)
	if err != nil {
		return Route{}, err
	}
	return parseRoute(id, node)
}

func parseRoute(id string, node any) (Route, error) {
	obj, ok := node.(map[string]any)
	if !ok {
		return Route{}, &StoreError{Op: "get", Path: idPath(id, ""), Err: ErrRejected, Msg: fmt.Sprintf("route is %T, not an object", node)}
	}

	r := Route{ID: id, Kind: KindPlain}
	if matches, ok := obj["match"].([]any); ok && len(matches) > 0 {
		if m, ok := matches[0].(map[string]any); ok {
			if hosts, ok := m["host"].([]any); ok && len(hosts) > 0 {
				r.Host, _ = hosts[0].(string)
			}
		}
	}

	handles, _ := obj["handle"].([]any)
	for _, h := range handles {
		hm, ok := h.(map[string]any)
		if !ok {
			continue
		}
		switch hm["handler"] {
		case "subroute":
			r.Kind = KindWildcard
		case "reverse_proxy":
			ups, _ := hm["upstreams"].([]any)
			for _, u := range ups {
				if um, ok := u.(map[string]any); ok {
					if dial, ok := um["dial"].(string); ok {
						r.Upstreams = append(r.Upstreams, dial)
					}
				}
			}
		}
	}
	return r, nil
}
