// Package caddy provides a client for the Caddy admin API and the route
// operations built on top of it.
package caddy

import "fmt"

const (
	// DefaultAdminAddress is where Caddy serves its admin API unless told otherwise.
	DefaultAdminAddress = "http://localhost:2019"

	// DefaultSocketPath is the conventional Unix socket for the admin API when
	// Caddy runs with `admin unix//run/caddy/admin.sock`.
	DefaultSocketPath = "/run/caddy/admin.sock"

	// DefaultServerName is the HTTP server routes are appended to.
	DefaultServerName = "srv0"

	unixScheme = "unix://"
)

// Well-known configuration paths
const (
	PathHTTPServers   = "/apps/http/servers"
	PathTLSAutomation = "/apps/tls/automation"
	PathTLSPolicies   = "/apps/tls/automation/policies"
	PathPKI           = "/apps/pki"
	PathPKILocalCA    = "/apps/pki/certificate_authorities/local"
)

// ServerPath is the config path of the named HTTP server.
func ServerPath(server string) string {
	return fmt.Sprintf("%s/%s", PathHTTPServers, server)
}

// RoutesPath is the route list of the named HTTP server.
func RoutesPath(server string) string {
	return ServerPath(server) + "/routes"
}

/*
Admin endpoint notes

The admin address may be a TCP URL (http://localhost:2019) or a Unix socket
written as unix:///run/caddy/admin.sock. When Caddy runs in Docker the socket
has to be mounted into the container running this tool:

	volumes:
	  - /run/caddy/admin.sock:/run/caddy/admin.sock

and the socket must be readable and writable by the container user. A
"permission denied" from the dialer almost always means the socket mode or
the mount is wrong, not that Caddy is down.
*/
