package utils

import (
	"net"
	"regexp"
	"strconv"
	"strings"
)

// DomainRegex is the regex for validating domains
// It allows for subdomains and requires at least one dot (e.g. example.com)
// It does not allow for IP addresses or localhost
var DomainRegex = regexp.MustCompile(`^(?:[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]{2,}$`)

// hostLabelRegex matches a single DNS label such as "localhost" or "api".
var hostLabelRegex = regexp.MustCompile(`^[a-zA-Z0-9](?:[a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)

// IsValidDomain checks if the provided string is a valid domain name
func IsValidDomain(domain string) bool {
	if len(domain) > 253 {
		return false
	}
	return DomainRegex.MatchString(domain)
}

// ValidateHost is looser than IsValidDomain: it also accepts localhost,
// dev TLDs like .local, single labels and IP addresses, which are all
// common for routes on a development Caddy.
func ValidateHost(host string) bool {
	if host == "" || len(host) > 253 {
		return false
	}
	if net.ParseIP(host) != nil {
		return true
	}
	for _, label := range strings.Split(host, ".") {
		if !hostLabelRegex.MatchString(label) {
			return false
		}
	}
	return true
}

// ValidateSubdomainLabel checks a single label that is prefixed to a base domain.
func ValidateSubdomainLabel(label string) bool {
	return hostLabelRegex.MatchString(label)
}

// ValidatePort checks a decimal TCP port.
func ValidatePort(port string) bool {
	n, err := strconv.Atoi(port)
	return err == nil && n > 0 && n <= 65535
}

// ValidateTarget checks an upstream dial address in host:port form.
func ValidateTarget(target string) bool {
	host, port, err := net.SplitHostPort(target)
	if err != nil {
		return false
	}
	return ValidateHost(host) && ValidatePort(port)
}
