// Package connector exposes the management directory to remote tools.
//
// It keeps the addressing scheme of JMX remote connectors: a service URL of
// the form service:jmx:rmi:///jndi/rmi://localhost:<port>/jmxrmi names a
// name registry listening on localhost:<port>, and the connector endpoint
// is bound in that registry under "jmxrmi". Both the registry and the
// connector speak JSON over HTTP.
package connector

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// ServiceURLTemplate is the endpoint template; the port is substituted.
const ServiceURLTemplate = "service:jmx:rmi:///jndi/rmi://localhost:%d/jmxrmi"

const localhostToken = "localhost"

var ErrMalformedURL = errors.New("connector: malformed service URL")

// ServiceURL substitutes port into ServiceURLTemplate.
func ServiceURL(port int) string {
	return fmt.Sprintf(ServiceURLTemplate, port)
}

// ParsedURL is the decomposed form of a service URL.
type ParsedURL struct {
	Protocol string // "rmi"
	Host     string // empty for "service:jmx:rmi:///..."
	Path     string // "/jndi/rmi://localhost:8699/jmxrmi"
}

// ParseServiceURL splits "service:jmx:<protocol>://<host>[:port]<path>".
func ParseServiceURL(s string) (*ParsedURL, error) {
	rest, ok := strings.CutPrefix(s, "service:jmx:")
	if !ok {
		return nil, fmt.Errorf("%w: %q does not start with service:jmx:", ErrMalformedURL, s)
	}
	protocol, rest, ok := strings.Cut(rest, "://")
	if !ok || protocol == "" {
		return nil, fmt.Errorf("%w: %q has no protocol", ErrMalformedURL, s)
	}
	host, path := rest, ""
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		host, path = rest[:i], rest[i:]
	}
	return &ParsedURL{Protocol: protocol, Host: host, Path: path}, nil
}

// NeedsLocalRegistry reports whether url names a registry on this host that
// the connector has to provide itself.
func NeedsLocalRegistry(url string) bool {
	p, err := ParseServiceURL(url)
	if err != nil {
		return false
	}
	return strings.EqualFold(p.Protocol, "rmi") && strings.Contains(url, localhostToken)
}

// LocalHostPort returns the number written right after "localhost:" in url.
// The scan stops at the first non-digit. It returns 0 when url has no
// localhost token, no digits follow it, or nothing follows the digits, and
// an error when the digits do not fit a port.
func LocalHostPort(url string) (int, error) {
	i := strings.Index(url, localhostToken)
	if i < 0 {
		return 0, nil
	}
	start := i + len(localhostToken) + 1 // skip the ':' separator
	if start > len(url) {
		return 0, nil
	}
	end := start
	for end < len(url) && url[end] >= '0' && url[end] <= '9' {
		end++
	}
	if end == start || end == len(url) {
		return 0, nil
	}
	port, err := strconv.Atoi(url[start:end])
	if err != nil || port > 65535 {
		return 0, fmt.Errorf("%w: port %q out of range", ErrMalformedURL, url[start:end])
	}
	return port, nil
}

// BindingName is the last path element of url, the name the connector is
// bound under in the registry.
func BindingName(url string) string {
	i := strings.LastIndexByte(url, '/')
	if i < 0 || i == len(url)-1 {
		return ""
	}
	return url[i+1:]
}
