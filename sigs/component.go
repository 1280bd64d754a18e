package sigs

import (
	"fmt"
	"net/http"
	"strings"
)

// Component is an RFC 9421 component identifier: a derived component
// such as "@method" or a lowercase HTTP header name.
type Component string

const (
	CompMethod    Component = "@method"
	CompTargetURI Component = "@target-uri"
	CompPath      Component = "@path"
	CompQuery     Component = "@query"
	CompAuthority Component = "@authority"
	CompStatus    Component = "@status"
)

// targetURI returns the absolute URI a signer covering @target-uri signed.
// req.URL is only ever fully populated (scheme+host) for client-built
// requests; a server receiving an origin-form request line (as every real
// inbound federation POST is) sees only Path/RawQuery, so the target URI
// has to be reconstructed from the request's authority instead of read
// off req.URL directly.
func targetURI(req *http.Request) string {
	if req.URL.IsAbs() {
		return req.URL.String()
	}
	scheme := "https"
	if proto := req.Header.Get("X-Forwarded-Proto"); proto != "" {
		scheme = proto
	}
	host := req.Host
	if forwarded := req.Header.Get("X-Forwarded-Host"); forwarded != "" {
		host = forwarded
	}
	return scheme + "://" + strings.ToLower(host) + req.URL.RequestURI()
}

// componentValue returns the canonical value of a covered component for
// the given request, per the base-construction rules: header values are
// trimmed and multi-valued headers joined with ", ".
func componentValue(req *http.Request, c Component) (string, error) {
	switch c {
	case CompMethod:
		return req.Method, nil
	case CompTargetURI:
		return targetURI(req), nil
	case CompPath:
		p := req.URL.Path
		if p == "" {
			p = "/"
		}
		return p, nil
	case CompQuery:
		return req.URL.RawQuery, nil
	case CompAuthority:
		if req.Host != "" {
			return strings.ToLower(req.Host), nil
		}
		return strings.ToLower(req.URL.Host), nil
	case CompStatus:
		return "", fmt.Errorf("@status not available for requests")
	default:
		name := string(c)
		values := req.Header.Values(http.CanonicalHeaderKey(name))
		if len(values) == 0 {
			return "", fmt.Errorf("covered header not present: %s", name)
		}
		trimmed := make([]string, len(values))
		for i, v := range values {
			trimmed[i] = strings.TrimSpace(v)
		}
		return strings.Join(trimmed, ", "), nil
	}
}
