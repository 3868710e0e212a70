package cfdoh

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// validUpstreamOverride reports whether rawurl is safe to use as a
// per-request upstream override: an https:// URL whose host is an IP
// literal or a syntactically valid hostname. The reference implementation accepts any path segment
// unchecked and hands it straight to the HTTP client; this rejects the
// obvious foot-guns (a non-HTTPS scheme, a missing host) before an
// override is ever dialed, so a malformed override falls back to the
// configured default upstream instead of producing a confusing transport
// error.
func validUpstreamOverride(rawurl string) error {
	u, err := url.Parse(rawurl)
	if err != nil {
		return fmt.Errorf("invalid upstream url: %w", err)
	}
	if u.Scheme != "https" {
		return fmt.Errorf("invalid upstream url %q: scheme must be https", rawurl)
	}
	if u.Host == "" {
		return errors.New("invalid upstream url: missing host")
	}
	if net.ParseIP(u.Hostname()) != nil {
		return nil
	}
	return validHostname(u.Hostname())
}

// Returns nil if the given name is a valid hostname as per https://tools.ietf.org/html/rfc3696#section-2
// and https://tools.ietf.org/html/rfc1123#page-13
func validHostname(name string) error {
	if name == "" {
		return errors.New("hostname empty")
	}
	if len(name) > 255 {
		return fmt.Errorf("invalid hostname %q: too long", name)
	}
	name = strings.TrimSuffix(name, ".")
	labels := strings.Split(name, ".")
	for _, label := range labels {
		for _, c := range label {
			if label == "" {
				return fmt.Errorf("invalid hostname %q: empty label", name)
			}
			if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
				return fmt.Errorf("invalid hostname %q: label can not start or end with -", name)
			}
			switch {
			case c >= '0' && c <= '9', c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c == '-':
			default:
				return fmt.Errorf("invalid hostname %q: invalid character %q", name, string(c))
			}
		}
	}
	// The last label can not be all-numeric
	for _, c := range labels[len(labels)-1] {
		if c < '0' || c > '9' {
			return nil
		}
	}
	return fmt.Errorf("invalid hostname %q: last label can not be all numeric", name)
}
