package cfdoh

import "fmt"

// MalformedQueryError is returned when the incoming request could not be
// decoded as a DNS message (bad base64url or invalid wire format). Maps to
// HTTP 400 at the service boundary.
type MalformedQueryError struct {
	Cause error
}

func (e *MalformedQueryError) Error() string {
	return fmt.Sprintf("malformed query: %s", e.Cause)
}

func (e *MalformedQueryError) Unwrap() error { return e.Cause }

// UnsupportedMediaError is returned when a POST request carries neither an
// "Accept" nor a "Content-Type" of application/dns-message. Maps to HTTP 406.
type UnsupportedMediaError struct {
	ContentType string
	Accept      string
}

func (e *UnsupportedMediaError) Error() string {
	return fmt.Sprintf("unsupported media type: content-type=%q accept=%q", e.ContentType, e.Accept)
}

// UpstreamError is returned when the upstream DoH resolver could not be
// reached, returned a non-2xx status, or returned a non-DNS body. Maps to
// HTTP 502 at the service boundary.
type UpstreamError struct {
	Upstream string
	Cause    error
	// Malformed is true when the upstream responded 2xx but the body
	// didn't parse as a DNS message, distinguishing UpstreamMalformed
	// from UpstreamUnavailable for callers that care about the split.
	Malformed bool
}

func (e *UpstreamError) Error() string {
	kind := "unavailable"
	if e.Malformed {
		kind = "malformed response"
	}
	return fmt.Sprintf("upstream %s (%s): %s", e.Upstream, kind, e.Cause)
}

func (e *UpstreamError) Unwrap() error { return e.Cause }

// CDNClassificationError is returned internally by CDNClassifier.IsCDN when
// the address string does not parse as an IP. IsCDN caches a negative
// result for it with the negative classification TTL and still returns
// false; Patch Policy logs it and continues without patching - it never
// propagates to the HTTP boundary.
type CDNClassificationError struct {
	IP    string
	Cause error
}

func (e *CDNClassificationError) Error() string {
	return fmt.Sprintf("cdn classification failed for %s: %s", e.IP, e.Cause)
}

func (e *CDNClassificationError) Unwrap() error { return e.Cause }
