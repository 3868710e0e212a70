package cfdoh

import (
	"strings"

	"github.com/miekg/dns"
	"golang.org/x/net/idna"
)

// qName returns the query name from a DNS query, or "" if it has no question.
func qName(q *dns.Msg) string {
	if len(q.Question) == 0 {
		return ""
	}
	return q.Question[0].Name
}

// qType returns the query type from a DNS query, or 0 if it has no question.
func qType(q *dns.Msg) uint16 {
	if len(q.Question) == 0 {
		return 0
	}
	return q.Question[0].Qtype
}

// normalizeDomain turns a wire-format (possibly Unicode, dot-terminated)
// query name into the IDNA-encoded, lower-cased, dot-stripped form used
// as the cache and policy key. Falls back to a plain TrimSuffix/ToLower
// when idna.Lookup rejects the name (for example a label containing an
// underscore); ordinary ASCII hostnames go through ToASCII without error.
func normalizeDomain(name string) string {
	name = strings.TrimSuffix(name, ".")
	if ascii, err := idna.Lookup.ToASCII(name); err == nil {
		return strings.ToLower(ascii)
	}
	return strings.ToLower(name)
}

// stripDot removes a single trailing "." from an RR-name/rdata string, used
// when comparing names against BYPASS_LIST patterns.
func stripDot(name string) string {
	return strings.TrimSuffix(name, ".")
}

// minAddressTTL returns the smallest TTL among the A/AAAA records in rrs,
// and whether any were found. Used to derive the cache expiry for an
// answer: the smallest TTL among A/AAAA RRs in the answer.
func minAddressTTL(rrs []dns.RR) (uint32, bool) {
	var (
		min   uint32
		found bool
	)
	for _, rr := range rrs {
		switch rr.(type) {
		case *dns.A, *dns.AAAA:
		default:
			continue
		}
		ttl := rr.Header().Ttl
		if !found || ttl < min {
			min = ttl
			found = true
		}
	}
	return min, found
}

// firstAddressRR returns the first A or AAAA record in rrs, in order of
// appearance, and whether one was found.
func firstAddressRR(rrs []dns.RR) (dns.RR, bool) {
	for _, rr := range rrs {
		switch rr.(type) {
		case *dns.A, *dns.AAAA:
			return rr, true
		}
	}
	return nil, false
}

// rrIP extracts the IP address string carried by an A or AAAA record, or
// ok=false for any other record type.
func rrIP(rr dns.RR) (ip string, ok bool) {
	switch r := rr.(type) {
	case *dns.A:
		return r.A.String(), true
	case *dns.AAAA:
		return r.AAAA.String(), true
	default:
		return "", false
	}
}
