package cfdoh

import (
	"strings"

	"github.com/miekg/dns"
)

// bypassList holds domains that must never be patched even if their answer
// resolves into a Cloudflare range, because donor substitution would break
// them (ACME validation, Cloudflare's own properties, storefronts that
// depend on their real CDN edge). Ported verbatim from the upstream
// project's BYPASS_LIST. A leading "." means "any subdomain of this
// domain" (the domain itself does not match); anything else is an exact
// match. Six entries don't earn a
// trie like the teacher's blocklistdb-domain.go; a slice scan is plenty.
var bypassList = []string{
	"prod.api.letsencrypt.org",
	"cloudflare.com",
	"speed.cloudflare.com",
	"shops.myshopify.com",
	".cdn.cloudflare.net",
	".pacloudflare.com",
}

func bypassMatch(name string) bool {
	name = stripDot(name)
	for _, b := range bypassList {
		if strings.HasPrefix(b, ".") {
			if strings.HasSuffix(name, b) {
				return true
			}
			continue
		}
		if name == b {
			return true
		}
	}
	return false
}

// shouldBypass reports whether q/answer should be left untouched: either
// the query name itself is on the bypass list, or any CNAME/NS record in
// the answer points at one.
func shouldBypass(q *dns.Msg, answer []dns.RR) bool {
	if bypassMatch(normalizeDomain(qName(q))) {
		return true
	}
	for _, rr := range answer {
		var target string
		switch r := rr.(type) {
		case *dns.CNAME:
			target = r.Target
		case *dns.NS:
			target = r.Ns
		default:
			continue
		}
		if bypassMatch(stripDot(target)) {
			return true
		}
	}
	return false
}
