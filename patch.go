package cfdoh

import (
	"context"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

const donorTTLFloor = 600

// PatchPolicy decides whether a DoH answer's address records point at a
// Cloudflare-fronted host and, if so, rewrites them to the donor host's
// address records instead. Non-address records (CNAME, NS, TXT, ...) are
// always preserved; only A/AAAA RRs are ever replaced.
type PatchPolicy struct {
	Donor      Resolver
	DonorName  string
	Classifier *CDNClassifier
	ClientInfo ClientInfo
}

// NewPatchPolicy builds a policy that substitutes donor's address records
// for any CDN-classified answer, using classifier for CDN membership
// lookups. donorName is the hostname whose records stand in for the
// patched answer (e.g. "namu.wiki").
func NewPatchPolicy(donor Resolver, donorName string, classifier *CDNClassifier) *PatchPolicy {
	return &PatchPolicy{Donor: donor, DonorName: donorName, Classifier: classifier}
}

// Apply inspects q/answer and, if patching applies, returns a new message
// with its A/AAAA answers replaced by the donor's. The second return value
// reports whether a substitution was made. answer is never mutated in
// place; callers get back either the original message unchanged or a copy.
func (p *PatchPolicy) Apply(ctx context.Context, q *dns.Msg, answer *dns.Msg) (*dns.Msg, bool, error) {
	qt := qType(q)
	if qt != dns.TypeA && qt != dns.TypeAAAA {
		return answer, false, nil
	}
	if shouldBypass(q, answer.Answer) {
		return answer, false, nil
	}

	rr, ok := firstAddressRR(answer.Answer)
	if !ok {
		return answer, false, nil
	}
	ip, ok := rrIP(rr)
	if !ok {
		return answer, false, nil
	}
	cdn, err := p.Classifier.IsCDN(ip)
	if err != nil {
		// CDNClassificationError is recovered locally per spec §7: log and
		// continue without patching, same as a definitive "not CDN" answer.
		logrus.WithError(err).WithField("ip", ip).Warn("cdn classification failed, skipping patch")
		return answer, false, nil
	}
	if !cdn {
		return answer, false, nil
	}

	donorQuery := new(dns.Msg)
	donorQuery.SetQuestion(dns.Fqdn(p.DonorName), qt)
	donorAnswer, err := p.Donor.Resolve(ctx, donorQuery, p.ClientInfo)
	if err != nil {
		return answer, false, &UpstreamError{Upstream: p.Donor.String(), Cause: err}
	}

	patched := answer.Copy()
	kept := make([]dns.RR, 0, len(patched.Answer))
	for _, rr := range patched.Answer {
		switch rr.(type) {
		case *dns.A, *dns.AAAA:
			continue
		default:
			kept = append(kept, rr)
		}
	}
	for _, rr := range donorAnswer.Answer {
		switch r := rr.(type) {
		case *dns.A:
			rr = cloneAWithName(r, qName(q), donorTTLFloor)
		case *dns.AAAA:
			rr = cloneAAAAWithName(r, qName(q), donorTTLFloor)
		default:
			continue
		}
		kept = append(kept, rr)
	}
	patched.Answer = kept

	return patched, true, nil
}

func cloneAWithName(r *dns.A, name string, ttlFloor uint32) *dns.A {
	ttl := r.Hdr.Ttl
	if ttl < ttlFloor {
		ttl = ttlFloor
	}
	return &dns.A{
		Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
		A:   r.A,
	}
}

func cloneAAAAWithName(r *dns.AAAA, name string, ttlFloor uint32) *dns.AAAA {
	ttl := r.Hdr.Ttl
	if ttl < ttlFloor {
		ttl = ttlFloor
	}
	return &dns.AAAA{
		Hdr:  dns.RR_Header{Name: name, Rrtype: dns.TypeAAAA, Class: dns.ClassINET, Ttl: ttl},
		AAAA: r.AAAA,
	}
}
