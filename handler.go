package cfdoh

import (
	"context"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

// Handler implements the end-to-end DoH request pipeline: decode, consult
// cache, invoke upstream, invoke patch policy, build reply, cache, encode.
// It holds no transport-specific state; httpfrontend.go is the thin
// net/http adapter that calls HandleQuery.
type Handler struct {
	Upstream        *UpstreamClient
	Patch           *PatchPolicy
	DefaultUpstream string

	QueryLog *QueryLog
	Audit    *AuditLog

	// Coalesce enables singleflight-style request coalescing of upstream
	// fetches for identical (domain, qtype, upstream) keys. Off by
	// default, matching the reference implementation's behavior of
	// letting concurrent misses race to upstream.
	Coalesce  bool
	coalescer *coalescer
}

// HandlerOptions configures a new Handler.
type HandlerOptions struct {
	DonorName string
	Coalesce  bool
	QueryLog  *QueryLog
	Audit     *AuditLog
}

const defaultDonorDomain = "namu.wiki"

// NewHandler builds a Handler serving queries from upstream, patching
// CDN-fronted answers with donorName's address records.
func NewHandler(upstream *UpstreamClient, opt HandlerOptions) *Handler {
	donorName := opt.DonorName
	if donorName == "" {
		donorName = defaultDonorDomain
	}
	h := &Handler{
		Upstream:        upstream,
		Patch:           NewPatchPolicy(upstream, donorName, NewCDNClassifier(nil)),
		DefaultUpstream: upstream.String(),
		QueryLog:        opt.QueryLog,
		Audit:           opt.Audit,
		Coalesce:        opt.Coalesce,
	}
	if opt.Coalesce {
		h.coalescer = newCoalescer()
	}
	return h
}

// HandleQuery runs the full pipeline for a single decoded query and
// returns the reply to send back. ci identifies the DoH client, for
// logging only. upstreamOverride, if non-empty, must already have passed
// validUpstreamOverride - HandleQuery trusts its caller on that.
//
// On a cache hit the cached RRs are returned as-is (the patch decision was
// already made and baked into what's cached), matching the reference
// algorithm exactly: no second patch pass, no re-store, no upstream call.
func (h *Handler) HandleQuery(ctx context.Context, q *dns.Msg, ci ClientInfo, upstreamOverride string) (*dns.Msg, error) {
	upstream := upstreamOverride
	if upstream == "" {
		upstream = h.DefaultUpstream
	}
	domain := normalizeDomain(qName(q))
	qt := qType(q)
	key := answerKey{domain: domain, qtype: qt, upstream: upstream}

	if rrs, ok := h.Upstream.cache.Get(key); ok {
		reply := new(dns.Msg)
		reply.SetReply(q)
		reply.RecursionAvailable = true
		reply.Answer = rrs
		h.logOutcome(ci, q, OutcomeCacheHit, "", "")
		return reply, nil
	}

	rrs, err := h.fetch(ctx, domain, qt, upstream)
	if err != nil {
		return nil, err
	}

	reply := new(dns.Msg)
	reply.SetReply(q)
	reply.RecursionAvailable = true
	reply.Answer = rrs

	patched, didPatch, err := h.Patch.Apply(ctx, q, reply)
	if err != nil {
		// Donor-lookup failure during patching is not fatal: fall back to
		// the unpatched, already-fetched answer rather than failing the
		// whole request.
		logrus.WithError(err).WithFields(logrus.Fields{"qname": domain, "qtype": qt}).
			Warn("patch policy failed, serving unpatched answer")
		patched, didPatch = reply, false
	}

	outcome := OutcomeUpstream
	switch {
	case didPatch:
		outcome = OutcomePatched
	case shouldBypass(q, patched.Answer):
		outcome = OutcomeBypassed
	}
	h.logOutcome(ci, q, outcome, "", "")

	ttl := defaultTTLOnMiss
	if minTTL, found := minAddressTTL(patched.Answer); found {
		ttl = time.Duration(minTTL) * time.Second
	}
	h.Upstream.cache.Store(key, patched.Answer, ttl)

	return patched, nil
}

func (h *Handler) fetch(ctx context.Context, domain string, qt uint16, upstream string) ([]dns.RR, error) {
	if !h.Coalesce {
		return h.Upstream.Fetch(ctx, domain, qt, upstream)
	}
	key := coalesceKey{domain: domain, qtype: qt, upstream: upstream}
	msg, err := h.coalescer.do(ctx, key, func(ctx context.Context) (*dns.Msg, error) {
		rrs, err := h.Upstream.Fetch(ctx, domain, qt, upstream)
		if err != nil {
			return nil, err
		}
		return &dns.Msg{Answer: rrs}, nil
	})
	if err != nil {
		return nil, err
	}
	return msg.Answer, nil
}

func (h *Handler) logOutcome(ci ClientInfo, q *dns.Msg, outcome Outcome, cdnIP, donorIP string) {
	if h.QueryLog != nil {
		h.QueryLog.Record(ci, q, outcome, cdnIP, donorIP)
	}
	if h.Audit != nil {
		h.Audit.Record(ci, q, outcome, cdnIP, donorIP)
	}
}
