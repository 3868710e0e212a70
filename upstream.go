package cfdoh

import (
	"bytes"
	"context"
	"expvar"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/jtacoma/uritemplates"
	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

const (
	defaultQueryTimeout = 30 * time.Second
	maxTTLAnswer        = 3000 * time.Second
	defaultTTLOnMiss    = 300 * time.Second
)

// answerKey identifies a cached answer: the question plus the upstream it
// was fetched from, so responses from different resolvers never alias -
// per spec, upstream is part of the cache key.
type answerKey struct {
	domain   string
	qtype    uint16
	upstream string
}

// UpstreamClient performs DoH POST requests against a configurable
// upstream resolver and memoizes answers in a shared TTL cache keyed on
// (domain, qtype, upstream). Grounded on the teacher's DoHClient, with the
// GET method, QUIC/HTTP3 transport and bootstrap-address dialer trimmed:
// this client only originates POST requests over net/http. The scheme of
// an upstream URL is not checked here; only per-request overrides taken
// from the DoH path are restricted to https, by validUpstreamOverride.
type UpstreamClient struct {
	defaultUpstream string
	client          *http.Client
	cache           *TtlCache[answerKey, []dns.RR]
	queryTimeout    time.Duration

	metricQuery    *expvar.Int
	metricCacheHit *expvar.Int
	metricErr      *expvar.Map
}

// UpstreamClientOptions configures an UpstreamClient.
type UpstreamClientOptions struct {
	TLSOptions   ClientTLSOptions
	QueryTimeout time.Duration
	CacheOptions TtlCacheOptions
}

// NewUpstreamClient builds a client that defaults to defaultUpstream when
// a request doesn't specify an override.
func NewUpstreamClient(defaultUpstream string, opt UpstreamClientOptions) (*UpstreamClient, error) {
	tlsConfig, err := opt.TLSOptions.Config()
	if err != nil {
		return nil, fmt.Errorf("upstream client TLS config: %w", err)
	}
	if opt.QueryTimeout == 0 {
		opt.QueryTimeout = defaultQueryTimeout
	}
	if opt.CacheOptions.MaxTTL == 0 {
		opt.CacheOptions.MaxTTL = maxTTLAnswer
	}

	return &UpstreamClient{
		defaultUpstream: defaultUpstream,
		client: &http.Client{
			Transport: &http.Transport{
				Proxy:                 http.ProxyFromEnvironment,
				TLSClientConfig:       tlsConfig,
				DisableCompression:    true,
				ResponseHeaderTimeout: 10 * time.Second,
				IdleConnTimeout:       30 * time.Second,
			},
		},
		cache:          NewTtlCache[answerKey, []dns.RR](opt.CacheOptions),
		queryTimeout:   opt.QueryTimeout,
		metricQuery:    getVarInt("upstream", "query"),
		metricCacheHit: getVarInt("upstream", "cache-hit"),
		metricErr:      getVarMap("upstream", "error"),
	}, nil
}

// Fetch returns the RR list for (domain, qtype) from upstream (or "" for
// the configured default), consulting the answer cache first. On a fresh
// upstream fetch the result is stored under (domain, qtype, upstream)
// before being returned.
func (c *UpstreamClient) Fetch(ctx context.Context, domain string, qtype uint16, upstream string) ([]dns.RR, error) {
	if upstream == "" {
		upstream = c.defaultUpstream
	}
	key := answerKey{domain: domain, qtype: qtype, upstream: upstream}

	if rrs, ok := c.cache.Get(key); ok {
		c.metricCacheHit.Add(1)
		return rrs, nil
	}

	c.metricQuery.Add(1)
	rrs, err := c.fetchUpstream(ctx, domain, qtype, upstream)
	if err != nil {
		c.metricErr.Add("fetch", 1)
		return nil, err
	}

	ttl := defaultTTLOnMiss
	if minTTL, found := minAddressTTL(rrs); found {
		ttl = time.Duration(minTTL) * time.Second
	}
	c.cache.Store(key, rrs, ttl)
	return rrs, nil
}

// Resolve implements Resolver, always querying c.defaultUpstream. Used to
// plug an UpstreamClient straight in as the donor-domain resolver in
// Patch Policy, which always fetches from DEFAULT_UPSTREAM regardless of
// the request's own upstream override.
func (c *UpstreamClient) Resolve(ctx context.Context, q *dns.Msg, _ ClientInfo) (*dns.Msg, error) {
	domain := normalizeDomain(qName(q))
	rrs, err := c.Fetch(ctx, domain, qType(q), c.defaultUpstream)
	if err != nil {
		return nil, err
	}
	a := new(dns.Msg)
	a.SetReply(q)
	a.Answer = rrs
	return a, nil
}

func (c *UpstreamClient) String() string {
	return c.defaultUpstream
}

func (c *UpstreamClient) fetchUpstream(ctx context.Context, domain string, qtype uint16, upstream string) ([]dns.RR, error) {
	q := new(dns.Msg)
	q.SetQuestion(dns.Fqdn(domain), qtype)
	q.RecursionDesired = true

	wire, err := q.Pack()
	if err != nil {
		return nil, &UpstreamError{Upstream: upstream, Cause: err}
	}

	ctx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	defer cancel()

	req, err := c.buildRequest(ctx, upstream, wire)
	if err != nil {
		return nil, &UpstreamError{Upstream: upstream, Cause: err}
	}

	logrus.WithFields(logrus.Fields{
		"qname":    domain,
		"qtype":    qtype,
		"upstream": upstream,
	}).Debug("querying upstream resolver")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &UpstreamError{Upstream: upstream, Cause: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &UpstreamError{Upstream: upstream, Cause: fmt.Errorf("unexpected status code %d", resp.StatusCode)}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &UpstreamError{Upstream: upstream, Cause: err}
	}

	a := new(dns.Msg)
	if err := a.Unpack(body); err != nil {
		return nil, &UpstreamError{Upstream: upstream, Cause: err, Malformed: true}
	}
	return a.Answer, nil
}

func (c *UpstreamClient) buildRequest(ctx context.Context, upstream string, wire []byte) (*http.Request, error) {
	tmpl, err := uritemplates.Parse(upstream)
	if err != nil {
		return nil, err
	}
	u, err := tmpl.Expand(map[string]interface{}{})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(wire))
	if err != nil {
		return nil, err
	}
	req.Header.Set("content-type", "application/dns-message")
	req.Header.Set("accept", "application/dns-message")
	return req, nil
}
