package cfdoh

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func newTestUpstreamServer(t *testing.T, rrs []dns.RR) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		q := new(dns.Msg)
		require.NoError(t, q.Unpack(body))

		a := new(dns.Msg)
		a.SetReply(q)
		a.Answer = rrs
		out, err := a.Pack()
		require.NoError(t, err)
		w.Header().Set("content-type", "application/dns-message")
		_, _ = w.Write(out)
	}))
}

func TestUpstreamClientFetchAndCache(t *testing.T) {
	srv := newTestUpstreamServer(t, []dns.RR{aRecord("example.com.", "93.184.216.34", 3600)})
	defer srv.Close()

	c, err := NewUpstreamClient(srv.URL, UpstreamClientOptions{})
	require.NoError(t, err)

	rrs, err := c.Fetch(context.Background(), "example.com", dns.TypeA, "")
	require.NoError(t, err)
	require.Len(t, rrs, 1)

	// Second fetch for the same key must come from cache: kill the server
	// and confirm the call still succeeds.
	srv.Close()
	rrs2, err := c.Fetch(context.Background(), "example.com", dns.TypeA, "")
	require.NoError(t, err)
	require.Equal(t, rrs, rrs2)
}

func TestUpstreamClientDifferentUpstreamsDontAlias(t *testing.T) {
	srvA := newTestUpstreamServer(t, []dns.RR{aRecord("example.com.", "1.1.1.1", 60)})
	defer srvA.Close()
	srvB := newTestUpstreamServer(t, []dns.RR{aRecord("example.com.", "2.2.2.2", 60)})
	defer srvB.Close()

	c, err := NewUpstreamClient(srvA.URL, UpstreamClientOptions{})
	require.NoError(t, err)

	rrsA, err := c.Fetch(context.Background(), "example.com", dns.TypeA, srvA.URL)
	require.NoError(t, err)
	rrsB, err := c.Fetch(context.Background(), "example.com", dns.TypeA, srvB.URL)
	require.NoError(t, err)

	require.NotEqual(t, rrsA[0].(*dns.A).A.String(), rrsB[0].(*dns.A).A.String())
}

func TestUpstreamClientErrorOnNon2xx(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c, err := NewUpstreamClient(srv.URL, UpstreamClientOptions{})
	require.NoError(t, err)

	_, err = c.Fetch(context.Background(), "example.com", dns.TypeA, "")
	require.Error(t, err)
	var upErr *UpstreamError
	require.ErrorAs(t, err, &upErr)
}

func TestUpstreamClientResolveUsesDefaultUpstream(t *testing.T) {
	srv := newTestUpstreamServer(t, []dns.RR{aRecord("namu.wiki.", "1.2.3.4", 120)})
	defer srv.Close()

	c, err := NewUpstreamClient(srv.URL, UpstreamClientOptions{})
	require.NoError(t, err)

	q := new(dns.Msg)
	q.SetQuestion("namu.wiki.", dns.TypeA)
	a, err := c.Resolve(context.Background(), q, ClientInfo{})
	require.NoError(t, err)
	require.Len(t, a.Answer, 1)
}
