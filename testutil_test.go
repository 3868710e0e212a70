package cfdoh

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/miekg/dns"
)

func mustParseIP4(s string) net.IP {
	ip := net.ParseIP(s)
	if ip == nil {
		panic("cfdoh: invalid test IP " + s)
	}
	return ip.To4()
}

// stubResolver is a minimal Resolver used to stand in for an upstream or
// donor lookup in tests, mirroring the teacher's pattern of a channel-free
// canned-response test double rather than a mock framework.
type stubResolver struct {
	name  string
	msg   *dns.Msg
	err   error
	calls int
}

func (s *stubResolver) Resolve(_ context.Context, q *dns.Msg, _ ClientInfo) (*dns.Msg, error) {
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	a := s.msg.Copy()
	a.Id = q.Id
	a.Question = q.Question
	return a, nil
}

func (s *stubResolver) String() string { return s.name }

// httpUpstreamStub is a real HTTP server standing in for a DoH upstream,
// used by tests that need to exercise UpstreamClient's actual transport
// rather than mocking the Resolver interface.
type httpUpstreamStub struct {
	*httptest.Server
	url   string
	calls int
}

func newHTTPUpstreamStub(t *testing.T, rrs []dns.RR) *httpUpstreamStub {
	t.Helper()
	stub := &httpUpstreamStub{}
	stub.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.calls++
		body, err := io.ReadAll(r.Body)
		if err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		q := new(dns.Msg)
		if err := q.Unpack(body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		a := new(dns.Msg)
		a.SetReply(q)
		a.Answer = rrs
		out, err := a.Pack()
		if err != nil {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Header().Set("content-type", "application/dns-message")
		_, _ = w.Write(out)
	}))
	stub.url = stub.Server.URL
	return stub
}
