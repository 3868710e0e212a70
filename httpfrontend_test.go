package cfdoh

import (
	"bytes"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func newTestFrontend(t *testing.T, upstreamRRs []dns.RR) (*HTTPFrontend, *httpUpstreamStub) {
	t.Helper()
	stub := newHTTPUpstreamStub(t, upstreamRRs)
	c, err := NewUpstreamClient(stub.url, UpstreamClientOptions{})
	require.NoError(t, err)
	h := NewHandler(c, HandlerOptions{DonorName: "namu.wiki"})
	return NewHTTPFrontend("127.0.0.1:0", h, nil), stub
}

func packQuery(t *testing.T, name string, qtype uint16) []byte {
	t.Helper()
	q := new(dns.Msg)
	q.SetQuestion(name, qtype)
	b, err := q.Pack()
	require.NoError(t, err)
	return b
}

func TestFrontendPostRequiresDNSMessageMediaType(t *testing.T) {
	f, stub := newTestFrontend(t, nil)
	defer stub.Close()

	body := packQuery(t, "example.com.", dns.TypeA)
	req := httptest.NewRequest(http.MethodPost, "/dns-query", bytes.NewReader(body))
	w := httptest.NewRecorder()
	f.dohHandler(w, req)
	require.Equal(t, http.StatusNotAcceptable, w.Code)
}

func TestFrontendPostSuccess(t *testing.T) {
	f, stub := newTestFrontend(t, []dns.RR{aRecord("example.com.", "93.184.216.34", 300)})
	defer stub.Close()

	body := packQuery(t, "example.com.", dns.TypeA)
	req := httptest.NewRequest(http.MethodPost, "/dns-query", bytes.NewReader(body))
	req.Header.Set("content-type", "application/dns-message")
	w := httptest.NewRecorder()
	f.dohHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "application/dns-message", w.Header().Get("content-type"))

	a := new(dns.Msg)
	require.NoError(t, a.Unpack(w.Body.Bytes()))
	require.Len(t, a.Answer, 1)
}

func TestFrontendGetDecodesBase64URLWithMissingPadding(t *testing.T) {
	f, stub := newTestFrontend(t, []dns.RR{aRecord("example.com.", "93.184.216.34", 300)})
	defer stub.Close()

	wire := packQuery(t, "example.com.", dns.TypeA)
	b64 := base64.RawURLEncoding.EncodeToString(wire)

	req := httptest.NewRequest(http.MethodGet, "/dns-query?dns="+url.QueryEscape(b64), nil)
	w := httptest.NewRecorder()
	f.dohHandler(w, req)

	require.Equal(t, http.StatusOK, w.Code)
}

func TestFrontendGetMissingParam(t *testing.T) {
	f, stub := newTestFrontend(t, nil)
	defer stub.Close()

	req := httptest.NewRequest(http.MethodGet, "/dns-query", nil)
	w := httptest.NewRecorder()
	f.dohHandler(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFrontendMalformedQueryReturns400(t *testing.T) {
	f, stub := newTestFrontend(t, nil)
	defer stub.Close()

	req := httptest.NewRequest(http.MethodPost, "/dns-query", bytes.NewReader([]byte("not a dns message")))
	req.Header.Set("content-type", "application/dns-message")
	w := httptest.NewRecorder()
	f.dohHandler(w, req)
	require.Equal(t, http.StatusBadRequest, w.Code)
}

func TestFrontendHealth(t *testing.T) {
	f, stub := newTestFrontend(t, nil)
	defer stub.Close()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	f.healthHandler(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	require.Equal(t, "OK", w.Body.String())
}

func TestUpstreamOverrideFromPath(t *testing.T) {
	encoded := url.PathEscape("https://1.0.0.1/dns-query")
	got, err := upstreamOverrideFromPath("/dns-query/" + encoded)
	require.NoError(t, err)
	require.Equal(t, "https://1.0.0.1/dns-query", got)
}

func TestUpstreamOverrideFromPathRejectsNonHTTPS(t *testing.T) {
	encoded := url.PathEscape("http://1.0.0.1/dns-query")
	got, err := upstreamOverrideFromPath("/dns-query/" + encoded)
	require.NoError(t, err)
	require.Equal(t, "", got)
}

func TestUpstreamOverrideFromPathAbsent(t *testing.T) {
	got, err := upstreamOverrideFromPath("/dns-query")
	require.NoError(t, err)
	require.Equal(t, "", got)
}
