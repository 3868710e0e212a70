package cfdoh

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"expvar"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/sirupsen/logrus"
)

const dohServerTimeout = 10 * time.Second

// HTTPFrontend is the net/http boundary for the DoH wire protocol: GET and
// POST on /dns-query (and the upstream-override variant), plus /health and
// /vars for operators. It delegates all DNS semantics to a Handler.
// Grounded on the teacher's DoHListener (request decode/respond) and
// AdminListener (expvar endpoint); QUIC/HTTP3 transport is dropped since
// spec scopes DoH down to a plain net/http server.
type HTTPFrontend struct {
	httpServer *http.Server
	addr       string
	handler    *Handler
	tlsConfig  *tls.Config

	// HTTPProxyAddr, if set, is a trusted reverse proxy whose
	// X-Forwarded-For value is honored when resolving a client's address.
	HTTPProxyAddr net.IP

	mux *http.ServeMux

	expMethod   *expvar.Map
	expQuery    *expvar.Int
	expResponse *expvar.Map
	expError    *expvar.Map
}

var _ Listener = &HTTPFrontend{}

// NewHTTPFrontend builds a frontend listening on addr, serving queries via
// handler. A nil tlsConfig makes Start serve plain HTTP instead of TLS.
func NewHTTPFrontend(addr string, handler *Handler, tlsConfig *tls.Config) *HTTPFrontend {
	f := &HTTPFrontend{
		addr:        addr,
		handler:     handler,
		tlsConfig:   tlsConfig,
		mux:         http.NewServeMux(),
		expMethod:   getVarMap("frontend", "method"),
		expQuery:    getVarInt("frontend", "query"),
		expResponse: getVarMap("frontend", "response"),
		expError:    getVarMap("frontend", "error"),
	}
	f.mux.HandleFunc("/dns-query", f.dohHandler)
	f.mux.HandleFunc("/dns-query/", f.dohHandler)
	f.mux.HandleFunc("/health", f.healthHandler)
	f.mux.Handle("/vars", expvar.Handler())
	return f
}

func (f *HTTPFrontend) Start() error {
	Log.WithFields(logrus.Fields{"protocol": "doh", "addr": f.addr}).Info("starting listener")
	f.httpServer = &http.Server{
		Addr:         f.addr,
		TLSConfig:    f.tlsConfig,
		Handler:      f.mux,
		ReadTimeout:  dohServerTimeout,
		WriteTimeout: dohServerTimeout,
	}
	ln, err := net.Listen("tcp", f.addr)
	if err != nil {
		return err
	}
	defer ln.Close()
	if f.tlsConfig == nil {
		return f.httpServer.Serve(ln)
	}
	return f.httpServer.ServeTLS(ln, "", "")
}

func (f *HTTPFrontend) Stop() error {
	Log.WithFields(logrus.Fields{"protocol": "doh", "addr": f.addr}).Info("stopping listener")
	return f.httpServer.Shutdown(context.Background())
}

func (f *HTTPFrontend) String() string {
	return f.addr
}

func (f *HTTPFrontend) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("content-type", "text/plain")
	_, _ = w.Write([]byte("OK"))
}

func (f *HTTPFrontend) dohHandler(w http.ResponseWriter, r *http.Request) {
	f.expMethod.Add(r.Method, 1)

	override, err := upstreamOverrideFromPath(r.URL.Path)
	if err != nil {
		f.expError.Add("upstream-override", 1)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodGet:
		f.getHandler(w, r, override)
	case http.MethodPost:
		f.postHandler(w, r, override)
	default:
		http.Error(w, "only GET and POST allowed", http.StatusMethodNotAllowed)
	}
}

// upstreamOverrideFromPath extracts and validates the optional
// /dns-query/{upstream} path segment, per spec §6. An absent segment
// (plain /dns-query) returns "", nil. An invalid override is treated the
// same as absent - callers fall back to the default upstream - per
// SPEC_FULL's resolution of spec §9's "upstream override safety" note.
func upstreamOverrideFromPath(path string) (string, error) {
	const prefix = "/dns-query/"
	if !strings.HasPrefix(path, prefix) {
		return "", nil
	}
	encoded := strings.TrimPrefix(path, prefix)
	if encoded == "" {
		return "", nil
	}
	decoded, err := url.PathUnescape(encoded)
	if err != nil {
		return "", nil
	}
	if err := validUpstreamOverride(decoded); err != nil {
		return "", nil
	}
	return decoded, nil
}

func (f *HTTPFrontend) getHandler(w http.ResponseWriter, r *http.Request, override string) {
	b64 := r.URL.Query().Get("dns")
	if b64 == "" {
		f.expError.Add("missing-param", 1)
		http.Error(w, "no dns query parameter found", http.StatusBadRequest)
		return
	}
	if pad := len(b64) % 4; pad != 0 {
		b64 += strings.Repeat("=", 4-pad)
	}
	b, err := base64.URLEncoding.DecodeString(b64)
	if err != nil {
		f.expError.Add("base64", 1)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.parseAndRespond(b, w, r, override)
}

func (f *HTTPFrontend) postHandler(w http.ResponseWriter, r *http.Request, override string) {
	if !acceptsDNSMessage(r) {
		f.expError.Add("unsupported-media", 1)
		err := &UnsupportedMediaError{ContentType: r.Header.Get("content-type"), Accept: r.Header.Get("accept")}
		http.Error(w, err.Error(), http.StatusNotAcceptable)
		return
	}
	b, err := io.ReadAll(r.Body)
	if err != nil {
		f.expError.Add("read-body", 1)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	f.parseAndRespond(b, w, r, override)
}

func acceptsDNSMessage(r *http.Request) bool {
	const mediaType = "application/dns-message"
	return r.Header.Get("accept") == mediaType || r.Header.Get("content-type") == mediaType
}

func (f *HTTPFrontend) parseAndRespond(b []byte, w http.ResponseWriter, r *http.Request, override string) {
	f.expQuery.Add(1)

	q := new(dns.Msg)
	if err := q.Unpack(b); err != nil {
		f.expError.Add("unpack", 1)
		http.Error(w, (&MalformedQueryError{Cause: err}).Error(), http.StatusBadRequest)
		return
	}

	ci := ClientInfo{SourceIP: f.extractClientAddress(r)}

	a, err := f.handler.HandleQuery(r.Context(), q, ci, override)
	if err != nil {
		f.expError.Add("upstream", 1)
		logger(qName(q), qType(q)).WithError(err).WithField("client", ci.SourceIP).Error("failed to resolve")
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}

	f.expResponse.Add(dns.RcodeToString[a.Rcode], 1)
	out, err := a.Pack()
	if err != nil {
		f.expError.Add("pack", 1)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("content-type", "application/dns-message")
	_, _ = w.Write(out)
}

// extractClientAddress returns the requesting DoH client's address,
// honoring X-Forwarded-For only when the immediate peer is a configured
// trusted proxy.
func (f *HTTPFrontend) extractClientAddress(r *http.Request) net.IP {
	host, _, _ := net.SplitHostPort(r.RemoteAddr)
	clientIP := net.ParseIP(host)

	xff := r.Header.Get("X-Forwarded-For")
	if f.HTTPProxyAddr == nil || xff == "" || len(xff) >= 1024 {
		return clientIP
	}

	if clientIP == nil || !f.HTTPProxyAddr.Equal(clientIP) {
		return clientIP
	}
	chain := strings.Split(xff, ", ")
	if ip := net.ParseIP(chain[len(chain)-1]); ip != nil && !ip.IsLoopback() {
		return ip
	}
	return clientIP
}
