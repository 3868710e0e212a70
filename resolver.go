package cfdoh

import (
	"context"
	"fmt"
	"net"

	"github.com/miekg/dns"
)

// Resolver is implemented by anything that can answer a DNS query. The
// UpstreamClient implements it, which lets PatchPolicy take its donor
// lookup as a Resolver and lets tests swap in a stub.
type Resolver interface {
	Resolve(ctx context.Context, q *dns.Msg, ci ClientInfo) (*dns.Msg, error)
	fmt.Stringer
}

// ClientInfo carries metadata about the DoH client making a request, for
// logging and audit purposes. It is deliberately minimal: this proxy makes
// no policy decisions based on the caller's address.
type ClientInfo struct {
	SourceIP net.IP
}
