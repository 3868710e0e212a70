package cfdoh

import (
	"context"
	"sync"

	"github.com/miekg/dns"
)

type coalesceKey struct {
	domain   string
	qtype    uint16
	upstream string
}

type inflightFetch struct {
	answer *dns.Msg
	err    error
	done   chan struct{}
}

// coalescer collapses concurrent cache-miss fetches for the same
// (domain, qtype, upstream) into a single upstream call, fanning the
// result out to every waiter. It's a generalization of the teacher's
// requestDedup with the ECS-awareness dropped - this proxy doesn't act on
// EDNS0 client subnet - keyed on the same tuple the answer cache uses.
//
// Disabled by default: the reference implementation fires one upstream
// request per concurrent miss, and that's left as the default behavior
// here too (see Handler.Coalesce). Operators who'd rather trade a little
// latency for fewer duplicate upstream calls under load can turn it on.
type coalescer struct {
	mu       sync.Mutex
	inflight map[coalesceKey]*inflightFetch
}

func newCoalescer() *coalescer {
	return &coalescer{inflight: make(map[coalesceKey]*inflightFetch)}
}

// do runs fetch for key, or waits for and reuses an already-running fetch
// for the same key. The returned message is always safe for the caller to
// mutate: it's either fetch's own return value or a copy of it.
func (c *coalescer) do(ctx context.Context, key coalesceKey, fetch func(context.Context) (*dns.Msg, error)) (*dns.Msg, error) {
	c.mu.Lock()
	req, inflight := c.inflight[key]
	if !inflight {
		req = &inflightFetch{done: make(chan struct{})}
		c.inflight[key] = req
	}
	c.mu.Unlock()

	if inflight {
		select {
		case <-req.done:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
		if req.answer == nil {
			return nil, req.err
		}
		return req.answer.Copy(), req.err
	}

	req.answer, req.err = fetch(ctx)
	close(req.done)

	c.mu.Lock()
	delete(c.inflight, key)
	c.mu.Unlock()

	if req.answer == nil {
		return nil, req.err
	}
	return req.answer.Copy(), req.err
}
