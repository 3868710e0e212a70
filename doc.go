/*
Package cfdoh implements a DNS-over-HTTPS forwarding proxy that detects
when an upstream answer's address records point into a Cloudflare range
and, when so, substitutes a donor hostname's address records instead,
leaving every other record in the answer untouched.

A Handler ties together the pieces: it decodes an incoming query, checks
the answer cache, falls back to an upstream DoH resolver on a miss, runs
the result through a PatchPolicy, and re-caches before encoding a reply.
httpfrontend.go exposes that Handler over the DNS-over-HTTPS wire format.

	upstream, _ := cfdoh.NewUpstreamClient("https://1.1.1.1/dns-query", cfdoh.UpstreamClientOptions{})
	h := cfdoh.NewHandler(upstream, cfdoh.HandlerOptions{DonorName: "namu.wiki"})
	l := cfdoh.NewHTTPFrontend("127.0.0.1:8443", h, nil)
	panic(l.Start())
*/
package cfdoh
