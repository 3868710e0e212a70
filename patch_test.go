package cfdoh

import (
	"context"
	"testing"

	"github.com/miekg/dns"
	"github.com/stretchr/testify/require"
)

func aRecord(name, ip string, ttl uint32) *dns.A {
	return &dns.A{
		Hdr: dns.RR_Header{Name: name, Rrtype: dns.TypeA, Class: dns.ClassINET, Ttl: ttl},
		A:   mustParseIP4(ip),
	}
}

func TestPatchAppliesToCloudflareAnswer(t *testing.T) {
	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)

	answer := new(dns.Msg)
	answer.SetReply(q)
	answer.Answer = []dns.RR{aRecord("example.com.", "104.16.0.1", 300)}

	donorMsg := new(dns.Msg)
	donorMsg.Answer = []dns.RR{aRecord("namu.wiki.", "1.2.3.4", 120)}
	donor := &stubResolver{name: "donor", msg: donorMsg}

	policy := NewPatchPolicy(donor, "namu.wiki", NewCDNClassifier(nil))
	patched, didPatch, err := policy.Apply(context.Background(), q, answer)
	require.NoError(t, err)
	require.True(t, didPatch)
	require.Len(t, patched.Answer, 1)

	a, ok := patched.Answer[0].(*dns.A)
	require.True(t, ok)
	require.Equal(t, "1.2.3.4", a.A.String())
	require.Equal(t, "example.com.", a.Hdr.Name)
	require.EqualValues(t, donorTTLFloor, a.Hdr.Ttl)
	require.Equal(t, 1, donor.calls)
}

func TestPatchLeavesNonCloudflareAnswerAlone(t *testing.T) {
	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)

	answer := new(dns.Msg)
	answer.SetReply(q)
	answer.Answer = []dns.RR{aRecord("example.com.", "8.8.8.8", 300)}

	donor := &stubResolver{name: "donor"}
	policy := NewPatchPolicy(donor, "namu.wiki", NewCDNClassifier(nil))

	patched, didPatch, err := policy.Apply(context.Background(), q, answer)
	require.NoError(t, err)
	require.False(t, didPatch)
	require.Same(t, answer, patched)
	require.Equal(t, 0, donor.calls)
}

func TestPatchPreservesNonAddressRecords(t *testing.T) {
	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)

	txt := &dns.TXT{
		Hdr: dns.RR_Header{Name: "example.com.", Rrtype: dns.TypeTXT, Class: dns.ClassINET, Ttl: 60},
		Txt: []string{"v=spf1 -all"},
	}
	answer := new(dns.Msg)
	answer.SetReply(q)
	answer.Answer = []dns.RR{aRecord("example.com.", "104.16.0.1", 300), txt}

	donorMsg := new(dns.Msg)
	donorMsg.Answer = []dns.RR{aRecord("namu.wiki.", "1.2.3.4", 120)}
	donor := &stubResolver{name: "donor", msg: donorMsg}

	policy := NewPatchPolicy(donor, "namu.wiki", NewCDNClassifier(nil))
	patched, didPatch, err := policy.Apply(context.Background(), q, answer)
	require.NoError(t, err)
	require.True(t, didPatch)
	require.Len(t, patched.Answer, 2)

	var sawTXT, sawA bool
	for _, rr := range patched.Answer {
		switch rr.(type) {
		case *dns.TXT:
			sawTXT = true
		case *dns.A:
			sawA = true
		}
	}
	require.True(t, sawTXT)
	require.True(t, sawA)
}

func TestPatchRespectsBypassList(t *testing.T) {
	q := new(dns.Msg)
	q.SetQuestion("cloudflare.com.", dns.TypeA)

	answer := new(dns.Msg)
	answer.SetReply(q)
	answer.Answer = []dns.RR{aRecord("cloudflare.com.", "104.16.0.1", 300)}

	donor := &stubResolver{name: "donor"}
	policy := NewPatchPolicy(donor, "namu.wiki", NewCDNClassifier(nil))

	patched, didPatch, err := policy.Apply(context.Background(), q, answer)
	require.NoError(t, err)
	require.False(t, didPatch)
	require.Same(t, answer, patched)
}

func TestPatchSkipsNonAddressQtype(t *testing.T) {
	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeMX)

	answer := new(dns.Msg)
	answer.SetReply(q)

	donor := &stubResolver{name: "donor"}
	policy := NewPatchPolicy(donor, "namu.wiki", NewCDNClassifier(nil))

	_, didPatch, err := policy.Apply(context.Background(), q, answer)
	require.NoError(t, err)
	require.False(t, didPatch)
}

func TestPatchAppliesTTLFloor(t *testing.T) {
	q := new(dns.Msg)
	q.SetQuestion("example.com.", dns.TypeA)

	answer := new(dns.Msg)
	answer.SetReply(q)
	answer.Answer = []dns.RR{aRecord("example.com.", "104.16.0.1", 300)}

	donorMsg := new(dns.Msg)
	donorMsg.Answer = []dns.RR{aRecord("namu.wiki.", "1.2.3.4", 60)}
	donor := &stubResolver{name: "donor", msg: donorMsg}

	policy := NewPatchPolicy(donor, "namu.wiki", NewCDNClassifier(nil))
	patched, _, err := policy.Apply(context.Background(), q, answer)
	require.NoError(t, err)

	a := patched.Answer[0].(*dns.A)
	require.EqualValues(t, donorTTLFloor, a.Hdr.Ttl)
}
