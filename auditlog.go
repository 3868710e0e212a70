package cfdoh

import (
	"fmt"

	syslog "github.com/RackSec/srslog"
	"github.com/miekg/dns"
)

// AuditLog forwards one line per query/patch decision to a syslog server,
// for operators who already centralize logs that way instead of scraping
// the QueryLog output files. It is optional and config-gated; when nil,
// callers simply skip it.
type AuditLog struct {
	writer *syslog.Writer
	tag    string
}

type AuditLogOptions struct {
	// "udp", "tcp", "unix". Empty connects to the local syslog daemon.
	Network string
	// Remote address. Ignored when Network is empty.
	Address string
	// Priority as per https://pkg.go.dev/log/syslog#Priority.
	Priority int
	Tag      string
}

// NewAuditLog dials the configured syslog destination.
func NewAuditLog(opt AuditLogOptions) (*AuditLog, error) {
	writer, err := syslog.Dial(opt.Network, opt.Address, syslog.Priority(opt.Priority), opt.Tag)
	if err != nil {
		return nil, err
	}
	return &AuditLog{writer: writer, tag: opt.Tag}, nil
}

// Record sends a single syslog line describing how a query was answered.
func (a *AuditLog) Record(ci ClientInfo, q *dns.Msg, outcome Outcome, cdnIP, donorIP string) {
	msg := fmt.Sprintf("client=%s qname=%s qtype=%s outcome=%s", ci.SourceIP.String(), qName(q), dns.Type(qType(q)).String(), outcome)
	if cdnIP != "" {
		msg += fmt.Sprintf(" cdn-ip=%s", cdnIP)
	}
	if donorIP != "" {
		msg += fmt.Sprintf(" donor-ip=%s", donorIP)
	}
	if _, err := a.writer.Write([]byte(msg)); err != nil {
		Log.WithError(err).Error("failed to send syslog audit entry")
	}
}
