package cfdoh

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/miekg/dns"
)

// Outcome classifies how a query was ultimately answered, for the
// structured query/patch audit log. This is a distinct, dedicated log from
// the package's operational logrus output (logger.go): one line per query
// decision, meant to be consumed by operators or piped into the syslog
// forwarder (auditlog.go), not for debugging the proxy itself.
type Outcome string

const (
	OutcomeCacheHit Outcome = "cache-hit"
	OutcomeUpstream Outcome = "upstream"
	OutcomePatched  Outcome = "patched"
	OutcomeBypassed Outcome = "bypassed"
)

type LogFormat string

const (
	LogFormatText LogFormat = "text"
	LogFormatJSON LogFormat = "json"
)

// QueryLog writes one structured entry per resolved query describing
// whether it was served from cache, forwarded and returned as-is, or
// patched with a donor's address records.
type QueryLog struct {
	logger *slog.Logger
}

type QueryLogOptions struct {
	// OutputFile to append entries to. Empty means stdout.
	OutputFile string
	// OutputFormat controls the slog handler used. Defaults to text.
	OutputFormat LogFormat
}

// NewQueryLog builds a QueryLog writing to the configured destination.
func NewQueryLog(opt QueryLogOptions) (*QueryLog, error) {
	w := os.Stdout
	if opt.OutputFile != "" {
		f, err := os.OpenFile(opt.OutputFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		w = f
	}
	handlerOpts := &slog.HandlerOptions{ReplaceAttr: logReplaceAttr}
	var logger *slog.Logger
	switch opt.OutputFormat {
	case "", LogFormatText:
		logger = slog.New(slog.NewTextHandler(w, handlerOpts))
	case LogFormatJSON:
		logger = slog.New(slog.NewJSONHandler(w, handlerOpts))
	default:
		return nil, fmt.Errorf("invalid output format %q", opt.OutputFormat)
	}
	return &QueryLog{logger: logger}, nil
}

// Record writes one audit line for a resolved query. donorIP and cdnIP are
// only meaningful when outcome is OutcomePatched/bypassed-by-CDN-check;
// pass "" when not applicable.
func (l *QueryLog) Record(ci ClientInfo, q *dns.Msg, outcome Outcome, cdnIP, donorIP string) {
	attrs := []slog.Attr{
		slog.String("source-ip", ci.SourceIP.String()),
		slog.String("question-name", qName(q)),
		slog.String("question-type", dns.Type(qType(q)).String()),
		slog.String("outcome", string(outcome)),
	}
	if cdnIP != "" {
		attrs = append(attrs, slog.String("cdn-ip", cdnIP))
	}
	if donorIP != "" {
		attrs = append(attrs, slog.String("donor-ip", donorIP))
	}
	l.logger.LogAttrs(context.Background(), slog.LevelInfo, "", attrs...)
}

func logReplaceAttr(groups []string, a slog.Attr) slog.Attr {
	if a.Key == "msg" || a.Key == "level" {
		return slog.Attr{}
	}
	return a
}
