package cfdoh

import (
	"github.com/sirupsen/logrus"
)

// Log is the package-wide operational logger. Callers embedding this
// package can replace it (e.g. to redirect output or change the level)
// before starting a Handler.
var Log = logrus.New()

// logger returns a log entry pre-populated with the fields every
// operational log line in the request path carries.
func logger(domain string, qtype uint16) *logrus.Entry {
	return Log.WithFields(logrus.Fields{
		"qname": domain,
		"qtype": qtype,
	})
}
