// Package monitoring carries host-level logging and the Prometheus
// collectors that describe reconciliation runs.
package monitoring

import "log"

// Logf is the host-level logger used by the CLI and the result archive. It
// defaults to log.Printf; SetLogger redirects or mutes it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
