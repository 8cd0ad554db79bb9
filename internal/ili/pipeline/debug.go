package pipeline

import (
	"io"
	"log"

	"github.com/banshee-data/ili.report/internal/ili/align"
	"github.com/banshee-data/ili.report/internal/ili/cluster"
	"github.com/banshee-data/ili.report/internal/ili/growth"
	"github.com/banshee-data/ili.report/internal/ili/match"
)

var (
	opsLogger   *log.Logger
	diagLogger  *log.Logger
	traceLogger *log.Logger
)

// SetLogWriters configures the three logging streams for the pipeline package.
// Pass nil for any writer to disable that stream.
func SetLogWriters(ops, diag, trace io.Writer) {
	opsLogger = newLogger("[pipeline] ", ops)
	diagLogger = newLogger("[pipeline] ", diag)
	traceLogger = newLogger("[pipeline] ", trace)
}

func newLogger(prefix string, w io.Writer) *log.Logger {
	if w == nil {
		return nil
	}
	return log.New(w, prefix, log.LstdFlags|log.Lmicroseconds)
}

// opsf logs to the ops stream (data-quality warnings, dropped input).
func opsf(format string, args ...interface{}) {
	if opsLogger != nil {
		opsLogger.Printf(format, args...)
	}
}

// diagf logs to the diag stream (per-stage summaries, tuning context).
func diagf(format string, args ...interface{}) {
	if diagLogger != nil {
		diagLogger.Printf(format, args...)
	}
}

// tracef logs to the trace stream (per-record and per-segment detail).
func tracef(format string, args ...interface{}) {
	if traceLogger != nil {
		traceLogger.Printf(format, args...)
	}
}

// SetAllLogWriters configures the pipeline package and every stage package
// with the same three streams.
func SetAllLogWriters(ops, diag, trace io.Writer) {
	SetLogWriters(ops, diag, trace)
	align.SetLogWriters(ops, diag, trace)
	match.SetLogWriters(ops, diag, trace)
	growth.SetLogWriters(ops, diag, trace)
	cluster.SetLogWriters(ops, diag, trace)
}
