package observability

import (
	"fmt"
	"log/slog"
)

// DiagnosticSink receives faults that must not alter an exchange's outcome:
// observer errors and panics, verification failures, journal write errors.
// Implementations must be safe for concurrent use and must not panic.
type DiagnosticSink interface {
	Report(component, operation string, err error)
}

// LogSink reports to a slog logger and counts reports in Metrics.
type LogSink struct {
	Logger  *slog.Logger
	Metrics *Metrics
}

// NewLogSink returns a sink writing to logger; either argument may be nil.
func NewLogSink(logger *slog.Logger, m *Metrics) *LogSink {
	return &LogSink{Logger: logger, Metrics: m}
}

func (s *LogSink) Report(component, operation string, err error) {
	if s == nil {
		return
	}
	defer func() {
		// A broken handler or writer must never reach the caller.
		_ = recover()
	}()

	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.Warn("diagnostic", "component", component, "operation", operation, "error", err)
	if s.Metrics != nil {
		s.Metrics.Diagnostics.WithLabelValues(component, operation).Inc()
	}
}

// SinkFunc adapts a function to DiagnosticSink.
type SinkFunc func(component, operation string, err error)

func (f SinkFunc) Report(component, operation string, err error) { f(component, operation, err) }

// Discard drops every report.
var Discard DiagnosticSink = SinkFunc(func(string, string, error) {})

// SafeReport delivers a report to sink, tolerating a nil sink and recovering
// from a sink that panics.
func SafeReport(sink DiagnosticSink, component, operation string, err error) {
	if sink == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("diagnostic sink panicked", "component", component, "operation", operation, "panic", fmt.Sprint(r))
		}
	}()
	sink.Report(component, operation, err)
}
