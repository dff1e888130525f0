// Package diag provides injectable structured diagnostic events for silent
// recoveries: payload corruption, oversize repair, and schema parse failures
// are reported here instead of being surfaced to the user.
package diag

import "log/slog"

// Reporter receives diagnostic events from the engine.
type Reporter interface {
	Report(event string, attrs ...slog.Attr)
}

// SlogReporter emits events through a slog.Logger at warn level.
type SlogReporter struct {
	Logger *slog.Logger
}

// Report implements Reporter.
func (r SlogReporter) Report(event string, attrs ...slog.Attr) {
	logger := r.Logger
	if logger == nil {
		logger = slog.Default()
	}
	args := make([]any, 0, len(attrs))
	for _, a := range attrs {
		args = append(args, a)
	}
	logger.Warn(event, args...)
}

// Nop discards every event.
type Nop struct{}

// Report implements Reporter.
func (Nop) Report(string, ...slog.Attr) {}

// Recorder captures events for tests.
type Recorder struct {
	Events []RecordedEvent
}

// RecordedEvent is one captured diagnostic event.
type RecordedEvent struct {
	Event string
	Attrs []slog.Attr
}

// Report implements Reporter.
func (r *Recorder) Report(event string, attrs ...slog.Attr) {
	r.Events = append(r.Events, RecordedEvent{Event: event, Attrs: attrs})
}

// Has reports whether an event with the given name was recorded.
func (r *Recorder) Has(event string) bool {
	for _, e := range r.Events {
		if e.Event == event {
			return true
		}
	}
	return false
}
