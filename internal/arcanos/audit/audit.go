// Package audit implements the daemon's append-only audit trail.
//
// Every governed operation writes structured events (attempt, denial,
// success, failure, trust transition) through a Recorder. Field values pass
// through the redactor before they reach any sink, so credential material
// never lands in the trail. The runtime only ever appends; reading the trail
// back is an operator task, not a daemon concern.
package audit

import (
	"log/slog"
	"time"

	"github.com/arcanos/arcanos/common/redact"
)

// Recorder is the write-only audit interface consumed by the runtime.
type Recorder interface {
	// Record appends one event. Implementations must not return the event
	// to callers and must tolerate nil fields.
	Record(event string, fields map[string]any)
}

// Event is a single audit record as handed to a sink.
type Event struct {
	Timestamp time.Time
	Name      string
	Fields    map[string]any
}

// prepare stamps and redacts an event. Shared by all sinks.
func prepare(event string, fields map[string]any) Event {
	redacted := redact.Any(fields, redact.SensitivePatterns, redact.DefaultMaxDepth)
	m, _ := redacted.(map[string]any)
	return Event{
		Timestamp: time.Now().UTC(),
		Name:      event,
		Fields:    m,
	}
}

// LogSink records audit events as structured slog lines. Used in tests and
// as a fallback when the audit store cannot be opened.
type LogSink struct{}

// Record implements Recorder.
func (LogSink) Record(event string, fields map[string]any) {
	e := prepare(event, fields)
	attrs := make([]any, 0, 2+2*len(e.Fields))
	attrs = append(attrs, "ts", e.Timestamp.Format(time.RFC3339))
	for k, v := range e.Fields {
		attrs = append(attrs, k, v)
	}
	slog.Info("audit: "+e.Name, attrs...)
}

// Discard is a Recorder that drops every event. Test helper.
type Discard struct{}

// Record implements Recorder.
func (Discard) Record(string, map[string]any) {}
