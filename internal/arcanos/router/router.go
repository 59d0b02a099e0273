// Package router decides, per conversation turn, whether a message is
// answered by the local model or forwarded to the backend. Routing is a pure
// function of the message, the configured mode, and the deep prefixes; the
// confidence gate is applied by the orchestrator on top.
package router

import "strings"

// Route names the side that handles a turn.
type Route string

const (
	RouteLocal   Route = "local"
	RouteBackend Route = "backend"
)

// Routing modes, matching BACKEND_ROUTING_MODE.
const (
	ModeLocal   = "local"
	ModeBackend = "backend"
	ModeHybrid  = "hybrid"
)

// Decision is the outcome of routing one message.
type Decision struct {
	Route Route
	// Message is the normalized message: trimmed, and with the matched
	// prefix stripped when one applied.
	Message string
	// UsedPrefix is the deep prefix that forced the backend route, empty
	// otherwise.
	UsedPrefix string
}

// Decide routes one message. Mode "backend" and "local" short-circuit; in
// hybrid mode an ordered, case-insensitive prefix match forces the backend
// and strips the prefix. Empty messages always stay local.
func Decide(message, mode string, deepPrefixes []string) Decision {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return Decision{Route: RouteLocal, Message: msg}
	}

	switch mode {
	case ModeBackend:
		return Decision{Route: RouteBackend, Message: msg}
	case ModeLocal:
		return Decision{Route: RouteLocal, Message: msg}
	}

	lower := strings.ToLower(msg)
	for _, prefix := range deepPrefixes {
		p := strings.ToLower(strings.TrimSpace(prefix))
		if p == "" {
			continue
		}
		if strings.HasPrefix(lower, p) {
			stripped := strings.TrimSpace(msg[len(p):])
			if stripped == "" {
				stripped = msg
			}
			return Decision{Route: RouteBackend, Message: stripped, UsedPrefix: prefix}
		}
	}

	return Decision{Route: RouteLocal, Message: msg}
}
