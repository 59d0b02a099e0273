// Package redact strips credential material from structured data before it
// reaches the audit trail, log output, or any telemetry payload.
//
// # Threat model
//
// Backend tokens, LLM API keys, and confirmation tokens must never appear in:
//   - Log lines emitted by the daemon
//   - Audit events appended to the audit store
//   - Error details forwarded to the operator or the debug transport
//
// Redaction is best-effort: key-based redaction relies on the sensitive key
// patterns below, value-based redaction on callers passing the right values.
// It is NOT a substitute for keeping secrets out of log call-sites in the
// first place.
package redact

import (
	"fmt"
	"strings"
)

const placeholder = "[REDACTED]"

// DefaultMaxDepth bounds the traversal of nested structures in Any. Payloads
// deeper than this are truncated rather than walked, so a hostile or cyclic
// payload cannot stall the audit path.
const DefaultMaxDepth = 10

// SensitivePatterns is the default denylist of key substrings. Matching is
// case-insensitive.
var SensitivePatterns = []string{
	"api_key", "apikey", "token", "password", "secret",
	"authorization", "credential",
}

// String replaces every occurrence of each sensitive value in s with
// [REDACTED]. Values shorter than 4 characters are skipped to avoid
// spurious redaction of common substrings.
func String(s string, sensitiveValues ...string) string {
	for _, v := range sensitiveValues {
		if len(v) < 4 {
			continue
		}
		s = strings.ReplaceAll(s, v, placeholder)
	}
	return s
}

// Any returns a deep copy of data with values redacted for every map key
// matching one of patterns (case-insensitive substring match). String values
// are replaced by "[REDACTED:N chars]" where N is the original length; other
// matched values become "[REDACTED]". Nesting is traversed through maps and
// slices up to maxDepth levels; deeper structures are replaced wholesale.
//
// Any is a pure function: the input is never mutated.
func Any(data any, patterns []string, maxDepth int) any {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return redactValue(data, patterns, maxDepth)
}

// Map is the common case: redact a string-keyed event field map with the
// default patterns and depth bound.
func Map(m map[string]any) map[string]any {
	out, _ := Any(m, SensitivePatterns, DefaultMaxDepth).(map[string]any)
	return out
}

func redactValue(v any, patterns []string, depth int) any {
	if depth <= 0 {
		return placeholder
	}
	switch tv := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(tv))
		for k, val := range tv {
			if isSensitiveKey(k, patterns) {
				out[k] = redactedLeaf(val)
				continue
			}
			out[k] = redactValue(val, patterns, depth-1)
		}
		return out
	case map[string]string:
		out := make(map[string]any, len(tv))
		for k, val := range tv {
			if isSensitiveKey(k, patterns) {
				out[k] = redactedLeaf(val)
				continue
			}
			out[k] = val
		}
		return out
	case []any:
		out := make([]any, len(tv))
		for i, item := range tv {
			out[i] = redactValue(item, patterns, depth-1)
		}
		return out
	default:
		return v
	}
}

// redactedLeaf produces the replacement value for a matched key. String
// values keep their length visible so operators can distinguish an empty
// credential from a populated one without seeing it.
func redactedLeaf(v any) any {
	if s, ok := v.(string); ok {
		return fmt.Sprintf("[REDACTED:%d chars]", len(s))
	}
	return placeholder
}

func isSensitiveKey(key string, patterns []string) bool {
	if len(patterns) == 0 {
		patterns = SensitivePatterns
	}
	lower := strings.ToLower(key)
	for _, p := range patterns {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
