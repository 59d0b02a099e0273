package trust

import (
	"fmt"
	"sort"
	"strings"
)

// fallbackPromptBlock describes the backend in general terms when no fresh
// registry is available. Exactly one of the two blocks ever appears in a
// system prompt.
const fallbackPromptBlock = `## Backend capabilities
The remote backend is available for deep reasoning, research, and
domain-routed requests. Capability details are currently unavailable;
assume the standard ask, vision, and transcription endpoints.`

// PromptBlock renders the registry-derived capability block when the cache
// is valid, and the fallback block otherwise. Never both.
func (m *Manager) PromptBlock() string {
	m.mu.Lock()
	valid := m.validLocked()
	reg := m.registry
	m.mu.Unlock()

	if !valid {
		return fallbackPromptBlock
	}
	return formatRegistry(reg)
}

// formatRegistry renders the opaque registry payload into a deterministic
// prompt block. Known top-level sections are listed with their entries;
// unknown sections fall back to a key listing.
func formatRegistry(reg map[string]any) string {
	var b strings.Builder
	b.WriteString("## Backend capabilities (live registry)\n")

	sections := make([]string, 0, len(reg))
	for k := range reg {
		sections = append(sections, k)
	}
	sort.Strings(sections)

	for _, section := range sections {
		b.WriteString(fmt.Sprintf("### %s\n", section))
		switch v := reg[section].(type) {
		case []any:
			for _, item := range v {
				b.WriteString(fmt.Sprintf("- %s\n", renderEntry(item)))
			}
		case map[string]any:
			keys := make([]string, 0, len(v))
			for k := range v {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				b.WriteString(fmt.Sprintf("- %s: %s\n", k, renderEntry(v[k])))
			}
		default:
			b.WriteString(fmt.Sprintf("- %v\n", v))
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

func renderEntry(v any) string {
	switch e := v.(type) {
	case string:
		return e
	case map[string]any:
		if name, ok := e["name"].(string); ok {
			if desc, ok := e["description"].(string); ok && desc != "" {
				return name + ": " + desc
			}
			return name
		}
		return fmt.Sprintf("%v", e)
	default:
		return fmt.Sprintf("%v", e)
	}
}
