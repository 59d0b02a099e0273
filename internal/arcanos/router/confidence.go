package router

import "strings"

// domainKeywords maps message keywords onto the backend's domain hints. The
// first matching domain (in table order) is attached to backend requests so
// the control plane can route to the right module.
var domainKeywords = []struct {
	domain   string
	keywords []string
}{
	{"backstage:booker", []string{"booking", "book a venue", "venue", "gig", "show date", "availability"}},
	{"backstage", []string{"backstage", "tour", "setlist", "soundcheck", "stage plot", "rider"}},
	{"arcanos:tutor", []string{"teach me", "tutor me", "study plan", "quiz me"}},
	{"tutor", []string{"tutor", "lesson", "homework", "explain like", "practice problems"}},
	{"arcanos:gaming", []string{"speedrun", "game build", "loadout", "patch notes"}},
	{"gaming", []string{"gaming", "game strategy", "walkthrough", "boss fight", "esports"}},
	{"research", []string{"research", "literature", "sources", "cite", "papers", "survey the"}},
}

// planningVerbs mark messages that benefit from backend-side reasoning.
var planningVerbs = []string{
	"analyze", "research", "compare", "orchestrate", "plan",
	"brainstorm", "deep dive", "synthesize",
}

// localIntents are requests for device-local capabilities that the backend
// can never serve; they zero the confidence outright.
var localIntents = []string{
	"run ", "run:", "execute ", "see ", "screenshot", "screen",
	"camera", "webcam", "look at my",
}

// DomainHint returns the backend domain for a message, empty when none of
// the keyword lists match.
func DomainHint(message string) string {
	lower := strings.ToLower(message)
	for _, entry := range domainKeywords {
		for _, kw := range entry.keywords {
			if strings.Contains(lower, kw) {
				return entry.domain
			}
		}
	}
	return ""
}

// Confidence scores how likely a message is to benefit from the backend, in
// [0,1]. Base 0.5; +0.3 for a domain keyword; +0.2 for length over 200 chars
// or a planning verb; 0.0 for a local-only intent.
func Confidence(message string) float64 {
	msg := strings.TrimSpace(message)
	if msg == "" {
		return 0
	}
	lower := strings.ToLower(msg)

	for _, intent := range localIntents {
		if strings.HasPrefix(lower, intent) || strings.Contains(lower, " "+intent) {
			return 0
		}
	}

	score := 0.5
	if DomainHint(msg) != "" {
		score += 0.3
	}
	if len(msg) > 200 || containsAny(lower, planningVerbs) {
		score += 0.2
	}
	if score > 1 {
		score = 1
	}
	return score
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
