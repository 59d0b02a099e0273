// Package guard rejects duplicate command dispatches within a short window.
// Commands are identified by a SHA-256 fingerprint of their canonical JSON
// form, so semantically equal payloads with different key order collide.
package guard

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gowebpki/jcs"
)

// DefaultWindow is the dedup window applied when none is configured.
const DefaultWindow = 2 * time.Second

// Guard is the idempotency cache. Safe for concurrent use.
type Guard struct {
	window time.Duration
	now    func() time.Time

	mu   sync.Mutex
	seen map[string]time.Time
}

// New creates a Guard with the given dedup window (DefaultWindow when <= 0).
func New(window time.Duration) *Guard {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Guard{
		window: window,
		now:    time.Now,
		seen:   make(map[string]time.Time),
	}
}

// Fingerprint computes the hex SHA-256 of the RFC 8785 canonical JSON of
// {command, payload}. Payloads that marshal to the same canonical bytes get
// the same fingerprint regardless of map iteration order.
func Fingerprint(command string, payload any) (string, error) {
	raw, err := json.Marshal(map[string]any{
		"command": command,
		"payload": payload,
	})
	if err != nil {
		return "", fmt.Errorf("marshal fingerprint input: %w", err)
	}
	canonical, err := jcs.Transform(raw)
	if err != nil {
		return "", fmt.Errorf("canonicalize fingerprint input: %w", err)
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// CheckAndRecord purges expired entries, then accepts the fingerprint if it
// has not been seen within the window. The first caller wins; duplicates are
// rejected until the window elapses.
func (g *Guard) CheckAndRecord(fp string) bool {
	now := g.now()
	g.mu.Lock()
	defer g.mu.Unlock()

	for k, ts := range g.seen {
		if now.Sub(ts) > g.window {
			delete(g.seen, k)
		}
	}
	if _, dup := g.seen[fp]; dup {
		return false
	}
	g.seen[fp] = now
	return true
}

// Reset clears the cache.
func (g *Guard) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen = make(map[string]time.Time)
}
