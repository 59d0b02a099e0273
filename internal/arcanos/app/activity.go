package app

import (
	"sync"
	"time"
)

// activityCap bounds the in-memory activity feed.
const activityCap = 200

// ActivityEntry is one line in the recent-activity feed shown by
// /debug/status and the REPL.
type ActivityEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	Summary   string    `json:"summary"`
}

// activityLog is a fixed-capacity, newest-first buffer. Readers get a copy.
type activityLog struct {
	mu      sync.Mutex
	entries []ActivityEntry
}

func (a *activityLog) add(kind, summary string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	entry := ActivityEntry{Timestamp: time.Now().UTC(), Kind: kind, Summary: summary}
	a.entries = append([]ActivityEntry{entry}, a.entries...)
	if len(a.entries) > activityCap {
		a.entries = a.entries[:activityCap]
	}
}

func (a *activityLog) recent(limit int) []ActivityEntry {
	a.mu.Lock()
	defer a.mu.Unlock()
	if limit <= 0 || limit > len(a.entries) {
		limit = len(a.entries)
	}
	out := make([]ActivityEntry, limit)
	copy(out, a.entries[:limit])
	return out
}
