// Package trust derives the daemon's trust state from backend reachability
// and registry cache freshness, and caches the capability registry with a
// TTL. The governance gate reads the state; only the orchestrator mutates it.
package trust

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/arcanos/arcanos/internal/arcanos/audit"
	"github.com/arcanos/arcanos/internal/arcanos/metrics"
)

// State is the three-valued trust level.
type State string

const (
	Full     State = "FULL"
	Degraded State = "DEGRADED"
	Unsafe   State = "UNSAFE"
)

// RegistryFetcher retrieves the backend capability registry.
type RegistryFetcher interface {
	Registry(ctx context.Context) (map[string]any, error)
}

// Manager holds the registry cache and the current trust state. All state is
// guarded by one mutex; no lock is held across an HTTP call.
type Manager struct {
	fetcher RegistryFetcher
	audit   audit.Recorder
	ttl     time.Duration
	// backendConfigured is fixed at construction; an unconfigured backend
	// can never reach Full.
	backendConfigured bool
	now               func() time.Time

	mu         sync.Mutex
	registry   map[string]any
	updatedAt  time.Time
	state      State
	warnedOnce bool
}

// NewManager builds a Manager starting at Degraded. fetcher may be nil when
// the backend is unconfigured.
func NewManager(fetcher RegistryFetcher, sink audit.Recorder, ttl time.Duration, backendConfigured bool) *Manager {
	if sink == nil {
		sink = audit.LogSink{}
	}
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	m := &Manager{
		fetcher:           fetcher,
		audit:             sink,
		ttl:               ttl,
		backendConfigured: backendConfigured,
		now:               time.Now,
		state:             Degraded,
	}
	metrics.SetTrustState(strings.ToLower(string(Degraded)))
	return m
}

// RefreshRegistry fetches the registry and replaces the cache on success. On
// failure the existing cache is left untouched and a warning is logged once.
func (m *Manager) RefreshRegistry(ctx context.Context) error {
	if m.fetcher == nil {
		return nil
	}
	reg, err := m.fetcher.Registry(ctx)
	if err != nil {
		m.mu.Lock()
		warned := m.warnedOnce
		m.warnedOnce = true
		m.mu.Unlock()
		if !warned {
			slog.Warn("trust: registry refresh failed", "err", err)
		}
		return err
	}

	m.mu.Lock()
	m.registry = reg
	m.updatedAt = m.now()
	m.warnedOnce = false
	m.mu.Unlock()
	return nil
}

// IsValid reports whether the registry cache is present and within TTL.
func (m *Manager) IsValid() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validLocked()
}

func (m *Manager) validLocked() bool {
	return m.registry != nil && m.now().Sub(m.updatedAt) <= m.ttl
}

// Recompute derives the trust state: Full iff the backend is configured and
// the registry cache is valid, otherwise Degraded. Transitions are audited.
func (m *Manager) Recompute() State {
	m.mu.Lock()
	next := Degraded
	if m.backendConfigured && m.validLocked() {
		next = Full
	}
	prev := m.state
	m.state = next
	m.mu.Unlock()

	m.noteTransition(prev, next, "recompute")
	return next
}

// Set forces an explicit trust transition, e.g. to Unsafe after a
// governance denial.
func (m *Manager) Set(state State) {
	m.mu.Lock()
	prev := m.state
	m.state = state
	m.mu.Unlock()

	m.noteTransition(prev, state, "explicit")
}

// State returns the current trust level.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Registry returns the cached registry payload, nil when never fetched.
// Callers must not mutate the returned map.
func (m *Manager) Registry() map[string]any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.registry
}

func (m *Manager) noteTransition(prev, next State, cause string) {
	metrics.SetTrustState(strings.ToLower(string(next)))
	if prev == next {
		return
	}
	m.audit.Record("trust_transition", map[string]any{
		"from":  string(prev),
		"to":    string(next),
		"cause": cause,
	})
	slog.Info("trust: state changed", "from", prev, "to", next, "cause", cause)
}
