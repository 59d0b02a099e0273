package trust

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arcanos/arcanos/internal/arcanos/audit"
)

type stubFetcher struct {
	reg map[string]any
	err error
}

func (s *stubFetcher) Registry(ctx context.Context) (map[string]any, error) {
	return s.reg, s.err
}

type captureSink struct {
	mu     sync.Mutex
	events []string
}

func (c *captureSink) Record(event string, fields map[string]any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureSink) count(name string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e == name {
			n++
		}
	}
	return n
}

func TestRecompute_FullRequiresConfiguredAndFreshRegistry(t *testing.T) {
	m := NewManager(&stubFetcher{reg: map[string]any{"modules": []any{"tutor"}}}, audit.Discard{}, time.Minute, true)

	if got := m.Recompute(); got != Degraded {
		t.Fatalf("before refresh: %s, want DEGRADED", got)
	}
	if err := m.RefreshRegistry(context.Background()); err != nil {
		t.Fatalf("RefreshRegistry: %v", err)
	}
	if got := m.Recompute(); got != Full {
		t.Fatalf("after refresh: %s, want FULL", got)
	}
}

func TestRecompute_TTLExpiryDegrades(t *testing.T) {
	m := NewManager(&stubFetcher{reg: map[string]any{}}, audit.Discard{}, time.Minute, true)
	m.RefreshRegistry(context.Background())
	if m.Recompute() != Full {
		t.Fatal("fresh cache should be FULL")
	}

	base := time.Now()
	m.now = func() time.Time { return base.Add(2 * time.Minute) }
	if m.IsValid() {
		t.Error("cache older than TTL must be invalid")
	}
	if got := m.Recompute(); got != Degraded {
		t.Errorf("expired cache: %s, want DEGRADED", got)
	}
}

func TestRecompute_UnconfiguredBackendNeverFull(t *testing.T) {
	m := NewManager(nil, audit.Discard{}, time.Minute, false)
	if got := m.Recompute(); got != Degraded {
		t.Errorf("state = %s, want DEGRADED", got)
	}
}

func TestRefreshRegistry_FailureLeavesCache(t *testing.T) {
	f := &stubFetcher{reg: map[string]any{"modules": []any{"a"}}}
	m := NewManager(f, audit.Discard{}, time.Minute, true)
	m.RefreshRegistry(context.Background())

	f.reg, f.err = nil, errors.New("backend down")
	if err := m.RefreshRegistry(context.Background()); err == nil {
		t.Fatal("expected refresh error")
	}
	if m.Registry() == nil {
		t.Error("failed refresh must leave the previous cache intact")
	}
	if !m.IsValid() {
		t.Error("previous cache still within TTL must stay valid")
	}
}

func TestTransitionsAudited(t *testing.T) {
	sink := &captureSink{}
	m := NewManager(&stubFetcher{reg: map[string]any{}}, sink, time.Minute, true)

	m.RefreshRegistry(context.Background())
	m.Recompute() // Degraded -> Full
	m.Recompute() // Full -> Full, no event
	m.Set(Unsafe) // Full -> Unsafe

	if got := sink.count("trust_transition"); got != 2 {
		t.Errorf("trust_transition events = %d, want 2", got)
	}
}

func TestPromptBlock_RegistryXORFallback(t *testing.T) {
	m := NewManager(&stubFetcher{reg: map[string]any{
		"modules": []any{"tutor", map[string]any{"name": "gaming", "description": "game assistant"}},
	}}, audit.Discard{}, time.Minute, true)

	block := m.PromptBlock()
	if !strings.Contains(block, "Capability details are currently unavailable") {
		t.Error("invalid cache must render the fallback block")
	}

	m.RefreshRegistry(context.Background())
	block = m.PromptBlock()
	if !strings.Contains(block, "live registry") || !strings.Contains(block, "tutor") {
		t.Errorf("valid cache must render the registry block, got:\n%s", block)
	}
	if strings.Contains(block, "currently unavailable") {
		t.Error("registry and fallback blocks must never both appear")
	}
	if !strings.Contains(block, "gaming: game assistant") {
		t.Errorf("object entries not rendered:\n%s", block)
	}
}
