package guard

import (
	"testing"
	"time"
)

func TestFingerprint_KeyOrderInsensitive(t *testing.T) {
	a, err := Fingerprint("run", map[string]any{"command": "Get-Date", "elevated": false})
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	b, err := Fingerprint("run", map[string]any{"elevated": false, "command": "Get-Date"})
	if err != nil {
		t.Fatalf("Fingerprint: %v", err)
	}
	if a != b {
		t.Errorf("equal payloads fingerprint differently: %s vs %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("fingerprint length = %d, want 64 hex chars", len(a))
	}
}

func TestFingerprint_DistinguishesCommandAndPayload(t *testing.T) {
	a, _ := Fingerprint("run", map[string]any{"command": "ls"})
	b, _ := Fingerprint("see", map[string]any{"command": "ls"})
	c, _ := Fingerprint("run", map[string]any{"command": "ls -la"})
	if a == b || a == c {
		t.Error("different commands or payloads must not collide")
	}
}

func TestCheckAndRecord_FirstAcceptsRestRejected(t *testing.T) {
	g := New(2 * time.Second)
	fp, _ := Fingerprint("run", map[string]any{"command": "Get-Date"})

	if !g.CheckAndRecord(fp) {
		t.Fatal("first check must be accepted")
	}
	for i := 0; i < 3; i++ {
		if g.CheckAndRecord(fp) {
			t.Fatal("duplicate within the window must be rejected")
		}
	}
}

func TestCheckAndRecord_WindowExpiry(t *testing.T) {
	g := New(2 * time.Second)
	base := time.Now()
	g.now = func() time.Time { return base }

	fp, _ := Fingerprint("run", map[string]any{"command": "ls"})
	if !g.CheckAndRecord(fp) {
		t.Fatal("first check must be accepted")
	}

	g.now = func() time.Time { return base.Add(3 * time.Second) }
	if !g.CheckAndRecord(fp) {
		t.Error("fingerprint past the window must be accepted again")
	}
}

func TestReset(t *testing.T) {
	g := New(time.Minute)
	fp, _ := Fingerprint("run", map[string]any{"command": "ls"})
	g.CheckAndRecord(fp)
	g.Reset()
	if !g.CheckAndRecord(fp) {
		t.Error("reset must clear the cache")
	}
}
