package audit

import (
	"database/sql"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
)

// memorySink captures prepared events for assertions.
type memorySink struct {
	events []Event
}

func (m *memorySink) Record(event string, fields map[string]any) {
	m.events = append(m.events, prepare(event, fields))
}

func TestPrepare_RedactsSensitiveFields(t *testing.T) {
	sink := &memorySink{}
	sink.Record("auth_failure", map[string]any{
		"reason": "token_missing",
		"token":  "sk-live-secret",
	})

	if len(sink.events) != 1 {
		t.Fatalf("events = %d", len(sink.events))
	}
	e := sink.events[0]
	if e.Name != "auth_failure" {
		t.Errorf("name = %q", e.Name)
	}
	if e.Fields["reason"] != "token_missing" {
		t.Errorf("reason = %v", e.Fields["reason"])
	}
	if got := e.Fields["token"]; got != "[REDACTED:14 chars]" {
		t.Errorf("token = %v, must be redacted", got)
	}
	if e.Timestamp.IsZero() {
		t.Error("timestamp not stamped")
	}
}

func TestStore_AppendsEvents(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	store, err := OpenStore(path)
	if err != nil {
		t.Fatalf("OpenStore: %v", err)
	}
	defer store.Close()

	store.Record("execute_attempt", map[string]any{"command": "run", "api_key": "abcd1234"})
	store.Record("execute_success", nil)

	db, err := sql.Open("sqlite", path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db.Close()

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM audit_log").Scan(&count); err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 2 {
		t.Errorf("rows = %d, want 2", count)
	}

	var fieldsJSON string
	if err := db.QueryRow(
		"SELECT fields_json FROM audit_log WHERE event = 'execute_attempt'",
	).Scan(&fieldsJSON); err != nil {
		t.Fatalf("select: %v", err)
	}
	if strings.Contains(fieldsJSON, "abcd1234") {
		t.Error("credential value persisted unredacted")
	}
	var fields map[string]any
	if err := json.Unmarshal([]byte(fieldsJSON), &fields); err != nil {
		t.Fatalf("fields not valid JSON: %v", err)
	}
	if fields["command"] != "run" {
		t.Errorf("command = %v", fields["command"])
	}
}
