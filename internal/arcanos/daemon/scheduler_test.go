package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/arcanos/arcanos/internal/arcanos/backend"
)

func TestBackoffDelay(t *testing.T) {
	interval := 2 * time.Second
	cases := []struct {
		consecutive int
		retryAfter  time.Duration
		want        time.Duration
	}{
		{1, 0, 4 * time.Second},
		{2, 0, 8 * time.Second},
		{3, 0, 16 * time.Second},
		{4, 0, 32 * time.Second},
		{5, 0, 32 * time.Second},  // exponent clamped at 4
		{10, 0, 32 * time.Second}, // still clamped
		{2, 5 * time.Second, 8 * time.Second},  // smaller Retry-After ignored
		{1, 30 * time.Second, 30 * time.Second}, // larger Retry-After wins
	}
	for _, tc := range cases {
		got := backoffDelay(interval, tc.consecutive, tc.retryAfter)
		if got != tc.want {
			t.Errorf("backoffDelay(%s, %d, %s) = %s, want %s",
				interval, tc.consecutive, tc.retryAfter, got, tc.want)
		}
	}
}

func TestBackoffDelay_CappedAt120s(t *testing.T) {
	got := backoffDelay(60*time.Second, 4, 0)
	if got != 120*time.Second {
		t.Errorf("backoffDelay = %s, want 120s cap", got)
	}
}

// step is one canned transport response.
type step struct {
	resp *backend.HTTPResponse
	err  error
}

type fakeTransport struct {
	mu       sync.Mutex
	steps    []step
	requests []string
	bodies   []any
}

func (f *fakeTransport) MakeRequest(ctx context.Context, method, path string, body any) (*backend.HTTPResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, method+" "+path)
	f.bodies = append(f.bodies, body)
	if len(f.steps) == 0 {
		return &backend.HTTPResponse{StatusCode: 200, Header: http.Header{}, Body: []byte(`{}`)}, nil
	}
	s := f.steps[0]
	f.steps = f.steps[1:]
	return s.resp, s.err
}

func status(code int, body string, header http.Header) *backend.HTTPResponse {
	if header == nil {
		header = http.Header{}
	}
	return &backend.HTTPResponse{StatusCode: code, Header: header, Body: []byte(body)}
}

// runLoop drives a loop with a scripted sleep: delays are recorded and the
// loop is told to stop after maxSleeps.
func scriptedScheduler(cfg Config, maxSleeps int) (*Scheduler, *[]time.Duration) {
	s := New(cfg)
	s.startedAt = time.Now()
	delays := &[]time.Duration{}
	s.sleep = func(d time.Duration) bool {
		*delays = append(*delays, d)
		return len(*delays) < maxSleeps
	}
	return s, delays
}

func TestHeartbeatLoop_RateLimitBackoffSequence(t *testing.T) {
	tr := &fakeTransport{steps: []step{
		{resp: status(429, `{}`, nil)},
		{resp: status(429, `{}`, http.Header{"Retry-After": []string{"5"}})},
		{resp: status(429, `{}`, nil)},
		{resp: status(200, `{}`, nil)},
	}}
	s, delays := scriptedScheduler(Config{
		Transport:         tr,
		InstanceID:        "inst",
		HeartbeatInterval: 2 * time.Second,
	}, 5) // stagger + 4 iteration sleeps

	done := make(chan struct{})
	s.heartbeatLoop(done)

	want := []time.Duration{
		heartbeatStagger,
		4 * time.Second,  // counter 1
		8 * time.Second,  // counter 2, Retry-After 5 < 8 ignored
		16 * time.Second, // counter 3
		2 * time.Second,  // 200 resets to the interval
	}
	got := *delays
	if len(got) != len(want) {
		t.Fatalf("delays = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("delays = %v, want %v", got, want)
			break
		}
	}
}

func TestHeartbeatLoop_BodyShape(t *testing.T) {
	tr := &fakeTransport{}
	s, _ := scriptedScheduler(Config{
		Transport:         tr,
		ClientID:          "arcanos",
		InstanceID:        "inst-1",
		HeartbeatInterval: time.Second,
	}, 2)

	done := make(chan struct{})
	s.heartbeatLoop(done)

	if len(tr.bodies) == 0 {
		t.Fatal("no heartbeat sent")
	}
	body, ok := tr.bodies[0].(map[string]any)
	if !ok {
		t.Fatalf("body type %T", tr.bodies[0])
	}
	if body["clientId"] != "arcanos" || body["instanceId"] != "inst-1" {
		t.Errorf("body = %v", body)
	}
	if body["routingMode"] != "http" {
		t.Errorf("routingMode = %v", body["routingMode"])
	}
	if _, ok := body["stats"].(map[string]any); !ok {
		t.Errorf("stats missing: %v", body)
	}
}

func TestPollLoop_UnauthorizedStopsPermanently(t *testing.T) {
	tr := &fakeTransport{steps: []step{
		{resp: status(401, `{}`, nil)},
	}}
	s, delays := scriptedScheduler(Config{
		Transport:    tr,
		InstanceID:   "inst",
		PollInterval: time.Second,
		Dispatcher:   NewDispatcher(Handlers{}),
	}, 100)

	done := make(chan struct{})
	s.pollLoop(done)

	if len(tr.requests) != 1 {
		t.Errorf("requests after 401 = %v, want exactly one", tr.requests)
	}
	if len(*delays) != 0 {
		t.Errorf("poll loop slept after 401: %v", *delays)
	}
}

func TestPollLoop_DispatchesAndAcks(t *testing.T) {
	commands := `{"commands":[
		{"id":"c1","name":"notify","payload":{"message":"hi"}},
		{"id":"c2","name":"run","payload":{}},
		{"id":"c3","name":"ping","payload":{}}
	]}`
	tr := &fakeTransport{steps: []step{
		{resp: status(200, commands, nil)},
		{resp: status(200, `{}`, nil)}, // ack
	}}

	var notified []string
	s, _ := scriptedScheduler(Config{
		Transport:    tr,
		InstanceID:   "inst",
		PollInterval: time.Second,
		Dispatcher: NewDispatcher(Handlers{
			Notify: func(msg string) { notified = append(notified, msg) },
		}),
	}, 1)

	done := make(chan struct{})
	s.pollLoop(done)

	if len(notified) != 1 || notified[0] != "hi" {
		t.Errorf("notified = %v", notified)
	}

	// c2 ("run" with empty command) must fail dispatch and be excluded
	// from the ack.
	var ackBody map[string]any
	for i, req := range tr.requests {
		if strings.Contains(req, "/api/daemon/commands/ack") {
			ackBody, _ = tr.bodies[i].(map[string]any)
		}
	}
	if ackBody == nil {
		t.Fatalf("no ack request in %v", tr.requests)
	}
	ids, _ := ackBody["commandIds"].([]string)
	if len(ids) != 2 || ids[0] != "c1" || ids[1] != "c3" {
		t.Errorf("acked ids = %v, want [c1 c3]", ids)
	}
	if ackBody["instanceId"] != "inst" {
		t.Errorf("ack instanceId = %v", ackBody["instanceId"])
	}
}

func TestPollLoop_RateLimitBackoff(t *testing.T) {
	tr := &fakeTransport{steps: []step{
		{resp: status(429, `{"retryAfter":90}`, nil)},
	}}
	s, delays := scriptedScheduler(Config{
		Transport:    tr,
		InstanceID:   "inst",
		PollInterval: 10 * time.Second,
		Dispatcher:   NewDispatcher(Handlers{}),
	}, 1)

	done := make(chan struct{})
	s.pollLoop(done)

	if len(*delays) != 1 || (*delays)[0] != 90*time.Second {
		t.Errorf("delays = %v, want [90s] from body retryAfter", *delays)
	}
}

func TestPollLoop_NetworkErrorContinues(t *testing.T) {
	tr := &fakeTransport{steps: []step{
		{err: errors.New("connection refused")},
	}}
	s, delays := scriptedScheduler(Config{
		Transport:    tr,
		InstanceID:   "inst",
		PollInterval: 3 * time.Second,
		Dispatcher:   NewDispatcher(Handlers{}),
	}, 1)

	done := make(chan struct{})
	s.pollLoop(done)

	if len(*delays) != 1 || (*delays)[0] != 3*time.Second {
		t.Errorf("delays = %v, want normal interval after network error", *delays)
	}
}

func TestStart_GuardRefusesUnconfiguredAndPlaceholder(t *testing.T) {
	tr := &fakeTransport{}

	s := New(Config{Transport: tr, BackendConfigured: false, Token: "tok"})
	if s.Start() {
		t.Error("unconfigured backend must not start the scheduler")
	}

	s = New(Config{Transport: tr, BackendConfigured: true, Token: "changeme"})
	if s.Start() {
		t.Error("placeholder token must not start the scheduler")
	}

	if len(tr.requests) != 0 {
		t.Errorf("guard must prevent all requests, got %v", tr.requests)
	}
}

func TestStartStop(t *testing.T) {
	tr := &fakeTransport{}
	s := New(Config{
		Transport:         tr,
		BackendConfigured: true,
		Token:             "tok-live",
		InstanceID:        "inst",
		HeartbeatInterval: time.Hour,
		PollInterval:      time.Hour,
		Dispatcher:        NewDispatcher(Handlers{}),
	})
	if !s.Start() {
		t.Fatal("Start refused a valid config")
	}

	stopped := make(chan struct{})
	go func() {
		s.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return promptly")
	}
}

func TestDispatcher_UnsupportedCommandIsAckable(t *testing.T) {
	d := NewDispatcher(Handlers{})
	if err := d.Dispatch(context.Background(), Command{ID: "c1", Name: "frobnicate"}); err != nil {
		t.Errorf("unsupported command must not error: %v", err)
	}
}

func TestDispatcher_RunRequiresCommand(t *testing.T) {
	ran := false
	d := NewDispatcher(Handlers{
		Run: func(ctx context.Context, payload map[string]any) error { ran = true; return nil },
	})

	err := d.Dispatch(context.Background(), Command{ID: "c1", Name: "run", Payload: map[string]any{"command": " "}})
	if err == nil {
		t.Error("empty command must fail dispatch")
	}
	if ran {
		t.Error("handler must not run for an empty command")
	}

	if err := d.Dispatch(context.Background(), Command{ID: "c2", Name: "run", Payload: map[string]any{"command": "ls"}}); err != nil {
		t.Errorf("valid run failed: %v", err)
	}
	if !ran {
		t.Error("handler did not run")
	}
}

func TestDispatcher_ActionPlanAndSee(t *testing.T) {
	var sawCamera bool
	var gotPlan map[string]any
	d := NewDispatcher(Handlers{
		See:        func(ctx context.Context, camera bool) error { sawCamera = camera; return nil },
		ActionPlan: func(ctx context.Context, payload map[string]any) error { gotPlan = payload; return nil },
	})

	d.Dispatch(context.Background(), Command{Name: "see", Payload: map[string]any{"camera": true}})
	if !sawCamera {
		t.Error("camera flag not forwarded")
	}

	payload := map[string]any{"plan_id": "p1"}
	d.Dispatch(context.Background(), Command{Name: "action_plan", Payload: payload})
	if gotPlan == nil || gotPlan["plan_id"] != "p1" {
		t.Errorf("plan payload = %v", gotPlan)
	}
}

func TestCommandJSONShape(t *testing.T) {
	raw := `{"id":"c1","name":"notify","payload":{"message":"hello"},"issuedAt":"2026-08-24T10:00:00Z"}`
	var cmd Command
	if err := json.Unmarshal([]byte(raw), &cmd); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if cmd.ID != "c1" || cmd.Name != "notify" || cmd.IssuedAt == "" {
		t.Errorf("cmd = %+v", cmd)
	}
}
