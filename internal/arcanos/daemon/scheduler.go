// Package daemon runs the background scheduler: a heartbeat loop that keeps
// the backend session alive and a poll loop that fetches, dispatches, and
// acks backend commands. Both loops apply bounded exponential backoff on
// rate limits and stop within one interval of Stop.
package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/url"
	"time"

	"github.com/arcanos/arcanos/common/version"
	"github.com/arcanos/arcanos/internal/arcanos/backend"
	"github.com/arcanos/arcanos/internal/arcanos/config"
	"github.com/arcanos/arcanos/internal/arcanos/metrics"
)

// heartbeatStagger delays the first heartbeat so the two loops do not fire
// their initial requests together.
const heartbeatStagger = 2 * time.Second

// stopJoinTimeout bounds the wait for each loop during Stop.
const stopJoinTimeout = 5 * time.Second

// Transport issues raw authenticated requests; satisfied by *backend.Client.
type Transport interface {
	MakeRequest(ctx context.Context, method, path string, body any) (*backend.HTTPResponse, error)
}

// Config configures the Scheduler.
type Config struct {
	Transport  Transport
	Dispatcher *Dispatcher

	ClientID   string
	InstanceID string
	// Token is inspected by the startup guard only; requests carry the
	// token through the transport's own provider.
	Token             string
	BackendConfigured bool

	HeartbeatInterval time.Duration
	PollInterval      time.Duration

	// Stats supplies the heartbeat stats payload; optional.
	Stats func() map[string]any
}

// Scheduler owns the two background loops.
type Scheduler struct {
	cfg       Config
	startedAt time.Time
	stop      chan struct{}
	loopDone  [2]chan struct{}
	started   bool

	// sleep waits for d or until stop; returns false when stopping.
	// Replaced in tests to observe computed delays.
	sleep func(d time.Duration) bool
}

// New builds a Scheduler.
func New(cfg Config) *Scheduler {
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 10 * time.Second
	}
	s := &Scheduler{
		cfg:  cfg,
		stop: make(chan struct{}),
	}
	s.sleep = func(d time.Duration) bool {
		select {
		case <-time.After(d):
			return true
		case <-s.stop:
			return false
		}
	}
	return s
}

// Start launches both loops. It refuses to start — returning false after
// logging once — when the backend is unconfigured or the token is a known
// placeholder, so no requests are ever issued with junk credentials.
func (s *Scheduler) Start() bool {
	if !s.cfg.BackendConfigured {
		slog.Info("daemon: backend not configured, scheduler disabled")
		return false
	}
	if config.IsPlaceholderToken(s.cfg.Token) {
		slog.Warn("daemon: backend token is a placeholder, scheduler disabled")
		return false
	}

	s.startedAt = time.Now()
	s.started = true
	s.loopDone[0] = make(chan struct{})
	s.loopDone[1] = make(chan struct{})
	go s.heartbeatLoop(s.loopDone[0])
	go s.pollLoop(s.loopDone[1])
	slog.Info("daemon: scheduler started",
		"heartbeat_interval", s.cfg.HeartbeatInterval,
		"poll_interval", s.cfg.PollInterval)
	return true
}

// Stop signals both loops and joins each with a bounded timeout.
func (s *Scheduler) Stop() {
	if !s.started {
		return
	}
	s.started = false
	close(s.stop)
	for i, done := range s.loopDone {
		select {
		case <-done:
		case <-time.After(stopJoinTimeout):
			slog.Warn("daemon: loop did not stop in time", "loop", i)
		}
	}
}

func (s *Scheduler) heartbeatLoop(done chan struct{}) {
	defer close(done)
	if !s.sleep(heartbeatStagger) {
		return
	}

	consecutive429 := 0
	for {
		delay := s.cfg.HeartbeatInterval

		resp, err := s.cfg.Transport.MakeRequest(context.Background(),
			"POST", "/api/daemon/heartbeat", s.heartbeatBody())
		switch {
		case err != nil:
			slog.Warn("daemon: heartbeat failed", "err", err)
			consecutive429 = 0
			metrics.HeartbeatsTotal.WithLabelValues("network_error").Inc()

		case resp.StatusCode == 429:
			consecutive429++
			delay = backoffDelay(s.cfg.HeartbeatInterval, consecutive429, backend.ParseRetryAfter(resp))
			slog.Warn("daemon: heartbeat rate limited", "consecutive", consecutive429, "backoff", delay)
			metrics.HeartbeatsTotal.WithLabelValues("rate_limited").Inc()

		case resp.StatusCode >= 200 && resp.StatusCode <= 299:
			consecutive429 = 0
			metrics.HeartbeatsTotal.WithLabelValues("ok").Inc()

		default:
			slog.Warn("daemon: heartbeat rejected", "status", resp.StatusCode)
			consecutive429 = 0
			metrics.HeartbeatsTotal.WithLabelValues("http_error").Inc()
		}

		if !s.sleep(delay) {
			return
		}
	}
}

func (s *Scheduler) heartbeatBody() map[string]any {
	stats := map[string]any{}
	if s.cfg.Stats != nil {
		stats = s.cfg.Stats()
	}
	return map[string]any{
		"clientId":    s.cfg.ClientID,
		"instanceId":  s.cfg.InstanceID,
		"version":     version.Version,
		"uptime":      int(time.Since(s.startedAt).Seconds()),
		"routingMode": "http",
		"stats":       stats,
	}
}

func (s *Scheduler) pollLoop(done chan struct{}) {
	defer close(done)

	path := "/api/daemon/commands?instance_id=" + url.QueryEscape(s.cfg.InstanceID)
	consecutive429 := 0
	for {
		delay := s.cfg.PollInterval

		resp, err := s.cfg.Transport.MakeRequest(context.Background(), "GET", path, nil)
		switch {
		case err != nil:
			slog.Warn("daemon: command poll failed", "err", err)
			consecutive429 = 0

		case resp.StatusCode == 401:
			// Unrecoverable from inside the loop; the operator must fix
			// credentials and restart.
			slog.Error("daemon: command poll unauthorized, stopping poll loop")
			return

		case resp.StatusCode == 429:
			consecutive429++
			delay = backoffDelay(s.cfg.PollInterval, consecutive429, backend.ParseRetryAfter(resp))
			slog.Warn("daemon: command poll rate limited", "consecutive", consecutive429, "backoff", delay)

		case resp.StatusCode >= 200 && resp.StatusCode <= 299:
			consecutive429 = 0
			s.handleCommands(resp.Body)

		default:
			slog.Warn("daemon: command poll rejected", "status", resp.StatusCode)
			consecutive429 = 0
		}

		if !s.sleep(delay) {
			return
		}
	}
}

// handleCommands dispatches one poll response serially, in backend order,
// and acks the commands that dispatched cleanly. Dispatch and ack failures
// are logged and never stop the loop.
func (s *Scheduler) handleCommands(body []byte) {
	var parsed struct {
		Commands []Command `json:"commands"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		slog.Warn("daemon: invalid command poll body", "err", err)
		return
	}
	if len(parsed.Commands) == 0 {
		return
	}

	acked := make([]string, 0, len(parsed.Commands))
	for _, cmd := range parsed.Commands {
		if err := s.cfg.Dispatcher.Dispatch(context.Background(), cmd); err != nil {
			slog.Warn("daemon: command dispatch failed", "id", cmd.ID, "name", cmd.Name, "err", err)
			continue
		}
		acked = append(acked, cmd.ID)
	}
	if len(acked) == 0 {
		return
	}

	if err := s.ack(acked); err != nil {
		slog.Warn("daemon: command ack failed", "err", err)
	}
}

func (s *Scheduler) ack(ids []string) error {
	resp, err := s.cfg.Transport.MakeRequest(context.Background(),
		"POST", "/api/daemon/commands/ack", map[string]any{
			"commandIds": ids,
			"instanceId": s.cfg.InstanceID,
		})
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Errorf("ack returned %d", resp.StatusCode)
	}
	return nil
}
