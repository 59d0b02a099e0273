// Package debugserver implements the loopback debug transport.
//
// The server binds to a loopback address and exposes health, readiness,
// metrics, status, and three action endpoints (ask, run, see). Action and
// status endpoints require the debug token, presented either as
// "Authorization: Bearer <token>" or in the X-Debug-Token header. Health,
// readiness, and metrics are unauthenticated probe surfaces. Every endpoint,
// probes included, is rate-limited per source address.
//
// Endpoints:
//
//	GET  /debug/health   → {"status":"ok"}
//	GET  /debug/ready    → readiness checks, 503 when any fails
//	GET  /debug/metrics  → Prometheus exposition
//	GET  /debug/status   → daemon status snapshot        [auth]
//	POST /debug/ask      → one conversation turn         [auth]
//	POST /debug/run      → one governed shell command    [auth]
//	POST /debug/see      → one vision analysis           [auth]
//
// Turns entering through this transport are marked debug-originated and can
// never approve a backend confirmation challenge.
package debugserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arcanos/arcanos/internal/arcanos/adapters/terminal"
	"github.com/arcanos/arcanos/internal/arcanos/app"
	"github.com/arcanos/arcanos/internal/arcanos/metrics"
)

// maxBodyBytes caps inbound request bodies.
const maxBodyBytes = 1 * 1024 * 1024 // 1 MiB

// Handlers bundles the orchestrator callbacks the server delegates to.
type Handlers struct {
	// Token is the expected debug token. When empty, authenticated
	// endpoints refuse every request; the probe endpoints stay open.
	Token string

	// RateLimitPerMinute bounds authenticated requests per source address.
	// Zero applies no limit.
	RateLimitPerMinute int

	Status func() app.Status
	Ready  func() map[string]bool
	Ask    func(ctx context.Context, message string, opts app.TurnOptions) (string, error)
	Run    func(ctx context.Context, payload map[string]any) (*terminal.Result, error)
	See    func(ctx context.Context, camera bool) error
}

// Server is the debug HTTP server.
type Server struct {
	addr     string
	handlers Handlers
	server   *http.Server
	limiter  *windowLimiter
}

// New creates a debug Server listening on addr. addr must resolve to a
// loopback interface; Start refuses anything else.
func New(addr string, h Handlers) *Server {
	s := &Server{
		addr:     addr,
		handlers: h,
		limiter:  newWindowLimiter(h.RateLimitPerMinute),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/debug/health", s.limit(s.handleHealth))
	mux.HandleFunc("/debug/ready", s.limit(s.handleReady))
	mux.HandleFunc("/debug/metrics", s.limit(promhttp.Handler().ServeHTTP))
	mux.HandleFunc("/debug/status", s.protect(s.handleStatus))
	mux.HandleFunc("/debug/ask", s.protect(s.handleAsk))
	mux.HandleFunc("/debug/run", s.protect(s.handleRun))
	mux.HandleFunc("/debug/see", s.protect(s.handleSee))

	s.server = &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 120 * time.Second,
	}
	return s
}

// Start binds the listener and begins serving. It returns once the listener
// is bound. Non-loopback addresses are refused.
func (s *Server) Start(ctx context.Context) error {
	host, _, err := net.SplitHostPort(s.addr)
	if err != nil {
		return fmt.Errorf("debug server addr %q: %w", s.addr, err)
	}
	if ip := net.ParseIP(host); host != "localhost" && (ip == nil || !ip.IsLoopback()) {
		return fmt.Errorf("debug server addr %q is not loopback", s.addr)
	}

	ln, err := net.Listen("tcp", s.addr)
	if err != nil {
		return fmt.Errorf("debug server listen %s: %w", s.addr, err)
	}
	slog.Info("debug server listening", "addr", ln.Addr().String())
	go func() {
		if err := s.server.Serve(ln); err != nil && err != http.ErrServerClosed {
			slog.Error("debug server error", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		s.server.Shutdown(context.Background())
	}()
	return nil
}

// Stop gracefully shuts down the server.
func (s *Server) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.server.Shutdown(ctx)
}

// limit applies the per-source fixed window. Every endpoint, including the
// unauthenticated probes, passes through it before anything else.
func (s *Server) limit(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if retry, ok := s.limiter.allow(sourceHost(r)); !ok {
			w.Header().Set("Retry-After", strconv.Itoa(retry))
			metrics.RateLimitRejections.WithLabelValues("debug").Inc()
			writeError(w, http.StatusTooManyRequests, "rate limit exceeded")
			return
		}
		next(w, r)
	}
}

// protect wraps a handler with the rate limit followed by token auth.
func (s *Server) protect(next http.HandlerFunc) http.HandlerFunc {
	return s.limit(func(w http.ResponseWriter, r *http.Request) {
		if s.handlers.Token == "" {
			writeError(w, http.StatusUnauthorized, "debug token not configured")
			return
		}
		if presentedToken(r) != s.handlers.Token {
			writeError(w, http.StatusUnauthorized, "invalid debug token")
			return
		}
		next(w, r)
	})
}

// presentedToken extracts the debug token from either accepted header form.
func presentedToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return auth[len("Bearer "):]
	}
	return r.Header.Get("X-Debug-Token")
}

func sourceHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// --- handlers ---

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	checks := map[string]bool{}
	if s.handlers.Ready != nil {
		checks = s.handlers.Ready()
	}
	status := http.StatusOK
	for _, ok := range checks {
		if !ok {
			status = http.StatusServiceUnavailable
			break
		}
	}
	writeJSON(w, status, map[string]any{"ready": status == http.StatusOK, "checks": checks})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.handlers.Status == nil {
		writeError(w, http.StatusServiceUnavailable, "status not available")
		return
	}
	writeJSON(w, http.StatusOK, s.handlers.Status())
}

type askRequest struct {
	Message string `json:"message"`
	// Route optionally forces "local" or "backend" for this turn.
	Route string `json:"route,omitempty"`
}

type askResponse struct {
	Reply string `json:"reply"`
}

func (s *Server) handleAsk(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.handlers.Ask == nil {
		writeError(w, http.StatusServiceUnavailable, "ask not available")
		return
	}

	var req askRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	// Debug-originated turns are non-interactive and can never approve a
	// confirmation challenge.
	reply, err := s.handlers.Ask(r.Context(), req.Message, app.TurnOptions{
		FromDebug:  true,
		ForceRoute: req.Route,
	})
	if err != nil {
		slog.Error("debug: ask failed", "err", err)
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, askResponse{Reply: reply})
}

type runRequest struct {
	Command string `json:"command"`
	Timeout int    `json:"timeout,omitempty"`
}

type runResponse struct {
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
	ExitCode int    `json:"exit_code"`
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.handlers.Run == nil {
		writeError(w, http.StatusServiceUnavailable, "run not available")
		return
	}

	var req runRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}

	payload := map[string]any{"command": req.Command}
	if req.Timeout > 0 {
		payload["timeout"] = req.Timeout
	}
	res, err := s.handlers.Run(r.Context(), payload)
	if err != nil {
		slog.Warn("debug: run refused", "err", err)
		writeError(w, http.StatusForbidden, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, runResponse{
		Stdout:   res.Stdout,
		Stderr:   res.Stderr,
		ExitCode: res.ExitCode,
	})
}

type seeRequest struct {
	Camera bool `json:"camera"`
}

func (s *Server) handleSee(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if s.handlers.See == nil {
		writeError(w, http.StatusServiceUnavailable, "see not available")
		return
	}

	var req seeRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request: "+err.Error())
		return
	}
	if err := s.handlers.See(r.Context(), req.Camera); err != nil {
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// --- rate limiter ---

// windowLimiter enforces a fixed one-minute window per source address.
type windowLimiter struct {
	mu      sync.Mutex
	limit   int
	now     func() time.Time
	windows map[string]*window
}

type window struct {
	count int
	start time.Time
}

func newWindowLimiter(limit int) *windowLimiter {
	return &windowLimiter{
		limit:   limit,
		now:     time.Now,
		windows: make(map[string]*window),
	}
}

// allow consumes one token for source. When the window is exhausted it
// returns the whole seconds until the window resets and false.
func (l *windowLimiter) allow(source string) (retryAfter int, ok bool) {
	if l.limit <= 0 {
		return 0, true
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	w, found := l.windows[source]
	if !found || now.Sub(w.start) >= time.Minute {
		w = &window{start: now}
		l.windows[source] = w
	}
	if w.count >= l.limit {
		remaining := time.Minute - now.Sub(w.start)
		secs := int(remaining / time.Second)
		if secs < 1 {
			secs = 1
		}
		return secs, false
	}
	w.count++
	return 0, true
}

// --- helpers ---

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// TestHandler exposes the server's HTTP handler for httptest. Tests only.
func (s *Server) TestHandler() http.Handler {
	return s.server.Handler
}
