// Package backend implements the HTTP client for the ARCANOS control plane.
//
// The client is stateless: every call re-reads the bearer token from its
// provider, sends one JSON request, and maps the HTTP outcome onto the
// RequestError taxonomy. Confirmation challenges (403 CONFIRMATION_REQUIRED)
// and rate-limit hints (429 retryAfter) are carried on the error so the
// orchestrator and scheduler can react without re-parsing bodies.
package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/arcanos/arcanos/internal/arcanos/audit"
)

const maxResponseBytes = 4 * 1024 * 1024 // 4 MiB

// TokenProvider returns the current bearer token. It is consulted on every
// request so credentials refreshed mid-run are picked up without a restart.
type TokenProvider func() string

// Config configures a Client.
type Config struct {
	// BaseURL is the backend root, e.g. "https://api.example.com". Empty
	// means "backend unconfigured": every typed operation fails fast with
	// KindConfiguration and no network I/O happens.
	BaseURL string
	// AllowHTTP permits plain http:// for non-loopback hosts (dev only).
	AllowHTTP bool
	// Token supplies the bearer token per request.
	Token TokenProvider
	// Timeout is the per-request deadline. Defaults to 30 s.
	Timeout time.Duration
	// Audit receives auth_failure events. Defaults to the log sink.
	Audit audit.Recorder
}

// Client is the backend HTTP client.
type Client struct {
	baseURL    string
	token      TokenProvider
	httpClient *http.Client
	audit      audit.Recorder
}

// New creates a Client. The base URL is normalized once here; a rejected URL
// is a startup error, not a per-request one.
func New(cfg Config) (*Client, error) {
	base, err := NormalizeURL(cfg.BaseURL, cfg.AllowHTTP)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	sink := cfg.Audit
	if sink == nil {
		sink = audit.LogSink{}
	}
	tok := cfg.Token
	if tok == nil {
		tok = func() string { return "" }
	}
	return &Client{
		baseURL:    base,
		token:      tok,
		httpClient: &http.Client{Timeout: timeout},
		audit:      sink,
	}, nil
}

// NormalizeURL validates and canonicalizes a backend base URL. The empty
// string is the allowed "unconfigured" state. https is required for any
// non-loopback host unless allowHTTP is set; the trailing slash is stripped.
func NormalizeURL(raw string, allowHTTP bool) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", nil
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", configurationError(fmt.Sprintf("invalid backend URL %q: %v", raw, err))
	}
	switch u.Scheme {
	case "https":
	case "http":
		if !allowHTTP && !isLoopbackHost(u.Hostname()) {
			return "", configurationError(fmt.Sprintf("backend URL %q must use https (set BACKEND_ALLOW_HTTP to override)", raw))
		}
	default:
		return "", configurationError(fmt.Sprintf("backend URL %q must use http or https", raw))
	}
	if u.Host == "" {
		return "", configurationError(fmt.Sprintf("backend URL %q has no host", raw))
	}
	return strings.TrimRight(u.String(), "/"), nil
}

func isLoopbackHost(host string) bool {
	if host == "localhost" {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return false
}

// Configured reports whether a backend URL is set.
func (c *Client) Configured() bool { return c.baseURL != "" }

// BaseURL returns the normalized backend root ("" when unconfigured).
func (c *Client) BaseURL() string { return c.baseURL }

// MakeRequest sends one authenticated JSON request and returns the raw
// response. Non-2xx statuses are NOT turned into errors here; only transport
// failures, missing configuration, and a missing token are. The scheduler
// loops build on this, the typed operations add mapStatus on top.
func (c *Client) MakeRequest(ctx context.Context, method, path string, body any) (*HTTPResponse, error) {
	if !c.Configured() {
		return nil, configurationError("backend URL is not configured")
	}
	token := c.token()
	if strings.TrimSpace(token) == "" {
		c.audit.Record("auth_failure", map[string]any{"reason": "token_missing", "path": path})
		return nil, &RequestError{Kind: KindAuth, Message: "backend token is missing"}
	}

	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, validationError(fmt.Sprintf("marshal request body: %v", err))
		}
		bodyReader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, validationError(fmt.Sprintf("build request: %v", err))
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if isTimeout(err) {
			return nil, &RequestError{Kind: KindTimeout, Message: fmt.Sprintf("%s %s timed out", method, path)}
		}
		return nil, &RequestError{Kind: KindNetwork, Message: fmt.Sprintf("%s %s: %v", method, path, err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &RequestError{Kind: KindNetwork, Message: fmt.Sprintf("read response: %v", err)}
	}

	return &HTTPResponse{StatusCode: resp.StatusCode, Header: resp.Header, Body: respBody}, nil
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// requestJSON sends a request and parses a 2xx JSON object body, applying
// the status → kind mapping for everything else.
func (c *Client) requestJSON(ctx context.Context, method, path string, body any) (map[string]any, error) {
	resp, err := c.MakeRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.statusError(resp, path)
	}

	var obj map[string]any
	if err := json.Unmarshal(resp.Body, &obj); err != nil {
		return nil, parseError(fmt.Sprintf("%s %s returned invalid JSON: %v", method, path, err))
	}
	if obj == nil {
		return nil, parseError(fmt.Sprintf("%s %s returned a non-object body", method, path))
	}
	return obj, nil
}

// confirmationBody is the 403 challenge shape the backend emits when an
// action needs explicit operator approval before it is queued.
type confirmationBody struct {
	Code                  string `json:"code"`
	ConfirmationChallenge struct {
		ID string `json:"id"`
	} `json:"confirmationChallenge"`
	PendingActions []json.RawMessage `json:"pending_actions"`
}

// statusError maps a non-2xx response onto the error taxonomy.
func (c *Client) statusError(resp *HTTPResponse, path string) *RequestError {
	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		c.audit.Record("auth_failure", map[string]any{"reason": "unauthorized", "path": path})
		return &RequestError{Kind: KindAuth, StatusCode: resp.StatusCode, Message: "backend rejected credentials"}

	case resp.StatusCode == http.StatusForbidden:
		var cb confirmationBody
		if err := json.Unmarshal(resp.Body, &cb); err == nil && cb.Code == "CONFIRMATION_REQUIRED" {
			return &RequestError{
				Kind:           KindConfirmation,
				StatusCode:     resp.StatusCode,
				Message:        "backend requires confirmation before queueing actions",
				ChallengeID:    cb.ConfirmationChallenge.ID,
				PendingActions: summarizeActions(cb.PendingActions),
			}
		}
		c.audit.Record("auth_failure", map[string]any{"reason": "forbidden", "path": path})
		return &RequestError{Kind: KindAuth, StatusCode: resp.StatusCode, Message: "backend refused the request"}

	case resp.StatusCode == http.StatusTooManyRequests:
		return &RequestError{
			Kind:       KindRateLimit,
			StatusCode: resp.StatusCode,
			Message:    "backend rate limit exceeded",
			RetryAfter: ParseRetryAfter(resp),
		}

	default:
		return &RequestError{
			Kind:       KindHTTP,
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("backend returned %d", resp.StatusCode),
			Details:    truncate(string(resp.Body), 500),
		}
	}
}

// ParseRetryAfter extracts the server wait hint from a 429: the JSON
// retryAfter field wins over the Retry-After header. Zero when absent.
func ParseRetryAfter(resp *HTTPResponse) time.Duration {
	var body struct {
		RetryAfter float64 `json:"retryAfter"`
	}
	if err := json.Unmarshal(resp.Body, &body); err == nil && body.RetryAfter > 0 {
		return time.Duration(body.RetryAfter * float64(time.Second))
	}
	if h := resp.Header.Get("Retry-After"); h != "" {
		if secs, err := strconv.Atoi(strings.TrimSpace(h)); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// summarizeActions renders opaque pending-action entries into one-line
// summaries, preserving order. Strings pass through; objects are compacted.
func summarizeActions(raw []json.RawMessage) []string {
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		var s string
		if err := json.Unmarshal(r, &s); err == nil {
			out = append(out, s)
			continue
		}
		out = append(out, truncate(string(r), 200))
	}
	return out
}

// truncate caps s at n bytes without splitting a UTF-8 rune.
func truncate(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	cut := s[:n]
	for len(cut) > 0 && !utf8.ValidString(cut) {
		cut = cut[:len(cut)-1]
	}
	return cut + "…"
}

// --- typed operations ---

// AskWithDomain sends one message through /api/ask with an optional domain
// hint for backend-side routing.
func (c *Client) AskWithDomain(ctx context.Context, message, domain string, metadata map[string]any) (*ChatResult, error) {
	body := map[string]any{"message": message}
	if domain != "" {
		body["domain"] = domain
	}
	if metadata != nil {
		body["metadata"] = metadata
	}
	obj, err := c.requestJSON(ctx, http.MethodPost, "/api/ask", body)
	if err != nil {
		return nil, err
	}
	return parseChatResult(obj)
}

// ChatCompletion sends a full message list through /api/ask.
func (c *Client) ChatCompletion(ctx context.Context, messages []ChatMessage, temperature float64, model string, metadata map[string]any) (*ChatResult, error) {
	if len(messages) == 0 {
		return nil, validationError("chat completion requires at least one message")
	}
	body := map[string]any{"messages": messages, "stream": false}
	if temperature > 0 {
		body["temperature"] = temperature
	}
	if model != "" {
		body["model"] = model
	}
	if metadata != nil {
		body["metadata"] = metadata
	}
	obj, err := c.requestJSON(ctx, http.MethodPost, "/api/ask", body)
	if err != nil {
		return nil, err
	}
	return parseChatResult(obj)
}

// Vision analyzes a base64-encoded image via /api/vision.
func (c *Client) Vision(ctx context.Context, req VisionRequest) (*VisionResult, error) {
	if strings.TrimSpace(req.ImageBase64) == "" {
		return nil, validationError("vision requires a non-empty base64 image")
	}
	body := map[string]any{"imageBase64": req.ImageBase64}
	if req.Prompt != "" {
		body["prompt"] = req.Prompt
	}
	if req.Temperature > 0 {
		body["temperature"] = req.Temperature
	}
	if req.Model != "" {
		body["model"] = req.Model
	}
	if req.MaxTokens > 0 {
		body["maxTokens"] = req.MaxTokens
	}
	if req.Metadata != nil {
		body["metadata"] = req.Metadata
	}
	obj, err := c.requestJSON(ctx, http.MethodPost, "/api/vision", body)
	if err != nil {
		return nil, err
	}
	text, ok := stringField(obj, "response", "result")
	if !ok {
		return nil, parseError("vision response has no text")
	}
	return &VisionResult{
		Text:   text,
		Tokens: tokensField(obj),
		Cost:   floatField(obj, "cost"),
		Model:  modelField(obj),
	}, nil
}

// Transcribe sends base64 audio through /api/transcribe.
func (c *Client) Transcribe(ctx context.Context, audioBase64, filename, model, language string) (*TranscriptionResult, error) {
	if strings.TrimSpace(audioBase64) == "" {
		return nil, validationError("transcription requires non-empty base64 audio")
	}
	body := map[string]any{"audioBase64": audioBase64}
	if filename != "" {
		body["filename"] = filename
	}
	if model != "" {
		body["model"] = model
	}
	if language != "" {
		body["language"] = language
	}
	obj, err := c.requestJSON(ctx, http.MethodPost, "/api/transcribe", body)
	if err != nil {
		return nil, err
	}
	text, ok := stringField(obj, "text")
	if !ok {
		return nil, parseError("transcription response has no text")
	}
	return &TranscriptionResult{Text: text, Model: modelField(obj)}, nil
}

// SubmitUpdateEvent posts a usage/telemetry event to /api/update.
func (c *Client) SubmitUpdateEvent(ctx context.Context, updateType string, data, metadata map[string]any) (bool, error) {
	body := map[string]any{"updateType": updateType, "data": data}
	if metadata != nil {
		body["metadata"] = metadata
	}
	obj, err := c.requestJSON(ctx, http.MethodPost, "/api/update", body)
	if err != nil {
		return false, err
	}
	ok, _ := obj["success"].(bool)
	return ok, nil
}

// ConfirmDaemonActions redeems a confirmation challenge token and returns the
// number of actions the backend queued.
func (c *Client) ConfirmDaemonActions(ctx context.Context, confirmationToken, instanceID string) (int, error) {
	body := map[string]any{
		"confirmation_token": confirmationToken,
		"instanceId":         instanceID,
	}
	obj, err := c.requestJSON(ctx, http.MethodPost, "/api/daemon/confirm-actions", body)
	if err != nil {
		return 0, err
	}
	return int(floatField(obj, "queued")), nil
}

// Registry fetches the opaque capability registry.
func (c *Client) Registry(ctx context.Context) (map[string]any, error) {
	return c.requestJSON(ctx, http.MethodGet, "/api/daemon/registry", nil)
}

// --- typed parsing helpers ---

// parseChatResult reads the /api/ask response shape: text under "result" or
// "response"; tokens at the top level or nested under meta.tokens; cost and
// model with safe defaults.
func parseChatResult(obj map[string]any) (*ChatResult, error) {
	text, ok := stringField(obj, "result", "response")
	if !ok {
		return nil, parseError("chat response has no result text")
	}
	return &ChatResult{
		Text:   text,
		Tokens: tokensField(obj),
		Cost:   floatField(obj, "cost"),
		Model:  modelField(obj),
	}, nil
}

func stringField(obj map[string]any, keys ...string) (string, bool) {
	for _, k := range keys {
		if s, ok := obj[k].(string); ok && s != "" {
			return s, true
		}
	}
	return "", false
}

func floatField(obj map[string]any, key string) float64 {
	if f, ok := obj[key].(float64); ok {
		return f
	}
	return 0
}

func tokensField(obj map[string]any) int {
	if f, ok := obj["tokens"].(float64); ok {
		return int(f)
	}
	if meta, ok := obj["meta"].(map[string]any); ok {
		if toks, ok := meta["tokens"].(map[string]any); ok {
			if f, ok := toks["total_tokens"].(float64); ok {
				return int(f)
			}
		}
	}
	return 0
}

func modelField(obj map[string]any) string {
	if s, ok := obj["model"].(string); ok && s != "" {
		return s
	}
	return "unknown"
}
