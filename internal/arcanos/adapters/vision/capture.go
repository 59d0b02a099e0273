package vision

import (
	"context"
	"encoding/base64"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/arcanos/arcanos/internal/arcanos/llm"
)

const defaultAnalysisPrompt = "Describe what is visible in this image, concisely."

// screenshotTools lists capture commands in preference order. Each entry
// writes a PNG to the path given as its final argument.
var screenshotTools = [][]string{
	{"grim"},
	{"scrot", "-o"},
	{"gnome-screenshot", "-f"},
	{"screencapture", "-x"},
	{"import", "-window", "root"},
}

// Capture implements Adapter with platform capture tools for acquisition and
// the local model provider for analysis.
type Capture struct {
	LLM llm.Provider
	// SaveDir receives captures when callers request saving. Empty means
	// captures are discarded after encoding.
	SaveDir string
	// CameraDevice is the v4l2 device pattern; %d is the camera index.
	CameraDevice string
}

// NewCapture builds a Capture adapter.
func NewCapture(provider llm.Provider, saveDir string) *Capture {
	return &Capture{
		LLM:          provider,
		SaveDir:      saveDir,
		CameraDevice: "/dev/video%d",
	}
}

// CaptureScreenshot grabs the screen with the first available capture tool.
func (c *Capture) CaptureScreenshot(ctx context.Context, save bool) (string, error) {
	tmp, err := os.CreateTemp("", "arcanos-screen-*.png")
	if err != nil {
		return "", fmt.Errorf("screenshot temp file: %w", err)
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	var lastErr error
	for _, tool := range screenshotTools {
		if _, err := exec.LookPath(tool[0]); err != nil {
			continue
		}
		args := append(tool[1:], tmp.Name())
		cmd := exec.CommandContext(ctx, tool[0], args...)
		if out, err := cmd.CombinedOutput(); err != nil {
			lastErr = fmt.Errorf("%s: %v: %s", tool[0], err, out)
			continue
		}
		return c.finishCapture(tmp.Name(), "screen", save)
	}
	if lastErr != nil {
		return "", fmt.Errorf("screenshot failed: %w", lastErr)
	}
	return "", fmt.Errorf("no screenshot tool available")
}

// CaptureCamera grabs one frame from the camera at index via ffmpeg.
func (c *Capture) CaptureCamera(ctx context.Context, index int, save bool) (string, error) {
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return "", fmt.Errorf("camera capture requires ffmpeg: %w", err)
	}
	tmp, err := os.CreateTemp("", "arcanos-camera-*.png")
	if err != nil {
		return "", fmt.Errorf("camera temp file: %w", err)
	}
	tmp.Close()
	defer os.Remove(tmp.Name())

	device := fmt.Sprintf(c.CameraDevice, index)
	cmd := exec.CommandContext(ctx, "ffmpeg", "-y",
		"-f", "v4l2", "-i", device,
		"-frames:v", "1", tmp.Name())
	if out, err := cmd.CombinedOutput(); err != nil {
		return "", fmt.Errorf("camera capture %s: %v: %s", device, err, out)
	}
	return c.finishCapture(tmp.Name(), "camera", save)
}

// finishCapture optionally persists the capture, then returns it base64
// encoded.
func (c *Capture) finishCapture(path, kind string, save bool) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read capture: %w", err)
	}
	if save && c.SaveDir != "" {
		name := fmt.Sprintf("%s-%s.png", kind, time.Now().UTC().Format("20060102-150405"))
		dest := filepath.Join(c.SaveDir, name)
		if err := os.WriteFile(dest, data, 0o600); err != nil {
			return "", fmt.Errorf("save capture: %w", err)
		}
	}
	return base64.StdEncoding.EncodeToString(data), nil
}

// SeeScreen captures the screen and analyzes it.
func (c *Capture) SeeScreen(ctx context.Context) (*Analysis, error) {
	image, err := c.CaptureScreenshot(ctx, false)
	if err != nil {
		return nil, err
	}
	return c.AnalyzeImage(ctx, image, defaultAnalysisPrompt)
}

// SeeCamera captures the default camera and analyzes the frame.
func (c *Capture) SeeCamera(ctx context.Context) (*Analysis, error) {
	image, err := c.CaptureCamera(ctx, 0, false)
	if err != nil {
		return nil, err
	}
	return c.AnalyzeImage(ctx, image, defaultAnalysisPrompt)
}

// AnalyzeImage sends the image to the model provider.
func (c *Capture) AnalyzeImage(ctx context.Context, imageBase64, prompt string) (*Analysis, error) {
	if c.LLM == nil {
		return nil, fmt.Errorf("no model provider for image analysis")
	}
	if prompt == "" {
		prompt = defaultAnalysisPrompt
	}
	reply, err := c.LLM.AskWithVision(ctx, prompt, imageBase64)
	if err != nil {
		return nil, fmt.Errorf("analyze image: %w", err)
	}
	return &Analysis{Text: reply.Text, Tokens: reply.Tokens, Cost: reply.Cost}, nil
}
