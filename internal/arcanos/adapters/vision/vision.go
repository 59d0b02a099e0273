// Package vision defines the screen/camera capture and image analysis
// adapter. Implementations wrap platform capture tooling; the daemon treats
// them as opaque.
package vision

import "context"

// Analysis is the outcome of one image analysis.
type Analysis struct {
	Text   string
	Tokens int
	Cost   float64
}

// Adapter captures and analyzes images.
type Adapter interface {
	// CaptureScreenshot grabs the screen, optionally saving to disk, and
	// returns the base64-encoded image.
	CaptureScreenshot(ctx context.Context, save bool) (string, error)
	// CaptureCamera grabs one frame from the given camera index.
	CaptureCamera(ctx context.Context, index int, save bool) (string, error)
	// SeeScreen captures the screen and analyzes it in one step.
	SeeScreen(ctx context.Context) (*Analysis, error)
	// SeeCamera captures the default camera and analyzes the frame.
	SeeCamera(ctx context.Context) (*Analysis, error)
	// AnalyzeImage analyzes an already-captured base64 image.
	AnalyzeImage(ctx context.Context, imageBase64, prompt string) (*Analysis, error)
}
