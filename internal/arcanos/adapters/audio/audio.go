// Package audio defines the microphone capture and speech synthesis
// adapter. Implementations wrap platform audio tooling; the daemon treats
// them as opaque.
package audio

import "context"

// Adapter captures and plays audio.
type Adapter interface {
	// CaptureMicrophone records until silence, the phrase limit, or the
	// timeout; returns nil bytes when nothing was heard.
	CaptureMicrophone(ctx context.Context, timeoutSeconds, phraseLimitSeconds int) ([]byte, error)
	// ExtractAudioBytes converts captured audio into a transcribable
	// format (mono 16 kHz WAV).
	ExtractAudioBytes(raw []byte) ([]byte, error)
	// Speak renders text to speech; wait blocks until playback finishes.
	Speak(ctx context.Context, text string, wait bool) error
}
