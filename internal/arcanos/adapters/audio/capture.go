package audio

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// speechTools lists text-to-speech commands in preference order. Each entry
// takes the text as its final argument.
var speechTools = [][]string{
	{"say"},
	{"espeak-ng"},
	{"espeak"},
}

// Capture implements Adapter with arecord/ffmpeg for acquisition and a
// platform speech tool for synthesis.
type Capture struct {
	// Device is the ALSA capture device. Empty uses the default.
	Device string
}

// NewCapture builds a Capture adapter.
func NewCapture() *Capture {
	return &Capture{}
}

// CaptureMicrophone records mono 16 kHz WAV for up to phraseLimitSeconds.
// The timeout bounds the whole operation including device setup.
func (c *Capture) CaptureMicrophone(ctx context.Context, timeoutSeconds, phraseLimitSeconds int) ([]byte, error) {
	if _, err := exec.LookPath("arecord"); err != nil {
		return nil, fmt.Errorf("microphone capture requires arecord: %w", err)
	}
	if timeoutSeconds <= 0 {
		timeoutSeconds = 10
	}
	if phraseLimitSeconds <= 0 || phraseLimitSeconds > timeoutSeconds {
		phraseLimitSeconds = timeoutSeconds
	}

	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutSeconds)*time.Second)
	defer cancel()

	args := []string{
		"-f", "S16_LE", "-r", "16000", "-c", "1", "-t", "wav",
		"-d", fmt.Sprint(phraseLimitSeconds),
	}
	if c.Device != "" {
		args = append(args, "-D", c.Device)
	}

	var out bytes.Buffer
	cmd := exec.CommandContext(ctx, "arecord", args...)
	cmd.Stdout = &out
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("microphone capture: %w", err)
	}
	if out.Len() == 0 {
		return nil, nil
	}
	return out.Bytes(), nil
}

// ExtractAudioBytes converts raw captured audio to mono 16 kHz WAV via
// ffmpeg. Input that is already WAV passes through unchanged.
func (c *Capture) ExtractAudioBytes(raw []byte) ([]byte, error) {
	if len(raw) == 0 {
		return nil, fmt.Errorf("no audio data")
	}
	if bytes.HasPrefix(raw, []byte("RIFF")) {
		return raw, nil
	}
	if _, err := exec.LookPath("ffmpeg"); err != nil {
		return nil, fmt.Errorf("audio conversion requires ffmpeg: %w", err)
	}

	in, err := os.CreateTemp("", "arcanos-audio-in-*")
	if err != nil {
		return nil, err
	}
	defer os.Remove(in.Name())
	if _, err := in.Write(raw); err != nil {
		in.Close()
		return nil, err
	}
	in.Close()

	outPath := in.Name() + ".wav"
	defer os.Remove(outPath)
	cmd := exec.Command("ffmpeg", "-y", "-i", in.Name(),
		"-ar", "16000", "-ac", "1", "-f", "wav", outPath)
	if out, err := cmd.CombinedOutput(); err != nil {
		return nil, fmt.Errorf("audio conversion: %v: %s", err, out)
	}
	return os.ReadFile(outPath)
}

// Speak renders text with the first available speech tool.
func (c *Capture) Speak(ctx context.Context, text string, wait bool) error {
	if text == "" {
		return nil
	}
	for _, tool := range speechTools {
		if _, err := exec.LookPath(tool[0]); err != nil {
			continue
		}
		args := append(tool[1:], text)
		cmd := exec.CommandContext(ctx, tool[0], args...)
		if !wait {
			return cmd.Start()
		}
		return cmd.Run()
	}
	return fmt.Errorf("no speech tool available")
}
