package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"math"
	"os/exec"
	"strconv"
	"strings"
)

// ffmpegAvailable caches whether ffmpeg is in PATH (checked once).
var ffmpegAvailable *bool

// CheckFFmpeg checks if ffmpeg is available in PATH. Call once at startup.
func CheckFFmpeg() bool {
	if ffmpegAvailable != nil {
		return *ffmpegAvailable
	}
	_, err := exec.LookPath("ffmpeg")
	avail := err == nil
	ffmpegAvailable = &avail
	return avail
}

// decodeFFmpeg decodes any container/codec ffmpeg understands to mono
// float32 at SampleRate, streaming through stdin/stdout so nothing
// touches disk. ffmpeg missing or failing is a decode failure for the
// input; there is no further fallback.
func decodeFFmpeg(ctx context.Context, data []byte) ([]float32, error) {
	if !CheckFFmpeg() {
		return nil, fmt.Errorf("ffmpeg not found in PATH")
	}

	cmd := exec.CommandContext(ctx, "ffmpeg",
		"-hide_banner", "-loglevel", "error",
		"-i", "pipe:0",
		"-f", "f32le",
		"-ac", "1",
		"-ar", strconv.Itoa(SampleRate),
		"pipe:1",
	)
	cmd.Stdin = bytes.NewReader(data)

	var out, errBuf bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errBuf

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(errBuf.String())
		if msg != "" {
			return nil, fmt.Errorf("ffmpeg: %s", msg)
		}
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}

	raw := out.Bytes()
	n := len(raw) / 4
	if n == 0 {
		return nil, fmt.Errorf("ffmpeg produced no samples")
	}
	samples := make([]float32, n)
	for i := 0; i < n; i++ {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(raw[i*4:]))
	}
	return samples, nil
}
