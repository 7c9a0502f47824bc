package audio

import (
	"encoding/binary"
	"fmt"
	"math"
)

// WAV format tags we parse natively.
const (
	formatPCM        = 1
	formatIEEEFloat  = 3
	formatExtensible = 0xFFFE
)

func isWAV(data []byte) bool {
	return len(data) >= 12 &&
		string(data[0:4]) == "RIFF" &&
		string(data[8:12]) == "WAVE"
}

// decodeWAV parses a RIFF/WAVE container and returns mono float32
// samples resampled to SampleRate. Handles PCM 8/16/24/32-bit and
// IEEE float32, any channel count, any source rate.
func decodeWAV(data []byte) ([]float32, error) {
	if !isWAV(data) {
		return nil, fmt.Errorf("not a RIFF/WAVE container")
	}

	var (
		format     uint16
		channels   int
		srcRate    int
		bits       int
		payload    []byte
		haveFormat bool
	)

	// Chunk walk. Chunks are word-aligned; odd sizes carry a pad byte.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if size < 0 || body+size > len(data) {
			// Truncated chunk: some encoders write a short final data
			// chunk. Clamp rather than reject.
			size = len(data) - body
			if size < 0 {
				break
			}
		}

		switch id {
		case "fmt ":
			if size < 16 {
				return nil, fmt.Errorf("fmt chunk too short (%d bytes)", size)
			}
			format = binary.LittleEndian.Uint16(data[body : body+2])
			channels = int(binary.LittleEndian.Uint16(data[body+2 : body+4]))
			srcRate = int(binary.LittleEndian.Uint32(data[body+4 : body+8]))
			bits = int(binary.LittleEndian.Uint16(data[body+14 : body+16]))
			if format == formatExtensible && size >= 40 {
				// True format lives in the extension's SubFormat GUID.
				format = binary.LittleEndian.Uint16(data[body+24 : body+26])
			}
			haveFormat = true
		case "data":
			payload = data[body : body+size]
		}

		off = body + size
		if size%2 == 1 {
			off++
		}
	}

	if !haveFormat {
		return nil, fmt.Errorf("missing fmt chunk")
	}
	if payload == nil {
		return nil, fmt.Errorf("missing data chunk")
	}
	if channels < 1 {
		return nil, fmt.Errorf("invalid channel count %d", channels)
	}
	if srcRate < 1 {
		return nil, fmt.Errorf("invalid sample rate %d", srcRate)
	}

	interleaved, err := samplesFromPCM(payload, format, bits)
	if err != nil {
		return nil, err
	}

	mono := downmix(interleaved, channels)
	return Resample(mono, srcRate, SampleRate), nil
}

// samplesFromPCM converts raw sample bytes to float32 in [-1, 1].
func samplesFromPCM(payload []byte, format uint16, bits int) ([]float32, error) {
	switch {
	case format == formatPCM && bits == 8:
		out := make([]float32, len(payload))
		for i, b := range payload {
			out[i] = (float32(b) - 128) / 128
		}
		return out, nil

	case format == formatPCM && bits == 16:
		n := len(payload) / 2
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			v := int16(binary.LittleEndian.Uint16(payload[i*2:]))
			out[i] = float32(v) / 32768
		}
		return out, nil

	case format == formatPCM && bits == 24:
		n := len(payload) / 3
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			b := payload[i*3:]
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			if v&0x800000 != 0 {
				v |= ^int32(0xFFFFFF) // sign extend
			}
			out[i] = float32(v) / 8388608
		}
		return out, nil

	case format == formatPCM && bits == 32:
		n := len(payload) / 4
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			v := int32(binary.LittleEndian.Uint32(payload[i*4:]))
			out[i] = float32(v) / 2147483648
		}
		return out, nil

	case format == formatIEEEFloat && bits == 32:
		n := len(payload) / 4
		out := make([]float32, n)
		for i := 0; i < n; i++ {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(payload[i*4:]))
		}
		return out, nil
	}

	return nil, fmt.Errorf("unsupported wav format %d / %d-bit", format, bits)
}

// downmix averages interleaved channels into mono.
func downmix(in []float32, channels int) []float32 {
	if channels == 1 {
		return in
	}
	n := len(in) / channels
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += in[i*channels+c]
		}
		out[i] = sum / float32(channels)
	}
	return out
}

// Resample converts a mono buffer between sample rates by linear
// interpolation. Good enough for speech into a 16 kHz model; anything
// needing better fidelity goes through the ffmpeg path instead.
func Resample(in []float32, from, to int) []float32 {
	if from == to || len(in) == 0 {
		return in
	}
	n := int(int64(len(in)) * int64(to) / int64(from))
	if n < 1 {
		n = 1
	}
	out := make([]float32, n)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		if j >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := float32(pos - float64(j))
		out[i] = in[j]*(1-frac) + in[j+1]*frac
	}
	return out
}
