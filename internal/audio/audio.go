package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// SampleRate is the system-wide sample rate. Every Decoded buffer carries
// mono float32 samples at this rate regardless of the source's native
// format; the transcription engine never sees anything else.
const SampleRate = 16000

// ErrDecode marks a payload the audio subsystem could not decode.
var ErrDecode = errors.New("audio decode failed")

// Origin identifies which acquisition flow produced a Decoded buffer.
type Origin string

const (
	OriginURL       Origin = "url"
	OriginFile      Origin = "file"
	OriginRecording Origin = "recording"
	OriginCorpus    Origin = "corpus"
)

// Decoded is a fully decoded waveform: mono float32 at SampleRate.
// Playback is nil when the decoder was built without a blob store
// (batch evaluation has no playback UI).
type Decoded struct {
	Samples  []float32
	Origin   Origin
	MIME     string
	Name     string
	Playback *Handle
}

// Duration returns the audio length implied by the sample count.
func (d *Decoded) Duration() time.Duration {
	return time.Duration(float64(len(d.Samples)) / SampleRate * float64(time.Second))
}

// BlobStore is the subset of the storage backend the decoder needs to
// keep original bytes around for playback.
type BlobStore interface {
	Save(ctx context.Context, key string, data []byte, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Handle is a revocable reference to the original (pre-decode) bytes,
// kept for UI playback. Release is idempotent: the blob is deleted on
// the first call, later calls are no-ops.
type Handle struct {
	Key  string
	MIME string

	store    BlobStore
	released atomic.Bool
}

// Open streams the original bytes. Fails after Release.
func (h *Handle) Open(ctx context.Context) (io.ReadCloser, error) {
	if h.released.Load() {
		return nil, errors.New("playback handle released")
	}
	return h.store.Open(ctx, h.Key)
}

// Release deletes the underlying blob. Exactly one caller wins; the
// rest see a no-op so a handle can never be double-released.
func (h *Handle) Release(ctx context.Context) {
	if !h.released.CompareAndSwap(false, true) {
		return
	}
	if h.store != nil {
		_ = h.store.Delete(ctx, h.Key)
	}
}

// Released reports whether Release has been called.
func (h *Handle) Released() bool { return h.released.Load() }

// Decoder turns raw container bytes into Decoded buffers. WAV payloads
// are parsed natively; everything else is piped through ffmpeg.
type Decoder struct {
	blobs BlobStore
	log   zerolog.Logger
}

// NewDecoder creates a decoder. blobs may be nil to skip playback
// handle allocation (corpus items and the eval CLI don't play audio).
func NewDecoder(blobs BlobStore, log zerolog.Logger) *Decoder {
	return &Decoder{blobs: blobs, log: log}
}

// Decode produces a Decoded buffer at SampleRate from raw bytes. The
// declared MIME is normalized (empty and audio/wave become audio/wav)
// and recorded on the result. When a blob store is configured, the
// original bytes are saved under a fresh key and returned as a
// playback handle owned by the caller.
func (d *Decoder) Decode(ctx context.Context, data []byte, declaredMIME string, origin Origin, name string) (*Decoded, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrDecode)
	}

	mime := NormalizeMIME(declaredMIME)

	samples, err := decodeSamples(ctx, data)
	if err != nil {
		return nil, fmt.Errorf("%w (%s, %d bytes): %v", ErrDecode, mime, len(data), err)
	}

	dec := &Decoded{
		Samples: samples,
		Origin:  origin,
		MIME:    mime,
		Name:    name,
	}

	if d.blobs != nil {
		key := blobKey(origin, mime)
		if err := d.blobs.Save(ctx, key, data, mime); err != nil {
			return nil, fmt.Errorf("save playback blob: %w", err)
		}
		dec.Playback = &Handle{Key: key, MIME: mime, store: d.blobs}
		d.log.Debug().
			Str("key", key).
			Str("origin", string(origin)).
			Int("bytes", len(data)).
			Int("samples", len(samples)).
			Msg("audio decoded")
	}

	return dec, nil
}

// decodeSamples dispatches on the container magic, not the declared
// MIME, since servers lie about content types more often than byte streams
// lie about being RIFF.
func decodeSamples(ctx context.Context, data []byte) ([]float32, error) {
	if isWAV(data) {
		return decodeWAV(data)
	}
	return decodeFFmpeg(ctx, data)
}

// NormalizeMIME coerces empty and audio/wave declarations to audio/wav.
// Some servers send audio/wave for RIFF files, and browsers won't play
// blobs typed that way. All other values pass through unchanged.
func NormalizeMIME(mime string) string {
	switch strings.ToLower(strings.TrimSpace(mime)) {
	case "", "audio/wave":
		return "audio/wav"
	}
	return mime
}

// MIMEForExt guesses a MIME type from a filename extension, for sources
// that carry no content type (watched files, corpus fetches).
func MIMEForExt(name string) string {
	switch strings.ToLower(path.Ext(name)) {
	case ".wav", ".wave":
		return "audio/wav"
	case ".mp3":
		return "audio/mpeg"
	case ".m4a", ".mp4":
		return "audio/mp4"
	case ".ogg", ".oga", ".opus":
		return "audio/ogg"
	case ".flac":
		return "audio/flac"
	case ".webm":
		return "audio/webm"
	default:
		return "application/octet-stream"
	}
}

// extForMIME is the inverse mapping used when building blob keys.
func extForMIME(mime string) string {
	switch mime {
	case "audio/wav":
		return "wav"
	case "audio/mpeg":
		return "mp3"
	case "audio/mp4":
		return "m4a"
	case "audio/ogg":
		return "ogg"
	case "audio/flac":
		return "flac"
	case "audio/webm":
		return "webm"
	default:
		return "bin"
	}
}

// blobKey builds the storage key for playback bytes:
// {origin}/{YYYY-MM-DD}/{uuid}.{ext}
func blobKey(origin Origin, mime string) string {
	return fmt.Sprintf("%s/%s/%s.%s",
		origin,
		time.Now().UTC().Format("2006-01-02"),
		uuid.NewString(),
		extForMIME(mime))
}
