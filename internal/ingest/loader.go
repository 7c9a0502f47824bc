package ingest

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxlab/voxlab/internal/audio"
	"github.com/voxlab/voxlab/internal/events"
	"github.com/voxlab/voxlab/internal/metrics"
	"github.com/voxlab/voxlab/internal/session"
)

// InputInvalidator receives the input-changed signal before any
// acquisition mutates session state, so stale busy/result state never
// refers to audio that is about to be replaced.
type InputInvalidator interface {
	OnInputChange()
}

// Loader runs the acquisition flows: URL fetch, file upload, and live
// recording. Each flow settles exactly one load on the target session
// and publishes progress on the event bus. The corpus flow lives in
// CorpusLoader; it feeds the batch evaluator, not a session.
type Loader struct {
	decoder  *audio.Decoder
	sessions *session.Registry
	orch     InputInvalidator
	bus      *events.Bus
	client   *http.Client
	log      zerolog.Logger
}

// NewLoader creates a loader. bus may be nil.
func NewLoader(decoder *audio.Decoder, sessions *session.Registry, orch InputInvalidator, bus *events.Bus, log zerolog.Logger) *Loader {
	return &Loader{
		decoder:  decoder,
		sessions: sessions,
		orch:     orch,
		bus:      bus,
		client:   &http.Client{Timeout: 10 * time.Minute},
		log:      log.With().Str("component", "ingest").Logger(),
	}
}

// Sessions exposes the registry for intake paths that name their own
// sessions (MQTT, watcher).
func (l *Loader) Sessions() *session.Registry { return l.sessions }

// loadEvent is the payload for load_* events.
type loadEvent struct {
	Origin   string  `json:"origin"`
	Fraction float64 `json:"fraction,omitempty"`
	MIME     string  `json:"mime,omitempty"`
	Name     string  `json:"name,omitempty"`
	Seconds  float64 `json:"seconds,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// LoadURL fetches rawURL and installs the decoded audio on sess. The
// fetch is cancellable: a newer load on the same session aborts this
// transfer, and a late result can never overwrite the newer one (the
// session rejects the stale token).
func (l *Loader) LoadURL(ctx context.Context, sess *session.Session, rawURL string) (*audio.Decoded, error) {
	l.orch.OnInputChange()

	fetchCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	token := sess.BeginLoad(cancel)

	data, contentType, err := l.fetch(fetchCtx, rawURL, func(frac float64) {
		sess.Progress(token, frac)
		l.publish(events.TypeLoadProgress, sess.ID, loadEvent{Origin: "url", Fraction: frac})
	})
	if err != nil {
		return nil, l.fail(sess, token, audio.OriginURL, fmt.Errorf("fetch %s: %w", rawURL, err))
	}

	return l.finish(ctx, sess, token, data, contentType, audio.OriginURL, rawURL)
}

// LoadFile installs a fully read file on sess. No network and no
// streaming progress: the payload is already in memory, only the
// decode remains.
func (l *Loader) LoadFile(ctx context.Context, sess *session.Session, data []byte, name, declaredMIME string) (*audio.Decoded, error) {
	l.orch.OnInputChange()
	token := sess.BeginLoad(nil)

	if declaredMIME == "" {
		declaredMIME = audio.MIMEForExt(name)
	}
	return l.finish(ctx, sess, token, data, declaredMIME, audio.OriginFile, name)
}

// LoadRecording reads a captured audio blob with byte-percentage
// progress, then decodes it. size <= 0 disables progress reporting.
func (l *Loader) LoadRecording(ctx context.Context, sess *session.Session, r io.Reader, size int64, declaredMIME string) (*audio.Decoded, error) {
	l.orch.OnInputChange()
	token := sess.BeginLoad(nil)

	src := r
	if size > 0 {
		src = &progressReader{
			r:     r,
			total: size,
			report: func(frac float64) {
				sess.Progress(token, frac)
				l.publish(events.TypeLoadProgress, sess.ID, loadEvent{Origin: "recording", Fraction: frac})
			},
		}
	}
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, l.fail(sess, token, audio.OriginRecording, fmt.Errorf("read recording: %w", err))
	}

	return l.finish(ctx, sess, token, data, declaredMIME, audio.OriginRecording, "recording")
}

// finish decodes and settles a load. Decode failures and stale tokens
// both surface as errors; the session guarantees a stale result's
// playback handle is released, never installed.
func (l *Loader) finish(ctx context.Context, sess *session.Session, token uint64, data []byte, declaredMIME string, origin audio.Origin, name string) (*audio.Decoded, error) {
	metrics.AudioLoadBytes.Observe(float64(len(data)))

	dec, err := l.decoder.Decode(ctx, data, declaredMIME, origin, name)
	if err != nil {
		return nil, l.fail(sess, token, origin, err)
	}

	if err := sess.Complete(ctx, token, dec); err != nil {
		metrics.AudioLoadsTotal.WithLabelValues(string(origin), "stale").Inc()
		return nil, err
	}

	metrics.AudioLoadsTotal.WithLabelValues(string(origin), "ok").Inc()
	l.publish(events.TypeLoadComplete, sess.ID, loadEvent{
		Origin:  string(origin),
		MIME:    dec.MIME,
		Name:    name,
		Seconds: dec.Duration().Seconds(),
	})
	return dec, nil
}

func (l *Loader) fail(sess *session.Session, token uint64, origin audio.Origin, err error) error {
	sess.Fail(token, err)
	metrics.AudioLoadsTotal.WithLabelValues(string(origin), "error").Inc()
	l.publish(events.TypeLoadFailed, sess.ID, loadEvent{Origin: string(origin), Error: err.Error()})
	return err
}

func (l *Loader) publish(eventType, sessionID string, payload loadEvent) {
	if l.bus == nil {
		return
	}
	l.bus.Publish(eventType, sessionID, payload)
}

// fetch GETs a URL, reporting fractional progress from Content-Length
// when the server provides one.
func (l *Loader) fetch(ctx context.Context, rawURL string, report func(float64)) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, "", err
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("status %d", resp.StatusCode)
	}

	body := io.Reader(resp.Body)
	if report != nil && resp.ContentLength > 0 {
		body = &progressReader{r: resp.Body, total: resp.ContentLength, report: report}
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return nil, "", err
	}
	return data, resp.Header.Get("Content-Type"), nil
}

// progressReader reports cumulative read fraction, throttled to whole
// percentage points so the event bus isn't flooded per 32KB chunk.
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	last   float64
	report func(frac float64)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	if n > 0 {
		p.read += int64(n)
		frac := float64(p.read) / float64(p.total)
		if frac > 1 {
			frac = 1
		}
		if frac-p.last >= 0.01 || frac == 1 {
			p.last = frac
			p.report(frac)
		}
	}
	return n, err
}
