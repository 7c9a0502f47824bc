package ingest

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/voxlab/voxlab/internal/audio"
	"github.com/voxlab/voxlab/internal/evaluate"
)

// CorpusLoader fetches an evaluation corpus: a plain-text manifest of
// "<id> <truth>" lines plus one audio file per id next to it. Corpus
// audio never touches a session and gets no playback blob, so the
// loader carries its own blob-less decoder.
type CorpusLoader struct {
	decoder *audio.Decoder
	client  *http.Client
	log     zerolog.Logger
}

// NewCorpusLoader creates a corpus loader rooted nowhere; the manifest
// URL passed to Load decides where the corpus lives.
func NewCorpusLoader(log zerolog.Logger) *CorpusLoader {
	logger := log.With().Str("component", "corpus").Logger()
	return &CorpusLoader{
		decoder: audio.NewDecoder(nil, logger),
		client:  &http.Client{Timeout: 10 * time.Minute},
		log:     logger,
	}
}

// Load fetches the manifest at manifestURL and returns one BatchItem
// per well-formed line, in manifest order. Audio files are resolved as
// <manifest dir>/<id>.<ext>. An item whose audio fails to fetch or
// decode is logged and carried with nil Audio, so the batch still
// settles a result for it; a manifest that cannot be fetched at all is
// an error with no items.
func (c *CorpusLoader) Load(ctx context.Context, manifestURL, ext string) ([]evaluate.BatchItem, error) {
	body, err := c.get(ctx, manifestURL)
	if err != nil {
		return nil, fmt.Errorf("fetch manifest %s: %w", manifestURL, err)
	}

	base := manifestURL
	if i := strings.LastIndex(base, "/"); i >= 0 {
		base = base[:i]
	}
	if ext == "" {
		ext = "wav"
	}

	var items []evaluate.BatchItem
	sc := bufio.NewScanner(bytes.NewReader(body))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		id, truth, ok := strings.Cut(line, " ")
		if !ok {
			c.log.Warn().Str("line", line).Msg("Skipping malformed manifest line")
			continue
		}
		truth = strings.TrimSpace(truth)

		itemURL := fmt.Sprintf("%s/%s.%s", base, id, ext)
		dec, err := c.loadItem(ctx, itemURL, id)
		if err != nil {
			// Keep the line: the evaluator settles a failed result for
			// it instead of the item silently vanishing from the batch.
			c.log.Warn().Err(err).Str("id", id).Msg("Corpus item audio unavailable")
		}
		items = append(items, evaluate.BatchItem{ID: id, Audio: dec, Truth: truth})
	}
	if err := sc.Err(); err != nil {
		return items, fmt.Errorf("read manifest: %w", err)
	}

	c.log.Info().Int("items", len(items)).Str("manifest", manifestURL).Msg("Corpus loaded")
	return items, nil
}

func (c *CorpusLoader) loadItem(ctx context.Context, itemURL, id string) (*audio.Decoded, error) {
	data, err := c.get(ctx, itemURL)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", itemURL, err)
	}
	return c.decoder.Decode(ctx, data, audio.MIMEForExt(itemURL), audio.OriginCorpus, id)
}

func (c *CorpusLoader) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
