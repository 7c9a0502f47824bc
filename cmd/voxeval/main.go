package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/voxlab/voxlab/internal/evaluate"
	"github.com/voxlab/voxlab/internal/ingest"
	"github.com/voxlab/voxlab/internal/transcribe"
)

var version = "dev"

// voxeval runs a batch evaluation against a corpus manifest and writes
// the text report, without standing up the full server.
func main() {
	var (
		manifestURL   = flag.String("manifest", "", "corpus manifest URL (required)")
		ext           = flag.String("ext", "wav", "audio file extension for corpus items")
		out           = flag.String("out", "", "report output path (default stdout)")
		engineURL     = flag.String("engine-url", "", "transcription engine sidecar URL (required)")
		model         = flag.String("model", "onnx-community/whisper-base", "model identifier")
		modelBaseURL  = flag.String("model-base-url", "", "model artifact base URL")
		modelCacheDir = flag.String("model-cache-dir", "./models", "model artifact cache directory")
		engineTimeout = flag.Duration("engine-timeout", 5*time.Minute, "per-inference engine timeout")
		logLevel      = flag.String("log-level", "warn", "log level")
	)
	flag.Parse()

	level, err := zerolog.ParseLevel(*logLevel)
	if err != nil {
		level = zerolog.WarnLevel
	}
	log := zerolog.New(os.Stderr).With().Timestamp().Logger().Level(level)

	if *manifestURL == "" || *engineURL == "" {
		fmt.Fprintln(os.Stderr, "voxeval: -manifest and -engine-url are required")
		flag.Usage()
		os.Exit(2)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	corpus := ingest.NewCorpusLoader(log)
	items, err := corpus.Load(ctx, *manifestURL, *ext)
	if err != nil {
		log.Fatal().Err(err).Msg("corpus load failed")
	}
	if len(items) == 0 {
		log.Fatal().Str("manifest", *manifestURL).Msg("corpus is empty")
	}
	fmt.Fprintf(os.Stderr, "loaded %d corpus items\n", len(items))

	artifacts := transcribe.NewArtifactManager(*modelBaseURL, *modelCacheDir, log)
	engine := transcribe.NewRemoteEngine(*engineURL, *engineTimeout, artifacts, log)
	orch := transcribe.NewOrchestrator(engine, transcribe.DefaultConfig(*model), nil, log)
	eval := evaluate.New(orch, nil, log)

	runID := uuid.NewString()
	report, err := eval.Run(ctx, runID, items, func(p evaluate.Progress) {
		fmt.Fprintf(os.Stderr, "\r%d/%d (%.0f%%)", p.Completed, p.Total, p.Fraction*100)
	})
	fmt.Fprintln(os.Stderr)
	if err != nil {
		log.Fatal().Err(err).Msg("evaluation failed")
	}

	w := os.Stdout
	if *out != "" {
		f, err := os.Create(*out)
		if err != nil {
			log.Fatal().Err(err).Str("path", *out).Msg("cannot create report file")
		}
		defer f.Close()
		w = f
	}
	if err := evaluate.WriteReport(w, report); err != nil {
		log.Fatal().Err(err).Msg("report write failed")
	}

	fmt.Fprintf(os.Stderr, "run %s: %d items, %d failed, mean WER %.3f, mean latency %.2fs\n",
		runID, report.Total, report.Failed, report.MeanWER, report.MeanLatency)
}
