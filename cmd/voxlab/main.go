package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/voxlab/voxlab/internal/api"
	"github.com/voxlab/voxlab/internal/audio"
	"github.com/voxlab/voxlab/internal/chat"
	"github.com/voxlab/voxlab/internal/config"
	"github.com/voxlab/voxlab/internal/database"
	"github.com/voxlab/voxlab/internal/evaluate"
	"github.com/voxlab/voxlab/internal/events"
	"github.com/voxlab/voxlab/internal/ingest"
	"github.com/voxlab/voxlab/internal/metrics"
	"github.com/voxlab/voxlab/internal/mqttclient"
	"github.com/voxlab/voxlab/internal/session"
	"github.com/voxlab/voxlab/internal/storage"
	"github.com/voxlab/voxlab/internal/transcribe"
)

var version = "dev"

// eventRingSize bounds Last-Event-ID replay on the SSE stream.
const eventRingSize = 256

// engineStats adapts live counters for the Prometheus collector.
type engineStats struct {
	sessions *session.Registry
	runner   *evaluate.Runner
}

func (s engineStats) SessionCount() int   { return s.sessions.Count() }
func (s engineStats) EvalRunsActive() int { return s.runner.Active() }

func main() {
	startTime := time.Now()

	var ov config.Overrides
	flag.StringVar(&ov.EnvFile, "env-file", "", "path to .env file")
	flag.StringVar(&ov.HTTPAddr, "http-addr", "", "HTTP listen address")
	flag.StringVar(&ov.LogLevel, "log-level", "", "log level (trace|debug|info|warn|error)")
	flag.StringVar(&ov.DatabaseURL, "database-url", "", "PostgreSQL connection string")
	flag.StringVar(&ov.EngineURL, "engine-url", "", "transcription engine sidecar URL")
	flag.StringVar(&ov.DataDir, "data-dir", "", "local blob storage directory")
	flag.StringVar(&ov.WatchDir, "watch-dir", "", "drop directory to watch for audio files")
	flag.Parse()

	cfg, err := config.Load(ov)
	if err != nil {
		early := zerolog.New(os.Stderr).With().Timestamp().Logger()
		early.Fatal().Err(err).Msg("failed to load config")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	log := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	log.Info().Str("version", version).Msg("voxlab starting")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database (optional)
	db, err := database.Connect(ctx, cfg.DatabaseURL, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer db.Close()
	if err := db.InitSchema(ctx); err != nil {
		log.Fatal().Err(err).Msg("failed to initialize schema")
	}

	// Blob storage
	store, services, err := storage.New(cfg.S3, cfg.DataDir, cfg.BlobRetention, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}
	for _, svc := range services {
		svc.Start()
		defer svc.Stop()
	}

	// Core engine components
	bus := events.NewBus(eventRingSize)
	decoder := audio.NewDecoder(store, log)
	registry := session.NewRegistry(cfg.SessionTTL, log)
	registry.Start()
	defer registry.Stop()

	artifacts := transcribe.NewArtifactManager(cfg.ModelBaseURL, cfg.ModelCacheDir, log)
	engine := transcribe.NewRemoteEngine(cfg.EngineURL, cfg.EngineTimeout, artifacts, log)
	tcfg := transcribe.DefaultConfig(cfg.Model)
	tcfg.EncoderPrecision = transcribe.Precision(cfg.EncoderPrecision)
	tcfg.DecoderPrecision = transcribe.Precision(cfg.DecoderPrecision)
	orch := transcribe.NewOrchestrator(engine, tcfg, bus, log)

	loader := ingest.NewLoader(decoder, registry, orch, bus, log)
	corpus := ingest.NewCorpusLoader(log)
	runner := evaluate.NewRunner(evaluate.New(orch, bus, log), log)

	// Created even without a configured key: requests may carry their
	// own via X-Chat-Api-Key, and Send reports ErrDisabled otherwise.
	relay := chat.NewRelay(chat.Config{
		APIKey:       cfg.ChatAPIKey,
		Model:        cfg.ChatModel,
		BaseURL:      cfg.ChatBaseURL,
		SystemPrompt: cfg.ChatSystemPrompt,
	}, bus, log)

	// MQTT intake (optional)
	var mqtt *mqttclient.Client
	if cfg.MQTTBrokerURL != "" {
		mqtt, err = mqttclient.Connect(mqttclient.Options{
			BrokerURL: cfg.MQTTBrokerURL,
			ClientID:  cfg.MQTTClientID,
			Topics:    cfg.MQTTTopics,
			Username:  cfg.MQTTUsername,
			Password:  cfg.MQTTPassword,
			Log:       log,
		})
		if err != nil {
			log.Fatal().Err(err).Msg("failed to connect to mqtt broker")
		}
		defer mqtt.Close()
		mqtt.SetMessageHandler(loader.HandleMQTT)

		// Push finished transcripts back out for broker subscribers.
		go republishTranscripts(ctx, bus, mqtt)
	}

	// Drop-directory watcher (optional)
	var watcher *ingest.FileWatcher
	if cfg.WatchDir != "" {
		watcher = ingest.NewFileWatcher(loader, cfg.WatchDir, log)
		watcher.OnLoad = func(sess *session.Session, dec *audio.Decoded) {
			if _, err := orch.Start(ctx, dec); err != nil {
				log.Warn().Err(err).Str("session", sess.ID).Msg("auto transcription failed")
			}
		}
		if err := watcher.Start(ctx); err != nil {
			log.Fatal().Err(err).Msg("failed to start file watcher")
		}
		defer watcher.Stop()
	}

	// Scrape-time gauges
	collector := metrics.NewCollector(db.PgxPool(), engineStats{sessions: registry, runner: runner})
	prometheus.MustRegister(collector)

	srv := api.NewServer(cfg, api.Deps{
		Sessions: registry,
		Loader:   loader,
		Corpus:   corpus,
		Orch:     orch,
		Runner:   runner,
		Relay:    relay,
		Bus:      bus,
		Store:    store,
		DB:       db,
		MQTT:     mqtt,
		Watcher:  watcher,
	}, version, startTime, log)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server error")
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http server shutdown error")
	}

	log.Info().Msg("voxlab stopped")
}

// republishTranscripts forwards transcription events to
// voxlab/transcripts/<session> until ctx is cancelled.
func republishTranscripts(ctx context.Context, bus *events.Bus, mqtt *mqttclient.Client) {
	ch, cancel := bus.Subscribe(events.Filter{Types: []string{events.TypeTranscription}})
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			mqtt.PublishJSON("voxlab/transcripts/"+ev.SessionID, ev)
		}
	}
}
