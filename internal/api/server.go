package api

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
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

// Deps carries everything the HTTP surface exposes. Optional
// collaborators (db, mqtt, watcher, relay) may be nil.
type Deps struct {
	Sessions *session.Registry
	Loader   *ingest.Loader
	Corpus   *ingest.CorpusLoader
	Orch     *transcribe.Orchestrator
	Runner   *evaluate.Runner
	Relay    *chat.Relay
	Bus      *events.Bus
	Store    storage.Store
	DB       *database.DB
	MQTT     *mqttclient.Client
	Watcher  *ingest.FileWatcher
}

type Server struct {
	http *http.Server
	log  zerolog.Logger
}

func NewServer(cfg *config.Config, deps Deps, version string, startTime time.Time, log zerolog.Logger) *Server {
	r := chi.NewRouter()

	// Global middleware
	r.Use(RequestID)
	r.Use(Recoverer)
	r.Use(Logger(log))
	r.Use(CORS)
	r.Use(metrics.InstrumentHandler)

	// Unauthenticated: health probe and metrics scrape
	health := NewHealthHandler(deps.DB, deps.MQTT, deps.Store, deps.Sessions, deps.Orch, deps.Watcher, version, startTime)
	r.Get("/api/v1/health", health.ServeHTTP)
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Authenticated routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(BearerAuth(cfg.AuthToken))

		NewSessionsHandler(deps.Sessions, deps.Loader, deps.Store, log).Routes(r)
		NewTranscribeHandler(deps.Sessions, deps.Orch, deps.DB, deps.Bus, log).Routes(r)
		NewRecordHandler(deps.Sessions, deps.Loader, log).Routes(r)
		NewEventsHandler(deps.Bus).Routes(r)

		if deps.Runner != nil {
			NewEvalHandler(deps.Corpus, deps.Runner, deps.Store, deps.DB,
				func() string { return deps.Orch.Config().Model }, log).Routes(r)
		}
		if deps.Relay != nil {
			NewChatHandler(deps.Sessions, deps.Relay, log).Routes(r)
		}
	})

	return &Server{
		http: &http.Server{
			Addr:         cfg.HTTPAddr,
			Handler:      r,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
			IdleTimeout:  cfg.IdleTimeout,
		},
		log: log,
	}
}

func (s *Server) Start() error {
	s.log.Info().Str("addr", s.http.Addr).Msg("http server starting")
	err := s.http.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.log.Info().Msg("http server shutting down")
	return s.http.Shutdown(ctx)
}
