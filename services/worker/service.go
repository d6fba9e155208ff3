// Package worker implements the Worker Service (component I): the loopback
// HTTP server that orchestrates the Spotify Client, Cover-Art Cache, Tag
// Writer, and Renamer & Organizer per completed file. Grounded on the
// teacher's services/api/cmd/main.go (chi.Router + middleware chain +
// signal-driven shutdown) for the HTTP shape, and on
// services/api/internal/queue.go's single-consumer polling-queue pattern
// for the process-metadata FIFO, adapted here from a DB-backed job queue to
// an in-memory channel since the Worker Service owns no durable store.
package worker

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bitm4ncer/hydra-plus/pkg/covercache"
	"github.com/bitm4ncer/hydra-plus/pkg/httpx"
	"github.com/bitm4ncer/hydra-plus/pkg/renamer"
	"github.com/bitm4ncer/hydra-plus/pkg/spotify"
)

// enrichmentStagger is the pause between acking a /process-metadata request
// and starting its background enrichment (§4.I step 5), so the caller's
// response has time to return before the worker starts doing network work
// that might briefly spike CPU/IO.
const enrichmentStagger = 500 * time.Millisecond

// queueDepth bounds the in-process FIFO of pending /process-metadata jobs.
// The single consumer goroutine dispatches one job at a time and only
// advances to the next once the current job has replied, per §4.I's
// queueing discipline; when the FIFO is full a caller blocks on send for up
// to 5s and is then answered with 503 rather than having its job dropped
// silently.
const queueDepth = 256

// Config configures a Worker Service instance.
type Config struct {
	Addr            string
	StateBaseURL    string // e.g. "http://127.0.0.1:3847", for progress/event callbacks
	CredentialsPath string
	DebugPath       string
}

// Service is the Worker Service (I).
type Service struct {
	cfg Config

	covers  *covercache.Cache
	spot    *spotify.Client
	state   *stateClient
	jobs    chan processJob

	credMu sync.RWMutex
	creds  spotify.Credentials

	patternMu sync.RWMutex
	pattern   renamer.Pattern

	handlerErrors atomic.Int64
	startedAt     time.Time
}

// New returns a Service ready to have Routes registered and Run started.
func New(cfg Config) (*Service, error) {
	s := &Service{
		cfg:     cfg,
		covers:  covercache.New(),
		spot:    spotify.New(),
		state:   newStateClient(cfg.StateBaseURL),
		jobs:    make(chan processJob, queueDepth),
		pattern: renamer.DefaultPattern,
		startedAt: time.Now(),
	}

	if creds, err := loadCredentials(cfg.CredentialsPath); err != nil {
		slog.Warn("worker: could not load spotify credentials", "err", err)
	} else if creds.ClientID != "" {
		s.creds = creds
		s.spot.SetCredentials(creds)
	}

	return s, nil
}

// Routes registers every Worker Service endpoint (§4.I) on r.
func (s *Service) Routes(r chi.Router) {
	r.Use(httpx.SlogMiddleware)
	r.Use(httpx.CORSMiddleware)
	r.Use(s.recoverer)

	r.Get("/ping", s.handlePing)
	r.Post("/process-metadata", s.handleProcessMetadata)
	r.Post("/ensure-album-folder", s.handleEnsureAlbumFolder)
	r.Post("/organize-album", s.handleOrganizeAlbum)
	r.Post("/set-spotify-credentials", s.handleSetCredentials)
	r.Post("/test-spotify-credentials", s.handleTestCredentials)
	r.Post("/set-rename-pattern", s.handleSetRenamePattern)
	r.Post("/restart", s.handleRestart)
}

// recoverer mirrors the State Service's panic boundary: a handler panic
// increments an internal counter (the Worker has no endpoint that reports
// it) and returns 500 rather than taking the process down (§5).
func (s *Service) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.handlerErrors.Add(1)
				slog.Error("worker: handler panic", "path", r.URL.Path, "panic", rec)
				httpx.WriteErr(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Run drains the process-metadata FIFO until ctx is cancelled. dispatch
// replies to the waiting handler (via job.done) as soon as the synchronous
// rename/move portion finishes, then hands enrichment off to its own
// goroutine before Run loops back for the next job — so jobs dispatch one
// at a time, but their background enrichment overlaps (§4.I: "a new request
// is not dispatched until the previous one has responded").
func (s *Service) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-s.jobs:
			s.dispatch(ctx, job)
		}
	}
}

func (s *Service) handlePing(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}
