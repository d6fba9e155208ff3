// Package state implements the State Service (component D): the loopback
// HTTP server that owns the search queue, event log, progress table,
// Spotify credentials, rename patterns, and debug flag. It does no network
// I/O and no filesystem work beyond its three small JSON sidecar files, so
// that it can make good on the "never crashes" guarantee the Worker Service
// cannot (§4.D, §9 Design Notes: "progress bars survive metadata crashes").
//
// Grounded on the teacher's services/api/cmd/main.go for the chi.Router
// shape, the CORS/RequestID/Recoverer middleware chain, and graceful
// shutdown via signal.NotifyContext; on internal/queue.go for the
// polling-consumer contract a queue endpoint must honor; and on
// listenparty.go's hub/broadcast pattern, adapted in stream.go for the
// optional /status/stream push channel.
package state

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/bitm4ncer/hydra-plus/pkg/eventlog"
	"github.com/bitm4ncer/hydra-plus/pkg/httpx"
	"github.com/bitm4ncer/hydra-plus/pkg/progress"
	"github.com/bitm4ncer/hydra-plus/pkg/queuestore"
	"github.com/bitm4ncer/hydra-plus/pkg/renamer"
	"github.com/bitm4ncer/hydra-plus/pkg/spotify"
)

// CleanupInterval is how often the background sweep runs (§4.D).
const CleanupInterval = 60 * time.Second

// MaxProcessedAge is the queue's processed-entry retention window (§3, §4.A).
const MaxProcessedAge = time.Hour

// Config wires a Service to its persistence paths and port.
type Config struct {
	Addr           string // e.g. "127.0.0.1:3847"
	QueuePath      string
	CredentialsPath string
	DebugPath      string
}

// Service is the State Service. One instance per process.
type Service struct {
	cfg Config

	queue    *queuestore.Store
	events   *eventlog.Log
	progress *progress.Table

	instanceID uuid.UUID
	startedAt  time.Time

	handlerErrors atomic.Int64

	credMu sync.RWMutex
	creds  spotify.Credentials

	patternMu sync.RWMutex
	pattern   renamer.Pattern

	debugMu      sync.RWMutex
	debugWindows bool

	progressCh chan progressUpdate
	eventCh    chan eventItem

	stream *streamHub
}

type progressUpdate struct {
	trackID              string
	filename             string
	percent               int
	bytesDone, bytesTotal int64
}

type eventItem struct {
	typ, message, trackID string
}

// New loads (or initializes) the queue, credentials, and debug-mode files at
// the configured paths and returns a ready Service. It does not start the
// HTTP listener or background goroutines; call Run for that.
func New(cfg Config) (*Service, error) {
	q, err := queuestore.Open(cfg.QueuePath)
	if err != nil {
		return nil, err
	}

	s := &Service{
		cfg:        cfg,
		queue:      q,
		events:     eventlog.New(),
		progress:   progress.New(),
		instanceID: uuid.New(),
		startedAt:  time.Now(),
		pattern:    renamer.DefaultPattern,
		progressCh: make(chan progressUpdate, 4096),
		eventCh:    make(chan eventItem, 4096),
		stream:     newStreamHub(),
	}

	if creds, err := loadCredentials(cfg.CredentialsPath); err != nil {
		slog.Warn("state: could not load spotify credentials", "err", err)
	} else {
		s.creds = creds
	}
	if debug, err := loadDebugMode(cfg.DebugPath); err != nil {
		slog.Warn("state: could not load debug settings", "err", err)
	} else {
		s.debugWindows = debug
	}

	return s, nil
}

// Routes registers every State Service endpoint (§4.D, §6) on r.
func (s *Service) Routes(r chi.Router) {
	r.Use(middleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(s.recoverer)
	r.Use(httpx.SlogMiddleware)
	r.Use(httpx.CORSMiddleware)

	r.Get("/ping", s.handlePing)
	r.Get("/status", s.handleStatus)
	r.Get("/status/stream", s.handleStatusStream)
	r.Post("/search", s.handleSearch)
	r.Post("/search-album", s.handleSearchAlbum)
	r.Get("/pending", s.handlePending)
	r.Post("/mark-processed", s.handleMarkProcessed)
	r.Post("/progress", s.handleProgress)
	r.Post("/remove-progress", s.handleRemoveProgress)
	r.Post("/clear-progress", s.handleClearProgress)
	r.Post("/event", s.handleEvent)
	r.Post("/set-spotify-credentials", s.handleSetCredentials)
	r.Post("/test-spotify-credentials", s.handleTestCredentials)
	r.Post("/set-rename-pattern", s.handleSetRenamePattern)
	r.Get("/get-debug-mode", s.handleGetDebugMode)
	r.Post("/set-debug-mode", s.handleSetDebugMode)
	r.Post("/restart", s.handleRestart)
}

// recoverer mirrors chi's middleware.Recoverer but also increments the
// handler-error counter surfaced via GET /status, since §4.D's "Fatal (5xx):
// only handler bugs. Logged and counted" needs a visible counter, which
// bare middleware.Recoverer does not expose.
func (s *Service) recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.handlerErrors.Add(1)
				slog.Error("state: handler panic", "path", r.URL.Path, "panic", rec)
				httpx.WriteErr(w, http.StatusInternalServerError, "internal error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// Run starts the background progress/event appliers, the periodic cleanup
// sweep, and the credentials/debug-settings file watcher. It blocks until
// ctx is cancelled.
func (s *Service) Run(ctx context.Context) {
	go s.applyProgressLoop(ctx)
	go s.applyEventLoop(ctx)
	go s.cleanupLoop(ctx)
	go s.watchConfigFiles(ctx)
	<-ctx.Done()
}

func (s *Service) applyProgressLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case u := <-s.progressCh:
			entry := s.progress.Update(u.trackID, u.filename, u.percent, u.bytesDone, u.bytesTotal)
			s.stream.broadcastStatus(s.statusPayload())
			if entry.CompletedAt != nil {
				slog.Info("state: progress complete", "track_id", u.trackID, "filename", u.filename)
			}
		}
	}
}

func (s *Service) applyEventLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case e := <-s.eventCh:
			s.events.Add(eventlog.Type(e.typ), e.message, e.trackID)
			s.stream.broadcastStatus(s.statusPayload())
		}
	}
}

func (s *Service) cleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := time.Now()
			if n, err := s.queue.Cleanup(now, MaxProcessedAge); err != nil {
				slog.Warn("state: queue cleanup failed", "err", err)
			} else if n > 0 {
				slog.Info("state: queue cleanup", "removed", n)
			}
			if n := s.progress.Cleanup(now); n > 0 {
				slog.Info("state: progress cleanup", "removed", n)
			}
			if n := s.events.Cleanup(now); n > 0 {
				slog.Info("state: event cleanup", "removed", n)
			}
		}
	}
}
