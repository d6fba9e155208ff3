package state

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/bitm4ncer/hydra-plus/pkg/eventlog"
	"github.com/bitm4ncer/hydra-plus/pkg/httpx"
	"github.com/bitm4ncer/hydra-plus/pkg/queuestore"
	"github.com/bitm4ncer/hydra-plus/pkg/renamer"
	"github.com/bitm4ncer/hydra-plus/pkg/spotify"
)

func (s *Service) handlePing(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, "pong")
}

// statusResponse is the body of GET /status and the push payload of
// GET /status/stream (§4.D).
type statusResponse struct {
	Events          []eventlog.Event         `json:"events"`
	ActiveDownloads map[string]progressEntry `json:"activeDownloads"`
	Uptime          float64                  `json:"uptime"`
	Counters        counters                 `json:"counters"`
	InstanceID      string                   `json:"instance_id"`
}

type progressEntry struct {
	Filename    string     `json:"filename"`
	Percent     int        `json:"percent"`
	BytesDone   int64      `json:"bytes_done"`
	BytesTotal  int64      `json:"bytes_total"`
	LastUpdate  time.Time  `json:"last_update"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

type counters struct {
	HandlerErrors int64 `json:"handler_errors"`
}

// statusPayload builds the current status snapshot with no I/O beyond
// reading the in-memory tables, so GET /status can answer in well under the
// spec's 50ms bound (§4.D).
func (s *Service) statusPayload() statusResponse {
	snap := s.progress.Snapshot()
	downloads := make(map[string]progressEntry, len(snap))
	for id, e := range snap {
		downloads[id] = progressEntry{
			Filename: e.Filename, Percent: e.Percent,
			BytesDone: e.BytesDone, BytesTotal: e.BytesTotal,
			LastUpdate: e.LastUpdate, CompletedAt: e.CompletedAt,
		}
	}
	return statusResponse{
		Events:          s.events.All(),
		ActiveDownloads: downloads,
		Uptime:          time.Since(s.startedAt).Seconds(),
		Counters:        counters{HandlerErrors: s.handlerErrors.Load()},
		InstanceID:      s.instanceID.String(),
	}
}

func (s *Service) handleStatus(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, s.statusPayload())
}

// searchBody is the POST /search request shape (§4.D): a Search Request
// minus the server-assigned search_id/timestamp/processed fields.
type searchBody struct {
	Query            string  `json:"query"`
	Artist           string  `json:"artist"`
	Track            string  `json:"track"`
	Album            string  `json:"album"`
	TrackID          string  `json:"track_id"`
	DurationSeconds  int     `json:"duration_seconds"`
	FormatPreference string  `json:"format_preference"`
	AutoDownload     *bool   `json:"auto_download"`
	MetadataOverride *bool   `json:"metadata_override"`
}

func (s *Service) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body searchBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "malformed json")
		return
	}

	if strings.TrimSpace(body.Query) == "" && (strings.TrimSpace(body.Artist) == "" || strings.TrimSpace(body.Track) == "") {
		httpx.WriteErr(w, http.StatusBadRequest, "requires query, or artist and track")
		return
	}

	req := queuestore.Request{
		Kind:             queuestore.KindTrack,
		QueryString:      defaultString(body.Query, body.Artist+" "+body.Track),
		Artist:           body.Artist,
		Track:            body.Track,
		Album:            body.Album,
		TrackID:          body.TrackID,
		DurationSeconds:  body.DurationSeconds,
		FormatPreference: defaultFormat(body.FormatPreference),
		AutoDownload:     defaultBool(body.AutoDownload, true),
		MetadataOverride: defaultBool(body.MetadataOverride, true),
	}

	stored, err := s.queue.Append(req)
	if err != nil {
		httpx.WriteErr(w, http.StatusInternalServerError, "could not append to queue")
		return
	}
	s.emitEvent("info", "Searching: "+req.QueryString, req.TrackID)

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "search_id": stored.SearchID})
}

// albumBody is the POST /search-album request shape (§4.D). Both the legacy
// type:"album" marker and the newer kind:"album" marker are accepted (§9
// Open Questions) though the endpoint itself is unambiguously album-shaped.
type albumBody struct {
	Kind             string               `json:"kind"`
	Type             string               `json:"type"`
	AlbumArtist      string               `json:"album_artist"`
	AlbumName        string               `json:"album_name"`
	Year             int                  `json:"year"`
	Tracks           []queuestore.TrackRef `json:"tracks"`
	FormatPreference string               `json:"format_preference"`
	AutoDownload     *bool                `json:"auto_download"`
	MetadataOverride *bool                `json:"metadata_override"`
}

func (s *Service) handleSearchAlbum(w http.ResponseWriter, r *http.Request) {
	var body albumBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "malformed json")
		return
	}

	if strings.TrimSpace(body.AlbumArtist) == "" || strings.TrimSpace(body.AlbumName) == "" || len(body.Tracks) == 0 {
		httpx.WriteErr(w, http.StatusBadRequest, "requires album_artist, album_name, and a non-empty tracks[]")
		return
	}

	req := queuestore.Request{
		Kind:             queuestore.KindAlbum,
		QueryString:      body.AlbumArtist + " " + body.AlbumName,
		Artist:           body.AlbumArtist,
		Album:            body.AlbumName,
		Year:             body.Year,
		Tracks:           body.Tracks,
		FormatPreference: defaultFormat(body.FormatPreference),
		AutoDownload:     defaultBool(body.AutoDownload, true),
		MetadataOverride: defaultBool(body.MetadataOverride, true),
	}

	stored, err := s.queue.Append(req)
	if err != nil {
		httpx.WriteErr(w, http.StatusInternalServerError, "could not append to queue")
		return
	}
	s.emitEvent("info", "Searching album: "+req.QueryString, "")

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "search_id": stored.SearchID})
}

func (s *Service) handlePending(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"searches": s.queue.ListUnprocessed()})
}

type markProcessedBody struct {
	Timestamp *time.Time `json:"timestamp"`
	SearchIDs []int64    `json:"search_ids"`
}

func (s *Service) handleMarkProcessed(w http.ResponseWriter, r *http.Request) {
	var body markProcessedBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "malformed json")
		return
	}

	var err error
	switch {
	case body.Timestamp != nil:
		_, err = s.queue.MarkProcessedByTimestamp(*body.Timestamp)
	case len(body.SearchIDs) > 0:
		_, err = s.queue.MarkProcessedByIDs(body.SearchIDs)
	default:
		httpx.WriteErr(w, http.StatusBadRequest, "requires timestamp or search_ids")
		return
	}
	if err != nil {
		httpx.WriteErr(w, http.StatusInternalServerError, "could not mark processed")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// progressBody is the POST /progress request shape (§4.D).
type progressBody struct {
	TrackID    string `json:"track_id"`
	Filename   string `json:"filename"`
	Percent    int    `json:"percent"`
	BytesDone  int64  `json:"bytes_done"`
	BytesTotal int64  `json:"bytes_total"`
}

// handleProgress is fire-and-forget (§4.D): it parses, replies immediately,
// then enqueues onto progressCh. The single applyProgressLoop consumer
// applies updates in arrival order, which trivially satisfies the
// per-track_id ordering guarantee (§5) since it's also the global order.
func (s *Service) handleProgress(w http.ResponseWriter, r *http.Request) {
	var body progressBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "malformed json")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	// The reply is already flushed, so under a saturated channel this
	// handler waits for room instead of applying the update ahead of ones
	// still queued, keeping every update in arrival order.
	s.progressCh <- progressUpdate{
		trackID: body.TrackID, filename: body.Filename, percent: body.Percent,
		bytesDone: body.BytesDone, bytesTotal: body.BytesTotal,
	}
}

type trackIDBody struct {
	TrackID string `json:"track_id"`
}

func (s *Service) handleRemoveProgress(w http.ResponseWriter, r *http.Request) {
	var body trackIDBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "malformed json")
		return
	}
	s.progress.Remove(body.TrackID)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Service) handleClearProgress(w http.ResponseWriter, r *http.Request) {
	n := s.progress.Clear()
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true, "prior_size": n})
}

type eventBody struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	TrackID string `json:"track_id"`
}

func (s *Service) handleEvent(w http.ResponseWriter, r *http.Request) {
	var body eventBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "malformed json")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
	s.emitEvent(body.Type, body.Message, body.TrackID)
}

// emitEvent enqueues an event for the background applier rather than
// appending to the log directly, so /event's fire-and-forget contract and
// /search's synchronous-looking event emission go through the same ordered
// path.
func (s *Service) emitEvent(typ, message, trackID string) {
	select {
	case s.eventCh <- eventItem{typ: typ, message: message, trackID: trackID}:
	default:
		s.events.Add(eventlog.Type(typ), message, trackID)
	}
}

type credentialsBody struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
}

func (s *Service) handleSetCredentials(w http.ResponseWriter, r *http.Request) {
	var body credentialsBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "malformed json")
		return
	}

	creds := spotify.Credentials{ClientID: body.ClientID, ClientSecret: body.ClientSecret}
	s.credMu.Lock()
	s.creds = creds
	s.credMu.Unlock()

	if err := saveCredentials(s.cfg.CredentialsPath, creds); err != nil {
		// Best-effort per §4.D: persistence failure is logged, not surfaced.
		slog.Warn("state: could not persist spotify credentials", "err", err)
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleTestCredentials reports only whether credentials are present; full
// verification against the Spotify API happens lazily in the Worker Service
// on first token fetch (§4.D, §7).
func (s *Service) handleTestCredentials(w http.ResponseWriter, r *http.Request) {
	s.credMu.RLock()
	ok := s.creds.ClientID != "" && s.creds.ClientSecret != ""
	s.credMu.RUnlock()
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": ok})
}

type renamePatternBody struct {
	SingleTrack string `json:"single_track"`
	AlbumTrack  string `json:"album_track"`
}

func (s *Service) handleSetRenamePattern(w http.ResponseWriter, r *http.Request) {
	var body renamePatternBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "malformed json")
		return
	}
	p := renamer.Pattern{SingleTrack: body.SingleTrack, AlbumTrack: body.AlbumTrack}
	if p.SingleTrack == "" {
		p.SingleTrack = renamer.DefaultPattern.SingleTrack
	}
	if p.AlbumTrack == "" {
		p.AlbumTrack = renamer.DefaultPattern.AlbumTrack
	}
	s.patternMu.Lock()
	s.pattern = p
	s.patternMu.Unlock()
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// Pattern returns the currently configured rename pattern.
func (s *Service) Pattern() renamer.Pattern {
	s.patternMu.RLock()
	defer s.patternMu.RUnlock()
	return s.pattern
}

func (s *Service) handleGetDebugMode(w http.ResponseWriter, r *http.Request) {
	s.debugMu.RLock()
	v := s.debugWindows
	s.debugMu.RUnlock()
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"debug_windows": v})
}

type debugModeBody struct {
	DebugWindows bool `json:"debug_windows"`
}

func (s *Service) handleSetDebugMode(w http.ResponseWriter, r *http.Request) {
	var body debugModeBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "malformed json")
		return
	}
	s.debugMu.Lock()
	s.debugWindows = body.DebugWindows
	s.debugMu.Unlock()
	if err := saveDebugMode(s.cfg.DebugPath, body.DebugWindows); err != nil {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

// handleRestart acks immediately, then exits the process after a short
// delay so the HTTP response has time to flush; a supervisor is expected to
// respawn the service (§4.D).
func (s *Service) handleRestart(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
	go func() {
		time.Sleep(500 * time.Millisecond)
		restartFunc()
	}()
}

func defaultString(v, fallback string) string {
	if strings.TrimSpace(v) == "" {
		return fallback
	}
	return v
}

func defaultBool(v *bool, fallback bool) bool {
	if v == nil {
		return fallback
	}
	return *v
}

func defaultFormat(v string) queuestore.FormatPreference {
	switch queuestore.FormatPreference(v) {
	case queuestore.FormatFLAC:
		return queuestore.FormatFLAC
	default:
		return queuestore.FormatMP3
	}
}
