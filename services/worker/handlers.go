package worker

import (
	"encoding/json"
	"net/http"
	"path/filepath"
	"strings"
	"time"

	"github.com/bitm4ncer/hydra-plus/pkg/httpx"
	"github.com/bitm4ncer/hydra-plus/pkg/renamer"
	"github.com/bitm4ncer/hydra-plus/pkg/spotify"
)

// processMetadataBody mirrors plugin.ProcessMetadataRequest's wire shape
// (§4.I): the two are kept as separate types since J and I are decoupled
// components that merely agree on JSON field names, not a shared Go type.
type processMetadataBody struct {
	FilePath           string `json:"file_path"`
	Artist             string `json:"artist"`
	Track              string `json:"track"`
	Album              string `json:"album"`
	TrackID            string `json:"track_id"`
	TrackNumber        int    `json:"track_number"`
	PrefetchedYear     int    `json:"prefetched_year"`
	PrefetchedImageURL string `json:"prefetched_image_url"`
	TargetFolder       string `json:"target_folder"`
	FormatPreference   string `json:"format_preference"`
}

type processMetadataResponse struct {
	Success       bool   `json:"success"`
	NewPath       string `json:"new_path"`
	Renamed       bool   `json:"renamed"`
	MovedToFolder bool   `json:"moved_to_folder"`
}

// processJob is one unit of work in the FIFO: the synchronous (rename+move)
// portion runs in Run's single consumer goroutine, which replies on done
// before moving to the next queued job; the background enrichment that
// follows is NOT part of that serialization (§4.I "Concurrent album
// batches").
type processJob struct {
	body processMetadataBody
	done chan processMetadataResponse
}

var supportedExts = map[string]bool{".mp3": true, ".flac": true}

// handleProcessMetadata validates and enqueues the request onto the FIFO,
// then blocks for the synchronous rename/move portion's result before
// replying — from the caller's perspective this is indistinguishable from
// handling it inline, except that it can never race a sibling request's
// rename/move (§4.I).
func (s *Service) handleProcessMetadata(w http.ResponseWriter, r *http.Request) {
	var body processMetadataBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "malformed json")
		return
	}

	ext := strings.ToLower(filepath.Ext(body.FilePath))
	if !supportedExts[ext] {
		httpx.WriteErr(w, http.StatusBadRequest, "unsupported extension: "+ext)
		return
	}

	job := processJob{body: body, done: make(chan processMetadataResponse, 1)}

	select {
	case s.jobs <- job:
	case <-time.After(5 * time.Second):
		httpx.WriteErr(w, http.StatusServiceUnavailable, "worker queue saturated")
		return
	}

	select {
	case resp := <-job.done:
		httpx.WriteJSON(w, http.StatusOK, resp)
	case <-time.After(10 * time.Second):
		httpx.WriteErr(w, http.StatusGatewayTimeout, "rename/move did not complete")
	}
}

type ensureAlbumFolderBody struct {
	AlbumArtist string `json:"album_artist"`
	AlbumName   string `json:"album_name"`
	Year        int    `json:"year"`
	DownloadDir string `json:"download_dir"`
}

func (s *Service) handleEnsureAlbumFolder(w http.ResponseWriter, r *http.Request) {
	var body ensureAlbumFolderBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "malformed json")
		return
	}
	if strings.TrimSpace(body.AlbumArtist) == "" || strings.TrimSpace(body.AlbumName) == "" || strings.TrimSpace(body.DownloadDir) == "" {
		httpx.WriteErr(w, http.StatusBadRequest, "requires album_artist, album_name, download_dir")
		return
	}

	path, err := renamer.EnsureAlbumFolder(body.DownloadDir, body.AlbumArtist, body.AlbumName, body.Year)
	if err != nil {
		httpx.WriteErr(w, http.StatusInternalServerError, "could not create album folder")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{
		"folder_path": path,
		"folder_name": filepath.Base(path),
	})
}

type organizeAlbumBody struct {
	TrackPaths []string `json:"track_paths"`
	Artist     string   `json:"artist"`
	Album      string   `json:"album"`
	Year       int      `json:"year"`
	DownloadDir string  `json:"download_dir"`
}

type trackMoveResult struct {
	OriginalPath string `json:"original_path"`
	NewPath      string `json:"new_path,omitempty"`
	Success      bool   `json:"success"`
	Error        string `json:"error,omitempty"`
}

// handleOrganizeAlbum creates the album folder then moves every listed
// track into it, reporting per-track outcomes (§4.I) so a partial failure
// (one locked file, say) doesn't block the rest of the batch.
func (s *Service) handleOrganizeAlbum(w http.ResponseWriter, r *http.Request) {
	var body organizeAlbumBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteErr(w, http.StatusBadRequest, "malformed json")
		return
	}
	if len(body.TrackPaths) == 0 || strings.TrimSpace(body.Artist) == "" || strings.TrimSpace(body.Album) == "" {
		httpx.WriteErr(w, http.StatusBadRequest, "requires artist, album, non-empty track_paths[]")
		return
	}

	parent := body.DownloadDir
	if parent == "" && len(body.TrackPaths) > 0 {
		parent = filepath.Dir(body.TrackPaths[0])
	}
	folder, err := renamer.EnsureAlbumFolder(parent, body.Artist, body.Album, body.Year)
	if err != nil {
		httpx.WriteErr(w, http.StatusInternalServerError, "could not create album folder")
		return
	}

	results := make([]trackMoveResult, 0, len(body.TrackPaths))
	for _, p := range body.TrackPaths {
		newPath, err := renamer.MoveToFolder(p, folder)
		if err != nil {
			results = append(results, trackMoveResult{OriginalPath: p, Success: false, Error: err.Error()})
			continue
		}
		results = append(results, trackMoveResult{OriginalPath: p, NewPath: newPath, Success: true})
	}

	httpx.WriteJSON(w, http.StatusOK, map[string]any{"folder_path": folder, "results": results})
}

// credentialsBody/handleSetCredentials/handleTestCredentials mirror the
// State Service's equivalent handlers (§4.I: "mirror D's handlers for
// worker-local state") since I needs its own Spotify credentials to enrich
// independently of D's copy.
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
	s.spot.SetCredentials(creds)

	if err := saveCredentials(s.cfg.CredentialsPath, creds); err != nil {
		httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Service) handleTestCredentials(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": s.spot.HasCredentials()})
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

// Pattern returns the currently configured worker-local rename pattern.
func (s *Service) Pattern() renamer.Pattern {
	s.patternMu.RLock()
	defer s.patternMu.RUnlock()
	return s.pattern
}

func (s *Service) handleRestart(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"success": true})
	go func() {
		time.Sleep(500 * time.Millisecond)
		restartFunc()
	}()
}
