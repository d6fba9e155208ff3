// Package plugin implements the Plugin Coordinator (component J): the
// long-running loop, hosted inside the P2P client, that polls the State
// Service for work, drives searches and downloads through the abstract
// p2pclient.Client, scores candidates, and hands completed downloads to the
// Worker Service. Grounded on the teacher's services/api/internal/queue.go
// (polling-consumer shape) and internal/listenparty.go (event-driven,
// callback-registered state machine), adapted from a DB-backed queue
// consumer and a WebSocket hub to an HTTP-polling consumer of an abstract
// collaborator interface, since J has no direct access to any shared store.
package plugin

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bitm4ncer/hydra-plus/pkg/p2pclient"
	"github.com/bitm4ncer/hydra-plus/pkg/queuestore"
)

// searchItem is one unit of search work derived from a Search Request: a
// plain track search has exactly one; an album search has one per entry in
// tracks[] (§3, §4.J).
type searchItem struct {
	query            string
	artist           string
	track            string
	trackID          string
	trackNumber      int
	durationSeconds  int
	formatPreference queuestore.FormatPreference

	isAlbum     bool
	albumArtist string
	albumName   string
	albumYear   int
}

// Coordinator is the Plugin Coordinator. One instance runs for the lifetime
// of the host P2P client process.
type Coordinator struct {
	p2p    p2pclient.Client
	state  *StateClient
	worker *WorkerClient

	downloadDir string // where the P2P client drops completed files

	mu           sync.Mutex
	searches     map[string]*activeSearch   // token -> search
	downloads    map[string]*activeDownload // virtual_path -> download
	albumFolders map[string]string          // "artist|album|year" -> resolved folder path
	lastActivity time.Time
}

// New returns a Coordinator wired to p2p, the State Service at stateBaseURL,
// and the Worker Service at workerBaseURL. downloadDir is where the P2P
// client is configured to place completed downloads before J reorganizes
// them via the Worker.
func New(p2p p2pclient.Client, stateBaseURL, workerBaseURL, downloadDir string) *Coordinator {
	c := &Coordinator{
		p2p:          p2p,
		state:        NewStateClient(stateBaseURL),
		worker:       NewWorkerClient(workerBaseURL),
		downloadDir:  downloadDir,
		searches:     make(map[string]*activeSearch),
		downloads:    make(map[string]*activeDownload),
		albumFolders: make(map[string]string),
		lastActivity: time.Now(),
	}
	p2p.OnSearchResult(c.handleSearchResult)
	p2p.OnTransferComplete(c.handleTransferComplete)
	return c
}

// Run blocks until ctx is cancelled, driving the adaptive poll loop, the
// download-trigger evaluator, and the stall monitor concurrently.
func (c *Coordinator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	wg.Add(3)
	go func() { defer wg.Done(); c.pollLoop(ctx) }()
	go func() { defer wg.Done(); c.evaluateLoop(ctx) }()
	go func() { defer wg.Done(); c.stallMonitorLoop(ctx) }()
	wg.Wait()
}

// --- Adaptive poll loop (§4.J) ---

func (c *Coordinator) pollLoop(ctx context.Context) {
	for {
		if err := c.pollOnce(ctx); err != nil {
			slog.Warn("plugin: poll failed", "err", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(c.pollInterval()):
		}
	}
}

// pollInterval implements the Active/Idle/Sleep table (§4.J).
func (c *Coordinator) pollInterval() time.Duration {
	c.mu.Lock()
	active := len(c.searches) > 0 || len(c.downloads) > 0
	idleFor := time.Since(c.lastActivity)
	c.mu.Unlock()

	switch {
	case active:
		return ActiveInterval
	case idleFor < IdleThreshold:
		return ActiveInterval
	case idleFor < SleepThreshold:
		return IdleInterval
	default:
		return SleepInterval
	}
}

func (c *Coordinator) markActivity() {
	c.mu.Lock()
	c.lastActivity = time.Now()
	c.mu.Unlock()
}

func (c *Coordinator) pollOnce(ctx context.Context) error {
	pending, err := c.state.Pending(ctx)
	if err != nil {
		return fmt.Errorf("fetch pending: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	var processedIDs []int64
	for _, req := range pending {
		for _, item := range expandRequest(req) {
			c.startSearch(ctx, item)
		}
		processedIDs = append(processedIDs, req.SearchID)
	}
	if len(processedIDs) > 0 {
		if err := c.state.MarkProcessed(ctx, processedIDs); err != nil {
			slog.Warn("plugin: mark-processed failed", "err", err)
		}
	}
	return nil
}

// expandRequest turns a Search Request into one or more searchItems: a
// track request yields one, an album request yields one per tracks[] entry
// so each track is searched and scored independently, with the shared album
// identity carried along for folder resolution at completion time.
func expandRequest(req queuestore.Request) []searchItem {
	if req.Kind != queuestore.KindAlbum {
		return []searchItem{{
			query:            req.QueryString,
			artist:           req.Artist,
			track:            req.Track,
			trackID:          req.TrackID,
			durationSeconds:  req.DurationSeconds,
			formatPreference: req.FormatPreference,
		}}
	}

	items := make([]searchItem, 0, len(req.Tracks))
	for _, tr := range req.Tracks {
		items = append(items, searchItem{
			query:            fmt.Sprintf("%s %s", tr.Artist, tr.Track),
			artist:           tr.Artist,
			track:            tr.Track,
			trackID:          tr.TrackID,
			trackNumber:      tr.TrackNumber,
			durationSeconds:  tr.DurationSeconds,
			formatPreference: req.FormatPreference,
			isAlbum:          true,
			albumArtist:      req.Artist,
			albumName:        req.Album,
			albumYear:        req.Year,
		})
	}
	return items
}

func (c *Coordinator) startSearch(ctx context.Context, item searchItem) {
	token, err := c.p2p.Search(ctx, item.query)
	if err != nil {
		slog.Warn("plugin: search failed", "query", item.query, "err", err)
		return
	}

	s := &activeSearch{
		token:     token,
		attempt:   -1,
		startedAt: time.Now(),
		request: queuestore.Request{
			Artist:           item.artist,
			Track:            item.track,
			TrackID:          item.trackID,
			DurationSeconds:  item.durationSeconds,
			FormatPreference: item.formatPreference,
			Kind:             queuestore.KindTrack,
		},
	}
	if item.isAlbum {
		s.request.Kind = queuestore.KindAlbum
		s.request.Album = item.albumName
		s.request.Year = item.albumYear
		s.request.Tracks = []queuestore.TrackRef{{
			TrackNumber: item.trackNumber, Artist: item.artist, Track: item.track,
			TrackID: item.trackID, DurationSeconds: item.durationSeconds,
		}}
		s.request.Artist = item.albumArtist
	}

	c.mu.Lock()
	c.searches[token] = s
	c.mu.Unlock()
	c.markActivity()

	slog.Info("plugin: search started", "token", token, "query", item.query)
	if err := c.state.Event(ctx, "info", fmt.Sprintf("Searching: %s", item.query), item.trackID); err != nil {
		slog.Warn("plugin: event post failed", "err", err)
	}
}

// --- Scoring ingestion (§4.J) ---

func (c *Coordinator) handleSearchResult(token string, result p2pclient.SearchResult) {
	c.mu.Lock()
	s, ok := c.searches[token]
	if !ok {
		c.mu.Unlock()
		return
	}
	target := ScoreTarget{
		Artist:           s.request.Artist,
		Track:            s.request.Track,
		DurationSeconds:  s.request.DurationSeconds,
		FormatPreference: s.request.FormatPreference,
	}
	score := Score(result, target)
	s.candidates = append(s.candidates, candidate{result: result, score: score})
	sort.Slice(s.candidates, func(i, j int) bool { return s.candidates[i].score > s.candidates[j].score })
	if len(s.candidates) > MaxCandidates {
		s.candidates = s.candidates[:MaxCandidates]
	}
	c.mu.Unlock()
}

// --- Download-trigger evaluator (§4.J) ---

func (c *Coordinator) evaluateLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.evaluateOnce(ctx)
		}
	}
}

func (c *Coordinator) evaluateOnce(ctx context.Context) {
	now := time.Now()

	c.mu.Lock()
	var toStart []*activeSearch
	var toAbort []*activeSearch
	for _, s := range c.searches {
		if s.attempt != -1 {
			continue // already downloading
		}
		elapsed := now.Sub(s.startedAt)
		if len(s.candidates) == 0 {
			if elapsed >= LateTrigger {
				toAbort = append(toAbort, s)
			}
			continue
		}
		best := s.candidates[0]
		switch {
		case elapsed >= EarlyTrigger && best.score > EarlyThreshold:
			toStart = append(toStart, s)
		case elapsed >= LateTrigger:
			if best.score > LateThreshold {
				toStart = append(toStart, s)
			} else {
				toAbort = append(toAbort, s)
			}
		}
	}
	c.mu.Unlock()

	for _, s := range toStart {
		c.startDownload(ctx, s, 0)
	}
	for _, s := range toAbort {
		c.abortSearch(ctx, s, "no acceptable candidate found")
	}
}

func (c *Coordinator) startDownload(ctx context.Context, s *activeSearch, idx int) {
	c.mu.Lock()
	if idx >= len(s.candidates) {
		c.mu.Unlock()
		c.abortSearch(ctx, s, "no remaining candidates")
		return
	}
	cand := s.candidates[idx]
	s.attempt = idx
	s.lastDLPath = cand.result.VirtualPath
	dl := &activeDownload{
		token:          s.token,
		virtualPath:    cand.result.VirtualPath,
		startedAt:      time.Now(),
		lastProgressAt: time.Now(),
	}
	c.downloads[cand.result.VirtualPath] = dl
	c.mu.Unlock()
	c.markActivity()

	if err := c.p2p.Download(ctx, cand.result.Peer, cand.result.VirtualPath, cand.result.SizeBytes); err != nil {
		slog.Warn("plugin: download enqueue failed", "path", cand.result.VirtualPath, "err", err)
		c.mu.Lock()
		delete(c.downloads, cand.result.VirtualPath)
		c.mu.Unlock()
		c.startDownload(ctx, s, idx+1)
		return
	}
	slog.Info("plugin: download started", "token", s.token, "path", cand.result.VirtualPath, "attempt", idx, "score", cand.score)
}

func (c *Coordinator) abortSearch(ctx context.Context, s *activeSearch, reason string) {
	c.mu.Lock()
	delete(c.searches, s.token)
	c.mu.Unlock()
	slog.Info("plugin: search aborted", "token", s.token, "reason", reason)
	_ = c.state.Event(ctx, "error", fmt.Sprintf("Failed: %s - %s (%s)", s.request.Artist, s.request.Track, reason), s.request.TrackID)
}

// --- Stall detection and fallback (§4.J) ---

func (c *Coordinator) stallMonitorLoop(ctx context.Context) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.stallMonitorOnce(ctx)
		}
	}
}

func (c *Coordinator) stallMonitorOnce(ctx context.Context) {
	now := time.Now()

	type stuckDL struct {
		vp    string
		token string
	}
	var stuck []stuckDL
	var ceilingHit []string // tokens whose search exceeded the absolute cap

	c.mu.Lock()
	for vp, dl := range c.downloads {
		s, hasSearch := c.searches[dl.token]
		if hasSearch && now.Sub(s.startedAt) > SearchCeiling {
			ceilingHit = append(ceilingHit, dl.token)
			continue
		}

		t, ok := c.p2p.Transfer(vp)
		if !ok {
			stuck = append(stuck, stuckDL{vp: vp, token: dl.token})
			continue
		}
		if t.BytesDone > dl.lastBytesDone {
			dl.lastBytesDone = t.BytesDone
			dl.lastProgressAt = now
			if t.SizeBytes > 0 {
				pct := int(t.BytesDone * 100 / t.SizeBytes)
				trackID := ""
				if hasSearch {
					trackID = s.request.TrackID
				}
				go func(vp, trackID string, pct int, done, total int64) {
					_ = c.state.Progress(ctx, trackID, vp, pct, done, total)
				}(vp, trackID, pct, t.BytesDone, t.SizeBytes)
			}
			continue
		}
		if now.Sub(dl.lastProgressAt) > StallGrace {
			stuck = append(stuck, stuckDL{vp: vp, token: dl.token})
		}
	}
	for _, token := range ceilingHit {
		if s, ok := c.searches[token]; ok {
			delete(c.searches, s.token)
			if s.lastDLPath != "" {
				delete(c.downloads, s.lastDLPath)
			}
		}
	}
	c.mu.Unlock()

	for _, token := range ceilingHit {
		slog.Info("plugin: search hit absolute time cap", "token", token)
		_ = c.state.Event(ctx, "error", "Failed: search exceeded time limit", "")
	}

	for _, sdl := range stuck {
		c.handleStuckDownload(ctx, sdl.vp, sdl.token)
	}
}

func (c *Coordinator) handleStuckDownload(ctx context.Context, virtualPath, token string) {
	_ = c.p2p.Abort(ctx, virtualPath)

	c.mu.Lock()
	delete(c.downloads, virtualPath)
	s, ok := c.searches[token]
	c.mu.Unlock()
	if !ok {
		return
	}

	_ = c.state.Event(ctx, "warning", fmt.Sprintf("Stalled, retrying: %s - %s", s.request.Artist, s.request.Track), s.request.TrackID)

	next := s.attempt + 1
	if next >= MaxAttempts {
		c.abortSearch(ctx, s, "exhausted all candidate attempts")
		return
	}
	c.startDownload(ctx, s, next)
}

// --- Completion hook (§4.J) ---

func (c *Coordinator) handleTransferComplete(virtualPath string) {
	c.mu.Lock()
	dl, ok := c.downloads[virtualPath]
	if ok {
		delete(c.downloads, virtualPath)
	}
	var s *activeSearch
	if ok {
		s, ok = c.searches[dl.token]
		delete(c.searches, dl.token)
	}
	c.mu.Unlock()
	if !ok {
		return
	}

	go c.finishDownload(context.Background(), s, virtualPath)
}

func (c *Coordinator) finishDownload(ctx context.Context, s *activeSearch, filePath string) {
	req := WorkerClientRequestFrom(s, filePath)

	if s.request.Kind == queuestore.KindAlbum {
		folder, err := c.resolveAlbumFolder(ctx, s)
		if err != nil {
			slog.Warn("plugin: album folder resolution failed", "err", err)
		} else {
			req.TargetFolder = folder
		}
	}

	resp, err := c.worker.ProcessMetadata(ctx, req)
	if err != nil {
		slog.Warn("plugin: process-metadata call failed", "path", filePath, "err", err)
		_ = c.state.Event(ctx, "error", fmt.Sprintf("Failed: %s - %s (worker unreachable)", s.request.Artist, s.request.Track), s.request.TrackID)
		return
	}
	slog.Info("plugin: handed off to worker", "new_path", resp.NewPath, "renamed", resp.Renamed, "moved", resp.MovedToFolder)
}

// resolveAlbumFolder ensures (once per album, cached) the target folder for
// an album-batch track, keyed on artist/album/year so every track in the
// same batch lands in the same directory (§4.J: "fetch album-level metadata
// once up-front... to amortize network cost" — applied here to folder
// creation, the one idempotent network-adjacent call every track needs).
func (c *Coordinator) resolveAlbumFolder(ctx context.Context, s *activeSearch) (string, error) {
	key := fmt.Sprintf("%s|%s|%d", s.request.Artist, s.request.Album, s.request.Year)

	c.mu.Lock()
	if folder, ok := c.albumFolders[key]; ok {
		c.mu.Unlock()
		return folder, nil
	}
	c.mu.Unlock()

	resp, err := c.worker.EnsureAlbumFolder(ctx, EnsureAlbumFolderRequest{
		AlbumArtist: s.request.Artist,
		AlbumName:   s.request.Album,
		Year:        s.request.Year,
		DownloadDir: c.downloadDir,
	})
	if err != nil {
		return "", err
	}

	c.mu.Lock()
	c.albumFolders[key] = resp.FolderPath
	c.mu.Unlock()
	return resp.FolderPath, nil
}

// WorkerClientRequestFrom builds a ProcessMetadataRequest from an
// activeSearch and the file path the P2P client reported as complete.
func WorkerClientRequestFrom(s *activeSearch, filePath string) ProcessMetadataRequest {
	req := ProcessMetadataRequest{
		FilePath:         filePath,
		Artist:           s.request.Artist,
		Track:            s.request.Track,
		Album:            s.request.Album,
		TrackID:          s.request.TrackID,
		FormatPreference: string(s.request.FormatPreference),
	}
	if len(s.request.Tracks) > 0 {
		req.TrackNumber = s.request.Tracks[0].TrackNumber
	}
	return req
}
