package worker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/bitm4ncer/hydra-plus/pkg/renamer"
	"github.com/bitm4ncer/hydra-plus/pkg/tagwriter"
)

// coverFetchTimeout bounds the cover-art download leg of enrichment.
const coverFetchTimeout = 15 * time.Second

// dispatch performs the synchronous portion of §4.I's per-file pipeline
// (validate already done by the handler; rename; move-if-album), replies on
// job.done, then schedules background enrichment after enrichmentStagger.
// Run's single consumer calls this once per queued job and only proceeds to
// the next after dispatch returns, matching the spec's queueing discipline;
// the goroutine it spawns for enrichment is NOT waited on, which is what
// lets album batches overlap.
func (s *Service) dispatch(ctx context.Context, job processJob) {
	b := job.body

	tokens := renamer.Tokens{Artist: b.Artist, Track: b.Track, Album: b.Album, TrackNum: b.TrackNumber}
	pattern := s.Pattern().SingleTrack
	if b.TrackNumber > 0 {
		pattern = s.Pattern().AlbumTrack
	}

	newPath, err := renamer.Rename(b.FilePath, pattern, tokens)
	if err != nil {
		slog.Error("worker: rename failed", "path", b.FilePath, "err", err)
		job.done <- processMetadataResponse{Success: false}
		return
	}
	renamed := newPath != b.FilePath

	movedToFolder := false
	if b.TargetFolder != "" {
		moved, err := renamer.MoveToFolder(newPath, b.TargetFolder)
		if err != nil {
			slog.Error("worker: move to album folder failed", "path", newPath, "folder", b.TargetFolder, "err", err)
		} else {
			newPath = moved
			movedToFolder = true
		}
	}

	job.done <- processMetadataResponse{
		Success:       true,
		NewPath:       newPath,
		Renamed:       renamed,
		MovedToFolder: movedToFolder,
	}

	b.FilePath = newPath
	go func() {
		time.Sleep(enrichmentStagger)
		s.enrich(ctx, b)
	}()
}

// enrich is the background half of the pipeline (§4.I step 5): resolve
// metadata, fetch cover art through the cache, write tags, emit a terminal
// event, and release the progress entry. Wrapped in its own panic boundary
// since nothing downstream of dispatch must ever take the process down.
func (s *Service) enrich(ctx context.Context, b processMetadataBody) {
	defer func() {
		if rec := recover(); rec != nil {
			slog.Error("worker: enrichment panic", "track_id", b.TrackID, "panic", rec)
			s.state.event(ctx, "error", fmt.Sprintf("Failed: %s - %s (internal error)", b.Artist, b.Track), b.TrackID)
		}
	}()

	year := b.PrefetchedYear
	imageURL := b.PrefetchedImageURL
	trackNumber := b.TrackNumber
	var genre, label string

	if year == 0 && imageURL == "" && b.TrackID != "" {
		trackURL := "https://open.spotify.com/track/" + b.TrackID
		if scraped, err := s.spot.ScrapePublicPage(ctx, trackURL); err != nil {
			slog.Warn("worker: public page scrape failed", "track_id", b.TrackID, "err", err)
		} else {
			if scraped.Year > 0 {
				year = scraped.Year
			}
			if scraped.TrackNumber > 0 && trackNumber == 0 {
				trackNumber = scraped.TrackNumber
			}
			if scraped.ImageURL != "" {
				imageURL = scraped.ImageURL
			}
		}
	}

	if b.TrackID != "" && s.spot.HasCredentials() {
		meta := s.spot.FetchAPIMeta(ctx, b.TrackID)
		genre = meta.Genre
		label = meta.Label
	}

	var cover []byte
	if imageURL != "" {
		s.state.event(ctx, "info", fmt.Sprintf("Fetching cover art: %s - %s", b.Artist, b.Track), b.TrackID)
		cover = s.fetchCover(ctx, imageURL)
	}

	result, err := tagwriter.Write(ctx, b.FilePath, tagwriter.Metadata{
		Title: b.Track, Artist: b.Artist, Album: b.Album,
		Year: year, TrackNumber: trackNumber,
		Genre: genre, Publisher: label,
		Cover: cover,
	})
	if err != nil || !result.TagsUpdated {
		slog.Warn("worker: tag write failed", "path", b.FilePath, "err", err)
		s.state.event(ctx, "warning", fmt.Sprintf("Metadata write failed: %s - %s", b.Artist, b.Track), b.TrackID)
	} else {
		s.state.event(ctx, "success", fmt.Sprintf("Complete: %s - %s", b.Artist, b.Track), b.TrackID)
	}

	s.state.removeProgress(ctx, b.TrackID)
}

// fetchCover returns the cover buffer for imageURL, populating the
// cover-art cache (E) on a miss so a second track in the same album never
// re-downloads it (§4.E, §4.I "Concurrent album batches").
func (s *Service) fetchCover(ctx context.Context, imageURL string) []byte {
	if buf, ok := s.covers.Get(imageURL); ok {
		return buf
	}

	cctx, cancel := context.WithTimeout(ctx, coverFetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(cctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return nil
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		slog.Warn("worker: cover download failed", "url", imageURL, "err", err)
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		slog.Warn("worker: cover download non-200", "url", imageURL, "status", resp.StatusCode)
		return nil
	}

	buf, err := io.ReadAll(io.LimitReader(resp.Body, tagwriter.MaxCoverSize+1))
	if err != nil {
		return nil
	}
	s.covers.Put(imageURL, buf)
	return buf
}
