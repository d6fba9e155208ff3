// Package tagwriter implements the Tag Writer (component G): a
// format-dispatching, atomic-replace tag writer for MP3 (ID3v2) and FLAC
// (Vorbis comments + picture block), bounded by a 10s write timeout and
// pre-flight file-size checks. Grounded on the teacher's cmd/ingest, which
// reads tags with dhowden/tag and decodes embedded cover art with
// image/jpeg — this package reuses dhowden/tag for the post-write
// verification read-back (§2b); cover pre-flight is a plain byte-length
// bound (MaxCoverSize) with no image decode. It writes with github.com/bogem/id3v2/v2 and
// github.com/go-flac/{go-flac,flacvorbis,flacpicture} since the teacher
// never writes tags, only reads them.
package tagwriter

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dhowden/tag"
)

// WriteTimeout bounds the whole write operation (§4.G); on expiry the write
// is abandoned and reported as a failure.
const WriteTimeout = 10 * time.Second

// MinFileSize / MaxFileSize bound the pre-flight file-size check. Files
// outside this range are left untagged entirely.
const (
	MinFileSize = 1024
	MaxFileSize = 500 * 1024 * 1024
)

// MaxCoverSize is the largest cover payload that will be embedded; larger
// covers are omitted with a logged warning (other tags still write).
const MaxCoverSize = 10 * 1024 * 1024

// Metadata is everything the writer may embed. Zero-value fields (Year==0,
// TrackNumber==0, empty strings, nil Cover) are omitted from the write
// rather than written as empty/zero, per §4.G's "subset when data missing".
type Metadata struct {
	Title       string
	Artist      string
	Album       string
	Year        int
	TrackNumber int
	Genre       string
	Publisher   string // written as the MP3 publisher frame and as FLAC's LABEL comment
	Cover       []byte // front-cover JPEG bytes, or nil
}

// Result reports what the writer actually did (§4.G).
type Result struct {
	TagsUpdated   bool
	CoverEmbedded bool
}

// Write dispatches to the format-appropriate writer based on path's
// (lowercased) extension. Unsupported extensions return an error; callers
// are expected to have already validated extension via the Worker pipeline's
// step 1, so this is a defensive second check.
func Write(ctx context.Context, path string, meta Metadata) (Result, error) {
	ok, reason := preflight(path)
	if !ok {
		slog.Warn("tag write skipped by preflight", "path", path, "reason", reason)
		return Result{}, fmt.Errorf("preflight failed: %s", reason)
	}

	cover := meta.Cover
	if len(cover) > MaxCoverSize {
		slog.Warn("cover exceeds embed size limit, omitting", "path", path, "cover_size", len(cover))
		cover = nil
	}
	meta.Cover = cover

	wctx, cancel := context.WithTimeout(ctx, WriteTimeout)
	defer cancel()

	type outcome struct {
		res Result
		err error
	}
	done := make(chan outcome, 1)

	ext := strings.ToLower(filepath.Ext(path))
	go func() {
		var o outcome
		switch ext {
		case ".mp3":
			o.res, o.err = writeMP3(path, meta)
		case ".flac":
			o.res, o.err = writeFLAC(path, meta)
		default:
			o.err = fmt.Errorf("unsupported tag format %q", ext)
		}
		done <- o
	}()

	select {
	case o := <-done:
		if o.err != nil {
			return Result{}, o.err
		}
		if o.res.TagsUpdated {
			verifyRoundTrip(path, meta)
		}
		return o.res, nil
	case <-wctx.Done():
		slog.Warn("tag write abandoned: timeout", "path", path)
		return Result{}, fmt.Errorf("tag write timed out after %s", WriteTimeout)
	}
}

func preflight(path string) (bool, string) {
	fi, err := os.Stat(path)
	if err != nil {
		return false, "file does not exist"
	}
	if fi.Size() < MinFileSize {
		return false, "file smaller than minimum tag-write size"
	}
	if fi.Size() > MaxFileSize {
		return false, "file larger than maximum tag-write size"
	}
	return true, ""
}

// verifyRoundTrip re-opens the just-written file with dhowden/tag and logs a
// warning if title/artist don't match what was requested. This is purely
// diagnostic (§2b, §4.G) — it never flips TagsUpdated back to false.
func verifyRoundTrip(path string, want Metadata) {
	f, err := os.Open(path)
	if err != nil {
		slog.Warn("tag verification: could not reopen file", "path", path, "err", err)
		return
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		slog.Warn("tag verification: could not parse written tags", "path", path, "err", err)
		return
	}
	if want.Title != "" && m.Title() != want.Title {
		slog.Warn("tag verification mismatch", "path", path, "field", "title", "want", want.Title, "got", m.Title())
	}
	if want.Artist != "" && m.Artist() != want.Artist {
		slog.Warn("tag verification mismatch", "path", path, "field", "artist", "want", want.Artist, "got", m.Artist())
	}
}
