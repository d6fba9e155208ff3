package tagwriter

import (
	"fmt"
	"os"
	"strconv"

	flac "github.com/go-flac/go-flac"
	"github.com/go-flac/flacpicture"
	"github.com/go-flac/flacvorbis"
)

// writeFLAC replaces the FLAC file's VORBIS_COMMENT and PICTURE metadata
// blocks with a fresh set built from meta, saving via a temp-file-then-
// rename so a crash mid-write can never leave a half-written FLAC stream
// (§4.G: "Saves atomically where possible").
func writeFLAC(path string, meta Metadata) (Result, error) {
	f, err := flac.ParseFile(path)
	if err != nil {
		return Result{}, fmt.Errorf("parse flac: %w", err)
	}

	kept := f.Meta[:0]
	for _, b := range f.Meta {
		if b.Type == flac.VorbisComment || b.Type == flac.Picture {
			continue
		}
		kept = append(kept, b)
	}
	f.Meta = kept

	cmt := flacvorbis.New()
	if meta.Title != "" {
		_ = cmt.Add("TITLE", meta.Title)
	}
	if meta.Artist != "" {
		_ = cmt.Add("ARTIST", meta.Artist)
	}
	if meta.Album != "" {
		_ = cmt.Add("ALBUM", meta.Album)
	}
	if meta.Year > 0 {
		_ = cmt.Add("DATE", strconv.Itoa(meta.Year))
	}
	if meta.TrackNumber > 0 {
		_ = cmt.Add("TRACKNUMBER", strconv.Itoa(meta.TrackNumber))
	}
	if meta.Genre != "" {
		_ = cmt.Add("GENRE", meta.Genre)
	}
	if meta.Publisher != "" {
		_ = cmt.Add("LABEL", meta.Publisher)
	}

	cmtBlock, err := cmt.Marshal()
	if err != nil {
		return Result{}, fmt.Errorf("marshal vorbis comment block: %w", err)
	}
	f.Meta = append(f.Meta, &cmtBlock)

	coverEmbedded := false
	if len(meta.Cover) > 0 {
		pic, err := flacpicture.NewFromImageData(flacpicture.PictureTypeFrontCover, "Cover", meta.Cover, "image/jpeg")
		if err != nil {
			return Result{}, fmt.Errorf("build flac picture block: %w", err)
		}
		picBlock := pic.Marshal()
		f.Meta = append(f.Meta, &picBlock)
		coverEmbedded = true
	}

	tmp := path + ".hydraplus-tmp"
	if err := f.Save(tmp); err != nil {
		return Result{}, fmt.Errorf("save flac tags: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return Result{}, fmt.Errorf("replace flac file: %w", err)
	}

	return Result{TagsUpdated: true, CoverEmbedded: coverEmbedded}, nil
}
