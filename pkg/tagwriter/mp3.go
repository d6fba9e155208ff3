package tagwriter

import (
	"fmt"
	"strconv"

	"github.com/bogem/id3v2/v2"
)

// writeMP3 overwrites every existing ID3v2 frame with a fresh tag set built
// from meta (§4.G: "overwrites all existing tags so that pre-existing
// comments, user-defined text, popularimeter, and lyrics are discarded").
func writeMP3(path string, meta Metadata) (Result, error) {
	t, err := id3v2.Open(path, id3v2.Options{Parse: false})
	if err != nil {
		return Result{}, fmt.Errorf("open mp3 for tagging: %w", err)
	}
	defer t.Close()

	t.DeleteAllFrames()
	t.SetDefaultEncoding(id3v2.EncodingUTF8)

	t.SetTitle(meta.Title)
	t.SetArtist(meta.Artist)
	t.SetAlbum(meta.Album)

	if meta.Year > 0 {
		t.SetYear(strconv.Itoa(meta.Year))
	}
	if meta.TrackNumber > 0 {
		t.AddTextFrame(t.CommonID("Track number/Position in set"), id3v2.EncodingUTF8, strconv.Itoa(meta.TrackNumber))
	}
	if meta.Genre != "" {
		t.SetGenre(meta.Genre)
	}
	if meta.Publisher != "" {
		t.AddTextFrame(t.CommonID("Publisher"), id3v2.EncodingUTF8, meta.Publisher)
	}

	coverEmbedded := false
	if len(meta.Cover) > 0 {
		t.AddAttachedPicture(id3v2.PictureFrame{
			Encoding:    id3v2.EncodingUTF8,
			MimeType:    "image/jpeg",
			PictureType: id3v2.PTFrontCover,
			Description: "Cover",
			Picture:     meta.Cover,
		})
		coverEmbedded = true
	}

	if err := t.Save(); err != nil {
		return Result{}, fmt.Errorf("save mp3 tags: %w", err)
	}

	return Result{TagsUpdated: true, CoverEmbedded: coverEmbedded}, nil
}
