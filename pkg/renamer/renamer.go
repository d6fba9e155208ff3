// Package renamer implements the Renamer & Organizer (component H):
// sanitizing filename components, substituting rename-pattern tokens,
// resolving filename collisions, and creating/moving files into
// album-named folders. Pure filesystem-path logic grounded on the teacher's
// objstore/local.go path-joining and directory-creation idioms, adapted from
// object-store key handling to real OS renames and moves since Hydra+
// organizes files directly on disk rather than through a storage
// abstraction.
package renamer

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
)

// Pattern is a Rename Pattern (§3): a pair of templates, one for
// single-track searches and one for album-batch tracks.
type Pattern struct {
	SingleTrack string
	AlbumTrack  string
}

// DefaultPattern mirrors the browser extension's out-of-the-box default
// before any /set-rename-pattern call has been made.
var DefaultPattern = Pattern{
	SingleTrack: "{artist} - {track}",
	AlbumTrack:  "{trackNum} {artist} - {track}",
}

// illegalChars is the sanitizer's strip set (§4.H): characters forbidden in
// Windows and most POSIX filenames that also appear routinely in track
// metadata (e.g. "AC/DC", "Mr. Blue Sky: ELO").
var illegalChars = regexp.MustCompile(`[<>:"/\\|?*]`)

var whitespaceRun = regexp.MustCompile(`\s+`)

// Sanitize strips the illegal-character set from s and trims the result.
func Sanitize(s string) string {
	s = illegalChars.ReplaceAllString(s, "")
	return strings.TrimSpace(s)
}

// Tokens holds the substitution values for a rename pattern. TrackNum of 0
// expands to "" (§4.H, §6); any non-zero value zero-pads to two digits.
type Tokens struct {
	Artist   string
	Track    string
	Album    string
	Year     int
	TrackNum int
}

// Expand substitutes every {token} in pattern with its sanitized value,
// collapses whitespace runs left by substitution, trims dangling "- "/" -"
// produced by empty tokens, and appends ext (which must include the leading
// dot). The result is a bare filename, not a path.
func Expand(pattern string, t Tokens, ext string) string {
	trackNum := ""
	if t.TrackNum > 0 {
		trackNum = fmt.Sprintf("%02d", t.TrackNum)
	}
	year := ""
	if t.Year > 0 {
		year = fmt.Sprintf("%d", t.Year)
	}

	replacer := strings.NewReplacer(
		"{artist}", Sanitize(t.Artist),
		"{track}", Sanitize(t.Track),
		"{album}", Sanitize(t.Album),
		"{year}", year,
		"{trackNum}", trackNum,
	)
	name := replacer.Replace(pattern)

	name = whitespaceRun.ReplaceAllString(name, " ")
	name = strings.TrimSpace(name)
	// Dangling separators left behind by an empty token, e.g. "{trackNum} -
	// Artist" with no track number becomes " - Artist" -> "- Artist"; strip
	// any leading/trailing "- " or " -" runs.
	for {
		trimmed := strings.TrimPrefix(name, "- ")
		trimmed = strings.TrimSuffix(trimmed, " -")
		trimmed = strings.TrimSpace(trimmed)
		if trimmed == name {
			break
		}
		name = trimmed
	}

	return name + ext
}

// ResolveCollision returns a path guaranteed not to exist at call time: dir
// is unchanged if the exact name is free; otherwise "name (1)", "name (2)",
// ... is tried in order, appended before ext, until one is free (§4.H).
func ResolveCollision(dir, name string) string {
	ext := filepath.Ext(name)
	base := strings.TrimSuffix(name, ext)

	candidate := filepath.Join(dir, name)
	if _, err := os.Stat(candidate); os.IsNotExist(err) {
		return candidate
	}
	for n := 1; ; n++ {
		candidate = filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, n, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}

// Rename moves the file at srcPath to a collision-free path in the same
// directory, built from pattern and tokens. Returns the new path.
func Rename(srcPath, pattern string, t Tokens) (string, error) {
	dir := filepath.Dir(srcPath)
	ext := filepath.Ext(srcPath)
	name := Expand(pattern, t, ext)
	dest := ResolveCollision(dir, name)

	if dest == srcPath {
		return srcPath, nil
	}
	if err := os.Rename(srcPath, dest); err != nil {
		return "", fmt.Errorf("rename %q to %q: %w", srcPath, dest, err)
	}
	return dest, nil
}

// AlbumFolderName builds the album-folder basename (§4.H):
// "{artist} - {album}[ (year)]".
func AlbumFolderName(artist, album string, year int) string {
	name := fmt.Sprintf("%s - %s", Sanitize(artist), Sanitize(album))
	if year > 0 {
		name = fmt.Sprintf("%s (%d)", name, year)
	}
	return name
}

// EnsureAlbumFolder creates (idempotently, mkdir -p semantics) the album
// folder for artist/album/year under parentDir and returns its full path.
func EnsureAlbumFolder(parentDir, artist, album string, year int) (string, error) {
	name := AlbumFolderName(artist, album, year)
	path := filepath.Join(parentDir, name)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("create album folder %q: %w", path, err)
	}
	return path, nil
}

// MoveToFolder moves srcPath into folderDir, resolving any basename
// collision the same way Rename does. Returns the new path.
func MoveToFolder(srcPath, folderDir string) (string, error) {
	name := filepath.Base(srcPath)
	dest := ResolveCollision(folderDir, name)
	if err := os.Rename(srcPath, dest); err != nil {
		return "", fmt.Errorf("move %q to %q: %w", srcPath, dest, err)
	}
	return dest, nil
}
