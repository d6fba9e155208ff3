package renamer

import (
	"os"
	"path/filepath"
	"testing"
)

func TestSanitizeStripsIllegalChars(t *testing.T) {
	got := Sanitize(`AC/DC: "Back In Black"`)
	want := `ACDC Back In Black`
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestExpandSubstitutesTokens(t *testing.T) {
	name := Expand("{trackNum} {artist} - {track}", Tokens{Artist: "Prince", Track: "When Doves Cry", TrackNum: 7}, ".mp3")
	if name != "07 Prince - When Doves Cry.mp3" {
		t.Fatalf("unexpected name: %q", name)
	}
}

func TestExpandZeroTrackNumIsEmpty(t *testing.T) {
	name := Expand("{trackNum} {artist} - {track}", Tokens{Artist: "Prince", Track: "Purple Rain"}, ".mp3")
	if name != "Prince - Purple Rain.mp3" {
		t.Fatalf("unexpected name: %q", name)
	}
}

func TestExpandSingleTrackPattern(t *testing.T) {
	name := Expand(DefaultPattern.SingleTrack, Tokens{Artist: "Prince", Track: "Purple Rain"}, ".mp3")
	if name != "Prince - Purple Rain.mp3" {
		t.Fatalf("unexpected name: %q", name)
	}
}

func TestResolveCollisionAppendsCounter(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "A - T.mp3"), []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	got := ResolveCollision(dir, "A - T.mp3")
	want := filepath.Join(dir, "A - T (1).mp3")
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestResolveCollisionIncrementsUntilFree(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"A - T.mp3", "A - T (1).mp3", "A - T (2).mp3"} {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	got := ResolveCollision(dir, "A - T.mp3")
	want := filepath.Join(dir, "A - T (3).mp3")
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestAlbumFolderNameWithAndWithoutYear(t *testing.T) {
	if got := AlbumFolderName("Prince", "Purple Rain", 1984); got != "Prince - Purple Rain (1984)" {
		t.Fatalf("got %q", got)
	}
	if got := AlbumFolderName("Prince", "Purple Rain", 0); got != "Prince - Purple Rain" {
		t.Fatalf("got %q", got)
	}
}

func TestEnsureAlbumFolderIsIdempotent(t *testing.T) {
	parent := t.TempDir()
	p1, err := EnsureAlbumFolder(parent, "Prince", "Purple Rain", 1984)
	if err != nil {
		t.Fatal(err)
	}
	p2, err := EnsureAlbumFolder(parent, "Prince", "Purple Rain", 1984)
	if err != nil {
		t.Fatal(err)
	}
	if p1 != p2 {
		t.Fatalf("expected idempotent folder path, got %q then %q", p1, p2)
	}
}

func TestRenameProducesExpectedBasename(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "input.mp3")
	if err := os.WriteFile(src, []byte("x"), 0o644); err != nil {
		t.Fatal(err)
	}
	dest, err := Rename(src, "{artist} - {track}", Tokens{Artist: "Prince", Track: "Purple Rain"})
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(dest) != "Prince - Purple Rain.mp3" {
		t.Fatalf("unexpected dest basename: %q", filepath.Base(dest))
	}
	if _, err := os.Stat(dest); err != nil {
		t.Fatalf("renamed file missing: %v", err)
	}
}

func TestMoveToFolderResolvesCollision(t *testing.T) {
	dir := t.TempDir()
	folder := filepath.Join(dir, "album")
	if err := os.MkdirAll(folder, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(folder, "track.mp3"), []byte("existing"), 0o644); err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(dir, "track.mp3")
	if err := os.WriteFile(src, []byte("new"), 0o644); err != nil {
		t.Fatal(err)
	}

	dest, err := MoveToFolder(src, folder)
	if err != nil {
		t.Fatal(err)
	}
	if filepath.Base(dest) != "track (1).mp3" {
		t.Fatalf("unexpected collision-resolved name: %q", filepath.Base(dest))
	}
}
