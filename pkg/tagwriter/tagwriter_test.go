package tagwriter

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestPreflightRejectsMissingFile(t *testing.T) {
	_, err := Write(context.Background(), filepath.Join(t.TempDir(), "missing.mp3"), Metadata{Title: "x"})
	if err == nil {
		t.Fatalf("expected error for missing file")
	}
}

func TestPreflightRejectsUndersizeFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "tiny.mp3")
	if err := os.WriteFile(path, []byte("too small"), 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Write(context.Background(), path, Metadata{Title: "x"})
	if err == nil {
		t.Fatalf("expected error for undersize file")
	}
}

func TestUnsupportedExtensionRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "track.wav")
	data := make([]byte, MinFileSize+1)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := Write(context.Background(), path, Metadata{Title: "x"})
	if err == nil {
		t.Fatalf("expected error for unsupported extension")
	}
}
