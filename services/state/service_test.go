package state

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

func newTestService(t *testing.T) (*Service, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()
	svc, err := New(Config{
		QueuePath:       filepath.Join(dir, "nicotine-queue.json"),
		CredentialsPath: filepath.Join(dir, "spotify-credentials.json"),
		DebugPath:       filepath.Join(dir, "debug-settings.json"),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go svc.Run(ctx)

	r := chi.NewRouter()
	svc.Routes(r)
	ts := httptest.NewServer(r)
	t.Cleanup(ts.Close)
	return svc, ts
}

func postJSON(t *testing.T, ts *httptest.Server, path string, body any) *http.Response {
	t.Helper()
	b, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	resp, err := http.Post(ts.URL+path, "application/json", bytes.NewReader(b))
	if err != nil {
		t.Fatalf("POST %s: %v", path, err)
	}
	return resp
}

func decodeJSON(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestSearchThenPending(t *testing.T) {
	_, ts := newTestService(t)

	resp := postJSON(t, ts, "/search", map[string]any{
		"artist": "Prince", "track": "Purple Rain", "album": "Purple Rain",
		"duration_seconds": 525, "track_id": "abc123",
	})
	var searchOut struct {
		Success  bool  `json:"success"`
		SearchID int64 `json:"search_id"`
	}
	decodeJSON(t, resp, &searchOut)
	if !searchOut.Success || searchOut.SearchID == 0 {
		t.Fatalf("unexpected search response: %+v", searchOut)
	}

	pendResp, err := http.Get(ts.URL + "/pending")
	if err != nil {
		t.Fatalf("GET /pending: %v", err)
	}
	var pending struct {
		Searches []struct {
			SearchID  int64 `json:"search_id"`
			Processed bool  `json:"processed"`
			Artist    string `json:"artist"`
		} `json:"searches"`
	}
	decodeJSON(t, pendResp, &pending)
	if len(pending.Searches) != 1 {
		t.Fatalf("expected 1 pending search, got %d", len(pending.Searches))
	}
	if pending.Searches[0].Processed {
		t.Fatalf("expected processed=false")
	}
	if pending.Searches[0].Artist != "Prince" {
		t.Fatalf("artist not preserved: %+v", pending.Searches[0])
	}
}

func TestSearchRejectsEmptyQuery(t *testing.T) {
	_, ts := newTestService(t)
	resp := postJSON(t, ts, "/search", map[string]any{})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestMarkProcessedIsIdempotent(t *testing.T) {
	_, ts := newTestService(t)
	postJSON(t, ts, "/search", map[string]any{"artist": "A", "track": "T"})

	pendResp, _ := http.Get(ts.URL + "/pending")
	var pending struct {
		Searches []struct {
			SearchID int64 `json:"search_id"`
		} `json:"searches"`
	}
	decodeJSON(t, pendResp, &pending)
	id := pending.Searches[0].SearchID

	for i := 0; i < 2; i++ {
		resp := postJSON(t, ts, "/mark-processed", map[string]any{"search_ids": []int64{id}})
		var out struct{ Success bool `json:"success"` }
		decodeJSON(t, resp, &out)
		if !out.Success {
			t.Fatalf("mark-processed call %d failed", i)
		}
	}

	pendResp2, _ := http.Get(ts.URL + "/pending")
	var pending2 struct {
		Searches []any `json:"searches"`
	}
	decodeJSON(t, pendResp2, &pending2)
	if len(pending2.Searches) != 0 {
		t.Fatalf("expected 0 pending after mark-processed, got %d", len(pending2.Searches))
	}
}

func TestProgressAppliesAndStatusReportsIt(t *testing.T) {
	_, ts := newTestService(t)

	postJSON(t, ts, "/progress", map[string]any{
		"track_id": "trk1", "filename": "song.mp3", "percent": 50,
		"bytes_done": 500, "bytes_total": 1000,
	})

	var status statusResponse
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		resp, _ := http.Get(ts.URL + "/status")
		decodeJSON(t, resp, &status)
		if _, ok := status.ActiveDownloads["trk1"]; ok {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	entry, ok := status.ActiveDownloads["trk1"]
	if !ok {
		t.Fatalf("progress entry never appeared in /status")
	}
	if entry.Percent != 50 {
		t.Fatalf("expected percent=50, got %d", entry.Percent)
	}
	if status.InstanceID == "" {
		t.Fatalf("expected non-empty instance_id")
	}
}

func TestCredentialsRoundTrip(t *testing.T) {
	_, ts := newTestService(t)

	resp := postJSON(t, ts, "/test-spotify-credentials", nil)
	var out struct{ Success bool `json:"success"` }
	decodeJSON(t, resp, &out)
	if out.Success {
		t.Fatalf("expected no credentials configured yet")
	}

	postJSON(t, ts, "/set-spotify-credentials", map[string]any{
		"client_id": "id", "client_secret": "secret",
	})

	resp2 := postJSON(t, ts, "/test-spotify-credentials", nil)
	decodeJSON(t, resp2, &out)
	if !out.Success {
		t.Fatalf("expected credentials configured after /set-spotify-credentials")
	}
}

func TestSetRenamePattern(t *testing.T) {
	svc, ts := newTestService(t)
	postJSON(t, ts, "/set-rename-pattern", map[string]any{
		"single_track": "{artist} -- {track}",
		"album_track":  "{trackNum}. {track}",
	})
	p := svc.Pattern()
	if p.SingleTrack != "{artist} -- {track}" {
		t.Fatalf("pattern not applied: %+v", p)
	}
}

func TestDebugModeRoundTrip(t *testing.T) {
	_, ts := newTestService(t)

	resp, _ := http.Get(ts.URL + "/get-debug-mode")
	var out struct{ DebugWindows bool `json:"debug_windows"` }
	decodeJSON(t, resp, &out)
	if out.DebugWindows {
		t.Fatalf("expected default debug_windows=false")
	}

	postJSON(t, ts, "/set-debug-mode", map[string]any{"debug_windows": true})

	resp2, _ := http.Get(ts.URL + "/get-debug-mode")
	decodeJSON(t, resp2, &out)
	if !out.DebugWindows {
		t.Fatalf("expected debug_windows=true after set")
	}
}

func TestPingReturnsPong(t *testing.T) {
	_, ts := newTestService(t)
	resp, err := http.Get(ts.URL + "/ping")
	if err != nil {
		t.Fatalf("GET /ping: %v", err)
	}
	var pong string
	decodeJSON(t, resp, &pong)
	if pong != "pong" {
		t.Fatalf("expected pong, got %q", pong)
	}
}
