package plugin

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/bitm4ncer/hydra-plus/pkg/p2pclient"
	"github.com/bitm4ncer/hydra-plus/pkg/queuestore"
)

// fakeStateServer serves just enough of the State Service's HTTP surface for
// the coordinator to poll, mark-processed, and post events/progress against.
func fakeStateServer(t *testing.T, pending []queuestore.Request) (*httptest.Server, *[][]int64) {
	t.Helper()
	var mu sync.Mutex
	var marked [][]int64
	served := false

	mux := http.NewServeMux()
	mux.HandleFunc("/pending", func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		out := struct {
			Searches []queuestore.Request `json:"searches"`
		}{}
		if !served {
			out.Searches = pending
			served = true
		}
		_ = json.NewEncoder(w).Encode(out)
	})
	mux.HandleFunc("/mark-processed", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			SearchIDs []int64 `json:"search_ids"`
		}
		_ = json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		marked = append(marked, body.SearchIDs)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/event", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	mux.HandleFunc("/progress", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })

	return httptest.NewServer(mux), &marked
}

func fakeWorkerServer(t *testing.T) (*httptest.Server, chan ProcessMetadataRequest) {
	t.Helper()
	received := make(chan ProcessMetadataRequest, 8)

	mux := http.NewServeMux()
	mux.HandleFunc("/process-metadata", func(w http.ResponseWriter, r *http.Request) {
		var req ProcessMetadataRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		received <- req
		_ = json.NewEncoder(w).Encode(ProcessMetadataResponse{Success: true, NewPath: req.FilePath, Renamed: true})
	})
	mux.HandleFunc("/ensure-album-folder", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(EnsureAlbumFolderResponse{FolderPath: "/music/Artist - Album", FolderName: "Artist - Album"})
	})

	return httptest.NewServer(mux), received
}

// TestCoordinatorHappyPathTrackSearch drives a single-track request through
// search -> high-scoring early result -> download -> completion -> worker
// handoff, using the Mock p2pclient.
func TestCoordinatorHappyPathTrackSearch(t *testing.T) {
	req := queuestore.Request{
		SearchID:         1,
		Kind:             queuestore.KindTrack,
		QueryString:      "Prince Purple Rain",
		Artist:           "Prince",
		Track:            "Purple Rain",
		TrackID:          "track-1",
		DurationSeconds:  100,
		FormatPreference: queuestore.FormatMP3,
	}
	stateSrv, marked := fakeStateServer(t, []queuestore.Request{req})
	defer stateSrv.Close()
	workerSrv, received := fakeWorkerServer(t)
	defer workerSrv.Close()

	mock := p2pclient.NewMock()
	c := New(mock, stateSrv.URL, workerSrv.URL, "/downloads")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := c.pollOnce(ctx); err != nil {
		t.Fatalf("pollOnce: %v", err)
	}

	c.mu.Lock()
	if len(c.searches) != 1 {
		c.mu.Unlock()
		t.Fatalf("expected 1 active search, got %d", len(c.searches))
	}
	var token string
	for tok := range c.searches {
		token = tok
	}
	c.mu.Unlock()

	mock.PushResult(token, p2pclient.SearchResult{
		Peer:            "peer1",
		VirtualPath:     "/peer/music/Prince - Purple Rain.mp3",
		SizeBytes:       9 * 1024 * 1024,
		BitrateKbps:     320,
		DurationSeconds: 100,
	})

	c.mu.Lock()
	s := c.searches[token]
	s.startedAt = time.Now().Add(-EarlyTrigger - time.Second)
	c.mu.Unlock()

	c.evaluateOnce(ctx)

	c.mu.Lock()
	if len(c.downloads) != 1 {
		c.mu.Unlock()
		t.Fatalf("expected 1 active download after evaluate, got %d", len(c.downloads))
	}
	c.mu.Unlock()

	mock.CompleteTransfer("/peer/music/Prince - Purple Rain.mp3")

	select {
	case req := <-received:
		if req.Artist != "Prince" || req.Track != "Purple Rain" {
			t.Fatalf("unexpected process-metadata request: %+v", req)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("worker never received process-metadata request")
	}

	if len(*marked) == 0 {
		t.Fatal("expected mark-processed to have been called")
	}
}

// TestCoordinatorStallTriggersFallback verifies the stall monitor aborts a
// zero-progress transfer past StallGrace and retries the next candidate.
func TestCoordinatorStallTriggersFallback(t *testing.T) {
	req := queuestore.Request{SearchID: 1, Kind: queuestore.KindTrack, Artist: "A", Track: "B", TrackID: "t1", DurationSeconds: 100}
	stateSrv, _ := fakeStateServer(t, nil)
	defer stateSrv.Close()
	workerSrv, _ := fakeWorkerServer(t)
	defer workerSrv.Close()

	mock := p2pclient.NewMock()
	c := New(mock, stateSrv.URL, workerSrv.URL, "/downloads")
	ctx := context.Background()

	token := "tok-1"
	s := &activeSearch{
		token:     token,
		request:   req,
		attempt:   -1,
		startedAt: time.Now(),
		candidates: []candidate{
			{result: p2pclient.SearchResult{Peer: "p1", VirtualPath: "/peer/a.mp3", SizeBytes: 5 << 20}, score: 200},
			{result: p2pclient.SearchResult{Peer: "p2", VirtualPath: "/peer/b.mp3", SizeBytes: 5 << 20}, score: 150},
		},
	}
	c.mu.Lock()
	c.searches[token] = s
	c.mu.Unlock()

	c.startDownload(ctx, s, 0)

	c.mu.Lock()
	dl, ok := c.downloads["/peer/a.mp3"]
	if !ok {
		c.mu.Unlock()
		t.Fatal("expected download a.mp3 to be registered")
	}
	dl.lastProgressAt = time.Now().Add(-StallGrace - time.Second)
	c.mu.Unlock()

	c.stallMonitorOnce(ctx)

	c.mu.Lock()
	defer c.mu.Unlock()
	if _, stillThere := c.downloads["/peer/a.mp3"]; stillThere {
		t.Fatal("expected stalled download a.mp3 to be removed")
	}
	if _, started := c.downloads["/peer/b.mp3"]; !started {
		t.Fatal("expected fallback to candidate b.mp3 to have started")
	}
	if s.attempt != 1 {
		t.Fatalf("expected attempt index 1, got %d", s.attempt)
	}
}

func TestPollIntervalReflectsActivity(t *testing.T) {
	stateSrv, _ := fakeStateServer(t, nil)
	defer stateSrv.Close()
	workerSrv, _ := fakeWorkerServer(t)
	defer workerSrv.Close()

	c := New(p2pclient.NewMock(), stateSrv.URL, workerSrv.URL, "/downloads")

	if got := c.pollInterval(); got != ActiveInterval {
		t.Errorf("freshly active coordinator: got %v want %v", got, ActiveInterval)
	}

	c.mu.Lock()
	c.lastActivity = time.Now().Add(-IdleThreshold - time.Second)
	c.mu.Unlock()
	if got := c.pollInterval(); got != IdleInterval {
		t.Errorf("idle coordinator: got %v want %v", got, IdleInterval)
	}

	c.mu.Lock()
	c.lastActivity = time.Now().Add(-SleepThreshold - time.Second)
	c.mu.Unlock()
	if got := c.pollInterval(); got != SleepInterval {
		t.Errorf("sleeping coordinator: got %v want %v", got, SleepInterval)
	}
}

func TestExpandRequestAlbumProducesOnePerTrack(t *testing.T) {
	req := queuestore.Request{
		Kind:   queuestore.KindAlbum,
		Artist: "Artist",
		Album:  "Album",
		Year:   1999,
		Tracks: []queuestore.TrackRef{
			{TrackNumber: 1, Artist: "Artist", Track: "One", TrackID: "t1", DurationSeconds: 200},
			{TrackNumber: 2, Artist: "Artist", Track: "Two", TrackID: "t2", DurationSeconds: 210},
		},
	}
	items := expandRequest(req)
	if len(items) != 2 {
		t.Fatalf("expected 2 search items, got %d", len(items))
	}
	if !items[0].isAlbum || items[0].albumName != "Album" || items[0].track != "One" {
		t.Fatalf("unexpected first item: %+v", items[0])
	}
	if items[1].track != "Two" || items[1].trackNumber != 2 {
		t.Fatalf("unexpected second item: %+v", items[1])
	}
}
