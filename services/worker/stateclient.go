package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"
)

// callTimeout bounds every individual callback I makes into D (§5).
const callTimeout = 10 * time.Second

// stateClient is I's HTTP client back into the State Service, used only for
// the two calls the background enrichment step needs: posting a terminal
// event and releasing a progress entry (§4.I step 5d/e). A failure here is
// logged, never retried or surfaced to the file pipeline's own outcome.
type stateClient struct {
	baseURL string
	http    *http.Client
}

func newStateClient(baseURL string) *stateClient {
	return &stateClient{baseURL: baseURL, http: &http.Client{Timeout: callTimeout}}
}

func (c *stateClient) event(ctx context.Context, typ, message, trackID string) {
	if c.baseURL == "" {
		return
	}
	body := map[string]any{"type": typ, "message": message, "track_id": trackID}
	if err := c.post(ctx, "/event", body); err != nil {
		slog.Warn("worker: could not post event to state service", "err", err)
	}
}

func (c *stateClient) removeProgress(ctx context.Context, trackID string) {
	if c.baseURL == "" || trackID == "" {
		return
	}
	if err := c.post(ctx, "/remove-progress", map[string]any{"track_id": trackID}); err != nil {
		slog.Warn("worker: could not remove progress entry", "err", err)
	}
}

func (c *stateClient) post(ctx context.Context, path string, body any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return err
	}
	cctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(cctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}
