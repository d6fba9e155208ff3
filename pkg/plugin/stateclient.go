package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/bitm4ncer/hydra-plus/pkg/queuestore"
)

// callTimeout bounds every individual call J makes to D or I (§5: "at the
// poll timer and at each P2P-client call" — the same discipline applies to
// these HTTP calls).
const callTimeout = 10 * time.Second

// StateClient is J's HTTP client for the State Service (D). A thin wrapper;
// every call is fire-and-forget from J's perspective (errors are logged by
// the caller, never retried beyond what the caller itself decides).
type StateClient struct {
	baseURL string
	http    *http.Client
}

// NewStateClient returns a StateClient pointed at baseURL (e.g.
// "http://127.0.0.1:3847").
func NewStateClient(baseURL string) *StateClient {
	return &StateClient{baseURL: baseURL, http: &http.Client{Timeout: callTimeout}}
}

// Pending fetches the current unprocessed queue from D's GET /pending.
func (c *StateClient) Pending(ctx context.Context) ([]queuestore.Request, error) {
	var out struct {
		Searches []queuestore.Request `json:"searches"`
	}
	if err := c.doJSON(ctx, http.MethodGet, "/pending", nil, &out); err != nil {
		return nil, err
	}
	return out.Searches, nil
}

// MarkProcessed posts the given search IDs to D's POST /mark-processed.
// At-least-once by design (§4.J); D's application is idempotent.
func (c *StateClient) MarkProcessed(ctx context.Context, searchIDs []int64) error {
	body := map[string]any{"search_ids": searchIDs}
	return c.doJSON(ctx, http.MethodPost, "/mark-processed", body, nil)
}

// Event posts an event to D's POST /event (fire-and-forget from D's side;
// J still waits for the HTTP round-trip since this is a plain call, not a
// background task — D's handler itself is what responds fast).
func (c *StateClient) Event(ctx context.Context, typ, message, trackID string) error {
	body := map[string]any{"type": typ, "message": message, "track_id": trackID}
	return c.doJSON(ctx, http.MethodPost, "/event", body, nil)
}

// Progress posts a progress update for trackID to D's POST /progress. J is
// the only component with visibility into live transfer byte counts, so J
// is the sole caller of this endpoint (§3: "Keyed by track_id, supplied by
// J").
func (c *StateClient) Progress(ctx context.Context, trackID, filename string, percent int, bytesDone, bytesTotal int64) error {
	body := map[string]any{
		"track_id":    trackID,
		"filename":    filename,
		"percent":     percent,
		"bytes_done":  bytesDone,
		"bytes_total": bytesTotal,
	}
	return c.doJSON(ctx, http.MethodPost, "/progress", body, nil)
}

func (c *StateClient) doJSON(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}
