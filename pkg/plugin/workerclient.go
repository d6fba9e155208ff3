package plugin

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// WorkerClient is J's HTTP client for the Worker Service (I): the
// completion hook posts here once the P2P client reports a finished
// transfer (§4.J "Completion hook").
type WorkerClient struct {
	baseURL string
	http    *http.Client
}

// NewWorkerClient returns a WorkerClient pointed at baseURL (e.g.
// "http://127.0.0.1:3848").
func NewWorkerClient(baseURL string) *WorkerClient {
	return &WorkerClient{baseURL: baseURL, http: &http.Client{Timeout: callTimeout}}
}

// ProcessMetadataRequest mirrors the Worker's POST /process-metadata body.
type ProcessMetadataRequest struct {
	FilePath           string `json:"file_path"`
	Artist             string `json:"artist"`
	Track              string `json:"track"`
	Album              string `json:"album"`
	TrackID            string `json:"track_id"`
	TrackNumber        int    `json:"track_number,omitempty"`
	PrefetchedYear     int    `json:"prefetched_year,omitempty"`
	PrefetchedImageURL string `json:"prefetched_image_url,omitempty"`
	TargetFolder       string `json:"target_folder,omitempty"`
	FormatPreference   string `json:"format_preference,omitempty"`
}

// ProcessMetadataResponse mirrors the Worker's immediate ack (§4.I step 4).
type ProcessMetadataResponse struct {
	Success       bool   `json:"success"`
	NewPath       string `json:"new_path"`
	Renamed       bool   `json:"renamed"`
	MovedToFolder bool   `json:"moved_to_folder"`
}

// ProcessMetadata posts a single-file completion to the Worker.
func (c *WorkerClient) ProcessMetadata(ctx context.Context, req ProcessMetadataRequest) (ProcessMetadataResponse, error) {
	var out ProcessMetadataResponse
	err := c.doJSON(ctx, "/process-metadata", req, &out)
	return out, err
}

// EnsureAlbumFolderRequest mirrors the Worker's POST /ensure-album-folder body.
type EnsureAlbumFolderRequest struct {
	AlbumArtist string `json:"album_artist"`
	AlbumName   string `json:"album_name"`
	Year        int    `json:"year,omitempty"`
	DownloadDir string `json:"download_dir"`
}

// EnsureAlbumFolderResponse mirrors the Worker's response.
type EnsureAlbumFolderResponse struct {
	FolderPath string `json:"folder_path"`
	FolderName string `json:"folder_name"`
}

// EnsureAlbumFolder posts an album-folder creation request.
func (c *WorkerClient) EnsureAlbumFolder(ctx context.Context, req EnsureAlbumFolderRequest) (EnsureAlbumFolderResponse, error) {
	var out EnsureAlbumFolderResponse
	err := c.doJSON(ctx, "/ensure-album-folder", req, &out)
	return out, err
}

func (c *WorkerClient) doJSON(ctx context.Context, path string, body, out any) error {
	b, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("POST %s: status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
