package worker

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/bitm4ncer/hydra-plus/pkg/spotify"
)

// restartFunc is called by handleRestart after the response flushes; a
// package variable so tests can stub it instead of actually exiting the
// process.
var restartFunc = func() { os.Exit(0) }

// fileCredentials mirrors the State Service's on-disk shape (§6) so both
// processes can share the same credentials file without agreeing on a wire
// format beyond camelCase JSON keys.
type fileCredentials struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

func loadCredentials(path string) (spotify.Credentials, error) {
	if path == "" {
		return spotify.Credentials{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return spotify.Credentials{}, nil
		}
		return spotify.Credentials{}, fmt.Errorf("read credentials file: %w", err)
	}
	var fc fileCredentials
	if err := json.Unmarshal(data, &fc); err != nil {
		return spotify.Credentials{}, fmt.Errorf("parse credentials file: %w", err)
	}
	return spotify.Credentials{ClientID: fc.ClientID, ClientSecret: fc.ClientSecret}, nil
}

func saveCredentials(path string, creds spotify.Credentials) error {
	if path == "" {
		return nil
	}
	fc := fileCredentials{ClientID: creds.ClientID, ClientSecret: creds.ClientSecret}
	data, err := json.MarshalIndent(fc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal credentials: %w", err)
	}
	dir := filepath.Dir(path)
	if dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("mkdir %s: %w", dir, err)
		}
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return os.Rename(tmp, path)
}
