package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/bitm4ncer/hydra-plus/pkg/spotify"
)

// restartFunc is called by handleRestart after the response flushes; a
// package variable so tests can stub it instead of actually exiting the
// process.
var restartFunc = func() { os.Exit(0) }

// fileCredentials is spotify-credentials.json's on-disk shape (§6):
// camelCase, distinct from spotify.Credentials' wire (snake_case) tags.
type fileCredentials struct {
	ClientID     string `json:"clientId"`
	ClientSecret string `json:"clientSecret"`
}

func loadCredentials(path string) (spotify.Credentials, error) {
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
	fc := fileCredentials{ClientID: creds.ClientID, ClientSecret: creds.ClientSecret}
	return writeJSONFile(path, fc)
}

// fileDebugSettings is debug-settings.json's on-disk shape (§6).
type fileDebugSettings struct {
	DebugWindows bool `json:"debugWindows"`
}

func loadDebugMode(path string) (bool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("read debug settings file: %w", err)
	}
	var fd fileDebugSettings
	if err := json.Unmarshal(data, &fd); err != nil {
		return false, fmt.Errorf("parse debug settings file: %w", err)
	}
	return fd.DebugWindows, nil
}

func saveDebugMode(path string, v bool) error {
	return writeJSONFile(path, fileDebugSettings{DebugWindows: v})
}

func writeJSONFile(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
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
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}

// watchConfigFiles watches the directories containing the credentials and
// debug-settings files for external edits (a user hand-editing the file, or
// another tool regenerating credentials) and reloads them in-process,
// mirroring cmd/ingest's --watch fsnotify usage adapted from a music
// directory to these two sidecar files (§2b). Missing directories are
// tolerated: the watch is simply skipped for that path.
func (s *Service) watchConfigFiles(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Warn("state: could not start config file watcher", "err", err)
		return
	}
	defer watcher.Close()

	dirs := map[string]bool{}
	for _, p := range []string{s.cfg.CredentialsPath, s.cfg.DebugPath} {
		if p == "" {
			continue
		}
		dirs[filepath.Dir(p)] = true
	}
	for dir := range dirs {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			continue
		}
		if err := watcher.Add(dir); err != nil {
			slog.Warn("state: could not watch config dir", "dir", dir, "err", err)
		}
	}

	debounce := map[string]*time.Timer{}
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-watcher.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			path := ev.Name
			if t, pending := debounce[path]; pending {
				t.Stop()
			}
			debounce[path] = time.AfterFunc(200*time.Millisecond, func() { s.reloadConfigFile(path) })
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("state: config watcher error", "err", err)
		}
	}
}

func (s *Service) reloadConfigFile(path string) {
	switch path {
	case s.cfg.CredentialsPath:
		creds, err := loadCredentials(path)
		if err != nil {
			slog.Warn("state: reload credentials failed", "err", err)
			return
		}
		s.credMu.Lock()
		s.creds = creds
		s.credMu.Unlock()
		slog.Info("state: credentials reloaded from disk")
	case s.cfg.DebugPath:
		v, err := loadDebugMode(path)
		if err != nil {
			slog.Warn("state: reload debug settings failed", "err", err)
			return
		}
		s.debugMu.Lock()
		s.debugWindows = v
		s.debugMu.Unlock()
		slog.Info("state: debug settings reloaded from disk", "debug_windows", v)
	}
}
