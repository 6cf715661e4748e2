// Package creds resolves the broker API key from a shared credentials file.
// The cache is an explicitly owned, lock-protected singleton injected by
// reference; nothing reaches it through a global.
package creds

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"legbook/internal/logger"
)

// Provider yields the API key used for broker calls.
type Provider interface {
	APIKey() (string, error)
}

type credentials struct {
	APIKey      string `json:"api_key"`
	AccessToken string `json:"access_token"`
}

// FileProvider loads credentials from a JSON file once at startup and
// hot-reloads on file changes.
type FileProvider struct {
	path string

	mu     sync.RWMutex
	cached *credentials

	watcher *fsnotify.Watcher
}

// NewFileProvider loads the file eagerly and starts watching it. Startup
// fails fast on a missing or invalid file rather than falling back silently.
func NewFileProvider(path string) (*FileProvider, error) {
	p := &FileProvider{path: path}
	if err := p.reload(); err != nil {
		return nil, err
	}
	if err := p.watch(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *FileProvider) APIKey() (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.cached == nil || p.cached.APIKey == "" {
		return "", fmt.Errorf("credentials not loaded from %s", p.path)
	}
	return p.cached.APIKey, nil
}

func (p *FileProvider) Close() error {
	if p.watcher != nil {
		return p.watcher.Close()
	}
	return nil
}

func (p *FileProvider) reload() error {
	raw, err := os.ReadFile(p.path)
	if err != nil {
		return fmt.Errorf("reading credentials file: %w", err)
	}
	var c credentials
	if err := json.Unmarshal(raw, &c); err != nil {
		return fmt.Errorf("parsing credentials file %s: %w", p.path, err)
	}
	if c.APIKey == "" {
		return fmt.Errorf("credentials file %s has an empty api_key", p.path)
	}
	p.mu.Lock()
	p.cached = &c
	p.mu.Unlock()
	logger.Infof("loaded broker credentials from %s", p.path)
	return nil
}

// watch observes the parent directory because editors and secret managers
// replace the file instead of writing it in place.
func (p *FileProvider) watch() error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(filepath.Dir(p.path)); err != nil {
		_ = w.Close()
		return err
	}
	p.watcher = w
	target := filepath.Clean(p.path)
	go func() {
		for {
			select {
			case evt, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != target {
					continue
				}
				if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if err := p.reload(); err != nil {
					logger.Warnf("credential reload failed, keeping previous key: %v", err)
				}
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				logger.Warnf("credential watcher error: %v", err)
			}
		}
	}()
	return nil
}

// Static is a fixed-key provider for tests and one-off tooling.
type Static string

func (s Static) APIKey() (string, error) {
	if s == "" {
		return "", fmt.Errorf("empty static credential")
	}
	return string(s), nil
}
