// Package asset serves the application shell network-first: every request
// tries the origin, successful fetches refresh a per-version disk cache, and
// the cache answers only when the origin is unreachable. One generation is
// retained; activating a new version deletes the previous one.
package asset

import (
	"context"
	"errors"
	"fmt"
	"log"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/newtonslens/labsync/internal/domain/analysis"
)

// Origin is the upstream source of shell assets.
type Origin interface {
	Fetch(ctx context.Context, key string) ([]byte, error)
}

// OfflinePlaceholder is returned for document requests when neither the
// origin nor the cache can answer.
const OfflinePlaceholder = `<!doctype html>
<html><head><title>Offline</title></head>
<body><h1>You are offline</h1><p>Reconnect to load the latest version.</p></body></html>`

type Cache struct {
	mu      sync.Mutex
	root    string
	version string
	origin  Origin
}

// New opens the cache rooted at root for the given shell version and deletes
// any previous generation.
func New(root, version string, origin Origin) (*Cache, error) {
	version = strings.TrimSpace(version)
	if version == "" {
		version = "v1"
	}
	c := &Cache{root: root, version: version, origin: origin}
	if err := os.MkdirAll(c.generationDir(), 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", analysis.ErrStorageUnavailable, err)
	}
	if err := c.dropOldGenerations(); err != nil {
		return nil, err
	}
	return c, nil
}

// Serve returns the asset bytes and content type. Network-first: a reachable
// origin always wins and refreshes the cache; the cached copy is the
// fallback, and document requests degrade to the offline placeholder.
func (c *Cache) Serve(ctx context.Context, key string) ([]byte, string, error) {
	key = cleanKey(key)
	if key == "" {
		return nil, "", analysis.ErrNotFound
	}

	data, err := c.origin.Fetch(ctx, key)
	if err == nil {
		if werr := c.store(key, data); werr != nil {
			log.Printf("asset: cache write failed key=%s err=%v", key, werr)
		}
		return data, contentType(key), nil
	}
	if errors.Is(err, analysis.ErrNotFound) {
		return nil, "", analysis.ErrNotFound
	}

	if cached, rerr := c.load(key); rerr == nil {
		return cached, contentType(key), nil
	}
	if isDocument(key) {
		return []byte(OfflinePlaceholder), "text/html; charset=utf-8", nil
	}
	return nil, "", err
}

// Version returns the active shell generation.
func (c *Cache) Version() string { return c.version }

func (c *Cache) generationDir() string {
	return filepath.Join(c.root, c.version)
}

func (c *Cache) store(key string, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	dst := filepath.Join(c.generationDir(), filepath.FromSlash(key))
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	tmp := dst + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, dst)
}

func (c *Cache) load(key string) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return os.ReadFile(filepath.Join(c.generationDir(), filepath.FromSlash(key)))
}

// dropOldGenerations removes every version directory except the active one.
func (c *Cache) dropOldGenerations() error {
	entries, err := os.ReadDir(c.root)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if !e.IsDir() || e.Name() == c.version {
			continue
		}
		if err := os.RemoveAll(filepath.Join(c.root, e.Name())); err != nil {
			return err
		}
		log.Printf("asset: dropped stale generation version=%s", e.Name())
	}
	return nil
}

// cleanKey normalizes and confines the key below the cache root.
func cleanKey(key string) string {
	key = strings.TrimPrefix(path.Clean("/"+key), "/")
	if key == "." || key == ".." || strings.HasPrefix(key, "../") {
		return ""
	}
	return key
}

func isDocument(key string) bool {
	return strings.HasSuffix(key, ".html") || strings.HasSuffix(key, ".htm") || !strings.Contains(path.Base(key), ".")
}

func contentType(key string) string {
	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
