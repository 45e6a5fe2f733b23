package store

import (
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/webverify/webverify/trust"
)

// ResultEntry is the persisted form of one verification result.
type ResultEntry struct {
	URL       string        `json:"url"`
	Outcome   trust.Outcome `json:"outcome"`
	CheckedAt time.Time     `json:"checked_at"`
}

// ResultCache maps document URLs to their last fresh verdict.
type ResultCache struct {
	dir string
	now func() time.Time
	mu  sync.Mutex
}

// NewResultCache returns a cache stored under dir.
func NewResultCache(dir string) *ResultCache {
	return &ResultCache{dir: dir, now: time.Now}
}

// Get returns the cached outcome for url exactly as it was stored; the
// caller marks it as read from cache. A miss returns ErrNotFound.
func (c *ResultCache) Get(url string) (trust.Outcome, error) {
	e, err := c.load(c.path(url))
	if err != nil {
		return trust.Outcome{}, err
	}
	if e.URL != url {
		// Truncated hash collision.
		return trust.Outcome{}, fmt.Errorf("%w: %s", ErrNotFound, url)
	}
	return e.Outcome, nil
}

// Put stores o as the latest verdict for url. The cache marker is never
// persisted.
func (c *ResultCache) Put(url string, o trust.Outcome) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return writeJSON(c.path(url), ResultEntry{
		URL:       url,
		Outcome:   o.Fresh(),
		CheckedAt: c.now().UTC(),
	})
}

// Delete removes the entry for url. Deleting a missing entry is not an error.
func (c *ResultCache) Delete(url string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.Remove(c.path(url)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("deleting cached result: %w", err)
	}
	return nil
}

// Clear removes every cached result.
func (c *ResultCache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := os.RemoveAll(c.dir); err != nil {
		return fmt.Errorf("clearing result cache: %w", err)
	}
	return nil
}

// Entries lists cached results sorted by URL. Unreadable files are skipped
// and reported in the joined error.
func (c *ResultCache) Entries() ([]ResultEntry, error) {
	files, err := os.ReadDir(c.dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing result cache: %w", err)
	}

	var (
		entries []ResultEntry
		errs    []error
	)
	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(f.Name(), ".json") {
			continue
		}
		e, err := c.load(filepath.Join(c.dir, f.Name()))
		if err != nil {
			errs = append(errs, err)
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].URL < entries[j].URL })
	return entries, errors.Join(errs...)
}

func (c *ResultCache) load(path string) (ResultEntry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return ResultEntry{}, ErrNotFound
		}
		return ResultEntry{}, fmt.Errorf("reading cached result: %w", err)
	}

	var e ResultEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return ResultEntry{}, fmt.Errorf("corrupt cached result %s: %w", filepath.Base(path), err)
	}
	return e, nil
}

// path derives the file for url from the SHA-256 of the URL, truncated to
// 16 hex characters.
func (c *ResultCache) path(url string) string {
	h := sha256.Sum256([]byte(url))
	return filepath.Join(c.dir, fmt.Sprintf("%x.json", h[:8]))
}
