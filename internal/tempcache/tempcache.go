// Package tempcache implements the Temp Cache: the
// in-process holding area for verdicts and screenshot bytes produced during
// a run, with an optional file-backed mirror for crash recovery. Ported
// from the teacher's in-memory ScreenshotStore (internal/screenshot/store.go)
// and generalized from a TTL'd blob cache to a run-scoped verdict+screenshot
// cache keyed by property id.
package tempcache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/user/tagwatch/internal/model"
)

// entry is what the cache holds per property: a verdict, and optionally its
// screenshot bytes (deleted from memory once uploaded).
type entry struct {
	verdict    model.Verdict
	screenshot []byte
}

// Cache is the in-process store backing the Temp Cache. A zero Cache is
// not usable; construct with New.
type Cache struct {
	mu        sync.Mutex
	entries   map[string]*entry
	mirrorDir string
}

// Option configures a Cache at construction time.
type Option func(*Cache)

// WithFileMirror enables the optional durable mirror: every AddVerdict call
// also serializes the verdict to <dir>/<propertyId>_<phase>.json so a crash
// mid-run can be recovered from disk. Clear deletes dir's contents.
func WithFileMirror(dir string) Option {
	return func(c *Cache) { c.mirrorDir = dir }
}

// New creates an empty Cache for a single run.
func New(opts ...Option) *Cache {
	c := &Cache{entries: make(map[string]*entry)}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// AddVerdict stores v under its PropertyID. Overwriting an existing entry is
// only legal if the existing verdict is the Phase-1 "queued for Phase 2"
// timeout placeholder; any other overwrite is a defect and
// returns an error rather than silently corrupting the run's record.
func (c *Cache) AddVerdict(v model.Verdict) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[v.PropertyID]; ok {
		if existing.verdict.Status != model.VerdictTimeout {
			return fmt.Errorf("tempcache: refusing to overwrite non-placeholder verdict for property %q", v.PropertyID)
		}
		existing.verdict = v
	} else {
		c.entries[v.PropertyID] = &entry{verdict: v}
	}

	if c.mirrorDir != "" {
		if err := c.writeMirror(v); err != nil {
			return fmt.Errorf("tempcache: mirror write failed for property %q: %w", v.PropertyID, err)
		}
	}
	return nil
}

// AddScreenshot attaches screenshot bytes to an existing verdict entry.
// It is a no-op if no verdict has been recorded yet for propertyID.
func (c *Cache) AddScreenshot(propertyID string, bytes []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if e, ok := c.entries[propertyID]; ok {
		e.screenshot = bytes
	}
}

// ExportEntry is the (verdict, screenshot) pair the Batch Uploader consumes.
type ExportEntry struct {
	Verdict    model.Verdict
	Screenshot []byte
}

// ExportForUpload returns a snapshot of every cached entry, in no
// particular order; it does not clear the cache.
func (c *Cache) ExportForUpload() []ExportEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]ExportEntry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, ExportEntry{Verdict: e.verdict, Screenshot: e.screenshot})
	}
	return out
}

// Len reports how many verdicts are currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Clear empties the cache and deletes the file mirror, if any. Called on
// every run exit path.
func (c *Cache) Clear() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.entries = make(map[string]*entry)

	if c.mirrorDir == "" {
		return nil
	}
	if err := os.RemoveAll(c.mirrorDir); err != nil {
		return fmt.Errorf("tempcache: failed to remove mirror dir: %w", err)
	}
	return nil
}

func (c *Cache) writeMirror(v model.Verdict) error {
	if err := os.MkdirAll(c.mirrorDir, 0o755); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	path := filepath.Join(c.mirrorDir, fmt.Sprintf("%s_%d.json", v.PropertyID, v.Phase))
	return os.WriteFile(path, data, 0o644)
}
