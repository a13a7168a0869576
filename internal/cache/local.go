package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/ignite/offertracker/internal/llm"
)

// Local is a JSON-file verdict cache. The whole map is loaded at open and
// rewritten on every put; mailbox scans top out at a few thousand entries,
// so the simplicity wins over an embedded store.
type Local struct {
	path string
	ttl  time.Duration

	mu      sync.Mutex
	entries map[string]entry
}

// NewLocal opens (or starts) the cache file at path. A corrupt or missing
// file begins empty rather than failing the run.
func NewLocal(path string, ttl time.Duration) (*Local, error) {
	l := &Local{path: path, ttl: ttl, entries: map[string]entry{}}
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return l, nil
		}
		return nil, fmt.Errorf("cache: reading %s: %w", path, err)
	}
	if err := json.Unmarshal(raw, &l.entries); err != nil {
		l.entries = map[string]entry{}
	}
	return l, nil
}

func (l *Local) Get(_ context.Context, key string) (llm.RawVerdict, bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	e, ok := l.entries[key]
	if !ok || e.expired(l.ttl, time.Now()) {
		return llm.RawVerdict{}, false, nil
	}
	return e.Verdict, true, nil
}

func (l *Local) Put(_ context.Context, key string, verdict llm.RawVerdict) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries[key] = entry{Verdict: verdict, StoredAt: time.Now()}
	return l.flushLocked()
}

// flushLocked writes via a temp file then renames, so a crash mid-write
// never leaves a truncated cache behind.
func (l *Local) flushLocked() error {
	payload, err := json.Marshal(l.entries)
	if err != nil {
		return fmt.Errorf("cache: encoding entries: %w", err)
	}
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cache: creating %s: %w", dir, err)
		}
	}
	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return fmt.Errorf("cache: writing %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("cache: replacing %s: %w", l.path, err)
	}
	return nil
}

func (l *Local) Close() error { return nil }
