// Package cache provides the optional per-message verdict cache so AI
// re-runs over an unchanged mailbox skip transport calls. Keys are content
// hashes; entries expire after a TTL. Backends: none (default), a local
// JSON file, or Redis.
package cache

import (
	"context"
	"time"

	"github.com/ignite/offertracker/internal/llm"
)

// Store is the verdict cache contract. A miss returns ok=false with a nil
// error; errors are reserved for backend failures.
type Store interface {
	Get(ctx context.Context, key string) (llm.RawVerdict, bool, error)
	Put(ctx context.Context, key string, verdict llm.RawVerdict) error
	Close() error
}

// entry wraps a cached verdict with its storage time for TTL checks.
type entry struct {
	Verdict  llm.RawVerdict `json:"verdict"`
	StoredAt time.Time      `json:"stored_at"`
}

func (e entry) expired(ttl time.Duration, now time.Time) bool {
	return ttl > 0 && now.Sub(e.StoredAt) > ttl
}

// None is the no-op backend: every lookup misses, every write is dropped.
type None struct{}

func (None) Get(context.Context, string) (llm.RawVerdict, bool, error) {
	return llm.RawVerdict{}, false, nil
}

func (None) Put(context.Context, string, llm.RawVerdict) error { return nil }

func (None) Close() error { return nil }
