package cache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ignite/offertracker/internal/llm"
)

var testVerdict = llm.RawVerdict{
	IsJobRelated: true,
	Company:      "acme",
	Position:     "staff engineer",
	EventType:    "interview",
	Confidence:   0.9,
}

func TestNoneAlwaysMisses(t *testing.T) {
	ctx := context.Background()
	var s Store = None{}

	require.NoError(t, s.Put(ctx, "k", testVerdict))
	_, ok, err := s.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.NoError(t, s.Close())
}

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "verdicts.json")

	l, err := NewLocal(path, time.Hour)
	require.NoError(t, err)
	require.NoError(t, l.Put(ctx, "k1", testVerdict))

	got, ok, err := l.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testVerdict, got)

	// A fresh open must see what the first instance persisted.
	reopened, err := NewLocal(path, time.Hour)
	require.NoError(t, err)
	got, ok, err = reopened.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testVerdict, got)
}

func TestLocalTTLExpiry(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "verdicts.json")

	l, err := NewLocal(path, time.Nanosecond)
	require.NoError(t, err)
	require.NoError(t, l.Put(ctx, "k1", testVerdict))

	time.Sleep(time.Millisecond)
	_, ok, err := l.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestLocalCorruptFileStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "verdicts.json")
	require.NoError(t, os.WriteFile(path, []byte("{not json"), 0o644))

	l, err := NewLocal(path, time.Hour)
	require.NoError(t, err)
	_, ok, err := l.Get(context.Background(), "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisRoundTrip(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedisWithClient(client, time.Hour)
	defer r.Close()

	require.NoError(t, r.Put(ctx, "k1", testVerdict))

	got, ok, err := r.Get(ctx, "k1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, testVerdict, got)

	_, ok, err = r.Get(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisTTLExpiry(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	r := NewRedisWithClient(client, time.Minute)
	defer r.Close()

	require.NoError(t, r.Put(ctx, "k1", testVerdict))
	mr.FastForward(2 * time.Minute)

	_, ok, err := r.Get(ctx, "k1")
	require.NoError(t, err)
	assert.False(t, ok)
}
