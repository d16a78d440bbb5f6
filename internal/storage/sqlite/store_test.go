package sqlite

import (
	"context"
	"testing"
	"time"

	"github.com/satyasetu/voice-gateway/internal/storage"
)

func newTestStore(t *testing.T, name string) *Store {
	t.Helper()
	store, err := New("file:" + name + "?mode=memory&cache=shared")
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func record(id string, blocked, scam, cacheHit bool, latency int64) *storage.Interaction {
	return &storage.Interaction{
		ID:           id,
		UserID:       "user-1",
		Intent:       "scheme_lookup",
		Confidence:   0.85,
		LatencyMS:    latency,
		Blocked:      blocked,
		ScamDetected: scam,
		CacheHit:     cacheHit,
		AnswerTokens: 42,
		CreatedAt:    time.Now().UTC(),
	}
}

func TestStore_RecordAndStats(t *testing.T) {
	store := newTestStore(t, "stats1")
	ctx := context.Background()

	interactions := []*storage.Interaction{
		record("i-1", false, false, false, 100),
		record("i-2", false, true, true, 200),
		record("i-3", true, false, false, 50),
		record("i-4", false, false, true, 150),
	}
	for _, rec := range interactions {
		if err := store.RecordInteraction(ctx, rec); err != nil {
			t.Fatalf("RecordInteraction(%s) error = %v", rec.ID, err)
		}
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalQueries != 4 {
		t.Errorf("TotalQueries = %d, want 4", stats.TotalQueries)
	}
	if stats.ScamsBlocked != 2 {
		t.Errorf("ScamsBlocked = %d, want 2 (one block + one detection)", stats.ScamsBlocked)
	}
	if stats.CacheHitRate != 0.5 {
		t.Errorf("CacheHitRate = %v, want 0.5", stats.CacheHitRate)
	}
	if stats.AvgLatencyMS != 125 {
		t.Errorf("AvgLatencyMS = %d, want 125", stats.AvgLatencyMS)
	}
}

func TestStore_StatsEmpty(t *testing.T) {
	store := newTestStore(t, "stats2")

	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats() error = %v", err)
	}
	if stats.TotalQueries != 0 || stats.ScamsBlocked != 0 || stats.CacheHitRate != 0 || stats.AvgLatencyMS != 0 {
		t.Errorf("empty store stats = %+v, want zeros", stats)
	}
}

func TestStore_DuplicateIDRejected(t *testing.T) {
	store := newTestStore(t, "dup")
	ctx := context.Background()

	if err := store.RecordInteraction(ctx, record("same", false, false, false, 10)); err != nil {
		t.Fatalf("first insert error = %v", err)
	}
	if err := store.RecordInteraction(ctx, record("same", false, false, false, 10)); err == nil {
		t.Fatal("duplicate run id accepted, want primary key violation")
	}
}
