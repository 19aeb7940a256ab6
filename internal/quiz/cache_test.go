package quiz

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestCache(t *testing.T) (*SnapshotCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewSnapshotCache(rdb, time.Minute), mr
}

func sampleQuiz() *Quiz {
	return &Quiz{
		ID:               7,
		Title:            "Biology basics",
		SubjectID:        3,
		TimeLimitSeconds: 20,
		IsActive:         true,
		Questions: []Question{
			{
				ID: 71, SeqNo: 1, Text: "Powerhouse of the cell?", Points: 1,
				Options: []Option{
					{ID: 711, SeqNo: 1, Text: "Mitochondria", IsCorrect: true},
					{ID: 712, SeqNo: 2, Text: "Ribosome"},
					{ID: 713, SeqNo: 3, Text: "Nucleus"},
				},
			},
		},
	}
}

func TestSnapshotCacheRoundTrip(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	if _, ok, err := cache.Get(ctx, 7); err != nil || ok {
		t.Fatalf("expected clean miss, got ok=%v err=%v", ok, err)
	}

	if err := cache.Set(ctx, sampleQuiz()); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, ok, err := cache.Get(ctx, 7)
	if err != nil || !ok {
		t.Fatalf("expected hit, got ok=%v err=%v", ok, err)
	}
	if got.Title != "Biology basics" || len(got.Questions) != 1 {
		t.Fatalf("unexpected snapshot %+v", got)
	}
	if !got.Questions[0].Options[0].IsCorrect {
		t.Fatal("answer key must survive the cache round trip")
	}
}

func TestSnapshotCacheInvalidate(t *testing.T) {
	cache, _ := newTestCache(t)
	ctx := context.Background()

	if err := cache.Set(ctx, sampleQuiz()); err != nil {
		t.Fatalf("set: %v", err)
	}
	if err := cache.InvalidateQuiz(ctx, 7); err != nil {
		t.Fatalf("invalidate: %v", err)
	}
	if _, ok, err := cache.Get(ctx, 7); err != nil || ok {
		t.Fatalf("expected miss after invalidate, got ok=%v err=%v", ok, err)
	}
}

func TestSnapshotCacheCorruptEntryIsAMiss(t *testing.T) {
	cache, mr := newTestCache(t)
	ctx := context.Background()

	mr.Set(snapshotKey(7), "{not json")
	if _, ok, err := cache.Get(ctx, 7); err != nil || ok {
		t.Fatalf("corrupt entry should read as a miss, got ok=%v err=%v", ok, err)
	}
	if mr.Exists(snapshotKey(7)) {
		t.Fatal("corrupt entry should have been dropped")
	}
}
