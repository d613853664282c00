package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sweetpotato0/taskpilot/memory"
)

func TestInMemoryRecordOutcomeUpdatesConfidence(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	for i := 0; i < 3; i++ {
		if err := s.RecordOutcome(ctx, "find the notes", "search", true); err != nil {
			t.Fatalf("record outcome: %v", err)
		}
	}
	if err := s.RecordOutcome(ctx, "find the notes", "search", false); err != nil {
		t.Fatalf("record outcome: %v", err)
	}

	memCtx, err := s.GetContext(ctx, "s1")
	if err != nil {
		t.Fatalf("get context: %v", err)
	}
	if len(memCtx.Patterns) != 1 {
		t.Fatalf("expected one pattern, got %d", len(memCtx.Patterns))
	}
	entry := memCtx.Patterns[0]
	if entry.SuccessCount != 3 || entry.FailureCount != 1 {
		t.Fatalf("unexpected counters: %+v", entry)
	}
	want := memory.Confidence(3, 1)
	if entry.Confidence != want {
		t.Fatalf("confidence %f, want %f", entry.Confidence, want)
	}
}

func TestInMemoryNormalizesPatternKeys(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	if err := s.RecordOutcome(ctx, "Pay invoice 4711", "create", true); err != nil {
		t.Fatalf("record outcome: %v", err)
	}
	if err := s.RecordOutcome(ctx, "Pay invoice 12", "create", true); err != nil {
		t.Fatalf("record outcome: %v", err)
	}

	memCtx, _ := s.GetContext(ctx, "s1")
	if len(memCtx.Patterns) != 1 {
		t.Fatalf("numeric variants must share one entry, got %d", len(memCtx.Patterns))
	}
	if memCtx.Patterns[0].SuccessCount != 2 {
		t.Fatalf("expected merged counters, got %+v", memCtx.Patterns[0])
	}
}

func TestInMemoryTurnWindow(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore(WithMaxTurns(3))

	for i := 0; i < 5; i++ {
		turn := memory.Turn{Role: "user", Content: fmt.Sprintf("message %d", i)}
		if err := s.RecordTurn(ctx, "s1", turn); err != nil {
			t.Fatalf("record turn: %v", err)
		}
	}

	memCtx, _ := s.GetContext(ctx, "s1")
	if len(memCtx.RecentTurns) != 3 {
		t.Fatalf("expected 3 retained turns, got %d", len(memCtx.RecentTurns))
	}
	if memCtx.RecentTurns[0].Content != "message 2" {
		t.Fatalf("oldest turns must be dropped first, got %q", memCtx.RecentTurns[0].Content)
	}
}

func TestInMemoryTurnsAreSessionScoped(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore()

	_ = s.RecordTurn(ctx, "a", memory.Turn{Role: "user", Content: "hello from a"})
	_ = s.RecordTurn(ctx, "b", memory.Turn{Role: "user", Content: "hello from b"})

	memCtx, _ := s.GetContext(ctx, "a")
	if len(memCtx.RecentTurns) != 1 || memCtx.RecentTurns[0].Content != "hello from a" {
		t.Fatalf("session isolation broken: %+v", memCtx.RecentTurns)
	}
}

func TestInMemoryEvictsLeastRecentlyUsedPattern(t *testing.T) {
	ctx := context.Background()
	s := NewInMemoryStore(WithMaxPatterns(2))

	_ = s.RecordOutcome(ctx, "oldest pattern", "search", true)
	time.Sleep(2 * time.Millisecond)
	_ = s.RecordOutcome(ctx, "middle pattern", "search", true)
	time.Sleep(2 * time.Millisecond)
	_ = s.RecordOutcome(ctx, "newest pattern", "search", true)

	memCtx, _ := s.GetContext(ctx, "s1")
	if len(memCtx.Patterns) != 2 {
		t.Fatalf("expected cap of 2 patterns, got %d", len(memCtx.Patterns))
	}
	for _, entry := range memCtx.Patterns {
		if entry.Pattern == "oldest pattern" {
			t.Fatalf("LRU entry must be evicted, still present: %+v", memCtx.Patterns)
		}
	}
}
