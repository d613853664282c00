package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/sweetpotato0/taskpilot/memory"
)

// InMemoryStore keeps sessions and patterns in process memory. It is the
// default backend for tests and single-process deployments.
type InMemoryStore struct {
	mu          sync.RWMutex
	turns       map[string][]memory.Turn
	patterns    map[string]*memory.Entry
	maxTurns    int
	maxPatterns int
}

// InMemoryOption customises the in-memory store.
type InMemoryOption func(*InMemoryStore)

// WithMaxTurns caps how many recent turns are kept per session.
func WithMaxTurns(n int) InMemoryOption {
	return func(s *InMemoryStore) {
		if n > 0 {
			s.maxTurns = n
		}
	}
}

// WithMaxPatterns caps the long-term pattern map; the least recently used
// entries are evicted beyond the cap.
func WithMaxPatterns(n int) InMemoryOption {
	return func(s *InMemoryStore) {
		if n > 0 {
			s.maxPatterns = n
		}
	}
}

// NewInMemoryStore creates an in-memory memory store.
func NewInMemoryStore(opts ...InMemoryOption) *InMemoryStore {
	s := &InMemoryStore{
		turns:       make(map[string][]memory.Turn),
		patterns:    make(map[string]*memory.Entry),
		maxTurns:    20,
		maxPatterns: 1000,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetContext returns the session's recent turns and all known patterns.
func (s *InMemoryStore) GetContext(ctx context.Context, sessionID string) (*memory.Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	turns := append([]memory.Turn(nil), s.turns[sessionID]...)
	patterns := make([]memory.Entry, 0, len(s.patterns))
	for _, entry := range s.patterns {
		patterns = append(patterns, *entry)
	}
	sort.Slice(patterns, func(i, j int) bool { return patterns[i].Pattern < patterns[j].Pattern })

	return &memory.Context{RecentTurns: turns, Patterns: patterns}, nil
}

// RecordTurn appends one turn, trimming to the configured window.
func (s *InMemoryStore) RecordTurn(ctx context.Context, sessionID string, turn memory.Turn) error {
	if turn.At.IsZero() {
		turn.At = time.Now()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	turns := append(s.turns[sessionID], turn)
	if len(turns) > s.maxTurns {
		turns = turns[len(turns)-s.maxTurns:]
	}
	s.turns[sessionID] = turns
	return nil
}

// RecordOutcome updates counters and recomputed confidence for a pattern.
func (s *InMemoryStore) RecordOutcome(ctx context.Context, pattern, intent string, success bool) error {
	key := memory.NormalizePattern(pattern)
	if key == "" {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.patterns[key]
	if !ok {
		entry = &memory.Entry{Pattern: key, Intent: intent}
		s.patterns[key] = entry
	}
	if success {
		entry.SuccessCount++
	} else {
		entry.FailureCount++
	}
	entry.Intent = intent
	entry.Confidence = memory.Confidence(entry.SuccessCount, entry.FailureCount)
	entry.LastUsed = time.Now()

	s.evictLocked()
	return nil
}

// evictLocked drops the least recently used entries beyond the cap.
func (s *InMemoryStore) evictLocked() {
	for len(s.patterns) > s.maxPatterns {
		oldestKey := ""
		var oldest time.Time
		for key, entry := range s.patterns {
			if oldestKey == "" || entry.LastUsed.Before(oldest) {
				oldestKey = key
				oldest = entry.LastUsed
			}
		}
		delete(s.patterns, oldestKey)
	}
}
