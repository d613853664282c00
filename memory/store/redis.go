package store

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sweetpotato0/taskpilot/memory"
)

// RedisStore implements memory.Store using Redis. Pattern statistics live in
// one hash per pattern (atomic HIncrBy keeps concurrent requests safe) and
// short-term turns in one list per session.
type RedisStore struct {
	client   *redis.Client
	prefix   string
	maxTurns int64
	ttl      time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Addr     string        // Redis server address (e.g., "localhost:6379")
	Password string        // Redis password (if any)
	DB       int           // Redis database number
	Prefix   string        // Key prefix for namespacing
	MaxTurns int64         // Recent turns kept per session
	TTL      time.Duration // Time-to-live for session turn lists (0 means no expiration)
}

// NewRedisStore creates a new Redis-based memory store
func NewRedisStore(config *RedisConfig) *RedisStore {
	if config == nil {
		config = &RedisConfig{}
	}
	if config.Addr == "" {
		config.Addr = "localhost:6379"
	}
	if config.Prefix == "" {
		config.Prefix = "taskpilot:memory:"
	}
	if config.MaxTurns <= 0 {
		config.MaxTurns = 20
	}

	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})

	return &RedisStore{
		client:   client,
		prefix:   config.Prefix,
		maxTurns: config.MaxTurns,
		ttl:      config.TTL,
	}
}

func (s *RedisStore) turnsKey(sessionID string) string {
	return fmt.Sprintf("%sturns:%s", s.prefix, sessionID)
}

func (s *RedisStore) patternKey(pattern string) string {
	return fmt.Sprintf("%spattern:%s", s.prefix, pattern)
}

func (s *RedisStore) patternSetKey() string {
	return fmt.Sprintf("%spatterns", s.prefix)
}

// GetContext returns the session's recent turns and all known patterns.
func (s *RedisStore) GetContext(ctx context.Context, sessionID string) (*memory.Context, error) {
	raw, err := s.client.LRange(ctx, s.turnsKey(sessionID), 0, s.maxTurns-1).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to load turns: %w", err)
	}

	// Turns are pushed head-first; reverse into chronological order.
	turns := make([]memory.Turn, 0, len(raw))
	for i := len(raw) - 1; i >= 0; i-- {
		var turn memory.Turn
		if err := json.Unmarshal([]byte(raw[i]), &turn); err != nil {
			return nil, fmt.Errorf("failed to unmarshal turn: %w", err)
		}
		turns = append(turns, turn)
	}

	keys, err := s.client.SMembers(ctx, s.patternSetKey()).Result()
	if err != nil && err != redis.Nil {
		return nil, fmt.Errorf("failed to load pattern keys: %w", err)
	}

	patterns := make([]memory.Entry, 0, len(keys))
	for _, key := range keys {
		fields, err := s.client.HGetAll(ctx, key).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to load pattern %s: %w", key, err)
		}
		if len(fields) == 0 {
			s.client.SRem(ctx, s.patternSetKey(), key)
			continue
		}
		patterns = append(patterns, entryFromFields(fields))
	}

	return &memory.Context{RecentTurns: turns, Patterns: patterns}, nil
}

// RecordTurn appends one turn to the session list, trimming to the window.
func (s *RedisStore) RecordTurn(ctx context.Context, sessionID string, turn memory.Turn) error {
	if turn.At.IsZero() {
		turn.At = time.Now()
	}
	data, err := json.Marshal(turn)
	if err != nil {
		return fmt.Errorf("failed to marshal turn: %w", err)
	}

	key := s.turnsKey(sessionID)
	pipe := s.client.TxPipeline()
	pipe.LPush(ctx, key, data)
	pipe.LTrim(ctx, key, 0, s.maxTurns-1)
	if s.ttl > 0 {
		pipe.Expire(ctx, key, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to store turn: %w", err)
	}
	return nil
}

// RecordOutcome updates the pattern hash atomically and recomputes confidence.
func (s *RedisStore) RecordOutcome(ctx context.Context, pattern, intent string, success bool) error {
	normalized := memory.NormalizePattern(pattern)
	if normalized == "" {
		return nil
	}
	key := s.patternKey(normalized)

	field := "failure_count"
	if success {
		field = "success_count"
	}
	if err := s.client.HIncrBy(ctx, key, field, 1).Err(); err != nil {
		return fmt.Errorf("failed to increment pattern counter: %w", err)
	}

	fields, err := s.client.HGetAll(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("failed to read pattern counters: %w", err)
	}
	successCount, _ := strconv.Atoi(fields["success_count"])
	failureCount, _ := strconv.Atoi(fields["failure_count"])

	// Last-writer-wins on the derived fields is fine: confidence is a bounded
	// monotone statistic, not a strict ledger.
	err = s.client.HSet(ctx, key, map[string]any{
		"pattern":    normalized,
		"intent":     intent,
		"confidence": memory.Confidence(successCount, failureCount),
		"last_used":  time.Now().Format(time.RFC3339Nano),
	}).Err()
	if err != nil {
		return fmt.Errorf("failed to update pattern: %w", err)
	}

	if err := s.client.SAdd(ctx, s.patternSetKey(), key).Err(); err != nil {
		return fmt.Errorf("failed to index pattern: %w", err)
	}
	return nil
}

// Close closes the Redis connection
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if Redis connection is alive
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func entryFromFields(fields map[string]string) memory.Entry {
	entry := memory.Entry{
		Pattern: fields["pattern"],
		Intent:  fields["intent"],
	}
	entry.SuccessCount, _ = strconv.Atoi(fields["success_count"])
	entry.FailureCount, _ = strconv.Atoi(fields["failure_count"])
	if conf, err := strconv.ParseFloat(fields["confidence"], 64); err == nil {
		entry.Confidence = conf
	} else {
		entry.Confidence = memory.Confidence(entry.SuccessCount, entry.FailureCount)
	}
	if ts, err := time.Parse(time.RFC3339Nano, fields["last_used"]); err == nil {
		entry.LastUsed = ts
	}
	return entry
}
