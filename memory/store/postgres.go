package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	"github.com/sweetpotato0/taskpilot/memory"
)

// PostgresStore implements memory.Store using PostgreSQL
type PostgresStore struct {
	db       *sql.DB
	maxTurns int
}

// PostgresConfig holds PostgreSQL connection configuration
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
	MaxTurns int
}

// DefaultPostgresConfig returns default PostgreSQL configuration
func DefaultPostgresConfig() *PostgresConfig {
	return &PostgresConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		DBName:   "taskpilot",
		SSLMode:  "disable",
		MaxTurns: 20,
	}
}

// NewPostgresStore creates a new PostgreSQL-based memory store
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	if config == nil {
		config = DefaultPostgresConfig()
	}
	if config.MaxTurns <= 0 {
		config.MaxTurns = 20
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.DBName, config.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to PostgreSQL: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping PostgreSQL: %w", err)
	}

	store := &PostgresStore{db: db, maxTurns: config.MaxTurns}

	if err := store.createTables(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) createTables(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS pattern_memories (
		pattern VARCHAR(512) PRIMARY KEY,
		intent VARCHAR(64) NOT NULL,
		success_count INTEGER NOT NULL DEFAULT 0,
		failure_count INTEGER NOT NULL DEFAULT 0,
		confidence DOUBLE PRECISION NOT NULL DEFAULT 0.5,
		last_used TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_pattern_memories_last_used ON pattern_memories(last_used);

	CREATE TABLE IF NOT EXISTS session_turns (
		id BIGSERIAL PRIMARY KEY,
		session_id VARCHAR(255) NOT NULL,
		role VARCHAR(32) NOT NULL,
		content TEXT NOT NULL,
		created_at TIMESTAMP NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_session_turns_session ON session_turns(session_id, created_at);
	`

	_, err := s.db.ExecContext(ctx, query)
	return err
}

// GetContext returns the session's recent turns and all known patterns.
func (s *PostgresStore) GetContext(ctx context.Context, sessionID string) (*memory.Context, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT role, content, created_at
		 FROM session_turns
		 WHERE session_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		sessionID, s.maxTurns)
	if err != nil {
		return nil, fmt.Errorf("failed to load turns: %w", err)
	}
	defer rows.Close()

	var reversed []memory.Turn
	for rows.Next() {
		var turn memory.Turn
		if err := rows.Scan(&turn.Role, &turn.Content, &turn.At); err != nil {
			return nil, fmt.Errorf("failed to scan turn: %w", err)
		}
		reversed = append(reversed, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating turns: %w", err)
	}

	turns := make([]memory.Turn, 0, len(reversed))
	for i := len(reversed) - 1; i >= 0; i-- {
		turns = append(turns, reversed[i])
	}

	patternRows, err := s.db.QueryContext(ctx,
		`SELECT pattern, intent, success_count, failure_count, confidence, last_used
		 FROM pattern_memories
		 ORDER BY last_used DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to load patterns: %w", err)
	}
	defer patternRows.Close()

	patterns := make([]memory.Entry, 0)
	for patternRows.Next() {
		var entry memory.Entry
		if err := patternRows.Scan(&entry.Pattern, &entry.Intent, &entry.SuccessCount,
			&entry.FailureCount, &entry.Confidence, &entry.LastUsed); err != nil {
			return nil, fmt.Errorf("failed to scan pattern: %w", err)
		}
		patterns = append(patterns, entry)
	}
	if err := patternRows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating patterns: %w", err)
	}

	return &memory.Context{RecentTurns: turns, Patterns: patterns}, nil
}

// RecordTurn appends one turn and trims the session to the configured window.
func (s *PostgresStore) RecordTurn(ctx context.Context, sessionID string, turn memory.Turn) error {
	if turn.At.IsZero() {
		turn.At = time.Now()
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO session_turns (session_id, role, content, created_at) VALUES ($1, $2, $3, $4)`,
		sessionID, turn.Role, turn.Content, turn.At)
	if err != nil {
		return fmt.Errorf("failed to store turn: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`DELETE FROM session_turns
		 WHERE session_id = $1 AND id NOT IN (
			SELECT id FROM session_turns WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2
		 )`,
		sessionID, s.maxTurns)
	if err != nil {
		return fmt.Errorf("failed to trim turns: %w", err)
	}
	return nil
}

// RecordOutcome upserts the pattern row, incrementing counters and
// recomputing the smoothed confidence inside the statement so concurrent
// requests stay consistent.
func (s *PostgresStore) RecordOutcome(ctx context.Context, pattern, intent string, success bool) error {
	normalized := memory.NormalizePattern(pattern)
	if normalized == "" {
		return nil
	}

	successInc := 0
	failureInc := 0
	if success {
		successInc = 1
	} else {
		failureInc = 1
	}

	query := `
	INSERT INTO pattern_memories (pattern, intent, success_count, failure_count, confidence, last_used)
	VALUES ($1, $2, $3, $4,
		GREATEST(0.1, ($3::float + 1) / ($3::float + $4::float + 2)),
		NOW())
	ON CONFLICT (pattern) DO UPDATE SET
		intent = EXCLUDED.intent,
		success_count = pattern_memories.success_count + $3,
		failure_count = pattern_memories.failure_count + $4,
		confidence = GREATEST(0.1,
			(pattern_memories.success_count + $3 + 1)::float /
			(pattern_memories.success_count + $3 + pattern_memories.failure_count + $4 + 2)),
		last_used = NOW()
	`

	if _, err := s.db.ExecContext(ctx, query, normalized, intent, successInc, failureInc); err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	return nil
}

// Close closes the PostgreSQL connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// Ping checks if PostgreSQL connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
