package store

import (
	"context"
	"fmt"
	"time"

	"github.com/sweetpotato0/taskpilot/memory"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore implements memory.Store using MongoDB
type MongoStore struct {
	client   *mongo.Client
	patterns *mongo.Collection
	turns    *mongo.Collection
	maxTurns int64
}

// MongoConfig holds MongoDB connection configuration
type MongoConfig struct {
	URI      string
	Database string
	MaxTurns int64
}

// DefaultMongoConfig returns default MongoDB configuration
func DefaultMongoConfig() *MongoConfig {
	return &MongoConfig{
		URI:      "mongodb://localhost:27017",
		Database: "taskpilot",
		MaxTurns: 20,
	}
}

// mongoPattern is the internal representation for MongoDB
type mongoPattern struct {
	Pattern      string    `bson:"_id"`
	Intent       string    `bson:"intent"`
	SuccessCount int       `bson:"success_count"`
	FailureCount int       `bson:"failure_count"`
	Confidence   float64   `bson:"confidence"`
	LastUsed     time.Time `bson:"last_used"`
}

type mongoTurn struct {
	SessionID string    `bson:"session_id"`
	Role      string    `bson:"role"`
	Content   string    `bson:"content"`
	CreatedAt time.Time `bson:"created_at"`
}

// NewMongoStore creates a new MongoDB-based memory store
func NewMongoStore(config *MongoConfig) (*MongoStore, error) {
	if config == nil {
		config = DefaultMongoConfig()
	}
	if config.MaxTurns <= 0 {
		config.MaxTurns = 20
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(config.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	if err := client.Ping(ctx, nil); err != nil {
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(config.Database)
	return &MongoStore{
		client:   client,
		patterns: db.Collection("pattern_memories"),
		turns:    db.Collection("session_turns"),
		maxTurns: config.MaxTurns,
	}, nil
}

// GetContext returns the session's recent turns and all known patterns.
func (s *MongoStore) GetContext(ctx context.Context, sessionID string) (*memory.Context, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}}).SetLimit(s.maxTurns)
	cursor, err := s.turns.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to load turns: %w", err)
	}
	var rawTurns []mongoTurn
	if err := cursor.All(ctx, &rawTurns); err != nil {
		return nil, fmt.Errorf("failed to decode turns: %w", err)
	}

	turns := make([]memory.Turn, 0, len(rawTurns))
	for i := len(rawTurns) - 1; i >= 0; i-- {
		turns = append(turns, memory.Turn{
			Role:    rawTurns[i].Role,
			Content: rawTurns[i].Content,
			At:      rawTurns[i].CreatedAt,
		})
	}

	patternCursor, err := s.patterns.Find(ctx, bson.M{})
	if err != nil {
		return nil, fmt.Errorf("failed to load patterns: %w", err)
	}
	var rawPatterns []mongoPattern
	if err := patternCursor.All(ctx, &rawPatterns); err != nil {
		return nil, fmt.Errorf("failed to decode patterns: %w", err)
	}

	patterns := make([]memory.Entry, 0, len(rawPatterns))
	for _, p := range rawPatterns {
		patterns = append(patterns, memory.Entry{
			Pattern:      p.Pattern,
			Intent:       p.Intent,
			SuccessCount: p.SuccessCount,
			FailureCount: p.FailureCount,
			Confidence:   p.Confidence,
			LastUsed:     p.LastUsed,
		})
	}

	return &memory.Context{RecentTurns: turns, Patterns: patterns}, nil
}

// RecordTurn appends one turn and trims older entries beyond the window.
func (s *MongoStore) RecordTurn(ctx context.Context, sessionID string, turn memory.Turn) error {
	if turn.At.IsZero() {
		turn.At = time.Now()
	}

	_, err := s.turns.InsertOne(ctx, mongoTurn{
		SessionID: sessionID,
		Role:      turn.Role,
		Content:   turn.Content,
		CreatedAt: turn.At,
	})
	if err != nil {
		return fmt.Errorf("failed to store turn: %w", err)
	}

	// Trim: find the cutoff timestamp and delete everything older.
	opts := options.Find().
		SetSort(bson.D{{Key: "created_at", Value: -1}}).
		SetSkip(s.maxTurns).
		SetLimit(1)
	cursor, err := s.turns.Find(ctx, bson.M{"session_id": sessionID}, opts)
	if err != nil {
		return fmt.Errorf("failed to find trim cutoff: %w", err)
	}
	var overflow []mongoTurn
	if err := cursor.All(ctx, &overflow); err != nil {
		return fmt.Errorf("failed to decode trim cutoff: %w", err)
	}
	if len(overflow) > 0 {
		_, err = s.turns.DeleteMany(ctx, bson.M{
			"session_id": sessionID,
			"created_at": bson.M{"$lte": overflow[0].CreatedAt},
		})
		if err != nil {
			return fmt.Errorf("failed to trim turns: %w", err)
		}
	}
	return nil
}

// RecordOutcome increments the pattern counters atomically, then writes the
// recomputed confidence. The second write is last-writer-wins which is fine
// for a bounded monotone statistic.
func (s *MongoStore) RecordOutcome(ctx context.Context, pattern, intent string, success bool) error {
	normalized := memory.NormalizePattern(pattern)
	if normalized == "" {
		return nil
	}

	field := "failure_count"
	if success {
		field = "success_count"
	}

	after := options.After
	res := s.patterns.FindOneAndUpdate(ctx,
		bson.M{"_id": normalized},
		bson.M{
			"$inc": bson.M{field: 1},
			"$set": bson.M{"intent": intent, "last_used": time.Now()},
		},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(after),
	)

	var updated mongoPattern
	if err := res.Decode(&updated); err != nil {
		return fmt.Errorf("failed to record outcome: %w", err)
	}

	confidence := memory.Confidence(updated.SuccessCount, updated.FailureCount)
	_, err := s.patterns.UpdateOne(ctx,
		bson.M{"_id": normalized},
		bson.M{"$set": bson.M{"confidence": confidence}},
	)
	if err != nil {
		return fmt.Errorf("failed to update confidence: %w", err)
	}
	return nil
}

// Close disconnects from MongoDB
func (s *MongoStore) Close(ctx context.Context) error {
	return s.client.Disconnect(ctx)
}

// Ping checks if MongoDB connection is alive
func (s *MongoStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, nil)
}
