// Package sqlite is the SQLite implementation of the interaction store.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"

	_ "modernc.org/sqlite"

	"github.com/satyasetu/voice-gateway/internal/storage"
)

// Store persists interactions and serves the admin aggregates.
type Store struct {
	db *sql.DB
}

var _ storage.InteractionStore = (*Store)(nil)

// New opens (and if needed creates) the database at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL; PRAGMA synchronous=NORMAL;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

func (s *Store) initSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS interactions (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			intent TEXT,
			confidence REAL NOT NULL,
			latency_ms INTEGER NOT NULL,
			blocked INTEGER NOT NULL,
			scam_detected INTEGER NOT NULL,
			cache_hit INTEGER NOT NULL,
			answer_tokens INTEGER NOT NULL,
			created_at TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_created_at ON interactions(created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_user_id ON interactions(user_id)`,
	}
	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("exec schema statement: %w", err)
		}
	}
	return nil
}

// RecordInteraction inserts one completed run.
func (s *Store) RecordInteraction(ctx context.Context, rec *storage.Interaction) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO interactions
			(id, user_id, intent, confidence, latency_ms, blocked, scam_detected, cache_hit, answer_tokens, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.UserID, rec.Intent, rec.Confidence, rec.LatencyMS,
		boolToInt(rec.Blocked), boolToInt(rec.ScamDetected), boolToInt(rec.CacheHit),
		rec.AnswerTokens, rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert interaction: %w", err)
	}
	return nil
}

// Stats aggregates all recorded interactions. Scams blocked counts both
// safety blocks and scam-verify detections.
func (s *Store) Stats(ctx context.Context) (*storage.Stats, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			COALESCE(SUM(CASE WHEN blocked = 1 OR scam_detected = 1 THEN 1 ELSE 0 END), 0),
			COALESCE(AVG(cache_hit), 0),
			COALESCE(AVG(latency_ms), 0)
		FROM interactions`)

	var stats storage.Stats
	var avgLatency float64
	if err := row.Scan(&stats.TotalQueries, &stats.ScamsBlocked, &stats.CacheHitRate, &avgLatency); err != nil {
		return nil, fmt.Errorf("aggregate stats: %w", err)
	}
	stats.AvgLatencyMS = int64(avgLatency)
	return &stats, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
