// Package storage defines the persistence contracts for query
// interactions and aggregate statistics.
package storage

import (
	"context"
	"time"
)

// Interaction is one completed pipeline run, recorded for the admin
// statistics endpoint.
type Interaction struct {
	ID           string
	UserID       string
	Intent       string
	Confidence   float64
	LatencyMS    int64
	Blocked      bool
	ScamDetected bool
	CacheHit     bool
	AnswerTokens int
	CreatedAt    time.Time
}

// Stats are the aggregates served by the admin endpoint.
type Stats struct {
	TotalQueries int64
	ScamsBlocked int64
	CacheHitRate float64
	AvgLatencyMS int64
}

// InteractionStore records runs and aggregates them.
type InteractionStore interface {
	RecordInteraction(ctx context.Context, rec *Interaction) error
	Stats(ctx context.Context) (*Stats, error)
}
