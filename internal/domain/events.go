package domain

import (
	"encoding/json"
	"time"
)

// EventType enumerates the telemetry event types emitted by the pipeline
// and the bus itself.
type EventType string

const (
	EventSafetyCheckStart EventType = "safety_check_start"
	EventSafetyBlock      EventType = "safety_block"
	EventIntentClassified EventType = "intent_classified"
	EventCacheHit         EventType = "cache_hit"
	EventRetrievalStart   EventType = "retrieval_start"
	EventGenerationStart  EventType = "generation_start"
	EventResponseComplete EventType = "response_complete"
	EventIngestionStatus  EventType = "ingestion_status"
	EventScamDetected     EventType = "scam_detected"
	EventHeartbeat        EventType = "heartbeat"
	EventError            EventType = "error"
)

// PipelineEvent is an immutable, timestamped record of a pipeline state
// transition. One value is shared read-only by every subscriber; nothing
// mutates it after creation.
type PipelineEvent struct {
	Type      EventType
	RunID     string
	Payload   map[string]any
	Timestamp time.Time
}

// NewEvent creates an event stamped with the current time.
func NewEvent(t EventType, runID string, payload map[string]any) PipelineEvent {
	return PipelineEvent{
		Type:      t,
		RunID:     runID,
		Payload:   payload,
		Timestamp: time.Now().UTC(),
	}
}

// Terminal reports whether this event ends its run's event sequence.
func (e PipelineEvent) Terminal() bool {
	switch e.Type {
	case EventResponseComplete, EventSafetyBlock, EventError:
		return true
	}
	return false
}

// MarshalJSON flattens the payload into the top-level object so consumers
// see {type, timestamp, run_id, <payload fields...>}. Payload keys never
// override the reserved fields.
func (e PipelineEvent) MarshalJSON() ([]byte, error) {
	m := make(map[string]any, len(e.Payload)+3)
	for k, v := range e.Payload {
		m[k] = v
	}
	m["type"] = e.Type
	m["timestamp"] = e.Timestamp.Format(time.RFC3339Nano)
	if e.RunID != "" {
		m["run_id"] = e.RunID
	}
	return json.Marshal(m)
}
