// Package domain provides the canonical types shared by the pipeline,
// telemetry bus, and transport layers.
package domain

import "time"

// Intent is the classified purpose of a query. It determines which later
// pipeline stages run.
type Intent string

const (
	IntentScamVerify      Intent = "scam_verify"
	IntentSchemeLookup    Intent = "scheme_lookup"
	IntentGeneralQuestion Intent = "general_question"
	IntentOfflineFallback Intent = "offline_fallback"
)

// NeedsRetrieval reports whether the intent requires grounded context
// before generation.
func (i Intent) NeedsRetrieval() bool {
	return i == IntentScamVerify || i == IntentSchemeLookup
}

// PipelineRequest is the immutable input to one pipeline run. It is owned
// exclusively by the run processing it.
type PipelineRequest struct {
	RunID       string
	UserID      string
	Query       string
	Language    string
	OfflineMode bool
	CreatedAt   time.Time
}

// SafetyVerdict is the outcome of the safety-check stage.
type SafetyVerdict struct {
	Allowed bool
	Reasons []string
}

// Document is one retrieved context entry.
type Document struct {
	Source  string  `json:"source"`
	Excerpt string  `json:"excerpt"`
	Score   float64 `json:"score"`
}

// RetrievedContext is an ordered set of grounding documents. An empty
// context is valid and means no matches.
type RetrievedContext []Document

// Sources returns the source identifiers in document order.
func (rc RetrievedContext) Sources() []string {
	if len(rc) == 0 {
		return nil
	}
	out := make([]string, len(rc))
	for i, d := range rc {
		out[i] = d.Source
	}
	return out
}

// GeneratedAnswer is the raw output of the generation stage, before
// post-processing.
type GeneratedAnswer struct {
	Text       string
	Confidence float64
	Sources    []string
}

// RiskLevel classifies how dangerous a query/answer pair looked.
type RiskLevel string

const (
	RiskLow  RiskLevel = "low"
	RiskHigh RiskLevel = "high"
)

// PipelineResult is the caller-facing outcome of a run. Pipeline failures
// are folded into a degraded-but-valid result, never a transport error.
type PipelineResult struct {
	Text       string    `json:"text"`
	Confidence float64   `json:"confidence"`
	RiskLevel  RiskLevel `json:"riskLevel"`
	Sources    []string  `json:"sources"`
	RiskFlags  []string  `json:"riskFlags"`
	Intent     Intent    `json:"intent"`
	Timestamp  time.Time `json:"timestamp"`
}
