// Package pipeline implements the five-stage request state machine:
// safety check, intent routing, retrieval, generation, post-processing.
// The stage order is fixed; each stage consumes the previous stage's
// typed output and the runner publishes a telemetry event around every
// transition.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/tiktoken-go/tokenizer"

	"github.com/satyasetu/voice-gateway/internal/domain"
	"github.com/satyasetu/voice-gateway/internal/services"
	"github.com/satyasetu/voice-gateway/internal/storage"
	"github.com/satyasetu/voice-gateway/internal/telemetry"
)

// State identifies a pipeline stage. Complete, Blocked, and Failed are
// terminal; Blocked is reachable only from SafetyCheck.
type State string

const (
	StateIdle          State = "idle"
	StateSafetyCheck   State = "safety_check"
	StateIntentRouting State = "intent_routing"
	StateRetrieval     State = "retrieval"
	StateGeneration    State = "generation"
	StatePostProcess   State = "post_process"
	StateComplete      State = "complete"
	StateBlocked       State = "blocked"
	StateFailed        State = "failed"
)

// recentTTL is how long a normalized query counts as recently seen for
// cache-hit telemetry.
const recentTTL = 5 * time.Minute

// Config wires a Runner.
type Config struct {
	Gateway      *services.Gateway
	Bus          *telemetry.Bus
	Store        storage.InteractionStore // optional
	StageTimeout time.Duration
	Logger       *slog.Logger
}

// Runner executes pipeline runs. Many runs execute concurrently; they
// share only the bus and the stats store.
type Runner struct {
	gateway      *services.Gateway
	bus          *telemetry.Bus
	store        storage.InteractionStore
	stageTimeout time.Duration
	logger       *slog.Logger

	codecOnce sync.Once
	codec     tokenizer.Codec

	seenMu sync.Mutex
	seen   map[string]time.Time
}

// New creates a Runner.
func New(cfg Config) *Runner {
	if cfg.StageTimeout <= 0 {
		cfg.StageTimeout = 5 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Runner{
		gateway:      cfg.Gateway,
		bus:          cfg.Bus,
		store:        cfg.Store,
		stageTimeout: cfg.StageTimeout,
		logger:       cfg.Logger,
		seen:         make(map[string]time.Time),
	}
}

// Run processes one request to a terminal state. Pipeline-internal
// failures are converted into a degraded but valid result; the only error
// returned is unsupported-language rejection before any stage runs.
func (r *Runner) Run(ctx context.Context, req domain.PipelineRequest) (*domain.PipelineResult, error) {
	if !SupportedLanguage(req.Language) {
		return nil, domain.ErrInvalidLanguage(req.Language)
	}
	start := time.Now()

	// SafetyCheck
	r.emit(domain.EventSafetyCheckStart, req.RunID, map[string]any{
		"user_id":       req.UserID,
		"query_preview": preview(req.Query, 100),
	})
	verdict := CheckSafety(req.Query)
	if !verdict.Allowed {
		r.emit(domain.EventSafetyBlock, req.RunID, map[string]any{
			"user_id": req.UserID,
			"reason":  verdict.Reasons,
		})
		res := &domain.PipelineResult{
			Text:       blockedResponse(req.Language),
			Confidence: 0,
			RiskLevel:  domain.RiskHigh,
			Sources:    []string{},
			RiskFlags:  verdict.Reasons,
			Timestamp:  time.Now().UTC(),
		}
		r.record(req, res, start, true, false, 0)
		r.logger.Info("query blocked",
			slog.String("run_id", req.RunID),
			slog.Any("reasons", verdict.Reasons))
		return res, nil
	}

	// IntentRouting
	intent := ClassifyIntent(req.Query, req.OfflineMode)
	r.emit(domain.EventIntentClassified, req.RunID, map[string]any{
		"user_id": req.UserID,
		"intent":  intent,
	})

	// Retrieval, skipped for intents that need no grounding.
	var rctx domain.RetrievedContext
	cacheHit := false
	if intent.NeedsRetrieval() {
		r.emit(domain.EventRetrievalStart, req.RunID, map[string]any{
			"intent": intent,
			"query":  preview(req.Query, 100),
		})
		stageStart := time.Now()
		if r.recentlySeen(req.Query) {
			cacheHit = true
			r.emit(domain.EventCacheHit, req.RunID, map[string]any{
				"query":      preview(req.Query, 100),
				"latency_ms": time.Since(stageStart).Milliseconds(),
			})
		}
		var err error
		rctx, err = callStage(ctx, r.stageTimeout, func(c context.Context) (domain.RetrievedContext, error) {
			return r.gateway.Retriever.Retrieve(c, req.Query, intent)
		})
		if err != nil {
			return r.fail(req, intent, StateRetrieval, err, start), nil
		}
	}

	// Generation
	r.emit(domain.EventGenerationStart, req.RunID, map[string]any{
		"intent":     intent,
		"docs_count": len(rctx),
	})
	answer, err := callStage(ctx, r.stageTimeout, func(c context.Context) (domain.GeneratedAnswer, error) {
		return r.gateway.Generator.Generate(c, req.Query, intent, rctx)
	})
	if err != nil {
		return r.fail(req, intent, StateGeneration, err, start), nil
	}

	// PostProcess
	answer, flags := postProcessAnswer(answer, intent, req.Language)
	risk := domain.RiskLow
	if len(flags) > 0 {
		risk = domain.RiskHigh
	}
	if intent == domain.IntentScamVerify && risk == domain.RiskHigh {
		r.emit(domain.EventScamDetected, req.RunID, map[string]any{
			"user_id": req.UserID,
			"flags":   flags,
		})
	}

	res := &domain.PipelineResult{
		Text:       answer.Text,
		Confidence: answer.Confidence,
		RiskLevel:  risk,
		Sources:    answer.Sources,
		RiskFlags:  flags,
		Intent:     intent,
		Timestamp:  time.Now().UTC(),
	}
	if res.Sources == nil {
		res.Sources = []string{}
	}
	if res.RiskFlags == nil {
		res.RiskFlags = []string{}
	}

	r.emit(domain.EventResponseComplete, req.RunID, map[string]any{
		"user_id":         req.UserID,
		"confidence":      res.Confidence,
		"response_length": len(res.Text),
		"sources":         res.Sources,
	})
	r.record(req, res, start, false, cacheHit, r.countTokens(res.Text))
	return res, nil
}

// fail converts a stage error into the Failed terminal state: one error
// event and a generic language-appropriate fallback result. Raw internal
// errors never reach the caller.
func (r *Runner) fail(req domain.PipelineRequest, intent domain.Intent, stage State, err error, start time.Time) *domain.PipelineResult {
	kind := domain.KindStageFailure
	if errors.Is(err, context.DeadlineExceeded) {
		kind = domain.KindStageTimeout
	}
	r.emit(domain.EventError, req.RunID, map[string]any{
		"stage": string(stage),
		"error": string(kind),
	})
	r.logger.Error("pipeline stage failed",
		slog.String("run_id", req.RunID),
		slog.String("stage", string(stage)),
		slog.String("kind", string(kind)),
		slog.String("error", err.Error()))

	res := &domain.PipelineResult{
		Text:       fallbackResponse(req.Language),
		Confidence: 0,
		RiskLevel:  domain.RiskHigh,
		Sources:    []string{},
		RiskFlags:  []string{"system_error"},
		Intent:     intent,
		Timestamp:  time.Now().UTC(),
	}
	r.record(req, res, start, false, false, 0)
	return res
}

// callStage runs one gateway call against the per-stage timeout. On
// timeout the stage is abandoned; the call keeps the cancellation signal
// and any late result is discarded.
func callStage[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type outcome struct {
		val T
		err error
	}
	ch := make(chan outcome, 1)
	go func() {
		v, err := fn(ctx)
		ch <- outcome{v, err}
	}()

	select {
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	case out := <-ch:
		return out.val, out.err
	}
}

func (r *Runner) emit(t domain.EventType, runID string, payload map[string]any) {
	if r.bus != nil {
		r.bus.Publish(domain.NewEvent(t, runID, payload))
	}
}

func (r *Runner) record(req domain.PipelineRequest, res *domain.PipelineResult, start time.Time, blocked, cacheHit bool, tokens int) {
	if r.store == nil {
		return
	}
	rec := &storage.Interaction{
		ID:           req.RunID,
		UserID:       req.UserID,
		Intent:       string(res.Intent),
		Confidence:   res.Confidence,
		LatencyMS:    time.Since(start).Milliseconds(),
		Blocked:      blocked,
		ScamDetected: contains(res.RiskFlags, "scam_suspected"),
		CacheHit:     cacheHit,
		AnswerTokens: tokens,
		CreatedAt:    time.Now().UTC(),
	}
	// Recording must never fail the request itself.
	recordCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.store.RecordInteraction(recordCtx, rec); err != nil {
		r.logger.Warn("interaction record failed",
			slog.String("run_id", req.RunID),
			slog.String("error", err.Error()))
	}
}

// recentlySeen reports whether a normalized form of the query was run
// within the TTL, and marks it seen either way.
func (r *Runner) recentlySeen(query string) bool {
	key := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	now := time.Now()

	r.seenMu.Lock()
	defer r.seenMu.Unlock()
	if len(r.seen) > 4096 {
		for k, ts := range r.seen {
			if now.Sub(ts) > recentTTL {
				delete(r.seen, k)
			}
		}
	}
	last, ok := r.seen[key]
	r.seen[key] = now
	return ok && now.Sub(last) <= recentTTL
}

func (r *Runner) countTokens(text string) int {
	r.codecOnce.Do(func() {
		codec, err := tokenizer.Get(tokenizer.Cl100kBase)
		if err != nil {
			r.logger.Warn("tokenizer unavailable", slog.String("error", err.Error()))
			return
		}
		r.codec = codec
	})
	if r.codec == nil {
		return 0
	}
	ids, _, err := r.codec.Encode(text)
	if err != nil {
		return 0
	}
	return len(ids)
}

func preview(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}

func contains(list []string, want string) bool {
	for _, s := range list {
		if s == want {
			return true
		}
	}
	return false
}
