package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/satyasetu/voice-gateway/internal/domain"
	"github.com/satyasetu/voice-gateway/internal/pipeline"
	"github.com/satyasetu/voice-gateway/internal/ratelimit"
	"github.com/satyasetu/voice-gateway/internal/services"
	"github.com/satyasetu/voice-gateway/internal/storage"
	"github.com/satyasetu/voice-gateway/internal/stream"
	"github.com/satyasetu/voice-gateway/internal/telemetry"
)

// maxQueryLength bounds query text accepted at the edge.
const maxQueryLength = 1000

// HandlerConfig wires a Handler.
type HandlerConfig struct {
	Runner   *pipeline.Runner
	Limiter  *ratelimit.Limiter
	Bus      *telemetry.Bus
	Stream   *stream.Adapter
	Store    storage.InteractionStore // optional
	Gateway  *services.Gateway
	AdminKey string
	// MaxAudioBytes caps transcription uploads.
	MaxAudioBytes int64
	Logger        *slog.Logger
}

// Handler holds the route handlers and their dependencies.
type Handler struct {
	runner        *pipeline.Runner
	limiter       *ratelimit.Limiter
	bus           *telemetry.Bus
	stream        *stream.Adapter
	store         storage.InteractionStore
	gateway       *services.Gateway
	hub           *TelemetryHub
	adminKey      string
	maxAudioBytes int64
	startTime     time.Time
	logger        *slog.Logger
}

func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.MaxAudioBytes <= 0 {
		cfg.MaxAudioBytes = 10 << 20
	}
	return &Handler{
		runner:        cfg.Runner,
		limiter:       cfg.Limiter,
		bus:           cfg.Bus,
		stream:        cfg.Stream,
		store:         cfg.Store,
		gateway:       cfg.Gateway,
		hub:           NewTelemetryHub(cfg.Bus, cfg.Logger),
		adminKey:      cfg.AdminKey,
		maxAudioBytes: cfg.MaxAudioBytes,
		startTime:     time.Now(),
		logger:        cfg.Logger,
	}
}

// Routes registers every endpoint on the router.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/", h.handleRoot)
	r.Get("/health", h.handleHealth)
	r.Route("/api/v1", func(r chi.Router) {
		r.Post("/voice/query", h.handleQuery)
		r.Post("/voice/query/stream", h.handleQueryStream)
		r.Post("/voice/transcribe", h.handleTranscribe)
		r.Post("/voice/synthesize", h.handleSynthesize)
		r.Get("/admin/stats", h.handleAdminStats)
	})
	r.Get("/ws/telemetry", h.hub.HandleWebSocket)
}

func (h *Handler) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"message":   "SatyaSetu Voice Gateway Active",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"status":    "ready",
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"services": map[string]any{
			"pipeline":              "ready",
			"storage":               h.store != nil,
			"telemetry_subscribers": h.bus.SubscriberCount(),
		},
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type queryRequest struct {
	UserID      string `json:"user_id"`
	Query       string `json:"query"`
	Language    string `json:"language"`
	OfflineMode bool   `json:"offline_mode"`
}

// parseQuery validates the body shared by the query and stream endpoints.
// Validation failures and admission rejections happen here, before any
// pipeline state exists.
func (h *Handler) parseQuery(r *http.Request) (domain.PipelineRequest, *domain.ServiceError) {
	var body queryRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		return domain.PipelineRequest{}, domain.ErrInvalidInput("invalid request body")
	}
	if body.UserID == "" {
		return domain.PipelineRequest{}, domain.ErrInvalidInput("user_id is required")
	}
	if body.Query == "" {
		return domain.PipelineRequest{}, domain.ErrInvalidInput("query must not be empty")
	}
	if len(body.Query) > maxQueryLength {
		return domain.PipelineRequest{}, domain.ErrInvalidInput("query exceeds maximum length")
	}
	if body.Language == "" {
		body.Language = "en"
	}
	if !pipeline.SupportedLanguage(body.Language) {
		return domain.PipelineRequest{}, domain.ErrInvalidLanguage(body.Language)
	}
	if !h.limiter.Admit(body.UserID) {
		return domain.PipelineRequest{}, domain.ErrRateLimited()
	}
	return domain.PipelineRequest{
		RunID:       uuid.New().String(),
		UserID:      body.UserID,
		Query:       body.Query,
		Language:    body.Language,
		OfflineMode: body.OfflineMode,
		CreatedAt:   time.Now().UTC(),
	}, nil
}

func (h *Handler) handleQuery(w http.ResponseWriter, r *http.Request) {
	req, svcErr := h.parseQuery(r)
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	AddLogField(r.Context(), "run_id", req.RunID)

	result, err := h.runner.Run(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	AddLogField(r.Context(), "intent", string(result.Intent))
	writeJSON(w, http.StatusOK, result)
}

// handleQueryStream runs the pipeline detached and streams its telemetry
// back as SSE. The subscription is established before the run starts so
// the stream sees every event; if the peer disconnects mid-run, the run
// finishes anyway.
func (h *Handler) handleQueryStream(w http.ResponseWriter, r *http.Request) {
	req, svcErr := h.parseQuery(r)
	if svcErr != nil {
		writeServiceError(w, svcErr)
		return
	}
	AddLogField(r.Context(), "run_id", req.RunID)

	sub := h.stream.Attach(req.RunID)
	go func() {
		if _, err := h.runner.Run(context.Background(), req); err != nil {
			h.logger.Error("detached run failed",
				slog.String("run_id", req.RunID),
				slog.String("error", err.Error()))
		}
	}()
	h.stream.Stream(w, r, sub)
}

func (h *Handler) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxAudioBytes)
	if err := r.ParseMultipartForm(h.maxAudioBytes); err != nil {
		writeServiceError(w, domain.ErrInvalidInput("audio upload too large or malformed"))
		return
	}
	f, _, err := r.FormFile("audio")
	if err != nil {
		writeServiceError(w, domain.ErrInvalidInput("audio file is required"))
		return
	}
	defer f.Close()

	audio, err := io.ReadAll(f)
	if err != nil || len(audio) == 0 {
		writeServiceError(w, domain.ErrInvalidInput("empty audio file"))
		return
	}

	language := r.FormValue("language")
	if language == "" {
		language = "en"
	}
	if !pipeline.SupportedLanguage(language) {
		writeServiceError(w, domain.ErrInvalidLanguage(language))
		return
	}

	text, err := h.gateway.STT.Transcribe(r.Context(), audio, language)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"text":      text,
		"language":  language,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

type synthesizeRequest struct {
	Text     string `json:"text"`
	Language string `json:"language"`
}

func (h *Handler) handleSynthesize(w http.ResponseWriter, r *http.Request) {
	var body synthesizeRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeServiceError(w, domain.ErrInvalidInput("invalid request body"))
		return
	}
	if body.Text == "" {
		writeServiceError(w, domain.ErrInvalidInput("text must not be empty"))
		return
	}
	if body.Language == "" {
		body.Language = "en"
	}
	if !pipeline.SupportedLanguage(body.Language) {
		writeServiceError(w, domain.ErrInvalidLanguage(body.Language))
		return
	}

	audio, err := h.gateway.TTS.Synthesize(r.Context(), body.Text, body.Language)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", "audio/mpeg")
	w.WriteHeader(http.StatusOK)
	w.Write(audio)
}

func (h *Handler) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	key := r.Header.Get("X-Admin-API-Key")
	if key == "" {
		writeServiceError(w, &domain.ServiceError{
			Kind:       domain.KindInvalidInput,
			Code:       domain.CodeSystemError,
			Message:    "missing admin API key",
			StatusCode: http.StatusUnauthorized,
		})
		return
	}
	if h.adminKey == "" || key != h.adminKey {
		writeServiceError(w, &domain.ServiceError{
			Kind:       domain.KindInvalidInput,
			Code:       domain.CodeSystemError,
			Message:    "invalid admin API key",
			StatusCode: http.StatusForbidden,
		})
		return
	}

	stats := &storage.Stats{}
	if h.store != nil {
		s, err := h.store.Stats(r.Context())
		if err != nil {
			writeError(w, err)
			return
		}
		stats = s
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"totalQueries": stats.TotalQueries,
		"scamsBlocked": stats.ScamsBlocked,
		"cacheHitRate": stats.CacheHitRate,
		"avgLatency":   stats.AvgLatencyMS,
		"uptime":       time.Since(h.startTime).String(),
		"activeUsers":  h.limiter.Keys(),
		"timestamp":    time.Now().UTC().Format(time.RFC3339),
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeServiceError renders the shared failure envelope.
func writeServiceError(w http.ResponseWriter, err *domain.ServiceError) {
	writeJSON(w, err.HTTPStatusCode(), err.Envelope())
}

// writeError maps arbitrary errors onto the envelope, folding unknown
// errors into a generic system failure so internals never leak.
func writeError(w http.ResponseWriter, err error) {
	var svcErr *domain.ServiceError
	if errors.As(err, &svcErr) {
		writeServiceError(w, svcErr)
		return
	}
	writeServiceError(w, domain.ErrSystem("internal error"))
}
