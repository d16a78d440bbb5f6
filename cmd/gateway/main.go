package main

import (
	"context"
	"flag"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/satyasetu/voice-gateway/internal/config"
	"github.com/satyasetu/voice-gateway/internal/pipeline"
	"github.com/satyasetu/voice-gateway/internal/ratelimit"
	"github.com/satyasetu/voice-gateway/internal/server"
	"github.com/satyasetu/voice-gateway/internal/services"
	"github.com/satyasetu/voice-gateway/internal/services/mock"
	"github.com/satyasetu/voice-gateway/internal/services/openai"
	"github.com/satyasetu/voice-gateway/internal/storage/sqlite"
	"github.com/satyasetu/voice-gateway/internal/stream"
	"github.com/satyasetu/voice-gateway/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the YAML config file")
	flag.Parse()

	// Load .env file if it exists
	_ = godotenv.Load()

	// Initialize structured logger
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	// Initialize OpenTelemetry
	shutdownTracer, err := telemetry.InitTracer("voice-gateway", logger)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		if err := shutdownTracer(context.Background()); err != nil {
			logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
		}
	}()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	if err := os.MkdirAll(filepath.Dir(cfg.Storage.Path), 0o755); err != nil {
		log.Fatalf("Failed to create data directory: %v", err)
	}
	store, err := sqlite.New(cfg.Storage.Path)
	if err != nil {
		log.Fatalf("Failed to open interaction store: %v", err)
	}
	defer store.Close()

	bus := telemetry.NewBus(telemetry.BusConfig{
		ReplayCapacity:    cfg.Telemetry.ReplayCapacity,
		QueueCapacity:     cfg.Telemetry.QueueCapacity,
		HeartbeatInterval: cfg.Telemetry.HeartbeatInterval,
		Logger:            logger,
	})
	bus.Start()
	defer bus.Close()

	gateway := buildGateway(cfg, logger)

	runner := pipeline.New(pipeline.Config{
		Gateway:      gateway,
		Bus:          bus,
		Store:        store,
		StageTimeout: cfg.Pipeline.StageTimeout,
		Logger:       logger,
	})
	limiter := ratelimit.New(cfg.RateLimit.PerMinute, cfg.RateLimit.Window)

	handler := server.NewHandler(server.HandlerConfig{
		Runner:        runner,
		Limiter:       limiter,
		Bus:           bus,
		Stream:        stream.NewAdapter(bus, logger),
		Store:         store,
		Gateway:       gateway,
		AdminKey:      cfg.Admin.APIKey,
		MaxAudioBytes: int64(cfg.MaxAudioSizeMB) << 20,
		Logger:        logger,
	})

	srv := server.New(cfg.Server.Port, logger)
	handler.Routes(srv.Router)

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		log.Fatalf("Server failed: %v", err)
	case sig := <-sigChan:
		logger.Info("shutdown signal received", slog.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("gateway shutdown complete")
}

// buildGateway selects real upstream clients where API keys are present
// and deterministic mocks everywhere else, so the service runs end to end
// with no credentials at all.
func buildGateway(cfg *config.Config, logger *slog.Logger) *services.Gateway {
	gw := &services.Gateway{
		STT:       &mock.STT{},
		TTS:       &mock.TTS{},
		Retriever: &mock.Retriever{},
		Generator: &mock.Generator{},
	}
	if cfg.Services.OpenAIAPIKey != "" {
		client := openai.NewClient(cfg.Services.OpenAIAPIKey)
		gw.Generator = openai.NewGenerator(client, "")
		gw.Retriever = openai.NewRetriever(client, "", nil)
		logger.Info("generation and retrieval backed by OpenAI")
	} else {
		logger.Info("generation and retrieval backed by mocks")
	}
	if cfg.Services.DeepgramAPIKey != "" || cfg.Services.ElevenLabsAPIKey != "" {
		logger.Warn("speech API keys are set but native clients are not built in; using mock STT/TTS")
	}
	return gw
}
