// Package mock provides deterministic in-process implementations of every
// capability contract. They back the default configuration when no
// upstream API keys are set, and double as test fixtures: Delay and Fail
// knobs simulate slow or broken upstreams.
package mock

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/satyasetu/voice-gateway/internal/domain"
)

var (
	ErrRetriever = errors.New("mock retriever failure")
	ErrGenerator = errors.New("mock generator failure")
	ErrSTT       = errors.New("mock transcription failure")
	ErrTTS       = errors.New("mock synthesis failure")
)

// sleepCtx waits for d or until ctx is done, whichever comes first.
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Retriever returns a fixed corpus per intent.
type Retriever struct {
	Delay time.Duration
	Fail  bool
}

func (m *Retriever) Retrieve(ctx context.Context, query string, intent domain.Intent) (domain.RetrievedContext, error) {
	if err := sleepCtx(ctx, m.Delay); err != nil {
		return nil, err
	}
	if m.Fail {
		return nil, ErrRetriever
	}

	switch intent {
	case domain.IntentSchemeLookup:
		return domain.RetrievedContext{
			{
				Source:  "PM_Kisan_Guidelines.pdf",
				Excerpt: "PM-KISAN is a Central Sector scheme providing income support to farmer families.",
				Score:   0.92,
			},
			{
				Source:  "PM_Kisan_FAQ.pdf",
				Excerpt: "Eligible farmers receive ₹6000 per year in three installments.",
				Score:   0.88,
			},
		}, nil
	case domain.IntentScamVerify:
		return domain.RetrievedContext{
			{
				Source:  "Cyber_Fraud_Advisory.pdf",
				Excerpt: "Government schemes never ask for an upfront fee or OTP to release benefits.",
				Score:   0.9,
			},
			{
				Source:  "RBI_Safe_Banking.pdf",
				Excerpt: "Report suspected fraud at cybercrime.gov.in or call 1930.",
				Score:   0.84,
			},
		}, nil
	}
	return domain.RetrievedContext{}, nil
}

// Generator produces short, voice-friendly canned answers per intent.
type Generator struct {
	Delay time.Duration
	Fail  bool
}

func (m *Generator) Generate(ctx context.Context, query string, intent domain.Intent, rctx domain.RetrievedContext) (domain.GeneratedAnswer, error) {
	if err := sleepCtx(ctx, m.Delay); err != nil {
		return domain.GeneratedAnswer{}, err
	}
	if m.Fail {
		return domain.GeneratedAnswer{}, ErrGenerator
	}

	var text string
	switch intent {
	case domain.IntentSchemeLookup:
		text = "PM-KISAN provides ₹6000 per year to eligible farmers in three installments. You can check your status on the official PM-KISAN portal."
	case domain.IntentScamVerify:
		text = "This appears to be a scam. Government schemes never ask for money upfront. Please report this to cybercrime.gov.in."
	case domain.IntentOfflineFallback:
		text = "You are in offline mode. I can answer basic questions about common schemes and scam patterns from memory."
	default:
		text = "I can help you verify messages or learn about government schemes. What would you like to know?"
	}

	return domain.GeneratedAnswer{
		Text:       text,
		Confidence: 0.85,
		Sources:    rctx.Sources(),
	}, nil
}

// STT echoes a fixed transcript so the pipeline is exercisable without a
// speech backend.
type STT struct {
	Delay time.Duration
	Fail  bool
}

func (m *STT) Transcribe(ctx context.Context, audio []byte, language string) (string, error) {
	if err := sleepCtx(ctx, m.Delay); err != nil {
		return "", err
	}
	if m.Fail {
		return "", ErrSTT
	}
	if len(audio) == 0 {
		return "", errors.New("empty audio")
	}
	if language == "hi" {
		return "पीएम किसान योजना क्या है", nil
	}
	return "what is the pm kisan scheme", nil
}

// TTS returns a tiny deterministic payload standing in for synthesized
// audio.
type TTS struct {
	Delay time.Duration
	Fail  bool
}

func (m *TTS) Synthesize(ctx context.Context, text, language string) ([]byte, error) {
	if err := sleepCtx(ctx, m.Delay); err != nil {
		return nil, err
	}
	if m.Fail {
		return nil, ErrTTS
	}
	if strings.TrimSpace(text) == "" {
		return nil, errors.New("empty text")
	}
	// RIFF header followed by the text bytes; enough for tests and demos.
	out := append([]byte("RIFFmock"), []byte(text)...)
	return out, nil
}
