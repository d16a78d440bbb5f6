// Package services defines the capability contracts the pipeline depends
// on. Each capability is independently swappable between a deterministic
// mock and a real backing client, selected once at process startup. The
// gateway never applies its own timeouts; the caller owns deadlines.
package services

import (
	"context"

	"github.com/satyasetu/voice-gateway/internal/domain"
)

// SpeechToText transcribes recorded audio into text.
type SpeechToText interface {
	Transcribe(ctx context.Context, audio []byte, language string) (string, error)
}

// TextToSpeech synthesizes text into playable audio.
type TextToSpeech interface {
	Synthesize(ctx context.Context, text, language string) ([]byte, error)
}

// VectorRetriever finds grounding documents for a query.
type VectorRetriever interface {
	Retrieve(ctx context.Context, query string, intent domain.Intent) (domain.RetrievedContext, error)
}

// AnswerGenerator produces the final answer from a query, its intent, and
// retrieved context.
type AnswerGenerator interface {
	Generate(ctx context.Context, query string, intent domain.Intent, rctx domain.RetrievedContext) (domain.GeneratedAnswer, error)
}

// Gateway bundles the four capabilities the pipeline and transport layers
// consume. Construct it once in main and pass it by reference.
type Gateway struct {
	STT       SpeechToText
	TTS       TextToSpeech
	Retriever VectorRetriever
	Generator AnswerGenerator
}
