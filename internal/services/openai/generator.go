package openai

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/satyasetu/voice-gateway/internal/domain"
)

const defaultModel = "gpt-4-turbo-preview"

// Generator implements services.AnswerGenerator on top of the chat
// completions API. Answers are prompted to stay short and simple because
// they are spoken aloud.
type Generator struct {
	client *Client
	model  string
}

// NewGenerator creates a generator using the given client.
func NewGenerator(client *Client, model string) *Generator {
	if model == "" {
		model = defaultModel
	}
	return &Generator{client: client, model: model}
}

func (g *Generator) Generate(ctx context.Context, query string, intent domain.Intent, rctx domain.RetrievedContext) (domain.GeneratedAnswer, error) {
	var sb strings.Builder
	for _, doc := range rctx {
		fmt.Fprintf(&sb, "- %s (%s)\n", doc.Excerpt, doc.Source)
	}

	system := fmt.Sprintf(`You are a helpful assistant for rural India answering over voice.
Intent: %s

RULES:
1. Keep answers SHORT (2-3 sentences max), they are read aloud.
2. Use simple language.
3. If verifying scams, be clear and direct.
4. Cite sources when available.

Context:
%s`, intent, sb.String())

	resp, err := g.client.CreateChatCompletion(ctx, &ChatCompletionRequest{
		Model:       g.model,
		Temperature: 0.3,
		MaxTokens:   200,
		Messages: []ChatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: query},
		},
	})
	if err != nil {
		return domain.GeneratedAnswer{}, err
	}
	if len(resp.Choices) == 0 {
		return domain.GeneratedAnswer{}, errors.New("no completion choices returned")
	}

	return domain.GeneratedAnswer{
		Text:       strings.TrimSpace(resp.Choices[0].Message.Content),
		Confidence: 0.85,
		Sources:    rctx.Sources(),
	}, nil
}
