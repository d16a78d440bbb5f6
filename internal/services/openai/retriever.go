package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"sort"

	"github.com/satyasetu/voice-gateway/internal/domain"
)

const defaultEmbeddingModel = "text-embedding-3-small"

// EmbeddingRequest is the request body for /embeddings.
type EmbeddingRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

// EmbeddingResponse is the subset of the response the retriever uses.
type EmbeddingResponse struct {
	Data []struct {
		Embedding []float64 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
}

// CreateEmbeddings embeds the given inputs.
func (c *Client) CreateEmbeddings(ctx context.Context, req *EmbeddingRequest) (*EmbeddingResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API error (status %d): %s", resp.StatusCode, string(respBody))
	}

	var result EmbeddingResponse
	if err := json.Unmarshal(respBody, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &result, nil
}

// Retriever ranks a fixed advisory corpus against the query by embedding
// similarity. The corpus is small enough to embed alongside every query,
// which keeps the retriever stateless.
type Retriever struct {
	client *Client
	model  string
	corpus []domain.Document
	topK   int
}

// NewRetriever creates an embedding-backed retriever over the given
// corpus. A nil corpus uses the built-in advisory documents.
func NewRetriever(client *Client, model string, corpus []domain.Document) *Retriever {
	if model == "" {
		model = defaultEmbeddingModel
	}
	if corpus == nil {
		corpus = advisoryCorpus
	}
	return &Retriever{client: client, model: model, corpus: corpus, topK: 2}
}

// advisoryCorpus mirrors the scheme and fraud advisory documents the
// deterministic retriever serves, so real and mock retrieval agree on
// sources.
var advisoryCorpus = []domain.Document{
	{Source: "PM_Kisan_Guidelines.pdf", Excerpt: "PM-KISAN is a Central Sector scheme providing income support to farmer families."},
	{Source: "PM_Kisan_FAQ.pdf", Excerpt: "Eligible farmers receive ₹6000 per year in three installments."},
	{Source: "Cyber_Fraud_Advisory.pdf", Excerpt: "Government schemes never ask for an upfront fee or OTP to release benefits."},
	{Source: "RBI_Safe_Banking.pdf", Excerpt: "Report suspected fraud at cybercrime.gov.in or call 1930."},
}

func (r *Retriever) Retrieve(ctx context.Context, query string, intent domain.Intent) (domain.RetrievedContext, error) {
	inputs := make([]string, 0, len(r.corpus)+1)
	inputs = append(inputs, query)
	for _, doc := range r.corpus {
		inputs = append(inputs, doc.Excerpt)
	}

	resp, err := r.client.CreateEmbeddings(ctx, &EmbeddingRequest{Model: r.model, Input: inputs})
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, want %d", len(resp.Data), len(inputs))
	}

	// The API may return vectors out of order; index restores it.
	vectors := make([][]float64, len(inputs))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(inputs) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}

	scored := make(domain.RetrievedContext, 0, len(r.corpus))
	for i, doc := range r.corpus {
		doc.Score = cosineSimilarity(vectors[0], vectors[i+1])
		scored = append(scored, doc)
	}
	sort.SliceStable(scored, func(i, j int) bool { return scored[i].Score > scored[j].Score })

	if len(scored) > r.topK {
		scored = scored[:r.topK]
	}
	return scored, nil
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
