package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/satyasetu/voice-gateway/internal/domain"
)

// embeddingStub returns one fixed vector per input, keyed by input text.
func embeddingStub(t *testing.T, vectors map[string][]float64) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/embeddings" {
			t.Errorf("path = %q, want /embeddings", r.URL.Path)
		}
		var req EmbeddingRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		data := make([]map[string]any, 0, len(req.Input))
		for i, input := range req.Input {
			vec, ok := vectors[input]
			if !ok {
				t.Errorf("no stub vector for input %q", input)
				vec = []float64{0, 0}
			}
			data = append(data, map[string]any{"embedding": vec, "index": i})
		}
		json.NewEncoder(w).Encode(map[string]any{"data": data})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRetrieve_RanksBySimilarity(t *testing.T) {
	corpus := []domain.Document{
		{Source: "scheme.pdf", Excerpt: "scheme text"},
		{Source: "fraud.pdf", Excerpt: "fraud text"},
		{Source: "banking.pdf", Excerpt: "banking text"},
	}
	// Query vector points along x; fraud is most aligned, then banking.
	srv := embeddingStub(t, map[string][]float64{
		"is this a scam": {1, 0},
		"scheme text":    {0, 1},
		"fraud text":     {1, 0.1},
		"banking text":   {1, 1},
	})

	client := NewClient("sk-test", WithBaseURL(srv.URL))
	ret := NewRetriever(client, "", corpus)

	got, err := ret.Retrieve(context.Background(), "is this a scam", domain.IntentScamVerify)
	if err != nil {
		t.Fatalf("Retrieve: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d documents, want top 2", len(got))
	}
	if got[0].Source != "fraud.pdf" || got[1].Source != "banking.pdf" {
		t.Fatalf("ranking = [%s, %s], want [fraud.pdf, banking.pdf]", got[0].Source, got[1].Source)
	}
	if got[0].Score < got[1].Score {
		t.Fatalf("scores not descending: %v vs %v", got[0].Score, got[1].Score)
	}
}

func TestRetrieve_CountMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"data":[{"embedding":[1,0],"index":0}]}`))
	}))
	defer srv.Close()

	client := NewClient("sk-test", WithBaseURL(srv.URL))
	ret := NewRetriever(client, "", []domain.Document{{Source: "a.pdf", Excerpt: "a"}})
	// Query plus one document needs two vectors, the stub returns one.
	if _, err := ret.Retrieve(context.Background(), "hello", domain.IntentSchemeLookup); err == nil {
		t.Fatal("expected count mismatch error")
	}
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float64
		want float64
	}{
		{"identical", []float64{1, 2}, []float64{1, 2}, 1},
		{"orthogonal", []float64{1, 0}, []float64{0, 1}, 0},
		{"opposite", []float64{1, 0}, []float64{-1, 0}, -1},
		{"length mismatch", []float64{1}, []float64{1, 0}, 0},
		{"zero vector", []float64{0, 0}, []float64{1, 0}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := cosineSimilarity(tt.a, tt.b)
			if diff := got - tt.want; diff > 1e-9 || diff < -1e-9 {
				t.Fatalf("cosineSimilarity = %v, want %v", got, tt.want)
			}
		})
	}
}
