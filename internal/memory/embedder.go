package memory

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"math"
	"strings"
	"unicode"

	"github.com/dgraph-io/ristretto"
	"google.golang.org/genai"
)

// Embedder turns text into a vector for the long-memory index.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Name() string
}

// HashEmbedder is a deterministic offline embedder. It hashes rune unigrams
// and bigrams into a fixed number of buckets, which is enough to surface
// turns that share words with the query.
type HashEmbedder struct {
	Dim int
}

func NewHashEmbedder(dim int) *HashEmbedder {
	if dim <= 0 {
		dim = 256
	}
	return &HashEmbedder{Dim: dim}
}

func (e *HashEmbedder) Name() string { return fmt.Sprintf("hash:%d", e.Dim) }

func (e *HashEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	vec := make([]float32, e.Dim)
	runes := make([]rune, 0, len(text))
	for _, r := range strings.ToLower(text) {
		if unicode.IsLetter(r) || unicode.IsNumber(r) {
			runes = append(runes, r)
		}
	}
	for i, r := range runes {
		vec[e.bucket(string(r))] += 1
		if i+1 < len(runes) {
			vec[e.bucket(string(runes[i:i+2]))] += 2
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm == 0 {
		// chromem rejects zero vectors; give empty text a fixed direction.
		vec[0] = 1
		return vec, nil
	}
	scale := float32(1 / math.Sqrt(norm))
	for i := range vec {
		vec[i] *= scale
	}
	return vec, nil
}

func (e *HashEmbedder) bucket(gram string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(gram))
	return int(h.Sum32() % uint32(e.Dim))
}

// GenAIEmbedder embeds text with a Gemini embedding model.
type GenAIEmbedder struct {
	client *genai.Client
	model  string
}

func NewGenAIEmbedder(ctx context.Context, apiKey, model string) (*GenAIEmbedder, error) {
	if apiKey == "" {
		return nil, errors.New("genai api key is required")
	}
	if model == "" {
		model = "gemini-embedding-001"
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return &GenAIEmbedder{client: client, model: model}, nil
}

func (e *GenAIEmbedder) Name() string { return "genai:" + e.model }

func (e *GenAIEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	result, err := e.client.Models.EmbedContent(ctx,
		e.model,
		[]*genai.Content{genai.NewContentFromText(text, genai.RoleUser)},
		&genai.EmbedContentConfig{TaskType: "SEMANTIC_SIMILARITY"},
	)
	if err != nil {
		return nil, fmt.Errorf("genai embed: %w", err)
	}
	if len(result.Embeddings) == 0 {
		return nil, errors.New("genai embed: no embeddings returned")
	}
	return result.Embeddings[0].Values, nil
}

// CachedEmbedder memoizes another embedder. Repeated queries within a
// conversation hit the cache instead of the embedding provider.
type CachedEmbedder struct {
	next  Embedder
	cache *ristretto.Cache
}

func NewCachedEmbedder(next Embedder, maxEntries int64) (*CachedEmbedder, error) {
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: maxEntries * 10,
		MaxCost:     maxEntries,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("create embedding cache: %w", err)
	}
	return &CachedEmbedder{next: next, cache: cache}, nil
}

func (e *CachedEmbedder) Name() string { return e.next.Name() + "+cache" }

func (e *CachedEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	key := e.next.Name() + "\x00" + text
	if v, ok := e.cache.Get(key); ok {
		if vec, ok := v.([]float32); ok {
			return vec, nil
		}
	}
	vec, err := e.next.Embed(ctx, text)
	if err != nil {
		return nil, err
	}
	e.cache.Set(key, vec, 1)
	return vec, nil
}

// Wait blocks until buffered cache writes are applied.
func (e *CachedEmbedder) Wait() { e.cache.Wait() }

func (e *CachedEmbedder) Close() { e.cache.Close() }
