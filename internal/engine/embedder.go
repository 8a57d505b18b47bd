package engine

import (
	"context"
	"fmt"
	"hash/fnv"
	"net/http"
	"net/url"
	"strings"
	"time"
	"unicode"

	"github.com/ollama/ollama/api"
)

// DefaultDimensions is the content vector size D.
const DefaultDimensions = 128

// Embedder generates vector embeddings for text.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float64, error)
	Model() string
	Dimensions() int
}

// HashEmbedder is a deterministic feature-hashing embedder. It performs no
// I/O; equal text yields bit-identical vectors.
type HashEmbedder struct {
	dims int
}

// NewHashEmbedder creates a hashing embedder of the given dimension.
func NewHashEmbedder(dims int) *HashEmbedder {
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &HashEmbedder{dims: dims}
}

func (h *HashEmbedder) Model() string   { return fmt.Sprintf("hash-%d", h.dims) }
func (h *HashEmbedder) Dimensions() int { return h.dims }

// Embed hashes unigrams and adjacent bigrams into a signed, L2-normalized vector.
func (h *HashEmbedder) Embed(_ context.Context, text string) ([]float64, error) {
	vec := make([]float64, h.dims)
	tokens := tokenize(text)
	if len(tokens) == 0 {
		return vec, nil
	}

	tf := make(map[string]int, len(tokens))
	maxTF := 0
	for _, tok := range tokens {
		tf[tok]++
		if tf[tok] > maxTF {
			maxTF = tf[tok]
		}
	}

	// Iterate in token order, not map order, so float accumulation is stable.
	seen := make(map[string]bool, len(tf))
	for _, tok := range tokens {
		if seen[tok] {
			continue
		}
		seen[tok] = true
		// Augmented TF to prevent bias towards longer documents
		h.add(vec, tok, 0.5+0.5*float64(tf[tok])/float64(maxTF))
	}
	for i := 1; i < len(tokens); i++ {
		h.add(vec, tokens[i-1]+" "+tokens[i], 0.5)
	}

	normalize(vec)
	return vec, nil
}

func (h *HashEmbedder) add(vec []float64, feature string, weight float64) {
	hf := fnv.New64a()
	hf.Write([]byte(feature))
	sum := hf.Sum64()
	idx := int(sum % uint64(h.dims))
	if sum>>63 == 1 {
		weight = -weight
	}
	vec[idx] += weight
}

// OllamaEmbedder uses Ollama's embedding API. Its vectors are folded onto the
// configured dimension so they stay comparable with the rest of the engine.
type OllamaEmbedder struct {
	client *api.Client
	model  string
	dims   int
}

// NewOllamaEmbedder creates an embedder using Ollama's API.
func NewOllamaEmbedder(baseURL, model string, dims int) (*OllamaEmbedder, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("parse ollama url: %w", err)
	}
	if dims <= 0 {
		dims = DefaultDimensions
	}
	return &OllamaEmbedder{
		client: api.NewClient(u, &http.Client{Timeout: 30 * time.Second}),
		model:  model,
		dims:   dims,
	}, nil
}

func (o *OllamaEmbedder) Model() string   { return "ollama:" + o.model }
func (o *OllamaEmbedder) Dimensions() int { return o.dims }

// Embed sends text to Ollama. Network and server failures are transient.
func (o *OllamaEmbedder) Embed(ctx context.Context, text string) ([]float64, error) {
	if strings.TrimSpace(text) == "" {
		return make([]float64, o.dims), nil
	}
	resp, err := o.client.Embed(ctx, &api.EmbedRequest{Model: o.model, Input: text})
	if err != nil {
		return nil, Transient(err, "ollama embed")
	}
	if len(resp.Embeddings) == 0 {
		return nil, Errorf(KindTransientBackend, "ollama returned no embeddings")
	}
	return fold(resp.Embeddings[0], o.dims), nil
}

// OllamaReachable reports whether an Ollama server at baseURL answers embedding
// requests for model.
func OllamaReachable(ctx context.Context, baseURL, model string) bool {
	o, err := NewOllamaEmbedder(baseURL, model, DefaultDimensions)
	if err != nil {
		return false
	}
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	_, err = o.client.Embed(ctx, &api.EmbedRequest{Model: model, Input: "test"})
	return err == nil
}

// fold sums src into dims buckets and renormalizes.
func fold(src []float32, dims int) []float64 {
	vec := make([]float64, dims)
	for i, v := range src {
		vec[i%dims] += float64(v)
	}
	normalize(vec)
	return vec
}

// tokenize splits text into lowercase word tokens. Han characters have no
// word separator, so each one becomes its own token.
func tokenize(text string) []string {
	text = strings.ToLower(text)
	var tokens []string
	var current strings.Builder
	flush := func() {
		if current.Len() > 1 { // skip single-char latin tokens
			tokens = append(tokens, current.String())
		}
		current.Reset()
	}
	for _, r := range text {
		switch {
		case unicode.Is(unicode.Han, r):
			flush()
			tokens = append(tokens, string(r))
		case unicode.IsLetter(r) || unicode.IsDigit(r) || r == '-' || r == '_':
			current.WriteRune(r)
		default:
			flush()
		}
	}
	flush()
	return tokens
}
