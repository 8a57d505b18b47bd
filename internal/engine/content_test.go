package engine

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateContentVectorDeterministic(t *testing.T) {
	agent := NewContentAgent(nil)
	ctx := context.Background()

	inputs := []string{
		"Weekend hiking trip in the mountains",
		"今天的美食真好吃",
		"a",
		"",
	}
	for _, in := range inputs {
		v1, err := agent.GenerateContentVector(ctx, in)
		require.NoError(t, err)
		v2, err := agent.GenerateContentVector(ctx, in)
		require.NoError(t, err)
		assert.Equal(t, v1, v2, "content %q", in)
		assert.Len(t, v1, DefaultDimensions)
	}
}

func TestGenerateContentVectorNormalized(t *testing.T) {
	agent := NewContentAgent(NewHashEmbedder(32))
	vec, err := agent.GenerateContentVector(context.Background(), "golang programming is great")
	require.NoError(t, err)
	require.Len(t, vec, 32)

	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	assert.InDelta(t, 1.0, math.Sqrt(sum), 1e-9)
}

func TestGenerateContentVectorEmptyIsZero(t *testing.T) {
	vec, err := NewContentAgent(nil).GenerateContentVector(context.Background(), "   ")
	require.NoError(t, err)
	for _, v := range vec {
		assert.Zero(t, v)
	}
}

func TestGenerateContentVectorInvalidContent(t *testing.T) {
	agent := NewContentAgent(nil)
	for _, in := range []string{"bad \xff utf8", "nul\x00byte"} {
		_, err := agent.GenerateContentVector(context.Background(), in)
		require.Error(t, err)
		assert.Equal(t, KindInvalidContent, KindOf(err))
	}
}

type shortEmbedder struct{}

func (shortEmbedder) Embed(context.Context, string) ([]float64, error) { return []float64{1, 0}, nil }
func (shortEmbedder) Model() string                                   { return "short" }
func (shortEmbedder) Dimensions() int                                 { return 4 }

func TestGenerateContentVectorWrongDimension(t *testing.T) {
	_, err := NewContentAgent(shortEmbedder{}).GenerateContentVector(context.Background(), "hello")
	assert.Equal(t, KindDimensionMismatch, KindOf(err))
}

func TestSimilarTextIsCloser(t *testing.T) {
	agent := NewContentAgent(nil)
	ctx := context.Background()
	a, _ := agent.GenerateContentVector(ctx, "golang programming tutorial for beginners")
	b, _ := agent.GenerateContentVector(ctx, "golang programming tutorial for experts")
	c, _ := agent.GenerateContentVector(ctx, "fresh flowers at the spring market")

	assert.Greater(t, CosineSimilarity(a, b), CosineSimilarity(a, c))
}

func TestExtractSpectralTags(t *testing.T) {
	agent := NewContentAgent(nil)

	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"empty", "", []string{}},
		{"whitespace", "   ", []string{}},
		{"tech question", "I love coding in golang! Is AI the future?", []string{"tech", "question", "exclamatory"}},
		{"chinese", "今天的美食真好吃", []string{"life", "food", "short-form"}},
		{"link", "see https://example.com", []string{"media", "short-form"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := agent.ExtractSpectralTags(tt.content)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractSpectralTagsCapped(t *testing.T) {
	content := "life tech art travel food music sports nature, what a day!"
	tags, err := NewContentAgent(nil).ExtractSpectralTags(content)
	require.NoError(t, err)
	assert.Len(t, tags, maxSpectralTags)
	assert.Equal(t, "life", tags[0])
}

func TestAnalyzeContentEmpty(t *testing.T) {
	got, err := NewContentAgent(nil).AnalyzeContent("")
	require.NoError(t, err)
	assert.InDelta(t, 0, got.Confidence, 1e-9)
	assert.Empty(t, got.Topics)
	assert.NotNil(t, got.Topics)
	assert.Zero(t, got.Sentiment)
	assert.Zero(t, got.EngagementPotential)
}

func TestAnalyzeContentSentiment(t *testing.T) {
	agent := NewContentAgent(nil)

	pos, err := agent.AnalyzeContent("I love this great food")
	require.NoError(t, err)
	assert.Greater(t, pos.Sentiment, 0.0)
	assert.Contains(t, pos.Topics, "food")

	neg, err := agent.AnalyzeContent("terrible awful weather")
	require.NoError(t, err)
	assert.Less(t, neg.Sentiment, 0.0)

	zh, err := agent.AnalyzeContent("我很开心，喜欢这个音乐")
	require.NoError(t, err)
	assert.Greater(t, zh.Sentiment, 0.0)
	assert.Contains(t, zh.Topics, "music")
}

func TestAnalyzeContentConfidenceGrows(t *testing.T) {
	agent := NewContentAgent(nil)

	short, err := agent.AnalyzeContent("hi")
	require.NoError(t, err)
	assert.Less(t, short.Confidence, 0.1)

	long, err := agent.AnalyzeContent("Our team shipped a new golang service today and the code review was great. " +
		"We love how fast the software builds and tests run on every machine in the office.")
	require.NoError(t, err)
	assert.Greater(t, long.Confidence, short.Confidence)
	assert.LessOrEqual(t, long.Confidence, 1.0)
	assert.NotEmpty(t, long.Keywords)
	assert.LessOrEqual(t, len(long.Keywords), maxKeywords)
}

func TestEnrichSeed(t *testing.T) {
	agent := NewContentAgent(nil)
	ctx := context.Background()

	seed, err := agent.EnrichSeed(ctx, Seed{ID: "s1", Content: "Street food festival downtown"})
	require.NoError(t, err)
	assert.Len(t, seed.Vector, DefaultDimensions)
	assert.Contains(t, seed.SpectralTags, "food")

	media, err := agent.EnrichSeed(ctx, Seed{
		ID:          "s2",
		Content:     "https://cdn.example.com/photos/beach-travel.jpg",
		ContentType: ContentImage,
	})
	require.NoError(t, err)
	assert.Contains(t, media.SpectralTags, "travel")
	assert.Contains(t, media.SpectralTags, "media")

	_, err = agent.EnrichSeed(ctx, Seed{ID: "s3", Content: "not a url", ContentType: ContentVideo})
	assert.Equal(t, KindInvalidContent, KindOf(err))
}

func TestEnrichSeedKeepsExistingFields(t *testing.T) {
	seed := Seed{ID: "s1", Content: "tech news", Vector: []float64{1, 0}, SpectralTags: []string{"custom"}}
	got, err := NewContentAgent(nil).EnrichSeed(context.Background(), seed)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 0}, got.Vector)
	assert.Equal(t, []string{"custom"}, got.SpectralTags)
}
