package engine

import (
	"context"
	"math"
	"net/url"
	"path"
	"sort"
	"strings"
)

const (
	maxSpectralTags = 8
	maxKeywords     = 5
	shortFormRunes  = 40
	longFormRunes   = 280
)

var stopwords = map[string]bool{
	"the": true, "and": true, "for": true, "with": true, "this": true, "that": true,
	"are": true, "was": true, "is": true, "it": true, "of": true, "to": true, "in": true,
	"on": true, "at": true, "an": true, "my": true, "we": true, "you": true, "be": true,
	"的": true, "了": true, "是": true, "我": true, "在": true, "和": true,
}

// ContentAgent turns raw content into vectors, tags and analysis. With the
// default hashing embedder it never performs I/O.
type ContentAgent struct {
	embedder Embedder
}

// NewContentAgent creates a content agent. A nil embedder selects the
// deterministic hashing embedder at DefaultDimensions.
func NewContentAgent(emb Embedder) *ContentAgent {
	if emb == nil {
		emb = NewHashEmbedder(DefaultDimensions)
	}
	return &ContentAgent{embedder: emb}
}

// Dimensions is the size of every vector this agent produces.
func (a *ContentAgent) Dimensions() int { return a.embedder.Dimensions() }

// Model names the embedding backend.
func (a *ContentAgent) Model() string { return a.embedder.Model() }

// GenerateContentVector embeds content into a D-dimensional vector.
func (a *ContentAgent) GenerateContentVector(ctx context.Context, content string) ([]float64, error) {
	if err := checkContent(content); err != nil {
		return nil, err
	}
	vec, err := a.embedder.Embed(ctx, content)
	if err != nil {
		return nil, err
	}
	if len(vec) != a.embedder.Dimensions() {
		return nil, Errorf(KindDimensionMismatch, "embedder %s returned %d dimensions, want %d",
			a.embedder.Model(), len(vec), a.embedder.Dimensions())
	}
	return vec, nil
}

// ExtractSpectralTags returns a deduplicated, order-stable set of topical
// labels followed by stylistic labels. Empty content yields an empty set.
func (a *ContentAgent) ExtractSpectralTags(content string) ([]string, error) {
	if err := checkContent(content); err != nil {
		return nil, err
	}
	return spectralTags(newTextFeatures(content)), nil
}

func spectralTags(f textFeatures) []string {
	tags := []string{}
	if f.runes == 0 {
		return tags
	}
	tags = append(tags, f.topics()...)
	if strings.ContainsAny(f.lower, "?？") {
		tags = append(tags, tagQuestion)
	}
	if strings.ContainsAny(f.lower, "!！") {
		tags = append(tags, tagExclamatory)
	}
	if strings.Contains(f.lower, "://") {
		tags = append(tags, tagMedia)
	}
	switch {
	case f.runes < shortFormRunes:
		tags = append(tags, tagShortForm)
	case f.runes > longFormRunes:
		tags = append(tags, tagLongForm)
	}
	tags = dedupe(tags)
	if len(tags) > maxSpectralTags {
		tags = tags[:maxSpectralTags]
	}
	return tags
}

// AnalyzeContent scores sentiment, topics and signal richness. Short or
// empty content yields low confidence rather than an error.
func (a *ContentAgent) AnalyzeContent(content string) (ContentAnalysis, error) {
	if err := checkContent(content); err != nil {
		return ContentAnalysis{}, err
	}
	f := newTextFeatures(content)

	out := ContentAnalysis{Topics: []string{}, Keywords: []string{}}
	if f.runes == 0 {
		return out, nil
	}

	for _, t := range spectralTags(f) {
		if isTopic(t) {
			out.Topics = append(out.Topics, t)
		}
	}

	pos := f.count(positiveWords)
	neg := f.count(negativeWords)
	out.Sentiment = clamp(float64(pos-neg)/float64(pos+neg+1), -1, 1)

	// Richness grows with token count; lexical hits add signal on top.
	signal := math.Min(1, float64(len(out.Topics)+pos+neg)/3)
	richness := 1 - math.Exp(-float64(len(f.tokens))/12)
	out.Confidence = clamp(richness*(0.6+0.4*signal), 0, 1)

	out.Keywords = keywords(f.tokens)
	out.Readability = clamp(100-float64(f.runes)*0.1, 0, 100)
	out.EngagementPotential = clamp(out.Readability*0.5+float64(pos)*10+float64(len(out.Topics))*15, 0, 100)
	return out, nil
}

// EnrichSeed attaches a vector and spectral tags to a seed that lacks them.
// Media seeds are described by the words in their reference URL.
func (a *ContentAgent) EnrichSeed(ctx context.Context, seed Seed) (Seed, error) {
	text, err := seedText(seed)
	if err != nil {
		return Seed{}, err
	}
	if len(seed.Vector) == 0 {
		vec, err := a.GenerateContentVector(ctx, text)
		if err != nil {
			return Seed{}, err
		}
		seed.Vector = vec
	}
	if seed.SpectralTags == nil {
		tags, err := a.ExtractSpectralTags(text)
		if err != nil {
			return Seed{}, err
		}
		if seed.ContentType.IsMedia() {
			tags = dedupe(append(tags, tagMedia))
		}
		seed.SpectralTags = tags
	}
	return seed, nil
}

func seedText(seed Seed) (string, error) {
	if err := checkContent(seed.Content); err != nil {
		return "", err
	}
	if !seed.ContentType.IsMedia() {
		return seed.Content, nil
	}
	u, err := url.Parse(strings.TrimSpace(seed.Content))
	if err != nil || u.Scheme == "" {
		return "", Errorf(KindInvalidContent, "%s seed content is not a media reference", seed.ContentType)
	}
	name := strings.TrimSuffix(path.Base(u.Path), path.Ext(u.Path))
	return strings.NewReplacer("-", " ", "_", " ").Replace(name), nil
}

// keywords returns the most frequent non-stopword tokens, ties broken by
// first occurrence.
func keywords(tokens []string) []string {
	type kw struct {
		term  string
		count int
		first int
	}
	idx := make(map[string]int)
	var list []kw
	for i, t := range tokens {
		if stopwords[t] {
			continue
		}
		if j, ok := idx[t]; ok {
			list[j].count++
			continue
		}
		idx[t] = len(list)
		list = append(list, kw{t, 1, i})
	}
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].count != list[j].count {
			return list[i].count > list[j].count
		}
		return list[i].first < list[j].first
	})
	out := make([]string, 0, maxKeywords)
	for i := 0; i < len(list) && i < maxKeywords; i++ {
		out = append(out, list[i].term)
	}
	return out
}

func dedupe(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := in[:0:0]
	for _, s := range in {
		if s == "" || seen[s] {
			continue
		}
		seen[s] = true
		out = append(out, s)
	}
	return out
}
