package engine

import "math"

const earthRadiusKm = 6371.0

// normalize performs in-place L2 normalization.
func normalize(vec []float64) {
	var sum float64
	for _, v := range vec {
		sum += v * v
	}
	if sum == 0 {
		return
	}
	norm := math.Sqrt(sum)
	for i := range vec {
		vec[i] /= norm
	}
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// CosineSimilarity computes the cosine similarity between two vectors.
// Mismatched or zero-length vectors, and zero vectors, score 0.
func CosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var d, normA, normB float64
	for i := range a {
		d += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0
	}
	return clamp(d/denom, -1, 1)
}

// Distance returns a non-negative distance where smaller is closer.
// Cosine and dot are similarities and are converted: cosine to 1-cos and
// dot through DotDistance.
func Distance(metric Metric, a, b []float64) (float64, error) {
	if len(a) != len(b) {
		return 0, Errorf(KindDimensionMismatch, "vector dimension %d does not match %d", len(b), len(a))
	}
	switch metric {
	case MetricEuclidean:
		var s float64
		for i := range a {
			d := a[i] - b[i]
			s += d * d
		}
		return math.Sqrt(s), nil
	case MetricDot:
		return DotDistance(dot(a, b)), nil
	default:
		return 1 - CosineSimilarity(a, b), nil
	}
}

// DotDistance maps an inner product onto a non-negative distance that
// strictly decreases as the product grows: 1/(1+ip) for ip >= 0 and 1-ip
// below. It stays finite and distinct for products of any magnitude.
func DotDistance(innerProduct float64) float64 {
	if innerProduct >= 0 {
		return 1 / (1 + innerProduct)
	}
	return 1 - innerProduct
}

// affinity maps cosine similarity onto [0,1]. Equal vectors score exactly 1.
func affinity(a, b []float64) float64 {
	if equalVectors(a, b) {
		return 1
	}
	return clamp((1+CosineSimilarity(a, b))/2, 0, 1)
}

func equalVectors(a, b []float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// haversineKm is the great-circle distance between two points.
func haversineKm(a, b Location) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180

	sLat := math.Sin(dLat / 2)
	sLng := math.Sin(dLng / 2)
	h := sLat*sLat + math.Cos(lat1)*math.Cos(lat2)*sLng*sLng
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
