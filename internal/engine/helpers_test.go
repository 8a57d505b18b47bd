package engine

import (
	"context"
	"time"
)

type fakeIndex struct {
	results []VectorSearchResult
	err     error
	calls   int
	lastK   int
}

func (f *fakeIndex) Search(_ context.Context, _ []float64, k int, _ Metric) ([]VectorSearchResult, error) {
	f.calls++
	f.lastK = k
	if f.err != nil {
		return nil, f.err
	}
	out := make([]VectorSearchResult, len(f.results))
	copy(out, f.results)
	return out, nil
}

type fakeDirectory struct {
	users map[string]User
	err   error
}

func (f *fakeDirectory) LookupUsers(_ context.Context, ids []string) ([]User, error) {
	if f.err != nil {
		return nil, f.err
	}
	var out []User
	for _, id := range ids {
		if u, ok := f.users[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

func loc(lat, lng float64) *Location { return &Location{Lat: lat, Lng: lng} }

func ptr[T any](v T) *T { return &v }

func fixedClock(t time.Time) func() time.Time { return func() time.Time { return t } }

var beijing = Location{Lat: 39.9, Lng: 116.4}
