// Package kb coordinates one or more storage backends behind a single
// knowledge-base surface: queries fan out to every backend and results
// merge into one ranked list.
package kb

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"knowbase/internal/storage"
)

// Match is a search hit annotated with the backend that produced it.
type Match struct {
	storage.Match
	Backend string
}

// Status describes one backend's health.
type Status struct {
	Healthy   bool
	Error     string
	Documents int
	Chunks    int
}

// Manager fans operations out across registered backends. Backends are
// added at startup; the manager is not safe for concurrent mutation.
type Manager struct {
	backends []storage.Backend
}

// NewManager returns a Manager over the given backends.
func NewManager(backends ...storage.Backend) *Manager {
	return &Manager{backends: backends}
}

// AddBackend registers another backend.
func (m *Manager) AddBackend(b storage.Backend) {
	m.backends = append(m.backends, b)
}

// Backends returns the registered backends in registration order.
func (m *Manager) Backends() []storage.Backend {
	return m.backends
}

// Primary returns the first registered backend, which receives writes.
func (m *Manager) Primary() (storage.Backend, error) {
	if len(m.backends) == 0 {
		return nil, errors.New("no storage backends configured")
	}
	return m.backends[0], nil
}

// Search queries every backend and merges the hits into a single list
// ordered by similarity, truncated to the option limit. A backend error
// fails the whole search; partial results are worse than a clear failure.
func (m *Manager) Search(ctx context.Context, embedding []float32, opts storage.SearchOptions) ([]Match, error) {
	opts, err := opts.WithDefaults()
	if err != nil {
		return nil, err
	}
	if len(m.backends) == 0 {
		return nil, errors.New("no storage backends configured")
	}

	var merged []Match
	for _, b := range m.backends {
		matches, err := b.SearchSimilar(ctx, embedding, opts)
		if err != nil {
			return nil, fmt.Errorf("search %s: %w", b.Name(), err)
		}
		for _, hit := range matches {
			merged = append(merged, Match{Match: hit, Backend: b.Name()})
		}
	}

	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Similarity > merged[j].Similarity
	})
	if len(merged) > opts.Limit {
		merged = merged[:opts.Limit]
	}
	return merged, nil
}

// HealthCheck probes every backend and reports status keyed by backend name.
// Check failures are captured in the status rather than returned.
func (m *Manager) HealthCheck(ctx context.Context) map[string]Status {
	out := make(map[string]Status, len(m.backends))
	for _, b := range m.backends {
		st := Status{Healthy: true}
		if err := b.HealthCheck(ctx); err != nil {
			st.Healthy = false
			st.Error = err.Error()
			out[b.Name()] = st
			continue
		}
		if n, err := b.DocumentCount(ctx); err == nil {
			st.Documents = n
		}
		if n, err := b.ChunkCount(ctx, storage.ChunkFilter{}); err == nil {
			st.Chunks = n
		}
		out[b.Name()] = st
	}
	return out
}

// Close closes every backend and joins their errors.
func (m *Manager) Close() error {
	var errs []error
	for _, b := range m.backends {
		if err := b.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", b.Name(), err))
		}
	}
	return errors.Join(errs...)
}
