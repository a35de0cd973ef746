package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/cutting-params/internal/model"
)

// MemoryStore is a process-local Store with brute-force cosine search.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string][]model.DocumentChunk
	runs        map[string]*model.Run
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string][]model.DocumentChunk),
		runs:        make(map[string]*model.Run),
	}
}

func (s *MemoryStore) Migrate(context.Context) error { return nil }
func (s *MemoryStore) Close() error                  { return nil }

func (s *MemoryStore) ReplaceCollection(_ context.Context, collection string, chunks []model.DocumentChunk) error {
	if err := validateChunks(collection, chunks); err != nil {
		return err
	}
	cp := make([]model.DocumentChunk, len(chunks))
	for i, c := range chunks {
		c.Collection = collection
		c.Ordinal = i
		cp[i] = c
	}
	s.mu.Lock()
	s.collections[collection] = cp
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) SearchChunks(_ context.Context, collection string, vector []float32, topK int) ([]model.ScoredChunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	chunks, ok := s.collections[collection]
	if !ok || len(chunks) == 0 {
		return nil, eris.Wrapf(ErrNotFound, "memory: collection %s", collection)
	}
	return rank(chunks, vector, topK)
}

func (s *MemoryStore) ListCollections(context.Context) ([]CollectionInfo, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]CollectionInfo, 0, len(s.collections))
	for name, chunks := range s.collections {
		ci := CollectionInfo{Name: name, Chunks: len(chunks)}
		if len(chunks) > 0 {
			ci.Dimensions = len(chunks[0].Embedding)
		}
		out = append(out, ci)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (s *MemoryStore) CreateRun(_ context.Context, query string) (*model.Run, error) {
	now := time.Now().UTC()
	r := &model.Run{
		ID:        uuid.New().String(),
		Query:     query,
		Status:    model.RunStatusRunning,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.mu.Lock()
	s.runs[r.ID] = r
	s.mu.Unlock()
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) CompleteRun(_ context.Context, runID string, result *model.QueryResult) error {
	return s.update(runID, func(r *model.Run) {
		r.Status = model.RunStatusComplete
		r.Result = result
	})
}

func (s *MemoryStore) FailRun(_ context.Context, runID string, reason string) error {
	return s.update(runID, func(r *model.Run) {
		r.Status = model.RunStatusFailed
		r.Error = reason
	})
}

func (s *MemoryStore) update(runID string, fn func(*model.Run)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.runs[runID]
	if !ok {
		return eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	fn(r)
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (s *MemoryStore) GetRun(_ context.Context, runID string) (*model.Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[runID]
	if !ok {
		return nil, eris.Wrapf(ErrNotFound, "run %s", runID)
	}
	cp := *r
	return &cp, nil
}

func (s *MemoryStore) ListRuns(_ context.Context, filter model.RunFilter) ([]model.Run, error) {
	s.mu.RLock()
	var runs []model.Run
	for _, r := range s.runs {
		if filter.Status != "" && r.Status != filter.Status {
			continue
		}
		runs = append(runs, *r)
	}
	s.mu.RUnlock()

	sort.SliceStable(runs, func(i, j int) bool { return runs[i].CreatedAt.After(runs[j].CreatedAt) })
	if filter.Offset >= len(runs) {
		return nil, nil
	}
	runs = runs[filter.Offset:]
	if limit := listLimit(filter); limit < len(runs) {
		runs = runs[:limit]
	}
	return runs, nil
}
