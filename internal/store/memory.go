package store

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
)

// MemoryStore keeps questions in an immutable snapshot swapped atomically on
// every publish. Reads take no locks; writers are serialized.
type MemoryStore struct {
	mu       sync.Mutex
	snapshot atomic.Pointer[map[string]Question]
}

// NewMemoryStore returns an empty store.
func NewMemoryStore() *MemoryStore {
	s := &MemoryStore{}
	empty := map[string]Question{}
	s.snapshot.Store(&empty)
	return s
}

func (s *MemoryStore) GetQuestion(_ context.Context, id string) (Question, error) {
	q, ok := (*s.snapshot.Load())[id]
	if !ok {
		return Question{}, ErrNotFound
	}
	return q.Clone(), nil
}

func (s *MemoryStore) GetKeyPoints(ctx context.Context, id string) ([]KeyPoint, error) {
	q, err := s.GetQuestion(ctx, id)
	if err != nil {
		return nil, err
	}
	return q.KeyPoints, nil
}

func (s *MemoryStore) ListQuestions(_ context.Context) ([]Question, error) {
	snap := *s.snapshot.Load()
	out := make([]Question, 0, len(snap))
	for _, q := range snap {
		out = append(out, q.withoutEmbeddings())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// SaveQuestion publishes q, replacing any previous version with the same id.
func (s *MemoryStore) SaveQuestion(_ context.Context, q Question) error {
	if err := q.Validate(); err != nil {
		return err
	}
	stored := q.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	cur := *s.snapshot.Load()
	next := make(map[string]Question, len(cur)+1)
	for id, existing := range cur {
		next[id] = existing
	}
	next[stored.ID] = stored
	s.snapshot.Store(&next)
	return nil
}

// Len returns the number of published questions.
func (s *MemoryStore) Len() int {
	return len(*s.snapshot.Load())
}
