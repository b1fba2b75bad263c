package registry

import (
	"context"
	"sync"
)

// MemoryStore keeps saved villages in process. Each save replaces the
// previous state with a deep copy.
type MemoryStore struct {
	mu       sync.Mutex
	villages []Village
	Saves    int
}

func NewMemoryStore(initial ...Village) *MemoryStore {
	s := &MemoryStore{}
	for _, v := range initial {
		s.villages = append(s.villages, v.Clone())
	}
	return s
}

func (s *MemoryStore) LoadVillages(ctx context.Context) ([]Village, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Village, 0, len(s.villages))
	for _, v := range s.villages {
		out = append(out, v.Clone())
	}
	return out, nil
}

func (s *MemoryStore) SaveVillages(ctx context.Context, villages []Village) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.villages = s.villages[:0]
	for _, v := range villages {
		s.villages = append(s.villages, v.Clone())
	}
	s.Saves++
	return nil
}
