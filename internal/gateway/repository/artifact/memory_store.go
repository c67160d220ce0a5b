package artifact

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// MemoryStore is a process-local Store used by tests and APP_ENV=local.
type MemoryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		data: make(map[string][]byte),
	}
}

func (s *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return false, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.data[key]
	return ok, nil
}

func (s *MemoryStore) Put(_ context.Context, key string, content []byte) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.data[key] = append([]byte(nil), content...)
	return nil
}

func (s *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	key, err := normalizeKey(key)
	if err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), raw...), nil
}

func (s *MemoryStore) List(_ context.Context, prefix string) ([]string, error) {
	prefix = strings.TrimLeft(prefix, "/")
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, 16)
	for key := range s.data {
		if strings.HasPrefix(key, prefix) {
			out = append(out, key)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	key, err := normalizeKey(key)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.data, key)
	return nil
}

func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}
