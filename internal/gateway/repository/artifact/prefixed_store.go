package artifact

import (
	"context"
	"strings"
)

// PrefixedStore scopes every key of an inner store under a fixed prefix,
// so several deployments can share one bucket. Listed keys come back
// without the prefix.
type PrefixedStore struct {
	inner  Store
	prefix string
}

// WithPrefix wraps inner; an empty prefix returns inner unchanged.
func WithPrefix(inner Store, prefix string) Store {
	prefix = strings.Trim(strings.TrimSpace(prefix), "/")
	if prefix == "" {
		return inner
	}
	return &PrefixedStore{inner: inner, prefix: prefix + "/"}
}

func (s *PrefixedStore) Exists(ctx context.Context, key string) (bool, error) {
	return s.inner.Exists(ctx, s.prefix+key)
}

func (s *PrefixedStore) Get(ctx context.Context, key string) ([]byte, error) {
	return s.inner.Get(ctx, s.prefix+key)
}

func (s *PrefixedStore) Put(ctx context.Context, key string, content []byte) error {
	return s.inner.Put(ctx, s.prefix+key, content)
}

func (s *PrefixedStore) List(ctx context.Context, prefix string) ([]string, error) {
	keys, err := s.inner.List(ctx, s.prefix+prefix)
	if err != nil {
		return nil, err
	}
	for i, k := range keys {
		keys[i] = strings.TrimPrefix(k, s.prefix)
	}
	return keys, nil
}

func (s *PrefixedStore) Delete(ctx context.Context, key string) error {
	return s.inner.Delete(ctx, s.prefix+key)
}
