package artifact

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	artifactrepo "skeletoncache/internal/gateway/repository/artifact"
)

type Store = artifactrepo.Store

// CacheConfig bounds the optional read cache of artifact bodies. Zero
// BlobMaxEntries disables it, leaving a pure counting decorator.
type CacheConfig struct {
	BlobTTL        time.Duration
	BlobMaxEntries int
	// BlobMaxBytes skips caching bodies larger than this; zero means no limit.
	BlobMaxBytes int
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{
		BlobTTL:        5 * time.Minute,
		BlobMaxEntries: 256,
		BlobMaxBytes:   8 * 1024 * 1024, // 8MiB
	}
}

type MetricsSnapshot struct {
	BlobHits       uint64
	BlobMisses     uint64
	OriginExists   uint64
	OriginReads    uint64
	OriginWrites   uint64
	OriginLists    uint64
	OriginDeletes  uint64
	OriginReadErr  uint64
	OriginWriteErr uint64
}

type Metrics struct {
	blobHits       atomic.Uint64
	blobMisses     atomic.Uint64
	originExists   atomic.Uint64
	originReads    atomic.Uint64
	originWrites   atomic.Uint64
	originLists    atomic.Uint64
	originDeletes  atomic.Uint64
	originReadErr  atomic.Uint64
	originWriteErr atomic.Uint64
}

func (m *Metrics) snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		BlobHits:       m.blobHits.Load(),
		BlobMisses:     m.blobMisses.Load(),
		OriginExists:   m.originExists.Load(),
		OriginReads:    m.originReads.Load(),
		OriginWrites:   m.originWrites.Load(),
		OriginLists:    m.originLists.Load(),
		OriginDeletes:  m.originDeletes.Load(),
		OriginReadErr:  m.originReadErr.Load(),
		OriginWriteErr: m.originWriteErr.Load(),
	}
}

// CachedStore counts every origin round-trip and optionally serves
// artifact bodies from memory. Only immutable skeleton artifacts (".gz"
// keys) are cached; Exists and List always reach the origin.
type CachedStore struct {
	origin Store

	blobCache    *expirable.LRU[string, []byte]
	blobMaxBytes int
	metrics      Metrics
}

func NewCachedStore(origin Store, cfg CacheConfig) *CachedStore {
	s := &CachedStore{origin: origin, blobMaxBytes: cfg.BlobMaxBytes}
	if cfg.BlobMaxEntries > 0 {
		ttl := cfg.BlobTTL
		if ttl <= 0 {
			ttl = DefaultCacheConfig().BlobTTL
		}
		s.blobCache = expirable.NewLRU[string, []byte](cfg.BlobMaxEntries, nil, ttl)
	}
	return s
}

func (s *CachedStore) Exists(ctx context.Context, key string) (bool, error) {
	s.metrics.originExists.Add(1)
	ok, err := s.origin.Exists(ctx, key)
	if err != nil {
		s.metrics.originReadErr.Add(1)
	}
	return ok, err
}

func (s *CachedStore) Put(ctx context.Context, key string, content []byte) error {
	s.metrics.originWrites.Add(1)
	if err := s.origin.Put(ctx, key, content); err != nil {
		s.metrics.originWriteErr.Add(1)
		return err
	}
	s.remember(key, content)
	return nil
}

func (s *CachedStore) Get(ctx context.Context, key string) ([]byte, error) {
	if s.cacheable(key) {
		if raw, ok := s.blobCache.Get(key); ok {
			s.metrics.blobHits.Add(1)
			return append([]byte(nil), raw...), nil
		}
		s.metrics.blobMisses.Add(1)
	}
	s.metrics.originReads.Add(1)
	raw, err := s.origin.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, artifactrepo.ErrNotFound) {
			s.metrics.originReadErr.Add(1)
		}
		return nil, err
	}
	s.remember(key, raw)
	return raw, nil
}

func (s *CachedStore) List(ctx context.Context, prefix string) ([]string, error) {
	s.metrics.originLists.Add(1)
	keys, err := s.origin.List(ctx, prefix)
	if err != nil {
		s.metrics.originReadErr.Add(1)
	}
	return keys, err
}

func (s *CachedStore) Delete(ctx context.Context, key string) error {
	s.metrics.originDeletes.Add(1)
	if s.blobCache != nil {
		s.blobCache.Remove(key)
	}
	if err := s.origin.Delete(ctx, key); err != nil {
		s.metrics.originWriteErr.Add(1)
		return err
	}
	return nil
}

func (s *CachedStore) cacheable(key string) bool {
	return s.blobCache != nil && strings.HasSuffix(key, ".gz")
}

func (s *CachedStore) remember(key string, content []byte) {
	if !s.cacheable(key) {
		return
	}
	if s.blobMaxBytes > 0 && len(content) > s.blobMaxBytes {
		return
	}
	s.blobCache.Add(key, append([]byte(nil), content...))
}

func (s *CachedStore) Metrics() MetricsSnapshot {
	if s == nil {
		return MetricsSnapshot{}
	}
	return s.metrics.snapshot()
}
