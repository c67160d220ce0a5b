// Package refusal persists the root ids whose skeletons can never be built.
package refusal

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	artifactrepo "skeletoncache/internal/gateway/repository/artifact"
	"skeletoncache/internal/skeleton"
)

const keyRoot = "refusal_list"

// Entry is one refused id. Entries never expire; only Remove clears them.
type Entry struct {
	Dataset string    `json:"dataset"`
	RootID  uint64    `json:"root_id,string"`
	Reason  string    `json:"reason,omitempty"`
	AddedAt time.Time `json:"added_at"`
}

type Options struct {
	// CacheTTL enables a local cache of positive answers. Zero keeps every
	// check authoritative.
	CacheTTL  time.Duration
	CacheSize int
	Now       func() time.Time
}

// List stores one blob per refused id in the artifact store. Every miss is
// answered by the store, so a completed Add is never missed later.
type List struct {
	store artifactrepo.Store
	known *expirable.LRU[string, struct{}]
	now   func() time.Time
}

func New(store artifactrepo.Store, opts Options) *List {
	l := &List{store: store, now: opts.Now}
	if l.now == nil {
		l.now = time.Now
	}
	if opts.CacheTTL > 0 {
		size := opts.CacheSize
		if size <= 0 {
			size = 4096
		}
		l.known = expirable.NewLRU[string, struct{}](size, nil, opts.CacheTTL)
	}
	return l
}

func entryKey(dataset string, rootID uint64) string {
	return path.Join(keyRoot, dataset, strconv.FormatUint(rootID, 10))
}

func storeErr(err error) error {
	return fmt.Errorf("%w: %w", skeleton.ErrStoreUnavailable, err)
}

func (l *List) Contains(ctx context.Context, dataset string, rootID uint64) (bool, error) {
	key := entryKey(dataset, rootID)
	if l.known != nil {
		if _, ok := l.known.Get(key); ok {
			return true, nil
		}
	}
	ok, err := l.store.Exists(ctx, key)
	if err != nil {
		return false, storeErr(err)
	}
	if ok && l.known != nil {
		l.known.Add(key, struct{}{})
	}
	return ok, nil
}

// Add records rootID as refused. It reports whether the entry is new; an
// already refused id is left untouched.
func (l *List) Add(ctx context.Context, dataset string, rootID uint64, reason string) (bool, error) {
	exists, err := l.Contains(ctx, dataset, rootID)
	if err != nil {
		return false, err
	}
	if exists {
		return false, nil
	}
	raw, err := json.Marshal(Entry{Dataset: dataset, RootID: rootID, Reason: reason, AddedAt: l.now().UTC()})
	if err != nil {
		return false, err
	}
	key := entryKey(dataset, rootID)
	if err := l.store.Put(ctx, key, raw); err != nil {
		return false, storeErr(err)
	}
	if l.known != nil {
		l.known.Add(key, struct{}{})
	}
	return true, nil
}

func (l *List) Remove(ctx context.Context, dataset string, rootID uint64) error {
	key := entryKey(dataset, rootID)
	if l.known != nil {
		l.known.Remove(key)
	}
	if err := l.store.Delete(ctx, key); err != nil && !errors.Is(err, artifactrepo.ErrNotFound) {
		return storeErr(err)
	}
	return nil
}

// Entries lists the refused ids of a dataset. Blobs that cannot be decoded
// are reported with only their id.
func (l *List) Entries(ctx context.Context, dataset string) ([]Entry, error) {
	prefix := keyRoot + "/" + dataset + "/"
	keys, err := l.store.List(ctx, prefix)
	if err != nil {
		return nil, storeErr(err)
	}
	out := make([]Entry, 0, len(keys))
	for _, key := range keys {
		id, err := strconv.ParseUint(strings.TrimPrefix(key, prefix), 10, 64)
		if err != nil {
			continue
		}
		entry := Entry{Dataset: dataset, RootID: id}
		raw, err := l.store.Get(ctx, key)
		if errors.Is(err, artifactrepo.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, storeErr(err)
		}
		var decoded Entry
		if json.Unmarshal(raw, &decoded) == nil {
			entry.Reason = decoded.Reason
			entry.AddedAt = decoded.AddedAt
		}
		out = append(out, entry)
	}
	return out, nil
}
