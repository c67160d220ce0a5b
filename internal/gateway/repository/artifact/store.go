package artifact

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Store is the object store holding skeleton artifacts and refusal entries.
// Keys are flat strings; List returns every key that starts with prefix.
type Store interface {
	Exists(ctx context.Context, key string) (bool, error)
	Get(ctx context.Context, key string) ([]byte, error)
	Put(ctx context.Context, key string, content []byte) error
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}

var ErrNotFound = errors.New("artifact not found")

func normalizeKey(key string) (string, error) {
	key = strings.TrimLeft(strings.TrimSpace(key), "/")
	if key == "" {
		return "", fmt.Errorf("key is required")
	}
	return key, nil
}
