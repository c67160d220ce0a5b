package artifact

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// DiskStore persists artifacts as files under a local root directory.
// Slashes in a key become subdirectories.
type DiskStore struct {
	root string
}

func NewDiskStore(root string) *DiskStore {
	return &DiskStore{root: strings.TrimSpace(root)}
}

func (s *DiskStore) Exists(_ context.Context, key string) (bool, error) {
	fullPath, err := s.pathFor(key)
	if err != nil {
		return false, err
	}
	info, err := os.Stat(fullPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return false, nil
		}
		return false, err
	}
	return !info.IsDir(), nil
}

func (s *DiskStore) Put(_ context.Context, key string, content []byte) error {
	fullPath, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(fullPath), 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(fullPath), ".put-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(content); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), fullPath)
}

func (s *DiskStore) Get(_ context.Context, key string) ([]byte, error) {
	fullPath, err := s.pathFor(key)
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(fullPath)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return raw, err
}

func (s *DiskStore) List(_ context.Context, prefix string) ([]string, error) {
	if s == nil || s.root == "" {
		return nil, fmt.Errorf("root is required")
	}
	prefix = strings.TrimLeft(prefix, "/")
	keys := make([]string, 0, 32)
	walkErr := filepath.WalkDir(s.root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || strings.HasPrefix(d.Name(), ".put-") {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
		return nil
	})
	if walkErr != nil {
		if os.IsNotExist(walkErr) {
			return []string{}, nil
		}
		return nil, walkErr
	}
	sort.Strings(keys)
	return keys, nil
}

func (s *DiskStore) Delete(_ context.Context, key string) error {
	fullPath, err := s.pathFor(key)
	if err != nil {
		return err
	}
	if err := os.Remove(fullPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (s *DiskStore) pathFor(key string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("store is nil")
	}
	if s.root == "" {
		return "", fmt.Errorf("root is required")
	}
	key, err := normalizeKey(key)
	if err != nil {
		return "", err
	}
	if filepath.IsAbs(key) {
		return "", fmt.Errorf("invalid key: %s", key)
	}
	for _, seg := range strings.Split(key, "/") {
		if seg == ".." {
			return "", fmt.Errorf("invalid key: %s", key)
		}
	}
	return filepath.Join(s.root, filepath.FromSlash(key)), nil
}
