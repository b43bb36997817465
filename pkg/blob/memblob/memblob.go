// Package memblob provides an in-process [blob.Store] for tests and local
// development. Resolved URLs use the mem:// scheme and can only be read back
// through the same Store, which also implements [blob.Fetcher].
package memblob

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/MrWong99/convene/pkg/blob"
)

const scheme = "mem://"

var (
	_ blob.Store   = (*Store)(nil)
	_ blob.Fetcher = (*Store)(nil)
)

type object struct {
	data        []byte
	contentType string
}

// Store keeps objects in a map guarded by a mutex. The zero value is not
// usable; call [New].
type Store struct {
	mu      sync.RWMutex
	objects map[string]object
}

// New returns an empty Store.
func New() *Store {
	return &Store{objects: make(map[string]object)}
}

// Put implements [blob.Store]. The data slice is copied.
func (s *Store) Put(_ context.Context, storagePath string, data []byte, contentType string) error {
	p, err := blob.CleanPath(storagePath)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[p] = object{data: append([]byte(nil), data...), contentType: contentType}
	return nil
}

// ResolveURL implements [blob.Store].
func (s *Store) ResolveURL(_ context.Context, storagePath string) (string, error) {
	p, err := blob.CleanPath(storagePath)
	if err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.objects[p]; !ok {
		return "", fmt.Errorf("memblob: %s: %w", p, blob.ErrNotFound)
	}
	return scheme + p, nil
}

// Fetch implements [blob.Fetcher] for mem:// URLs.
func (s *Store) Fetch(_ context.Context, url string) ([]byte, string, error) {
	p, ok := strings.CutPrefix(url, scheme)
	if !ok {
		return nil, "", fmt.Errorf("memblob: unsupported url %q", url)
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[p]
	if !ok {
		return nil, "", fmt.Errorf("memblob: %s: %w", p, blob.ErrNotFound)
	}
	return append([]byte(nil), obj.data...), obj.contentType, nil
}

// Len returns the number of stored objects.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
