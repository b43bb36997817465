// Package fsblob stores objects in a local directory and serves them over
// HTTP. It suits single-node deployments that have no object store.
//
// Resolved URLs have the form {baseURL}/{storagePath}. The Store is also an
// [http.Handler] that serves those URLs when mounted under baseURL's path,
// and a [blob.Fetcher] that short-circuits its own URLs to a file read.
package fsblob

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/MrWong99/convene/pkg/blob"
)

var (
	_ blob.Store   = (*Store)(nil)
	_ blob.Fetcher = (*Store)(nil)
	_ http.Handler = (*Store)(nil)
)

// Store is a directory-backed blob store.
type Store struct {
	root    string
	baseURL string
}

// New returns a Store rooted at dir. The directory is created if missing.
// baseURL is the externally reachable prefix under which [Store.ServeHTTP]
// is mounted (e.g. "http://localhost:8080/blobs").
func New(dir, baseURL string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("fsblob: dir must not be empty")
	}
	if baseURL == "" {
		return nil, errors.New("fsblob: baseURL must not be empty")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("fsblob: create root: %w", err)
	}
	return &Store{root: dir, baseURL: strings.TrimSuffix(baseURL, "/")}, nil
}

func (s *Store) file(storagePath string) (string, string, error) {
	p, err := blob.CleanPath(storagePath)
	if err != nil {
		return "", "", err
	}
	return p, filepath.Join(s.root, filepath.FromSlash(p)), nil
}

// Put implements [blob.Store]. The write goes through a temporary file so
// readers never observe a partial object.
func (s *Store) Put(_ context.Context, storagePath string, data []byte, _ string) error {
	_, name, err := s.file(storagePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(name), 0o750); err != nil {
		return fmt.Errorf("fsblob: create dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(name), ".put-*")
	if err != nil {
		return fmt.Errorf("fsblob: create temp: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("fsblob: write: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("fsblob: close: %w", err)
	}
	if err := os.Rename(tmp.Name(), name); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("fsblob: rename: %w", err)
	}
	return nil
}

// ResolveURL implements [blob.Store].
func (s *Store) ResolveURL(_ context.Context, storagePath string) (string, error) {
	p, name, err := s.file(storagePath)
	if err != nil {
		return "", err
	}
	if _, err := os.Stat(name); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return "", fmt.Errorf("fsblob: %s: %w", p, blob.ErrNotFound)
		}
		return "", fmt.Errorf("fsblob: stat: %w", err)
	}
	return s.baseURL + "/" + p, nil
}

// Fetch implements [blob.Fetcher] for URLs produced by this Store.
func (s *Store) Fetch(_ context.Context, url string) ([]byte, string, error) {
	p, ok := strings.CutPrefix(url, s.baseURL+"/")
	if !ok {
		return nil, "", fmt.Errorf("fsblob: url %q is not served by this store", url)
	}
	_, name, err := s.file(p)
	if err != nil {
		return nil, "", err
	}
	data, err := os.ReadFile(name)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("fsblob: %s: %w", p, blob.ErrNotFound)
		}
		return nil, "", fmt.Errorf("fsblob: read: %w", err)
	}
	return data, contentTypeFor(p, data), nil
}

// ServeHTTP serves GET requests for stored objects. The request path,
// relative to the mount point, is the storage path.
func (s *Store) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	_, name, err := s.file(strings.TrimPrefix(r.URL.Path, "/"))
	if err != nil {
		http.Error(w, "bad path", http.StatusBadRequest)
		return
	}
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		w.Header().Set("Content-Type", ct)
	}
	http.ServeFile(w, r, name)
}

func contentTypeFor(p string, data []byte) string {
	if ct := mime.TypeByExtension(path.Ext(p)); ct != "" {
		return ct
	}
	return mimetype.Detect(data).String()
}
