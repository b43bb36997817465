// Package blob defines the object storage abstraction used for recorded audio
// and uploaded documents.
//
// A [Store] writes payloads under a storage path and resolves a path to a
// URL that a [Fetcher] can read back. Resolved URLs are derived data: they
// may expire and are never written to the durable store.
//
// Implementations live in sub-packages:
//
//   - memblob: in-process, for tests and local development
//   - fsblob: local directory served over HTTP
//   - gcs: Google Cloud Storage with V4 signed URLs
package blob

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"
)

// ErrNotFound is returned when a storage path has no object.
var ErrNotFound = errors.New("blob: object not found")

// Store writes objects and resolves them to fetchable URLs.
//
// Implementations must be safe for concurrent use.
type Store interface {
	// Put writes data under storagePath, replacing any existing object.
	Put(ctx context.Context, storagePath string, data []byte, contentType string) error

	// ResolveURL returns a URL from which the object at storagePath can be
	// fetched. Returns an error wrapping [ErrNotFound] when the object does
	// not exist and the implementation can tell.
	ResolveURL(ctx context.Context, storagePath string) (string, error)
}

// Fetcher reads the bytes behind a resolved URL.
type Fetcher interface {
	// Fetch returns the body and the reported content type.
	Fetch(ctx context.Context, url string) ([]byte, string, error)
}

// SessionFilePath returns the canonical storage path for a file belonging to
// a session: sessions/{sessionID}/{fileID}.{ext}.
func SessionFilePath(sessionID, fileID, ext string) string {
	ext = strings.TrimPrefix(ext, ".")
	if ext == "" {
		ext = "bin"
	}
	return path.Join("sessions", sessionID, fileID+"."+ext)
}

// CleanPath validates a storage path and returns it in canonical form.
// Absolute paths and paths escaping the root are rejected.
func CleanPath(p string) (string, error) {
	if p == "" {
		return "", errors.New("blob: empty storage path")
	}
	if strings.HasPrefix(p, "/") {
		return "", fmt.Errorf("blob: storage path %q must be relative", p)
	}
	c := path.Clean(p)
	if c == "." || c == ".." || strings.HasPrefix(c, "../") {
		return "", fmt.Errorf("blob: storage path %q escapes the root", p)
	}
	return c, nil
}
