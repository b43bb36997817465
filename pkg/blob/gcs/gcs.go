// Package gcs implements [blob.Store] on Google Cloud Storage. Objects are
// resolved to V4 signed GET URLs with a bounded lifetime, so the resolved
// URL must never be persisted.
package gcs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/storage"

	"github.com/MrWong99/convene/pkg/blob"
)

const defaultURLTTL = 15 * time.Minute

var _ blob.Store = (*Store)(nil)

// Option is a functional option for configuring a Store.
type Option func(*Store)

// WithURLTTL sets the lifetime of signed URLs. Defaults to 15 minutes.
func WithURLTTL(d time.Duration) Option {
	return func(s *Store) {
		if d > 0 {
			s.ttl = d
		}
	}
}

// WithClient injects an existing storage client. Close will close it.
func WithClient(c *storage.Client) Option {
	return func(s *Store) { s.client = c }
}

// Store writes objects into one bucket.
type Store struct {
	client *storage.Client
	bucket string
	ttl    time.Duration
	now    func() time.Time
}

// New returns a Store for bucket using Application Default Credentials
// unless a client is supplied with [WithClient].
func New(ctx context.Context, bucket string, opts ...Option) (*Store, error) {
	if bucket == "" {
		return nil, errors.New("gcs: bucket must not be empty")
	}
	s := &Store{bucket: bucket, ttl: defaultURLTTL, now: time.Now}
	for _, o := range opts {
		o(s)
	}
	if s.client == nil {
		c, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("gcs: create client: %w", err)
		}
		s.client = c
	}
	return s, nil
}

// Put implements [blob.Store].
func (s *Store) Put(ctx context.Context, storagePath string, data []byte, contentType string) error {
	p, err := blob.CleanPath(storagePath)
	if err != nil {
		return err
	}
	w := s.client.Bucket(s.bucket).Object(p).NewWriter(ctx)
	w.ContentType = contentType
	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return fmt.Errorf("gcs: write %s: %w", p, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("gcs: finalize %s: %w", p, err)
	}
	return nil
}

// ResolveURL implements [blob.Store]. The object's existence is checked
// before signing so a dangling reference surfaces as [blob.ErrNotFound].
func (s *Store) ResolveURL(ctx context.Context, storagePath string) (string, error) {
	p, err := blob.CleanPath(storagePath)
	if err != nil {
		return "", err
	}
	bkt := s.client.Bucket(s.bucket)
	if _, err := bkt.Object(p).Attrs(ctx); err != nil {
		if errors.Is(err, storage.ErrObjectNotExist) {
			return "", fmt.Errorf("gcs: %s: %w", p, blob.ErrNotFound)
		}
		return "", fmt.Errorf("gcs: stat %s: %w", p, err)
	}
	url, err := bkt.SignedURL(p, &storage.SignedURLOptions{
		Method:  "GET",
		Expires: s.now().Add(s.ttl),
		Scheme:  storage.SigningSchemeV4,
	})
	if err != nil {
		return "", fmt.Errorf("gcs: sign %s: %w", p, err)
	}
	return url, nil
}

// Ping checks that the bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	if _, err := s.client.Bucket(s.bucket).Attrs(ctx); err != nil {
		return fmt.Errorf("gcs: bucket %s: %w", s.bucket, err)
	}
	return nil
}

// Close releases the underlying client.
func (s *Store) Close() error {
	return s.client.Close()
}
