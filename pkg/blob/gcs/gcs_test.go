package gcs

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/MrWong99/convene/pkg/blob"
)

func TestNew_EmptyBucket(t *testing.T) {
	t.Parallel()

	if _, err := New(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty bucket")
	}
}

func TestWithURLTTL(t *testing.T) {
	t.Parallel()

	s := &Store{ttl: defaultURLTTL}
	WithURLTTL(0)(s)
	if s.ttl != defaultURLTTL {
		t.Errorf("zero TTL must keep default, got %v", s.ttl)
	}
	WithURLTTL(time.Hour)(s)
	if s.ttl != time.Hour {
		t.Errorf("ttl = %v", s.ttl)
	}
}

// TestStore_Emulator runs against a fake GCS server (for example
// fsouza/fake-gcs-server). The storage client picks the endpoint up from
// STORAGE_EMULATOR_HOST.
func TestStore_Emulator(t *testing.T) {
	bucket := os.Getenv("CONVENE_TEST_GCS_BUCKET")
	if os.Getenv("STORAGE_EMULATOR_HOST") == "" || bucket == "" {
		t.Skip("STORAGE_EMULATOR_HOST or CONVENE_TEST_GCS_BUCKET not set, skipping GCS integration test")
	}
	ctx := context.Background()
	s, err := New(ctx, bucket)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Put(ctx, "sessions/s1/f1.webm", []byte("opus"), "audio/webm"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	if _, err := s.ResolveURL(ctx, "sessions/s1/missing.webm"); !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("ResolveURL(missing) = %v, want ErrNotFound", err)
	}
}
