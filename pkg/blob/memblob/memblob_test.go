package memblob

import (
	"context"
	"errors"
	"testing"

	"github.com/MrWong99/convene/pkg/blob"
)

func TestStore_PutResolveFetch(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()
	data := []byte("opus")

	if err := s.Put(ctx, "sessions/s1/f1.webm", data, "audio/webm"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	data[0] = 'X'

	url, err := s.ResolveURL(ctx, "sessions/s1/f1.webm")
	if err != nil {
		t.Fatalf("ResolveURL: %v", err)
	}
	if url != "mem://sessions/s1/f1.webm" {
		t.Errorf("url = %q", url)
	}

	got, ct, err := s.Fetch(ctx, url)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if string(got) != "opus" || ct != "audio/webm" {
		t.Errorf("Fetch = %q (%s); stored data must be a copy", got, ct)
	}
	if s.Len() != 1 {
		t.Errorf("Len = %d", s.Len())
	}
}

func TestStore_Errors(t *testing.T) {
	t.Parallel()

	s := New()
	ctx := context.Background()

	if _, err := s.ResolveURL(ctx, "sessions/none"); !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("ResolveURL(missing) = %v", err)
	}
	if _, _, err := s.Fetch(ctx, "https://example.com/x"); err == nil {
		t.Error("Fetch(foreign url): expected error")
	}
	if _, _, err := s.Fetch(ctx, "mem://nope"); !errors.Is(err, blob.ErrNotFound) {
		t.Errorf("Fetch(missing) = %v", err)
	}
	if err := s.Put(ctx, "../escape", nil, ""); err == nil {
		t.Error("Put(../escape): expected error")
	}
}
