package whisper

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/convene/pkg/provider/stt"
)

func TestNew_EmptyURL(t *testing.T) {
	t.Parallel()
	if _, err := New(""); err == nil {
		t.Fatal("expected error for empty server URL")
	}
}

func TestTranscribe(t *testing.T) {
	t.Parallel()

	var gotLang, gotFilename string
	var gotAudio []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/inference" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		gotLang = r.FormValue("language")
		f, hdr, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		defer f.Close()
		gotFilename = hdr.Filename
		gotAudio, _ = io.ReadAll(f)
		_, _ = io.WriteString(w, `{"text":"  Hallo allemaal. ","language":"nl","duration":2.5}`)
	}))
	defer srv.Close()

	p, err := New(srv.URL + "/")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	tr, err := p.Transcribe(context.Background(), stt.Request{
		Audio:    []byte("webm-bytes"),
		MIMEType: "audio/webm; codecs=opus",
	})
	if err != nil {
		t.Fatalf("Transcribe: %v", err)
	}
	if tr.Text != "Hallo allemaal." {
		t.Errorf("Text = %q", tr.Text)
	}
	if tr.Duration.Seconds() != 2.5 {
		t.Errorf("Duration = %v", tr.Duration)
	}
	if gotLang != "nl" {
		t.Errorf("language = %q, want default nl", gotLang)
	}
	if gotFilename != "audio.webm" {
		t.Errorf("filename = %q", gotFilename)
	}
	if string(gotAudio) != "webm-bytes" {
		t.Errorf("audio = %q", gotAudio)
	}
}

func TestTranscribe_Errors(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = io.WriteString(w, `{"error":"failed to read audio"}`)
	}))
	defer srv.Close()

	ctx := context.Background()
	p, _ := New(srv.URL)

	if _, err := p.Transcribe(ctx, stt.Request{}); err == nil {
		t.Error("expected error for empty audio")
	}
	if _, err := p.Transcribe(ctx, stt.Request{Audio: []byte("x")}); err == nil || !strings.Contains(err.Error(), "failed to read audio") {
		t.Errorf("server error not surfaced: %v", err)
	}

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer failing.Close()

	p, _ = New(failing.URL)
	if _, err := p.Transcribe(ctx, stt.Request{Audio: []byte("x")}); err == nil {
		t.Error("expected error for HTTP 500")
	}
}
