// Package stt defines the Provider interface for batch speech-to-text backends.
//
// A provider receives one complete recording (as captured by the browser,
// typically webm/opus) and returns its transcript. Recordings are short voice
// memos, so there is no streaming session model.
//
// Implementations must be safe for concurrent use.
package stt

import (
	"context"
	"time"
)

// Request is one recording to transcribe.
type Request struct {
	// Audio is the complete encoded recording.
	Audio []byte

	// MIMEType describes Audio (e.g., "audio/webm; codecs=opus").
	MIMEType string

	// Language is a BCP-47 hint. Empty lets the backend decide.
	Language string
}

// Transcript is the result of a transcription.
type Transcript struct {
	// Text is the transcribed speech.
	Text string

	// Language is the detected or requested language, when reported.
	Language string

	// Duration is the recording length, when reported.
	Duration time.Duration
}

// Provider is the abstraction over any batch STT backend.
type Provider interface {
	// Transcribe returns the transcript of req.Audio. Returns an error if the
	// backend is unreachable or rejects the recording.
	Transcribe(ctx context.Context, req Request) (*Transcript, error)
}
