// Package media converts binary participant media into inline model parts
// and classifies payloads by MIME type.
package media

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/MrWong99/convene/pkg/types"
)

// MaxInlineBytes caps the payload size accepted by [ToInlinePart]. Inline
// requests to the model APIs are limited to roughly 20 MiB.
const MaxInlineBytes = 20 << 20

// ToInlinePart reads r fully and returns a part carrying its base64 encoding.
//
// When mimeType is empty it is sniffed from the payload. Read failures, empty
// or oversized payloads and malformed MIME types fail with
// [types.ErrMediaRead].
func ToInlinePart(r io.Reader, mimeType string) (types.Part, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxInlineBytes+1))
	if err != nil {
		return types.Part{}, types.Wrap(types.ErrMediaRead, "media: read", err)
	}
	return BytesToInlinePart(data, mimeType)
}

// BytesToInlinePart is [ToInlinePart] for an in-memory payload.
func BytesToInlinePart(data []byte, mimeType string) (types.Part, error) {
	if len(data) == 0 {
		return types.Part{}, types.Errorf(types.ErrMediaRead, "media: read", "empty payload")
	}
	if len(data) > MaxInlineBytes {
		return types.Part{}, types.Errorf(types.ErrMediaRead, "media: read", "payload exceeds %d bytes", MaxInlineBytes)
	}
	mt, err := NormalizeMIME(mimeType, data)
	if err != nil {
		return types.Part{}, types.Wrap(types.ErrMediaRead, "media: mime", err)
	}
	return types.Part{Inline: &types.InlineData{
		Data:     base64.StdEncoding.EncodeToString(data),
		MIMEType: mt,
	}}, nil
}

// NormalizeMIME validates mimeType and strips its parameters, except for the
// codecs parameter which models use to pick a decoder. An empty mimeType is
// sniffed from data.
func NormalizeMIME(mimeType string, data []byte) (string, error) {
	if strings.TrimSpace(mimeType) == "" {
		if len(data) == 0 {
			return "", fmt.Errorf("cannot detect type of empty payload")
		}
		mimeType = sniff(data)
	}
	mt, params, err := mime.ParseMediaType(mimeType)
	if err != nil {
		return "", fmt.Errorf("parse %q: %w", mimeType, err)
	}
	if c, ok := params["codecs"]; ok && c != "" {
		return mime.FormatMediaType(mt, map[string]string{"codecs": c}), nil
	}
	return mt, nil
}

// sniff detects the payload type from its magic bytes. Bare EBML and Ogg
// containers are what browser recorders produce, so they are reported as
// audio.
func sniff(data []byte) string {
	switch {
	case bytes.HasPrefix(data, []byte{0x1A, 0x45, 0xDF, 0xA3}):
		return "audio/webm"
	case bytes.HasPrefix(data, []byte("OggS")):
		return "audio/ogg"
	}
	return mimetype.Detect(data).String()
}

// Decode returns the raw bytes of an inline part.
func Decode(p types.Part) ([]byte, error) {
	if p.Inline == nil {
		return nil, types.Errorf(types.ErrMediaRead, "media: decode", "part carries no inline data")
	}
	b, err := base64.StdEncoding.DecodeString(p.Inline.Data)
	if err != nil {
		return nil, types.Wrap(types.ErrMediaRead, "media: decode", err)
	}
	return b, nil
}
