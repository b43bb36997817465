package media

import (
	"mime"
	"strings"

	"github.com/MrWong99/convene/pkg/store"
)

// KindForMIME classifies a MIME type into a stored file kind. Anything that is
// neither audio nor an image is treated as a document.
func KindForMIME(mimeType string) store.FileKind {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(mimeType))
	}
	switch {
	case strings.HasPrefix(mt, "audio/"), mt == "video/webm":
		return store.FileAudio
	case strings.HasPrefix(mt, "image/"):
		return store.FileImage
	default:
		return store.FileDocument
	}
}

var extensions = map[string]string{
	"audio/webm":      "webm",
	"video/webm":      "webm",
	"audio/ogg":       "ogg",
	"audio/mpeg":      "mp3",
	"audio/mp4":       "m4a",
	"audio/wav":       "wav",
	"audio/x-wav":     "wav",
	"application/pdf": "pdf",
	"image/png":       "png",
	"image/jpeg":      "jpg",
	"image/webp":      "webp",
	"text/plain":      "txt",
}

// ExtensionForMIME returns the storage path suffix for mimeType. Unknown audio
// types map to "audio", other unknown types to "bin".
func ExtensionForMIME(mimeType string) string {
	mt, _, err := mime.ParseMediaType(mimeType)
	if err != nil {
		mt = strings.ToLower(strings.TrimSpace(mimeType))
	}
	if ext, ok := extensions[mt]; ok {
		return ext
	}
	if strings.HasPrefix(mt, "audio/") {
		return "audio"
	}
	return "bin"
}
