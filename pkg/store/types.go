package store

import (
	"time"
)

// Provenance records which process produced a derived note field.
type Provenance string

const (
	// ProvenanceNone marks a field that has not been derived yet.
	ProvenanceNone Provenance = ""

	// ProvenanceDeviceLocal marks a field produced on the capturing device,
	// e.g. a live speech-recognition transcript.
	ProvenanceDeviceLocal Provenance = "device-local"

	// ProvenanceModel marks a field produced by a generative model.
	ProvenanceModel Provenance = "model-derived"
)

// FileKind classifies stored media.
type FileKind string

const (
	FileDocument FileKind = "document"
	FileImage    FileKind = "image"
	FileAudio    FileKind = "audio"
)

// DefaultSlideDuration is the duration in minutes assigned to new slides.
const DefaultSlideDuration = 15

// Audit carries creation and modification metadata.
type Audit struct {
	CreatedAt time.Time `json:"createdAt"`
	CreatedBy string    `json:"createdBy"`
	UpdatedAt time.Time `json:"updatedAt"`
	UpdatedBy string    `json:"updatedBy"`
}

// Slide is one step of a session's agenda.
type Slide struct {
	ID    string `json:"id"`
	Title string `json:"title"`

	// Duration is the planned length in minutes.
	Duration int `json:"duration"`

	// AgentInstructions are injected into every model turn made on this slide.
	AgentInstructions string `json:"agentInstructions"`

	FacilitatorNotes string `json:"facilitatorNotes"`
	Color            string `json:"color,omitempty"`
}

// Session is a facilitated meeting with an ordered agenda of slides. Updates
// replace the whole document.
type Session struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	ScheduledAt time.Time `json:"scheduledAt"`
	Template    bool      `json:"template"`
	Slides      []Slide   `json:"slides"`
	Audit
}

// Slide returns the slide with id, or false when the session has none.
func (s *Session) Slide(id string) (Slide, bool) {
	for _, sl := range s.Slides {
		if sl.ID == id {
			return sl, true
		}
	}
	return Slide{}, false
}

// SessionFile references media stored in the blob store.
type SessionFile struct {
	ID          string    `json:"id"`
	SessionID   string    `json:"sessionId"`
	Kind        FileKind  `json:"type"`
	StoragePath string    `json:"storagePath"`
	MIMEType    string    `json:"mimeType,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
	CreatedBy   string    `json:"createdBy"`

	// URL is a resolved download address cached for the lifetime of the
	// in-memory record. It is never persisted.
	URL string `json:"-"`
}

// Persistable returns a copy of f safe to write to a store.
func (f SessionFile) Persistable() SessionFile {
	f.URL = ""
	return f
}

// SessionNote is one captured participant input and its derived fields.
type SessionNote struct {
	ID        string `json:"id"`
	SessionID string `json:"sessionId"`

	FullText       string     `json:"fullText"`
	FullTextSource Provenance `json:"fullTextModelUsed,omitempty"`

	Title       string     `json:"title"`
	TitleSource Provenance `json:"titleModelUsed,omitempty"`

	Summary       string     `json:"summary"`
	SummarySource Provenance `json:"summaryModelUsed,omitempty"`

	Emoji string       `json:"emoji,omitempty"`
	File  *SessionFile `json:"file,omitempty"`
	Audit
}

// Persistable returns a copy of n whose file reference carries no URL.
func (n SessionNote) Persistable() SessionNote {
	if n.File != nil {
		f := n.File.Persistable()
		n.File = &f
	}
	return n
}

// Enriched reports whether n needs no further enrichment: its transcript is
// model-derived and both title and summary are present.
func (n SessionNote) Enriched() bool {
	return n.FullTextSource == ProvenanceModel && n.Title != "" && n.Summary != ""
}

// NotePatch is a sparse update of a note's derived fields. Nil fields are
// left untouched. Stores stamp UpdatedAt themselves.
type NotePatch struct {
	FullText       *string
	FullTextSource *Provenance
	Title          *string
	TitleSource    *Provenance
	Summary        *string
	SummarySource  *Provenance
	Emoji          *string
	UpdatedBy      string
}

// IsEmpty reports whether p changes no field.
func (p NotePatch) IsEmpty() bool {
	return p.FullText == nil && p.FullTextSource == nil &&
		p.Title == nil && p.TitleSource == nil &&
		p.Summary == nil && p.SummarySource == nil &&
		p.Emoji == nil
}

// Apply merges p into n in place.
func (p NotePatch) Apply(n *SessionNote) {
	if p.FullText != nil {
		n.FullText = *p.FullText
	}
	if p.FullTextSource != nil {
		n.FullTextSource = *p.FullTextSource
	}
	if p.Title != nil {
		n.Title = *p.Title
	}
	if p.TitleSource != nil {
		n.TitleSource = *p.TitleSource
	}
	if p.Summary != nil {
		n.Summary = *p.Summary
	}
	if p.SummarySource != nil {
		n.SummarySource = *p.SummarySource
	}
	if p.Emoji != nil {
		n.Emoji = *p.Emoji
	}
	if p.UpdatedBy != "" {
		n.UpdatedBy = p.UpdatedBy
	}
}

// Section is one block of a model response.
type Section struct {
	Emoji       string `json:"emoji"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// ThinkingSection is a heading and summary lifted from model thinking text.
type ThinkingSection struct {
	Title   string `json:"title"`
	Summary string `json:"summary"`
}

// Response is a committed model answer for one slide. It is immutable once
// written.
type Response struct {
	ID               string            `json:"id"`
	SessionID        string            `json:"sessionId"`
	SlideID          string            `json:"slideId"`
	UserID           string            `json:"userId"`
	Sections         []Section         `json:"sections"`
	Thinking         string            `json:"thinking,omitempty"`
	ThinkingSections []ThinkingSection `json:"thinkingSections,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
}
