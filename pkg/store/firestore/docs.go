package firestore

import (
	"time"

	"github.com/MrWong99/convene/pkg/store"
)

// Document shapes. Field names follow the collections written by the
// browser client so both can share one database.

type slideDoc struct {
	ID                string `firestore:"id"`
	Title             string `firestore:"title"`
	Duration          int    `firestore:"duration"`
	AgentInstructions string `firestore:"agentInstructions"`
	FacilitatorNotes  string `firestore:"facilitatorNotes"`
	Color             string `firestore:"color,omitempty"`
}

type sessionDoc struct {
	Title       string     `firestore:"title"`
	ScheduledAt time.Time  `firestore:"scheduledAt"`
	Template    bool       `firestore:"template"`
	Slides      []slideDoc `firestore:"slides"`
	CreatedAt   time.Time  `firestore:"createdAt,serverTimestamp"`
	CreatedBy   string     `firestore:"createdBy"`
	UpdatedAt   time.Time  `firestore:"updatedAt,serverTimestamp"`
	UpdatedBy   string     `firestore:"updatedBy"`
}

// fileDoc has no url field: resolved URLs never reach the database.
type fileDoc struct {
	ID          string    `firestore:"id"`
	SessionID   string    `firestore:"sessionId"`
	Type        string    `firestore:"type"`
	StoragePath string    `firestore:"storagePath"`
	MIMEType    string    `firestore:"mimeType,omitempty"`
	CreatedAt   time.Time `firestore:"createdAt"`
	CreatedBy   string    `firestore:"createdBy"`
}

type noteDoc struct {
	SessionID         string    `firestore:"sessionId"`
	FullText          string    `firestore:"fullText"`
	FullTextModelUsed string    `firestore:"fullTextModelUsed"`
	Title             string    `firestore:"title"`
	TitleModelUsed    string    `firestore:"titleModelUsed"`
	Summary           string    `firestore:"summary"`
	SummaryModelUsed  string    `firestore:"summaryModelUsed"`
	Emoji             string    `firestore:"emoji"`
	File              *fileDoc  `firestore:"file"`
	CreatedAt         time.Time `firestore:"createdAt,serverTimestamp"`
	CreatedBy         string    `firestore:"createdBy"`
	UpdatedAt         time.Time `firestore:"updatedAt,serverTimestamp"`
	UpdatedBy         string    `firestore:"updatedBy"`
}

type sectionDoc struct {
	Emoji       string `firestore:"emoji"`
	Title       string `firestore:"title"`
	Description string `firestore:"description"`
}

type thinkingDoc struct {
	Title   string `firestore:"title"`
	Summary string `firestore:"summary"`
}

type responseDoc struct {
	SessionID        string        `firestore:"sessionId"`
	SlideID          string        `firestore:"slideId"`
	UserID           string        `firestore:"userId"`
	Sections         []sectionDoc  `firestore:"sections"`
	Thinking         string        `firestore:"thinking,omitempty"`
	ThinkingSections []thinkingDoc `firestore:"thinkingSections,omitempty"`
	CreatedAt        time.Time     `firestore:"createdAt,serverTimestamp"`
}

// ── Conversions ──────────────────────────────────────────────────────────────

// provenanceFromDoc maps stored model tags, including the legacy "browser"
// value, onto provenance tags.
func provenanceFromDoc(v string) store.Provenance {
	switch v {
	case "":
		return store.ProvenanceNone
	case "browser", string(store.ProvenanceDeviceLocal):
		return store.ProvenanceDeviceLocal
	default:
		return store.ProvenanceModel
	}
}

// fileKindFromDoc maps stored file types, including the legacy "pdf" value.
func fileKindFromDoc(v string) store.FileKind {
	switch v {
	case "audio":
		return store.FileAudio
	case "image":
		return store.FileImage
	default:
		return store.FileDocument
	}
}

func toSessionDoc(s store.Session) sessionDoc {
	d := sessionDoc{
		Title:       s.Title,
		ScheduledAt: s.ScheduledAt,
		Template:    s.Template,
		Slides:      make([]slideDoc, 0, len(s.Slides)),
		CreatedBy:   s.CreatedBy,
		UpdatedBy:   s.UpdatedBy,
	}
	for _, sl := range s.Slides {
		d.Slides = append(d.Slides, slideDoc(sl))
	}
	return d
}

func fromSessionDoc(id string, d sessionDoc) store.Session {
	s := store.Session{
		ID:          id,
		Title:       d.Title,
		ScheduledAt: d.ScheduledAt,
		Template:    d.Template,
		Slides:      make([]store.Slide, 0, len(d.Slides)),
		Audit: store.Audit{
			CreatedAt: d.CreatedAt,
			CreatedBy: d.CreatedBy,
			UpdatedAt: d.UpdatedAt,
			UpdatedBy: d.UpdatedBy,
		},
	}
	for _, sl := range d.Slides {
		if sl.Duration == 0 {
			sl.Duration = store.DefaultSlideDuration
		}
		s.Slides = append(s.Slides, store.Slide(sl))
	}
	return s
}

func toNoteDoc(n store.SessionNote) noteDoc {
	n = n.Persistable()
	d := noteDoc{
		SessionID:         n.SessionID,
		FullText:          n.FullText,
		FullTextModelUsed: string(n.FullTextSource),
		Title:             n.Title,
		TitleModelUsed:    string(n.TitleSource),
		Summary:           n.Summary,
		SummaryModelUsed:  string(n.SummarySource),
		Emoji:             n.Emoji,
		CreatedBy:         n.CreatedBy,
		UpdatedBy:         n.UpdatedBy,
	}
	if f := n.File; f != nil {
		d.File = &fileDoc{
			ID:          f.ID,
			SessionID:   f.SessionID,
			Type:        string(f.Kind),
			StoragePath: f.StoragePath,
			MIMEType:    f.MIMEType,
			CreatedAt:   f.CreatedAt,
			CreatedBy:   f.CreatedBy,
		}
	}
	return d
}

func fromNoteDoc(id string, d noteDoc) store.SessionNote {
	n := store.SessionNote{
		ID:             id,
		SessionID:      d.SessionID,
		FullText:       d.FullText,
		FullTextSource: provenanceFromDoc(d.FullTextModelUsed),
		Title:          d.Title,
		TitleSource:    provenanceFromDoc(d.TitleModelUsed),
		Summary:        d.Summary,
		SummarySource:  provenanceFromDoc(d.SummaryModelUsed),
		Emoji:          d.Emoji,
		Audit: store.Audit{
			CreatedAt: d.CreatedAt,
			CreatedBy: d.CreatedBy,
			UpdatedAt: d.UpdatedAt,
			UpdatedBy: d.UpdatedBy,
		},
	}
	if f := d.File; f != nil {
		n.File = &store.SessionFile{
			ID:          f.ID,
			SessionID:   f.SessionID,
			Kind:        fileKindFromDoc(f.Type),
			StoragePath: f.StoragePath,
			MIMEType:    f.MIMEType,
			CreatedAt:   f.CreatedAt,
			CreatedBy:   f.CreatedBy,
		}
	}
	return n
}

func toResponseDoc(r store.Response) responseDoc {
	d := responseDoc{
		SessionID: r.SessionID,
		SlideID:   r.SlideID,
		UserID:    r.UserID,
		Sections:  make([]sectionDoc, 0, len(r.Sections)),
		Thinking:  r.Thinking,
	}
	for _, s := range r.Sections {
		d.Sections = append(d.Sections, sectionDoc(s))
	}
	for _, ts := range r.ThinkingSections {
		d.ThinkingSections = append(d.ThinkingSections, thinkingDoc(ts))
	}
	return d
}

func fromResponseDoc(id string, d responseDoc) store.Response {
	r := store.Response{
		ID:        id,
		SessionID: d.SessionID,
		SlideID:   d.SlideID,
		UserID:    d.UserID,
		Sections:  make([]store.Section, 0, len(d.Sections)),
		Thinking:  d.Thinking,
		CreatedAt: d.CreatedAt,
	}
	for _, s := range d.Sections {
		r.Sections = append(r.Sections, store.Section(s))
	}
	for _, ts := range d.ThinkingSections {
		r.ThinkingSections = append(r.ThinkingSections, store.ThinkingSection(ts))
	}
	return r
}
