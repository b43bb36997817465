package facilitator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/MrWong99/convene/internal/observe"
	"github.com/MrWong99/convene/pkg/blob"
	"github.com/MrWong99/convene/pkg/media"
	"github.com/MrWong99/convene/pkg/store"
	"github.com/MrWong99/convene/pkg/types"
)

// ── Sessions ─────────────────────────────────────────────────────────────────

// NewSession describes a session to create.
type NewSession struct {
	Title       string
	ScheduledAt time.Time
	UserID      string
}

// CreateSession stores a new session with a single default slide and returns
// it with its assigned id.
func (s *Service) CreateSession(ctx context.Context, req NewSession) (*store.Session, error) {
	if strings.TrimSpace(req.Title) == "" {
		return nil, fmt.Errorf("facilitator: create session: %w: title must not be empty", ErrInvalid)
	}
	now := s.now()
	sess := store.Session{
		Title:       req.Title,
		ScheduledAt: req.ScheduledAt,
		Slides: []store.Slide{{
			ID:       uuid.NewString(),
			Title:    DefaultSlideTitle,
			Duration: store.DefaultSlideDuration,
			Color:    s.randomColor(),
		}},
		Audit: store.Audit{CreatedAt: now, CreatedBy: req.UserID, UpdatedAt: now, UpdatedBy: req.UserID},
	}
	id, err := s.store.CreateSession(ctx, sess)
	if err != nil {
		return nil, types.Wrap(types.ErrTransport, "facilitator: create session", err)
	}
	sess.ID = id
	observe.Logger(ctx).Info("facilitator: session created", "session_id", id, "user_id", req.UserID)
	return &sess, nil
}

// GetSession returns the session with id. Unknown ids yield an error
// matching [store.ErrNotFound].
func (s *Service) GetSession(ctx context.Context, id string) (*store.Session, error) {
	sess, err := s.store.GetSession(ctx, id)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, types.Wrap(types.ErrTransport, "facilitator: get session", err)
	}
	return sess, nil
}

// UpdateSession replaces the stored session with sess. Slides without an id
// are assigned one, and slides without a colour get a random one.
func (s *Service) UpdateSession(ctx context.Context, sess store.Session, userID string) (*store.Session, error) {
	if sess.ID == "" {
		return nil, fmt.Errorf("facilitator: update session: %w: id must not be empty", ErrInvalid)
	}
	for i := range sess.Slides {
		sl := &sess.Slides[i]
		if sl.ID == "" {
			sl.ID = uuid.NewString()
		}
		if sl.Color == "" {
			sl.Color = s.randomColor()
		}
		if sl.Duration <= 0 {
			sl.Duration = store.DefaultSlideDuration
		}
	}
	sess.UpdatedAt = s.now()
	sess.UpdatedBy = userID
	if err := s.store.UpdateSession(ctx, sess); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		return nil, types.Wrap(types.ErrTransport, "facilitator: update session", err)
	}
	return &sess, nil
}

func (s *Service) randomColor() string {
	s.randMu.Lock()
	defer s.randMu.Unlock()
	return Palette[s.rand.IntN(len(Palette))]
}

// WatchSession starts background enrichment of the session's notes. It is a
// no-op without an enricher or when the session is already watched.
func (s *Service) WatchSession(ctx context.Context, sessionID string) error {
	if s.enricher == nil {
		return nil
	}
	s.watchMu.Lock()
	defer s.watchMu.Unlock()
	if _, ok := s.watching[sessionID]; ok {
		return nil
	}
	cancel, err := s.enricher.Watch(context.WithoutCancel(ctx), sessionID)
	if err != nil {
		return err
	}
	s.watching[sessionID] = cancel
	return nil
}

// Close stops every enrichment watch.
func (s *Service) Close() error {
	s.watchMu.Lock()
	watching := s.watching
	s.watching = make(map[string]store.CancelFunc)
	s.watchMu.Unlock()
	for _, cancel := range watching {
		cancel()
	}
	return nil
}

// ── Notes ────────────────────────────────────────────────────────────────────

// ListNotes returns the session's notes, newest first.
func (s *Service) ListNotes(ctx context.Context, sessionID string) ([]store.SessionNote, error) {
	notes, err := s.store.ListNotes(ctx, store.Filter{SessionID: sessionID})
	if err != nil {
		return nil, types.Wrap(types.ErrTransport, "facilitator: list notes", err)
	}
	return notes, nil
}

// Recording is a captured voice message together with its device transcript.
type Recording struct {
	SessionID string
	SlideID   string
	UserID    string

	Audio    []byte
	MIMEType string

	// Transcript is the live transcript recorded on the device, if any.
	Transcript string
}

// SubmitRecording stores the recording as a note and then runs a
// facilitation turn for it. The note is kept even when the turn fails.
func (s *Service) SubmitRecording(ctx context.Context, rec Recording) (*store.SessionNote, *store.Response, error) {
	ctx, span := observe.StartSpan(ctx, "facilitator.submit_recording")
	defer span.End()

	transcript := strings.TrimSpace(rec.Transcript)
	source := store.ProvenanceNone
	if transcript != "" {
		source = store.ProvenanceDeviceLocal
	}
	note, err := s.storeNote(ctx, rec.SessionID, rec.UserID, rec.Audio, rec.MIMEType, transcript, source)
	if err != nil {
		return nil, nil, err
	}
	resp, err := s.SendVoiceMessage(ctx, VoiceMessage{
		SessionID:      rec.SessionID,
		SlideID:        rec.SlideID,
		UserID:         rec.UserID,
		Audio:          rec.Audio,
		MIMEType:       rec.MIMEType,
		TranscriptHint: transcript,
	})
	return note, resp, err
}

// Upload is a document or image contributed to a session.
type Upload struct {
	SessionID string
	UserID    string
	Data      []byte
	MIMEType  string
}

// UploadDocument stores the upload as a note. Its text, title and summary
// are filled in later by enrichment.
func (s *Service) UploadDocument(ctx context.Context, up Upload) (*store.SessionNote, error) {
	ctx, span := observe.StartSpan(ctx, "facilitator.upload_document")
	defer span.End()
	return s.storeNote(ctx, up.SessionID, up.UserID, up.Data, up.MIMEType, "", store.ProvenanceNone)
}

// storeNote uploads data under the session's storage prefix and records a
// note referencing it.
func (s *Service) storeNote(ctx context.Context, sessionID, userID string, data []byte, mimeType, text string, source store.Provenance) (*store.SessionNote, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("facilitator: store note: %w: session id must not be empty", ErrInvalid)
	}
	if len(data) == 0 {
		return nil, types.Errorf(types.ErrMediaRead, "facilitator: store note", "empty payload")
	}
	mimeType, err := media.NormalizeMIME(mimeType, data)
	if err != nil {
		return nil, types.Wrap(types.ErrMediaRead, "facilitator: store note", err)
	}

	fileID := uuid.NewString()
	path := blob.SessionFilePath(sessionID, fileID, media.ExtensionForMIME(mimeType))
	if err := s.blobs.Put(ctx, path, data, mimeType); err != nil {
		return nil, types.Wrap(types.ErrTransport, "facilitator: upload file", err)
	}

	now := s.now()
	note := store.SessionNote{
		ID:             uuid.NewString(),
		SessionID:      sessionID,
		FullText:       text,
		FullTextSource: source,
		File: &store.SessionFile{
			ID:          fileID,
			SessionID:   sessionID,
			Kind:        media.KindForMIME(mimeType),
			StoragePath: path,
			MIMEType:    mimeType,
			CreatedAt:   now,
			CreatedBy:   userID,
		},
		Audit: store.Audit{CreatedAt: now, CreatedBy: userID, UpdatedAt: now, UpdatedBy: userID},
	}
	if err := s.store.AddNote(ctx, note); err != nil {
		return nil, types.Wrap(types.ErrTransport, "facilitator: add note", err)
	}
	observe.Logger(ctx).Debug("facilitator: note stored", "note_id", note.ID, "session_id", sessionID, "kind", note.File.Kind)
	return &note, nil
}
