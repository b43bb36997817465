package api

import (
	"net/http"
	"time"

	"github.com/MrWong99/convene/internal/facilitator"
	"github.com/MrWong99/convene/internal/observe"
	"github.com/MrWong99/convene/internal/response"
	"github.com/MrWong99/convene/pkg/store"
)

// ── Sessions ─────────────────────────────────────────────────────────────────

type createSessionRequest struct {
	Title       string    `json:"title" validate:"required,max=200"`
	ScheduledAt time.Time `json:"scheduledAt"`
}

func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sess, err := s.svc.CreateSession(r.Context(), facilitator.NewSession{
		Title:       req.Title,
		ScheduledAt: req.ScheduledAt,
		UserID:      userID(r),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sess, err := s.svc.GetSession(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (s *Server) updateSession(w http.ResponseWriter, r *http.Request) {
	var sess store.Session
	if !decodeJSON(w, r, &sess) {
		return
	}
	id := r.PathValue("id")
	if sess.ID != "" && sess.ID != id {
		badRequest(w, "session id in body does not match path")
		return
	}
	sess.ID = id
	updated, err := s.svc.UpdateSession(r.Context(), sess, userID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// ── Notes ────────────────────────────────────────────────────────────────────

func (s *Server) listNotes(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	notes, err := s.svc.ListNotes(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.watch(r, id)
	writeJSON(w, http.StatusOK, notes)
}

func (s *Server) uploadDocument(w http.ResponseWriter, r *http.Request) {
	data, contentType, ok := s.readFormFile(w, r, "file")
	if !ok {
		return
	}
	id := r.PathValue("id")
	note, err := s.svc.UploadDocument(r.Context(), facilitator.Upload{
		SessionID: id,
		UserID:    userID(r),
		Data:      data,
		MIMEType:  contentType,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.watch(r, id)
	writeJSON(w, http.StatusCreated, note)
}

// watch starts enrichment for the session. Failures only cost enrichment,
// so they are logged rather than returned.
func (s *Server) watch(r *http.Request, sessionID string) {
	if err := s.svc.WatchSession(r.Context(), sessionID); err != nil {
		observe.Logger(r.Context()).Warn("api: enrichment watch failed", "session_id", sessionID, "err", err)
	}
}

// ── Facilitation ─────────────────────────────────────────────────────────────

type voiceResponse struct {
	Note     *store.SessionNote `json:"note"`
	Response *store.Response    `json:"response"`
}

func (s *Server) sendVoice(w http.ResponseWriter, r *http.Request) {
	audio, contentType, ok := s.readFormFile(w, r, "audio")
	if !ok {
		return
	}
	id := r.PathValue("id")
	note, resp, err := s.svc.SubmitRecording(r.Context(), facilitator.Recording{
		SessionID:  id,
		SlideID:    r.PathValue("slide"),
		UserID:     userID(r),
		Audio:      audio,
		MIMEType:   contentType,
		Transcript: r.FormValue("transcript"),
	})
	if note != nil {
		s.watch(r, id)
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, voiceResponse{Note: note, Response: resp})
}

func (s *Server) setTemporary(w http.ResponseWriter, r *http.Request) {
	var p response.Partial
	if !decodeJSON(w, r, &p) {
		return
	}
	s.svc.SetTemporaryResponse(r.PathValue("id"), r.PathValue("slide"), p)
	w.WriteHeader(http.StatusNoContent)
}

// ── Helpers ──────────────────────────────────────────────────────────────────

type textResponse struct {
	Text string `json:"text"`
}

type summaryRequest struct {
	Text string `json:"text" validate:"required"`
}

func (s *Server) transcribe(w http.ResponseWriter, r *http.Request) {
	data, ok := s.readBody(w, r)
	if !ok {
		return
	}
	text, err := s.svc.TranscribeAudio(r.Context(), data, r.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, textResponse{Text: text})
}

func (s *Server) extract(w http.ResponseWriter, r *http.Request) {
	data, ok := s.readBody(w, r)
	if !ok {
		return
	}
	text, err := s.svc.ExtractText(r.Context(), data, r.Header.Get("Content-Type"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, textResponse{Text: text})
}

func (s *Server) summary(w http.ResponseWriter, r *http.Request) {
	var req summaryRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	sum, err := s.svc.GenerateSummary(r.Context(), req.Text)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}
