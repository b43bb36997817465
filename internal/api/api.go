// Package api exposes the facilitation operations over HTTP.
//
// Routes are registered on a standard [http.ServeMux] using method and
// wildcard patterns. Request and response bodies are JSON except for media
// uploads, which are multipart forms or raw bodies. The live response view
// of a slide is pushed over a WebSocket.
//
// Callers identify themselves with the X-User-ID header; authentication is
// left to the deployment in front of the server.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/MrWong99/convene/internal/assist"
	"github.com/MrWong99/convene/internal/facilitator"
	"github.com/MrWong99/convene/internal/observe"
	"github.com/MrWong99/convene/internal/response"
	"github.com/MrWong99/convene/pkg/media"
	"github.com/MrWong99/convene/pkg/store"
	"github.com/MrWong99/convene/pkg/types"
)

// UserHeader carries the caller's user id.
const UserHeader = "X-User-ID"

const (
	anonymousUser = "anonymous"

	// multipartOverhead is added to the media limit for form framing and
	// text fields.
	multipartOverhead = 1 << 20
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// Facilitator is the subset of [facilitator.Service] served by the API.
type Facilitator interface {
	CreateSession(ctx context.Context, req facilitator.NewSession) (*store.Session, error)
	GetSession(ctx context.Context, id string) (*store.Session, error)
	UpdateSession(ctx context.Context, sess store.Session, userID string) (*store.Session, error)
	ListNotes(ctx context.Context, sessionID string) ([]store.SessionNote, error)
	WatchSession(ctx context.Context, sessionID string) error

	SubmitRecording(ctx context.Context, rec facilitator.Recording) (*store.SessionNote, *store.Response, error)
	UploadDocument(ctx context.Context, up facilitator.Upload) (*store.SessionNote, error)

	ViewResponses(ctx context.Context, sessionID, slideID string) (response.View, error)
	SubscribeToResponses(ctx context.Context, sessionID, slideID string, onChange func(response.View), onError func(error)) (store.CancelFunc, error)
	SetTemporaryResponse(sessionID, slideID string, p response.Partial)

	TranscribeAudio(ctx context.Context, audio []byte, mimeType string) (string, error)
	ExtractText(ctx context.Context, data []byte, mimeType string) (string, error)
	GenerateSummary(ctx context.Context, text string) (*assist.Summary, error)
}

var _ Facilitator = (*facilitator.Service)(nil)

// Option configures a [Server].
type Option func(*Server)

// WithMetrics records live viewer counts to m.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Server) { s.metrics = m }
}

// WithMaxUploadBytes caps media payloads. Default: [media.MaxInlineBytes].
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUpload = n
		}
	}
}

// WithOriginPatterns sets the origins allowed to open the live response feed
// from a browser. Default: same origin only.
func WithOriginPatterns(patterns ...string) Option {
	return func(s *Server) { s.origins = patterns }
}

// WithWriteTimeout bounds each message written to a live feed.
// Default: 10s.
func WithWriteTimeout(d time.Duration) Option {
	return func(s *Server) { s.writeTimeout = d }
}

// Server serves the HTTP API. It is safe for concurrent use.
type Server struct {
	svc          Facilitator
	metrics      *observe.Metrics
	maxUpload    int64
	origins      []string
	writeTimeout time.Duration
}

// New returns a [Server] backed by svc.
func New(svc Facilitator, opts ...Option) *Server {
	s := &Server{
		svc:          svc,
		maxUpload:    media.MaxInlineBytes,
		writeTimeout: 10 * time.Second,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register adds all API routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/sessions", s.createSession)
	mux.HandleFunc("GET /v1/sessions/{id}", s.getSession)
	mux.HandleFunc("PUT /v1/sessions/{id}", s.updateSession)
	mux.HandleFunc("GET /v1/sessions/{id}/notes", s.listNotes)
	mux.HandleFunc("POST /v1/sessions/{id}/documents", s.uploadDocument)
	mux.HandleFunc("POST /v1/sessions/{id}/slides/{slide}/voice", s.sendVoice)
	mux.HandleFunc("GET /v1/sessions/{id}/slides/{slide}/responses", s.responses)
	mux.HandleFunc("PUT /v1/sessions/{id}/slides/{slide}/temporary", s.setTemporary)
	mux.HandleFunc("POST /v1/transcribe", s.transcribe)
	mux.HandleFunc("POST /v1/extract", s.extract)
	mux.HandleFunc("POST /v1/summary", s.summary)
}

// ── Helpers ──────────────────────────────────────────────────────────────────

// errorBody is the JSON body of every non-2xx response.
type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

// StatusFor maps an operation error to an HTTP status code.
func StatusFor(err error) int {
	switch {
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, facilitator.ErrInvalid), errors.Is(err, types.ErrMediaRead):
		return http.StatusBadRequest
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	case errors.Is(err, types.ErrMalformedOutput), errors.Is(err, types.ErrEmptyOutput), errors.Is(err, types.ErrTransport):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := StatusFor(err)
	body := errorBody{Error: err.Error()}
	if k := types.KindOf(err); k != nil {
		body.Kind = k.Error()
	}
	if status >= http.StatusInternalServerError {
		observe.Logger(r.Context()).Error("api: request failed", "status", status, "err", err)
	}
	writeJSON(w, status, body)
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, multipartOverhead))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		badRequest(w, "invalid JSON body: "+err.Error())
		return false
	}
	if err := validate.Struct(v); err != nil {
		var fields validator.ValidationErrors
		if errors.As(err, &fields) {
			badRequest(w, "invalid request: "+fields.Error())
			return false
		}
		observe.Logger(r.Context()).Warn("api: request validation failed", "err", err)
	}
	return true
}

func userID(r *http.Request) string {
	if u := r.Header.Get(UserHeader); u != "" {
		return u
	}
	return anonymousUser
}

// readBody reads a raw media body up to the upload limit.
func (s *Server) readBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.maxUpload))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "payload too large"})
			return nil, false
		}
		badRequest(w, "read body: "+err.Error())
		return nil, false
	}
	if len(data) == 0 {
		badRequest(w, "empty body")
		return nil, false
	}
	return data, true
}

// readFormFile parses a multipart form and returns the named file's bytes
// and content type.
func (s *Server) readFormFile(w http.ResponseWriter, r *http.Request, field string) ([]byte, string, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload+multipartOverhead)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "payload too large"})
			return nil, "", false
		}
		badRequest(w, "invalid multipart form: "+err.Error())
		return nil, "", false
	}
	f, hdr, err := r.FormFile(field)
	if err != nil {
		badRequest(w, "missing form file "+field)
		return nil, "", false
	}
	defer f.Close()
	data, err := io.ReadAll(io.LimitReader(f, s.maxUpload+1))
	if err != nil {
		badRequest(w, "read form file: "+err.Error())
		return nil, "", false
	}
	if int64(len(data)) > s.maxUpload {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorBody{Error: "payload too large"})
		return nil, "", false
	}
	return data, hdr.Header.Get("Content-Type"), true
}
