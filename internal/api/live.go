package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/coder/websocket"

	"github.com/MrWong99/convene/internal/observe"
	"github.com/MrWong99/convene/internal/response"
)

// responses serves the response view of a slide. A WebSocket upgrade
// request gets a live feed with one JSON [response.View] per change; any
// other request gets the current view as a single JSON document.
func (s *Server) responses(w http.ResponseWriter, r *http.Request) {
	sessionID, slideID := r.PathValue("id"), r.PathValue("slide")
	if !isUpgrade(r) {
		view, err := s.svc.ViewResponses(r.Context(), sessionID, slideID)
		if err != nil {
			writeError(w, r, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.origins})
	if err != nil {
		// Accept has already written the response.
		observe.Logger(r.Context()).Debug("api: websocket accept failed", "err", err)
		return
	}
	defer conn.CloseNow()

	s.streamResponses(r.Context(), conn, sessionID, slideID)
}

// streamResponses pushes views to conn until the client goes away or the
// subscription fails. Only the newest pending view is kept, so a slow client
// skips intermediate states instead of queueing them.
func (s *Server) streamResponses(ctx context.Context, conn *websocket.Conn, sessionID, slideID string) {
	log := observe.Logger(ctx).With("session_id", sessionID, "slide_id", slideID)

	// Clients only listen; CloseRead handles control frames and cancels ctx
	// once the peer closes.
	ctx = conn.CloseRead(ctx)

	if s.metrics != nil {
		s.metrics.LiveViewers.Add(ctx, 1)
		defer s.metrics.LiveViewers.Add(context.WithoutCancel(ctx), -1)
	}

	pending := make(chan response.View, 1)
	failed := make(chan error, 1)
	cancel, err := s.svc.SubscribeToResponses(ctx, sessionID, slideID,
		func(v response.View) {
			select {
			case <-pending:
			default:
			}
			pending <- v
		},
		func(err error) {
			select {
			case failed <- err:
			default:
			}
		})
	if err != nil {
		log.Warn("api: subscribe responses failed", "err", err)
		conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cancel()

	for {
		select {
		case <-ctx.Done():
			return
		case err := <-failed:
			log.Warn("api: response feed failed", "err", err)
			conn.Close(websocket.StatusInternalError, "feed failed")
			return
		case v := <-pending:
			if err := s.writeView(ctx, conn, v); err != nil {
				if !errors.Is(err, context.Canceled) {
					log.Debug("api: write view failed", "err", err)
				}
				return
			}
		}
	}
}

func (s *Server) writeView(ctx context.Context, conn *websocket.Conn, v response.View) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
	defer cancel()
	return conn.Write(ctx, websocket.MessageText, data)
}

func isUpgrade(r *http.Request) bool {
	return strings.EqualFold(r.Header.Get("Upgrade"), "websocket")
}
