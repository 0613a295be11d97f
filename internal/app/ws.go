package app

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"donorbase/api/internal/collab"
	"donorbase/api/internal/store"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// CORS policy is enforced by the surrounding middleware.
	CheckOrigin: func(*http.Request) bool { return true },
}

// clientMessage is what the browser sends over the session socket.
type clientMessage struct {
	Type          string `json:"type"`
	ComponentPath string `json:"componentPath"`
}

// enqueueView buffers a view for the socket writer. When the writer is
// behind, the oldest buffered view is evicted so the freshest state is never
// lost; a stalled client that resumes reading always catches up to it.
func enqueueView(views chan collab.View, view collab.View) {
	for {
		select {
		case views <- view:
			return
		default:
		}
		select {
		case <-views:
		default:
		}
	}
}

// handleSessionSocket streams session views to one consumer and relays their
// typing state back onto the feed. Closing the socket leaves the session.
func (s *HTTPServer) handleSessionSocket(w http.ResponseWriter, r *http.Request, actor store.Actor, documentID string) {
	session, err := s.service.OpenSession(r.Context(), actor, documentID)
	if err != nil {
		s.writeServiceError(w, err)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		session.Close()
		return
	}

	views := make(chan collab.View, 16)
	session.OnChange(func(view collab.View) {
		enqueueView(views, view)
	})

	stop := make(chan struct{})
	go func() {
		_ = conn.WriteJSON(viewPayload(session.View()))
		for {
			select {
			case view := <-views:
				if err := conn.WriteJSON(viewPayload(view)); err != nil {
					return
				}
			case <-session.Done():
				return
			case <-stop:
				return
			}
		}
	}()

	for {
		var msg clientMessage
		if err := conn.ReadJSON(&msg); err != nil {
			break
		}
		switch msg.Type {
		case "typing":
			s.service.PublishTyping(r.Context(), actor, documentID, msg.ComponentPath, false)
		case "stop_typing":
			s.service.PublishTyping(r.Context(), actor, documentID, msg.ComponentPath, true)
		}
	}

	close(stop)
	session.Close()
	// The request context is gone once the client disconnects; clear the
	// actor's presence on a fresh one.
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	s.service.PublishLeft(ctx, actor, documentID)
	_ = conn.Close()
}
