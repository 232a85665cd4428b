package api

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nugget/toolhost/internal/events"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPingPeriod = 30 * time.Second
	wsBuffer     = 64
)

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	list := []events.Event{}
	if s.recent != nil {
		list = s.recent.Snapshot()
	}
	w.Header().Set("Content-Type", "application/json")
	writeJSON(w, map[string]any{
		"events":      list,
		"subscribers": s.bus.SubscriberCount(),
		"dropped":     s.bus.Dropped(),
	}, s.logger)
}

// handleEventsWS streams bus events to a websocket client as JSON text
// frames. Repeated ?kind= parameters restrict the stream to those kinds.
// A slow client loses events rather than stalling the bus.
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s.bus == nil {
		s.errorResponse(w, http.StatusServiceUnavailable, "event bus not configured")
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade already wrote an HTTP error.
		s.logger.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	id := uuid.NewString()
	logger := s.logger.With("subscriber", id)

	kinds := r.URL.Query()["kind"]
	ch := s.bus.SubscribeKinds(wsBuffer, kinds...)
	defer s.bus.Unsubscribe(ch)
	logger.Info("event stream connected", "remote", r.RemoteAddr, "kinds", kinds)

	// Reader: only needed to notice the client going away.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					logger.Debug("event stream read ended", "error", err)
				}
				return
			}
		}
	}()

	hello := events.Event{
		Timestamp: time.Now(),
		Source:    events.SourceAPI,
		Kind:      "connected",
		Data:      map[string]any{"subscriber": id},
	}
	if err := s.writeEvent(conn, hello); err != nil {
		return
	}

	ping := time.NewTicker(wsPingPeriod)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-gone:
			logger.Info("event stream disconnected")
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			if err := s.writeEvent(conn, e); err != nil {
				logger.Debug("event stream write failed", "error", err)
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, e events.Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(wsWriteWait)); err != nil {
		return err
	}
	return conn.WriteJSON(e)
}
