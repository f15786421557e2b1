package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	liveWriteTimeout = 5 * time.Second
	livePingInterval = 30 * time.Second
)

// handleLive streams every frame result of a feed as a JSON text message until the
// client goes away or the feed is stopped.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	id, ok := pathFeedID(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		if s.logger != nil {
			s.logger.Warn("live websocket upgrade failed", "feed_id", id, "err", err)
		}
		return
	}
	defer conn.Close()

	results, release := s.feeds.Subscribe(id)
	defer release()

	// The reader only exists to notice the client closing.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(livePingInterval)
	defer ping.Stop()
	for {
		select {
		case res, more := <-results:
			if !more {
				msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "feed stopped")
				_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(liveWriteTimeout))
				return
			}
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := conn.WriteJSON(res); err != nil {
				if s.logger != nil {
					s.logger.Debug("live websocket write failed", "feed_id", id, "err", err)
				}
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(liveWriteTimeout)); err != nil {
				return
			}
		case <-closed:
			return
		case <-r.Context().Done():
			return
		}
	}
}
