package routes

import (
	"fmt"
	"log/slog"
	"motion-grid/internal/broadcast"
	"motion-grid/internal/pipeline"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ScoresWebSocket pushes every live matrix to the client as a JSON text
// message. Slow clients skip results instead of queueing them.
func ScoresWebSocket(results *broadcast.Hub[*pipeline.Result]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			// Upgrade has already replied.
			slog.Debug(fmt.Sprintf("failed to upgrade connection: %s", err))
			return
		}
		defer conn.Close()

		latest, hasLatest := results.Latest()
		ch := results.Subscribe()
		defer results.Unsubscribe(ch)

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			conn.SetReadLimit(512)
			_ = conn.SetReadDeadline(time.Now().Add(pongWait))
			conn.SetPongHandler(func(string) error {
				return conn.SetReadDeadline(time.Now().Add(pongWait))
			})
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()

		if hasLatest {
			if err := writeScores(conn, latest); err != nil {
				return
			}
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case <-closed:
				return
			case result, ok := <-ch:
				if !ok {
					_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""), time.Now().Add(writeWait))
					return
				}
				if err := writeScores(conn, result); err != nil {
					slog.Debug(fmt.Sprintf("failed to write scores: %s", err))
					return
				}
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
					return
				}
			}
		}
	}
}

func writeScores(conn *websocket.Conn, result *pipeline.Result) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(newScoresResponse(result))
}
