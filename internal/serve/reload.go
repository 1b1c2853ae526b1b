package serve

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// ReloadPath is the endpoint browsers connect to for reload notifications.
const ReloadPath = "/_trunk/ws"

var reloadMessage = []byte(`{"reload": true}`)

var reloadUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// handleReload sends one reload message per build-done event until the
// client sends anything, disconnects, or the build-done channel goes away.
func (s *State) handleReload(w http.ResponseWriter, r *http.Request) {
	// Subscribe before the upgrade so no event after the handshake is missed.
	rx := s.BuildDone.Subscribe()
	defer rx.Close()

	conn, err := reloadUpgrader.Upgrade(w, r, nil)
	if err != nil {
		s.Logger.Debug("Autoreload upgrade failed", slog.String("err", err.Error()))
		return
	}
	defer conn.Close()

	s.Logger.Debug("Autoreload websocket opened")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		_, _, _ = conn.NextReader()
	}()

	for {
		select {
		case <-closed:
			s.Logger.Debug("Autoreload websocket closed")
			return

		case _, ok := <-rx.C():
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
					time.Now().Add(time.Second))
				return
			}

			if err := conn.WriteMessage(websocket.TextMessage, reloadMessage); err != nil {
				return
			}
		}
	}
}
