package wsapi

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/jasonzhangf/finger/internal/logger"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	// The control plane and its event stream are same-origin by design
	// (served by the same fingerd process); origin checks are left to a
	// reverse proxy in front of it, matching the teacher's gateway setup.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades GET /ws to a WebSocket connection and spawns the
// client's read/write pumps, registering it with hub.
func Handler(hub *Hub, log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			if log != nil {
				log.Warn("websocket upgrade failed")
			}
			return
		}

		client := NewClient(conn, hub, log)
		hub.Register(client)

		go client.WritePump()
		client.ReadPump()
	}
}
