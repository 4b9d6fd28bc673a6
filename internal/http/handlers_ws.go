package httpx

import (
	"net/http"
	"time"

	"golang.org/x/net/websocket"

	"github.com/postpilot/postpilot-go/internal/fanout"
)

// WSHandler upgrades `GET /ws` requests and subscribes the connection to
// the fan-out hub. Query params: `room` (defaults to the scheduler room)
// and `account_id` (restricts job events to one account when set).
func WSHandler(hub *fanout.Hub) http.Handler {
	return websocket.Handler(func(conn *websocket.Conn) {
		// The server's read/write timeouts still apply to the hijacked
		// connection; clear them so subscriptions outlive 30s.
		_ = conn.SetDeadline(time.Time{})

		r := conn.Request()
		room := r.URL.Query().Get("room")
		accountID := r.URL.Query().Get("account_id")

		var scope *string
		if accountID != "" {
			scope = &accountID
		}

		hub.Serve(fanout.NewWebSocketConn(conn), room, scope)
	})
}
