package fanout

import (
	"golang.org/x/net/websocket"

	"github.com/postpilot/postpilot-go/internal/domain/model"
)

// InboundMessage is what subscribers may send upstream. Only ping is
// recognised.
type InboundMessage struct {
	Type string `json:"type"`
}

// Socket is one subscriber connection as the hub sees it. Production
// sockets wrap *websocket.Conn with the JSON codec; tests substitute
// in-memory fakes.
type Socket interface {
	Send(event model.Event) error
	Receive() (InboundMessage, error)
}

// WebSocketConn adapts a *websocket.Conn to the Socket interface.
type WebSocketConn struct {
	conn *websocket.Conn
}

var _ Socket = (*WebSocketConn)(nil)

// NewWebSocketConn wraps an upgraded websocket connection.
func NewWebSocketConn(conn *websocket.Conn) *WebSocketConn {
	return &WebSocketConn{conn: conn}
}

// Send writes one event as a JSON frame.
func (w *WebSocketConn) Send(event model.Event) error {
	return websocket.JSON.Send(w.conn, event)
}

// Receive reads the next JSON frame. Returns the peer's error (io.EOF on
// clean close) when the connection ends.
func (w *WebSocketConn) Receive() (InboundMessage, error) {
	var msg InboundMessage
	err := websocket.JSON.Receive(w.conn, &msg)
	return msg, err
}
