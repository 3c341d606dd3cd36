package wsapi

import (
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
)

// Transport is the minimal duplex-framing surface Handler needs: read
// one client frame at a time, write one server frame at a time, and
// close. Accepting this interface (rather than *websocket.Conn
// directly) lets handler tests drive the protocol state machine with
// an in-memory fake instead of a real socket.
type Transport interface {
	ReadFrame() (Frame, error)
	WriteFrame(Frame) error
	Close() error
}

// wsTransport adapts a gorilla/websocket connection to Transport,
// framing every message as a single JSON text frame.
type wsTransport struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
}

// NewWebSocketTransport wraps an established websocket connection.
// writeTimeout bounds every WriteFrame call so a stalled client can't
// block the handler's publish loop indefinitely.
func NewWebSocketTransport(conn *websocket.Conn, writeTimeout time.Duration) Transport {
	return &wsTransport{conn: conn, writeTimeout: writeTimeout}
}

func (t *wsTransport) ReadFrame() (Frame, error) {
	var f Frame
	_, data, err := t.conn.ReadMessage()
	if err != nil {
		return f, err
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return f, err
	}
	return f, nil
}

func (t *wsTransport) WriteFrame(f Frame) error {
	data, err := json.Marshal(f)
	if err != nil {
		return err
	}
	if t.writeTimeout > 0 {
		if err := t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout)); err != nil {
			return err
		}
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close()
}
