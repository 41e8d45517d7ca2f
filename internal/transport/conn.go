package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Subprotocol is the WebSocket subprotocol name registered for ETP.
const Subprotocol = "etp"

// wsConn adapts a gorilla connection to the session.Conn contract. The
// session guarantees single-reader single-writer, so no extra locking is
// needed around the frame calls; closeOnce keeps Close idempotent.
type wsConn struct {
	conn         *websocket.Conn
	writeTimeout time.Duration
	closeOnce    sync.Once
	closeErr     error
}

func newWSConn(c *websocket.Conn, writeTimeout time.Duration) *wsConn {
	return &wsConn{conn: c, writeTimeout: writeTimeout}
}

func (w *wsConn) ReadFrame() (bool, []byte, error) {
	for {
		mt, payload, err := w.conn.ReadMessage()
		if err != nil {
			return false, nil, err
		}
		switch mt {
		case websocket.BinaryMessage:
			return true, payload, nil
		case websocket.TextMessage:
			return false, payload, nil
		default:
			// control frames are handled by gorilla; skip anything else
		}
	}
}

func (w *wsConn) WriteFrame(binary bool, payload []byte) error {
	if w.writeTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	}
	mt := websocket.TextMessage
	if binary {
		mt = websocket.BinaryMessage
	}
	return w.conn.WriteMessage(mt, payload)
}

func (w *wsConn) Close() error {
	w.closeOnce.Do(func() {
		_ = w.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		w.closeErr = w.conn.Close()
	})
	return w.closeErr
}

func (w *wsConn) RemoteAddr() string {
	return fmt.Sprint(w.conn.RemoteAddr())
}
