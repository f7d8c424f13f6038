package transport

import (
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// conn serializes writes on a server-side WebSocket.
type conn struct {
	ws  *websocket.Conn
	cfg Config

	writeMu   sync.Mutex // serializes writes (gorilla/websocket requirement)
	sendErr   error      // first write failure, guarded by writeMu
	failed    chan struct{}
	closeOnce sync.Once
}

func newConn(ws *websocket.Conn, cfg Config) *conn {
	ws.SetReadLimit(cfg.MaxMessageSize)
	return &conn{ws: ws, cfg: cfg, failed: make(chan struct{})}
}

// Send writes one binary message. After the first failure the socket is
// unusable: every later call returns that error and failed is closed.
func (c *conn) Send(data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.sendErr != nil {
		return c.sendErr
	}
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait)); err != nil {
		return c.fail(fmt.Errorf("transport: set write deadline: %w", err))
	}
	if err := c.ws.WriteMessage(websocket.BinaryMessage, data); err != nil {
		return c.fail(fmt.Errorf("transport: write: %w", err))
	}
	return nil
}

// fail records err and signals the connection loop. Called with writeMu held.
func (c *conn) fail(err error) error {
	c.sendErr = err
	close(c.failed)
	return err
}

// err returns the recorded write failure.
func (c *conn) err() error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return c.sendErr
}

// ping and close use WriteControl, which gorilla allows concurrently with
// other writes.
func (c *conn) ping() error {
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait))
}

// close sends a close frame and tears the socket down. Idempotent.
func (c *conn) close(code int) {
	c.closeOnce.Do(func() {
		msg := websocket.FormatCloseMessage(code, "")
		_ = c.ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.CloseGracePeriod))
		_ = c.ws.Close()
	})
}
