package relay

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
)

// WebSocketHandler upgrades the request and streams telemetry as text frames
// carrying {"type":...,"data":...}. Frames from the viewer are read only to
// answer control frames and to notice the disconnect.
func WebSocketHandler(j Joiner, writeTimeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		netConn, _, _, err := ws.UpgradeHTTP(r, w)
		if err != nil {
			slog.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
			return
		}

		conn := &wsConn{conn: netConn, timeout: writeTimeout}
		sub := j.Subscribe(conn)
		defer func() {
			j.Unsubscribe(sub)
			conn.close()
		}()

		go func() {
			<-sub.Done()
			conn.close()
		}()

		rw := lockedWriter{Conn: netConn, mu: &conn.mu}
		for {
			if _, _, err := wsutil.ReadClientData(rw); err != nil {
				slog.Debug("websocket read ended", "subscriber", sub.ID(), "error", err)
				return
			}
		}
	}
}

type wsConn struct {
	mu      sync.Mutex
	conn    net.Conn
	timeout time.Duration
	closed  bool
}

func (c *wsConn) Send(msg Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	if c.timeout > 0 {
		if err := c.conn.SetWriteDeadline(time.Now().Add(c.timeout)); err != nil {
			return fmt.Errorf("websocket deadline: %w", err)
		}
	}
	if err := wsutil.WriteServerText(c.conn, msg.Frame); err != nil {
		return fmt.Errorf("websocket write: %w", err)
	}
	return nil
}

func (c *wsConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	if err := c.conn.Close(); err != nil {
		slog.Debug("websocket close failed", "error", err)
	}
}

// lockedWriter serializes control-frame replies written by the reader with
// data frames written by the delivery goroutine.
type lockedWriter struct {
	net.Conn
	mu *sync.Mutex
}

func (l lockedWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.Conn.Write(p)
}
