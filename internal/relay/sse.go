package relay

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"
)

// Joiner registers push connections. It is satisfied by the ingest service,
// which sequences catch-up against live updates.
type Joiner interface {
	Subscribe(conn Conn) *Subscriber
	Unsubscribe(sub *Subscriber)
}

var errConnClosed = errors.New("connection closed")

// SSEHandler returns an http.HandlerFunc that streams telemetry as SSE.
// Clients may filter event types via ?events=sensorData,historyData.
// A comment line is written every heartbeat to keep proxies from idling
// the stream out.
func SSEHandler(j Joiner, heartbeat, writeTimeout time.Duration) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming not supported", http.StatusInternalServerError)
			return
		}

		var filter map[string]bool
		if q := r.URL.Query().Get("events"); q != "" {
			filter = make(map[string]bool)
			for _, e := range strings.Split(q, ",") {
				if e = strings.TrimSpace(e); e != "" {
					filter[e] = true
				}
			}
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no")
		w.WriteHeader(http.StatusOK)
		flusher.Flush()

		conn := &sseConn{
			w:       w,
			flusher: flusher,
			rc:      http.NewResponseController(w),
			timeout: writeTimeout,
			filter:  filter,
		}
		sub := j.Subscribe(conn)
		defer func() {
			j.Unsubscribe(sub)
			conn.close()
		}()

		var tick <-chan time.Time
		if heartbeat > 0 {
			ticker := time.NewTicker(heartbeat)
			defer ticker.Stop()
			tick = ticker.C
		}

		for {
			select {
			case <-r.Context().Done():
				return
			case <-sub.Done():
				return
			case <-tick:
				if err := conn.comment("keepalive"); err != nil {
					slog.Debug("sse heartbeat failed", "subscriber", sub.ID(), "error", err)
					return
				}
			}
		}
	}
}

type sseConn struct {
	mu      sync.Mutex
	w       http.ResponseWriter
	flusher http.Flusher
	rc      *http.ResponseController
	timeout time.Duration
	filter  map[string]bool
	closed  bool
}

func (c *sseConn) Send(msg Message) error {
	if c.filter != nil && !c.filter[msg.Type] {
		return nil
	}
	return c.write("event: " + msg.Type + "\ndata: " + string(msg.Data) + "\n\n")
}

func (c *sseConn) comment(text string) error {
	return c.write(": " + text + "\n\n")
}

func (c *sseConn) write(frame string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errConnClosed
	}
	if c.timeout > 0 {
		// Not every ResponseWriter supports deadlines; a missing one only
		// loses the bound, not the write.
		_ = c.rc.SetWriteDeadline(time.Now().Add(c.timeout))
	}
	if _, err := fmt.Fprint(c.w, frame); err != nil {
		return fmt.Errorf("sse write: %w", err)
	}
	c.flusher.Flush()
	return nil
}

// close stops all further writes; the ResponseWriter must not be touched
// once the handler has returned.
func (c *sseConn) close() {
	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()
}
