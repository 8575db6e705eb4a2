package chat

import (
	"time"

	"github.com/gorilla/websocket"
)

// keepAlive runs the ping/pong liveness check for one connection using the
// hub's configured cadence. The read deadline is armed immediately and
// re-armed by every pong; a peer that stops answering times out of the read
// loop on its own. The returned stop function ends the ping goroutine.
func (h *Hub) keepAlive(sender *wsSender) (stop func()) {
	interval := h.cfg.PingInterval.Duration
	pongWait := h.cfg.PongTimeout.Duration

	conn := sender.conn
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := sender.Ping(interval); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	}()

	return func() { close(done) }
}

// Ping writes a ping control frame under the sender's write mutex so it
// cannot interleave with an in-flight message frame.
func (s *wsSender) Ping(timeout time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(timeout))
}
