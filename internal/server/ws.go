package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/satyasetu/voice-gateway/internal/telemetry"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true // Same-origin requests have no Origin header
		}
		for _, prefix := range []string{"http://localhost", "http://127.0.0.1", "https://localhost", "https://127.0.0.1"} {
			if len(origin) >= len(prefix) && origin[:len(prefix)] == prefix {
				return true
			}
		}
		return false
	},
}

// TelemetryHub serves the live event firehose over websockets. Each
// connection gets its own bus subscription with replay, so a dashboard
// that connects late still sees the recent event history.
type TelemetryHub struct {
	bus    *telemetry.Bus
	logger *slog.Logger

	mu      sync.Mutex
	clients int
}

func NewTelemetryHub(bus *telemetry.Bus, logger *slog.Logger) *TelemetryHub {
	if logger == nil {
		logger = slog.Default()
	}
	return &TelemetryHub{bus: bus, logger: logger}
}

// ClientCount reports currently connected websocket clients.
func (h *TelemetryHub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.clients
}

// HandleWebSocket upgrades the connection and forwards bus events until
// the peer goes away or the bus shuts down.
func (h *TelemetryHub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	sub := h.bus.Subscribe(telemetry.SubscribeOptions{Replay: true})
	h.mu.Lock()
	h.clients++
	h.mu.Unlock()
	h.logger.Info("telemetry client connected", slog.String("remote_addr", r.RemoteAddr))

	defer func() {
		h.bus.Unsubscribe(sub)
		conn.Close()
		h.mu.Lock()
		h.clients--
		h.mu.Unlock()
		h.logger.Info("telemetry client disconnected", slog.String("remote_addr", r.RemoteAddr))
	}()

	go h.readPump(conn)
	h.writePump(conn, sub)
}

// readPump discards inbound frames; its job is pong handling and noticing
// a dead peer. Closing the connection unblocks the write side.
func (h *TelemetryHub) readPump(conn *websocket.Conn) {
	defer conn.Close()

	conn.SetReadLimit(512)
	conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *TelemetryHub) writePump(conn *websocket.Conn, sub *telemetry.Subscriber) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev, ok := <-sub.Events():
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
