// Package stream projects one pipeline run's telemetry events onto the
// originating caller's server-sent event stream.
package stream

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/satyasetu/voice-gateway/internal/telemetry"
)

// Adapter attaches per-run subscribers to the telemetry bus and serves
// them over SSE.
type Adapter struct {
	bus    *telemetry.Bus
	logger *slog.Logger
}

// NewAdapter creates an adapter over the given bus.
func NewAdapter(bus *telemetry.Bus, logger *slog.Logger) *Adapter {
	if logger == nil {
		logger = slog.Default()
	}
	return &Adapter{bus: bus, logger: logger}
}

// Attach subscribes to one run's events. Callers subscribe before
// starting the run so no event is missed, then hand the subscriber to
// Stream.
func (a *Adapter) Attach(runID string) *telemetry.Subscriber {
	return a.bus.Subscribe(telemetry.SubscribeOptions{RunID: runID})
}

// Stream forwards the subscriber's events to the caller as SSE frames,
// in arrival order. It returns after forwarding a terminal event, or
// immediately when the peer goes away. Either way it unsubscribes; the
// underlying run finishes without an audience.
func (a *Adapter) Stream(w http.ResponseWriter, r *http.Request, sub *telemetry.Subscriber) {
	defer a.bus.Unsubscribe(sub)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming not supported", http.StatusInternalServerError)
		return
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case ev, open := <-sub.Events():
			if !open {
				return
			}
			data, err := json.Marshal(ev)
			if err != nil {
				a.logger.Warn("event marshal failed", slog.String("error", err.Error()))
				continue
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}
			flusher.Flush()
			if ev.Terminal() {
				return
			}
		}
	}
}
