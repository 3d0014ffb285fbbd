package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"

	"github.com/MrWong99/voicegate/internal/telemetry"
)

// streamTelemetry upgrades to a websocket and forwards hub events as JSON
// text messages until the client goes away or the hub closes. Slow clients
// lose their oldest queued events.
func (s *Server) streamTelemetry(w http.ResponseWriter, r *http.Request) {
	kinds := parseKinds(r.URL.Query().Get("kinds"))

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.originPatterns,
	})
	if err != nil {
		// Accept has already written the HTTP error response.
		s.log.Debug("telemetry websocket upgrade failed", "err", err)
		return
	}
	defer conn.CloseNow()

	// Detach from the request context so the gauge decrement is recorded
	// even after the client vanished.
	mctx := context.WithoutCancel(r.Context())
	s.metrics.TelemetrySubscribers.Add(mctx, 1)
	defer s.metrics.TelemetrySubscribers.Add(mctx, -1)

	sub := s.deps.Hub.Subscribe(s.queueSize)
	defer sub.Close()

	log := s.log.With("remote", r.RemoteAddr)
	log.Info("telemetry client connected", "kinds", kinds)

	// The client never sends; CloseRead handles control frames and cancels
	// ctx when the peer closes.
	ctx := conn.CloseRead(r.Context())
	for {
		select {
		case <-ctx.Done():
			log.Info("telemetry client disconnected", "dropped", sub.Dropped())
			return
		case ev, ok := <-sub.C():
			if !ok {
				conn.Close(websocket.StatusGoingAway, "telemetry closed")
				return
			}
			if len(kinds) > 0 && !kinds[ev.Kind] {
				continue
			}
			wctx, cancel := context.WithTimeout(ctx, s.writeTimeout)
			err := wsjson.Write(wctx, conn, ev)
			cancel()
			if err != nil {
				log.Debug("telemetry write failed", "err", err)
				return
			}
		}
	}
}

// parseKinds turns "frame,trigger" into a filter set. An empty value means
// every kind.
func parseKinds(v string) map[telemetry.Kind]bool {
	if v == "" {
		return nil
	}
	out := make(map[telemetry.Kind]bool)
	for part := range strings.SplitSeq(v, ",") {
		if k := strings.TrimSpace(part); k != "" {
			out[telemetry.Kind(k)] = true
		}
	}
	return out
}
