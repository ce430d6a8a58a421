package notify

import (
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"
)

const keepAliveText = "keep-alive-text"

type sseWriter struct {
	w http.ResponseWriter
	f http.Flusher
}

func (s *sseWriter) WriteEvent(ev Event) error {
	data, err := json.Marshal(ev.Payload())
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", ev.Name(), data); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

func (s *sseWriter) WriteKeepAlive() error {
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", keepAliveText); err != nil {
		return err
	}
	s.f.Flush()
	return nil
}

// ServeSSE streams the authenticated user's events as text/event-stream.
// The stream ends when the client disconnects.
func (h *Handler) ServeSSE(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFromRequest(w, r)
	if !ok {
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	h.log.Info("sse stream opened", zap.Int64("user_id", userID), zap.String("user_agent", r.UserAgent()))
	err := h.stream(r.Context(), userID, &sseWriter{w: w, f: flusher})
	h.log.Info("sse stream closed", zap.Int64("user_id", userID), zap.NamedError("reason", err))
}
