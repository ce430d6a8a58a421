package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"go-notify/internal/metrics"
	myMiddleware "go-notify/internal/middleware"
)

// DefaultKeepAlive is how often an idle stream gets a keep-alive frame.
const DefaultKeepAlive = time.Second

// Presence records which users currently hold an open stream.
type Presence interface {
	Connect(ctx context.Context, userID int64) error
	Touch(ctx context.Context, userID int64) error
	Disconnect(ctx context.Context, userID int64) error
	Online(ctx context.Context, userID int64) (bool, error)
}

// frameWriter is one outbound transport for a user's event stream.
type frameWriter interface {
	WriteEvent(ev Event) error
	WriteKeepAlive() error
}

type Handler struct {
	log       *zap.Logger
	hub       *Hub
	presence  Presence
	keepAlive time.Duration
}

// NewHandler builds the streaming endpoints. presence may be nil.
func NewHandler(log *zap.Logger, hub *Hub, presence Presence, keepAlive time.Duration) *Handler {
	if keepAlive <= 0 {
		keepAlive = DefaultKeepAlive
	}
	return &Handler{
		log:       log.Named("stream"),
		hub:       hub,
		presence:  presence,
		keepAlive: keepAlive,
	}
}

// stream copies the user's events into fw until ctx is done or a write
// fails. Each call gets its own receiver, so several tabs of the same user
// each see every event.
func (h *Handler) stream(ctx context.Context, userID int64, fw frameWriter) error {
	rx := h.hub.GetOrCreate(userID).Subscribe()
	defer rx.Close()

	metrics.ActiveStreams.Inc()
	defer metrics.ActiveStreams.Dec()

	if h.presence != nil {
		if err := h.presence.Connect(ctx, userID); err != nil {
			h.log.Warn("presence connect failed", zap.Int64("user_id", userID), zap.Error(err))
		}
		defer func() {
			// ctx is already cancelled when the client goes away.
			dctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			if err := h.presence.Disconnect(dctx, userID); err != nil {
				h.log.Warn("presence disconnect failed", zap.Int64("user_id", userID), zap.Error(err))
			}
		}()
	}

	ticker := time.NewTicker(h.keepAlive)
	defer ticker.Stop()

	keepAlive := func() error {
		if err := fw.WriteKeepAlive(); err != nil {
			return err
		}
		if h.presence != nil {
			if err := h.presence.Touch(ctx, userID); err != nil {
				h.log.Warn("presence touch failed", zap.Int64("user_id", userID), zap.Error(err))
			}
		}
		return nil
	}

	for {
		// A busy channel never reaches the select below.
		if ctx.Err() != nil {
			return nil
		}
		ev, err := rx.TryRecv()
		var lag *LagError
		switch {
		case err == nil:
			if err := fw.WriteEvent(ev); err != nil {
				return err
			}
			select {
			case <-ticker.C:
				if err := keepAlive(); err != nil {
					return err
				}
			default:
			}
			continue
		case errors.As(err, &lag):
			metrics.EventsLagged.Add(float64(lag.Skipped))
			h.log.Debug("stream lagged", zap.Int64("user_id", userID), zap.Uint64("skipped", lag.Skipped))
			continue
		case !errors.Is(err, ErrEmpty):
			return err
		}

		select {
		case <-rx.Ready():
		case <-ticker.C:
			if err := keepAlive(); err != nil {
				return err
			}
		case <-ctx.Done():
			return nil
		}
	}
}

// ServePresence answers whether a user currently has an open stream.
func (h *Handler) ServePresence(w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid user id", http.StatusBadRequest)
		return
	}
	if h.presence == nil {
		http.Error(w, "presence disabled", http.StatusNotFound)
		return
	}

	online, err := h.presence.Online(r.Context(), userID)
	if err != nil {
		h.log.Error("presence lookup failed", zap.Int64("user_id", userID), zap.Error(err))
		http.Error(w, "presence unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"user_id": userID,
		"online":  online,
	})
}

func userFromRequest(w http.ResponseWriter, r *http.Request) (int64, bool) {
	user, ok := myMiddleware.UserFromContext(r.Context())
	if !ok {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return 0, false
	}
	return user.ID, true
}
