package trust

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/tendant/simple-trustgate/internal/http/middleware"
	"github.com/tendant/simple-trustgate/internal/httputil"
	"github.com/tendant/simple-trustgate/pkg/domain"
	"github.com/tendant/simple-trustgate/pkg/gate"
)

const (
	pingInterval   = 30 * time.Second
	pongWait       = 2 * pingInterval
	writeWait      = 10 * time.Second
	maxCommandSize = 4096
)

// Handler serves gate decisions and warning acknowledgement to the UI shell.
type Handler struct {
	logger   *slog.Logger
	gate     *gate.Gate
	notifier gate.Notifier
	upgrader websocket.Upgrader
	streams  context.Context
}

// NewHandler creates a trust handler. notifier may be nil, in which case
// streams fall back to polling.
func NewHandler(logger *slog.Logger, g *gate.Gate, notifier gate.Notifier) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:   logger,
		gate:     g,
		notifier: notifier,
		streams:  context.Background(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// SetStreamContext ends every open decision stream once ctx is done. Hijacked
// connections are not closed by http.Server.Shutdown, so servers cancel ctx
// from RegisterOnShutdown.
func (h *Handler) SetStreamContext(ctx context.Context) {
	h.streams = ctx
}

// AcknowledgeResponse is returned after a warning is acknowledged.
type AcknowledgeResponse struct {
	Decision domain.Decision `json:"decision"`
}

// Gate handles GET /v1/me/gate?route=R
func (h *Handler) Gate(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSession(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}
	httputil.JSON(w, http.StatusOK, h.gate.Decide(r.Context(), session, h.route(r)))
}

// Warnings handles GET /v1/me/warnings
func (h *Handler) Warnings(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSession(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	status, err := h.gate.Warnings().Evaluate(r.Context(), session.UserID)
	if err != nil {
		httputil.Error(w, http.StatusServiceUnavailable, "warnings temporarily unavailable")
		return
	}
	httputil.JSON(w, http.StatusOK, status)
}

// Acknowledge handles POST /v1/me/warnings/{id}/acknowledge. Acknowledging an
// already acknowledged or unknown warning succeeds without effect.
func (h *Handler) Acknowledge(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSession(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	warningID, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		httputil.Error(w, http.StatusBadRequest, "invalid warning id")
		return
	}

	if err := h.gate.Warnings().Acknowledge(r.Context(), session.UserID, warningID); err != nil {
		httputil.Error(w, http.StatusServiceUnavailable, "warnings temporarily unavailable")
		return
	}
	httputil.JSON(w, http.StatusOK, AcknowledgeResponse{
		Decision: h.gate.Decide(r.Context(), session, h.route(r)),
	})
}

// route returns the ?route= query parameter, defaulting to the landing route.
func (h *Handler) route(r *http.Request) string {
	if route := r.URL.Query().Get("route"); route != "" {
		return route
	}
	return h.gate.Config().LandingRoute
}

// StreamCommand is sent by the client over the decision stream.
type StreamCommand struct {
	Type      string    `json:"type"` // "navigate", "acknowledge" or "refresh"
	Route     string    `json:"route,omitempty"`
	WarningID uuid.UUID `json:"warning_id"`
}

// StreamMessage is sent to the client over the decision stream.
type StreamMessage struct {
	Type     string           `json:"type"` // "decision" or "error"
	Decision *domain.Decision `json:"decision,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// Stream handles GET /v1/me/gate/stream?route=R. It upgrades to a websocket
// and pushes a decision whenever the session's decision changes. The stream
// is closed when the token it was opened with expires.
func (h *Handler) Stream(w http.ResponseWriter, r *http.Request) {
	session, ok := middleware.GetSession(r.Context())
	if !ok {
		httputil.Error(w, http.StatusUnauthorized, "unauthorized")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("gate stream: upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(h.streams)
	defer cancel()

	var expired <-chan time.Time
	if !session.ExpiresAt.IsZero() {
		timer := time.NewTimer(time.Until(session.ExpiresAt))
		defer timer.Stop()
		expired = timer.C
	}

	watcher := h.gate.Watch(ctx, *session, h.route(r), h.notifier)
	defer watcher.Close()

	h.logger.Debug("gate stream: connected", "user_id", session.UserID)

	errs := make(chan string, 1)
	go h.readCommands(ctx, cancel, conn, watcher, errs)

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			if h.streams.Err() != nil {
				closeStream(conn, websocket.CloseGoingAway, "server shutting down")
			}
			return
		case <-expired:
			h.logger.Debug("gate stream: session expired", "user_id", session.UserID)
			closeStream(conn, websocket.ClosePolicyViolation, "session expired")
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case msg := <-errs:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(StreamMessage{Type: "error", Error: msg}); err != nil {
				return
			}
		case d, ok := <-watcher.Decisions():
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(StreamMessage{Type: "decision", Decision: &d}); err != nil {
				h.logger.Debug("gate stream: write failed", "user_id", session.UserID, "error", err)
				return
			}
		}
	}
}

// readCommands applies client commands to the watcher until the connection
// fails, then cancels the stream.
func (h *Handler) readCommands(ctx context.Context, cancel context.CancelFunc, conn *websocket.Conn, watcher *gate.Watcher, errs chan<- string) {
	defer cancel()

	conn.SetReadLimit(maxCommandSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var cmd StreamCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			var closeErr *websocket.CloseError
			if !errors.As(err, &closeErr) && ctx.Err() == nil {
				h.logger.Debug("gate stream: read failed", "error", err)
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(pongWait))

		switch cmd.Type {
		case "navigate":
			watcher.Navigate(cmd.Route)
		case "refresh":
			watcher.Trigger()
		case "acknowledge":
			if err := watcher.Acknowledge(ctx, cmd.WarningID); err != nil {
				report(errs, "warnings temporarily unavailable")
			}
		default:
			report(errs, "unknown command")
		}
	}
}

// closeStream sends a close frame. The connection itself is closed by the caller.
func closeStream(conn *websocket.Conn, code int, text string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, text), time.Now().Add(writeWait))
}

func report(errs chan<- string, msg string) {
	select {
	case errs <- msg:
	default:
	}
}
