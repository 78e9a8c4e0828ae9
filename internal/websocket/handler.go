package websocket

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"staffroom/internal/database"
	"staffroom/internal/session"
	"staffroom/pkg/types"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Cookie-based auth carries the real access control; origin checking
		// is deferred to the reverse proxy in deployment.
		return true
	},
	HandshakeTimeout: 10 * time.Second,
}

// SessionStore resolves a session credential. Implemented by session.Store.
type SessionStore interface {
	Get(ctx context.Context, sessionID string) (*types.Session, error)
}

// UserStore resolves a user identity to a profile. Implemented by
// database.Manager.
type UserStore interface {
	GetUser(ctx context.Context, userID string) (*types.UserProfile, error)
}

// Sink receives connection lifecycle events and inbound messages. Implemented
// by the hub; the handler never touches shared collaboration state itself.
type Sink interface {
	HandleConnect(conn *Connection)
	HandleMessage(conn *Connection, data []byte)
	HandleDisconnect(conn *Connection)
}

// HandlerConfig carries the transport tuning knobs.
type HandlerConfig struct {
	CookieName   string
	AuthTimeout  time.Duration
	PingInterval time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	BufferSize   int
}

// Handler upgrades collaboration connections after authenticating the session
// cookie against the external session and user stores.
type Handler struct {
	sessions SessionStore
	users    UserStore
	sink     Sink
	config   HandlerConfig
}

// NewHandler creates a WebSocket handler with its external collaborators.
func NewHandler(sessions SessionStore, users UserStore, sink Sink, config HandlerConfig) *Handler {
	return &Handler{
		sessions: sessions,
		users:    users,
		sink:     sink,
		config:   config,
	}
}

// HandleWebSocket authenticates and upgrades a connection request. Failures
// are rejected before the upgrade, each with its own status: 400 for a
// missing cookie, 401 for an unknown or expired session, 403 for a user
// lookup miss, 503 when the session store is unreachable (fail closed).
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(h.config.CookieName)
	if err != nil || cookie.Value == "" {
		http.Error(w, "Missing session cookie", http.StatusBadRequest)
		return
	}

	profile, err := h.authenticate(r.Context(), cookie.Value)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			http.Error(w, "Unknown or expired session", http.StatusUnauthorized)
		case errors.Is(err, session.ErrStoreUnavailable):
			http.Error(w, "Session store unavailable", http.StatusServiceUnavailable)
		case errors.Is(err, database.ErrUserNotFound):
			http.Error(w, "Unknown user", http.StatusForbidden)
		default:
			http.Error(w, "Authentication failed", http.StatusInternalServerError)
		}
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade failed: %v", err)
		return
	}

	wsConn := NewConnection(conn, h.config.BufferSize, h.config.WriteTimeout)
	wsConn.SetIdentity(profile.ID, profile.Name)

	h.sink.HandleConnect(wsConn)

	go h.handleConnection(wsConn)
}

// authenticate resolves cookie → session → user profile with a bounded
// timeout, so a hanging store cannot stall the accept loop.
func (h *Handler) authenticate(ctx context.Context, sessionID string) (*types.UserProfile, error) {
	ctx, cancel := context.WithTimeout(ctx, h.config.AuthTimeout)
	defer cancel()

	sess, err := h.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}

	profile, err := h.users.GetUser(ctx, sess.UserID)
	if err != nil {
		return nil, err
	}

	return profile, nil
}

// handleConnection runs the read loop and the heartbeat ticker for one
// connection. Its deferred teardown is the only exit path, whether the client
// closed cleanly, the transport died, or the liveness supervisor cut it off.
func (h *Handler) handleConnection(conn *Connection) {
	defer func() {
		h.sink.HandleDisconnect(conn)
		_ = conn.Close()
	}()

	if err := conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout)); err != nil {
		log.Printf("Failed to set read deadline: %v", err)
		return
	}
	conn.conn.SetPongHandler(func(string) error {
		conn.Touch()
		return conn.conn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	go func() {
		for {
			select {
			case <-ticker.C:
				if err := conn.Ping(); err != nil {
					return
				}
			case <-conn.Done():
				return
			}
		}
	}()

	for {
		messageType, data, err := conn.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error for %s: %v", conn.UserID(), err)
			}
			break
		}

		if messageType == websocket.TextMessage {
			conn.Touch()
			h.sink.HandleMessage(conn, data)
		}
	}
}
