package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"staffroom/internal/relay"
	"staffroom/pkg/types"
)

// Hub is the internal call surface the REST layer pushes notifications
// through. Declared here to avoid tight coupling to the hub implementation.
type Hub interface {
	PresenceSnapshot() []*types.ConnectedUser
	LockSnapshot() []*types.DocumentLock
	Stats() map[string]int
	BroadcastChatMessage(msg *types.ChatMessagePayload)
	NotifyDocumentLock(lockInfo *types.DocumentLock)
	BroadcastDocumentUnlock(docType, docID, reason string)
}

// SessionStore is the health-checkable session collaborator.
type SessionStore interface {
	HealthCheck(ctx context.Context) error
}

// UserStore is the user-profile collaborator, writable for admin sync.
type UserStore interface {
	UpsertUser(ctx context.Context, profile *types.UserProfile) error
	HealthCheck(ctx context.Context) error
}

// Server is the HTTP surface beside the WebSocket endpoint: read-only
// presence and lock snapshots, the notify entry points REST handlers fan out
// through, health, and Prometheus metrics.
type Server struct {
	hub      Hub
	sessions SessionStore
	users    UserStore
	router   *http.ServeMux
}

// NewServer initializes the API server and its routes.
func NewServer(hub Hub, sessions SessionStore, users UserStore) *Server {
	s := &Server{
		hub:      hub,
		sessions: sessions,
		users:    users,
		router:   http.NewServeMux(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Handle("/api/presence", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handlePresence))))
	s.router.Handle("/api/locks", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleLocks))))
	s.router.Handle("/api/notify/chat", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleNotifyChat))))
	s.router.Handle("/api/notify/lock", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleNotifyLock))))
	s.router.Handle("/api/notify/unlock", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleNotifyUnlock))))
	s.router.Handle("/api/users/", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.handleUserByID))))
	s.router.Handle("/health", s.corsMiddleware(s.jsonMiddleware(http.HandlerFunc(s.healthCheck))))
	s.router.Handle("/metrics", promhttp.Handler())
}

// ServeHTTP implements http.Handler for integration with the standard server.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

type PresenceResponse struct {
	Users []*types.ConnectedUser `json:"users"`
}

type LocksResponse struct {
	Locks []*types.DocumentLock `json:"locks"`
}

type NotifyChatRequest struct {
	FromUserID   string `json:"fromUserId"`
	FromUserName string `json:"fromUserName"`
	ToUserID     string `json:"toUserId,omitempty"`
	Message      string `json:"message"`
}

type NotifyLockRequest struct {
	DocumentType string    `json:"documentType"`
	DocumentID   string    `json:"documentId"`
	UserID       string    `json:"userId"`
	UserName     string    `json:"userName"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

type NotifyUnlockRequest struct {
	DocumentType string `json:"documentType"`
	DocumentID   string `json:"documentId"`
	Reason       string `json:"reason,omitempty"`
}

type HealthResponse struct {
	Status       string         `json:"status"`
	Timestamp    time.Time      `json:"timestamp"`
	SessionStore string         `json:"session_store"`
	Database     string         `json:"database"`
	Connections  map[string]int `json:"connections"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// GET /api/presence - current online users for presence badges.
func (s *Server) handlePresence(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	json.NewEncoder(w).Encode(PresenceResponse{Users: s.hub.PresenceSnapshot()})
}

// GET /api/locks - live document locks.
func (s *Server) handleLocks(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	json.NewEncoder(w).Encode(LocksResponse{Locks: s.hub.LockSnapshot()})
}

// POST /api/notify/chat - fan a server-originated chat message out to live
// connections. The message is stamped here; durable history stays with the
// caller.
func (s *Server) handleNotifyChat(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req NotifyChatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Message == "" {
		s.sendError(w, "Message is required", http.StatusBadRequest)
		return
	}
	if req.FromUserName == "" {
		s.sendError(w, "Sender name is required", http.StatusBadRequest)
		return
	}

	msg := relay.NewChatMessage(req.FromUserID, req.FromUserName, req.ToUserID, req.Message)
	s.hub.BroadcastChatMessage(msg)

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(msg)
}

// POST /api/notify/lock - announce a REST-acquired lock to live connections.
func (s *Server) handleNotifyLock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req NotifyLockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if !types.IsValidDocumentRef(req.DocumentType, req.DocumentID) {
		s.sendError(w, "Invalid document reference", http.StatusBadRequest)
		return
	}
	if !types.IsValidUserID(req.UserID) {
		s.sendError(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	s.hub.NotifyDocumentLock(&types.DocumentLock{
		DocumentType: req.DocumentType,
		DocumentID:   req.DocumentID,
		UserID:       req.UserID,
		UserName:     req.UserName,
		AcquiredAt:   time.Now(),
		ExpiresAt:    req.ExpiresAt,
	})

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "notified"})
}

// POST /api/notify/unlock - force-release a document and announce it.
func (s *Server) handleNotifyUnlock(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req NotifyUnlockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if !types.IsValidDocumentRef(req.DocumentType, req.DocumentID) {
		s.sendError(w, "Invalid document reference", http.StatusBadRequest)
		return
	}

	reason := req.Reason
	switch reason {
	case types.UnlockReasonExplicit, types.UnlockReasonExpired,
		types.UnlockReasonDisconnected, types.UnlockReasonIdle:
	case "":
		reason = types.UnlockReasonExplicit
	default:
		s.sendError(w, "Unknown unlock reason", http.StatusBadRequest)
		return
	}

	s.hub.BroadcastDocumentUnlock(req.DocumentType, req.DocumentID, reason)

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{"status": "unlocked"})
}

// PUT /api/users/{id} - upsert a staff profile into the user store, used by
// the surrounding application's admin panel to sync staff records.
func (s *Server) handleUserByID(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimPrefix(r.URL.Path, "/api/users/")
	if userID == "" || strings.Contains(userID, "/") {
		s.sendError(w, "User ID required", http.StatusBadRequest)
		return
	}

	switch r.Method {
	case http.MethodPut:
		s.upsertUser(w, r, userID)
	case http.MethodOptions:
		w.WriteHeader(http.StatusOK)
	default:
		s.sendError(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (s *Server) upsertUser(w http.ResponseWriter, r *http.Request, userID string) {
	var profile types.UserProfile
	if err := json.NewDecoder(r.Body).Decode(&profile); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	profile.ID = userID
	if profile.Role == "" {
		profile.Role = "staff"
	}

	if err := s.users.UpsertUser(r.Context(), &profile); err != nil {
		log.Printf("Failed to upsert user %s: %v", userID, err)
		s.sendError(w, "Failed to store user", http.StatusInternalServerError)
		return
	}

	json.NewEncoder(w).Encode(&profile)
}

// GET /health - component connectivity and connection counts.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	sessionStatus := "healthy"
	dbStatus := "healthy"

	if err := s.sessions.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		sessionStatus = err.Error()
	}
	if err := s.users.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = err.Error()
	}

	response := HealthResponse{
		Status:       status,
		Timestamp:    time.Now(),
		SessionStore: sessionStatus,
		Database:     dbStatus,
		Connections:  s.hub.Stats(),
	}

	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}

	json.NewEncoder(w).Encode(response)
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		next.ServeHTTP(w, r)
	})
}
