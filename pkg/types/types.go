package types

import (
	"encoding/json"
	"time"
)

// Message tags carried in the envelope "type" field. Client-originated and
// server-originated tags share one namespace so the dispatch table stays flat.
const (
	MessageTypePresenceUpdate  = "presence_update"
	MessageTypePresenceState   = "presence_state"
	MessageTypeLockRequest     = "document_lock_request"
	MessageTypeLockResponse    = "document_lock_response"
	MessageTypeLocked          = "document_locked"
	MessageTypeUnlock          = "document_unlock"
	MessageTypeIdleUnlock      = "idle_unlock"
	MessageTypeStartViewing    = "start_viewing"
	MessageTypeStopViewing     = "stop_viewing"
	MessageTypeViewersUpdated  = "viewers_updated"
	MessageTypeChatMessage     = "chat_message"
	MessageTypeTypingStart     = "typing_start"
	MessageTypeTypingStop      = "typing_stop"
	MessageTypeConflictWarning = "conflict_warning"
	MessageTypePing            = "ping"
	MessageTypePong            = "pong"
)

// Activities a connected staff member can declare.
const (
	ActivityIdle              = "idle"
	ActivityViewingDashboard  = "viewing_dashboard"
	ActivityReviewingEvidence = "reviewing_evidence"
	ActivityEditingCaseStudy  = "editing_case_study"
	ActivityEditingEvent      = "editing_event"
	ActivityManagingSchools   = "managing_schools"
	ActivityManagingUsers     = "managing_users"
	ActivityManagingResources = "managing_resources"
)

// Unlock broadcast reasons.
const (
	UnlockReasonExplicit     = "explicit"
	UnlockReasonExpired      = "expired"
	UnlockReasonDisconnected = "user_disconnected"
	UnlockReasonIdle         = "idle"
)

// Envelope is the single wire format: a tag plus a raw payload decoded per
// tag. Payload stays undecoded until the tag is known.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ConnectedUser is the registry's record for one live connection. The session
// credential is deliberately absent: presence data leaving the process carries
// identity, name, activity and timestamps only.
type ConnectedUser struct {
	UserID      string    `json:"userId"`
	Name        string    `json:"userName"`
	Activity    string    `json:"activity"`
	ConnectedAt time.Time `json:"connectedAt"`
	LastActive  time.Time `json:"-"`
}

// DocumentLock is a leased exclusive claim on one document.
type DocumentLock struct {
	DocumentType string    `json:"documentType"`
	DocumentID   string    `json:"documentId"`
	UserID       string    `json:"userId"`
	UserName     string    `json:"userName"`
	AcquiredAt   time.Time `json:"acquiredAt"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// Key returns the map key for the lock's document.
func (l *DocumentLock) Key() DocumentKey {
	return DocumentKey{Type: l.DocumentType, ID: l.DocumentID}
}

// Expired reports whether the lease has lapsed at the given instant.
func (l *DocumentLock) Expired(now time.Time) bool {
	return now.After(l.ExpiresAt)
}

// DocumentKey identifies a lockable / viewable document.
type DocumentKey struct {
	Type string `json:"documentType"`
	ID   string `json:"documentId"`
}

// Viewer is one entry in a resolved viewer list.
type Viewer struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName"`
}

// Session is the external session store's record, resolved once at handshake.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// UserProfile is the external user-lookup collaborator's record.
type UserProfile struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

// Client-originated payloads.

type PresenceUpdatePayload struct {
	Activity string `json:"activity"`
}

type LockRequestPayload struct {
	DocumentType string `json:"documentType"`
	DocumentID   string `json:"documentId"`
}

type UnlockRequestPayload struct {
	DocumentType string `json:"documentType"`
	DocumentID   string `json:"documentId"`
}

type ViewingPayload struct {
	DocumentType string `json:"documentType"`
	DocumentID   string `json:"documentId"`
}

type ChatSendPayload struct {
	Message  string `json:"message"`
	ToUserID string `json:"toUserId,omitempty"`
}

// Server-originated payloads.

// PresenceStatePayload is the full snapshot sent to a client on connect.
type PresenceStatePayload struct {
	Self  *ConnectedUser   `json:"self"`
	Users []*ConnectedUser `json:"users"`
	Locks []*DocumentLock  `json:"locks"`
}

// PresenceEventPayload is the delta broadcast for joins, activity changes
// and departures.
type PresenceEventPayload struct {
	Action   string `json:"action"`
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
	Activity string `json:"activity,omitempty"`
}

const (
	PresenceActionJoined   = "joined"
	PresenceActionActivity = "activity"
	PresenceActionLeft     = "left"
)

// LockResponsePayload answers a document_lock_request. On rejection Locked is
// true and LockedBy/UserName/ExpiresAt describe the current holder.
type LockResponsePayload struct {
	Granted      bool       `json:"granted"`
	Locked       bool       `json:"locked"`
	DocumentType string     `json:"documentType"`
	DocumentID   string     `json:"documentId"`
	LockedBy     string     `json:"lockedBy,omitempty"`
	UserName     string     `json:"userName,omitempty"`
	ExpiresAt    *time.Time `json:"expiresAt,omitempty"`
}

// UnlockEventPayload is broadcast whenever a lock is released.
type UnlockEventPayload struct {
	DocumentType string `json:"documentType"`
	DocumentID   string `json:"documentId"`
	UserID       string `json:"userId"`
	Reason       string `json:"reason"`
}

// ConflictWarningPayload is directed to a lock holder when another user
// attempts to acquire the held document.
type ConflictWarningPayload struct {
	DocumentType string `json:"documentType"`
	DocumentID   string `json:"documentId"`
	UserID       string `json:"userId"`
	UserName     string `json:"userName"`
}

// ViewersUpdatedPayload carries the complete resolved viewer list for a
// document. An empty list is sent, not suppressed, so clients can clear
// stale badges.
type ViewersUpdatedPayload struct {
	DocumentType string   `json:"documentType"`
	DocumentID   string   `json:"documentId"`
	Viewers      []Viewer `json:"viewers"`
}

// ChatMessagePayload is the delivered form of a chat message. The sender
// always receives its own copy back as confirmation.
type ChatMessagePayload struct {
	ID           string    `json:"id"`
	FromUserID   string    `json:"fromUserId"`
	FromUserName string    `json:"fromUserName"`
	ToUserID     string    `json:"toUserId,omitempty"`
	Message      string    `json:"message"`
	Timestamp    time.Time `json:"timestamp"`
}

// TypingPayload accompanies typing_start and typing_stop broadcasts.
type TypingPayload struct {
	UserID   string `json:"userId"`
	UserName string `json:"userName,omitempty"`
}

// NewEnvelope marshals payload and wraps it under the given tag.
func NewEnvelope(msgType string, payload interface{}) (*Envelope, error) {
	if payload == nil {
		return &Envelope{Type: msgType}, nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return &Envelope{Type: msgType, Payload: data}, nil
}
