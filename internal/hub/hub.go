package hub

import (
	"encoding/json"
	"fmt"
	"log"

	"staffroom/internal/lock"
	"staffroom/internal/metrics"
	"staffroom/internal/presence"
	"staffroom/internal/relay"
	"staffroom/internal/viewer"
	"staffroom/internal/websocket"
	"staffroom/pkg/types"
)

// Hub dispatches inbound envelopes to the collaboration components and fans
// the resulting events back out. Each shared structure serializes its own
// mutations behind a mutex; the hub never holds two of those locks at once,
// and recipient lists are snapshot copies so a slow socket cannot stall
// anyone else's event.
//
// It is also the single teardown point: every disconnect, client-initiated or
// supervisor-forced, funnels through HandleDisconnect.
type Hub struct {
	registry *websocket.Registry
	presence *presence.Tracker
	locks    *lock.Manager
	viewers  *viewer.Tracker
	typing   *relay.Typing
}

// NewHub wires the collaboration components together.
func NewHub(registry *websocket.Registry, presenceTracker *presence.Tracker, locks *lock.Manager, viewers *viewer.Tracker, typing *relay.Typing) *Hub {
	return &Hub{
		registry: registry,
		presence: presenceTracker,
		locks:    locks,
		viewers:  viewers,
		typing:   typing,
	}
}

// recipient scopes. Selection is separate from sending so the all/others/one
// logic is testable without a transport.
type scope int

const (
	scopeAll scope = iota
	scopeOthers
	scopeUser
)

// recipients computes the connection list for an event. ScopeOthers excludes
// every connection of the given identity; scopeUser selects the identity's
// authoritative connection only.
func (h *Hub) recipients(s scope, userID string) []*websocket.Connection {
	switch s {
	case scopeAll:
		return h.registry.Connections()
	case scopeOthers:
		var conns []*websocket.Connection
		for _, conn := range h.registry.Connections() {
			if conn.UserID() != userID {
				conns = append(conns, conn)
			}
		}
		return conns
	case scopeUser:
		if conn, exists := h.registry.GetUserConnection(userID); exists {
			return []*websocket.Connection{conn}
		}
		return nil
	default:
		return nil
	}
}

// send delivers one envelope to each recipient. Delivery failures are logged
// and skipped; one dead socket must not affect the rest.
func (h *Hub) send(conns []*websocket.Connection, msgType string, payload interface{}) {
	env, err := types.NewEnvelope(msgType, payload)
	if err != nil {
		log.Printf("Failed to build %s envelope: %v", msgType, err)
		return
	}
	for _, conn := range conns {
		if err := conn.WriteJSON(env); err != nil {
			log.Printf("Failed to deliver %s to %s: %v", msgType, conn.UserID(), err)
		}
	}
}

// HandleConnect registers an authenticated connection, sends it the full
// state snapshot, and announces the arrival to everyone else.
func (h *Hub) HandleConnect(conn *websocket.Connection) {
	if err := h.registry.Register(conn); err != nil {
		log.Printf("Connection registration failed: %v", err)
		_ = conn.Close()
		return
	}

	user := conn.User()
	log.Printf("User connected: id=%s name=%s", user.UserID, user.Name)

	state := h.presence.State(user, h.locks.Snapshot())
	if err := conn.WriteEnvelope(types.MessageTypePresenceState, state); err != nil {
		log.Printf("Failed to send presence state to %s: %v", user.UserID, err)
	}

	h.send(h.recipients(scopeOthers, user.UserID), types.MessageTypePresenceUpdate, h.presence.Joined(user))

	metrics.ConnectedUsers.Set(float64(h.registry.GetStats()["online_users"]))
}

// HandleDisconnect is the cascade for a closing connection: release the
// user's locks, drop them from every viewer set and the typing table, then
// announce the departure. A superseded ghost connection is only removed from
// the registry; its identity is still online elsewhere so nothing cascades.
func (h *Hub) HandleDisconnect(conn *websocket.Connection) {
	user, authoritative := h.registry.Unregister(conn)
	if user == nil {
		return
	}
	if !authoritative {
		log.Printf("Ghost connection closed: id=%s", user.UserID)
		return
	}

	log.Printf("User disconnected: id=%s name=%s", user.UserID, user.Name)

	for _, released := range h.locks.ReleaseAll(user.UserID) {
		h.broadcastUnlock(released, types.UnlockReasonDisconnected)
	}

	for _, key := range h.viewers.StopAll(user.UserID) {
		h.broadcastViewers(key.Type, key.ID)
	}

	if h.typing.Stop(user.UserID) {
		h.send(h.recipients(scopeOthers, user.UserID), types.MessageTypeTypingStop,
			&types.TypingPayload{UserID: user.UserID})
	}

	h.send(h.recipients(scopeAll, ""), types.MessageTypePresenceUpdate, h.presence.Left(user.UserID))

	metrics.ConnectedUsers.Set(float64(h.registry.GetStats()["online_users"]))
	metrics.ActiveLocks.Set(float64(h.locks.Count()))
}

// HandleMessage parses and dispatches one inbound envelope. A malformed or
// unknown message is logged and dropped; the connection stays open.
func (h *Hub) HandleMessage(conn *websocket.Connection, data []byte) {
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		metrics.MalformedMessages.Inc()
		log.Printf("Dropping unparseable message from %s: %v", conn.UserID(), err)
		return
	}

	if err := h.handleEnvelope(conn, &env); err != nil {
		metrics.MalformedMessages.Inc()
		log.Printf("Dropping %s message from %s: %v", env.Type, conn.UserID(), err)
		return
	}

	metrics.MessagesTotal.WithLabelValues(env.Type).Inc()
}

func (h *Hub) handleEnvelope(conn *websocket.Connection, env *types.Envelope) error {
	if !types.IsValidMessageType(env.Type) {
		return ErrUnknownMessageType
	}

	switch env.Type {
	case types.MessageTypePresenceUpdate:
		var payload types.PresenceUpdatePayload
		if err := decode(env.Payload, &payload); err != nil {
			return err
		}
		return h.handleActivityChange(conn, payload.Activity)

	case types.MessageTypeLockRequest:
		var payload types.LockRequestPayload
		if err := decode(env.Payload, &payload); err != nil {
			return err
		}
		return h.handleLockRequest(conn, payload.DocumentType, payload.DocumentID)

	case types.MessageTypeUnlock:
		var payload types.UnlockRequestPayload
		if err := decode(env.Payload, &payload); err != nil {
			return err
		}
		return h.handleUnlock(conn, payload.DocumentType, payload.DocumentID)

	case types.MessageTypeIdleUnlock:
		h.handleIdleUnlock(conn)
		return nil

	case types.MessageTypeStartViewing, types.MessageTypeStopViewing:
		var payload types.ViewingPayload
		if err := decode(env.Payload, &payload); err != nil {
			return err
		}
		return h.handleViewing(conn, env.Type, payload.DocumentType, payload.DocumentID)

	case types.MessageTypeChatMessage:
		var payload types.ChatSendPayload
		if err := decode(env.Payload, &payload); err != nil {
			return err
		}
		return h.handleChat(conn, &payload)

	case types.MessageTypeTypingStart:
		h.typing.Start(conn.UserID(), conn.Name())
		h.send(h.recipients(scopeOthers, conn.UserID()), types.MessageTypeTypingStart,
			&types.TypingPayload{UserID: conn.UserID(), UserName: conn.Name()})
		return nil

	case types.MessageTypeTypingStop:
		if h.typing.Stop(conn.UserID()) {
			h.send(h.recipients(scopeOthers, conn.UserID()), types.MessageTypeTypingStop,
				&types.TypingPayload{UserID: conn.UserID()})
		}
		return nil

	case types.MessageTypePing:
		// Read loop already refreshed last-activity.
		return conn.WriteEnvelope(types.MessageTypePong, nil)
	}

	return ErrUnknownMessageType
}

func (h *Hub) handleActivityChange(conn *websocket.Connection, activity string) error {
	if err := h.presence.SetActivity(conn, activity); err != nil {
		return err
	}
	h.send(h.recipients(scopeOthers, conn.UserID()), types.MessageTypePresenceUpdate, h.presence.Changed(conn.User()))
	return nil
}

// handleLockRequest runs one acquire transition. Success answers the
// requester and tells everyone else the document is now held; a renewal stays
// silent beyond the requester. Rejection answers the requester with the
// current holder and additionally warns that holder someone tried — the one
// place a third party learns of another user's action.
func (h *Hub) handleLockRequest(conn *websocket.Connection, docType, docID string) error {
	if !types.IsValidDocumentRef(docType, docID) {
		return types.ErrInvalidDocumentRef
	}

	userID := conn.UserID()
	result := h.locks.Acquire(userID, conn.Name(), docType, docID)

	if result.Granted {
		response := &types.LockResponsePayload{
			Granted:      true,
			DocumentType: docType,
			DocumentID:   docID,
			ExpiresAt:    &result.Lock.ExpiresAt,
		}
		if err := conn.WriteEnvelope(types.MessageTypeLockResponse, response); err != nil {
			log.Printf("Failed to send lock response to %s: %v", userID, err)
		}

		if !result.Renewed {
			h.send(h.recipients(scopeOthers, userID), types.MessageTypeLocked, result.Lock)
		}

		metrics.ActiveLocks.Set(float64(h.locks.Count()))
		return nil
	}

	holder := result.Lock
	response := &types.LockResponsePayload{
		Granted:      false,
		Locked:       true,
		DocumentType: docType,
		DocumentID:   docID,
		LockedBy:     holder.UserID,
		UserName:     holder.UserName,
		ExpiresAt:    &holder.ExpiresAt,
	}
	if err := conn.WriteEnvelope(types.MessageTypeLockResponse, response); err != nil {
		log.Printf("Failed to send lock rejection to %s: %v", userID, err)
	}

	h.send(h.recipients(scopeUser, holder.UserID), types.MessageTypeConflictWarning,
		&types.ConflictWarningPayload{
			DocumentType: docType,
			DocumentID:   docID,
			UserID:       userID,
			UserName:     conn.Name(),
		})

	return nil
}

// handleUnlock honors an explicit release only from the holder; anything else
// is a silent no-op so lock state never leaks to non-holders.
func (h *Hub) handleUnlock(conn *websocket.Connection, docType, docID string) error {
	if !types.IsValidDocumentRef(docType, docID) {
		return types.ErrInvalidDocumentRef
	}

	released, ok := h.locks.Release(conn.UserID(), docType, docID)
	if !ok {
		return nil
	}

	h.broadcastUnlock(released, types.UnlockReasonExplicit)
	metrics.ActiveLocks.Set(float64(h.locks.Count()))
	return nil
}

// handleIdleUnlock releases every lock the requesting identity holds. The
// identity comes from the authenticated connection; a client cannot release
// on behalf of anyone else.
func (h *Hub) handleIdleUnlock(conn *websocket.Connection) {
	for _, released := range h.locks.ReleaseAll(conn.UserID()) {
		h.broadcastUnlock(released, types.UnlockReasonIdle)
	}
	metrics.ActiveLocks.Set(float64(h.locks.Count()))
}

// handleViewing applies a start/stop and rebroadcasts the complete resolved
// viewer list — never a delta, and an empty list is sent rather than
// suppressed.
func (h *Hub) handleViewing(conn *websocket.Connection, msgType, docType, docID string) error {
	if !types.IsValidDocumentRef(docType, docID) {
		return types.ErrInvalidDocumentRef
	}

	if msgType == types.MessageTypeStartViewing {
		h.viewers.Start(conn.UserID(), docType, docID)
	} else {
		h.viewers.Stop(conn.UserID(), docType, docID)
	}

	h.broadcastViewers(docType, docID)
	return nil
}

// handleChat relays a chat message. Targeted: deliver to the recipient's
// connection if online (dropped silently otherwise) and echo to the sender.
// Untargeted: broadcast to everyone including the sender, whose copy doubles
// as the delivery confirmation.
func (h *Hub) handleChat(conn *websocket.Connection, payload *types.ChatSendPayload) error {
	if err := payload.Validate(); err != nil {
		return err
	}

	msg := relay.NewChatMessage(conn.UserID(), conn.Name(), payload.ToUserID, payload.Message)

	if msg.ToUserID != "" {
		h.send(h.recipients(scopeUser, msg.ToUserID), types.MessageTypeChatMessage, msg)
		if msg.ToUserID != conn.UserID() {
			if err := conn.WriteEnvelope(types.MessageTypeChatMessage, msg); err != nil {
				log.Printf("Failed to echo chat message to %s: %v", conn.UserID(), err)
			}
		}
		return nil
	}

	h.send(h.recipients(scopeAll, ""), types.MessageTypeChatMessage, msg)
	return nil
}

func (h *Hub) broadcastUnlock(released *types.DocumentLock, reason string) {
	h.send(h.recipients(scopeAll, ""), types.MessageTypeUnlock, &types.UnlockEventPayload{
		DocumentType: released.DocumentType,
		DocumentID:   released.DocumentID,
		UserID:       released.UserID,
		Reason:       reason,
	})
}

// broadcastViewers resolves display names at broadcast time from the
// registry, so the viewer set stays membership-only.
func (h *Hub) broadcastViewers(docType, docID string) {
	ids := h.viewers.Viewers(docType, docID)

	resolved := make([]types.Viewer, 0, len(ids))
	for _, userID := range ids {
		name := userID
		if conn, exists := h.registry.GetUserConnection(userID); exists {
			name = conn.Name()
		}
		resolved = append(resolved, types.Viewer{UserID: userID, UserName: name})
	}

	h.send(h.recipients(scopeAll, ""), types.MessageTypeViewersUpdated, &types.ViewersUpdatedPayload{
		DocumentType: docType,
		DocumentID:   docID,
		Viewers:      resolved,
	})
}

// ExpireLocks sweeps lapsed leases and broadcasts each expiry. Called by the
// liveness supervisor on its sweep interval.
func (h *Hub) ExpireLocks() {
	expired := h.locks.Expire()
	for _, released := range expired {
		log.Printf("Lock expired: %s/%s held by %s", released.DocumentType, released.DocumentID, released.UserID)
		h.broadcastUnlock(released, types.UnlockReasonExpired)
	}
	if len(expired) > 0 {
		metrics.ActiveLocks.Set(float64(h.locks.Count()))
	}
}

// BroadcastChatMessage fans out a server-originated chat message on behalf of
// the HTTP layer. Same delivery semantics as a client-sent message.
func (h *Hub) BroadcastChatMessage(msg *types.ChatMessagePayload) {
	if msg.ToUserID != "" {
		h.send(h.recipients(scopeUser, msg.ToUserID), types.MessageTypeChatMessage, msg)
		if msg.FromUserID != "" && msg.FromUserID != msg.ToUserID {
			h.send(h.recipients(scopeUser, msg.FromUserID), types.MessageTypeChatMessage, msg)
		}
		return
	}
	h.send(h.recipients(scopeAll, ""), types.MessageTypeChatMessage, msg)
}

// NotifyDocumentLock announces a lock to every live connection, for REST
// actions that lock documents outside the WebSocket path.
func (h *Hub) NotifyDocumentLock(lockInfo *types.DocumentLock) {
	h.send(h.recipients(scopeAll, ""), types.MessageTypeLocked, lockInfo)
}

// BroadcastDocumentUnlock force-releases any live lock on the document and
// announces the release, for REST-initiated unlocks. Idempotent when nothing
// is held.
func (h *Hub) BroadcastDocumentUnlock(docType, docID, reason string) {
	userID := ""
	if held, ok := h.locks.Get(docType, docID); ok {
		if released, releasedOK := h.locks.Release(held.UserID, docType, docID); releasedOK {
			userID = released.UserID
		}
		metrics.ActiveLocks.Set(float64(h.locks.Count()))
	}

	h.send(h.recipients(scopeAll, ""), types.MessageTypeUnlock, &types.UnlockEventPayload{
		DocumentType: docType,
		DocumentID:   docID,
		UserID:       userID,
		Reason:       reason,
	})
}

// Snapshot accessors for the HTTP surface.

// PresenceSnapshot returns the public presence records.
func (h *Hub) PresenceSnapshot() []*types.ConnectedUser {
	return h.presence.Snapshot()
}

// LockSnapshot returns the live locks.
func (h *Hub) LockSnapshot() []*types.DocumentLock {
	return h.locks.Snapshot()
}

// Stats aggregates component counts for the health endpoint.
func (h *Hub) Stats() map[string]int {
	stats := h.registry.GetStats()
	stats["active_locks"] = h.locks.Count()
	stats["viewed_documents"] = h.viewers.Count()
	return stats
}

func decode(raw json.RawMessage, v interface{}) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}
