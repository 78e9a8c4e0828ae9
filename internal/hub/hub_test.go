package hub

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gorillaws "github.com/gorilla/websocket"

	"staffroom/internal/lock"
	"staffroom/internal/presence"
	"staffroom/internal/relay"
	"staffroom/internal/viewer"
	"staffroom/internal/websocket"
	"staffroom/pkg/types"
)

var testUpgrader = gorillaws.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// testClient pairs a hub-side connection with the raw client socket it writes
// to, so tests can both inject envelopes and observe deliveries.
type testClient struct {
	conn   *websocket.Connection
	client *gorillaws.Conn
}

// send injects an envelope as if it arrived over the wire.
func (c *testClient) send(t *testing.T, h *Hub, msgType string, payload interface{}) {
	t.Helper()
	env, err := types.NewEnvelope(msgType, payload)
	if err != nil {
		t.Fatalf("Failed to build envelope: %v", err)
	}
	data, err := json.Marshal(env)
	if err != nil {
		t.Fatalf("Failed to marshal envelope: %v", err)
	}
	h.HandleMessage(c.conn, data)
}

// expect reads the next delivered message and asserts its tag.
func (c *testClient) expect(t *testing.T, msgType string) *types.Envelope {
	t.Helper()
	if err := c.client.SetReadDeadline(time.Now().Add(time.Second)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	_, data, err := c.client.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read message while expecting %s: %v", msgType, err)
	}
	var env types.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		t.Fatalf("Failed to decode envelope: %v", err)
	}
	if env.Type != msgType {
		t.Fatalf("Expected %s, got %s (payload %s)", msgType, env.Type, env.Payload)
	}
	return &env
}

// expectNone asserts no message arrives. The read deadline kills the client
// socket, so call this last on a client.
func (c *testClient) expectNone(t *testing.T) {
	t.Helper()
	if err := c.client.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
		t.Fatalf("Failed to set read deadline: %v", err)
	}
	if _, data, err := c.client.ReadMessage(); err == nil {
		t.Fatalf("Expected no message, got %s", data)
	}
}

func decodePayload(t *testing.T, env *types.Envelope, v interface{}) {
	t.Helper()
	if err := json.Unmarshal(env.Payload, v); err != nil {
		t.Fatalf("Failed to decode %s payload: %v", env.Type, err)
	}
}

type harness struct {
	hub      *Hub
	registry *websocket.Registry
	locks    *lock.Manager
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	registry := websocket.NewRegistry()
	locks := lock.NewManager(5 * time.Minute)
	h := NewHub(registry, presence.NewTracker(registry), locks, viewer.NewTracker(), relay.NewTyping())
	return &harness{hub: h, registry: registry, locks: locks}
}

func (h *harness) pair(t *testing.T) *testClient {
	t.Helper()

	serverConns := make(chan *gorillaws.Conn, 1)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := testUpgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("Failed to upgrade connection: %v", err)
			return
		}
		serverConns <- conn
	}))
	t.Cleanup(server.Close)

	url := "ws" + strings.TrimPrefix(server.URL, "http")
	client, _, err := gorillaws.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("Failed to dial test server: %v", err)
	}
	t.Cleanup(func() { client.Close() })

	var serverSide *gorillaws.Conn
	select {
	case serverSide = <-serverConns:
	case <-time.After(time.Second):
		t.Fatal("Timed out waiting for server-side connection")
	}

	conn := websocket.NewConnection(serverSide, 16, time.Second)
	t.Cleanup(func() { conn.Close() })

	return &testClient{conn: conn, client: client}
}

// connect joins a user and consumes its own state snapshot. Earlier clients
// still have the joined delta pending; callers consume it explicitly.
func (h *harness) connect(t *testing.T, userID, name string) *testClient {
	t.Helper()
	tc := h.pair(t)
	tc.conn.SetIdentity(userID, name)
	h.hub.HandleConnect(tc.conn)
	tc.expect(t, types.MessageTypePresenceState)
	return tc
}

// connectPair joins alice and bob with the join noise already consumed.
func (h *harness) connectPair(t *testing.T) (*testClient, *testClient) {
	t.Helper()
	alice := h.connect(t, "alice", "Alice")
	bob := h.connect(t, "bob", "Bob")
	env := alice.expect(t, types.MessageTypePresenceUpdate)
	var joined types.PresenceEventPayload
	decodePayload(t, env, &joined)
	if joined.Action != types.PresenceActionJoined || joined.UserID != "bob" {
		t.Fatalf("Unexpected join delta: %+v", joined)
	}
	return alice, bob
}

func TestConnectSendsStateSnapshot(t *testing.T) {
	h := newHarness(t)

	h.locks.Acquire("offline-user", "Offline", "case_study", "cs-9")

	alice := h.connect(t, "alice", "Alice")

	bob := h.pair(t)
	bob.conn.SetIdentity("bob", "Bob")
	h.hub.HandleConnect(bob.conn)

	env := bob.expect(t, types.MessageTypePresenceState)
	var state types.PresenceStatePayload
	decodePayload(t, env, &state)

	if state.Self == nil || state.Self.UserID != "bob" {
		t.Errorf("Expected self record for bob, got %+v", state.Self)
	}
	if len(state.Users) != 2 {
		t.Errorf("Expected 2 online users, got %d", len(state.Users))
	}
	if len(state.Locks) != 1 || state.Locks[0].UserID != "offline-user" {
		t.Errorf("Expected the held lock in the snapshot, got %+v", state.Locks)
	}

	env = alice.expect(t, types.MessageTypePresenceUpdate)
	var joined types.PresenceEventPayload
	decodePayload(t, env, &joined)
	if joined.Action != types.PresenceActionJoined || joined.UserID != "bob" || joined.UserName != "Bob" {
		t.Errorf("Unexpected join delta: %+v", joined)
	}
}

func TestActivityChangeBroadcastsToOthers(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.connectPair(t)

	alice.send(t, h.hub, types.MessageTypePresenceUpdate,
		&types.PresenceUpdatePayload{Activity: types.ActivityReviewingEvidence})

	env := bob.expect(t, types.MessageTypePresenceUpdate)
	var delta types.PresenceEventPayload
	decodePayload(t, env, &delta)
	if delta.Action != types.PresenceActionActivity || delta.UserID != "alice" ||
		delta.Activity != types.ActivityReviewingEvidence {
		t.Errorf("Unexpected activity delta: %+v", delta)
	}

	// The sender gets no echo.
	alice.expectNone(t)
}

func TestLockGrantAndConflict(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.connectPair(t)

	alice.send(t, h.hub, types.MessageTypeLockRequest,
		&types.LockRequestPayload{DocumentType: "case_study", DocumentID: "cs-1"})

	env := alice.expect(t, types.MessageTypeLockResponse)
	var granted types.LockResponsePayload
	decodePayload(t, env, &granted)
	if !granted.Granted || granted.DocumentType != "case_study" || granted.DocumentID != "cs-1" {
		t.Fatalf("Unexpected grant response: %+v", granted)
	}
	if granted.ExpiresAt == nil || !granted.ExpiresAt.After(time.Now()) {
		t.Error("Expected a future expiry in the grant response")
	}

	env = bob.expect(t, types.MessageTypeLocked)
	var lockInfo types.DocumentLock
	decodePayload(t, env, &lockInfo)
	if lockInfo.UserID != "alice" || lockInfo.DocumentID != "cs-1" {
		t.Errorf("Unexpected lock broadcast: %+v", lockInfo)
	}

	bob.send(t, h.hub, types.MessageTypeLockRequest,
		&types.LockRequestPayload{DocumentType: "case_study", DocumentID: "cs-1"})

	env = bob.expect(t, types.MessageTypeLockResponse)
	var rejected types.LockResponsePayload
	decodePayload(t, env, &rejected)
	if rejected.Granted || !rejected.Locked {
		t.Fatalf("Expected rejection, got %+v", rejected)
	}
	if rejected.LockedBy != "alice" || rejected.UserName != "Alice" {
		t.Errorf("Rejection should name the holder, got %+v", rejected)
	}
	if rejected.ExpiresAt == nil {
		t.Error("Rejection should carry the holder's expiry")
	}

	env = alice.expect(t, types.MessageTypeConflictWarning)
	var warning types.ConflictWarningPayload
	decodePayload(t, env, &warning)
	if warning.UserID != "bob" || warning.UserName != "Bob" || warning.DocumentID != "cs-1" {
		t.Errorf("Unexpected conflict warning: %+v", warning)
	}
}

func TestLockRenewalIsQuiet(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.connectPair(t)

	alice.send(t, h.hub, types.MessageTypeLockRequest,
		&types.LockRequestPayload{DocumentType: "event", DocumentID: "ev-1"})
	alice.expect(t, types.MessageTypeLockResponse)
	bob.expect(t, types.MessageTypeLocked)

	alice.send(t, h.hub, types.MessageTypeLockRequest,
		&types.LockRequestPayload{DocumentType: "event", DocumentID: "ev-1"})

	env := alice.expect(t, types.MessageTypeLockResponse)
	var renewed types.LockResponsePayload
	decodePayload(t, env, &renewed)
	if !renewed.Granted {
		t.Fatalf("Expected renewal grant, got %+v", renewed)
	}

	// A marker event proves nothing was broadcast for the renewal: bob's next
	// message is the activity delta, not a second document_locked.
	alice.send(t, h.hub, types.MessageTypePresenceUpdate,
		&types.PresenceUpdatePayload{Activity: types.ActivityIdle})
	bob.expect(t, types.MessageTypePresenceUpdate)
}

func TestExplicitUnlock(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.connectPair(t)

	alice.send(t, h.hub, types.MessageTypeLockRequest,
		&types.LockRequestPayload{DocumentType: "case_study", DocumentID: "cs-1"})
	alice.expect(t, types.MessageTypeLockResponse)
	bob.expect(t, types.MessageTypeLocked)

	// A non-holder's unlock is a silent no-op.
	bob.send(t, h.hub, types.MessageTypeUnlock,
		&types.UnlockRequestPayload{DocumentType: "case_study", DocumentID: "cs-1"})
	if _, ok := h.locks.Get("case_study", "cs-1"); !ok {
		t.Fatal("Non-holder unlock must not release the lock")
	}

	alice.send(t, h.hub, types.MessageTypeUnlock,
		&types.UnlockRequestPayload{DocumentType: "case_study", DocumentID: "cs-1"})

	for _, c := range []*testClient{alice, bob} {
		env := c.expect(t, types.MessageTypeUnlock)
		var unlock types.UnlockEventPayload
		decodePayload(t, env, &unlock)
		if unlock.UserID != "alice" || unlock.Reason != types.UnlockReasonExplicit {
			t.Errorf("Unexpected unlock event: %+v", unlock)
		}
	}

	if _, ok := h.locks.Get("case_study", "cs-1"); ok {
		t.Error("Expected lock to be released")
	}
}

func TestIdleUnlockReleasesAllHeld(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.connectPair(t)

	for _, doc := range []string{"cs-1", "cs-2"} {
		alice.send(t, h.hub, types.MessageTypeLockRequest,
			&types.LockRequestPayload{DocumentType: "case_study", DocumentID: doc})
		alice.expect(t, types.MessageTypeLockResponse)
		bob.expect(t, types.MessageTypeLocked)
	}

	alice.send(t, h.hub, types.MessageTypeIdleUnlock, nil)

	released := make(map[string]bool)
	for i := 0; i < 2; i++ {
		env := bob.expect(t, types.MessageTypeUnlock)
		var unlock types.UnlockEventPayload
		decodePayload(t, env, &unlock)
		if unlock.Reason != types.UnlockReasonIdle {
			t.Errorf("Expected idle reason, got %q", unlock.Reason)
		}
		released[unlock.DocumentID] = true
	}
	if !released["cs-1"] || !released["cs-2"] {
		t.Errorf("Expected both documents released, got %v", released)
	}

	if h.locks.Count() != 0 {
		t.Errorf("Expected no locks to remain, count=%d", h.locks.Count())
	}
}

func TestViewingRoundTrip(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.connectPair(t)

	alice.send(t, h.hub, types.MessageTypeStartViewing,
		&types.ViewingPayload{DocumentType: "case_study", DocumentID: "cs-1"})

	for _, c := range []*testClient{alice, bob} {
		env := c.expect(t, types.MessageTypeViewersUpdated)
		var viewers types.ViewersUpdatedPayload
		decodePayload(t, env, &viewers)
		if len(viewers.Viewers) != 1 || viewers.Viewers[0].UserID != "alice" ||
			viewers.Viewers[0].UserName != "Alice" {
			t.Errorf("Unexpected viewer list: %+v", viewers.Viewers)
		}
	}

	bob.send(t, h.hub, types.MessageTypeStartViewing,
		&types.ViewingPayload{DocumentType: "case_study", DocumentID: "cs-1"})
	for _, c := range []*testClient{alice, bob} {
		env := c.expect(t, types.MessageTypeViewersUpdated)
		var viewers types.ViewersUpdatedPayload
		decodePayload(t, env, &viewers)
		if len(viewers.Viewers) != 2 {
			t.Errorf("Expected 2 viewers, got %+v", viewers.Viewers)
		}
	}

	// The last stop still broadcasts, carrying an explicit empty list.
	alice.send(t, h.hub, types.MessageTypeStopViewing,
		&types.ViewingPayload{DocumentType: "case_study", DocumentID: "cs-1"})
	alice.expect(t, types.MessageTypeViewersUpdated)
	bob.expect(t, types.MessageTypeViewersUpdated)

	bob.send(t, h.hub, types.MessageTypeStopViewing,
		&types.ViewingPayload{DocumentType: "case_study", DocumentID: "cs-1"})
	env := bob.expect(t, types.MessageTypeViewersUpdated)
	var viewers types.ViewersUpdatedPayload
	decodePayload(t, env, &viewers)
	if viewers.Viewers == nil {
		t.Error("Expected an explicit empty viewer list, got null")
	}
	if len(viewers.Viewers) != 0 {
		t.Errorf("Expected no viewers, got %+v", viewers.Viewers)
	}
}

func TestChatBroadcast(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.connectPair(t)

	alice.send(t, h.hub, types.MessageTypeChatMessage,
		&types.ChatSendPayload{Message: "hello everyone"})

	var ids []string
	for _, c := range []*testClient{alice, bob} {
		env := c.expect(t, types.MessageTypeChatMessage)
		var msg types.ChatMessagePayload
		decodePayload(t, env, &msg)
		if msg.FromUserID != "alice" || msg.FromUserName != "Alice" {
			t.Errorf("Unexpected sender: %+v", msg)
		}
		if msg.Message != "hello everyone" {
			t.Errorf("Unexpected body: %q", msg.Message)
		}
		if msg.ID == "" || msg.Timestamp.IsZero() {
			t.Error("Expected a server-stamped ID and timestamp")
		}
		ids = append(ids, msg.ID)
	}
	if ids[0] != ids[1] {
		t.Error("Expected all recipients to see the same message ID")
	}
}

func TestChatTargeted(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.connectPair(t)
	carol := h.connect(t, "carol", "Carol")
	alice.expect(t, types.MessageTypePresenceUpdate)
	bob.expect(t, types.MessageTypePresenceUpdate)

	alice.send(t, h.hub, types.MessageTypeChatMessage,
		&types.ChatSendPayload{Message: "just for you", ToUserID: "bob"})

	env := bob.expect(t, types.MessageTypeChatMessage)
	var msg types.ChatMessagePayload
	decodePayload(t, env, &msg)
	if msg.ToUserID != "bob" || msg.FromUserID != "alice" {
		t.Errorf("Unexpected targeted message: %+v", msg)
	}

	// The sender gets an echo as delivery confirmation.
	alice.expect(t, types.MessageTypeChatMessage)

	// A message to an offline user is dropped silently; the sender still gets
	// its echo.
	alice.send(t, h.hub, types.MessageTypeChatMessage,
		&types.ChatSendPayload{Message: "anyone there", ToUserID: "dave"})
	alice.expect(t, types.MessageTypeChatMessage)

	// Marker proves carol saw neither targeted exchange.
	alice.send(t, h.hub, types.MessageTypePresenceUpdate,
		&types.PresenceUpdatePayload{Activity: types.ActivityViewingDashboard})
	carol.expect(t, types.MessageTypePresenceUpdate)
}

func TestTypingRelay(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.connectPair(t)

	alice.send(t, h.hub, types.MessageTypeTypingStart, nil)

	env := bob.expect(t, types.MessageTypeTypingStart)
	var typing types.TypingPayload
	decodePayload(t, env, &typing)
	if typing.UserID != "alice" || typing.UserName != "Alice" {
		t.Errorf("Unexpected typing payload: %+v", typing)
	}

	alice.send(t, h.hub, types.MessageTypeTypingStop, nil)
	env = bob.expect(t, types.MessageTypeTypingStop)
	decodePayload(t, env, &typing)
	if typing.UserID != "alice" {
		t.Errorf("Unexpected typing stop payload: %+v", typing)
	}

	// A stop without a preceding start broadcasts nothing; the marker event is
	// bob's next message.
	alice.send(t, h.hub, types.MessageTypeTypingStop, nil)
	alice.send(t, h.hub, types.MessageTypePresenceUpdate,
		&types.PresenceUpdatePayload{Activity: types.ActivityIdle})
	bob.expect(t, types.MessageTypePresenceUpdate)
}

func TestPingPong(t *testing.T) {
	h := newHarness(t)
	alice := h.connect(t, "alice", "Alice")

	alice.send(t, h.hub, types.MessageTypePing, nil)

	env := alice.expect(t, types.MessageTypePong)
	if len(env.Payload) != 0 {
		t.Errorf("Expected empty pong payload, got %s", env.Payload)
	}
}

func TestDisconnectCascade(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.connectPair(t)

	alice.send(t, h.hub, types.MessageTypeLockRequest,
		&types.LockRequestPayload{DocumentType: "case_study", DocumentID: "cs-1"})
	alice.expect(t, types.MessageTypeLockResponse)
	bob.expect(t, types.MessageTypeLocked)

	alice.send(t, h.hub, types.MessageTypeStartViewing,
		&types.ViewingPayload{DocumentType: "event", DocumentID: "ev-1"})
	alice.expect(t, types.MessageTypeViewersUpdated)
	bob.expect(t, types.MessageTypeViewersUpdated)

	alice.send(t, h.hub, types.MessageTypeTypingStart, nil)
	bob.expect(t, types.MessageTypeTypingStart)

	h.hub.HandleDisconnect(alice.conn)

	env := bob.expect(t, types.MessageTypeUnlock)
	var unlock types.UnlockEventPayload
	decodePayload(t, env, &unlock)
	if unlock.UserID != "alice" || unlock.Reason != types.UnlockReasonDisconnected {
		t.Errorf("Unexpected unlock event: %+v", unlock)
	}

	env = bob.expect(t, types.MessageTypeViewersUpdated)
	var viewers types.ViewersUpdatedPayload
	decodePayload(t, env, &viewers)
	if viewers.DocumentID != "ev-1" || len(viewers.Viewers) != 0 {
		t.Errorf("Expected empty viewer list for ev-1, got %+v", viewers)
	}

	env = bob.expect(t, types.MessageTypeTypingStop)
	var typing types.TypingPayload
	decodePayload(t, env, &typing)
	if typing.UserID != "alice" {
		t.Errorf("Unexpected typing stop: %+v", typing)
	}

	env = bob.expect(t, types.MessageTypePresenceUpdate)
	var left types.PresenceEventPayload
	decodePayload(t, env, &left)
	if left.Action != types.PresenceActionLeft || left.UserID != "alice" {
		t.Errorf("Unexpected departure delta: %+v", left)
	}

	if h.locks.Count() != 0 {
		t.Errorf("Expected locks released on disconnect, count=%d", h.locks.Count())
	}
	if _, ok := h.registry.GetUserConnection("alice"); ok {
		t.Error("Expected alice to be unregistered")
	}

	// A second disconnect for the same connection is a no-op.
	h.hub.HandleDisconnect(alice.conn)
	bob.expectNone(t)
}

func TestGhostDisconnectDoesNotCascade(t *testing.T) {
	h := newHarness(t)
	bob := h.connect(t, "bob", "Bob")

	first := h.connect(t, "alice", "Alice")
	bob.expect(t, types.MessageTypePresenceUpdate)

	// The reconnect is announced to bob but not to alice's own stale transport.
	second := h.connect(t, "alice", "Alice")
	bob.expect(t, types.MessageTypePresenceUpdate)

	// The reconnected transport holds a lock.
	second.send(t, h.hub, types.MessageTypeLockRequest,
		&types.LockRequestPayload{DocumentType: "case_study", DocumentID: "cs-1"})
	second.expect(t, types.MessageTypeLockResponse)
	bob.expect(t, types.MessageTypeLocked)

	// The stale transport closing must release nothing and announce nothing.
	h.hub.HandleDisconnect(first.conn)

	if _, ok := h.locks.Get("case_study", "cs-1"); !ok {
		t.Error("Ghost teardown must not release the identity's locks")
	}
	if _, ok := h.registry.GetUserConnection("alice"); !ok {
		t.Error("Expected alice to remain online via the newer connection")
	}

	second.send(t, h.hub, types.MessageTypePresenceUpdate,
		&types.PresenceUpdatePayload{Activity: types.ActivityIdle})
	bob.expect(t, types.MessageTypePresenceUpdate)
}

func TestMalformedMessagesAreDropped(t *testing.T) {
	h := newHarness(t)
	alice := h.connect(t, "alice", "Alice")

	h.hub.HandleMessage(alice.conn, []byte("not json at all"))
	h.hub.HandleMessage(alice.conn, []byte(`{"type":"bogus_type"}`))
	h.hub.HandleMessage(alice.conn, []byte(`{"type":"document_lock_request"}`))
	h.hub.HandleMessage(alice.conn, []byte(`{"type":"document_lock_request","payload":{"documentType":"bad type!","documentId":"cs-1"}}`))
	h.hub.HandleMessage(alice.conn, []byte(`{"type":"chat_message","payload":{"message":""}}`))
	// Server-originated tags are rejected inbound.
	h.hub.HandleMessage(alice.conn, []byte(`{"type":"presence_state","payload":{}}`))

	if h.locks.Count() != 0 {
		t.Errorf("Malformed requests must not mutate state, locks=%d", h.locks.Count())
	}

	// The connection survives and still works.
	alice.send(t, h.hub, types.MessageTypePing, nil)
	alice.expect(t, types.MessageTypePong)
}

func TestExpireLocksBroadcasts(t *testing.T) {
	registry := websocket.NewRegistry()
	locks := lock.NewManager(10 * time.Millisecond)
	h := &harness{
		hub:      NewHub(registry, presence.NewTracker(registry), locks, viewer.NewTracker(), relay.NewTyping()),
		registry: registry,
		locks:    locks,
	}
	alice, bob := h.connectPair(t)

	alice.send(t, h.hub, types.MessageTypeLockRequest,
		&types.LockRequestPayload{DocumentType: "event", DocumentID: "ev-1"})
	alice.expect(t, types.MessageTypeLockResponse)
	bob.expect(t, types.MessageTypeLocked)

	time.Sleep(20 * time.Millisecond)
	h.hub.ExpireLocks()

	for _, c := range []*testClient{alice, bob} {
		env := c.expect(t, types.MessageTypeUnlock)
		var unlock types.UnlockEventPayload
		decodePayload(t, env, &unlock)
		if unlock.Reason != types.UnlockReasonExpired || unlock.UserID != "alice" {
			t.Errorf("Unexpected expiry event: %+v", unlock)
		}
	}

	if h.locks.Count() != 0 {
		t.Errorf("Expected expired lock to be swept, count=%d", h.locks.Count())
	}

	// A sweep with nothing lapsed broadcasts nothing; the connection's next
	// message is the marker event.
	h.hub.ExpireLocks()
	alice.send(t, h.hub, types.MessageTypePresenceUpdate,
		&types.PresenceUpdatePayload{Activity: types.ActivityIdle})
	bob.expect(t, types.MessageTypePresenceUpdate)
}

func TestStats(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.connectPair(t)

	alice.send(t, h.hub, types.MessageTypeLockRequest,
		&types.LockRequestPayload{DocumentType: "case_study", DocumentID: "cs-1"})
	alice.expect(t, types.MessageTypeLockResponse)

	alice.send(t, h.hub, types.MessageTypeStartViewing,
		&types.ViewingPayload{DocumentType: "event", DocumentID: "ev-1"})
	alice.expect(t, types.MessageTypeViewersUpdated)

	stats := h.hub.Stats()
	if stats["online_users"] != 2 {
		t.Errorf("Expected 2 online users, got %d", stats["online_users"])
	}
	if stats["active_locks"] != 1 {
		t.Errorf("Expected 1 active lock, got %d", stats["active_locks"])
	}
	if stats["viewed_documents"] != 1 {
		t.Errorf("Expected 1 viewed document, got %d", stats["viewed_documents"])
	}
}

func TestBroadcastDocumentUnlockForcesRelease(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.connectPair(t)

	alice.send(t, h.hub, types.MessageTypeLockRequest,
		&types.LockRequestPayload{DocumentType: "case_study", DocumentID: "cs-1"})
	alice.expect(t, types.MessageTypeLockResponse)
	bob.expect(t, types.MessageTypeLocked)

	h.hub.BroadcastDocumentUnlock("case_study", "cs-1", types.UnlockReasonExplicit)

	for _, c := range []*testClient{alice, bob} {
		env := c.expect(t, types.MessageTypeUnlock)
		var unlock types.UnlockEventPayload
		decodePayload(t, env, &unlock)
		if unlock.UserID != "alice" || unlock.Reason != types.UnlockReasonExplicit {
			t.Errorf("Unexpected unlock event: %+v", unlock)
		}
	}
	if _, ok := h.locks.Get("case_study", "cs-1"); ok {
		t.Error("Expected the lock to be force-released")
	}

	// Unlocking an unheld document still broadcasts, with no holder identity.
	h.hub.BroadcastDocumentUnlock("case_study", "cs-2", types.UnlockReasonExplicit)
	env := bob.expect(t, types.MessageTypeUnlock)
	var unlock types.UnlockEventPayload
	decodePayload(t, env, &unlock)
	if unlock.UserID != "" || unlock.DocumentID != "cs-2" {
		t.Errorf("Unexpected unlock event: %+v", unlock)
	}
}

func TestNotifyDocumentLock(t *testing.T) {
	h := newHarness(t)
	alice, _ := h.connectPair(t)

	h.hub.NotifyDocumentLock(&types.DocumentLock{
		DocumentType: "case_study",
		DocumentID:   "cs-7",
		UserID:       "system",
		UserName:     "System",
	})

	env := alice.expect(t, types.MessageTypeLocked)
	var lockInfo types.DocumentLock
	decodePayload(t, env, &lockInfo)
	if lockInfo.UserID != "system" || lockInfo.DocumentID != "cs-7" {
		t.Errorf("Unexpected lock notification: %+v", lockInfo)
	}
}

func TestBroadcastChatMessage(t *testing.T) {
	h := newHarness(t)
	alice, bob := h.connectPair(t)

	msg := relay.NewChatMessage("", "Scheduler", "", "evidence review due Friday")
	h.hub.BroadcastChatMessage(msg)

	for i, c := range []*testClient{alice, bob} {
		env := c.expect(t, types.MessageTypeChatMessage)
		var received types.ChatMessagePayload
		decodePayload(t, env, &received)
		if received.FromUserName != "Scheduler" {
			t.Errorf("Client %d: unexpected sender %q", i, received.FromUserName)
		}
	}

	targeted := relay.NewChatMessage("", "Scheduler", "bob", "your lock expires soon")
	h.hub.BroadcastChatMessage(targeted)
	env := bob.expect(t, types.MessageTypeChatMessage)
	var received types.ChatMessagePayload
	decodePayload(t, env, &received)
	if received.ToUserID != "bob" {
		t.Errorf("Unexpected targeted notification: %+v", received)
	}
	alice.expectNone(t)
}
