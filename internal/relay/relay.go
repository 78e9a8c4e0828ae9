package relay

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"staffroom/pkg/types"
)

// StaleAfter is how old a typing entry may be before display code should
// treat it as stale. Stop-typing and disconnect both remove entries, so no
// sweep runs here; the threshold only guards against a lost stop signal.
const StaleAfter = 5 * time.Second

type typingEntry struct {
	name  string
	since time.Time
}

// Typing holds the ephemeral who-is-typing state. Best effort throughout: a
// dropped indicator costs nothing but cosmetics.
type Typing struct {
	mu      sync.Mutex
	entries map[string]typingEntry
}

// NewTyping creates an empty typing-state table.
func NewTyping() *Typing {
	return &Typing{entries: make(map[string]typingEntry)}
}

// Start stores or overwrites the typing entry for a user.
func (t *Typing) Start(userID, name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[userID] = typingEntry{name: name, since: time.Now()}
}

// Stop removes the typing entry for a user. Reports whether one existed.
func (t *Typing) Stop(userID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, exists := t.entries[userID]; !exists {
		return false
	}
	delete(t.entries, userID)
	return true
}

// Active returns the users typing more recently than StaleAfter.
func (t *Typing) Active() []types.TypingPayload {
	cutoff := time.Now().Add(-StaleAfter)

	t.mu.Lock()
	defer t.mu.Unlock()

	active := make([]types.TypingPayload, 0, len(t.entries))
	for userID, entry := range t.entries {
		if entry.since.After(cutoff) {
			active = append(active, types.TypingPayload{UserID: userID, UserName: entry.name})
		}
	}
	return active
}

// NewChatMessage stamps an outbound chat message with a server-side ID and
// timestamp. Sender identity comes from the authenticated connection, never
// from the payload.
func NewChatMessage(fromUserID, fromUserName, toUserID, body string) *types.ChatMessagePayload {
	return &types.ChatMessagePayload{
		ID:           uuid.New().String(),
		FromUserID:   fromUserID,
		FromUserName: fromUserName,
		ToUserID:     toUserID,
		Message:      body,
		Timestamp:    time.Now(),
	}
}
