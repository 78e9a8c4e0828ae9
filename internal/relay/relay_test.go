package relay

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestTypingStartStop(t *testing.T) {
	typing := NewTyping()

	typing.Start("alice", "Alice")
	typing.Start("bob", "Bob")

	active := typing.Active()
	if len(active) != 2 {
		t.Fatalf("Expected 2 active typists, got %d", len(active))
	}

	if !typing.Stop("alice") {
		t.Error("Expected Stop to report an existing entry")
	}
	if typing.Stop("alice") {
		t.Error("Expected repeated Stop to report absence")
	}
	if typing.Stop("carol") {
		t.Error("Expected Stop for an unknown user to report absence")
	}

	active = typing.Active()
	if len(active) != 1 || active[0].UserID != "bob" {
		t.Errorf("Unexpected active typists: %v", active)
	}
	if active[0].UserName != "Bob" {
		t.Errorf("Expected display name Bob, got %q", active[0].UserName)
	}
}

func TestTypingStartOverwrites(t *testing.T) {
	typing := NewTyping()

	typing.Start("alice", "Alice")
	typing.Start("alice", "Alice B")

	active := typing.Active()
	if len(active) != 1 {
		t.Fatalf("Expected a single entry after overwrite, got %d", len(active))
	}
	if active[0].UserName != "Alice B" {
		t.Errorf("Expected overwritten name, got %q", active[0].UserName)
	}
}

func TestActiveFiltersStaleEntries(t *testing.T) {
	typing := NewTyping()

	typing.Start("alice", "Alice")
	typing.mu.Lock()
	typing.entries["alice"] = typingEntry{name: "Alice", since: time.Now().Add(-StaleAfter - time.Second)}
	typing.mu.Unlock()

	if active := typing.Active(); len(active) != 0 {
		t.Errorf("Expected stale entry to be filtered, got %v", active)
	}
}

func TestNewChatMessage(t *testing.T) {
	before := time.Now()
	msg := NewChatMessage("alice", "Alice", "bob", "hello")

	if _, err := uuid.Parse(msg.ID); err != nil {
		t.Errorf("Expected a valid UUID, got %q: %v", msg.ID, err)
	}
	if msg.FromUserID != "alice" || msg.FromUserName != "Alice" {
		t.Errorf("Unexpected sender identity: %+v", msg)
	}
	if msg.ToUserID != "bob" {
		t.Errorf("Expected recipient bob, got %q", msg.ToUserID)
	}
	if msg.Message != "hello" {
		t.Errorf("Expected body hello, got %q", msg.Message)
	}
	if msg.Timestamp.Before(before) || msg.Timestamp.After(time.Now()) {
		t.Errorf("Timestamp %v outside expected range", msg.Timestamp)
	}

	other := NewChatMessage("alice", "Alice", "", "again")
	if other.ID == msg.ID {
		t.Error("Expected distinct message IDs")
	}
	if other.ToUserID != "" {
		t.Errorf("Expected empty recipient for broadcast message, got %q", other.ToUserID)
	}
}
