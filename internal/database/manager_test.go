package database

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"staffroom/pkg/types"
)

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	path := filepath.Join(t.TempDir(), "staffroom_test.db")
	manager, err := NewManager(path, 30*time.Second)
	if err != nil {
		t.Fatalf("Failed to create manager: %v", err)
	}
	t.Cleanup(func() { manager.Close() })
	return manager
}

func TestUpsertAndGetUser(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	profile := &types.UserProfile{ID: "alice", Name: "Alice", Role: "coordinator"}
	if err := manager.UpsertUser(ctx, profile); err != nil {
		t.Fatalf("UpsertUser failed: %v", err)
	}

	got, err := manager.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUser failed: %v", err)
	}
	if got.ID != "alice" || got.Name != "Alice" || got.Role != "coordinator" {
		t.Errorf("Unexpected profile: %+v", got)
	}

	// Updating in place keeps a single row.
	profile.Name = "Alice B"
	profile.Role = "staff"
	if err := manager.UpsertUser(ctx, profile); err != nil {
		t.Fatalf("Second UpsertUser failed: %v", err)
	}

	got, err = manager.GetUser(ctx, "alice")
	if err != nil {
		t.Fatalf("GetUser after update failed: %v", err)
	}
	if got.Name != "Alice B" || got.Role != "staff" {
		t.Errorf("Expected updated profile, got %+v", got)
	}
}

func TestGetUserNotFound(t *testing.T) {
	manager := newTestManager(t)

	_, err := manager.GetUser(context.Background(), "missing")
	if !errors.Is(err, ErrUserNotFound) {
		t.Errorf("Expected ErrUserNotFound, got %v", err)
	}
}

func TestUpsertUserValidation(t *testing.T) {
	manager := newTestManager(t)
	ctx := context.Background()

	if err := manager.UpsertUser(ctx, nil); err == nil {
		t.Error("Expected error for nil profile")
	}
	if err := manager.UpsertUser(ctx, &types.UserProfile{ID: "bad id", Name: "X"}); !errors.Is(err, types.ErrInvalidUserID) {
		t.Errorf("Expected ErrInvalidUserID, got %v", err)
	}
	if err := manager.UpsertUser(ctx, &types.UserProfile{ID: "alice", Name: ""}); err == nil {
		t.Error("Expected error for empty name")
	}
}

func TestHealthCheck(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck failed: %v", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	manager := newTestManager(t)

	if err := manager.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := manager.Close(); err != nil {
		t.Errorf("Second Close should be a no-op, got %v", err)
	}

	err := manager.UpsertUser(context.Background(), &types.UserProfile{ID: "alice", Name: "Alice"})
	if !errors.Is(err, ErrManagerClosed) {
		t.Errorf("Expected ErrManagerClosed after Close, got %v", err)
	}
}
