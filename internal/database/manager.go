package database

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"staffroom/pkg/types"
)

// Manager is the user-profile lookup collaborator, backed by the application's
// SQLite database. Reads are concurrent; writes are funnelled through a single
// goroutine because SQLite serializes writers anyway.
type Manager struct {
	db           *sql.DB
	writeChannel chan writeOperation
	shutdown     chan struct{}
	wg           sync.WaitGroup
	closed       bool
	mu           sync.RWMutex
}

type writeOperation struct {
	operation func(*sql.DB) error
	result    chan error
}

const schema = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	name       TEXT NOT NULL,
	role       TEXT NOT NULL DEFAULT 'staff',
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`

// NewManager opens the database, applies the schema and starts the write loop.
func NewManager(path string, timeout time.Duration) (*Manager, error) {
	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetConnMaxLifetime(timeout)
	db.SetConnMaxIdleTime(timeout / 3)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}

	manager := &Manager{
		db:           db,
		writeChannel: make(chan writeOperation, 100),
		shutdown:     make(chan struct{}),
	}

	manager.wg.Add(1)
	go manager.writeLoop()

	return manager, nil
}

func (m *Manager) writeLoop() {
	defer m.wg.Done()

	for {
		select {
		case op := <-m.writeChannel:
			err := op.operation(m.db)
			if err != nil {
				log.Printf("Database write failed, retrying in 5 seconds: %v", err)
				time.Sleep(5 * time.Second)
				err = op.operation(m.db)
				if err != nil {
					log.Printf("Database write failed after retry: %v", err)
				}
			}
			op.result <- err

		case <-m.shutdown:
			return
		}
	}
}

func (m *Manager) executeWrite(operation func(*sql.DB) error) error {
	m.mu.RLock()
	if m.closed {
		m.mu.RUnlock()
		return ErrManagerClosed
	}
	m.mu.RUnlock()

	result := make(chan error, 1)

	select {
	case m.writeChannel <- writeOperation{operation: operation, result: result}:
		return <-result
	case <-time.After(30 * time.Second):
		return fmt.Errorf("write operation timeout")
	case <-m.shutdown:
		return ErrManagerClosed
	}
}

// GetUser resolves a user identity to its profile.
func (m *Manager) GetUser(ctx context.Context, userID string) (*types.UserProfile, error) {
	query := `SELECT id, name, role FROM users WHERE id = ?`

	row := m.db.QueryRowContext(ctx, query, userID)

	var profile types.UserProfile
	if err := row.Scan(&profile.ID, &profile.Name, &profile.Role); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query user %s: %w", userID, err)
	}

	return &profile, nil
}

// UpsertUser creates or updates a profile. Used by the admin API when the
// surrounding application syncs staff records.
func (m *Manager) UpsertUser(ctx context.Context, profile *types.UserProfile) error {
	if profile == nil {
		return fmt.Errorf("profile cannot be nil")
	}
	if !types.IsValidUserID(profile.ID) {
		return types.ErrInvalidUserID
	}
	if profile.Name == "" {
		return fmt.Errorf("profile name cannot be empty")
	}

	return m.executeWrite(func(db *sql.DB) error {
		query := `
			INSERT INTO users (id, name, role, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(id) DO UPDATE SET
				name = excluded.name,
				role = excluded.role,
				updated_at = CURRENT_TIMESTAMP
		`
		if _, err := db.ExecContext(ctx, query, profile.ID, profile.Name, profile.Role); err != nil {
			return fmt.Errorf("failed to upsert user %s: %w", profile.ID, err)
		}
		return nil
	})
}

// HealthCheck verifies database connectivity.
func (m *Manager) HealthCheck(ctx context.Context) error {
	return m.db.PingContext(ctx)
}

// Close stops the write loop and closes the database.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	close(m.shutdown)
	m.wg.Wait()

	return m.db.Close()
}
