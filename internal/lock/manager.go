package lock

import (
	"sync"
	"time"

	"staffroom/pkg/types"
)

// Manager is the document lock state machine: per key, Unlocked →
// Locked(holder, expiry) → Unlocked. It holds no transport concerns; callers
// broadcast the transitions it reports. All operations are atomic against the
// current lock state, and every returned lock is a copy.
type Manager struct {
	mu    sync.Mutex
	locks map[types.DocumentKey]*types.DocumentLock
	lease time.Duration
	now   func() time.Time
}

// Result describes the outcome of an acquire request.
type Result struct {
	// Granted is true when the requester now holds the lock.
	Granted bool
	// Renewed is true when the grant extended a lease the requester already
	// held, so no "locked" broadcast is due.
	Renewed bool
	// Lock is the granted lock, or the current holder's lock on rejection.
	Lock *types.DocumentLock
}

// NewManager creates a lock manager with the given lease duration.
func NewManager(lease time.Duration) *Manager {
	return &Manager{
		locks: make(map[types.DocumentKey]*types.DocumentLock),
		lease: lease,
		now:   time.Now,
	}
}

// Acquire requests the lock for a document. An absent or expired lock is
// granted fresh; a live lock held by the requester is renewed in place with
// no unlock/relock gap; a live lock held by anyone else is rejected without
// mutating holder or expiry.
func (m *Manager) Acquire(userID, userName, docType, docID string) Result {
	key := types.DocumentKey{Type: docType, ID: docID}
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, held := m.locks[key]
	if held && !existing.Expired(now) {
		if existing.UserID == userID {
			existing.ExpiresAt = now.Add(m.lease)
			existing.UserName = userName
			return Result{Granted: true, Renewed: true, Lock: copyLock(existing)}
		}
		return Result{Granted: false, Lock: copyLock(existing)}
	}

	granted := &types.DocumentLock{
		DocumentType: docType,
		DocumentID:   docID,
		UserID:       userID,
		UserName:     userName,
		AcquiredAt:   now,
		ExpiresAt:    now.Add(m.lease),
	}
	m.locks[key] = granted

	return Result{Granted: true, Lock: copyLock(granted)}
}

// Release removes the lock for a document if the requester holds it. A
// request from a non-holder is a no-op that reports false, leaking nothing.
func (m *Manager) Release(userID, docType, docID string) (*types.DocumentLock, bool) {
	key := types.DocumentKey{Type: docType, ID: docID}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, held := m.locks[key]
	if !held || existing.UserID != userID {
		return nil, false
	}

	delete(m.locks, key)
	return copyLock(existing), true
}

// ReleaseAll removes every lock the given identity holds and returns them.
// Used on disconnect and on a client's own idle-release request.
func (m *Manager) ReleaseAll(userID string) []*types.DocumentLock {
	m.mu.Lock()
	defer m.mu.Unlock()

	var released []*types.DocumentLock
	for key, existing := range m.locks {
		if existing.UserID == userID {
			released = append(released, copyLock(existing))
			delete(m.locks, key)
		}
	}
	return released
}

// Expire sweeps out every lock whose lease has lapsed and returns them.
func (m *Manager) Expire() []*types.DocumentLock {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []*types.DocumentLock
	for key, existing := range m.locks {
		if existing.Expired(now) {
			expired = append(expired, copyLock(existing))
			delete(m.locks, key)
		}
	}
	return expired
}

// Get returns the live lock for a document, if any.
func (m *Manager) Get(docType, docID string) (*types.DocumentLock, bool) {
	key := types.DocumentKey{Type: docType, ID: docID}

	m.mu.Lock()
	defer m.mu.Unlock()

	existing, held := m.locks[key]
	if !held || existing.Expired(m.now()) {
		return nil, false
	}
	return copyLock(existing), true
}

// Snapshot returns a copy of every live lock, for the connect-time state
// message and the HTTP surface.
func (m *Manager) Snapshot() []*types.DocumentLock {
	now := m.now()

	m.mu.Lock()
	defer m.mu.Unlock()

	locks := make([]*types.DocumentLock, 0, len(m.locks))
	for _, existing := range m.locks {
		if !existing.Expired(now) {
			locks = append(locks, copyLock(existing))
		}
	}
	return locks
}

// Count returns the number of held locks, expired entries included until the
// next sweep.
func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.locks)
}

func copyLock(l *types.DocumentLock) *types.DocumentLock {
	c := *l
	return &c
}
