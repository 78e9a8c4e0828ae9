package viewer

import (
	"sync"

	"staffroom/pkg/types"
)

// Tracker maintains the non-exclusive "who is looking at this document" sets.
// Membership only: display names are resolved at broadcast time so a rename
// never leaves stale entries here. Sets are created lazily and removed when
// empty.
type Tracker struct {
	mu      sync.Mutex
	viewers map[types.DocumentKey]map[string]struct{}
}

// NewTracker creates an empty viewer tracker.
func NewTracker() *Tracker {
	return &Tracker{
		viewers: make(map[types.DocumentKey]map[string]struct{}),
	}
}

// Start adds a user to a document's viewer set. Reports whether membership
// changed.
func (t *Tracker) Start(userID, docType, docID string) bool {
	key := types.DocumentKey{Type: docType, ID: docID}

	t.mu.Lock()
	defer t.mu.Unlock()

	set, exists := t.viewers[key]
	if !exists {
		set = make(map[string]struct{})
		t.viewers[key] = set
	}
	if _, member := set[userID]; member {
		return false
	}
	set[userID] = struct{}{}
	return true
}

// Stop removes a user from a document's viewer set, dropping the set if that
// left it empty. Reports whether membership changed.
func (t *Tracker) Stop(userID, docType, docID string) bool {
	key := types.DocumentKey{Type: docType, ID: docID}

	t.mu.Lock()
	defer t.mu.Unlock()

	set, exists := t.viewers[key]
	if !exists {
		return false
	}
	if _, member := set[userID]; !member {
		return false
	}
	delete(set, userID)
	if len(set) == 0 {
		delete(t.viewers, key)
	}
	return true
}

// StopAll removes a user from every viewer set and returns the affected
// document keys, for the disconnect cascade.
func (t *Tracker) StopAll(userID string) []types.DocumentKey {
	t.mu.Lock()
	defer t.mu.Unlock()

	var affected []types.DocumentKey
	for key, set := range t.viewers {
		if _, member := set[userID]; member {
			delete(set, userID)
			if len(set) == 0 {
				delete(t.viewers, key)
			}
			affected = append(affected, key)
		}
	}
	return affected
}

// Viewers returns the member identities for a document. An empty slice, not
// nil, so the serialized broadcast carries an explicit empty list.
func (t *Tracker) Viewers(docType, docID string) []string {
	key := types.DocumentKey{Type: docType, ID: docID}

	t.mu.Lock()
	defer t.mu.Unlock()

	set := t.viewers[key]
	members := make([]string, 0, len(set))
	for userID := range set {
		members = append(members, userID)
	}
	return members
}

// Count returns the number of documents with at least one viewer.
func (t *Tracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.viewers)
}
