package presence

import (
	"sort"

	"staffroom/internal/websocket"
	"staffroom/pkg/types"
)

// Tracker derives the "who is online, doing what" view from the connection
// registry. It owns no state of its own: the registry's ConnectedUser records
// are the single source of truth, and this component shapes them into the
// snapshot and delta payloads the wire protocol carries.
type Tracker struct {
	registry *websocket.Registry
}

// NewTracker creates a presence tracker over the registry.
func NewTracker(registry *websocket.Registry) *Tracker {
	return &Tracker{registry: registry}
}

// SetActivity validates and applies a declared activity change.
func (t *Tracker) SetActivity(conn *websocket.Connection, activity string) error {
	if !types.IsValidActivity(activity) {
		return types.ErrInvalidActivity
	}
	conn.SetActivity(activity)
	return nil
}

// Snapshot returns every online user's public record, ordered by identity so
// repeated snapshots are stable for clients and tests.
func (t *Tracker) Snapshot() []*types.ConnectedUser {
	users := t.registry.OnlineUsers()
	sort.Slice(users, func(i, j int) bool {
		return users[i].UserID < users[j].UserID
	})
	return users
}

// State builds the full snapshot message for a newly connected client: its
// own record, everyone online, and the live locks. The joining client needs
// full state while everyone else gets only the joined delta.
func (t *Tracker) State(self *types.ConnectedUser, locks []*types.DocumentLock) *types.PresenceStatePayload {
	return &types.PresenceStatePayload{
		Self:  self,
		Users: t.Snapshot(),
		Locks: locks,
	}
}

// Joined builds the delta broadcast for an arrival.
func (t *Tracker) Joined(user *types.ConnectedUser) *types.PresenceEventPayload {
	return &types.PresenceEventPayload{
		Action:   types.PresenceActionJoined,
		UserID:   user.UserID,
		UserName: user.Name,
		Activity: user.Activity,
	}
}

// Changed builds the delta broadcast for an activity change.
func (t *Tracker) Changed(user *types.ConnectedUser) *types.PresenceEventPayload {
	return &types.PresenceEventPayload{
		Action:   types.PresenceActionActivity,
		UserID:   user.UserID,
		Activity: user.Activity,
	}
}

// Left builds the delta broadcast for a departure. Identity only.
func (t *Tracker) Left(userID string) *types.PresenceEventPayload {
	return &types.PresenceEventPayload{
		Action: types.PresenceActionLeft,
		UserID: userID,
	}
}
