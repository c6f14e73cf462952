package engine

import "time"

// NotificationKind is the sync lifecycle signal consumed by the UI facade.
type NotificationKind int

const (
	NotifySyncStarted NotificationKind = iota + 1
	NotifySyncCompleted
	NotifySyncFailed
)

// String returns the lowercase name of the kind.
func (k NotificationKind) String() string {
	switch k {
	case NotifySyncStarted:
		return "started"
	case NotifySyncCompleted:
		return "completed"
	case NotifySyncFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Notification is one typed sync lifecycle event.
type Notification struct {
	Kind   NotificationKind
	UserID string
	Err    error // set only for NotifySyncFailed
	At     time.Time
}

// Notifications returns the engine's event channel. The channel is buffered;
// if no subscriber drains it, events are dropped rather than blocking a
// sync cycle.
func (e *Engine) Notifications() <-chan Notification {
	return e.notifications
}

func (e *Engine) notify(kind NotificationKind, userID string, err error) {
	n := Notification{Kind: kind, UserID: userID, Err: err, At: e.now()}
	select {
	case e.notifications <- n:
	default:
	}
}

// SyncState is the aggregate sync status exposed to the UI layer.
type SyncState int

const (
	StateSynced SyncState = iota + 1
	StateSyncing
	StatePending
	StateError
)

// String returns the lowercase name of the state.
func (s SyncState) String() string {
	switch s {
	case StateSynced:
		return "synced"
	case StateSyncing:
		return "syncing"
	case StatePending:
		return "pending"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is the aggregate answer to "is my data safe". Sync failures are
// silent to the end user except through this value.
type Status struct {
	State   SyncState
	Pending int   // unsynced local records awaiting upload
	Err     error // last cycle error, if State == StateError
}
