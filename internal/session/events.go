package session

import (
	"time"

	"github.com/mwakai/touch-grass/internal/domain"
)

// EventKind names a session transition.
type EventKind string

const (
	EventLogin   EventKind = "login"
	EventSignup  EventKind = "signup"
	EventLogout  EventKind = "logout"
	EventRefresh EventKind = "refresh"
	EventRestore EventKind = "restore"
)

// Event describes a completed session transition.
type Event struct {
	Kind          EventKind    `json:"kind"`
	DeviceID      string       `json:"-"`
	Authenticated bool         `json:"authenticated"`
	User          *domain.User `json:"user,omitempty"`
	At            time.Time    `json:"at"`
}

// Notifier receives session events. Implementations must not call back into the Store.
type Notifier interface {
	Notify(ev Event)
}

// Recorder counts auth action outcomes.
type Recorder interface {
	RecordAuthAction(action, outcome string)
}
