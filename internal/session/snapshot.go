package session

import (
	"time"

	"github.com/mwakai/touch-grass/internal/domain"
)

// Snapshot is an immutable copy of a Session at one instant.
type Snapshot struct {
	DeviceID       string       `json:"-"`
	User           *domain.User `json:"user"`
	Token          string       `json:"-"`
	Loading        bool         `json:"loading"`
	Error          string       `json:"error,omitempty"`
	TokenExpiresAt *time.Time   `json:"tokenExpiresAt,omitempty"`
}

// IsAuthenticated holds only when both a token and a resolved user are present.
func (s Snapshot) IsAuthenticated() bool {
	return s.Token != "" && s.User != nil
}

// IsParent reports whether the session belongs to a parent account.
func (s Snapshot) IsParent() bool {
	return s.User.IsParent()
}

// IsKid reports whether the session belongs to a kid profile.
func (s Snapshot) IsKid() bool {
	return s.User.IsKid()
}
