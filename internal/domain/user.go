// Package domain contains core domain types for the touch-grass application.
package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Role distinguishes parent accounts from kid profiles.
type Role string

const (
	RoleParent Role = "parent"
	RoleKid    Role = "kid"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r == RoleParent || r == RoleKid
}

// FlexibleID is an identifier the Identity Service may send either as a JSON
// string or as a JSON number. It is always held and re-encoded as a string.
type FlexibleID string

// UnmarshalJSON accepts strings, numbers and null.
func (id *FlexibleID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return fmt.Errorf("decode id: %w", err)
		}
		*id = FlexibleID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("decode id: %w", err)
	}
	*id = FlexibleID(n.String())
	return nil
}

// String returns the identifier text.
func (id FlexibleID) String() string {
	return string(id)
}

// User is the identity record of the signed-in account.
type User struct {
	ID          FlexibleID `json:"id,omitempty"`
	Email       string     `json:"email"`
	Role        Role       `json:"role"`
	Name        string     `json:"name,omitempty"`
	FamilyCode  string     `json:"familyCode,omitempty"`
	Age         *int       `json:"age,omitempty"`
	Interests   []string   `json:"interests,omitempty"`
	AvatarColor string     `json:"avatarColor,omitempty"`
}

// IsParent returns true for parent accounts.
func (u *User) IsParent() bool {
	return u != nil && u.Role == RoleParent
}

// IsKid returns true for kid profiles.
func (u *User) IsKid() bool {
	return u != nil && u.Role == RoleKid
}

// HasIdentity reports whether the record carries at least one identifying attribute.
func (u *User) HasIdentity() bool {
	return u != nil && (strings.TrimSpace(u.ID.String()) != "" || u.Email != "" || u.Role != "")
}

// Clone returns a deep copy of u.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.Age != nil {
		age := *u.Age
		c.Age = &age
	}
	if u.Interests != nil {
		c.Interests = append([]string(nil), u.Interests...)
	}
	return &c
}
