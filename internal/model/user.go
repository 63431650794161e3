// Package model defines the data structures used throughout the application.
// In Go, we use structs to represent our data. Go favours composition over
// inheritance, so shared shapes are embedded rather than extended.
package model

import "time"

// Role is the authorization level carried by every user and principal.
//
// Roles are stored and compared exactly as written here (upper case).
// Pages may render them differently, but that is display only.
type Role string

const (
	RoleAdmin     Role = "ADMIN"
	RoleDeveloper Role = "DEVELOPER"
	RoleUser      Role = "USER"
)

// DefaultRole is assigned on self-signup and on first OAuth login.
const DefaultRole = RoleDeveloper

// Valid reports whether r is one of the enumerated roles.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleDeveloper, RoleUser:
		return true
	default:
		return false
	}
}

// User represents a registrable principal.
//
// OPTIONAL FIELDS AS EMPTY STRINGS:
// Name, AvatarURL and PasswordHash are optional. We store "" for "absent"
// rather than using nullable pointers, so the zero value is safe to display
// and safe to scan from the database.
//
// PasswordHash is only set for accounts created through local signup.
// Accounts provisioned by an OAuth login never get one, which means a
// password login for them always fails.
//
// The `json:"-"` tag keeps the hash out of every API response, even if a
// handler accidentally encodes a full User.
type User struct {
	ID           string    `json:"id"`
	Email        string    `json:"email"`
	Name         string    `json:"name,omitempty"`
	PasswordHash string    `json:"-"`
	AvatarURL    string    `json:"avatarUrl,omitempty"`
	Role         Role      `json:"role"`
	CreatedAt    time.Time `json:"createdAt"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// HasPassword reports whether the user can log in with a local password.
func (u *User) HasPassword() bool {
	return u.PasswordHash != ""
}

// Principal builds the canonical authenticated identity for this user.
func (u *User) Principal() *Principal {
	return &Principal{
		ID:        u.ID,
		Email:     u.Email,
		Name:      u.Name,
		AvatarURL: u.AvatarURL,
		Role:      u.Role,
	}
}

// UserSummary is a row of the user search listing.
type UserSummary struct {
	User
	ConnectionCount int `json:"connectionCount"`
	SharedCount     int `json:"sharedCount"`
}

// UserRef is the compact user shape embedded in other listings.
type UserRef struct {
	ID        string `json:"id"`
	Name      string `json:"name,omitempty"`
	Email     string `json:"email"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}
