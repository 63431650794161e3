package model

import "time"

// Principal is the authenticated identity attached to a request.
//
// ID, Email and Role are always set. Name and AvatarURL are optional.
// A Principal is built from a live User row on every request (see the
// session lookup in the auth service), so Role is never stale.
type Principal struct {
	ID        string `json:"id"`
	Email     string `json:"email"`
	Name      string `json:"name,omitempty"`
	AvatarURL string `json:"avatarUrl,omitempty"`
	Role      Role   `json:"role"`
}

// HasRole reports whether the principal holds any of the given roles.
// Comparison is exact and case-sensitive.
func (p *Principal) HasRole(roles ...Role) bool {
	if p == nil {
		return false
	}
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// Session is a server-tracked login session.
//
// TokenHash is the SHA-256 of the opaque cookie value. The raw token is
// only ever held by the client, so a leaked database row cannot be
// replayed as a cookie.
type Session struct {
	TokenHash  string
	UserID     string
	CreatedAt  time.Time
	ExpiresAt  time.Time
	LastActive time.Time

	// Renewed is set when the lookup extended ExpiresAt, telling the
	// caller to re-issue the cookie. Not persisted.
	Renewed bool
}

// Stats is the dashboard aggregate.
type Stats struct {
	TotalConnections  int `json:"totalConnections"`
	TotalUsers        int `json:"totalUsers"`
	RecentConnections int `json:"recentConnections"`
}
