package auth

import (
	"context"
)

// SessionCookieName is the cookie that carries the session token for
// browser clients that do not send an Authorization header.
const SessionCookieName = "teamspace_session"

// User represents an authenticated caller. It is the only identity the
// workspace core needs: an id and a display name.
type User struct {
	ID    string
	Email string
	Name  string
}

// SessionLookup is the interface for resolving session tokens to users.
type SessionLookup interface {
	LookupSession(ctx context.Context, token string) (*User, error)
}
