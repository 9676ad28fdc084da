package invite

import "time"

// Invite is a single-use invitation for an email address to join a project.
type Invite struct {
	ID        string     `json:"id"`
	ProjectID string     `json:"project_id"`
	Email     string     `json:"email"`
	Used      bool       `json:"used"`
	CreatedBy string     `json:"created_by,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UsedAt    *time.Time `json:"used_at,omitempty"`
}

// Created is returned when an invite is issued. Token is only ever available
// here; the store keeps its hash.
type Created struct {
	Invite Invite `json:"invite"`
	Token  string `json:"token"`
	Link   string `json:"link"`
}

// Outcome is the result of following an invite link.
type Outcome int

const (
	// Invalid means the token is unknown or already spent by someone else.
	Invalid Outcome = iota
	// AlreadyMember means the invited user is already on the project.
	AlreadyMember
	// Added means the invited user was added by this resolution.
	Added
	// Deferred means no account exists yet for the invited email; the
	// token is claimed at registration.
	Deferred
)

func (o Outcome) String() string {
	switch o {
	case AlreadyMember:
		return "already_member"
	case Added:
		return "added"
	case Deferred:
		return "deferred"
	default:
		return "invalid"
	}
}

// MarshalText renders the outcome as its string form in JSON.
func (o Outcome) MarshalText() ([]byte, error) {
	return []byte(o.String()), nil
}

// Resolution describes what following an invite link did.
type Resolution struct {
	Outcome   Outcome `json:"outcome"`
	ProjectID string  `json:"project_id,omitempty"`
	Email     string  `json:"email,omitempty"`
}
