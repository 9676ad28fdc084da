package project

import (
	"time"
)

// Action is the kind of readiness signal a member gives for a week.
type Action string

const (
	// ActionAdvance signals the member is ready to move to the next week.
	ActionAdvance Action = "advance"
	// ActionFinish signals the member considers the project complete.
	ActionFinish Action = "finish"
)

// ParseAction converts a wire value into an Action. The legacy "next" label
// is accepted as an alias for advance.
func ParseAction(s string) (Action, error) {
	switch s {
	case "advance", "next":
		return ActionAdvance, nil
	case "finish":
		return ActionFinish, nil
	default:
		return "", ErrActionInvalid
	}
}

// Valid reports whether a is one of the two known actions.
func (a Action) Valid() bool {
	return a == ActionAdvance || a == ActionFinish
}

// Project is a time-boxed group effort split into a fixed number of weeks.
type Project struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Weeks       int        `json:"weeks"`
	CurrentWeek int        `json:"current_week"`
	Completed   bool       `json:"completed"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	CreatedBy   string     `json:"created_by,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

// OnFinalWeek reports whether the project is on its last scheduled week.
func (p Project) OnFinalWeek() bool {
	return p.CurrentWeek == p.Weeks
}

// Summary is a project with its live member count, used for listings.
type Summary struct {
	Project
	MemberCount int `json:"member_count"`
}

// Member is a user that belongs to a project.
type Member struct {
	UserID   string    `json:"user_id"`
	Name     string    `json:"name"`
	Email    string    `json:"email"`
	JoinedAt time.Time `json:"joined_at"`
}

// Vote is one member's action for one week of a project.
type Vote struct {
	ProjectID string    `json:"project_id"`
	Week      int       `json:"week"`
	UserID    string    `json:"user_id"`
	Action    Action    `json:"action"`
	CastAt    time.Time `json:"cast_at"`
}

// Tally holds the vote counts of a single week.
type Tally struct {
	Advance int `json:"advance"`
	Finish  int `json:"finish"`
}

// Count returns the tally for the given action.
func (t Tally) Count(a Action) int {
	if a == ActionFinish {
		return t.Finish
	}
	return t.Advance
}

// Actor identifies the caller of a service operation.
type Actor struct {
	ID   string
	Name string
}

// CreateProjectInput holds the fields required to create a project.
type CreateProjectInput struct {
	Name  string `json:"name"`
	Weeks int    `json:"weeks"`
}

// ListParams filters and paginates project listings. An empty MemberID
// lists every project.
type ListParams struct {
	MemberID string
	Cursor   string
	Limit    int
}

// Status is the renderable state of a project as seen by one viewer.
type Status struct {
	Project     Project  `json:"project"`
	Members     []Member `json:"members,omitempty"`
	MemberCount int      `json:"member_count"`
	Votes       Tally    `json:"votes"`
	IsMember    bool     `json:"is_member"`
	MyVotes     []Action `json:"my_votes"`
}

// Transition is the state change, if any, triggered by an accepted vote.
type Transition int

const (
	TransitionNone Transition = iota
	TransitionAdvanced
	TransitionCompleted
)

func (t Transition) String() string {
	switch t {
	case TransitionAdvanced:
		return "advanced"
	case TransitionCompleted:
		return "completed"
	default:
		return "none"
	}
}

// VoteResult is returned for an accepted vote.
type VoteResult struct {
	Project     Project    `json:"project"`
	MemberCount int        `json:"member_count"`
	Votes       Tally      `json:"votes"`
	Transition  Transition `json:"-"`
}

// AddResult reports whether AddMember created a membership.
type AddResult int

const (
	AddedNew AddResult = iota
	AlreadyPresent
)
