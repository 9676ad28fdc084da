package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alecgard/teamspace/internal/metrics"
)

// MaxWeeks bounds the length of a project.
const MaxWeeks = 52

var (
	ErrProjectNotFound  = errors.New("project not found")
	ErrNotAMember       = errors.New("user is not a member of this project")
	ErrProjectCompleted = errors.New("project is already completed")
	ErrAlreadyVoted     = errors.New("vote already recorded for this week")
	ErrNameRequired     = errors.New("project name is required")
	ErrWeeksInvalid     = fmt.Errorf("weeks must be between 1 and %d", MaxWeeks)
	ErrActionInvalid    = errors.New("action must be advance or finish")
	ErrInvalidCursor    = errors.New("cursor is malformed")
)

// Repository persists projects, memberships and votes.
type Repository interface {
	CreateProject(ctx context.Context, in CreateProjectInput, creatorID string) (*Project, error)
	GetProject(ctx context.Context, id string) (*Project, error)
	ListProjects(ctx context.Context, params ListParams) ([]Summary, string, error)
	ListMembers(ctx context.Context, projectID string) ([]Member, error)
	AddMember(ctx context.Context, projectID, userID string) (bool, error)
	IsMember(ctx context.Context, projectID, userID string) (bool, error)
	Tally(ctx context.Context, projectID string, week int) (Tally, error)
	VotesBy(ctx context.Context, projectID string, week int, userID string) ([]Action, error)

	// WithProjectLock runs fn while holding an exclusive lock on the project
	// row. Changes made through the LockedProject commit only if fn returns
	// nil. It returns ErrProjectNotFound when the project does not exist.
	WithProjectLock(ctx context.Context, projectID string, fn func(LockedProject) error) error
}

// LockedProject is a view of one project inside its lock.
type LockedProject interface {
	Project() Project
	IsMember(ctx context.Context, userID string) (bool, error)
	MemberCount(ctx context.Context) (int, error)
	// InsertVote records v and reports false when an identical vote exists.
	InsertVote(ctx context.Context, v Vote) (bool, error)
	Tally(ctx context.Context, week int) (Tally, error)
	AdvanceWeek(ctx context.Context) error
	Complete(ctx context.Context, at time.Time) error
}

// UserResolver maps an email address to a registered user ID.
type UserResolver interface {
	UserIDByEmail(ctx context.Context, email string) (string, error)
}

// Notifier delivers a message to a set of recipients. It must not block on
// delivery.
type Notifier interface {
	Notify(to []string, subject, body string)
}

// Broadcaster pushes live events to connected clients.
type Broadcaster interface {
	Emit(event string, payload any)
}

type nopNotifier struct{}

func (nopNotifier) Notify([]string, string, string) {}

type nopBroadcaster struct{}

func (nopBroadcaster) Emit(string, any) {}

// Service implements project lifecycle and week progression.
type Service struct {
	repo     Repository
	users    UserResolver
	notifier Notifier
	live     Broadcaster
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewService creates a new project Service. A nil notifier or broadcaster
// disables that side effect.
func NewService(repo Repository, users UserResolver, notifier Notifier, live Broadcaster, m *metrics.Metrics) *Service {
	if notifier == nil {
		notifier = nopNotifier{}
	}
	if live == nil {
		live = nopBroadcaster{}
	}
	return &Service{
		repo:     repo,
		users:    users,
		notifier: notifier,
		live:     live,
		metrics:  m,
		now:      time.Now,
	}
}

// CreateProject validates input and creates a project with the creator as
// its first member.
func (s *Service) CreateProject(ctx context.Context, creator Actor, in CreateProjectInput) (*Project, error) {
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" {
		return nil, ErrNameRequired
	}
	if in.Weeks < 1 || in.Weeks > MaxWeeks {
		return nil, ErrWeeksInvalid
	}

	p, err := s.repo.CreateProject(ctx, in, creator.ID)
	if err != nil {
		return nil, fmt.Errorf("creating project: %w", err)
	}

	s.live.Emit("project.created", map[string]any{"project_id": p.ID, "name": p.Name})
	return p, nil
}

// Get returns a project by ID.
func (s *Service) Get(ctx context.Context, projectID string) (*Project, error) {
	return s.repo.GetProject(ctx, projectID)
}

// List returns a page of projects with their member counts and the cursor
// of the next page.
func (s *Service) List(ctx context.Context, params ListParams) ([]Summary, string, error) {
	return s.repo.ListProjects(ctx, params)
}

// Members returns the roster of a project.
func (s *Service) Members(ctx context.Context, projectID string) ([]Member, error) {
	if _, err := s.repo.GetProject(ctx, projectID); err != nil {
		return nil, err
	}
	return s.repo.ListMembers(ctx, projectID)
}

// RequireMember returns ErrNotAMember unless userID belongs to the project.
func (s *Service) RequireMember(ctx context.Context, projectID, userID string) (*Project, error) {
	p, err := s.repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	ok, err := s.repo.IsMember(ctx, projectID, userID)
	if err != nil {
		return nil, fmt.Errorf("checking membership: %w", err)
	}
	if !ok {
		return nil, ErrNotAMember
	}
	return p, nil
}

// Status returns the current state of a project as seen by viewerID. An
// empty viewerID renders the anonymous view. Only members see the roster.
func (s *Service) Status(ctx context.Context, projectID, viewerID string) (*Status, error) {
	p, err := s.repo.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	members, err := s.repo.ListMembers(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	tally, err := s.repo.Tally(ctx, projectID, p.CurrentWeek)
	if err != nil {
		return nil, fmt.Errorf("tallying votes: %w", err)
	}

	st := &Status{
		Project:     *p,
		Members:     members,
		MemberCount: len(members),
		Votes:       tally,
		MyVotes:     []Action{},
	}
	for _, m := range members {
		if viewerID != "" && m.UserID == viewerID {
			st.IsMember = true
			break
		}
	}
	if !st.IsMember {
		st.Members = nil
		return st, nil
	}
	mine, err := s.repo.VotesBy(ctx, projectID, p.CurrentWeek, viewerID)
	if err != nil {
		return nil, fmt.Errorf("listing votes: %w", err)
	}
	st.MyVotes = mine
	return st, nil
}

// CastVote records actor's action for the project's current week and
// applies the transition it triggers, if any. The membership check, the
// insert, the tally and the state change all happen under the project lock,
// so concurrent votes observe each other and a week advances at most once.
// Notifications and live events are emitted after the change is committed.
func (s *Service) CastVote(ctx context.Context, projectID string, actor Actor, action Action) (*VoteResult, error) {
	if !action.Valid() {
		return nil, ErrActionInvalid
	}

	var (
		res        VoteResult
		transition Transition
	)
	err := s.repo.WithProjectLock(ctx, projectID, func(tx LockedProject) error {
		p := tx.Project()

		ok, err := tx.IsMember(ctx, actor.ID)
		if err != nil {
			return fmt.Errorf("checking membership: %w", err)
		}
		if !ok {
			return ErrNotAMember
		}
		if p.Completed {
			return ErrProjectCompleted
		}

		inserted, err := tx.InsertVote(ctx, Vote{
			ProjectID: p.ID,
			Week:      p.CurrentWeek,
			UserID:    actor.ID,
			Action:    action,
			CastAt:    s.now(),
		})
		if err != nil {
			return fmt.Errorf("recording vote: %w", err)
		}
		if !inserted {
			return ErrAlreadyVoted
		}

		members, err := tx.MemberCount(ctx)
		if err != nil {
			return fmt.Errorf("counting members: %w", err)
		}
		tally, err := tx.Tally(ctx, p.CurrentWeek)
		if err != nil {
			return fmt.Errorf("tallying votes: %w", err)
		}

		transition = Evaluate(p, action, members, tally)
		switch transition {
		case TransitionAdvanced:
			if err := tx.AdvanceWeek(ctx); err != nil {
				return fmt.Errorf("advancing week: %w", err)
			}
			tally = Tally{}
		case TransitionCompleted:
			if err := tx.Complete(ctx, s.now()); err != nil {
				return fmt.Errorf("completing project: %w", err)
			}
		}

		res = VoteResult{
			Project:     tx.Project(),
			MemberCount: members,
			Votes:       tally,
			Transition:  transition,
		}
		return nil
	})
	if err != nil {
		s.metrics.IncVote(string(action), voteResultLabel(err))
		return nil, err
	}
	s.metrics.IncVote(string(action), "accepted")

	slog.Info("vote recorded",
		"project_id", projectID,
		"user_id", actor.ID,
		"action", action,
		"week", voteWeek(res.Project, transition),
		"transition", transition.String(),
	)

	s.announceVote(context.WithoutCancel(ctx), res.Project, actor, action, transition)
	return &res, nil
}

// voteWeek returns the week a vote was cast for, given the state after it.
func voteWeek(p Project, t Transition) int {
	if t == TransitionAdvanced {
		return p.CurrentWeek - 1
	}
	return p.CurrentWeek
}

func voteResultLabel(err error) string {
	if errors.Is(err, ErrAlreadyVoted) {
		return "duplicate"
	}
	return "rejected"
}

func (s *Service) announceVote(ctx context.Context, p Project, actor Actor, action Action, t Transition) {
	week := voteWeek(p, t)

	switch action {
	case ActionAdvance:
		s.notifyMembers(ctx, p.ID, "",
			fmt.Sprintf("%s clicked Go to Next Week", actor.Name),
			fmt.Sprintf("%s clicked Go to Next Week for project %s (Week %d).", actor.Name, p.Name, week))
	case ActionFinish:
		s.notifyMembers(ctx, p.ID, "",
			fmt.Sprintf("%s clicked Finish Project", actor.Name),
			fmt.Sprintf("%s clicked Finish Project for project %s (Week %d).", actor.Name, p.Name, week))
	}
	s.live.Emit("vote.cast", map[string]any{
		"project_id": p.ID,
		"user_id":    actor.ID,
		"action":     action,
		"week":       week,
	})

	switch t {
	case TransitionAdvanced:
		s.metrics.IncTransition(t.String())
		s.notifyMembers(ctx, p.ID, "",
			fmt.Sprintf("Project %s advanced to Week %d", p.Name, p.CurrentWeek),
			fmt.Sprintf("All members clicked Go to Next Week. Project %s is now at Week %d.", p.Name, p.CurrentWeek))
		s.live.Emit("project.week_advanced", map[string]any{"project_id": p.ID, "current_week": p.CurrentWeek})
	case TransitionCompleted:
		s.metrics.IncTransition(t.String())
		s.notifyMembers(ctx, p.ID, "",
			fmt.Sprintf("Project %s completed", p.Name),
			fmt.Sprintf("All members marked project %s as finished.", p.Name))
		s.live.Emit("project.completed", map[string]any{"project_id": p.ID})
	}
}

// AddMember adds userID to the project. Adding an existing member is a
// no-op that reports AlreadyPresent and sends nothing.
func (s *Service) AddMember(ctx context.Context, projectID, userID string) (AddResult, error) {
	if _, err := s.repo.GetProject(ctx, projectID); err != nil {
		return 0, err
	}
	inserted, err := s.repo.AddMember(ctx, projectID, userID)
	if err != nil {
		return 0, fmt.Errorf("adding member: %w", err)
	}
	if !inserted {
		return AlreadyPresent, nil
	}
	s.NotifyJoined(context.WithoutCancel(ctx), projectID, userID)
	return AddedNew, nil
}

// AddMemberByEmail adds the registered user with the given email. It returns
// the resolver's not-found error when no such user exists.
func (s *Service) AddMemberByEmail(ctx context.Context, projectID, email string) (AddResult, string, error) {
	if s.users == nil {
		return 0, "", errors.New("adding by email requires a user resolver")
	}
	userID, err := s.users.UserIDByEmail(ctx, email)
	if err != nil {
		return 0, "", err
	}
	res, err := s.AddMember(ctx, projectID, userID)
	return res, userID, err
}

// NotifyJoined tells a new member they were added and tells everyone else
// about the join. Callers that insert memberships outside AddMember use it
// after their change commits.
func (s *Service) NotifyJoined(ctx context.Context, projectID, userID string) {
	p, err := s.repo.GetProject(ctx, projectID)
	if err != nil {
		slog.Error("loading project for join notice", "project_id", projectID, "error", err)
		return
	}
	members, err := s.repo.ListMembers(ctx, projectID)
	if err != nil {
		slog.Error("listing members for join notice", "project_id", projectID, "error", err)
		return
	}

	var joined *Member
	var others []string
	for i := range members {
		if members[i].UserID == userID {
			joined = &members[i]
			continue
		}
		others = append(others, members[i].Email)
	}
	if joined == nil {
		return
	}

	s.notifier.Notify([]string{joined.Email},
		fmt.Sprintf("You were added to project %s", p.Name),
		fmt.Sprintf("Hi %s,\n\nYou were added to project %s.", joined.Name, p.Name))
	if len(others) > 0 {
		s.notifier.Notify(others,
			fmt.Sprintf("New member joined project %s", p.Name),
			fmt.Sprintf("%s (%s) joined the project.", joined.Name, joined.Email))
	}
	s.live.Emit("member.joined", map[string]any{"project_id": p.ID, "user_id": userID, "name": joined.Name})
}

// NotifyMembers sends a message to every member of the project except
// excludeUserID.
func (s *Service) NotifyMembers(ctx context.Context, projectID, excludeUserID, subject, body string) {
	s.notifyMembers(ctx, projectID, excludeUserID, subject, body)
}

func (s *Service) notifyMembers(ctx context.Context, projectID, excludeUserID, subject, body string) {
	members, err := s.repo.ListMembers(ctx, projectID)
	if err != nil {
		slog.Error("listing members for notification", "project_id", projectID, "error", err)
		return
	}
	to := make([]string, 0, len(members))
	for _, m := range members {
		if m.UserID == excludeUserID {
			continue
		}
		to = append(to, m.Email)
	}
	if len(to) == 0 {
		return
	}
	s.notifier.Notify(to, subject, body)
}
