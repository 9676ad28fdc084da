package invite

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alecgard/teamspace/internal/metrics"
	"github.com/alecgard/teamspace/internal/project"
	"github.com/alecgard/teamspace/internal/ratelimit"
	"github.com/alecgard/teamspace/internal/user"
	"github.com/google/uuid"
)

// ErrRateLimited is returned when an inviter has sent too many invites.
var ErrRateLimited = errors.New("too many invites, try again later")

// Repository persists invites.
type Repository interface {
	Create(ctx context.Context, projectID, email, tokenHash, createdBy string) (*Invite, error)
	GetByTokenHash(ctx context.Context, tokenHash string) (*Invite, error)
	ListByProject(ctx context.Context, projectID string) ([]Invite, error)
	Claim(ctx context.Context, tokenHash, email, userID string, at time.Time) (string, bool, error)
}

// Projects is the subset of project.Service the invite flow needs.
type Projects interface {
	RequireMember(ctx context.Context, projectID, userID string) (*project.Project, error)
	NotifyJoined(ctx context.Context, projectID, userID string)
}

// Users resolves invited emails to accounts. A missing account is reported
// with an error wrapping user.ErrNotFound.
type Users interface {
	UserIDByEmail(ctx context.Context, email string) (string, error)
}

// Service issues and redeems project invites.
type Service struct {
	repo     Repository
	projects Projects
	users    Users
	notifier project.Notifier
	limiter  *ratelimit.Limiter
	linkFor  func(token string) string
	metrics  *metrics.Metrics
	now      func() time.Time
}

// NewService creates a new invite Service. linkFor renders the public join
// URL of a token. A nil limiter disables per-inviter limits.
func NewService(repo Repository, projects Projects, users Users, notifier project.Notifier, limiter *ratelimit.Limiter, linkFor func(string) string, m *metrics.Metrics) *Service {
	return &Service{
		repo:     repo,
		projects: projects,
		users:    users,
		notifier: notifier,
		limiter:  limiter,
		linkFor:  linkFor,
		metrics:  m,
		now:      time.Now,
	}
}

// Invite issues a new single-use invite for email and mails the join link.
// The inviter must be a member of the project.
func (s *Service) Invite(ctx context.Context, projectID string, inviter project.Actor, email string) (*Created, error) {
	if err := user.ValidateEmail(email); err != nil {
		return nil, err
	}
	email = user.NormalizeEmail(email)

	p, err := s.projects.RequireMember(ctx, projectID, inviter.ID)
	if err != nil {
		return nil, err
	}

	if s.limiter != nil && !s.limiter.Allow("invite:"+inviter.ID) {
		s.metrics.IncInvite("rate_limited")
		return nil, ErrRateLimited
	}

	id := uuid.New()
	token := hex.EncodeToString(id[:])
	inv, err := s.repo.Create(ctx, p.ID, email, user.HashToken(token), inviter.ID)
	if err != nil {
		return nil, err
	}

	link := s.linkFor(token)
	if s.notifier != nil {
		s.notifier.Notify([]string{email},
			fmt.Sprintf("Invitation to join project %s", p.Name),
			fmt.Sprintf("Hi,\n\n%s invited you to join project %s.\n\nOpen this link to join: %s\n", inviter.Name, p.Name, link))
	}
	s.metrics.IncInvite("created")

	slog.Info("invite created", "project_id", p.ID, "invite_id", inv.ID, "invited_by", inviter.ID)
	return &Created{Invite: *inv, Token: token, Link: link}, nil
}

// List returns the invites of a project the caller belongs to.
func (s *Service) List(ctx context.Context, projectID, userID string) ([]Invite, error) {
	if _, err := s.projects.RequireMember(ctx, projectID, userID); err != nil {
		return nil, err
	}
	return s.repo.ListByProject(ctx, projectID)
}

// Resolve follows an invite link. A used token resolves to AlreadyMember
// when the invited account is on the project and to Invalid otherwise. An
// unused token for an existing account adds that account; for an unknown
// email the outcome is Deferred and the token is claimed at registration.
func (s *Service) Resolve(ctx context.Context, token string) (*Resolution, error) {
	res, err := s.resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	s.metrics.IncInvite(res.Outcome.String())
	return res, nil
}

func (s *Service) resolve(ctx context.Context, token string) (*Resolution, error) {
	if token == "" {
		return &Resolution{Outcome: Invalid}, nil
	}
	hash := user.HashToken(token)

	inv, err := s.repo.GetByTokenHash(ctx, hash)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return &Resolution{Outcome: Invalid}, nil
		}
		return nil, err
	}
	res := &Resolution{ProjectID: inv.ProjectID, Email: inv.Email}

	userID, err := s.users.UserIDByEmail(ctx, inv.Email)
	if err != nil && !errors.Is(err, user.ErrNotFound) {
		return nil, err
	}
	accountExists := err == nil

	if inv.Used {
		res.Outcome = Invalid
		if accountExists && s.isMember(ctx, inv.ProjectID, userID) {
			res.Outcome = AlreadyMember
		}
		return res, nil
	}

	if !accountExists {
		res.Outcome = Deferred
		return res, nil
	}

	_, added, err := s.repo.Claim(ctx, hash, inv.Email, userID, s.now())
	switch {
	case errors.Is(err, ErrNotFound):
		// Spent concurrently; report it like any used token.
		res.Outcome = Invalid
		if s.isMember(ctx, inv.ProjectID, userID) {
			res.Outcome = AlreadyMember
		}
		return res, nil
	case err != nil:
		return nil, err
	}

	if !added {
		res.Outcome = AlreadyMember
		return res, nil
	}
	s.projects.NotifyJoined(context.WithoutCancel(ctx), inv.ProjectID, userID)
	res.Outcome = Added
	return res, nil
}

func (s *Service) isMember(ctx context.Context, projectID, userID string) bool {
	_, err := s.projects.RequireMember(ctx, projectID, userID)
	return err == nil
}

// ClaimOnRegistration redeems a deferred invite for a newly registered
// account. It does nothing, without error, when the token is unknown, already
// used, or was issued to a different email. It reports whether the account
// was added to a project.
func (s *Service) ClaimOnRegistration(ctx context.Context, token, userID, email string) (bool, error) {
	if token == "" {
		return false, nil
	}
	projectID, added, err := s.repo.Claim(ctx, user.HashToken(token), user.NormalizeEmail(email), userID, s.now())
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return false, nil
		}
		return false, err
	}
	if added {
		s.projects.NotifyJoined(context.WithoutCancel(ctx), projectID, userID)
		s.metrics.IncInvite("claimed")
	}
	return added, nil
}
