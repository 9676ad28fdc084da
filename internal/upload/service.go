package upload

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"

	"github.com/alecgard/teamspace/internal/metrics"
	"github.com/alecgard/teamspace/internal/project"
)

const maxDescriptionLength = 2000

var ErrDescriptionTooLong = errors.New("description must be at most 2000 characters")

// Repository persists upload records.
type Repository interface {
	Create(ctx context.Context, in NewUpload) (*Upload, error)
	Get(ctx context.Context, projectID, id string) (*Upload, error)
	ListByProject(ctx context.Context, projectID string, week int) ([]Upload, error)
}

// Files stores the bytes of uploads.
type Files interface {
	Store(r io.Reader, suggestedName string) (string, int64, error)
	Open(storedName string) (*os.File, error)
	Remove(storedName string) error
}

// Projects is the subset of project.Service uploads need.
type Projects interface {
	RequireMember(ctx context.Context, projectID, userID string) (*project.Project, error)
	NotifyMembers(ctx context.Context, projectID, excludeUserID, subject, body string)
}

// Service attaches files to the current week of a project.
type Service struct {
	repo     Repository
	files    Files
	projects Projects
	live     project.Broadcaster
	metrics  *metrics.Metrics
}

// NewService creates a new upload Service. A nil broadcaster disables live
// events.
func NewService(repo Repository, files Files, projects Projects, live project.Broadcaster, m *metrics.Metrics) *Service {
	return &Service{repo: repo, files: files, projects: projects, live: live, metrics: m}
}

// Upload stores the file, records it against the project's current week and
// tells the members about it.
func (s *Service) Upload(ctx context.Context, projectID string, actor project.Actor, in Input) (*Upload, error) {
	desc := strings.TrimSpace(in.Description)
	if utf8.RuneCountInString(desc) > maxDescriptionLength {
		return nil, ErrDescriptionTooLong
	}

	p, err := s.projects.RequireMember(ctx, projectID, actor.ID)
	if err != nil {
		return nil, err
	}

	stored, size, err := s.files.Store(in.Body, in.Filename)
	if err != nil {
		return nil, err
	}

	original := strings.TrimSpace(in.Filename)
	if original == "" {
		original = stored
	}
	up, err := s.repo.Create(ctx, NewUpload{
		ProjectID:    p.ID,
		Week:         p.CurrentWeek,
		StoredName:   stored,
		OriginalName: original,
		Description:  desc,
		UploadedBy:   actor.ID,
		Size:         size,
	})
	if err != nil {
		if rerr := s.files.Remove(stored); rerr != nil {
			slog.Warn("removing orphaned upload", "stored_name", stored, "error", rerr)
		}
		return nil, fmt.Errorf("recording upload: %w", err)
	}
	s.metrics.ObserveUpload(size)

	slog.Info("upload stored", "project_id", p.ID, "upload_id", up.ID, "week", up.Week, "size_bytes", size)

	after := context.WithoutCancel(ctx)
	s.projects.NotifyMembers(after, p.ID, "",
		fmt.Sprintf("New upload in %s", p.Name),
		fmt.Sprintf("%s uploaded %s to week %d of %s.", actor.Name, up.OriginalName, up.Week, p.Name))
	if s.live != nil {
		s.live.Emit("upload.added", map[string]any{
			"project_id": p.ID, "upload_id": up.ID, "week": up.Week, "name": up.OriginalName,
		})
	}
	return up, nil
}

// List returns the uploads of one week, or of every week when week is zero.
func (s *Service) List(ctx context.Context, projectID, userID string, week int) ([]Upload, error) {
	if _, err := s.projects.RequireMember(ctx, projectID, userID); err != nil {
		return nil, err
	}
	return s.repo.ListByProject(ctx, projectID, week)
}

// Open returns the record and the stored file for a download. The caller
// closes the file.
func (s *Service) Open(ctx context.Context, projectID, uploadID, userID string) (*Upload, *os.File, error) {
	if _, err := s.projects.RequireMember(ctx, projectID, userID); err != nil {
		return nil, nil, err
	}
	up, err := s.repo.Get(ctx, projectID, uploadID)
	if err != nil {
		return nil, nil, err
	}
	f, err := s.files.Open(up.StoredName)
	if err != nil {
		return nil, nil, err
	}
	return up, f, nil
}
