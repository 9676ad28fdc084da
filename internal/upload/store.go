package upload

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store provides database operations for upload records.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new upload store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const uploadColumns = `up.id, up.project_id, up.week_number, up.stored_name, up.original_name,
	up.description, COALESCE(up.uploaded_by::text, ''), COALESCE(u.name, ''), up.size_bytes, up.uploaded_at`

func scanUpload(row pgx.Row) (*Upload, error) {
	up := &Upload{}
	if err := row.Scan(&up.ID, &up.ProjectID, &up.Week, &up.StoredName, &up.OriginalName,
		&up.Description, &up.UploadedBy, &up.UploaderName, &up.Size, &up.UploadedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return up, nil
}

// Create records a stored file.
func (s *Store) Create(ctx context.Context, in NewUpload) (*Upload, error) {
	var id string
	err := s.pool.QueryRow(ctx,
		`INSERT INTO uploads (project_id, week_number, stored_name, original_name, description, uploaded_by, size_bytes)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING id`,
		in.ProjectID, in.Week, in.StoredName, in.OriginalName, in.Description, in.UploadedBy, in.Size,
	).Scan(&id)
	if err != nil {
		return nil, fmt.Errorf("creating upload: %w", err)
	}
	return s.Get(ctx, in.ProjectID, id)
}

// Get retrieves one upload of a project.
func (s *Store) Get(ctx context.Context, projectID, id string) (*Upload, error) {
	up, err := scanUpload(s.pool.QueryRow(ctx,
		`SELECT `+uploadColumns+`
		 FROM uploads up LEFT JOIN users u ON u.id = up.uploaded_by
		 WHERE up.project_id = $1 AND up.id = $2`,
		projectID, id,
	))
	if err != nil {
		if isInvalidUUID(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("getting upload: %w", err)
	}
	return up, nil
}

// ListByProject returns the uploads of a project, newest first. A week of
// zero lists every week.
func (s *Store) ListByProject(ctx context.Context, projectID string, week int) ([]Upload, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+uploadColumns+`
		 FROM uploads up LEFT JOIN users u ON u.id = up.uploaded_by
		 WHERE up.project_id = $1 AND ($2::int = 0 OR up.week_number = $2)
		 ORDER BY up.uploaded_at DESC, up.id DESC`,
		projectID, week,
	)
	if err != nil {
		return nil, fmt.Errorf("listing uploads: %w", err)
	}
	defer rows.Close()

	var out []Upload
	for rows.Next() {
		up, err := scanUpload(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning upload: %w", err)
		}
		out = append(out, *up)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating uploads: %w", err)
	}
	return out, nil
}

func isInvalidUUID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}
