package invite

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alecgard/teamspace/internal/project"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrNotFound is returned when no invite matches.
var ErrNotFound = errors.New("invite not found")

// Store provides database operations for project invites. Tokens are stored
// as SHA-256 hashes only.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore creates a new invite store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

const inviteColumns = `id, project_id, email, used, COALESCE(created_by::text, ''), created_at, used_at`

func scanInvite(row pgx.Row) (*Invite, error) {
	inv := &Invite{}
	if err := row.Scan(&inv.ID, &inv.ProjectID, &inv.Email, &inv.Used, &inv.CreatedBy, &inv.CreatedAt, &inv.UsedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return inv, nil
}

// Create inserts a new unused invite.
func (s *Store) Create(ctx context.Context, projectID, email, tokenHash, createdBy string) (*Invite, error) {
	inv, err := scanInvite(s.pool.QueryRow(ctx,
		`INSERT INTO project_invites (project_id, email, token_hash, created_by)
		 VALUES ($1, $2, $3, $4)
		 RETURNING `+inviteColumns,
		projectID, email, tokenHash, createdBy,
	))
	if err != nil {
		return nil, fmt.Errorf("creating invite: %w", err)
	}
	return inv, nil
}

// GetByTokenHash retrieves an invite by the hash of its token.
func (s *Store) GetByTokenHash(ctx context.Context, tokenHash string) (*Invite, error) {
	inv, err := scanInvite(s.pool.QueryRow(ctx,
		`SELECT `+inviteColumns+` FROM project_invites WHERE token_hash = $1`, tokenHash,
	))
	if err != nil {
		return nil, fmt.Errorf("getting invite: %w", err)
	}
	return inv, nil
}

// ListByProject returns a project's invites, newest first.
func (s *Store) ListByProject(ctx context.Context, projectID string) ([]Invite, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+inviteColumns+` FROM project_invites
		 WHERE project_id = $1
		 ORDER BY created_at DESC`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing invites: %w", err)
	}
	defer rows.Close()

	out := []Invite{}
	for rows.Next() {
		inv, err := scanInvite(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning invite row: %w", err)
		}
		out = append(out, *inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating invite rows: %w", err)
	}
	return out, nil
}

// Claim marks the unused invite for tokenHash and email as used and adds
// userID to its project, in one transaction. It returns ErrNotFound when no
// unused invite matches, and reports whether a membership was created.
func (s *Store) Claim(ctx context.Context, tokenHash, email, userID string, at time.Time) (string, bool, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return "", false, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	var inviteID, projectID string
	err = tx.QueryRow(ctx,
		`SELECT id, project_id FROM project_invites
		 WHERE token_hash = $1 AND email = $2 AND NOT used
		 FOR UPDATE`,
		tokenHash, email,
	).Scan(&inviteID, &projectID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", false, ErrNotFound
		}
		return "", false, fmt.Errorf("locking invite: %w", err)
	}

	added, err := project.AddMemberTx(ctx, tx, projectID, userID)
	if err != nil {
		return "", false, err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE project_invites SET used = true, used_at = $2 WHERE id = $1`,
		inviteID, at,
	); err != nil {
		return "", false, fmt.Errorf("marking invite used: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return "", false, fmt.Errorf("committing invite claim: %w", err)
	}
	return projectID, added, nil
}
