package project

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/alecgard/teamspace/internal/metrics"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// maxLockAttempts bounds how often a project transaction is retried after a
// serialization failure or deadlock.
const maxLockAttempts = 3

// Store provides database operations for projects, members and votes.
type Store struct {
	pool    *pgxpool.Pool
	metrics *metrics.Metrics
}

// NewStore creates a new project store backed by the given connection pool.
func NewStore(pool *pgxpool.Pool, m *metrics.Metrics) *Store {
	return &Store{pool: pool, metrics: m}
}

const projectColumns = `id, name, weeks, current_week, completed, completed_at, COALESCE(created_by::text, ''), created_at`

func scanProject(row pgx.Row) (*Project, error) {
	p := &Project{}
	if err := row.Scan(&p.ID, &p.Name, &p.Weeks, &p.CurrentWeek, &p.Completed, &p.CompletedAt, &p.CreatedBy, &p.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrProjectNotFound
		}
		return nil, err
	}
	return p, nil
}

// CreateProject inserts a project and its creator's membership in one
// transaction.
func (s *Store) CreateProject(ctx context.Context, in CreateProjectInput, creatorID string) (*Project, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	p, err := scanProject(tx.QueryRow(ctx,
		`INSERT INTO projects (name, weeks, created_by)
		 VALUES ($1, $2, $3)
		 RETURNING `+projectColumns,
		in.Name, in.Weeks, creatorID,
	))
	if err != nil {
		return nil, fmt.Errorf("inserting project: %w", err)
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO project_members (project_id, user_id) VALUES ($1, $2)`,
		p.ID, creatorID,
	); err != nil {
		return nil, fmt.Errorf("adding creator as member: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("committing project: %w", err)
	}
	return p, nil
}

// GetProject retrieves a project by its primary key.
func (s *Store) GetProject(ctx context.Context, id string) (*Project, error) {
	p, err := scanProject(s.pool.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1`, id,
	))
	if err != nil {
		if errors.Is(err, ErrProjectNotFound) || isInvalidUUID(err) {
			return nil, ErrProjectNotFound
		}
		return nil, fmt.Errorf("getting project: %w", err)
	}
	return p, nil
}

// ListProjects returns a page of projects ordered by created_at DESC, id DESC
// using cursor-based pagination.
func (s *Store) ListProjects(ctx context.Context, params ListParams) ([]Summary, string, error) {
	limit := params.Limit
	if limit <= 0 {
		limit = 20
	}

	var conditions []string
	var args []any
	argIdx := 1

	if params.MemberID != "" {
		conditions = append(conditions, fmt.Sprintf(
			"EXISTS (SELECT 1 FROM project_members pm WHERE pm.project_id = p.id AND pm.user_id = $%d)", argIdx))
		args = append(args, params.MemberID)
		argIdx++
	}
	if params.Cursor != "" {
		cursorTime, cursorID, err := decodeCursor(params.Cursor)
		if err != nil {
			return nil, "", ErrInvalidCursor
		}
		conditions = append(conditions, fmt.Sprintf("(p.created_at, p.id) < ($%d, $%d)", argIdx, argIdx+1))
		args = append(args, cursorTime, cursorID)
		argIdx += 2
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}
	args = append(args, limit+1)

	rows, err := s.pool.Query(ctx,
		fmt.Sprintf(
			`SELECT p.id, p.name, p.weeks, p.current_week, p.completed, p.completed_at,
			        COALESCE(p.created_by::text, ''), p.created_at,
			        (SELECT COUNT(*) FROM project_members m WHERE m.project_id = p.id)
			 FROM projects p
			 %s
			 ORDER BY p.created_at DESC, p.id DESC
			 LIMIT $%d`, where, argIdx),
		args...,
	)
	if err != nil {
		return nil, "", fmt.Errorf("listing projects: %w", err)
	}
	defer rows.Close()

	var out []Summary
	for rows.Next() {
		var sm Summary
		if err := rows.Scan(&sm.ID, &sm.Name, &sm.Weeks, &sm.CurrentWeek, &sm.Completed, &sm.CompletedAt,
			&sm.CreatedBy, &sm.CreatedAt, &sm.MemberCount); err != nil {
			return nil, "", fmt.Errorf("scanning project row: %w", err)
		}
		out = append(out, sm)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("iterating project rows: %w", err)
	}

	var nextCursor string
	if len(out) > limit {
		last := out[limit-1]
		nextCursor = encodeCursor(last.CreatedAt, last.ID)
		out = out[:limit]
	}
	return out, nextCursor, nil
}

// ListMembers returns the members of a project in join order.
func (s *Store) ListMembers(ctx context.Context, projectID string) ([]Member, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT u.id, u.name, u.email, m.joined_at
		 FROM project_members m JOIN users u ON u.id = m.user_id
		 WHERE m.project_id = $1
		 ORDER BY m.joined_at, u.name`,
		projectID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing members: %w", err)
	}
	defer rows.Close()

	members := []Member{}
	for rows.Next() {
		var m Member
		if err := rows.Scan(&m.UserID, &m.Name, &m.Email, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("scanning member row: %w", err)
		}
		members = append(members, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating member rows: %w", err)
	}
	return members, nil
}

// AddMember inserts a membership and reports whether a row was created.
func (s *Store) AddMember(ctx context.Context, projectID, userID string) (bool, error) {
	return addMember(ctx, s.pool, projectID, userID)
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

func addMember(ctx context.Context, db execer, projectID, userID string) (bool, error) {
	tag, err := db.Exec(ctx,
		`INSERT INTO project_members (project_id, user_id)
		 VALUES ($1, $2)
		 ON CONFLICT (project_id, user_id) DO NOTHING`,
		projectID, userID,
	)
	if err != nil {
		return false, fmt.Errorf("inserting member: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// AddMemberTx inserts a membership inside an existing transaction.
func AddMemberTx(ctx context.Context, tx pgx.Tx, projectID, userID string) (bool, error) {
	return addMember(ctx, tx, projectID, userID)
}

// IsMember reports whether userID belongs to the project.
func (s *Store) IsMember(ctx context.Context, projectID, userID string) (bool, error) {
	return isMember(ctx, s.pool, projectID, userID)
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func isMember(ctx context.Context, db querier, projectID, userID string) (bool, error) {
	var ok bool
	err := db.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM project_members WHERE project_id = $1 AND user_id = $2)`,
		projectID, userID,
	).Scan(&ok)
	if err != nil {
		if isInvalidUUID(err) {
			return false, nil
		}
		return false, fmt.Errorf("checking membership: %w", err)
	}
	return ok, nil
}

// Tally counts the votes of one week by action.
func (s *Store) Tally(ctx context.Context, projectID string, week int) (Tally, error) {
	return tally(ctx, s.pool, projectID, week)
}

func tally(ctx context.Context, db querier, projectID string, week int) (Tally, error) {
	var t Tally
	err := db.QueryRow(ctx,
		`SELECT COUNT(*) FILTER (WHERE action = 'advance'),
		        COUNT(*) FILTER (WHERE action = 'finish')
		 FROM week_votes
		 WHERE project_id = $1 AND week_number = $2`,
		projectID, week,
	).Scan(&t.Advance, &t.Finish)
	if err != nil {
		return Tally{}, fmt.Errorf("tallying votes: %w", err)
	}
	return t, nil
}

// VotesBy returns the actions userID has taken in the given week.
func (s *Store) VotesBy(ctx context.Context, projectID string, week int, userID string) ([]Action, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT action FROM week_votes
		 WHERE project_id = $1 AND week_number = $2 AND user_id = $3
		 ORDER BY cast_at`,
		projectID, week, userID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing votes: %w", err)
	}
	defer rows.Close()

	actions := []Action{}
	for rows.Next() {
		var a string
		if err := rows.Scan(&a); err != nil {
			return nil, fmt.Errorf("scanning vote row: %w", err)
		}
		actions = append(actions, Action(a))
	}
	return actions, rows.Err()
}

// WithProjectLock runs fn inside a transaction holding a FOR UPDATE lock on
// the project row. Serialization failures and deadlocks are retried.
func (s *Store) WithProjectLock(ctx context.Context, projectID string, fn func(LockedProject) error) error {
	var err error
	for attempt := 1; attempt <= maxLockAttempts; attempt++ {
		err = s.withProjectLockOnce(ctx, projectID, fn)
		if !isRetryable(err) {
			return err
		}
		s.metrics.IncLockRetry()
	}
	return err
}

func (s *Store) withProjectLockOnce(ctx context.Context, projectID string, fn func(LockedProject) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	p, err := scanProject(tx.QueryRow(ctx,
		`SELECT `+projectColumns+` FROM projects WHERE id = $1 FOR UPDATE`, projectID,
	))
	if err != nil {
		if errors.Is(err, ErrProjectNotFound) || isInvalidUUID(err) {
			return ErrProjectNotFound
		}
		return fmt.Errorf("locking project: %w", err)
	}

	if err := fn(&lockedProject{tx: tx, project: *p}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing project change: %w", err)
	}
	return nil
}

// lockedProject implements LockedProject on an open transaction.
type lockedProject struct {
	tx      pgx.Tx
	project Project
}

func (l *lockedProject) Project() Project { return l.project }

func (l *lockedProject) IsMember(ctx context.Context, userID string) (bool, error) {
	return isMember(ctx, l.tx, l.project.ID, userID)
}

func (l *lockedProject) MemberCount(ctx context.Context) (int, error) {
	var n int
	if err := l.tx.QueryRow(ctx,
		`SELECT COUNT(*) FROM project_members WHERE project_id = $1`, l.project.ID,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting members: %w", err)
	}
	return n, nil
}

func (l *lockedProject) InsertVote(ctx context.Context, v Vote) (bool, error) {
	tag, err := l.tx.Exec(ctx,
		`INSERT INTO week_votes (project_id, week_number, user_id, action, cast_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (project_id, week_number, user_id, action) DO NOTHING`,
		v.ProjectID, v.Week, v.UserID, string(v.Action), v.CastAt,
	)
	if err != nil {
		return false, fmt.Errorf("inserting vote: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (l *lockedProject) Tally(ctx context.Context, week int) (Tally, error) {
	return tally(ctx, l.tx, l.project.ID, week)
}

// errStaleState is returned when a guarded update matches no row, meaning the
// locked snapshot no longer describes the stored project.
var errStaleState = errors.New("project state changed during transaction")

func (l *lockedProject) AdvanceWeek(ctx context.Context) error {
	tag, err := l.tx.Exec(ctx,
		`UPDATE projects SET current_week = current_week + 1
		 WHERE id = $1 AND current_week = $2 AND current_week < weeks AND NOT completed`,
		l.project.ID, l.project.CurrentWeek,
	)
	if err != nil {
		return fmt.Errorf("updating week: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return errStaleState
	}
	l.project.CurrentWeek++
	return nil
}

func (l *lockedProject) Complete(ctx context.Context, at time.Time) error {
	tag, err := l.tx.Exec(ctx,
		`UPDATE projects SET completed = true, completed_at = $2
		 WHERE id = $1 AND NOT completed`,
		l.project.ID, at,
	)
	if err != nil {
		return fmt.Errorf("completing project: %w", err)
	}
	if tag.RowsAffected() != 1 {
		return errStaleState
	}
	l.project.Completed = true
	l.project.CompletedAt = &at
	return nil
}

// isRetryable reports whether err is a serialization failure or deadlock.
func isRetryable(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "40001" || pgErr.Code == "40P01"
}

// isInvalidUUID reports whether err is Postgres rejecting a malformed id.
func isInvalidUUID(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "22P02"
}

// encodeCursor produces an opaque base64 cursor from a created_at timestamp and id.
func encodeCursor(createdAt time.Time, id string) string {
	raw := createdAt.Format(time.RFC3339Nano) + "|" + id
	return base64.StdEncoding.EncodeToString([]byte(raw))
}

// decodeCursor parses a base64 cursor back into its created_at and id parts.
func decodeCursor(cursor string) (time.Time, string, error) {
	data, err := base64.StdEncoding.DecodeString(cursor)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("decoding cursor base64: %w", err)
	}

	parts := strings.SplitN(string(data), "|", 2)
	if len(parts) != 2 {
		return time.Time{}, "", fmt.Errorf("invalid cursor format")
	}

	t, err := time.Parse(time.RFC3339Nano, parts[0])
	if err != nil {
		return time.Time{}, "", fmt.Errorf("parsing cursor time: %w", err)
	}

	return t, parts[1], nil
}
