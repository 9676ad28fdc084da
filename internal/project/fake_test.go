package project

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// memRepo is an in-memory Repository. WithProjectLock serializes callers per
// project and applies staged changes only when fn succeeds.
type memRepo struct {
	mu       sync.Mutex
	locks    map[string]*sync.Mutex
	projects map[string]*Project
	members  map[string][]Member
	votes    map[string][]Vote
	users    map[string]Member
	nextID   int
}

func newMemRepo() *memRepo {
	return &memRepo{
		locks:    make(map[string]*sync.Mutex),
		projects: make(map[string]*Project),
		members:  make(map[string][]Member),
		votes:    make(map[string][]Vote),
		users:    make(map[string]Member),
	}
}

// addUser registers a user the fake can resolve into member rows.
func (r *memRepo) addUser(id, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[id] = Member{UserID: id, Name: name, Email: id + "@example.com"}
}

func (r *memRepo) CreateProject(_ context.Context, in CreateProjectInput, creatorID string) (*Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.nextID++
	p := &Project{
		ID:          fmt.Sprintf("p%d", r.nextID),
		Name:        in.Name,
		Weeks:       in.Weeks,
		CurrentWeek: 1,
		CreatedBy:   creatorID,
		CreatedAt:   time.Date(2026, 1, 1, 0, 0, r.nextID, 0, time.UTC),
	}
	r.projects[p.ID] = p
	r.locks[p.ID] = &sync.Mutex{}
	r.members[p.ID] = append(r.members[p.ID], r.users[creatorID])
	cp := *p
	return &cp, nil
}

func (r *memRepo) GetProject(_ context.Context, id string) (*Project, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	p, ok := r.projects[id]
	if !ok {
		return nil, ErrProjectNotFound
	}
	cp := *p
	return &cp, nil
}

func (r *memRepo) ListProjects(_ context.Context, params ListParams) ([]Summary, string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Summary
	for id, p := range r.projects {
		if params.MemberID != "" && !r.isMemberLocked(id, params.MemberID) {
			continue
		}
		out = append(out, Summary{Project: *p, MemberCount: len(r.members[id])})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, "", nil
}

func (r *memRepo) ListMembers(_ context.Context, projectID string) ([]Member, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Member(nil), r.members[projectID]...), nil
}

func (r *memRepo) AddMember(_ context.Context, projectID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.isMemberLocked(projectID, userID) {
		return false, nil
	}
	u, ok := r.users[userID]
	if !ok {
		u = Member{UserID: userID, Name: userID, Email: userID + "@example.com"}
	}
	r.members[projectID] = append(r.members[projectID], u)
	return true, nil
}

func (r *memRepo) IsMember(_ context.Context, projectID, userID string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.isMemberLocked(projectID, userID), nil
}

func (r *memRepo) isMemberLocked(projectID, userID string) bool {
	for _, m := range r.members[projectID] {
		if m.UserID == userID {
			return true
		}
	}
	return false
}

func (r *memRepo) Tally(_ context.Context, projectID string, week int) (Tally, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tallyLocked(projectID, week, nil), nil
}

func (r *memRepo) tallyLocked(projectID string, week int, staged []Vote) Tally {
	var t Tally
	for _, v := range append(append([]Vote(nil), r.votes[projectID]...), staged...) {
		if v.Week != week {
			continue
		}
		switch v.Action {
		case ActionAdvance:
			t.Advance++
		case ActionFinish:
			t.Finish++
		}
	}
	return t
}

func (r *memRepo) VotesBy(_ context.Context, projectID string, week int, userID string) ([]Action, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []Action{}
	for _, v := range r.votes[projectID] {
		if v.Week == week && v.UserID == userID {
			out = append(out, v.Action)
		}
	}
	return out, nil
}

func (r *memRepo) WithProjectLock(ctx context.Context, projectID string, fn func(LockedProject) error) error {
	r.mu.Lock()
	lock, ok := r.locks[projectID]
	r.mu.Unlock()
	if !ok {
		return ErrProjectNotFound
	}

	lock.Lock()
	defer lock.Unlock()

	p, err := r.GetProject(ctx, projectID)
	if err != nil {
		return err
	}
	tx := &memTx{repo: r, project: *p}
	if err := fn(tx); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.votes[projectID] = append(r.votes[projectID], tx.staged...)
	*r.projects[projectID] = tx.project
	return nil
}

type memTx struct {
	repo    *memRepo
	project Project
	staged  []Vote
}

func (t *memTx) Project() Project { return t.project }

func (t *memTx) IsMember(ctx context.Context, userID string) (bool, error) {
	return t.repo.IsMember(ctx, t.project.ID, userID)
}

func (t *memTx) MemberCount(_ context.Context) (int, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	return len(t.repo.members[t.project.ID]), nil
}

func (t *memTx) InsertVote(_ context.Context, v Vote) (bool, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	for _, existing := range append(append([]Vote(nil), t.repo.votes[v.ProjectID]...), t.staged...) {
		if existing.Week == v.Week && existing.UserID == v.UserID && existing.Action == v.Action {
			return false, nil
		}
	}
	t.staged = append(t.staged, v)
	return true, nil
}

func (t *memTx) Tally(_ context.Context, week int) (Tally, error) {
	t.repo.mu.Lock()
	defer t.repo.mu.Unlock()
	return t.repo.tallyLocked(t.project.ID, week, t.staged), nil
}

func (t *memTx) AdvanceWeek(context.Context) error {
	if t.project.Completed || t.project.CurrentWeek >= t.project.Weeks {
		return errStaleState
	}
	t.project.CurrentWeek++
	return nil
}

func (t *memTx) Complete(_ context.Context, at time.Time) error {
	if t.project.Completed {
		return errStaleState
	}
	t.project.Completed = true
	t.project.CompletedAt = &at
	return nil
}

var errUnknownEmail = errors.New("no user with that email")

func (r *memRepo) UserIDByEmail(_ context.Context, email string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, u := range r.users {
		if u.Email == email {
			return id, nil
		}
	}
	return "", errUnknownEmail
}

// recordingNotifier captures every Notify call.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []notification
}

type notification struct {
	to      []string
	subject string
	body    string
}

func (n *recordingNotifier) Notify(to []string, subject, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.calls = append(n.calls, notification{to: append([]string(nil), to...), subject: subject, body: body})
}

func (n *recordingNotifier) subjects() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, len(n.calls))
	for i, c := range n.calls {
		out[i] = c.subject
	}
	return out
}

// recordingBroadcaster captures emitted live event names.
type recordingBroadcaster struct {
	mu     sync.Mutex
	events []string
}

func (b *recordingBroadcaster) Emit(event string, _ any) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
}

func (b *recordingBroadcaster) count(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e == event {
			n++
		}
	}
	return n
}
