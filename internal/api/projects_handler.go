package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/alecgard/teamspace/internal/project"
	"github.com/go-chi/chi/v5"
)

const (
	defaultPageSize = 50
	maxPageSize     = 200
)

// projectsHandler groups project, vote and member HTTP handlers.
type projectsHandler struct {
	projects Projects
}

func newProjectsHandler(projects Projects) *projectsHandler {
	return &projectsHandler{projects: projects}
}

// projectState is returned by every mutating project endpoint.
type projectState struct {
	Project      project.Project `json:"project"`
	MemberCount  int             `json:"member_count"`
	Votes        project.Tally   `json:"votes"`
	Transition   string          `json:"transition,omitempty"`
	AlreadyVoted bool            `json:"already_voted,omitempty"`
}

// List handles GET /api/v1/projects. ?mine=true limits the listing to the
// caller's projects.
func (h *projectsHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := project.ListParams{Cursor: q.Get("cursor"), Limit: defaultPageSize}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_query", "limit must be a positive integer")
			return
		}
		params.Limit = min(n, maxPageSize)
	}
	if mine, _ := strconv.ParseBool(q.Get("mine")); mine {
		params.MemberID = actorFrom(r).ID
	}

	items, next, err := h.projects.List(r.Context(), params)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []project.Summary{}
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"projects":    items,
		"next_cursor": next,
	})
}

// Create handles POST /api/v1/projects.
func (h *projectsHandler) Create(w http.ResponseWriter, r *http.Request) {
	var in project.CreateProjectInput
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	p, err := h.projects.CreateProject(r.Context(), actorFrom(r), in)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	auditLog(r, "create", "project", p.ID, "weeks", p.Weeks)
	writeJSON(w, http.StatusCreated, projectState{Project: *p, MemberCount: 1})
}

// Get handles GET /api/v1/projects/{id}.
func (h *projectsHandler) Get(w http.ResponseWriter, r *http.Request) {
	st, err := h.projects.Status(r.Context(), chi.URLParam(r, "id"), actorFrom(r).ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Vote handles POST /api/v1/projects/{id}/votes. A repeated vote is not an
// error: it answers 200 with already_voted set and the unchanged state.
func (h *projectsHandler) Vote(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action string `json:"action"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	action, err := project.ParseAction(strings.ToLower(strings.TrimSpace(req.Action)))
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	projectID := chi.URLParam(r, "id")
	actor := actorFrom(r)
	res, err := h.projects.CastVote(r.Context(), projectID, actor, action)
	if errors.Is(err, project.ErrAlreadyVoted) {
		st, serr := h.projects.Status(r.Context(), projectID, actor.ID)
		if serr != nil {
			writeServiceError(w, r, serr)
			return
		}
		writeJSON(w, http.StatusOK, projectState{
			Project:      st.Project,
			MemberCount:  st.MemberCount,
			Votes:        st.Votes,
			AlreadyVoted: true,
		})
		return
	}
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	auditLog(r, "vote", "project", projectID, "vote_action", string(action), "transition", res.Transition.String())
	writeJSON(w, http.StatusOK, projectState{
		Project:     res.Project,
		MemberCount: res.MemberCount,
		Votes:       res.Votes,
		Transition:  res.Transition.String(),
	})
}

// ListMembers handles GET /api/v1/projects/{id}/members.
func (h *projectsHandler) ListMembers(w http.ResponseWriter, r *http.Request) {
	projectID := chi.URLParam(r, "id")
	if _, err := h.projects.RequireMember(r.Context(), projectID, actorFrom(r).ID); err != nil {
		writeServiceError(w, r, err)
		return
	}
	members, err := h.projects.Members(r.Context(), projectID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if members == nil {
		members = []project.Member{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"members": members})
}

// AddMember handles POST /api/v1/projects/{id}/members. Only members may add
// others, and only registered emails can be added directly.
func (h *projectsHandler) AddMember(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}
	if strings.TrimSpace(req.Email) == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "email is required")
		return
	}

	projectID := chi.URLParam(r, "id")
	if _, err := h.projects.RequireMember(r.Context(), projectID, actorFrom(r).ID); err != nil {
		writeServiceError(w, r, err)
		return
	}

	res, userID, err := h.projects.AddMemberByEmail(r.Context(), projectID, req.Email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	added := res == project.AddedNew
	status := http.StatusOK
	if added {
		status = http.StatusCreated
		auditLog(r, "add_member", "project", projectID, "member_id", userID)
	}
	writeJSON(w, status, map[string]any{
		"user_id": userID,
		"added":   added,
	})
}
