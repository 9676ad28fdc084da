package api

import (
	"net/http"
	"strings"

	"github.com/alecgard/teamspace/internal/invite"
	"github.com/go-chi/chi/v5"
)

// invitesHandler groups invite HTTP handlers.
type invitesHandler struct {
	invites Invites
	auth    *authHandler
}

func newInvitesHandler(invites Invites, auth *authHandler) *invitesHandler {
	return &invitesHandler{invites: invites, auth: auth}
}

// Create handles POST /api/v1/projects/{id}/invites.
func (h *invitesHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	created, err := h.invites.Invite(r.Context(), chi.URLParam(r, "id"), actorFrom(r), req.Email)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	auditLog(r, "invite", "project", created.Invite.ProjectID, "invite_id", created.Invite.ID, "email", created.Invite.Email)
	writeJSON(w, http.StatusCreated, created)
}

// List handles GET /api/v1/projects/{id}/invites.
func (h *invitesHandler) List(w http.ResponseWriter, r *http.Request) {
	items, err := h.invites.List(r.Context(), chi.URLParam(r, "id"), actorFrom(r).ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []invite.Invite{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"invites": items})
}

// Resolve handles GET /api/v1/invites/{token} and GET /join/{token}. When
// the invited email has no account yet the token is remembered in a sealed
// cookie and claimed at registration.
func (h *invitesHandler) Resolve(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimSpace(chi.URLParam(r, "token"))

	res, err := h.invites.Resolve(r.Context(), token)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	switch res.Outcome {
	case invite.Invalid:
		writeError(w, http.StatusNotFound, "invalid_invite", "invalid or expired invite token")
		return
	case invite.Deferred:
		h.auth.rememberInvite(w, token)
	case invite.Added:
		auditLog(r, "join", "project", res.ProjectID, "email", res.Email)
	}
	writeJSON(w, http.StatusOK, res)
}
