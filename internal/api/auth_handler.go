package api

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/alecgard/teamspace/internal/auth"
	"github.com/alecgard/teamspace/internal/crypto"
	"github.com/alecgard/teamspace/internal/metrics"
	"github.com/alecgard/teamspace/internal/user"
)

// PendingInviteCookie carries an invite token between following a join link
// and registering.
const PendingInviteCookie = "teamspace_pending_invite"

const (
	pendingInvitePurpose = "pending_invite"
	pendingInviteTTL     = 24 * time.Hour
)

// authHandler groups authentication HTTP handlers.
type authHandler struct {
	accounts     Accounts
	invites      Invites
	sealer       *crypto.Sealer
	metrics      *metrics.Metrics
	secureCookie bool
	sessionTTL   time.Duration
}

func newAuthHandler(deps RouterDeps) *authHandler {
	ttl := deps.SessionTTL
	if ttl <= 0 {
		ttl = user.DefaultSessionDuration
	}
	return &authHandler{
		accounts:     deps.Accounts,
		invites:      deps.Invites,
		sealer:       deps.Sealer,
		metrics:      deps.Metrics,
		secureCookie: deps.SecureCookie,
		sessionTTL:   ttl,
	}
}

func userJSON(u *user.User) map[string]any {
	return map[string]any{
		"id":    u.ID,
		"email": u.Email,
		"name":  u.Name,
	}
}

// Register handles POST /api/v1/auth/register. A pending invite, from the
// request body or the pending invite cookie, is claimed for the new account.
func (h *authHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Email       string `json:"email"`
		Password    string `json:"password"`
		InviteToken string `json:"invite_token"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	u, err := h.accounts.Create(r.Context(), user.CreateUserInput{
		Name:     req.Name,
		Email:    req.Email,
		Password: req.Password,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	token, _, err := h.accounts.CreateSession(r.Context(), u.ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	h.setSessionCookie(w, token)

	inviteToken := strings.TrimSpace(req.InviteToken)
	if inviteToken == "" {
		inviteToken = h.pendingInvite(r)
	}
	joined := false
	if inviteToken != "" && h.invites != nil {
		joined, err = h.invites.ClaimOnRegistration(r.Context(), inviteToken, u.ID, u.Email)
		if err != nil {
			slog.Error("claiming invite on registration", "user_id", u.ID, "error", err)
		}
		h.clearPendingInvite(w)
	}

	auditLog(r, "register", "user", u.ID, "invite_claimed", joined)
	writeJSON(w, http.StatusCreated, map[string]any{
		"token":          token,
		"user":           userJSON(u),
		"invite_claimed": joined,
	})
}

// Login handles POST /api/v1/auth/login.
func (h *authHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body", "failed to parse request body")
		return
	}

	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "email and password are required")
		return
	}

	u, err := h.accounts.GetByEmail(r.Context(), req.Email)
	if err != nil {
		if !errors.Is(err, user.ErrNotFound) {
			writeServiceError(w, r, err)
			return
		}
		h.metrics.IncAuthFailure("password")
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid email or password")
		return
	}

	if !user.CheckPassword(u, req.Password) {
		h.metrics.IncAuthFailure("password")
		writeError(w, http.StatusUnauthorized, "unauthorized", "invalid email or password")
		return
	}

	token, _, err := h.accounts.CreateSession(r.Context(), u.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", "failed to create session")
		return
	}
	h.metrics.IncAuthSuccess("password")
	h.setSessionCookie(w, token)

	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  userJSON(u),
	})
}

// Me handles GET /api/v1/auth/me.
func (h *authHandler) Me(w http.ResponseWriter, r *http.Request) {
	u := auth.UserFromContext(r.Context())
	if u == nil {
		writeError(w, http.StatusUnauthorized, "unauthorized", "not authenticated")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"id":    u.ID,
		"email": u.Email,
		"name":  u.Name,
	})
}

// Logout handles POST /api/v1/auth/logout.
func (h *authHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.clearCookie(w, auth.SessionCookieName)

	token := auth.SessionToken(r)
	if token == "" {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	if err := h.accounts.DeleteSession(r.Context(), token); err != nil {
		slog.Warn("deleting session", "error", err)
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *authHandler) setSessionCookie(w http.ResponseWriter, token string) {
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    token,
		Path:     "/",
		MaxAge:   int(h.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

// rememberInvite stores token in the sealed pending invite cookie.
func (h *authHandler) rememberInvite(w http.ResponseWriter, token string) {
	sealed, err := h.sealer.Seal(pendingInvitePurpose, token)
	if err != nil {
		slog.Error("sealing pending invite", "error", err)
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     PendingInviteCookie,
		Value:    sealed,
		Path:     "/",
		MaxAge:   int(pendingInviteTTL.Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (h *authHandler) pendingInvite(r *http.Request) string {
	c, err := r.Cookie(PendingInviteCookie)
	if err != nil || c.Value == "" {
		return ""
	}
	token, err := h.sealer.Open(pendingInvitePurpose, c.Value)
	if err != nil {
		slog.Warn("ignoring pending invite cookie", "error", err)
		return ""
	}
	return token
}

func (h *authHandler) clearPendingInvite(w http.ResponseWriter) {
	h.clearCookie(w, PendingInviteCookie)
}

func (h *authHandler) clearCookie(w http.ResponseWriter, name string) {
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}
