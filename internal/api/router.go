package api

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/alecgard/teamspace/internal/auth"
	"github.com/alecgard/teamspace/internal/crypto"
	"github.com/alecgard/teamspace/internal/invite"
	"github.com/alecgard/teamspace/internal/live"
	"github.com/alecgard/teamspace/internal/metrics"
	"github.com/alecgard/teamspace/internal/project"
	"github.com/alecgard/teamspace/internal/ratelimit"
	"github.com/alecgard/teamspace/internal/upload"
	"github.com/alecgard/teamspace/internal/user"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Pinger reports database reachability for the health check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Accounts is the subset of user.Store the auth handlers use.
type Accounts interface {
	Create(ctx context.Context, in user.CreateUserInput) (*user.User, error)
	GetByEmail(ctx context.Context, email string) (*user.User, error)
	CreateSession(ctx context.Context, userID string) (string, *user.Session, error)
	DeleteSession(ctx context.Context, plaintext string) error
}

// Projects is the subset of project.Service the handlers use.
type Projects interface {
	CreateProject(ctx context.Context, creator project.Actor, in project.CreateProjectInput) (*project.Project, error)
	List(ctx context.Context, params project.ListParams) ([]project.Summary, string, error)
	Status(ctx context.Context, projectID, viewerID string) (*project.Status, error)
	CastVote(ctx context.Context, projectID string, actor project.Actor, action project.Action) (*project.VoteResult, error)
	RequireMember(ctx context.Context, projectID, userID string) (*project.Project, error)
	Members(ctx context.Context, projectID string) ([]project.Member, error)
	AddMemberByEmail(ctx context.Context, projectID, email string) (project.AddResult, string, error)
}

// Invites is the subset of invite.Service the handlers use.
type Invites interface {
	Invite(ctx context.Context, projectID string, inviter project.Actor, email string) (*invite.Created, error)
	List(ctx context.Context, projectID, userID string) ([]invite.Invite, error)
	Resolve(ctx context.Context, token string) (*invite.Resolution, error)
	ClaimOnRegistration(ctx context.Context, token, userID, email string) (bool, error)
}

// Uploads is the subset of upload.Service the handlers use.
type Uploads interface {
	Upload(ctx context.Context, projectID string, actor project.Actor, in upload.Input) (*upload.Upload, error)
	List(ctx context.Context, projectID, userID string, week int) ([]upload.Upload, error)
	Open(ctx context.Context, projectID, uploadID, userID string) (*upload.Upload, *os.File, error)
}

// RouterDeps holds all dependencies for the API router.
type RouterDeps struct {
	DBPool         Pinger
	Accounts       Accounts
	Sessions       auth.SessionLookup
	Projects       Projects
	Invites        Invites
	Uploads        Uploads
	Hub            *live.Hub
	Metrics        *metrics.Metrics
	AuthLimiter    *ratelimit.Limiter
	UploadLimiter  *ratelimit.Limiter
	Sealer         *crypto.Sealer
	AllowedOrigins []string
	SecureCookie   bool
	SessionTTL     time.Duration
	MaxUploadSize  int64
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(deps RouterDeps) http.Handler {
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chimw.Recoverer)
	r.Use(requestIDMiddleware)
	r.Use(requestLogger(deps.Metrics))
	r.Use(secureHeaders)
	r.Use(corsMiddleware(deps.AllowedOrigins))

	r.Get("/health", healthHandler(deps.DBPool))
	r.Get("/.well-known/teamspace.json", WellKnownHandler)
	if deps.Metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Metrics.Registry(), promhttp.HandlerOpts{}))
		r.Get("/api/v1/metrics/summary", deps.Metrics.Handler())
	}

	// The service dependencies are optional so the middleware and system
	// routes can be exercised on their own.
	if deps.Sessions == nil {
		return r
	}

	authH := newAuthHandler(deps)
	invitesH := newInvitesHandler(deps.Invites, authH)

	r.Get("/join/{token}", invitesH.Resolve)

	r.Route("/api/v1", func(ar chi.Router) {
		ar.Group(func(pr chi.Router) {
			if deps.AuthLimiter != nil {
				pr.Use(ratelimit.Middleware(deps.AuthLimiter, ratelimit.ByClientIP, func() {
					deps.Metrics.IncRateLimitRejection("auth", "ip")
				}))
			}
			pr.Post("/auth/register", authH.Register)
			pr.Post("/auth/login", authH.Login)
		})
		ar.Post("/auth/logout", authH.Logout)
		ar.Get("/invites/{token}", invitesH.Resolve)

		ar.Group(func(mr chi.Router) {
			mr.Use(auth.MemberAuthMiddleware(deps.Sessions))

			projects := newProjectsHandler(deps.Projects)
			uploads := newUploadsHandler(deps.Uploads, deps.MaxUploadSize)

			mr.Get("/auth/me", authH.Me)

			mr.Get("/projects", projects.List)
			mr.Post("/projects", projects.Create)
			mr.Get("/projects/{id}", projects.Get)
			mr.Post("/projects/{id}/votes", projects.Vote)
			mr.Get("/projects/{id}/members", projects.ListMembers)
			mr.Post("/projects/{id}/members", projects.AddMember)

			mr.Get("/projects/{id}/invites", invitesH.List)
			mr.Post("/projects/{id}/invites", invitesH.Create)

			mr.Get("/projects/{id}/uploads", uploads.List)
			mr.With(userLimit(deps.UploadLimiter, deps.Metrics, "uploads")).Post("/projects/{id}/uploads", uploads.Create)
			mr.Get("/projects/{id}/uploads/{uploadID}/download", uploads.Download)

			if deps.Hub != nil {
				mr.Get("/events", memberStream(deps.Projects, live.Handler(deps.Hub, live.DefaultHeartbeat)))
			}
		})
	})

	return r
}

func healthHandler(db Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if db == nil {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "connected"})
			return
		}
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := db.Ping(ctx); err != nil {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded", "database": "unreachable"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "database": "connected"})
	}
}

// userLimit buckets by authenticated user. A nil limiter disables it.
func userLimit(l *ratelimit.Limiter, m *metrics.Metrics, scope string) func(http.Handler) http.Handler {
	if l == nil {
		return func(next http.Handler) http.Handler { return next }
	}
	return ratelimit.Middleware(l, ratelimit.ByUser, func() {
		m.IncRateLimitRejection(scope, "user")
	})
}

func actorFrom(r *http.Request) project.Actor {
	u := auth.UserFromContext(r.Context())
	if u == nil {
		return project.Actor{}
	}
	return project.Actor{ID: u.ID, Name: u.Name}
}
