package api

import "net/http"

// wellKnownManifest is the static JSON manifest for /.well-known/teamspace.json.
const wellKnownManifest = `{
  "name": "Teamspace",
  "description": "Week-by-week group projects with member votes",
  "version": "0.1.0",
  "api_base": "/api/v1",
  "auth": {
    "type": "bearer",
    "header": "Authorization",
    "cookie": "teamspace_session"
  },
  "endpoints": {
    "register": "/api/v1/auth/register",
    "login": "/api/v1/auth/login",
    "projects": "/api/v1/projects",
    "votes": "/api/v1/projects/{id}/votes",
    "members": "/api/v1/projects/{id}/members",
    "invites": "/api/v1/projects/{id}/invites",
    "uploads": "/api/v1/projects/{id}/uploads",
    "events": "/api/v1/events"
  },
  "health": "/health"
}`

// WellKnownHandler returns the static Teamspace well-known manifest.
func WellKnownHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(wellKnownManifest))
}
