package api

import (
	"net/http"
)

// memberStream admits a live stream only for a project the caller belongs
// to. The unfiltered stream is never exposed over HTTP.
func memberStream(projects Projects, next http.Handler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		projectID := r.URL.Query().Get("project")
		if projectID == "" {
			writeError(w, http.StatusBadRequest, "invalid_query", "project query parameter is required")
			return
		}
		if _, err := projects.RequireMember(r.Context(), projectID, actorFrom(r).ID); err != nil {
			writeServiceError(w, r, err)
			return
		}
		next.ServeHTTP(w, r)
	}
}
