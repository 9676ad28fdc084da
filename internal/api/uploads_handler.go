package api

import (
	"errors"
	"mime"
	"net/http"
	"strconv"

	"github.com/alecgard/teamspace/internal/upload"
	"github.com/go-chi/chi/v5"
)

// multipartMemory is how much of a multipart form is held in memory before
// parts spill to temporary files.
const multipartMemory = 32 << 20

// uploadsHandler groups upload HTTP handlers.
type uploadsHandler struct {
	uploads Uploads
	maxSize int64
}

func newUploadsHandler(uploads Uploads, maxSize int64) *uploadsHandler {
	return &uploadsHandler{uploads: uploads, maxSize: maxSize}
}

// Create handles POST /api/v1/projects/{id}/uploads as multipart/form-data
// with a "file" part and an optional "description" field.
func (h *uploadsHandler) Create(w http.ResponseWriter, r *http.Request) {
	if h.maxSize > 0 {
		// Leave room for the multipart framing and the description.
		r.Body = http.MaxBytesReader(w, r.Body, h.maxSize+maxBodySize)
	}
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "too_large", "upload exceeds the maximum size")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid_body", "expected a multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "validation_error", "file is required")
		return
	}
	defer file.Close()

	up, err := h.uploads.Upload(r.Context(), chi.URLParam(r, "id"), actorFrom(r), upload.Input{
		Filename:    header.Filename,
		Description: r.FormValue("description"),
		Body:        file,
	})
	if err != nil {
		writeServiceError(w, r, err)
		return
	}

	auditLog(r, "upload", "project", up.ProjectID, "upload_id", up.ID, "week", up.Week, "size_bytes", up.Size)
	writeJSON(w, http.StatusCreated, up)
}

// List handles GET /api/v1/projects/{id}/uploads. ?week=N limits the listing
// to one week.
func (h *uploadsHandler) List(w http.ResponseWriter, r *http.Request) {
	week := 0
	if v := r.URL.Query().Get("week"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "invalid_query", "week must be a positive integer")
			return
		}
		week = n
	}

	items, err := h.uploads.List(r.Context(), chi.URLParam(r, "id"), actorFrom(r).ID, week)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	if items == nil {
		items = []upload.Upload{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"uploads": items})
}

// Download handles GET /api/v1/projects/{id}/uploads/{uploadID}/download.
func (h *uploadsHandler) Download(w http.ResponseWriter, r *http.Request) {
	up, f, err := h.uploads.Open(r.Context(), chi.URLParam(r, "id"), chi.URLParam(r, "uploadID"), actorFrom(r).ID)
	if err != nil {
		writeServiceError(w, r, err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": up.OriginalName}))
	w.Header().Set("Content-Type", "application/octet-stream")
	http.ServeContent(w, r, up.OriginalName, up.UploadedAt, f)
}
