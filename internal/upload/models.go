package upload

import (
	"io"
	"time"
)

// Upload is a file attached to one week of a project.
type Upload struct {
	ID           string    `json:"id"`
	ProjectID    string    `json:"project_id"`
	Week         int       `json:"week"`
	StoredName   string    `json:"-"`
	OriginalName string    `json:"original_name"`
	Description  string    `json:"description"`
	UploadedBy   string    `json:"uploaded_by"`
	UploaderName string    `json:"uploader_name,omitempty"`
	Size         int64     `json:"size_bytes"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

// NewUpload is the row written after the file has been stored.
type NewUpload struct {
	ProjectID    string
	Week         int
	StoredName   string
	OriginalName string
	Description  string
	UploadedBy   string
	Size         int64
}

// Input is what a member submits.
type Input struct {
	Filename    string
	Description string
	Body        io.Reader
}
