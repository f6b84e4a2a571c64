package ablage

import "time"

// UploadResponse is returned by POST /upload.
type UploadResponse struct {
	Type         string `json:"type"`
	ID           string `json:"id"`
	PageURL      string `json:"page_url"`
	RawURL       string `json:"raw_url"`
	OriginalName string `json:"original_name,omitempty"`
}

// ListItem is one object in a listing response.
type ListItem struct {
	ID           string `json:"id"`
	PageURL      string `json:"page_url"`
	RawURL       string `json:"raw_url"`
	Created      string `json:"created"`
	Size         int64  `json:"size,omitempty"`
	OriginalName string `json:"original_name,omitempty"`
}

// ListResponse is the paginated listing envelope.
type ListResponse struct {
	Items      []ListItem `json:"items"`
	Page       int        `json:"page"`
	PerPage    int        `json:"per_page"`
	Total      int        `json:"total"`
	TotalPages int        `json:"total_pages"`
}

// Sidecar is the per-archive metadata document stored as "{id}.json" next to
// its blob. OriginalName is stored base-name sanitized but must still be
// treated as untrusted input wherever it is echoed into an output channel.
type Sidecar struct {
	ID           string    `json:"id"`
	OriginalName string    `json:"original_name"`
	SavedName    string    `json:"saved_name"`
	Size         int64     `json:"size"`
	Created      time.Time `json:"created"`
}

// ErrorResponse is the JSON error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}
