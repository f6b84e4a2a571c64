package ablage

import (
	"net/http"
)

// Handler returns the http.Handler for the full service surface.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	// Pages
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("GET /i/{id}", s.handleImagePage)
	mux.HandleFunc("GET /f/{id}", s.handleFilePage)

	// Upload and listings
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("GET /list/images", s.handleListImages)
	mux.HandleFunc("GET /list/files", s.handleListFiles)

	// Raw content
	mux.HandleFunc("GET /raw/image/{id}", s.handleRawImage)
	mux.HandleFunc("GET /raw/file/{id}", s.handleRawFile)

	// Service endpoints
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /robots.txt", s.handleRobots)
	mux.HandleFunc("GET /assets/zip_icon.png", s.handleZipIcon)
	mux.Handle("GET /metrics", MetricsHandler())

	// Add middleware
	handler := SecurityHeaders(mux)
	handler = LogRequest(handler)
	handler = Recoverer(handler)
	return handler
}
