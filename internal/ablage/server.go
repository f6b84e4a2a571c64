package ablage

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"

	"ablage/internal/storage"

	"github.com/google/uuid"
)

// Server implements the upload/store/serve/reap HTTP surface over a storage
// engine. It holds no mutable state of its own; all object state lives in
// the engine, and safety under concurrency rests on atomic commits and
// idempotent, missing-is-ok deletes.
type Server struct {
	cfg     Config
	engine  storage.Engine
	metrics Metrics
}

// NewServer validates the type tables, prepares the staging area and returns
// a new Server.
func NewServer(cfg Config) (*Server, error) {
	if cfg.DataRoot == "" {
		return nil, errors.New("DataRoot must not be empty")
	}

	// A recognized type with no extension mapping would commit blobs without
	// an extension; refuse to start instead.
	if err := ValidateTypeTables(); err != nil {
		return nil, fmt.Errorf("type tables: %w", err)
	}

	// Staging files are always written under DataRoot, regardless of engine.
	if err := os.MkdirAll(cfg.DataRoot, 0o755); err != nil {
		return nil, fmt.Errorf("create data root: %w", err)
	}

	if cfg.Engine == nil {
		engine, err := storage.NewLocalFileStorage(cfg.DataRoot, ClassImages, ClassFiles)
		if err != nil {
			return nil, err
		}
		cfg.Engine = engine
	}

	if cfg.Metrics == nil {
		cfg.Metrics = NoopMetrics{}
	}

	return &Server{cfg: cfg, engine: cfg.Engine, metrics: cfg.Metrics}, nil
}

// Engine exposes the storage backend, mainly for the reaper and tests.
func (s *Server) Engine() storage.Engine {
	return s.engine
}

// NewReaper returns a reaper configured with the server's engine, TTL and
// interval.
func (s *Server) NewReaper() *Reaper {
	return NewReaper(s.engine, s.cfg.TTL, s.cfg.ReapInterval, s.metrics)
}

// newObjectID returns a fresh 128-bit random identifier as 32 lowercase hex
// characters. Identifiers are never derived from content or filenames.
func newObjectID() string {
	id := uuid.New()
	return hex.EncodeToString(id[:])
}

// baseURL reconstructs the request's external base URL for building absolute
// page/raw links.
func baseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

func pagePath(class string, id string) string {
	if class == ClassImages {
		return "/i/" + id
	}
	return "/f/" + id
}

func rawPath(class string, id string) string {
	if class == ClassImages {
		return "/raw/image/" + id
	}
	return "/raw/file/" + id
}

// writeJSON encodes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encode JSON response", "err", err)
	}
}

// writeError maps the upload/resolution taxonomy onto HTTP status codes.
// Anything outside the taxonomy is an internal error: the details go to the
// log, not the client.
func writeError(w http.ResponseWriter, err error) {
	var status int
	switch {
	case errors.Is(err, ErrNoFilename), errors.Is(err, ErrEmptyUpload):
		status = http.StatusBadRequest
	case errors.Is(err, ErrTooLarge):
		status = http.StatusRequestEntityTooLarge
	case errors.Is(err, ErrUnsupportedMediaType), errors.Is(err, ErrMediaTypeNotAllowed):
		status = http.StatusUnsupportedMediaType
	case errors.Is(err, ErrNotFound), errors.Is(err, fs.ErrNotExist):
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: ErrNotFound.Error()})
		return
	default:
		slog.Error("internal error", "err", err)
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}

// readSidecar loads and decodes the sidecar document for an archive
// identifier.
func (s *Server) readSidecar(ctx context.Context, id string) (Sidecar, error) {
	rc, _, err := s.engine.Open(ctx, ClassFiles, id+".json")
	if err != nil {
		return Sidecar{}, err
	}
	defer rc.Close()

	raw, err := io.ReadAll(rc)
	if err != nil {
		return Sidecar{}, err
	}

	var meta Sidecar
	if err := json.Unmarshal(raw, &meta); err != nil {
		return Sidecar{}, fmt.Errorf("decode sidecar %s: %w", id, err)
	}
	return meta, nil
}

// hasSidecar reports whether an archive sidecar exists for id.
func (s *Server) hasSidecar(ctx context.Context, id string) bool {
	rc, _, err := s.engine.Open(ctx, ClassFiles, id+".json")
	if err != nil {
		return false
	}
	_ = rc.Close()
	return true
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleRobots(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "User-agent: *\nDisallow: /\n")
}
