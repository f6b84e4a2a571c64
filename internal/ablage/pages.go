package ablage

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"ablage/internal/ui"

	"github.com/a-h/templ"
)

func renderPage(w http.ResponseWriter, r *http.Request, component templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := component.Render(r.Context(), w); err != nil {
		slog.Error("render page", "url", r.URL.String(), "err", err)
	}
}

// remainingDays computes the whole days an object has left before the TTL
// expires it, floored at zero.
func (s *Server) remainingDays(created time.Time) int {
	ttlDays := int(s.cfg.TTL.Hours() / 24)
	elapsed := int(time.Since(created).Hours() / 24)
	if remaining := ttlDays - elapsed; remaining > 0 {
		return remaining
	}
	return 0
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	renderPage(w, r, ui.GalleryPage(s.cfg.Title, s.cfg.MaxUploadBytes>>20))
}

func (s *Server) handleImagePage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	entry, err := s.engine.Resolve(ctx, ClassImages, id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// An old image link may point at an archive; send the client to
			// the file page instead of 404ing.
			if s.hasSidecar(ctx, id) {
				http.Redirect(w, r, "/f/"+id, http.StatusFound)
				return
			}
			writeError(w, ErrNotFound)
			return
		}
		writeError(w, err)
		return
	}

	renderPage(w, r, ui.ImagePage(id, rawPath(ClassImages, id), s.remainingDays(entry.ModTime)))
}

func (s *Server) handleFilePage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	meta, err := s.readSidecar(ctx, id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if _, imgErr := s.engine.Resolve(ctx, ClassImages, id); imgErr == nil {
				http.Redirect(w, r, "/i/"+id, http.StatusFound)
				return
			}
			writeError(w, ErrNotFound)
			return
		}
		writeError(w, err)
		return
	}

	entry, err := s.engine.Resolve(ctx, ClassFiles, id)
	if err != nil {
		writeError(w, ErrNotFound)
		return
	}

	name := meta.OriginalName
	if name == "" {
		name = id
	}

	sizeKB := entry.Size / 1024
	if sizeKB < 1 {
		sizeKB = 1
	}

	renderPage(w, r, ui.FilePage(id, name, sizeKB, rawPath(ClassFiles, id), s.remainingDays(entry.ModTime)))
}

func (s *Server) handleZipIcon(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Content-Length", strconv.Itoa(len(ui.ZipIcon)))
	w.Header().Set("Cache-Control", cacheImmutable)
	_, _ = w.Write(ui.ZipIcon)
}
