package ablage

import (
	"context"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Pagination bounds.
const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// listEntry pairs a response item with the creation time it sorts on. A zero
// created time (archive sidecar with no usable timestamp) sorts last.
type listEntry struct {
	item    ListItem
	created time.Time
}

// paginate sorts entries newest-first (stable, so ties keep enumeration
// order) and slices out the requested page. Out-of-range pages clamp to the
// nearest valid page instead of erroring, and total_pages has a floor of 1
// even for an empty listing.
func paginate(entries []listEntry, page int, limit int) ListResponse {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].created.After(entries[j].created)
	})

	total := len(entries)
	totalPages := (total + limit - 1) / limit
	if totalPages < 1 {
		totalPages = 1
	}

	if page < 1 {
		page = 1
	}
	if page > totalPages {
		page = totalPages
	}

	start := (page - 1) * limit
	end := start + limit
	if start > total {
		start = total
	}
	if end > total {
		end = total
	}

	items := make([]ListItem, 0, end-start)
	for _, e := range entries[start:end] {
		items = append(items, e.item)
	}

	return ListResponse{
		Items:      items,
		Page:       page,
		PerPage:    limit,
		Total:      total,
		TotalPages: totalPages,
	}
}

// pagingParams parses and clamps the page/limit query parameters.
func pagingParams(r *http.Request) (page int, limit int) {
	q := r.URL.Query()

	page = 1
	if v, err := strconv.Atoi(q.Get("page")); err == nil {
		page = v
	}
	if page < 1 {
		page = 1
	}

	limit = defaultPageSize
	if v, err := strconv.Atoi(q.Get("limit")); err == nil && v != 0 {
		limit = v
	}
	if limit < 1 {
		limit = 1
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}

	return page, limit
}

// listImages enumerates the image area. Creation time is the blob's
// modification timestamp; images carry no sidecar.
func (s *Server) listImages(ctx context.Context) ([]listEntry, error) {
	stored, err := s.engine.List(ctx, ClassImages)
	if err != nil {
		return nil, err
	}

	entries := make([]listEntry, 0, len(stored))
	for _, e := range stored {
		id := e.Stem()
		entries = append(entries, listEntry{
			created: e.ModTime,
			item: ListItem{
				ID:      id,
				PageURL: pagePath(ClassImages, id),
				RawURL:  rawPath(ClassImages, id),
				Created: e.ModTime.Format(time.RFC3339Nano),
			},
		})
	}
	return entries, nil
}

// listFiles enumerates the archive area by its sidecar documents. Sidecars
// that fail to load or decode are skipped; the reaper will remove them if
// their blob is gone.
func (s *Server) listFiles(ctx context.Context) ([]listEntry, error) {
	stored, err := s.engine.List(ctx, ClassFiles)
	if err != nil {
		return nil, err
	}

	entries := make([]listEntry, 0, len(stored))
	for _, e := range stored {
		if !strings.HasSuffix(e.Name, ".json") {
			continue
		}

		id := strings.TrimSuffix(e.Name, ".json")
		meta, err := s.readSidecar(ctx, id)
		if err != nil {
			slog.Debug("skip unreadable sidecar", "name", e.Name, "err", err)
			continue
		}
		if meta.ID == "" {
			meta.ID = id
		}

		created := ""
		if !meta.Created.IsZero() {
			created = meta.Created.Format(time.RFC3339Nano)
		}

		name := meta.OriginalName
		if name == "" {
			name = meta.ID
		}

		entries = append(entries, listEntry{
			created: meta.Created,
			item: ListItem{
				ID:           meta.ID,
				PageURL:      pagePath(ClassFiles, meta.ID),
				RawURL:       rawPath(ClassFiles, meta.ID),
				Created:      created,
				Size:         meta.Size,
				OriginalName: name,
			},
		})
	}
	return entries, nil
}

func (s *Server) handleListImages(w http.ResponseWriter, r *http.Request) {
	entries, err := s.listImages(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	page, limit := pagingParams(r)
	writeJSON(w, http.StatusOK, paginate(entries, page, limit))
}

func (s *Server) handleListFiles(w http.ResponseWriter, r *http.Request) {
	entries, err := s.listFiles(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	page, limit := pagingParams(r)
	writeJSON(w, http.StatusOK, paginate(entries, page, limit))
}
