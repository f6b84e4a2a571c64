package ablage

import (
	"bytes"
	"encoding/hex"
	"errors"
	"io"
	"io/fs"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
)

// Cache policies for raw content. Objects are immutable once committed, so
// images (served under their trusted commit-time type) get the immutable
// marker.
const (
	cacheImmutable = "public, max-age=604800, immutable"
	cacheLongLived = "public, max-age=604800"
)

// stripHeaderControls removes CR, LF and TAB so a stored filename can never
// smuggle extra header lines into the response.
func stripHeaderControls(name string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '\r', '\n', '\t':
			return -1
		}
		return r
	}, name)
}

// isRFC5987AttrChar reports whether c may appear unescaped in an ext-value.
func isRFC5987AttrChar(c byte) bool {
	if (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') {
		return true
	}
	switch c {
	case '!', '#', '$', '&', '+', '-', '.', '^', '_', '`', '|', '~':
		return true
	}
	return false
}

// encodeRFC5987 percent-encodes a filename for the extended-parameter form
// of Content-Disposition ("filename*=UTF-8''..."), so non-ASCII names
// round-trip through the header.
func encodeRFC5987(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isRFC5987AttrChar(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteString("%")
		b.WriteString(strings.ToUpper(hex.EncodeToString([]byte{c})))
	}
	return b.String()
}

// contentDisposition builds the attachment header value for a download name.
func contentDisposition(name string) string {
	return "attachment; filename*=UTF-8''" + encodeRFC5987(stripHeaderControls(name))
}

// handleRawImage streams an image blob. The media type comes from the
// canonical extension the blob was committed with; commit-time
// classification is trusted on the read path.
func (s *Server) handleRawImage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	entry, err := s.engine.Resolve(ctx, ClassImages, id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// Identifiers are not namespaced per class in the public routes;
			// check the archive class before giving up.
			if s.hasSidecar(ctx, id) {
				http.Redirect(w, r, "/raw/file/"+id, http.StatusFound)
				return
			}
			writeError(w, ErrNotFound)
			return
		}
		writeError(w, err)
		return
	}

	rc, entry, err := s.engine.Open(ctx, ClassImages, entry.Name)
	if err != nil {
		// Lost a race against the reaper; a plain 404 is the normal outcome.
		writeError(w, ErrNotFound)
		return
	}
	defer rc.Close()

	contentType := mimeByExt[filepath.Ext(entry.Name)]
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(entry.Size, 10))
	w.Header().Set("Last-Modified", entry.ModTime.Format(http.TimeFormat))
	w.Header().Set("Cache-Control", cacheImmutable)
	_, _ = io.Copy(w, rc)
}

// handleRawFile streams an archive blob as an attachment. Unlike images, the
// media type is re-derived at read time (sniff, then extension guess, then
// generic binary) in case the on-disk content was replaced out-of-band.
func (s *Server) handleRawFile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	meta, err := s.readSidecar(ctx, id)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if _, imgErr := s.engine.Resolve(ctx, ClassImages, id); imgErr == nil {
				http.Redirect(w, r, "/raw/image/"+id, http.StatusFound)
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

	rc, entry, err := s.engine.Open(ctx, ClassFiles, entry.Name)
	if err != nil {
		writeError(w, ErrNotFound)
		return
	}
	defer rc.Close()

	// Sniff the head, then stitch it back in front of the remaining stream.
	head := make([]byte, sniffLen)
	n, readErr := io.ReadFull(rc, head)
	if readErr != nil && readErr != io.ErrUnexpectedEOF && readErr != io.EOF {
		writeError(w, readErr)
		return
	}
	head = head[:n]
	body := io.MultiReader(bytes.NewReader(head), rc)

	contentType, recognized := DetectMIME(head)
	if !recognized {
		contentType = mime.TypeByExtension(filepath.Ext(entry.Name))
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	downloadName := meta.OriginalName
	if downloadName == "" {
		downloadName = entry.Name
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Length", strconv.FormatInt(entry.Size, 10))
	w.Header().Set("Content-Disposition", contentDisposition(downloadName))
	w.Header().Set("Last-Modified", entry.ModTime.Format(http.TimeFormat))
	w.Header().Set("Cache-Control", cacheLongLived)
	_, _ = io.Copy(w, body)
}
