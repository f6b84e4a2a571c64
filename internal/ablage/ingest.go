package ablage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"ablage/internal/storage"
)

// chunkSize is the streaming copy granularity. Worst-case disk usage for an
// over-limit upload is ceiling + one chunk.
const chunkSize = 1 << 20

// ingestResult describes a successfully committed upload.
type ingestResult struct {
	Class        string // ClassImages or ClassFiles
	ID           string
	MIME         string
	OriginalName string
	Entry        storage.Entry
}

// responseType maps a content class to the public "type" tag.
func responseType(class string) string {
	if class == ClassImages {
		return "image"
	}
	return "file"
}

// sanitizeBaseName strips any directory components (either separator style)
// from a client-supplied filename.
func sanitizeBaseName(name string) string {
	if idx := strings.LastIndexAny(name, "/\\"); idx >= 0 {
		name = name[idx+1:]
	}
	return name
}

// filePart advances the multipart reader to the "file" form field.
func filePart(mr *multipart.Reader) (*multipart.Part, error) {
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil, ErrNoFilename
		}
		if err != nil {
			return nil, fmt.Errorf("read multipart: %w", err)
		}
		if part.FormName() == "file" {
			return part, nil
		}
		_ = part.Close()
	}
}

// stageUpload streams the part into a uniquely named staging file, enforcing
// the byte ceiling on the running count. It returns the staging path, the
// leading bytes for classification, and the total size. The caller owns
// deleting the staging file on every outcome but a successful commit.
func (s *Server) stageUpload(part io.Reader) (stagingPath string, head []byte, size int64, err error) {
	staging, err := os.CreateTemp(s.cfg.DataRoot, "tmp_*")
	if err != nil {
		return "", nil, 0, fmt.Errorf("create staging file: %w", err)
	}
	stagingPath = staging.Name()

	head = make([]byte, 0, sniffLen)
	buf := make([]byte, chunkSize)
	for {
		n, readErr := part.Read(buf)
		if n > 0 {
			size += int64(n)
			if size > s.cfg.MaxUploadBytes {
				_ = staging.Close()
				return stagingPath, nil, size, ErrTooLarge
			}
			if _, writeErr := staging.Write(buf[:n]); writeErr != nil {
				_ = staging.Close()
				return stagingPath, nil, size, fmt.Errorf("write staging file: %w", writeErr)
			}
			if len(head) < sniffLen {
				head = append(head, buf[:n][:min(n, sniffLen-len(head))]...)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			// Includes client disconnects mid-body.
			_ = staging.Close()
			return stagingPath, nil, size, fmt.Errorf("read upload body: %w", readErr)
		}
	}

	if err := staging.Close(); err != nil {
		return stagingPath, nil, size, fmt.Errorf("close staging file: %w", err)
	}
	return stagingPath, head, size, nil
}

// ingest runs the upload pipeline: fast-fail on the declared length, stream
// to staging under the ceiling, classify by magic bytes, then atomically
// commit into the matching class area. The identifier is generated only once
// classification has succeeded, so no identifier ever refers to an invalid
// or oversized upload. The staging file is removed on every failure path.
func (s *Server) ingest(r *http.Request) (*ingestResult, error) {
	ctx := r.Context()

	// Front-door limit via Content-Length, if the client declared one. The
	// streaming counter below re-checks against the actual bytes.
	if r.ContentLength > s.cfg.MaxUploadBytes {
		return nil, ErrTooLarge
	}

	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoFilename, err)
	}

	part, err := filePart(mr)
	if err != nil {
		return nil, err
	}
	defer part.Close()

	originalName := sanitizeBaseName(part.FileName())
	if originalName == "" {
		return nil, ErrNoFilename
	}

	stagingPath, head, size, err := s.stageUpload(part)
	committed := false
	if stagingPath != "" {
		defer func() {
			if !committed {
				if rmErr := os.Remove(stagingPath); rmErr != nil && !os.IsNotExist(rmErr) {
					slog.Error("remove staging file", "path", stagingPath, "err", rmErr)
				}
			}
		}()
	}
	if err != nil {
		return nil, err
	}

	if size == 0 {
		return nil, ErrEmptyUpload
	}

	mime, recognized := DetectMIME(head)
	if !recognized {
		return nil, ErrUnsupportedMediaType
	}

	var class string
	switch {
	case imageMIME[mime]:
		class = ClassImages
	case archiveMIME[mime]:
		class = ClassFiles
	default:
		return nil, fmt.Errorf("%w: %s", ErrMediaTypeNotAllowed, mime)
	}

	id := newObjectID()
	savedName := id + extByMIME[mime]

	entry, err := s.engine.Commit(ctx, class, savedName, stagingPath)
	if err != nil {
		return nil, fmt.Errorf("commit upload: %w", err)
	}
	committed = true

	if class == ClassFiles {
		// The blob is already valid; a sidecar failure degrades the listing
		// and download-name metadata but must not fail the upload.
		if err := s.writeSidecar(r, id, originalName, entry); err != nil {
			slog.Error("write sidecar", "id", id, "err", err)
		}
	}

	return &ingestResult{
		Class:        class,
		ID:           id,
		MIME:         mime,
		OriginalName: originalName,
		Entry:        entry,
	}, nil
}

func (s *Server) writeSidecar(r *http.Request, id string, originalName string, entry storage.Entry) error {
	meta := Sidecar{
		ID:           id,
		OriginalName: originalName,
		SavedName:    entry.Name,
		Size:         entry.Size,
		Created:      entry.ModTime,
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return err
	}
	_, err = s.engine.Put(r.Context(), ClassFiles, id+".json", raw)
	return err
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	res, err := s.ingest(r)
	if err != nil {
		s.metrics.IncUploadRejected(rejectReason(err))
		writeError(w, err)
		return
	}
	s.metrics.IncUploadAccepted(res.Class)

	base := baseURL(r)
	resp := UploadResponse{
		Type:    responseType(res.Class),
		ID:      res.ID,
		PageURL: base + pagePath(res.Class, res.ID),
		RawURL:  base + rawPath(res.Class, res.ID),
	}
	if res.Class == ClassFiles {
		resp.OriginalName = res.OriginalName
	}
	writeJSON(w, http.StatusOK, resp)
}

func rejectReason(err error) string {
	switch {
	case errors.Is(err, ErrNoFilename):
		return "no_filename"
	case errors.Is(err, ErrEmptyUpload):
		return "empty"
	case errors.Is(err, ErrTooLarge):
		return "too_large"
	case errors.Is(err, ErrUnsupportedMediaType):
		return "unrecognized"
	case errors.Is(err, ErrMediaTypeNotAllowed):
		return "not_allowed"
	default:
		return "internal"
	}
}
