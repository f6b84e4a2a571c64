package ablage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestServer(t *testing.T, opts ...ConfigOption) (*Server, *httptest.Server) {
	t.Helper()

	cfg := NewConfig(append([]ConfigOption{WithDataRoot(t.TempDir())}, opts...)...)
	server, err := NewServer(cfg)
	require.NoError(t, err, "NewServer error")

	ts := httptest.NewServer(server.Handler())
	t.Cleanup(ts.Close)
	return server, ts
}

// noRedirectClient returns redirects to the caller instead of following them.
var noRedirectClient = &http.Client{
	CheckRedirect: func(req *http.Request, via []*http.Request) error {
		return http.ErrUseLastResponse
	},
}

func multipartBody(t *testing.T, field string, filename string, content []byte) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, filename)
	require.NoError(t, err, "create form file")
	_, err = fw.Write(content)
	require.NoError(t, err, "write form file")
	require.NoError(t, mw.Close(), "close multipart writer")
	return &buf, mw.FormDataContentType()
}

func upload(t *testing.T, ts *httptest.Server, filename string, content []byte) *http.Response {
	t.Helper()

	body, contentType := multipartBody(t, "file", filename, content)
	resp, err := http.Post(ts.URL+"/upload", contentType, body)
	require.NoError(t, err, "POST /upload")
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decodeUpload(t *testing.T, resp *http.Response) UploadResponse {
	t.Helper()

	require.Equal(t, http.StatusOK, resp.StatusCode, "upload status")
	var ur UploadResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ur), "decode upload response")
	return ur
}

func pngPayload(size int) []byte {
	p := bytes.Clone(pngHeader)
	if size > len(p) {
		p = append(p, bytes.Repeat([]byte{0x42}, size-len(p))...)
	}
	return p
}

func zipPayload(size int) []byte {
	p := []byte{'P', 'K', 0x03, 0x04, 0x14, 0x00, 0x00, 0x00}
	if size > len(p) {
		p = append(p, bytes.Repeat([]byte{0x13}, size-len(p))...)
	}
	return p
}

func TestUploadImageEndToEnd(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t)

	payload := pngPayload(2048)
	ur := decodeUpload(t, upload(t, ts, "holiday.png", payload))

	require.Equal(t, "image", ur.Type)
	require.Regexp(t, "^[0-9a-f]{32}$", ur.ID, "identifier must be 32 lowercase hex chars")
	require.Equal(t, ts.URL+"/i/"+ur.ID, ur.PageURL)
	require.Equal(t, ts.URL+"/raw/image/"+ur.ID, ur.RawURL)
	require.Empty(t, ur.OriginalName, "images carry no original_name")

	// The raw endpoint serves the exact bytes back under the trusted type.
	resp, err := http.Get(ur.RawURL)
	require.NoError(t, err, "GET raw image")
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	require.Equal(t, fmt.Sprint(len(payload)), resp.Header.Get("Content-Length"))
	require.Equal(t, cacheImmutable, resp.Header.Get("Cache-Control"))
	require.NotEmpty(t, resp.Header.Get("Last-Modified"))

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "read raw image body")
	require.Equal(t, payload, got, "raw bytes must round-trip unchanged")
}

func TestUploadArchiveWritesSidecar(t *testing.T) {
	t.Parallel()
	server, ts := newTestServer(t)

	payload := zipPayload(4096)
	ur := decodeUpload(t, upload(t, ts, "My Report.zip", payload))

	require.Equal(t, "file", ur.Type)
	require.Equal(t, "My Report.zip", ur.OriginalName)
	require.Equal(t, ts.URL+"/f/"+ur.ID, ur.PageURL)
	require.Equal(t, ts.URL+"/raw/file/"+ur.ID, ur.RawURL)

	// The sidecar is a committed object of its own.
	meta, err := server.readSidecar(t.Context(), ur.ID)
	require.NoError(t, err, "read sidecar")
	require.Equal(t, ur.ID, meta.ID)
	require.Equal(t, "My Report.zip", meta.OriginalName)
	require.Equal(t, ur.ID+".zip", meta.SavedName)
	require.Equal(t, int64(len(payload)), meta.Size)
	require.WithinDuration(t, time.Now(), meta.Created, time.Minute)

	// Raw delivery re-sniffs the content and restores the original download
	// name through the extended Content-Disposition parameter.
	resp, err := http.Get(ur.RawURL)
	require.NoError(t, err, "GET raw file")
	defer resp.Body.Close()

	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "application/zip", resp.Header.Get("Content-Type"))

	_, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition"))
	require.NoError(t, err, "parse Content-Disposition")
	require.Equal(t, "My Report.zip", params["filename"], "download name must round-trip")

	got, err := io.ReadAll(resp.Body)
	require.NoError(t, err, "read raw file body")
	require.Equal(t, payload, got)
}

// The client-declared filename never influences classification: ZIP content
// uploaded as "photo.jpg" lands in the archive class with a .zip extension.
func TestUploadClassifiesByMagicNotName(t *testing.T) {
	t.Parallel()
	server, ts := newTestServer(t)

	ur := decodeUpload(t, upload(t, ts, "photo.jpg", zipPayload(512)))
	require.Equal(t, "file", ur.Type)
	require.Equal(t, "photo.jpg", ur.OriginalName)

	meta, err := server.readSidecar(t.Context(), ur.ID)
	require.NoError(t, err)
	require.Equal(t, ur.ID+".zip", meta.SavedName, "stored under the canonical extension for its true type")
}

func TestUploadTooLargeDeclaredLength(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, WithMaxUploadBytes(1024))

	resp := upload(t, ts, "big.png", pngPayload(4096))
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
}

// Without a usable Content-Length the ceiling is enforced on the running
// byte count, and the rejected upload leaves nothing behind on disk.
func TestUploadTooLargeStreamingLeavesNothingBehind(t *testing.T) {
	t.Parallel()
	server, ts := newTestServer(t, WithMaxUploadBytes(1024))

	body, contentType := multipartBody(t, "file", "big.png", pngPayload(4096))
	req, err := http.NewRequest(http.MethodPost, ts.URL+"/upload", struct{ io.Reader }{body})
	require.NoError(t, err)
	req.Header.Set("Content-Type", contentType)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)

	var er ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&er))
	require.Equal(t, ErrTooLarge.Error(), er.Error)

	// No staging leftovers and no committed objects.
	root := server.cfg.DataRoot
	matches, err := filepath.Glob(filepath.Join(root, "tmp_*"))
	require.NoError(t, err)
	require.Empty(t, matches, "staging files must be cleaned up")

	for _, class := range []string{ClassImages, ClassFiles} {
		dirEntries, err := os.ReadDir(filepath.Join(root, class))
		require.NoError(t, err)
		require.Empty(t, dirEntries, "no object may be committed for a rejected upload")
	}
}

func TestUploadEmptyFile(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t)

	resp := upload(t, ts, "empty.png", nil)
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)

	var er ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&er))
	require.Equal(t, ErrEmptyUpload.Error(), er.Error)
}

func TestUploadMissingFilePart(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t)

	body, contentType := multipartBody(t, "attachment", "x.png", pngPayload(64))
	resp, err := http.Post(ts.URL+"/upload", contentType, body)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadUnrecognizedContent(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t)

	resp := upload(t, ts, "notes.txt", []byte("just some plain text, no magic here"))
	require.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestUploadRecognizedButNotAllowed(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t)

	resp := upload(t, ts, "paper.pdf", []byte("%PDF-1.7\nsome pdf content"))
	require.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
}

func TestUploadSanitizesPathComponents(t *testing.T) {
	t.Parallel()
	server, ts := newTestServer(t)

	ur := decodeUpload(t, upload(t, ts, `C:\Users\me\..\secret.zip`, zipPayload(256)))
	meta, err := server.readSidecar(t.Context(), ur.ID)
	require.NoError(t, err)
	require.Equal(t, "secret.zip", meta.OriginalName, "directory components must be stripped")
}

func TestConcurrentUploadsGetDistinctIDs(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t)

	const n = 16
	ids := make(chan string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()

			body, contentType := multipartBody(t, "file", "img.png", pngPayload(512))
			resp, err := http.Post(ts.URL+"/upload", contentType, body)
			if err != nil {
				t.Error(err)
				return
			}
			defer resp.Body.Close()

			var ur UploadResponse
			if err := json.NewDecoder(resp.Body).Decode(&ur); err != nil {
				t.Error(err)
				return
			}
			ids <- ur.ID
		}()
	}
	wg.Wait()
	close(ids)

	seen := make(map[string]bool)
	for id := range ids {
		require.False(t, seen[id], "duplicate identifier %s", id)
		seen[id] = true
	}
	require.Len(t, seen, n)

	// All of them are visible in the listing.
	resp, err := http.Get(ts.URL + "/list/images?limit=100")
	require.NoError(t, err)
	defer resp.Body.Close()

	var lr ListResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&lr))
	require.Equal(t, n, lr.Total)
}

func TestListImagesNewestFirstOverHTTP(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t)

	var lastID string
	for i := 0; i < 3; i++ {
		ur := decodeUpload(t, upload(t, ts, "img.png", pngPayload(256+i)))
		lastID = ur.ID
		time.Sleep(20 * time.Millisecond)
	}

	resp, err := http.Get(ts.URL + "/list/images")
	require.NoError(t, err)
	defer resp.Body.Close()

	var lr ListResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&lr))
	require.Equal(t, 3, lr.Total)
	require.Equal(t, 1, lr.Page)
	require.Equal(t, defaultPageSize, lr.PerPage)
	require.Equal(t, lastID, lr.Items[0].ID, "most recent upload lists first")
	require.Equal(t, "/i/"+lastID, lr.Items[0].PageURL)
	require.Equal(t, "/raw/image/"+lastID, lr.Items[0].RawURL)
}

func TestListFilesCarriesSidecarMetadata(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t)

	payload := zipPayload(1024)
	ur := decodeUpload(t, upload(t, ts, "archive one.zip", payload))

	resp, err := http.Get(ts.URL + "/list/files")
	require.NoError(t, err)
	defer resp.Body.Close()

	var lr ListResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&lr))
	require.Equal(t, 1, lr.Total)
	require.Equal(t, ur.ID, lr.Items[0].ID)
	require.Equal(t, "archive one.zip", lr.Items[0].OriginalName)
	require.Equal(t, int64(len(payload)), lr.Items[0].Size)
	require.NotEmpty(t, lr.Items[0].Created)
}

func TestListPaginationOverHTTP(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t)

	for i := 0; i < 5; i++ {
		decodeUpload(t, upload(t, ts, "img.png", pngPayload(128+i)))
	}

	fetch := func(query string) ListResponse {
		resp, err := http.Get(ts.URL + "/list/images?" + query)
		require.NoError(t, err)
		defer resp.Body.Close()
		var lr ListResponse
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&lr))
		return lr
	}

	lr := fetch("limit=2")
	require.Equal(t, 5, lr.Total)
	require.Equal(t, 3, lr.TotalPages)
	require.Len(t, lr.Items, 2)

	// Out-of-range pages clamp instead of erroring.
	beyond := fetch("limit=2&page=99")
	require.Equal(t, 3, beyond.Page)
	require.Len(t, beyond.Items, 1)

	below := fetch("limit=2&page=0")
	require.Equal(t, 1, below.Page)
	require.Len(t, below.Items, 2)
}

// Identifiers are not namespaced per class in the public routes; a link built
// for the wrong class redirects to the right one.
func TestCrossClassRedirects(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t)

	img := decodeUpload(t, upload(t, ts, "pic.png", pngPayload(256)))
	arch := decodeUpload(t, upload(t, ts, "data.zip", zipPayload(256)))

	tests := []struct {
		url      string
		location string
	}{
		{"/raw/file/" + img.ID, "/raw/image/" + img.ID},
		{"/raw/image/" + arch.ID, "/raw/file/" + arch.ID},
		{"/f/" + img.ID, "/i/" + img.ID},
		{"/i/" + arch.ID, "/f/" + arch.ID},
	}

	for _, tt := range tests {
		resp, err := noRedirectClient.Get(ts.URL + tt.url)
		require.NoError(t, err, "GET %s", tt.url)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusFound, resp.StatusCode, "GET %s", tt.url)
		require.Equal(t, tt.location, resp.Header.Get("Location"), "GET %s", tt.url)
	}
}

func TestUnknownIDReturns404(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t)

	for _, path := range []string{
		"/raw/image/ffffffffffffffffffffffffffffffff",
		"/raw/file/ffffffffffffffffffffffffffffffff",
		"/i/ffffffffffffffffffffffffffffffff",
		"/f/ffffffffffffffffffffffffffffffff",
	} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err, "GET %s", path)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusNotFound, resp.StatusCode, "GET %s", path)
	}
}

func TestDetailPages(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t)

	img := decodeUpload(t, upload(t, ts, "pic.png", pngPayload(256)))
	arch := decodeUpload(t, upload(t, ts, "Bücher & Co.zip", zipPayload(2048)))

	resp, err := http.Get(ts.URL + "/i/" + img.ID)
	require.NoError(t, err)
	page, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/html"))
	require.Contains(t, string(page), img.ID)
	require.Contains(t, string(page), "/raw/image/"+img.ID)

	resp, err = http.Get(ts.URL + "/f/" + arch.ID)
	require.NoError(t, err)
	page, err = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(page), "Bücher &amp; Co.zip", "original name is HTML-escaped into the page")
	require.Contains(t, string(page), "/raw/file/"+arch.ID)
}

func TestIndexAndServiceEndpoints(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t, WithTitle("Test Gallery"))

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	page, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, string(page), "Test Gallery")

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	var health map[string]string
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	_ = resp.Body.Close()
	require.Equal(t, "ok", health["status"])

	resp, err = http.Get(ts.URL + "/robots.txt")
	require.NoError(t, err)
	robots, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	require.Contains(t, string(robots), "Disallow: /")

	resp, err = http.Get(ts.URL + "/assets/zip_icon.png")
	require.NoError(t, err)
	icon, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	require.NoError(t, err)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	require.NotEmpty(t, icon)
}

// HTML pages carry the CSP and robots headers; JSON and raw responses get
// only the baseline set.
func TestSecurityHeaders(t *testing.T) {
	t.Parallel()
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	require.NotEmpty(t, resp.Header.Get("Content-Security-Policy"))
	require.Equal(t, "noindex, nofollow", resp.Header.Get("X-Robots-Tag"))

	resp, err = http.Get(ts.URL + "/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Equal(t, "nosniff", resp.Header.Get("X-Content-Type-Options"))
	require.Empty(t, resp.Header.Get("Content-Security-Policy"), "CSP applies to HTML only")
}

func TestNewObjectID(t *testing.T) {
	t.Parallel()

	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := newObjectID()
		require.Regexp(t, "^[0-9a-f]{32}$", id)
		require.False(t, seen[id], "identifier collision")
		seen[id] = true
	}
}

func TestNewServerRequiresDataRoot(t *testing.T) {
	t.Parallel()

	_, err := NewServer(NewConfig())
	require.Error(t, err)
}
