package ablage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/h2non/filetype"
)

// Content classes, doubling as storage-area directory names.
const (
	ClassImages = "images"
	ClassFiles  = "files"
)

// sniffLen is how many leading bytes the magic-number matchers need at most.
const sniffLen = 262

// imageMIME and archiveMIME are the allow-lists. Classification is based
// solely on magic bytes; the client-declared filename and Content-Type are
// never consulted, so a renamed executable classifies as its true type (or
// as unrecognized), never as whatever extension it was given.
var imageMIME = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/gif":  true,
	"image/webp": true,
}

var archiveMIME = map[string]bool{
	"application/zip":             true,
	"application/x-7z-compressed": true,
	"application/x-rar-compressed": true,
	"application/x-tar":           true,
	"application/gzip":            true,
	"application/x-bzip2":         true,
	"application/x-xz":            true,
}

// extByMIME maps each allow-listed type to the single canonical extension it
// is stored with, independent of the client's original filename.
var extByMIME = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
	"image/webp": ".webp",

	"application/zip":             ".zip",
	"application/x-7z-compressed": ".7z",
	"application/x-rar-compressed": ".rar",
	"application/x-tar":           ".tar",
	"application/gzip":            ".gz",
	"application/x-bzip2":         ".bz2",
	"application/x-xz":            ".xz",
}

// mimeByMagicExt translates the matcher's extension tag into our canonical
// MIME identifier. Keyed on extensions rather than the matcher's MIME
// strings, which have shifted across filetype releases.
var mimeByMagicExt = map[string]string{
	"jpg":  "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"webp": "image/webp",

	"zip": "application/zip",
	"7z":  "application/x-7z-compressed",
	"rar": "application/x-rar-compressed",
	"tar": "application/x-tar",
	"gz":  "application/gzip",
	"bz2": "application/x-bzip2",
	"xz":  "application/x-xz",
}

// mimeByExt is the reverse of extByMIME, used when serving images whose
// commit-time classification is trusted.
var mimeByExt = func() map[string]string {
	m := make(map[string]string, len(extByMIME))
	for mime, ext := range extByMIME {
		m[ext] = mime
	}
	return m
}()

// DetectMIME sniffs the leading bytes of a payload and returns its canonical
// MIME identifier. recognized is false when the content matched no known
// magic number at all; a recognized type that is not on either allow-list is
// returned as-is so callers can distinguish "unrecognized" from "recognized
// but not allowed".
func DetectMIME(head []byte) (mime string, recognized bool) {
	t, err := filetype.Match(head)
	if err != nil || t == filetype.Unknown {
		return "", false
	}
	if canonical, ok := mimeByMagicExt[t.Extension]; ok {
		return canonical, true
	}
	return t.MIME.Value, true
}

// ValidateTypeTables verifies at startup that every allow-listed type has a
// canonical extension mapping. A gap here would let a valid upload commit
// with no extension, so it is a fatal configuration error.
func ValidateTypeTables() error {
	var missing []string
	for mime := range imageMIME {
		if _, ok := extByMIME[mime]; !ok {
			missing = append(missing, mime)
		}
	}
	for mime := range archiveMIME {
		if _, ok := extByMIME[mime]; !ok {
			missing = append(missing, mime)
		}
	}
	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("extension mapping missing for: %s", strings.Join(missing, ", "))
	}
	return nil
}
