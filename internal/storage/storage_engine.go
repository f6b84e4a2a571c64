package storage

import (
	"context"
	"io"
	"time"
)

// Entry describes a single stored object within a content class.
type Entry struct {
	// Name is the file name within the class area, e.g. "3f2a...9c.png".
	Name string

	// Size is the payload size in bytes.
	Size int64

	// ModTime is the backend's modification timestamp for the object. It is
	// set at commit time and doubles as the object's creation time, since
	// objects are immutable once committed.
	ModTime time.Time
}

// Stem returns the entry name without its extension, which is the object
// identifier for committed blobs.
func (e Entry) Stem() string {
	for i := len(e.Name) - 1; i >= 0; i-- {
		if e.Name[i] == '.' {
			return e.Name[:i]
		}
	}
	return e.Name
}

// Engine defines the interface for a storage backend holding immutable
// objects organized into content-class areas. Implementations must make
// Commit atomic (readers either see the complete object or nothing) and
// Remove idempotent (removing a missing object is not an error).
//
// Lookup failures are reported as errors satisfying
// errors.Is(err, fs.ErrNotExist).
type Engine interface {
	// Commit atomically publishes the staged file at stagingPath as the
	// object class/name, consuming the staging file.
	Commit(ctx context.Context, class string, name string, stagingPath string) (Entry, error)

	// Put stores a small document (an archive sidecar) under class/name.
	Put(ctx context.Context, class string, name string, data []byte) (Entry, error)

	// Open returns a reader over the object's payload along with its Entry.
	Open(ctx context.Context, class string, name string) (io.ReadCloser, Entry, error)

	// Resolve finds the blob whose name stem equals stem, ignoring sidecar
	// documents (names ending in ".json"). The blob's extension is not known
	// to callers in advance, hence resolution by stem. If more than one blob
	// shares a stem, the first match in lexical order is returned.
	Resolve(ctx context.Context, class string, stem string) (Entry, error)

	// List enumerates every object in the class area, sidecars included.
	List(ctx context.Context, class string) ([]Entry, error)

	// Remove deletes the object class/name. Missing objects are ignored.
	Remove(ctx context.Context, class string, name string) error
}
