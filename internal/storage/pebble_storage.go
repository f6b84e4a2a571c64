package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
)

// PebbleStorage is an Engine backed by an embedded pebble key-value store.
// It keeps the whole object model inside a single database directory, which
// is mainly useful for tests and deployments that want one datastore file
// tree instead of loose blob files.
//
// Layout: payload bytes live under "o/{class}/{name}" and a small JSON meta
// record (size, mod time) under "m/{class}/{name}".
type PebbleStorage struct {
	db *pebble.DB
}

type pebbleMeta struct {
	Size    int64     `json:"size"`
	ModTime time.Time `json:"mod_time"`
}

// NewPebbleStorage opens (or creates) a pebble database at path.
func NewPebbleStorage(path string) (*PebbleStorage, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble db: %w", err)
	}
	return &PebbleStorage{db: db}, nil
}

// Close closes the underlying database.
func (s *PebbleStorage) Close() error {
	return s.db.Close()
}

func dataKey(class string, name string) []byte {
	return []byte("o/" + class + "/" + name)
}

func metaKey(class string, name string) []byte {
	return []byte("m/" + class + "/" + name)
}

// keyUpperBound returns the smallest key strictly greater than every key with
// the given prefix.
func keyUpperBound(prefix []byte) []byte {
	end := append([]byte(nil), prefix...)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}

func (s *PebbleStorage) put(class string, name string, data []byte, modTime time.Time) (Entry, error) {
	if err := validateName(class); err != nil {
		return Entry{}, err
	}
	if err := validateName(name); err != nil {
		return Entry{}, err
	}

	meta := pebbleMeta{Size: int64(len(data)), ModTime: modTime.UTC()}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return Entry{}, err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Set(dataKey(class, name), data, nil); err != nil {
		return Entry{}, err
	}
	if err := batch.Set(metaKey(class, name), metaJSON, nil); err != nil {
		return Entry{}, err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return Entry{}, fmt.Errorf("commit batch: %w", err)
	}

	return Entry{Name: name, Size: meta.Size, ModTime: meta.ModTime}, nil
}

func (s *PebbleStorage) Commit(ctx context.Context, class string, name string, stagingPath string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}

	data, err := os.ReadFile(stagingPath)
	if err != nil {
		return Entry{}, fmt.Errorf("read staging file: %w", err)
	}

	entry, err := s.put(class, name, data, time.Now())
	if err != nil {
		return Entry{}, err
	}

	// The batch is durable; the staging file is no longer needed.
	if err := os.Remove(stagingPath); err != nil && !os.IsNotExist(err) {
		return Entry{}, err
	}
	return entry, nil
}

func (s *PebbleStorage) Put(ctx context.Context, class string, name string, data []byte) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	return s.put(class, name, data, time.Now())
}

func (s *PebbleStorage) getMeta(class string, name string) (pebbleMeta, error) {
	raw, closer, err := s.db.Get(metaKey(class, name))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return pebbleMeta{}, fs.ErrNotExist
		}
		return pebbleMeta{}, err
	}
	defer closer.Close()

	var meta pebbleMeta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return pebbleMeta{}, fmt.Errorf("decode meta for %s/%s: %w", class, name, err)
	}
	return meta, nil
}

func (s *PebbleStorage) Open(ctx context.Context, class string, name string) (io.ReadCloser, Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, Entry{}, err
	}
	if err := validateName(class); err != nil {
		return nil, Entry{}, err
	}
	if err := validateName(name); err != nil {
		return nil, Entry{}, err
	}

	raw, closer, err := s.db.Get(dataKey(class, name))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return nil, Entry{}, fmt.Errorf("open %s/%s: %w", class, name, fs.ErrNotExist)
		}
		return nil, Entry{}, err
	}
	// Get's value is only valid until the closer is closed; take a copy so
	// the returned reader owns its bytes.
	data := append([]byte(nil), raw...)
	_ = closer.Close()

	meta, err := s.getMeta(class, name)
	if err != nil {
		return nil, Entry{}, err
	}

	entry := Entry{Name: name, Size: meta.Size, ModTime: meta.ModTime}
	return io.NopCloser(bytes.NewReader(data)), entry, nil
}

func (s *PebbleStorage) Resolve(ctx context.Context, class string, stem string) (Entry, error) {
	if err := validateName(stem); err != nil {
		return Entry{}, err
	}

	entries, err := s.List(ctx, class)
	if err != nil {
		return Entry{}, err
	}

	for _, entry := range entries {
		if strings.HasSuffix(entry.Name, ".json") {
			continue
		}
		if entry.Stem() == stem {
			return entry, nil
		}
	}
	return Entry{}, fmt.Errorf("resolve %s/%s: %w", class, stem, fs.ErrNotExist)
}

func (s *PebbleStorage) List(ctx context.Context, class string) ([]Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateName(class); err != nil {
		return nil, err
	}

	prefix := []byte("m/" + class + "/")
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var entries []Entry
	for iter.First(); iter.Valid(); iter.Next() {
		name := string(iter.Key()[len(prefix):])

		var meta pebbleMeta
		if err := json.Unmarshal(iter.Value(), &meta); err != nil {
			return nil, fmt.Errorf("decode meta for %s/%s: %w", class, name, err)
		}
		entries = append(entries, Entry{Name: name, Size: meta.Size, ModTime: meta.ModTime})
	}
	return entries, iter.Error()
}

func (s *PebbleStorage) Remove(ctx context.Context, class string, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateName(class); err != nil {
		return err
	}
	if err := validateName(name); err != nil {
		return err
	}

	batch := s.db.NewBatch()
	defer batch.Close()
	if err := batch.Delete(dataKey(class, name), nil); err != nil {
		return err
	}
	if err := batch.Delete(metaKey(class, name), nil); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}
