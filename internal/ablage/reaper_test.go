package ablage

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"ablage/internal/storage"

	"github.com/stretchr/testify/require"
)

// recordingMetrics counts reaper activity for assertions.
type recordingMetrics struct {
	mu      sync.Mutex
	reaped  map[string]int
	orphans int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{reaped: make(map[string]int)}
}

func (m *recordingMetrics) IncUploadAccepted(string) {}
func (m *recordingMetrics) IncUploadRejected(string) {}

func (m *recordingMetrics) IncReaped(class string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reaped[class]++
}

func (m *recordingMetrics) IncOrphansRemoved() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orphans++
}

func newReaperFixture(t *testing.T, ttl time.Duration) (storage.Engine, string, *recordingMetrics, *Reaper) {
	t.Helper()

	root := t.TempDir()
	engine, err := storage.NewLocalFileStorage(root, ClassImages, ClassFiles)
	require.NoError(t, err, "NewLocalFileStorage error")

	metrics := newRecordingMetrics()
	return engine, root, metrics, NewReaper(engine, ttl, time.Hour, metrics)
}

// age rewinds an object's modification time so the next cycle sees it as
// expired.
func age(t *testing.T, root string, class string, name string, d time.Duration) {
	t.Helper()

	past := time.Now().Add(-d)
	require.NoError(t, os.Chtimes(filepath.Join(root, class, name), past, past))
}

func putObject(t *testing.T, engine storage.Engine, class string, name string, data []byte) {
	t.Helper()

	_, err := engine.Put(context.Background(), class, name, data)
	require.NoError(t, err, "Put %s/%s", class, name)
}

func TestReaperExpiresOldObjects(t *testing.T) {
	t.Parallel()

	engine, root, metrics, reaper := newReaperFixture(t, 24*time.Hour)
	ctx := context.Background()

	putObject(t, engine, ClassImages, "old.png", []byte("png"))
	putObject(t, engine, ClassImages, "young.png", []byte("png"))
	age(t, root, ClassImages, "old.png", 48*time.Hour)

	reaper.RunCycle(ctx)

	_, _, err := engine.Open(ctx, ClassImages, "old.png")
	require.ErrorIs(t, err, fs.ErrNotExist, "expired object must be removed")

	_, _, err = engine.Open(ctx, ClassImages, "young.png")
	require.NoError(t, err, "object within TTL must survive")

	require.Equal(t, 1, metrics.reaped[ClassImages])
}

// An expired archive takes its sidecar with it, and the sidecar goes first.
func TestReaperExpiresArchiveWithSidecar(t *testing.T) {
	t.Parallel()

	engine, root, metrics, reaper := newReaperFixture(t, 24*time.Hour)
	ctx := context.Background()

	putObject(t, engine, ClassFiles, "aa.zip", []byte("zip"))
	putObject(t, engine, ClassFiles, "aa.json", []byte(`{"id":"aa"}`))
	age(t, root, ClassFiles, "aa.zip", 48*time.Hour)
	age(t, root, ClassFiles, "aa.json", 48*time.Hour)

	reaper.RunCycle(ctx)

	for _, name := range []string{"aa.zip", "aa.json"} {
		_, _, err := engine.Open(ctx, ClassFiles, name)
		require.ErrorIs(t, err, fs.ErrNotExist, "%s must be removed", name)
	}
	require.NotZero(t, metrics.reaped[ClassFiles])
}

func TestReaperRemovesOrphanSidecars(t *testing.T) {
	t.Parallel()

	engine, _, metrics, reaper := newReaperFixture(t, 24*time.Hour)
	ctx := context.Background()

	// Orphan: sidecar without a blob. Pair: sidecar with its blob.
	putObject(t, engine, ClassFiles, "gone.json", []byte(`{"id":"gone"}`))
	putObject(t, engine, ClassFiles, "kept.zip", []byte("zip"))
	putObject(t, engine, ClassFiles, "kept.json", []byte(`{"id":"kept"}`))

	reaper.RunCycle(ctx)

	_, _, err := engine.Open(ctx, ClassFiles, "gone.json")
	require.ErrorIs(t, err, fs.ErrNotExist, "orphan sidecar must be removed")

	_, _, err = engine.Open(ctx, ClassFiles, "kept.json")
	require.NoError(t, err, "paired sidecar must survive")

	require.Equal(t, 1, metrics.orphans)
}

// flakyEngine fails removal of one specific object.
type flakyEngine struct {
	storage.Engine
	failName string
}

func (f *flakyEngine) Remove(ctx context.Context, class string, name string) error {
	if name == f.failName {
		return errors.New("simulated removal failure")
	}
	return f.Engine.Remove(ctx, class, name)
}

// A failing item is logged and skipped; the rest of the cycle proceeds.
func TestReaperContinuesPastFailures(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	inner, err := storage.NewLocalFileStorage(root, ClassImages, ClassFiles)
	require.NoError(t, err)
	engine := &flakyEngine{Engine: inner, failName: "bad.png"}
	reaper := NewReaper(engine, 24*time.Hour, time.Hour, nil)
	ctx := context.Background()

	putObject(t, inner, ClassImages, "bad.png", []byte("png"))
	putObject(t, inner, ClassImages, "other.png", []byte("png"))
	age(t, root, ClassImages, "bad.png", 48*time.Hour)
	age(t, root, ClassImages, "other.png", 48*time.Hour)

	reaper.RunCycle(ctx)

	_, _, err = inner.Open(ctx, ClassImages, "bad.png")
	require.NoError(t, err, "the failing object stays for a later cycle")

	_, _, err = inner.Open(ctx, ClassImages, "other.png")
	require.ErrorIs(t, err, fs.ErrNotExist, "other expired objects are still removed")
}

func TestReaperRunStopsOnCancel(t *testing.T) {
	t.Parallel()

	_, _, _, reaper := newReaperFixture(t, 24*time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- reaper.Run(ctx)
	}()

	cancel()

	select {
	case err := <-done:
		require.NoError(t, err, "Run must return nil on cancellation")
	case <-time.After(5 * time.Second):
		t.Fatal("reaper did not stop on context cancellation")
	}
}
