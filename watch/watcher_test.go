package watch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/chenyanchen/hotreload"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func startWatcher(t *testing.T, strategy *hotreload.Strategy, paths ...string) (*Watcher, <-chan []string) {
	t.Helper()
	fired := make(chan []string, 16)
	w, err := New(strategy,
		WithDebounce(30*time.Millisecond),
		WithOnTrigger(func(paths []string) { fired <- paths }),
	)
	require.NoError(t, err)
	require.NoError(t, w.Add(paths...))

	ctx, cancel := context.WithCancel(context.Background())
	w.Start(ctx)
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, w.Stop())
	})
	return w, fired
}

func waitTrigger(t *testing.T, fired <-chan []string) []string {
	t.Helper()
	select {
	case paths := <-fired:
		return paths
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for trigger")
		return nil
	}
}

func TestWatcherTriggersOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "level.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	strategy := hotreload.Triggered()
	w, fired := startWatcher(t, strategy, path)

	require.NoError(t, os.WriteFile(path, []byte(`{"a":1}`), 0o644))
	paths := waitTrigger(t, fired)

	assert.Equal(t, []string{path}, paths)
	assert.True(t, strategy.Pending())
	assert.Equal(t, uint64(1), w.Triggers())

	strategy.Tick(10, 0)
	assert.True(t, strategy.IsDue(11))
}

func TestWatcherCoalescesBursts(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "level.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	w, fired := startWatcher(t, hotreload.Triggered(), path)

	for i := 0; i < 5; i++ {
		require.NoError(t, os.WriteFile(path, []byte{'{', byte('0' + i), '}'}, 0o644))
	}
	waitTrigger(t, fired)
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, uint64(1), w.Triggers())
}

func TestWatcherIgnoresUnwatchedSiblings(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "level.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	strategy := hotreload.Triggered()
	w, _ := startWatcher(t, strategy, path)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, uint64(0), w.Triggers())
	assert.False(t, strategy.Pending())
}

func TestWatcherWatchesDirectories(t *testing.T) {
	dir := t.TempDir()
	_, fired := startWatcher(t, hotreload.Triggered(), dir)

	created := filepath.Join(dir, "new.yaml")
	require.NoError(t, os.WriteFile(created, []byte("a: 1"), 0o644))

	assert.Contains(t, waitTrigger(t, fired), created)
}

func TestNewWatcherRequiresStrategy(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestWatcherStopWithoutStart(t *testing.T) {
	w, err := New(hotreload.Disabled())
	require.NoError(t, err)
	assert.NoError(t, w.Stop())
}

func TestWatcherCannotRestartAfterStop(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "level.json")
	require.NoError(t, os.WriteFile(path, []byte("{}"), 0o644))

	strategy := hotreload.Triggered()
	w, err := New(strategy, WithDebounce(30*time.Millisecond))
	require.NoError(t, err)
	require.NoError(t, w.Add(path))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	w.Start(ctx)
	require.NoError(t, w.Stop())

	assert.NotPanics(t, func() { w.Start(ctx) })
	require.NoError(t, os.WriteFile(path, []byte(`{"a":1}`), 0o644))
	time.Sleep(150 * time.Millisecond)

	assert.Equal(t, uint64(0), w.Triggers())
	assert.False(t, strategy.Pending())
	assert.NoError(t, w.Stop())
}
