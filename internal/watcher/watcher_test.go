package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Aman-CERP/reposync/internal/config"
)

type recorder struct {
	mu       sync.Mutex
	configs  []*config.Config
	applyErr error
}

func (r *recorder) apply(_ context.Context, cfg *config.Config) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.applyErr != nil {
		return r.applyErr
	}
	r.configs = append(r.configs, cfg)
	return nil
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.configs)
}

func (r *recorder) last() *config.Config {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.configs[len(r.configs)-1]
}

// startWatcher runs a watcher on dir/.reposync.yaml and waits until it is registered.
func startWatcher(t *testing.T, rec *recorder) (*ConfigWatcher, string) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, config.ProjectFileName)
	require.NoError(t, os.WriteFile(path, []byte("repositories:\n  - name: libs-release\n"), 0o644))

	w, err := NewConfigWatcher(path, func() (*config.Config, error) {
		return config.LoadFile(path)
	}, rec.apply, Options{DebounceWindow: 20 * time.Millisecond})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()

	t.Cleanup(func() {
		cancel()
		<-done
	})

	select {
	case <-w.Ready():
	case <-time.After(2 * time.Second):
		t.Fatal("watcher not ready")
	}
	return w, path
}

func TestDefaultOptions(t *testing.T) {
	assert.Equal(t, 200*time.Millisecond, DefaultOptions().DebounceWindow)
	assert.Equal(t, 200*time.Millisecond, Options{}.WithDefaults().DebounceWindow)
	assert.Equal(t, time.Second, Options{DebounceWindow: time.Second}.WithDefaults().DebounceWindow)
}

func TestConfigWatcher_ReloadsOnWrite(t *testing.T) {
	// Given: a running watcher
	t.Setenv("REPOSYNC_BULK_SIZE", "")
	rec := &recorder{}
	w, path := startWatcher(t, rec)

	// When: the file is rewritten
	require.NoError(t, os.WriteFile(path, []byte(`
repositories:
  - name: libs-release
    format: maven2
  - name: npm-public
    format: npm
`), 0o644))

	// Then: the new configuration is applied
	require.Eventually(t, func() bool { return rec.count() >= 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Len(t, rec.last().Repositories, 2)
	assert.GreaterOrEqual(t, w.Reloads(), uint64(1))
}

func TestConfigWatcher_DebouncesBursts(t *testing.T) {
	t.Setenv("REPOSYNC_BULK_SIZE", "")
	rec := &recorder{}
	_, path := startWatcher(t, rec)

	// When: several writes land inside one debounce window
	for i := range 5 {
		content := "search:\n  bulk_size: " + string(rune('1'+i)) + "\n"
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	// Then: they collapse into a single reload of the final content
	require.Eventually(t, func() bool { return rec.count() >= 1 }, 3*time.Second, 10*time.Millisecond)
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, 1, rec.count())
	assert.Equal(t, 5, rec.last().Search.BulkSize)
}

func TestConfigWatcher_IgnoresOtherFiles(t *testing.T) {
	rec := &recorder{}
	_, path := startWatcher(t, rec)

	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(path), "notes.txt"), []byte("x"), 0o644))

	time.Sleep(200 * time.Millisecond)
	assert.Zero(t, rec.count())
}

func TestConfigWatcher_InvalidConfigKeepsPrevious(t *testing.T) {
	t.Setenv("REPOSYNC_BULK_SIZE", "")
	rec := &recorder{}
	w, path := startWatcher(t, rec)

	// When: the file becomes invalid
	require.NoError(t, os.WriteFile(path, []byte("search:\n  backend: lucene\n"), 0o644))

	// Then: the failure is counted and nothing is applied
	require.Eventually(t, func() bool { return w.Failures() >= 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Zero(t, rec.count())
	assert.Zero(t, w.Reloads())
}

func TestConfigWatcher_ApplyErrorCounted(t *testing.T) {
	t.Setenv("REPOSYNC_BULK_SIZE", "")
	rec := &recorder{applyErr: errors.New("reconcile failed")}
	w, path := startWatcher(t, rec)

	require.NoError(t, os.WriteFile(path, []byte("version: 1\n"), 0o644))

	require.Eventually(t, func() bool { return w.Failures() >= 1 }, 3*time.Second, 10*time.Millisecond)
	assert.Zero(t, w.Reloads())
}

func TestConfigWatcher_StopIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.ProjectFileName)
	w, err := NewConfigWatcher(path, func() (*config.Config, error) { return config.NewConfig(), nil },
		func(context.Context, *config.Config) error { return nil }, DefaultOptions())
	require.NoError(t, err)

	assert.Equal(t, path, w.Path())
	require.NoError(t, w.Stop())
	assert.NoError(t, w.Stop())
}

func TestConfigWatcher_StartReturnsOnCancel(t *testing.T) {
	path := filepath.Join(t.TempDir(), config.ProjectFileName)
	w, err := NewConfigWatcher(path, func() (*config.Config, error) { return config.NewConfig(), nil },
		func(context.Context, *config.Config) error { return nil }, DefaultOptions())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()
	<-w.Ready()
	cancel()

	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after cancel")
	}
}
