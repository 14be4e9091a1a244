package configadmin

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func TestPIDFromFile(t *testing.T) {
	tests := []struct {
		path string
		pid  string
		ok   bool
	}{
		{"/etc/ccr/foo.yaml", "foo", true},
		{"pool~one.yml", "pool~one", true},
		{"README.md", "", false},
		{".yaml", "", false},
	}

	for _, tt := range tests {
		pid, ok := PIDFromFile(tt.path)
		assert.Equal(t, tt.ok, ok, tt.path)
		assert.Equal(t, tt.pid, pid, tt.path)
	}
}

func TestWatcher_Sync(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "greeter.yaml", "greeting: hello\nnested:\n  level: 2\n")
	writeFile(t, dir, "pool~a.yaml", "size: 3\n")
	writeFile(t, dir, "broken.yaml", "a: [unterminated\n")
	writeFile(t, dir, "notes.txt", "ignored")

	admin := NewMemory(nil)
	w, err := NewWatcher(dir, admin, nil)
	require.NoError(t, err)
	require.NoError(t, w.Sync())

	greeter, ok := admin.Get("greeter")
	require.True(t, ok)
	props := greeter.ProcessedProperties()
	assert.Equal(t, "hello", props["greeting"])
	assert.EqualValues(t, 2, props["nested.level"])

	pool, ok := admin.Get("pool~a")
	require.True(t, ok)
	assert.Equal(t, "pool", pool.FactoryPID())

	_, ok = admin.Get("broken")
	assert.False(t, ok)

	log := &eventLog{}
	admin.AddListener(log)

	// unchanged files produce no events
	require.NoError(t, w.Sync())
	assert.Empty(t, log.snapshot())

	require.NoError(t, os.Remove(filepath.Join(dir, "pool~a.yaml")))
	require.NoError(t, w.Sync())
	_, ok = admin.Get("pool~a")
	assert.False(t, ok)
	assert.Equal(t, []Event{{Type: Deleted, PID: "pool~a", FactoryPID: "pool"}}, log.snapshot())
}

func TestWatcher_Start(t *testing.T) {
	dir := t.TempDir()
	admin := NewMemory(nil)
	w, err := NewWatcher(dir, admin, nil)
	require.NoError(t, err)
	w.debounce = 10 * time.Millisecond

	require.NoError(t, w.Start(context.Background()))
	defer w.Stop()

	writeFile(t, dir, "late.yaml", "x: 1\n")
	require.Eventually(t, func() bool {
		_, ok := admin.Get("late")
		return ok
	}, 5*time.Second, 10*time.Millisecond)
}

func TestNewWatcher_Validation(t *testing.T) {
	_, err := NewWatcher("", NewMemory(nil), nil)
	assert.Error(t, err)

	_, err = NewWatcher(t.TempDir(), nil, nil)
	assert.Error(t, err)

	w, err := NewWatcher(filepath.Join(t.TempDir(), "missing"), NewMemory(nil), nil)
	require.NoError(t, err)
	assert.Error(t, w.Sync())
}
