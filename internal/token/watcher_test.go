package token

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWatcher_FiresOnRewrite(t *testing.T) {
	store := newTestStore(t)

	var calls int32
	w := NewWatcher(WatcherConfig{
		Path:     store.Path(),
		Debounce: 200 * time.Millisecond,
		OnChange: func() { atomic.AddInt32(&calls, 1) },
	})
	require.NoError(t, w.Start())
	defer w.Stop()

	// Several rapid writes collapse into one callback.
	for i := 0; i < 3; i++ {
		require.NoError(t, store.Save(context.Background(), Record{AccessToken: "A", RefreshToken: "R", ExpiresAt: int64(i)}))
	}

	assert.Eventually(t, func() bool { return atomic.LoadInt32(&calls) >= 1 }, 3*time.Second, 20*time.Millisecond)
	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestWatcher_IgnoresOtherFiles(t *testing.T) {
	store := newTestStore(t)

	var calls int32
	w := NewWatcher(WatcherConfig{
		Path:     store.Path(),
		Debounce: 20 * time.Millisecond,
		OnChange: func() { atomic.AddInt32(&calls, 1) },
	})
	require.NoError(t, w.Start())
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(filepath.Dir(store.Path()), "other.json"), []byte("{}"), 0o600))

	time.Sleep(200 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&calls))
}

func TestWatcher_StartStopIdempotent(t *testing.T) {
	store := newTestStore(t)
	w := NewWatcher(WatcherConfig{Path: store.Path()})

	require.NoError(t, w.Start())
	require.NoError(t, w.Start())
	w.Stop()
	w.Stop()
}

func TestWatcher_MissingDirectory(t *testing.T) {
	w := NewWatcher(WatcherConfig{Path: filepath.Join(t.TempDir(), "missing", "tokens.json")})
	assert.Error(t, w.Start())
}
