//go:build profile

package prof

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSession(t *testing.T) {
	dir := t.TempDir()
	opts := Options{
		CPU:   filepath.Join(dir, "cpu.prof"),
		Mutex: filepath.Join(dir, "mutex.prof"),
		Block: filepath.Join(dir, "block.prof"),
		Heap:  filepath.Join(dir, "heap.prof"),
	}
	s, err := Start(opts)
	require.NoError(t, err)

	_, err = Start(opts)
	assert.ErrorIs(t, err, ErrActive)

	var (
		mu sync.Mutex
		n  int
		wg sync.WaitGroup
	)
	for range 4 {
		wg.Go(func() {
			for range 1000 {
				mu.Lock()
				n++
				mu.Unlock()
			}
		})
	}
	wg.Wait()
	assert.Equal(t, 4000, n)

	require.NoError(t, s.Stop())
	assert.NoError(t, s.Stop())
	for _, p := range []string{opts.CPU, opts.Mutex, opts.Block, opts.Heap} {
		st, err := os.Stat(p)
		require.NoError(t, err, p)
		assert.Positive(t, st.Size(), p)
	}

	// The slot is free again.
	s, err = Start(Options{})
	require.NoError(t, err)
	assert.NoError(t, s.Stop())
}

func TestStart_BadPath(t *testing.T) {
	_, err := Start(Options{CPU: filepath.Join(t.TempDir(), "missing", "cpu.prof")})
	assert.Error(t, err)

	s, err := Start(Options{})
	require.NoError(t, err)
	assert.NoError(t, s.Stop())
}

func TestOptions_Any(t *testing.T) {
	assert.False(t, Options{}.Any())
	assert.True(t, Options{Heap: "heap.prof"}.Any())
}
