package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)

// createTestStore creates a new store in a temporary directory.
func createTestStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	clock := quartz.NewMock(t)
	clock.Set(now)
	s, err := Open(path, append([]Option{WithClock(clock)}, opts...)...)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}
