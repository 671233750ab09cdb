package screenshot

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestStore_PutGetDelete(t *testing.T) {
	s, err := New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	key := CurrentKey(7, []byte("png"))
	require.NoError(t, s.Put(key, []byte("png")))

	got, err := s.Get(key)
	require.NoError(t, err)
	assert.Equal(t, []byte("png"), got)

	require.NoError(t, s.Delete(key))
	_, err = s.Get(key)
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, s.Delete(key), "deleting twice is fine")
	require.NoError(t, s.Delete(""))
}

func TestStore_PutLeavesNoTempFiles(t *testing.T) {
	root := t.TempDir()
	s, err := New(root, zap.NewNop())
	require.NoError(t, err)

	require.NoError(t, s.Put("targets/1/a.png", []byte("one")))
	require.NoError(t, s.Put("targets/1/a.png", []byte("two")))

	entries, err := os.ReadDir(filepath.Join(root, "targets", "1"))
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "a.png", entries[0].Name())

	got, err := s.Get("targets/1/a.png")
	require.NoError(t, err)
	assert.Equal(t, "two", string(got))
}

func TestStore_RejectsEscapingKeys(t *testing.T) {
	s, err := New(t.TempDir(), zap.NewNop())
	require.NoError(t, err)

	for _, k := range []string{"../x.png", "/etc/passwd", "a/../../x", ".."} {
		assert.Error(t, s.Put(k, []byte("x")), k)
	}
}

func TestKeys(t *testing.T) {
	a := CurrentKey(3, []byte("a"))
	b := CurrentKey(3, []byte("b"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, CurrentKey(3, []byte("a")))
	assert.Regexp(t, `^targets/3/current-[0-9a-f]{16}\.png$`, a)

	at := time.Date(2025, 3, 1, 10, 4, 5, 0, time.UTC)
	assert.Equal(t, "history/3/20250301T100405.000-diff.png", HistoryKey(3, at, "diff"))
}
