package checkpoint

import (
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/dispatch/internal/tensor"
)

func TestOffloadFolderRoundTrip(t *testing.T) {
	folder, err := NewOffloadFolder(t.TempDir())
	require.NoError(t, err)

	data := []byte{1, 2, 3, 4, 5, 6, 7, 8}
	entry, err := folder.WriteEntry("linear.weight", data, tensor.Float32, tensor.Shape{2, 1})
	require.NoError(t, err)

	got, err := folder.ReadEntry(entry)
	require.NoError(t, err)
	assert.Equal(t, data, got)

	stored, ok := folder.Entry("linear.weight")
	require.True(t, ok)
	assert.Equal(t, entry.File, stored.File)
}

func TestOffloadFolderIndexSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	folder, err := NewOffloadFolder(dir)
	require.NoError(t, err)
	_, err = folder.WriteEntry("a", []byte{0, 0, 0, 0}, tensor.Float32, tensor.Shape{1})
	require.NoError(t, err)

	reopened, err := NewOffloadFolder(dir)
	require.NoError(t, err)
	entry, ok := reopened.Entry("a")
	require.True(t, ok)

	got, err := reopened.ReadEntry(entry)
	require.NoError(t, err)
	assert.Len(t, got, 4)
	assert.Equal(t, []string{"a"}, reopened.Paths())
}

func TestOffloadFolderRejectsTruncatedFile(t *testing.T) {
	folder, err := NewOffloadFolder(t.TempDir())
	require.NoError(t, err)
	entry, err := folder.WriteEntry("a", []byte{0, 0, 0, 0}, tensor.Float32, tensor.Shape{1})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(entry.File, []byte{0}, 0o644))

	_, err = folder.ReadEntry(entry)
	assert.Error(t, err)
}

func TestScratchFolder(t *testing.T) {
	folder, err := ScratchFolder()
	require.NoError(t, err)
	defer func() {
		require.NoError(t, folder.Remove())
	}()

	assert.True(t, strings.Contains(folder.Dir(), "dispatch-offload-"))
	info, err := os.Stat(folder.Dir())
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}
