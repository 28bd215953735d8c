package inference

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadLabels(t *testing.T) {
	coco, err := LoadLabels("COCO")
	require.NoError(t, err)
	assert.Len(t, coco, 80)
	assert.Equal(t, "person", coco[0])

	background, err := LoadLabels(string(ClassSetCOCOBackground))
	require.NoError(t, err)
	assert.Len(t, background, 81)
	assert.Equal(t, "person", background[1])

	path := filepath.Join(t.TempDir(), "labels.txt")
	require.NoError(t, os.WriteFile(path, []byte("red\n\n blue \ngreen\n"), 0o600))
	labels, err := LoadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, []string{"red", "blue", "green"}, labels)

	empty := filepath.Join(t.TempDir(), "empty.txt")
	require.NoError(t, os.WriteFile(empty, []byte("\n"), 0o600))
	_, err = LoadLabels(empty)
	assert.Error(t, err)

	_, err = LoadLabels(filepath.Join(t.TempDir(), "missing.txt"))
	assert.Error(t, err)
}

func TestOutputTopK(t *testing.T) {
	out := Output{Name: "output0", Shape: []int64{1, 5}, Data: []float32{0.1, 0.7, 0.05, 0.7, 0.9}}

	top := out.TopK(3, []string{"a", "b", "c"})
	require.Len(t, top, 3)
	assert.Equal(t, ClassScore{Index: 4, Score: 0.9}, top[0])
	assert.Equal(t, ClassScore{Index: 1, Label: "b", Score: 0.7}, top[1])
	assert.Equal(t, 3, top[2].Index)

	assert.Len(t, out.TopK(10, nil), 5)
	assert.Nil(t, out.TopK(0, nil))
}
