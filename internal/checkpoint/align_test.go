package checkpoint

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/born-ml/dispatch/internal/tensor"
)

func TestAlignModuleDeviceMovesAndRestores(t *testing.T) {
	node := linear(t, 3, 4)
	w, _ := node.TensorAt("weight")
	require.Equal(t, tensor.CPU, w.Device())

	restore, err := AlignModuleDevice(node, tensor.Accelerator(0))
	require.NoError(t, err)
	assert.Equal(t, tensor.Accelerator(0), w.Device())

	require.NoError(t, restore())
	assert.Equal(t, tensor.CPU, w.Device())
}

func TestAlignModuleDeviceStreamsOffloadedBack(t *testing.T) {
	node := linear(t, 3, 4)
	w, _ := node.TensorAt("weight")
	want := append([]byte(nil), filledRaw(t, w.Shape(), w.DType(), 7).Data()...)
	require.NoError(t, w.SetData(want, w.DType()))

	folder, err := NewOffloadFolder(t.TempDir())
	require.NoError(t, err)
	entry, err := folder.WriteEntry("weight", w.Data(), w.DType(), w.Shape())
	require.NoError(t, err)
	w.MarkOffloaded(entry)

	restore, err := AlignModuleDevice(node, tensor.Accelerator(0))
	require.NoError(t, err)
	assert.False(t, w.Offloaded())
	assert.Equal(t, tensor.Accelerator(0), w.Device())
	assert.Equal(t, want, w.Data())

	require.NoError(t, restore())
	assert.True(t, w.Offloaded())
	assert.Nil(t, w.Data())

	// The offload file survives restore, so the guard can run again.
	restore, err = AlignModuleDevice(node, tensor.Accelerator(0))
	require.NoError(t, err)
	assert.Equal(t, want, w.Data())
	require.NoError(t, restore())
}

func TestAlignModuleDeviceUsesExecutionDevice(t *testing.T) {
	node := linear(t, 3, 4)
	node.SetExecutionDevice(tensor.Accelerator(1))
	w, _ := node.TensorAt("weight")

	restore, err := AlignModuleDevice(node, "")
	require.NoError(t, err)
	assert.Equal(t, tensor.Accelerator(1), w.Device())
	require.NoError(t, restore())
	assert.Equal(t, tensor.CPU, w.Device())
}

func TestAlignModuleDeviceNoDeviceIsNoOp(t *testing.T) {
	node := linear(t, 3, 4)
	w, _ := node.TensorAt("weight")

	restore, err := AlignModuleDevice(node, "")
	require.NoError(t, err)
	assert.Equal(t, tensor.CPU, w.Device())
	require.NoError(t, restore())
}

func TestAlignModuleDeviceIsNotRecursive(t *testing.T) {
	root := testModel(t)
	child, _ := root.TensorAt("linear1.weight")

	restore, err := AlignModuleDevice(root, tensor.Accelerator(0))
	require.NoError(t, err)
	// The root owns no tensors of its own; descendants stay put.
	assert.Equal(t, tensor.CPU, child.Device())
	require.NoError(t, restore())
}

func TestWithModuleAlignedRestoresOnError(t *testing.T) {
	node := linear(t, 3, 4)
	w, _ := node.TensorAt("weight")
	boom := errors.New("boom")

	err := WithModuleAligned(node, tensor.Accelerator(0), func() error {
		assert.Equal(t, tensor.Accelerator(0), w.Device())
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, tensor.CPU, w.Device())
}
