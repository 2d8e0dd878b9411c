package checkpoint

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/born-ml/dispatch/internal/module"
	"github.com/born-ml/dispatch/internal/tensor"
)

func mustRaw(t *testing.T, shape tensor.Shape, dtype tensor.DataType) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(shape, dtype, tensor.CPU)
	require.NoError(t, err)
	return r
}

// filledRaw builds a tensor whose bytes follow a per-tensor pattern so reads
// can be traced back to their source.
func filledRaw(t *testing.T, shape tensor.Shape, dtype tensor.DataType, seed byte) *tensor.RawTensor {
	t.Helper()
	data := make([]byte, shape.NumElements()*dtype.Size())
	for i := range data {
		data[i] = seed + byte(i)
	}
	r, err := tensor.FromBytes(data, shape, dtype, tensor.CPU)
	require.NoError(t, err)
	return r
}

func linear(t *testing.T, in, out int) *module.Node {
	t.Helper()
	n := module.New("Linear")
	n.AddParameter("weight", mustRaw(t, tensor.Shape{out, in}, tensor.Float32))
	n.AddParameter("bias", mustRaw(t, tensor.Shape{out}, tensor.Float32))
	return n
}

func batchNorm(t *testing.T, features int) *module.Node {
	t.Helper()
	n := module.New("BatchNorm1d")
	n.AddParameter("weight", mustRaw(t, tensor.Shape{features}, tensor.Float32))
	n.AddParameter("bias", mustRaw(t, tensor.Shape{features}, tensor.Float32))
	n.RegisterBuffer("running_mean", mustRaw(t, tensor.Shape{features}, tensor.Float32), true)
	n.RegisterBuffer("running_var", mustRaw(t, tensor.Shape{features}, tensor.Float32), true)
	n.RegisterBuffer("num_batches_tracked", mustRaw(t, tensor.Shape{}, tensor.Int64), true)
	return n
}

func testModel(t *testing.T) *module.Node {
	t.Helper()
	root := module.New("Sequential")
	root.AddChild("linear1", linear(t, 3, 4))
	root.AddChild("batchnorm", batchNorm(t, 4))
	root.AddChild("linear2", linear(t, 4, 5))
	return root
}

// checkpointFor builds an in-memory checkpoint matching the tree's shapes,
// each tensor filled with a distinct pattern.
func checkpointFor(t *testing.T, tree *module.Node) StateDictSource {
	t.Helper()
	src := make(StateDictSource)
	seed := byte(1)
	for _, nt := range tree.NamedTensors(module.TensorOptions{
		Recurse:           true,
		IncludeBuffers:    true,
		DropNonPersistent: true,
	}) {
		src[nt.Path] = filledRaw(t, nt.Tensor.Shape(), nt.Tensor.DType(), seed)
		seed += 17
	}
	return src
}
