package placement

import (
	"testing"

	"github.com/born-ml/dispatch/internal/module"
	"github.com/born-ml/dispatch/internal/tensor"
)

func mustRaw(t *testing.T, shape tensor.Shape, dtype tensor.DataType) *tensor.RawTensor {
	t.Helper()
	r, err := tensor.NewRaw(shape, dtype, tensor.CPU)
	if err != nil {
		t.Fatalf("NewRaw(%v, %v): %v", shape, dtype, err)
	}
	return r
}

// linear builds a node with a [out, in] weight and an [out] bias, both f32.
func linear(t *testing.T, in, out int) *module.Node {
	t.Helper()
	n := module.New("Linear")
	n.AddParameter("weight", mustRaw(t, tensor.Shape{out, in}, tensor.Float32))
	n.AddParameter("bias", mustRaw(t, tensor.Shape{out}, tensor.Float32))
	return n
}

// batchNorm builds a node with two f32 parameters, two f32 running-stat
// buffers, and an int64 step counter buffer.
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

// testModel is a 236-byte tree: linear1 (64), batchnorm (72), linear2 (100).
func testModel(t *testing.T) *module.Node {
	t.Helper()
	root := module.New("Sequential")
	root.AddChild("linear1", linear(t, 3, 4))
	root.AddChild("batchnorm", batchNorm(t, 4))
	root.AddChild("linear2", linear(t, 4, 5))
	return root
}

// tiedModel is testModel with equal-shaped linears whose weights alias one
// storage: linear1 (80), batchnorm (72), linear2 (80 with 64 shared).
func tiedModel(t *testing.T) *module.Node {
	t.Helper()
	root := module.New("Sequential")
	root.AddChild("linear1", linear(t, 4, 4))
	root.AddChild("batchnorm", batchNorm(t, 4))
	root.AddChild("linear2", linear(t, 4, 4))
	src, ok := root.TensorAt("linear1.weight")
	if !ok {
		t.Fatal("linear1.weight missing")
	}
	dst, ok := root.TensorAt("linear2.weight")
	if !ok {
		t.Fatal("linear2.weight missing")
	}
	dst.Alias(src)
	return root
}
