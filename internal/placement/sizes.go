package placement

import (
	"github.com/born-ml/dispatch/internal/module"
	"github.com/born-ml/dispatch/internal/tensor"
)

// SizeOptions controls how tensor byte widths are computed.
//
// DTypeOverride replaces the native dtype of every floating tensor; integer
// and bool tensors keep their native width. PerPathDTypes overrides the
// width for specific tensor paths and wins over DTypeOverride, including
// for integer tensors.
type SizeOptions struct {
	DTypeOverride *tensor.DataType
	PerPathDTypes map[string]tensor.DataType
}

func (o SizeOptions) widthFor(path string, dt tensor.DataType) int {
	if special, ok := o.PerPathDTypes[path]; ok {
		return special.Size()
	}
	if o.DTypeOverride != nil && dt.IsFloat() {
		return o.DTypeOverride.Size()
	}
	return dt.Size()
}

// TensorBytes returns the effective byte size of one tensor under opts.
func TensorBytes(path string, t *tensor.RawTensor, opts SizeOptions) int64 {
	return int64(t.NumElements()) * int64(opts.widthFor(path, t.DType()))
}

// ComputeSizes returns the byte footprint of every node and tensor in the
// tree, keyed by path. The root is keyed by "". A node's entry is the sum
// of its own tensors and all descendants; tied tensors count once per path
// they appear under, mirroring how each alias occupies its owner's slice of
// the map.
func ComputeSizes(tree *module.Node, opts SizeOptions) map[string]int64 {
	sizes := make(map[string]int64)
	sizes[""] = 0
	for _, nt := range tree.NamedTensors(module.TensorOptions{Recurse: true, IncludeBuffers: true}) {
		b := TensorBytes(nt.Path, nt.Tensor, opts)
		sizes[nt.Path] += b
		for _, anc := range ancestors(nt.Path) {
			sizes[anc] += b
		}
	}
	// Nodes with no tensors anywhere below them still get an entry.
	tree.Walk(func(path string, _ *module.Node) bool {
		if _, ok := sizes[path]; !ok {
			sizes[path] = 0
		}
		return true
	})
	return sizes
}

// TotalBufferBytes sums the effective sizes of every buffer in the tree,
// persistent or not.
func TotalBufferBytes(tree *module.Node, opts SizeOptions) int64 {
	var total int64
	for _, nt := range tree.NamedTensors(module.TensorOptions{Recurse: true, IncludeBuffers: true}) {
		if nt.IsBuffer {
			total += TensorBytes(nt.Path, nt.Tensor, opts)
		}
	}
	return total
}

// ancestors lists every proper prefix of a dotted path, from the root ""
// down to the immediate parent.
func ancestors(path string) []string {
	out := []string{""}
	for i, c := range path {
		if c == '.' {
			out = append(out, path[:i])
		}
	}
	return out
}
