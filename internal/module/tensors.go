package module

import (
	"github.com/born-ml/dispatch/internal/tensor"
)

// NamedTensor pairs a tensor with its dotted path and ownership metadata.
type NamedTensor struct {
	Path       string
	Tensor     *tensor.RawTensor
	IsBuffer   bool
	Persistent bool
}

// TensorOptions controls NamedTensors traversal.
type TensorOptions struct {
	// Recurse includes descendants' tensors, not just this node's own.
	Recurse bool
	// IncludeBuffers includes buffer tensors alongside parameters.
	IncludeBuffers bool
	// DropNonPersistent excludes buffers marked non-persistent. Only
	// meaningful when IncludeBuffers is set.
	DropNonPersistent bool
}

// NamedTensors lists tensors in deterministic order: all parameters in
// pre-order declaration order, then all buffers likewise. This matches the
// ordering checkpoint state dicts are written in.
func (n *Node) NamedTensors(opts TensorOptions) []NamedTensor {
	var out []NamedTensor
	collect := func(buffersPass bool) {
		var visit func(path string, node *Node)
		visit = func(path string, node *Node) {
			owned := node.params
			if buffersPass {
				owned = node.buffers
			}
			for _, o := range owned {
				if buffersPass && opts.DropNonPersistent && !o.persistent {
					continue
				}
				out = append(out, NamedTensor{
					Path:       joinPath(path, o.name),
					Tensor:     o.t,
					IsBuffer:   buffersPass,
					Persistent: o.persistent,
				})
			}
			if opts.Recurse {
				for _, c := range node.children {
					visit(joinPath(path, c.name), c.node)
				}
			}
		}
		visit("", n)
	}
	collect(false)
	if opts.IncludeBuffers {
		collect(true)
	}
	return out
}

// StateDict returns every persistent tensor keyed by its dotted path.
// Offloaded tensors appear as-is; use checkpoint.OffloadedStateDict to
// stream their values back.
func (n *Node) StateDict() map[string]*tensor.RawTensor {
	out := make(map[string]*tensor.RawTensor)
	for _, nt := range n.NamedTensors(TensorOptions{Recurse: true, IncludeBuffers: true, DropNonPersistent: true}) {
		out[nt.Path] = nt.Tensor
	}
	return out
}
