package checkpoint

import (
	"fmt"

	"github.com/born-ml/dispatch/internal/module"
	"github.com/born-ml/dispatch/internal/tensor"
)

// OffloadedStateDict assembles the tree's full state dictionary, streaming
// offloaded tensors back from disk into fresh host tensors without touching
// the tree's placeholders. Resident tensors are returned as-is.
func OffloadedStateDict(tree *module.Node) (map[string]*tensor.RawTensor, error) {
	out := make(map[string]*tensor.RawTensor)
	for _, nt := range tree.NamedTensors(module.TensorOptions{
		Recurse:           true,
		IncludeBuffers:    true,
		DropNonPersistent: true,
	}) {
		if !nt.Tensor.Offloaded() {
			out[nt.Path] = nt.Tensor
			continue
		}
		entry := nt.Tensor.OffloadEntry()
		data, err := readEntryFile(entry)
		if err != nil {
			return nil, fmt.Errorf("failed to stream back %s: %w", nt.Path, err)
		}
		t, err := tensor.FromBytes(data, entry.Shape, entry.DType, tensor.CPU)
		if err != nil {
			return nil, fmt.Errorf("failed to rebuild %s: %w", nt.Path, err)
		}
		out[nt.Path] = t
	}
	return out, nil
}
