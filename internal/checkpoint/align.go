package checkpoint

import (
	"errors"
	"fmt"

	"github.com/born-ml/dispatch/internal/module"
	"github.com/born-ml/dispatch/internal/tensor"
)

// priorState remembers where one tensor rested before alignment.
type priorState struct {
	t      *tensor.RawTensor
	device tensor.Device
	entry  *tensor.OffloadEntry // non-nil if the tensor was offloaded
}

// AlignModuleDevice moves the node's own tensors (not its descendants') onto
// an execution device, streaming offloaded values back from disk, and
// returns a restore function that puts every tensor back where it was. The
// restore function must run on every exit path; prefer WithModuleAligned.
//
// When exec is empty the node's configured execution device is used. If
// neither is set, resident tensors stay put and offloaded tensors are
// restored to the host.
//
// The guard mutates shared tensor state and needs exclusive access to the
// node's tensors for its lifetime.
func AlignModuleDevice(node *module.Node, exec tensor.Device) (func() error, error) {
	if exec == "" {
		exec = node.ExecutionDevice()
	}

	var moved []priorState
	restore := func() error {
		var errs []error
		for _, prior := range moved {
			if prior.entry != nil {
				// The offload file is still on disk; dropping the
				// storage re-establishes the placeholder.
				prior.t.MarkOffloaded(prior.entry)
				continue
			}
			if err := prior.t.ToDevice(prior.device); err != nil {
				errs = append(errs, err)
			}
		}
		return errors.Join(errs...)
	}

	for _, nt := range node.NamedTensors(module.TensorOptions{IncludeBuffers: true}) {
		t := nt.Tensor
		if t.Offloaded() {
			target := exec
			if target == "" {
				target = tensor.CPU
			}
			entry := t.OffloadEntry()
			data, err := readEntryFile(entry)
			if err == nil {
				err = t.Restore(data, target)
			}
			if err != nil {
				_ = restore()
				return nil, fmt.Errorf("failed to page in %s: %w", nt.Path, err)
			}
			moved = append(moved, priorState{t: t, entry: entry})
			continue
		}
		if exec == "" || t.Device() == exec {
			continue
		}
		prior := t.Device()
		if err := t.ToDevice(exec); err != nil {
			_ = restore()
			return nil, fmt.Errorf("failed to move %s: %w", nt.Path, err)
		}
		moved = append(moved, priorState{t: t, device: prior})
	}
	return restore, nil
}

// WithModuleAligned aligns the node's tensors around fn and always restores
// them, including when fn fails.
func WithModuleAligned(node *module.Node, exec tensor.Device, fn func() error) error {
	restore, err := AlignModuleDevice(node, exec)
	if err != nil {
		return err
	}
	return errors.Join(fn(), restore())
}
