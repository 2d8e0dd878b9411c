package checkpoint

import (
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/born-ml/dispatch/internal/module"
	"github.com/born-ml/dispatch/internal/placement"
	"github.com/born-ml/dispatch/internal/tensor"
)

// LoadOptions configures LoadInTree.
type LoadOptions struct {
	// DeviceMap routes each tensor path to its device via longest-prefix
	// match. Unrouted tensors stay on the host.
	DeviceMap placement.DeviceMap

	// DType casts floating checkpoint tensors on load. Integer and bool
	// tensors keep their checkpoint dtype.
	DType *tensor.DataType

	// OffloadFolder receives the bytes of disk-mapped tensors. Required
	// when the device map contains disk.
	OffloadFolder *OffloadFolder

	// OffloadBuffers lets buffers follow the device map. When false every
	// buffer is loaded to the host regardless of the map.
	OffloadBuffers bool

	// Strict fails the load when the checkpoint and the tree do not cover
	// exactly the same paths. Nothing is written to the tree on failure.
	Strict bool

	// Logger receives non-strict missing/unexpected reports. Defaults to
	// slog.Default().
	Logger *slog.Logger
}

// LoadReport lists checkpoint/tree coverage gaps from a non-strict load.
type LoadReport struct {
	// Missing are tree paths the checkpoint did not provide.
	Missing []string
	// Unexpected are checkpoint paths the tree has no tensor for.
	Unexpected []string
}

// treeTarget is one tensor slot in the tree awaiting checkpoint bytes.
type treeTarget struct {
	t        *tensor.RawTensor
	isBuffer bool
}

// LoadInTree loads a checkpoint into the tree's existing tensors. For every
// path present in both, the bytes are cast, shape-checked, and moved to the
// device the map routes them to; disk-routed tensors are spilled to the
// offload folder and replaced with placeholders. Sharded sources load shard
// by shard in parallel; writes into one tied-storage group are serialized.
//
// Partial failure is not rolled back: tensors written before an error keep
// their new values.
func LoadInTree(tree *module.Node, src Source, opts LoadOptions) (*LoadReport, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	targets := make(map[string]treeTarget)
	for _, nt := range tree.NamedTensors(module.TensorOptions{
		Recurse:           true,
		IncludeBuffers:    true,
		DropNonPersistent: true,
	}) {
		targets[nt.Path] = treeTarget{t: nt.Tensor, isBuffer: nt.IsBuffer}
	}

	srcKeys := src.Keys()
	inSource := make(map[string]struct{}, len(srcKeys))
	for _, k := range srcKeys {
		inSource[k] = struct{}{}
	}

	report := &LoadReport{}
	for path := range targets {
		if _, ok := inSource[path]; !ok {
			report.Missing = append(report.Missing, path)
		}
	}
	var matched []string
	for _, k := range srcKeys {
		if _, ok := targets[k]; ok {
			matched = append(matched, k)
		} else {
			report.Unexpected = append(report.Unexpected, k)
		}
	}
	sort.Strings(report.Missing)
	sort.Strings(report.Unexpected)

	if opts.Strict && (len(report.Missing) > 0 || len(report.Unexpected) > 0) {
		return nil, &LoadStrictError{Missing: report.Missing, Unexpected: report.Unexpected}
	}

	if opts.DeviceMap != nil && opts.OffloadFolder == nil {
		for _, d := range opts.DeviceMap {
			if d.IsDisk() {
				return nil, ErrOffloadFolderRequired
			}
		}
	}

	// One lock per tied-storage group: tied members alias one storage
	// block, so concurrent shard writes into a group would race.
	tieLocks := make(map[string]*sync.Mutex)
	tieGroups := make(map[string]placement.TieGroup)
	for _, group := range placement.FindTied(tree) {
		mu := &sync.Mutex{}
		for _, member := range group {
			tieLocks[member] = mu
			tieGroups[member] = group
		}
	}

	// realias rebinds the other members of path's tie group to the tensor
	// just written. A checkpoint may name only one member; without this the
	// partners keep a stale dtype after a cast, and a disk spill would sever
	// the group. Callers hold the group's tie lock.
	realias := func(path string, written *tensor.RawTensor) {
		for _, member := range tieGroups[path] {
			if member == path {
				continue
			}
			if partner, ok := tree.TensorAt(member); ok && partner != written {
				partner.Alias(written)
			}
		}
	}

	loadOne := func(path string) error {
		target := targets[path]
		st, err := src.Read(path)
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", path, err)
		}

		data, dtype := st.Data(), st.DType()
		if opts.DType != nil && dtype.IsFloat() && dtype != *opts.DType {
			cast, err := tensor.Cast(st, *opts.DType)
			if err != nil {
				return fmt.Errorf("failed to cast %s: %w", path, err)
			}
			data, dtype = cast.Data(), cast.DType()
		}

		if !target.t.Shape().Equal(st.Shape()) {
			return &ShapeMismatchError{
				Path:     path,
				Expected: target.t.Shape(),
				Given:    st.Shape(),
			}
		}

		dev := tensor.CPU
		if opts.DeviceMap != nil {
			if d, ok := opts.DeviceMap.DeviceFor(path); ok {
				dev = d
			}
		}
		if target.isBuffer && !opts.OffloadBuffers {
			dev = tensor.CPU
		}

		if mu := tieLocks[path]; mu != nil {
			mu.Lock()
			defer mu.Unlock()
		}
		if dev.IsDisk() {
			if opts.OffloadFolder == nil {
				return ErrOffloadFolderRequired
			}
			entry, err := opts.OffloadFolder.WriteEntry(path, data, dtype, st.Shape())
			if err != nil {
				return err
			}
			target.t.MarkOffloaded(entry)
			realias(path, target.t)
			return nil
		}
		if err := target.t.SetData(data, dtype); err != nil {
			return fmt.Errorf("failed to install %s: %w", path, err)
		}
		if err := target.t.ToDevice(dev); err != nil {
			return err
		}
		realias(path, target.t)
		return nil
	}

	if ss, ok := src.(*ShardedSource); ok {
		var g errgroup.Group
		for _, paths := range ss.Index().Shards() {
			shardPaths := paths
			g.Go(func() error {
				for _, path := range shardPaths {
					if _, ok := targets[path]; !ok {
						continue
					}
					if err := loadOne(path); err != nil {
						return err
					}
				}
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
	} else {
		for _, path := range matched {
			if err := loadOne(path); err != nil {
				return nil, err
			}
		}
	}

	if len(report.Missing) > 0 {
		logger.Warn("checkpoint is missing tree paths", "count", len(report.Missing), "paths", report.Missing)
	}
	if len(report.Unexpected) > 0 {
		logger.Warn("checkpoint has paths the tree does not", "count", len(report.Unexpected), "paths", report.Unexpected)
	}
	return report, nil
}

// LoadStateDict reads every tensor the source provides onto the device the
// map routes it to, with disk mapped to the host. This is the flat primitive
// under LoadInTree; disk residency is realized only by the tree loader,
// which owns an offload folder.
func LoadStateDict(src Source, dm placement.DeviceMap) (map[string]*tensor.RawTensor, error) {
	out := make(map[string]*tensor.RawTensor)
	for _, key := range src.Keys() {
		t, err := src.Read(key)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", key, err)
		}
		dev := tensor.CPU
		if dm != nil {
			if d, ok := dm.DeviceFor(key); ok && !d.IsDisk() {
				dev = d
			}
		}
		if err := t.ToDevice(dev); err != nil {
			return nil, err
		}
		out[key] = t
	}
	return out, nil
}
