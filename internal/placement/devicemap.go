package placement

import (
	"sort"
	"strings"

	"github.com/born-ml/dispatch/internal/module"
	"github.com/born-ml/dispatch/internal/tensor"
)

// DeviceMap assigns subtrees and tensors to devices by dotted path. An entry
// covers its own path and every descendant path; the most specific entry
// wins. A "" entry covers the whole tree.
type DeviceMap map[string]tensor.Device

// DeviceFor resolves the device covering a path via longest-prefix match.
func (dm DeviceMap) DeviceFor(path string) (tensor.Device, bool) {
	for {
		if d, ok := dm[path]; ok {
			return d, true
		}
		if path == "" {
			return "", false
		}
		if i := strings.LastIndex(path, "."); i >= 0 {
			path = path[:i]
		} else {
			path = ""
		}
	}
}

// Clone returns a copy of the map.
func (dm DeviceMap) Clone() DeviceMap {
	out := make(DeviceMap, len(dm))
	for k, v := range dm {
		out[k] = v
	}
	return out
}

// Clean coalesces sibling entries that share a device into their common
// parent, recursively, so {"a.x": gpu, "a.y": gpu} becomes {"a": gpu} and a
// map that is uniform everywhere becomes {"": device}.
func Clean(dm DeviceMap) DeviceMap {
	out := dm.Clone()
	cleanPrefix(out, "")
	return out
}

func cleanPrefix(dm DeviceMap, name string) {
	prefix := ""
	if name != "" {
		prefix = name + "."
	}
	var covered []string
	for k := range dm {
		if k == name || strings.HasPrefix(k, prefix) {
			covered = append(covered, k)
		}
	}
	if len(covered) > 1 {
		first := dm[covered[0]]
		uniform := true
		for _, k := range covered[1:] {
			if dm[k] != first {
				uniform = false
				break
			}
		}
		if uniform {
			for _, k := range covered {
				delete(dm, k)
			}
			dm[name] = first
			return
		}
	}

	depth := 1
	if name != "" {
		depth = strings.Count(name, ".") + 2
	}
	childSet := make(map[string]struct{})
	for k := range dm {
		if strings.HasPrefix(k, prefix) && len(k) > len(prefix) {
			parts := strings.SplitN(k, ".", depth+1)
			if len(parts) > depth {
				parts = parts[:depth]
			}
			childSet[strings.Join(parts, ".")] = struct{}{}
		}
	}
	children := make([]string, 0, len(childSet))
	for c := range childSet {
		children = append(children, c)
	}
	sort.Strings(children)
	for _, c := range children {
		cleanPrefix(dm, c)
	}
}

// Check validates a device map against a tree. Every key must name an
// existing node or tensor (or be ""), and every tensor in the tree must be
// covered by some entry.
func Check(tree *module.Node, dm DeviceMap) error {
	keys := make([]string, 0, len(dm))
	for k := range dm {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if k == "" {
			continue
		}
		if _, ok := tree.NodeAt(k); ok {
			continue
		}
		if _, ok := tree.TensorAt(k); ok {
			continue
		}
		return &ValidationError{Path: k, Details: "device map key does not match any node or tensor"}
	}
	for _, nt := range tree.NamedTensors(module.TensorOptions{Recurse: true, IncludeBuffers: true}) {
		if _, ok := dm.DeviceFor(nt.Path); !ok {
			return &ValidationError{Path: nt.Path, Details: "tensor not covered by device map"}
		}
	}
	return nil
}
