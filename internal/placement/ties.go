package placement

import (
	"sort"

	"github.com/born-ml/dispatch/internal/module"
	"github.com/born-ml/dispatch/internal/tensor"
)

// TieGroup is a set of tensor paths that alias one storage. Members are
// sorted; the first member is the canonical representative.
type TieGroup []string

// FindTied groups the tree's tensor paths by storage identity and returns
// every group with two or more members. Members within a group and groups
// among themselves are sorted lexicographically so the output is stable.
// Offloaded tensors carry no storage and are never reported as tied.
func FindTied(tree *module.Node) []TieGroup {
	byStorage := make(map[*tensor.Storage][]string)
	for _, nt := range tree.NamedTensors(module.TensorOptions{Recurse: true, IncludeBuffers: true}) {
		s := nt.Tensor.Storage()
		if s == nil {
			continue
		}
		byStorage[s] = append(byStorage[s], nt.Path)
	}
	var groups []TieGroup
	for _, paths := range byStorage {
		if len(paths) < 2 {
			continue
		}
		sort.Strings(paths)
		groups = append(groups, TieGroup(paths))
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i][0] < groups[j][0] })
	return groups
}

// Retie re-establishes storage sharing after tensors have been rebuilt, for
// example on checkpoint load. For each group the tensor at the first member
// path becomes the source and every other member is re-aliased onto its
// storage. A group member that does not resolve to a tensor is an error and
// leaves already-processed groups applied.
func Retie(tree *module.Node, groups []TieGroup) error {
	for _, g := range groups {
		if len(g) < 2 {
			continue
		}
		src, ok := tree.TensorAt(g[0])
		if !ok {
			return &ValidationError{Path: g[0], Details: "tied group member not found in tree"}
		}
		for _, path := range g[1:] {
			t, ok := tree.TensorAt(path)
			if !ok {
				return &ValidationError{Path: path, Details: "tied group member not found in tree"}
			}
			t.Alias(src)
		}
	}
	return nil
}
