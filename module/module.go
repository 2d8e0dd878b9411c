// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package module provides the public parameter-tree data model. A tree is
// built by the host runtime from named nodes owning parameter and buffer
// tensors; the planner and loader only traverse and retarget it.
//
// Example:
//
//	root := module.New("Sequential")
//	layer := module.New("Linear")
//	layer.AddParameter("weight", w)
//	root.AddChild("linear1", layer)
//	sizes := placement.ComputeSizes(root, placement.SizeOptions{})
package module

import (
	"github.com/born-ml/dispatch/internal/module"
)

// Node is a named point in a parameter tree.
type Node = module.Node

// NamedChild is a (name, node) pair in declaration order.
type NamedChild = module.NamedChild

// NamedTensor is a tensor with its dotted path and buffer flags.
type NamedTensor = module.NamedTensor

// TensorOptions controls tensor enumeration.
type TensorOptions = module.TensorOptions

// New creates an empty node with the given class tag.
func New(class string) *Node { return module.New(class) }
