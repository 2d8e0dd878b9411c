// Package module defines the parameter-tree data model consumed by the
// placement planner and checkpoint loader. Trees are built and owned by the
// host runtime; this package only models structure, naming, and traversal.
package module

import (
	"strings"

	"github.com/born-ml/dispatch/internal/tensor"
)

// Node is a named point in a parameter tree. It owns zero or more parameter
// tensors, zero or more buffer tensors, and an ordered set of named children.
// A node's identity is its dotted path from the root ("" is the root); paths
// are unique within a tree.
type Node struct {
	class           string
	executionDevice tensor.Device
	params          []ownedTensor
	buffers         []ownedTensor
	children        []childEntry
}

type ownedTensor struct {
	name       string
	t          *tensor.RawTensor
	persistent bool
}

type childEntry struct {
	name string
	node *Node
}

// New creates an empty node with the given class tag. The class is an opaque
// type tag; the planner only tests membership against no-split class sets.
func New(class string) *Node {
	return &Node{class: class}
}

// Class returns the node's type tag.
func (n *Node) Class() string { return n.class }

// ExecutionDevice returns the device configured for executing this node's
// compute, or "" if none is configured.
func (n *Node) ExecutionDevice() tensor.Device { return n.executionDevice }

// SetExecutionDevice configures the device this node's compute runs on. It
// is consulted by the alignment guard when no explicit device is given.
func (n *Node) SetExecutionDevice(d tensor.Device) { n.executionDevice = d }

// AddParameter registers a named parameter tensor on this node.
func (n *Node) AddParameter(name string, t *tensor.RawTensor) {
	n.params = append(n.params, ownedTensor{name: name, t: t, persistent: true})
}

// RegisterBuffer registers a named buffer tensor on this node. Non-persistent
// buffers are excluded from checkpoint round-trips.
func (n *Node) RegisterBuffer(name string, t *tensor.RawTensor, persistent bool) {
	n.buffers = append(n.buffers, ownedTensor{name: name, t: t, persistent: persistent})
}

// AddChild attaches a named child node. Declaration order is significant: it
// defines planner traversal order.
func (n *Node) AddChild(name string, child *Node) {
	n.children = append(n.children, childEntry{name: name, node: child})
}

// NamedChild is a (name, node) pair in declaration order.
type NamedChild struct {
	Name string
	Node *Node
}

// Children returns the node's direct children in declaration order.
func (n *Node) Children() []NamedChild {
	out := make([]NamedChild, len(n.children))
	for i, c := range n.children {
		out[i] = NamedChild{Name: c.name, Node: c.node}
	}
	return out
}

// Child returns the direct child with the given name.
func (n *Node) Child(name string) (*Node, bool) {
	for _, c := range n.children {
		if c.name == name {
			return c.node, true
		}
	}
	return nil, false
}

// NodeAt resolves a dotted path to a descendant node. The empty path
// resolves to the node itself.
func (n *Node) NodeAt(path string) (*Node, bool) {
	if path == "" {
		return n, true
	}
	cur := n
	for _, part := range strings.Split(path, ".") {
		next, ok := cur.Child(part)
		if !ok {
			return nil, false
		}
		cur = next
	}
	return cur, true
}

// TensorAt resolves a dotted path to a parameter or buffer tensor. The final
// path segment names the tensor on its owning node.
func (n *Node) TensorAt(path string) (*tensor.RawTensor, bool) {
	owner, name := n, path
	if i := strings.LastIndex(path, "."); i >= 0 {
		var ok bool
		owner, ok = n.NodeAt(path[:i])
		if !ok {
			return nil, false
		}
		name = path[i+1:]
	}
	for _, p := range owner.params {
		if p.name == name {
			return p.t, true
		}
	}
	for _, b := range owner.buffers {
		if b.name == name {
			return b.t, true
		}
	}
	return nil, false
}

// Walk visits the node and every descendant in pre-order, passing each
// node's dotted path. Returning false from fn stops the walk.
func (n *Node) Walk(fn func(path string, node *Node) bool) {
	n.walk("", fn)
}

func (n *Node) walk(path string, fn func(string, *Node) bool) bool {
	if !fn(path, n) {
		return false
	}
	for _, c := range n.children {
		if !c.node.walk(joinPath(path, c.name), fn) {
			return false
		}
	}
	return true
}

func joinPath(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
