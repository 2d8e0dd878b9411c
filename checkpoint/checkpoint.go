// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package checkpoint provides the public checkpoint loading API: sources
// over safetensors files and shard indexes, device-mapped loading with disk
// offload, and the scoped execution alignment guard.
//
// Example:
//
//	src, err := checkpoint.ResolveSource("model.safetensors.index.json")
//	if err != nil {
//		return err
//	}
//	defer src.Close()
//	report, err := checkpoint.LoadInTree(tree, src, checkpoint.LoadOptions{
//		DeviceMap:     dm,
//		OffloadFolder: folder,
//	})
package checkpoint

import (
	"github.com/born-ml/dispatch/internal/checkpoint"
	"github.com/born-ml/dispatch/internal/module"
	"github.com/born-ml/dispatch/internal/tensor"
)

// Source supplies checkpoint tensors by path.
type Source = checkpoint.Source

// StateDictSource serves tensors from an in-memory map.
type StateDictSource = checkpoint.StateDictSource

// FileSource serves tensors from one memory-mapped safetensors file.
type FileSource = checkpoint.FileSource

// ShardedSource serves tensors from a sharded checkpoint via its index.
type ShardedSource = checkpoint.ShardedSource

// ResolveSource opens a checkpoint file, shard index, or directory.
func ResolveSource(path string) (Source, error) { return checkpoint.ResolveSource(path) }

// OpenFileSource memory-maps a single safetensors file.
func OpenFileSource(path string) (*FileSource, error) { return checkpoint.OpenFileSource(path) }

// Index maps tensor paths to the shard files holding them.
type Index = checkpoint.Index

// LoadIndex reads and parses a checkpoint index file.
func LoadIndex(path string) (*Index, error) { return checkpoint.LoadIndex(path) }

// FindIndex locates the single *.index.json file in a checkpoint directory.
func FindIndex(dir string) (string, error) { return checkpoint.FindIndex(dir) }

// OffloadFolder owns a directory of spilled tensor values.
type OffloadFolder = checkpoint.OffloadFolder

// NewOffloadFolder creates or reopens an offload folder at dir.
func NewOffloadFolder(dir string) (*OffloadFolder, error) {
	return checkpoint.NewOffloadFolder(dir)
}

// ScratchFolder creates a uniquely named offload folder under the system
// temp directory.
func ScratchFolder() (*OffloadFolder, error) { return checkpoint.ScratchFolder() }

// LoadOptions configures LoadInTree.
type LoadOptions = checkpoint.LoadOptions

// LoadReport lists checkpoint/tree coverage gaps from a non-strict load.
type LoadReport = checkpoint.LoadReport

// ShapeMismatchError reports a checkpoint/tree shape conflict.
type ShapeMismatchError = checkpoint.ShapeMismatchError

// LoadStrictError reports unmatched keys under strict loading.
type LoadStrictError = checkpoint.LoadStrictError

// ErrOffloadFolderRequired is returned when disk routing lacks a folder.
var ErrOffloadFolderRequired = checkpoint.ErrOffloadFolderRequired

// LoadInTree loads a checkpoint into the tree's existing tensors.
func LoadInTree(tree *module.Node, src Source, opts LoadOptions) (*LoadReport, error) {
	return checkpoint.LoadInTree(tree, src, opts)
}

// LoadStateDict reads every source tensor onto its mapped device, with disk
// realized as host residency.
func LoadStateDict(src Source, dm map[string]tensor.Device) (map[string]*tensor.RawTensor, error) {
	return checkpoint.LoadStateDict(src, dm)
}

// AlignModuleDevice moves a node's own tensors onto an execution device and
// returns the restore function.
func AlignModuleDevice(node *module.Node, exec tensor.Device) (func() error, error) {
	return checkpoint.AlignModuleDevice(node, exec)
}

// WithModuleAligned aligns the node's tensors around fn and always restores.
func WithModuleAligned(node *module.Node, exec tensor.Device, fn func() error) error {
	return checkpoint.WithModuleAligned(node, exec, fn)
}

// OffloadedStateDict assembles the full state dictionary, streaming
// offloaded tensors back from disk.
func OffloadedStateDict(tree *module.Node) (map[string]*tensor.RawTensor, error) {
	return checkpoint.OffloadedStateDict(tree)
}
