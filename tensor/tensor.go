// Copyright 2025 Born ML Framework. All rights reserved.
// Use of this source code is governed by an Apache 2.0
// license that can be found in the LICENSE file.

// Package tensor provides the public tensor data model used by the
// placement planner and checkpoint loader:
//   - RawTensor: typed, shaped bytes over shared storage
//   - Storage: the shared block establishing tie identity
//   - Shape, DataType, Device: core type definitions
//
// Tensors here carry no math; they model residency. Two tensors sharing one
// Storage are tied and always rest on the same device.
package tensor

import (
	"github.com/born-ml/dispatch/internal/tensor"
)

// DataType represents the underlying data type of a tensor.
type DataType = tensor.DataType

// Data type constants.
const (
	Float32  DataType = tensor.Float32
	Float64  DataType = tensor.Float64
	Float16  DataType = tensor.Float16
	BFloat16 DataType = tensor.BFloat16
	Int32    DataType = tensor.Int32
	Int64    DataType = tensor.Int64
	Uint8    DataType = tensor.Uint8
	Bool     DataType = tensor.Bool
)

// Device identifies where tensor bytes rest: an accelerator, the host, or
// disk swap.
type Device = tensor.Device

// Device constants.
const (
	CPU  Device = tensor.CPU
	Disk Device = tensor.Disk
)

// Accelerator returns the device identifier for accelerator index i.
func Accelerator(i int) Device { return tensor.Accelerator(i) }

// Shape represents the dimensions of a tensor.
// Example: Shape{2, 3, 4} represents a 3D tensor with dimensions 2×3×4.
type Shape = tensor.Shape

// Storage is a shared block of tensor bytes with a device tag.
type Storage = tensor.Storage

// RawTensor is a reference to typed, shaped storage.
type RawTensor = tensor.RawTensor

// OffloadEntry is the on-disk placeholder for an offloaded tensor.
type OffloadEntry = tensor.OffloadEntry

// NewRaw creates a RawTensor with zeroed storage.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.NewRaw(shape, dtype, device)
}

// FromBytes creates a RawTensor owning the given bytes.
func FromBytes(data []byte, shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	return tensor.FromBytes(data, shape, dtype, device)
}

// NewStorage allocates zeroed storage of the given byte size on a device.
func NewStorage(size int, device Device) *Storage {
	return tensor.NewStorage(size, device)
}

// Cast converts a floating tensor to another floating dtype. Integer and
// bool tensors cannot be cast.
func Cast(r *RawTensor, dtype DataType) (*RawTensor, error) {
	return tensor.Cast(r, dtype)
}
