package tensor

import "fmt"

// Storage is a shared block of tensor bytes with a device tag. Two tensors
// referencing the same Storage are tied: they alias one underlying value and
// always rest on the same device.
type Storage struct {
	data   []byte
	device Device
}

// NewStorage allocates zeroed storage of the given byte size on a device.
func NewStorage(size int, device Device) *Storage {
	return &Storage{data: make([]byte, size), device: device}
}

// Data returns the raw byte slice.
func (s *Storage) Data() []byte { return s.data }

// Device returns the device the storage currently rests on.
func (s *Storage) Device() Device { return s.device }

// SetDevice relocates the storage's resting place. All tensors tied to this
// storage move together.
func (s *Storage) SetDevice(d Device) { s.device = d }

// OffloadEntry is the placeholder left behind when a tensor's bytes are
// persisted to disk. It carries everything needed to stream the value back.
type OffloadEntry struct {
	File  string   `json:"file"`
	DType DataType `json:"dtype"`
	Shape Shape    `json:"shape"`
}

// RawTensor is a reference to typed, shaped storage. An offloaded tensor has
// no storage; its value lives in the file named by the offload entry and its
// device reads as Disk.
type RawTensor struct {
	storage *Storage
	shape   Shape
	dtype   DataType
	offload *OffloadEntry
}

// NewRaw creates a RawTensor with zeroed storage.
func NewRaw(shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	return &RawTensor{
		storage: NewStorage(shape.NumElements()*dtype.Size(), device),
		shape:   shape.Clone(),
		dtype:   dtype,
	}, nil
}

// FromBytes creates a RawTensor owning the given bytes.
func FromBytes(data []byte, shape Shape, dtype DataType, device Device) (*RawTensor, error) {
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape: %w", err)
	}
	if want := shape.NumElements() * dtype.Size(); len(data) != want {
		return nil, fmt.Errorf("data length %d does not match shape %v of dtype %s (want %d bytes)",
			len(data), shape, dtype, want)
	}
	return &RawTensor{
		storage: &Storage{data: data, device: device},
		shape:   shape.Clone(),
		dtype:   dtype,
	}, nil
}

// Shape returns the tensor's shape.
func (r *RawTensor) Shape() Shape { return r.shape }

// DType returns the tensor's data type.
func (r *RawTensor) DType() DataType { return r.dtype }

// NumElements returns the total number of elements.
func (r *RawTensor) NumElements() int { return r.shape.NumElements() }

// ByteSize returns the total memory size in bytes.
func (r *RawTensor) ByteSize() int { return r.NumElements() * r.dtype.Size() }

// Device returns the tensor's resting device. Offloaded tensors read as Disk.
func (r *RawTensor) Device() Device {
	if r.offload != nil {
		return Disk
	}
	return r.storage.device
}

// Data returns the raw byte slice. Nil while offloaded.
func (r *RawTensor) Data() []byte {
	if r.storage == nil {
		return nil
	}
	return r.storage.data
}

// Storage returns the underlying storage block. Nil while offloaded.
func (r *RawTensor) Storage() *Storage { return r.storage }

// SharesStorage reports whether two tensors are tied, i.e. reference the
// same underlying storage block.
func (r *RawTensor) SharesStorage(o *RawTensor) bool {
	return r.storage != nil && r.storage == o.storage
}

// Alias rebinds this tensor to reference src's storage, adopting its shape,
// dtype, and offload state. This is the retie primitive; it is the only
// deliberate way to establish sharing after construction.
func (r *RawTensor) Alias(src *RawTensor) {
	r.storage = src.storage
	r.shape = src.shape.Clone()
	r.dtype = src.dtype
	r.offload = src.offload
}

// SetData replaces the storage contents in place, preserving tie identity.
// The byte length must match the tensor's shape under the new dtype.
func (r *RawTensor) SetData(data []byte, dtype DataType) error {
	if r.storage == nil {
		return fmt.Errorf("cannot set data on offloaded tensor")
	}
	if want := r.shape.NumElements() * dtype.Size(); len(data) != want {
		return fmt.Errorf("data length %d does not match shape %v of dtype %s (want %d bytes)",
			len(data), r.shape, dtype, want)
	}
	r.storage.data = data
	r.dtype = dtype
	return nil
}

// ToDevice relocates the tensor's storage. Tied tensors move with it.
func (r *RawTensor) ToDevice(d Device) error {
	if r.storage == nil {
		return fmt.Errorf("cannot move offloaded tensor; restore it first")
	}
	r.storage.SetDevice(d)
	return nil
}

// Offloaded reports whether the tensor's bytes live on disk.
func (r *RawTensor) Offloaded() bool { return r.offload != nil }

// OffloadEntry returns the on-disk placeholder, or nil if resident.
func (r *RawTensor) OffloadEntry() *OffloadEntry { return r.offload }

// MarkOffloaded drops the tensor's storage and records the on-disk
// placeholder in its stead.
func (r *RawTensor) MarkOffloaded(e *OffloadEntry) {
	r.offload = e
	r.storage = nil
	r.dtype = e.DType
	r.shape = e.Shape.Clone()
}

// Restore rematerializes an offloaded tensor from bytes onto a device.
// The offload entry is cleared; callers that intend a temporary restore
// must keep the entry and re-offload afterwards.
func (r *RawTensor) Restore(data []byte, device Device) error {
	if r.offload == nil {
		return fmt.Errorf("tensor is not offloaded")
	}
	if want := r.shape.NumElements() * r.dtype.Size(); len(data) != want {
		return fmt.Errorf("offload data length %d does not match shape %v of dtype %s (want %d bytes)",
			len(data), r.shape, r.dtype, want)
	}
	r.storage = &Storage{data: data, device: device}
	r.offload = nil
	return nil
}
