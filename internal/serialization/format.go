package serialization

import (
	"fmt"
	"sort"

	json "github.com/goccy/go-json"

	"github.com/born-ml/dispatch/internal/tensor"
)

// MaxHeaderSize bounds the JSON header to keep malformed files from forcing
// huge allocations.
const MaxHeaderSize = 100 * 1024 * 1024

// DType is a safetensors dtype string.
type DType string

// Supported safetensors dtypes.
const (
	DTypeF16  DType = "F16"
	DTypeF32  DType = "F32"
	DTypeF64  DType = "F64"
	DTypeBF16 DType = "BF16"
	DTypeI32  DType = "I32"
	DTypeI64  DType = "I64"
	DTypeU8   DType = "U8"
	DTypeBool DType = "BOOL"
)

// TensorInfo describes one tensor in the header.
type TensorInfo struct {
	DType       DType    `json:"dtype"`
	Shape       []int    `json:"shape"`
	DataOffsets [2]int64 `json:"data_offsets"` // [start, end), relative to the data section
}

// Header is the parsed JSON header of a safetensors file.
type Header struct {
	Metadata map[string]string
	Tensors  map[string]TensorInfo
}

// UnmarshalJSON splits the flat safetensors header into metadata and tensor
// entries.
func (h *Header) UnmarshalJSON(data []byte) error {
	var rawMap map[string]json.RawMessage
	if err := json.Unmarshal(data, &rawMap); err != nil {
		return err
	}

	if metaRaw, ok := rawMap["__metadata__"]; ok {
		if err := json.Unmarshal(metaRaw, &h.Metadata); err != nil {
			return fmt.Errorf("failed to unmarshal metadata: %w", err)
		}
	}

	h.Tensors = make(map[string]TensorInfo, len(rawMap))
	for key, value := range rawMap {
		if key == "__metadata__" {
			continue
		}
		var info TensorInfo
		if err := json.Unmarshal(value, &info); err != nil {
			return fmt.Errorf("failed to unmarshal tensor %s: %w", key, err)
		}
		h.Tensors[key] = info
	}
	return nil
}

// MarshalJSON flattens the header back to the safetensors layout.
func (h Header) MarshalJSON() ([]byte, error) {
	flat := make(map[string]any, len(h.Tensors)+1)
	if len(h.Metadata) > 0 {
		flat["__metadata__"] = h.Metadata
	}
	for name, info := range h.Tensors {
		flat[name] = info
	}
	return json.Marshal(flat)
}

// TensorNames returns the tensor names sorted alphabetically.
func (h Header) TensorNames() []string {
	names := make([]string, 0, len(h.Tensors))
	for name := range h.Tensors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate checks that every tensor's offsets are non-negative, in bounds,
// and non-overlapping for the given data section size.
func (h Header) Validate(dataSize int64) error {
	type span struct {
		name       string
		start, end int64
	}
	spans := make([]span, 0, len(h.Tensors))
	for name, info := range h.Tensors {
		start, end := info.DataOffsets[0], info.DataOffsets[1]
		if start < 0 || end < start {
			return fmt.Errorf("%w: tensor %q: offsets [%d, %d]", ErrNegativeOffset, name, start, end)
		}
		if end > dataSize {
			return fmt.Errorf("%w: tensor %q: end %d > data size %d", ErrOutOfBounds, name, end, dataSize)
		}
		spans = append(spans, span{name, start, end})
	}
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })
	for i := 1; i < len(spans); i++ {
		if spans[i].start < spans[i-1].end {
			return fmt.Errorf("%w: tensors %q and %q", ErrOffsetOverlap, spans[i-1].name, spans[i].name)
		}
	}
	return nil
}

// ToDataType converts a safetensors dtype to the tensor package's DataType.
func (d DType) ToDataType() (tensor.DataType, error) {
	switch d {
	case DTypeF16:
		return tensor.Float16, nil
	case DTypeBF16:
		return tensor.BFloat16, nil
	case DTypeF32:
		return tensor.Float32, nil
	case DTypeF64:
		return tensor.Float64, nil
	case DTypeI32:
		return tensor.Int32, nil
	case DTypeI64:
		return tensor.Int64, nil
	case DTypeU8:
		return tensor.Uint8, nil
	case DTypeBool:
		return tensor.Bool, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedDType, d)
	}
}

// FromDataType converts the tensor package's DataType to a safetensors
// dtype string.
func FromDataType(dt tensor.DataType) (DType, error) {
	switch dt {
	case tensor.Float16:
		return DTypeF16, nil
	case tensor.BFloat16:
		return DTypeBF16, nil
	case tensor.Float32:
		return DTypeF32, nil
	case tensor.Float64:
		return DTypeF64, nil
	case tensor.Int32:
		return DTypeI32, nil
	case tensor.Int64:
		return DTypeI64, nil
	case tensor.Uint8:
		return DTypeU8, nil
	case tensor.Bool:
		return DTypeBool, nil
	default:
		return "", fmt.Errorf("%w: %v", ErrUnsupportedDType, dt)
	}
}
