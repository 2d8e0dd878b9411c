package tensor

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/d4l3k/go-bfloat16"
	"github.com/x448/float16"

	"github.com/born-ml/dispatch/internal/parallel"
)

// codecCfg tunes the chunked loops below. Conversions on checkpoint-sized
// tensors dominate load time, so they run across all CPUs.
var codecCfg = parallel.DefaultConfig()

// Cast returns a new tensor with the same shape and value converted to the
// target floating-point dtype. Integer and bool tensors cannot be cast;
// callers applying a global dtype override must skip them.
func Cast(r *RawTensor, dtype DataType) (*RawTensor, error) {
	if r.dtype == dtype {
		return r, nil
	}
	if !r.dtype.IsFloat() || !dtype.IsFloat() {
		return nil, fmt.Errorf("cannot cast %s tensor to %s: only float-to-float casts are supported",
			r.dtype, dtype)
	}
	if r.storage == nil {
		return nil, fmt.Errorf("cannot cast offloaded tensor")
	}

	f32s, err := DecodeFloats(r.Data(), r.dtype)
	if err != nil {
		return nil, err
	}
	return FromBytes(EncodeFloats(f32s, dtype), r.shape, dtype, r.Device())
}

// DecodeFloats interprets little-endian bytes of a floating dtype as float32
// values. Float64 values are narrowed.
func DecodeFloats(data []byte, dt DataType) ([]float32, error) {
	switch dt {
	case Float32:
		out := make([]float32, len(data)/4)
		parallel.Chunks(len(out), codecCfg, func(start, end int) {
			for i := start; i < end; i++ {
				out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
			}
		})
		return out, nil
	case Float64:
		out := make([]float32, len(data)/8)
		parallel.Chunks(len(out), codecCfg, func(start, end int) {
			for i := start; i < end; i++ {
				out[i] = float32(math.Float64frombits(binary.LittleEndian.Uint64(data[i*8:])))
			}
		})
		return out, nil
	case Float16:
		out := make([]float32, len(data)/2)
		parallel.Chunks(len(out), codecCfg, func(start, end int) {
			for i := start; i < end; i++ {
				out[i] = float16.Frombits(binary.LittleEndian.Uint16(data[i*2:])).Float32()
			}
		})
		return out, nil
	case BFloat16:
		return bfloat16.DecodeFloat32(data), nil
	default:
		return nil, fmt.Errorf("cannot decode %s as floats", dt)
	}
}

// EncodeFloats serializes float32 values as little-endian bytes of the given
// floating dtype.
func EncodeFloats(f32s []float32, dt DataType) []byte {
	switch dt {
	case Float32:
		out := make([]byte, len(f32s)*4)
		parallel.Chunks(len(f32s), codecCfg, func(start, end int) {
			for i := start; i < end; i++ {
				binary.LittleEndian.PutUint32(out[i*4:], math.Float32bits(f32s[i]))
			}
		})
		return out
	case Float64:
		out := make([]byte, len(f32s)*8)
		parallel.Chunks(len(f32s), codecCfg, func(start, end int) {
			for i := start; i < end; i++ {
				binary.LittleEndian.PutUint64(out[i*8:], math.Float64bits(float64(f32s[i])))
			}
		})
		return out
	case Float16:
		out := make([]byte, len(f32s)*2)
		parallel.Chunks(len(f32s), codecCfg, func(start, end int) {
			for i := start; i < end; i++ {
				binary.LittleEndian.PutUint16(out[i*2:], float16.Fromfloat32(f32s[i]).Bits())
			}
		})
		return out
	case BFloat16:
		return bfloat16.EncodeFloat32(f32s)
	default:
		panic(fmt.Sprintf("cannot encode floats as %s", dt))
	}
}
