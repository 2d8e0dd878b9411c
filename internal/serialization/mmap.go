package serialization

import (
	"encoding/binary"
	"fmt"
	"os"

	json "github.com/goccy/go-json"

	"github.com/born-ml/dispatch/internal/tensor"
)

// MmapReader provides memory-mapped access to safetensors files. Only the
// header is parsed up front; tensor bytes are served straight from the OS
// page cache without copies.
type MmapReader struct {
	file       *os.File
	data       []byte // mmap'd region (read-only)
	size       int64
	header     Header
	dataOffset int64
	closed     bool
}

// NewMmapReader memory-maps a safetensors file and parses its header.
//
// Always call Close when done to unmap the file (use defer).
func NewMmapReader(path string) (*MmapReader, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for checkpoint loading
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	data, err := mmapFile(file, stat.Size())
	if err != nil {
		_ = file.Close()
		return nil, fmt.Errorf("mmap failed: %w", err)
	}

	r := &MmapReader{
		file: file,
		data: data,
		size: stat.Size(),
	}
	if err := r.parseHeader(); err != nil {
		_ = r.Close()
		return nil, err
	}
	return r, nil
}

func (r *MmapReader) parseHeader() error {
	if r.size < 8 {
		return &FormatError{Details: fmt.Sprintf("file too small: %d bytes", r.size)}
	}
	headerSize := binary.LittleEndian.Uint64(r.data[0:8])
	if headerSize > MaxHeaderSize {
		return ErrHeaderTooLarge
	}
	headerEnd := 8 + int64(headerSize) //nolint:gosec // G115: header size bounded by MaxHeaderSize
	if headerEnd > r.size {
		return &FormatError{Details: fmt.Sprintf("header extends beyond file: header_end=%d, file_size=%d", headerEnd, r.size)}
	}
	if err := json.Unmarshal(r.data[8:headerEnd], &r.header); err != nil {
		return fmt.Errorf("failed to parse header JSON: %w", err)
	}
	r.dataOffset = headerEnd
	if err := r.header.Validate(r.size - headerEnd); err != nil {
		return err
	}
	if want, ok := r.header.Metadata[ChecksumMetadataKey]; ok {
		if err := ValidateChecksum(r.data[r.dataOffset:], want); err != nil {
			return err
		}
	}
	return nil
}

// Header returns the parsed file header.
func (r *MmapReader) Header() Header {
	return r.header
}

// Metadata returns the metadata map from the header.
func (r *MmapReader) Metadata() map[string]string {
	return r.header.Metadata
}

// TensorNames returns all tensor names, sorted.
func (r *MmapReader) TensorNames() []string {
	return r.header.TensorNames()
}

// TensorInfo returns the header entry for one tensor.
func (r *MmapReader) TensorInfo(name string) (*TensorInfo, error) {
	info, ok := r.header.Tensors[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTensorNotFound, name)
	}
	return &info, nil
}

// TensorData returns a zero-copy slice into the mapping. The slice is valid
// only while the reader is open and must be treated as read-only.
func (r *MmapReader) TensorData(name string) ([]byte, error) {
	if r.closed {
		return nil, ErrReaderClosed
	}
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}
	start := r.dataOffset + info.DataOffsets[0]
	end := r.dataOffset + info.DataOffsets[1]
	return r.data[start:end], nil
}

// TensorDataCopy returns a private copy of the tensor bytes.
func (r *MmapReader) TensorDataCopy(name string) ([]byte, error) {
	data, err := r.TensorData(name)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// ReadTensor loads one tensor onto the host, copying out of the mapping.
func (r *MmapReader) ReadTensor(name string) (*tensor.RawTensor, error) {
	info, err := r.TensorInfo(name)
	if err != nil {
		return nil, err
	}
	dtype, err := info.DType.ToDataType()
	if err != nil {
		return nil, fmt.Errorf("tensor %s: %w", name, err)
	}
	shape := tensor.Shape(info.Shape)
	if err := shape.Validate(); err != nil {
		return nil, fmt.Errorf("invalid shape for tensor %s: %w", name, err)
	}
	data, err := r.TensorDataCopy(name)
	if err != nil {
		return nil, err
	}
	return tensor.FromBytes(data, shape, dtype, tensor.CPU)
}

// Close unmaps and closes the file.
func (r *MmapReader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true

	var err error
	if r.data != nil {
		err = munmapFile(r.data)
		r.data = nil
	}
	if closeErr := r.file.Close(); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}
