package serialization

import (
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"os"
	"sort"

	json "github.com/goccy/go-json"

	"github.com/born-ml/dispatch/internal/tensor"
)

// Writer writes safetensors files.
type Writer struct {
	file   *os.File
	closed bool
}

// WriterOptions configures Write.
type WriterOptions struct {
	// Metadata is stored under the __metadata__ header key.
	Metadata map[string]string
	// Checksum stores a SHA-256 of the data section in the metadata, which
	// Reader verifies on open.
	Checksum bool
}

// NewWriter creates a safetensors file writer.
func NewWriter(path string) (*Writer, error) {
	//nolint:gosec // G304: File path comes from user input, which is expected for checkpoint saving
	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create file: %w", err)
	}
	return &Writer{file: file}, nil
}

// Write writes a state dictionary to path in one call.
func Write(path string, tensors map[string]*tensor.RawTensor, opts WriterOptions) error {
	w, err := NewWriter(path)
	if err != nil {
		return err
	}
	defer func() {
		_ = w.Close() // Best effort close
	}()
	return w.WriteStateDict(tensors, opts)
}

// WriteStateDict writes a state dictionary. Tensors are laid out in
// alphabetical order by name. Offloaded tensors cannot be written; restore
// them first.
func (w *Writer) WriteStateDict(stateDict map[string]*tensor.RawTensor, opts WriterOptions) error {
	if w.closed {
		return ErrWriterClosed
	}

	names := make([]string, 0, len(stateDict))
	for name := range stateDict {
		names = append(names, name)
	}
	sort.Strings(names)

	header := Header{Tensors: make(map[string]TensorInfo, len(names))}
	if len(opts.Metadata) > 0 {
		header.Metadata = make(map[string]string, len(opts.Metadata)+1)
		for k, v := range opts.Metadata {
			header.Metadata[k] = v
		}
	}

	hash := sha256.New()
	var offset int64
	for _, name := range names {
		raw := stateDict[name]
		if raw.Offloaded() {
			return &FormatError{Tensor: name, Details: "cannot write offloaded tensor"}
		}
		dtype, err := FromDataType(raw.DType())
		if err != nil {
			return fmt.Errorf("tensor %s: %w", name, err)
		}
		size := int64(raw.ByteSize())
		header.Tensors[name] = TensorInfo{
			DType:       dtype,
			Shape:       append([]int(nil), raw.Shape()...),
			DataOffsets: [2]int64{offset, offset + size},
		}
		offset += size
		if opts.Checksum {
			_, _ = hash.Write(raw.Data())
		}
	}
	if opts.Checksum {
		if header.Metadata == nil {
			header.Metadata = make(map[string]string, 1)
		}
		header.Metadata[ChecksumMetadataKey] = fmt.Sprintf("%x", hash.Sum(nil))
	}

	headerJSON, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("failed to marshal header: %w", err)
	}
	if err := binary.Write(w.file, binary.LittleEndian, uint64(len(headerJSON))); err != nil {
		return fmt.Errorf("failed to write header size: %w", err)
	}
	if _, err := w.file.Write(headerJSON); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	for _, name := range names {
		if _, err := w.file.Write(stateDict[name].Data()); err != nil {
			return fmt.Errorf("failed to write tensor %s: %w", name, err)
		}
	}
	return nil
}

// Close closes the underlying file.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	return w.file.Close()
}
