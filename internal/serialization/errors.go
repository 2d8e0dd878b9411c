package serialization

import (
	"errors"
	"fmt"
)

// Common errors.
var (
	ErrHeaderTooLarge   = errors.New("header exceeds maximum size")
	ErrTensorNotFound   = errors.New("tensor not found")
	ErrOutOfBounds      = errors.New("tensor extends beyond data section")
	ErrOffsetOverlap    = errors.New("tensor offsets overlap")
	ErrNegativeOffset   = errors.New("negative offset or size")
	ErrUnsupportedDType = errors.New("unsupported dtype")
	ErrChecksumMismatch = errors.New("checksum mismatch: file may be corrupted")
	ErrReaderClosed     = errors.New("reader is closed")
	ErrWriterClosed     = errors.New("writer is closed")
)

// FormatError provides detailed information about a malformed file.
type FormatError struct {
	Tensor  string
	Details string
}

func (e *FormatError) Error() string {
	if e.Tensor != "" {
		return fmt.Sprintf("safetensors: tensor %q: %s", e.Tensor, e.Details)
	}
	return fmt.Sprintf("safetensors: %s", e.Details)
}
