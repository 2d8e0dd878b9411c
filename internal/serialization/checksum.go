package serialization

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// ChecksumMetadataKey is the __metadata__ key carrying the hex SHA-256 of
// the data section. Files without it are accepted as-is; the safetensors
// format itself carries no integrity field.
const ChecksumMetadataKey = "dispatch.checksum"

// ComputeChecksum returns the hex SHA-256 of the data section.
func ComputeChecksum(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ValidateChecksum compares the data section against an expected hex digest.
func ValidateChecksum(data []byte, expected string) error {
	got := ComputeChecksum(data)
	if got != expected {
		return fmt.Errorf("%w: got %s, expected %s", ErrChecksumMismatch, got, expected)
	}
	return nil
}
