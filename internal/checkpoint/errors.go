package checkpoint

import (
	"errors"
	"fmt"
	"strings"
)

// ErrOffloadFolderRequired is returned when the device map sends tensors to
// disk but no offload folder was configured.
var ErrOffloadFolderRequired = errors.New("device map places tensors on disk but no offload folder was given")

// ShapeMismatchError reports a checkpoint tensor whose shape does not match
// the tree's tensor at the same path.
type ShapeMismatchError struct {
	Path     string
	Expected []int
	Given    []int
}

func (e *ShapeMismatchError) Error() string {
	return fmt.Sprintf("shape mismatch for %q: tree has %v, checkpoint has %v", e.Path, e.Expected, e.Given)
}

// LoadStrictError reports unmatched keys under strict loading.
type LoadStrictError struct {
	Missing    []string
	Unexpected []string
}

func (e *LoadStrictError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, fmt.Sprintf("missing keys: %s", strings.Join(e.Missing, ", ")))
	}
	if len(e.Unexpected) > 0 {
		parts = append(parts, fmt.Sprintf("unexpected keys: %s", strings.Join(e.Unexpected, ", ")))
	}
	return "strict load failed: " + strings.Join(parts, "; ")
}
