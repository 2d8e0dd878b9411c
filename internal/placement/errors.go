// Package placement computes device assignments for parameter trees:
// per-node byte footprints, tied-storage groups, budget balancing, and the
// greedy hierarchical bin-packing planner.
package placement

import (
	"errors"
	"fmt"
)

// ErrInsufficientCapacity reports that no device, including host and disk,
// can accept a placement unit. This can only happen when host and disk are
// both explicitly removed by a zero budget.
var ErrInsufficientCapacity = errors.New("insufficient device capacity")

// ValidationError reports a path or group that does not match the tree, or
// a malformed input map.
type ValidationError struct {
	Path    string
	Details string
}

func (e *ValidationError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("validation: path %q: %s", e.Path, e.Details)
	}
	return fmt.Sprintf("validation: %s", e.Details)
}
