package placement

import (
	"github.com/born-ml/dispatch/internal/format"
	"github.com/born-ml/dispatch/internal/module"
	"github.com/born-ml/dispatch/internal/tensor"
)

// BudgetEntry is one device's byte capacity.
type BudgetEntry struct {
	Device   tensor.Device
	Capacity int64
}

// Budget is an ordered device capacity table. Insertion order is the
// planner's fill order: accelerators are tried in the order they were added.
// A zero capacity removes the device from planning entirely; for disk this
// also suppresses the implicit unbounded disk tier.
type Budget struct {
	entries []BudgetEntry
}

func NewBudget() *Budget { return &Budget{} }

// Set records a device's capacity in bytes, replacing any earlier entry for
// the same device without changing its position.
func (b *Budget) Set(d tensor.Device, capacity int64) *Budget {
	for i := range b.entries {
		if b.entries[i].Device == d {
			b.entries[i].Capacity = capacity
			return b
		}
	}
	b.entries = append(b.entries, BudgetEntry{Device: d, Capacity: capacity})
	return b
}

// SetString records a capacity given as a human size string such as "4GiB"
// or "500MB".
func (b *Budget) SetString(d tensor.Device, s string) error {
	n, err := format.ParseSize(s)
	if err != nil {
		return err
	}
	b.Set(d, n)
	return nil
}

// Get returns the capacity recorded for a device.
func (b *Budget) Get(d tensor.Device) (int64, bool) {
	for _, e := range b.entries {
		if e.Device == d {
			return e.Capacity, true
		}
	}
	return 0, false
}

// Entries returns the budget in insertion order.
func (b *Budget) Entries() []BudgetEntry {
	out := make([]BudgetEntry, len(b.entries))
	copy(out, b.entries)
	return out
}

// Devices returns every budgeted device in insertion order.
func (b *Budget) Devices() []tensor.Device {
	out := make([]tensor.Device, len(b.entries))
	for i, e := range b.entries {
		out[i] = e.Device
	}
	return out
}

// Accelerators returns the budgeted accelerators with nonzero capacity, in
// insertion order.
func (b *Budget) Accelerators() []tensor.Device {
	var out []tensor.Device
	for _, e := range b.entries {
		if e.Device.IsAccelerator() && e.Capacity > 0 {
			out = append(out, e.Device)
		}
	}
	return out
}

func (b *Budget) Clone() *Budget {
	c := &Budget{entries: make([]BudgetEntry, len(b.entries))}
	copy(c.entries, b.entries)
	return c
}

// Balance rewrites accelerator capacities so the planner spreads the tree
// across all of them instead of saturating the first. Every accelerator
// except the last is capped near total/n plus headroom for one more layer;
// the last accelerator, host, and disk keep their given capacities. Caps
// never drop below the largest atomic unit so no accelerator is forced to
// skip a layer it was meant to hold.
func Balance(tree *module.Node, b *Budget, sizes map[string]int64, noSplitClasses map[string]struct{}) *Budget {
	out := b.Clone()
	accels := out.Accelerators()
	if len(accels) <= 1 {
		return out
	}

	perDevice := sizes[""] / int64(len(accels))

	// Headroom: one more of whichever is larger, the biggest atomic unit
	// or the mean leaf module.
	var largestAtomic int64
	var leafTotal, leafCount int64
	tree.Walk(func(path string, n *module.Node) bool {
		if _, atomic := noSplitClasses[n.Class()]; atomic && sizes[path] > largestAtomic {
			largestAtomic = sizes[path]
		}
		if len(n.Children()) == 0 {
			leafTotal += sizes[path]
			leafCount++
		}
		return true
	})
	var meanLeaf int64
	if leafCount > 0 {
		meanLeaf = leafTotal / leafCount
	}
	headroom := int64(1.25 * float64(max(largestAtomic, meanLeaf)))

	ceiling := max(perDevice+headroom, largestAtomic)
	for _, d := range accels[:len(accels)-1] {
		given, _ := out.Get(d)
		out.Set(d, min(given, ceiling))
	}
	return out
}
