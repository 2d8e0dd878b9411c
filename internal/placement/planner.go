package placement

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/born-ml/dispatch/internal/format"
	"github.com/born-ml/dispatch/internal/module"
	"github.com/born-ml/dispatch/internal/tensor"
)

// PlanOptions configures the automatic placement planner.
type PlanOptions struct {
	// Budget gives per-device capacities in fill order. Devices with zero
	// capacity are removed from planning; if disk is absent it is appended
	// with unbounded capacity.
	Budget *Budget

	// Sizes is the per-path byte footprint table. When nil it is computed
	// from the tree with SizeOptions.
	Sizes map[string]int64

	// SizeOptions is used to compute Sizes when it is nil.
	SizeOptions SizeOptions

	// NoSplitClasses names node classes that must be placed whole.
	NoSplitClasses map[string]struct{}

	// OffloadBuffers marks buffers as offloadable alongside parameters.
	// When false, the planner checks that buffers spilled to host or disk
	// still fit on some accelerator at execution time and warns if not.
	OffloadBuffers bool

	// FallbackAllocation retries an oversized atomic unit on the first
	// accelerator as individual leaf tensors before advancing past it.
	FallbackAllocation bool

	// Logger receives advisory warnings. Defaults to slog.Default().
	Logger *slog.Logger
}

// WarningKind classifies planner advisories.
type WarningKind int

const (
	// WarnInsufficientMemory: a device received nothing because no unit fit.
	WarnInsufficientMemory WarningKind = iota
	// WarnBufferConcurrency: buffers were spilled off-accelerator but no
	// accelerator has room to host them during execution.
	WarnBufferConcurrency
)

// Warning is one planner advisory. Warnings never fail the plan.
type Warning struct {
	Kind          WarningKind
	Device        tensor.Device
	Path          string
	RequiredBytes int64
	Message       string
}

// Report carries the advisories produced while planning.
type Report struct {
	Warnings []Warning
}

// planUnit is one schedulable item: a whole subtree, or a single tensor when
// a node has been broken up.
type planUnit struct {
	path     string
	node     *module.Node
	t        *tensor.RawTensor
	isBuffer bool
	// fromFallback marks tensors produced by fallback disaggregation, which
	// must not be disaggregated again.
	fromFallback bool
}

type deviceState struct {
	dev       tensor.Device
	capacity  int64
	unbounded bool

	used        int64
	reserved    int64 // reservation charged when the device was abandoned
	bufferBytes int64
	assigned    int

	abandoned bool
	failPath  string
	failShort int64
}

type planner struct {
	tree    *module.Node
	sizes   map[string]int64
	noSplit map[string]struct{}
	ties    []TieGroup

	devices  []*deviceState
	mainIdx  int
	frontier []planUnit
}

// Plan assigns every tensor in the tree to a device, filling accelerators in
// budget order, then host, then disk. Subtrees are kept whole when they fit
// and split into children otherwise; tied tensors are always placed together.
// The first accelerator keeps a rolling reservation equal to the largest
// unsplittable unit still pending, so execution always has room to page one
// more layer in. The returned map is coalesced with Clean.
func Plan(tree *module.Node, opts PlanOptions) (DeviceMap, *Report, error) {
	if opts.Budget == nil || len(opts.Budget.Entries()) == 0 {
		return nil, nil, &ValidationError{Details: "empty device budget"}
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	sizes := opts.Sizes
	if sizes == nil {
		sizes = ComputeSizes(tree, opts.SizeOptions)
	}

	p := &planner{
		tree:    tree,
		sizes:   sizes,
		noSplit: opts.NoSplitClasses,
		ties:    FindTied(tree),
		mainIdx: -1,
	}
	p.buildDevices(opts.Budget)
	if len(p.devices) > 0 && !p.devices[0].dev.IsDisk() {
		p.mainIdx = 0
	}
	p.frontier = p.expand(planUnit{path: "", node: tree})

	devMap := make(DeviceMap)
	ci := 0
	for len(p.frontier) > 0 {
		if ci >= len(p.devices) {
			return nil, nil, fmt.Errorf("%w: no device can hold %q", ErrInsufficientCapacity, p.frontier[0].path)
		}
		u := p.frontier[0]
		p.frontier = p.frontier[1:]
		dev := p.devices[ci]

		carriers := p.carriersFor(u)
		group := append([]planUnit{u}, carriers...)
		eff := p.groupBytes(group, nil)

		var reservation int64
		if ci == p.mainIdx {
			reservation = p.maxPendingAtomic(group)
		}
		fits := func(n int64) bool {
			return dev.unbounded || dev.used+n <= dev.capacity-reservation
		}

		switch {
		case fits(eff):
			for _, g := range group {
				devMap[g.path] = dev.dev
			}
			dev.used += eff
			dev.bufferBytes += p.groupBufferBytes(group)
			dev.assigned += len(group)
			p.removeFromFrontier(carriers)

		case len(carriers) > 0 && fits(p.sizes[u.path]):
			// The unit alone fits but its tied partners push it over. Break
			// one partner into children so a smaller joint placement can be
			// found, then retry the unit.
			if !p.splitOneCarrier(carriers) {
				p.abandon(dev, u, eff, reservation)
				p.frontier = append([]planUnit{u}, p.frontier...)
				ci++
				continue
			}
			p.frontier = append([]planUnit{u}, p.frontier...)

		case u.node != nil && len(u.node.Children()) > 0 && !p.atomic(u.node):
			p.frontier = append(p.expand(u), p.frontier...)

		default:
			if opts.FallbackAllocation && !u.fromFallback && u.node != nil &&
				ci == p.mainIdx && dev.dev.IsAccelerator() {
				p.frontier = append(p.leafTensors(u), p.frontier...)
				continue
			}
			p.abandon(dev, u, eff, reservation)
			p.frontier = append([]planUnit{u}, p.frontier...)
			ci++
		}
	}

	report := p.buildReport(logger, opts.OffloadBuffers)
	return Clean(devMap), report, nil
}

func (p *planner) buildDevices(b *Budget) {
	add := func(d tensor.Device, capacity int64, unbounded bool) {
		p.devices = append(p.devices, &deviceState{dev: d, capacity: capacity, unbounded: unbounded})
	}
	for _, e := range b.Entries() {
		if e.Device.IsAccelerator() && e.Capacity > 0 {
			add(e.Device, e.Capacity, false)
		}
	}
	if c, ok := b.Get(tensor.CPU); ok && c > 0 {
		add(tensor.CPU, c, false)
	}
	if c, ok := b.Get(tensor.Disk); ok {
		if c > 0 {
			add(tensor.Disk, c, false)
		}
	} else {
		add(tensor.Disk, 0, true)
	}
}

func (p *planner) atomic(n *module.Node) bool {
	_, ok := p.noSplit[n.Class()]
	return ok
}

// expand turns a node unit into its own parameters, its children, and its
// own buffers, in that order.
func (p *planner) expand(u planUnit) []planUnit {
	var out []planUnit
	for _, nt := range u.node.NamedTensors(module.TensorOptions{}) {
		out = append(out, planUnit{path: join(u.path, nt.Path), t: nt.Tensor, fromFallback: u.fromFallback})
	}
	for _, c := range u.node.Children() {
		out = append(out, planUnit{path: join(u.path, c.Name), node: c.Node, fromFallback: u.fromFallback})
	}
	for _, nt := range u.node.NamedTensors(module.TensorOptions{IncludeBuffers: true}) {
		if nt.IsBuffer {
			out = append(out, planUnit{path: join(u.path, nt.Path), t: nt.Tensor, isBuffer: true, fromFallback: u.fromFallback})
		}
	}
	return out
}

// leafTensors flattens a node unit into every tensor below it.
func (p *planner) leafTensors(u planUnit) []planUnit {
	var out []planUnit
	for _, nt := range u.node.NamedTensors(module.TensorOptions{Recurse: true, IncludeBuffers: true}) {
		out = append(out, planUnit{
			path:         join(u.path, nt.Path),
			t:            nt.Tensor,
			isBuffer:     nt.IsBuffer,
			fromFallback: true,
		})
	}
	return out
}

func covers(unitPath, path string) bool {
	return unitPath == "" || path == unitPath || strings.HasPrefix(path, unitPath+".")
}

// carriersFor collects the pending units that must be placed together with u
// because of tied storage, expanded to a fixpoint so chains of ties stay on
// one device.
func (p *planner) carriersFor(u planUnit) []planUnit {
	group := []planUnit{u}
	inGroup := func(path string) bool {
		for _, g := range group {
			if covers(g.path, path) {
				return true
			}
		}
		return false
	}
	for changed := true; changed; {
		changed = false
		for _, tg := range p.ties {
			touches := false
			for _, m := range tg {
				if inGroup(m) {
					touches = true
					break
				}
			}
			if !touches {
				continue
			}
			for _, m := range tg {
				if inGroup(m) {
					continue
				}
				for _, f := range p.frontier {
					if covers(f.path, m) {
						group = append(group, f)
						changed = true
						break
					}
				}
			}
		}
	}
	return group[1:]
}

// unitTensors lists the tensor paths a unit covers.
func (p *planner) unitTensors(u planUnit) []module.NamedTensor {
	if u.node == nil {
		return []module.NamedTensor{{Path: u.path, Tensor: u.t, IsBuffer: u.isBuffer}}
	}
	nts := u.node.NamedTensors(module.TensorOptions{Recurse: true, IncludeBuffers: true})
	for i := range nts {
		nts[i].Path = join(u.path, nts[i].Path)
	}
	return nts
}

// groupBytes sums the footprint of a unit group counting each shared storage
// once. When onlyBuffers is non-nil it restricts to buffer tensors.
func (p *planner) groupBytes(group []planUnit, onlyBuffers *bool) int64 {
	seen := make(map[*tensor.Storage]struct{})
	var total int64
	for _, u := range group {
		for _, nt := range p.unitTensors(u) {
			if onlyBuffers != nil && *onlyBuffers != nt.IsBuffer {
				continue
			}
			if s := nt.Tensor.Storage(); s != nil {
				if _, dup := seen[s]; dup {
					continue
				}
				seen[s] = struct{}{}
			}
			total += p.sizes[nt.Path]
		}
	}
	return total
}

func (p *planner) groupBufferBytes(group []planUnit) int64 {
	buffers := true
	return p.groupBytes(group, &buffers)
}

// maxPendingAtomic returns the largest unsplittable footprint still pending,
// excluding the group currently being placed. This is the reservation held
// on the first accelerator.
func (p *planner) maxPendingAtomic(exclude []planUnit) int64 {
	excluded := func(path string) bool {
		for _, e := range exclude {
			if e.path == path {
				return true
			}
		}
		return false
	}
	var m int64
	for _, u := range p.frontier {
		if excluded(u.path) {
			continue
		}
		if a := p.atomicMax(u); a > m {
			m = a
		}
	}
	return m
}

func (p *planner) atomicMax(u planUnit) int64 {
	if u.node == nil || len(u.node.Children()) == 0 || p.atomic(u.node) {
		return p.sizes[u.path]
	}
	var m int64
	for _, c := range p.expand(u) {
		if a := p.atomicMax(c); a > m {
			m = a
		}
	}
	return m
}

// splitOneCarrier replaces the first splittable carrier in the frontier with
// its children. Returns false when every carrier is atomic.
func (p *planner) splitOneCarrier(carriers []planUnit) bool {
	for _, c := range carriers {
		if c.node == nil || len(c.node.Children()) == 0 || p.atomic(c.node) {
			continue
		}
		for i, f := range p.frontier {
			if f.path == c.path {
				expanded := p.expand(c)
				p.frontier = append(p.frontier[:i], append(expanded, p.frontier[i+1:]...)...)
				return true
			}
		}
	}
	return false
}

func (p *planner) removeFromFrontier(units []planUnit) {
	if len(units) == 0 {
		return
	}
	drop := make(map[string]struct{}, len(units))
	for _, u := range units {
		drop[u.path] = struct{}{}
	}
	kept := p.frontier[:0]
	for _, f := range p.frontier {
		if _, ok := drop[f.path]; !ok {
			kept = append(kept, f)
		}
	}
	p.frontier = kept
}

// abandon records that a device is being left behind. A never-used device
// remembers the shortfall so the report can say how much more memory it
// needed; the reservation stays charged for the buffer concurrency check.
func (p *planner) abandon(dev *deviceState, u planUnit, eff, reservation int64) {
	dev.abandoned = true
	dev.reserved = reservation
	if dev.assigned == 0 && !dev.unbounded {
		short := dev.used + eff + reservation - dev.capacity
		if dev.failPath == "" || short < dev.failShort {
			dev.failPath = u.path
			dev.failShort = short
		}
	}
}

func (p *planner) buildReport(logger *slog.Logger, offloadBuffers bool) *Report {
	report := &Report{}
	for _, d := range p.devices {
		if d.abandoned && d.assigned == 0 && d.failPath != "" {
			w := Warning{
				Kind:          WarnInsufficientMemory,
				Device:        d.dev,
				Path:          d.failPath,
				RequiredBytes: d.failShort,
				Message: fmt.Sprintf("insufficient memory on %s: %q needs %s more",
					d.dev, d.failPath, format.HumanBytes(d.failShort)),
			}
			report.Warnings = append(report.Warnings, w)
			logger.Warn("insufficient memory",
				"device", d.dev.String(),
				"unit", d.failPath,
				"required", format.HumanBytes(d.failShort))
		}
	}

	if !offloadBuffers {
		var offloaded int64
		for _, d := range p.devices {
			if !d.dev.IsAccelerator() {
				offloaded += d.bufferBytes
			}
		}
		hasAccel := false
		fits := false
		for _, d := range p.devices {
			if !d.dev.IsAccelerator() {
				continue
			}
			hasAccel = true
			if d.used+d.reserved+offloaded <= d.capacity {
				fits = true
			}
		}
		if hasAccel && offloaded > 0 && !fits {
			w := Warning{
				Kind:          WarnBufferConcurrency,
				RequiredBytes: offloaded,
				Message: fmt.Sprintf("buffers totalling %s were placed off-accelerator but no accelerator has room to host them at execution time; consider OffloadBuffers",
					format.HumanBytes(offloaded)),
			}
			report.Warnings = append(report.Warnings, w)
			logger.Warn("offloaded buffers exceed accelerator headroom",
				"buffer_bytes", format.HumanBytes(offloaded))
		}
	}
	return report
}

func join(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + "." + name
}
