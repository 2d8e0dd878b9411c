package placement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/born-ml/dispatch/internal/module"
	"github.com/born-ml/dispatch/internal/tensor"
)

func mustPlan(t *testing.T, tree *module.Node, opts PlanOptions) (DeviceMap, *Report) {
	t.Helper()
	dm, report, err := Plan(tree, opts)
	require.NoError(t, err)
	return dm, report
}

func TestPlanEverythingFits(t *testing.T) {
	tree := testModel(t)
	dm, report := mustPlan(t, tree, PlanOptions{
		Budget: NewBudget().Set(tensor.Accelerator(0), 1000),
	})

	assert.Equal(t, DeviceMap{"": tensor.Accelerator(0)}, dm)
	assert.Empty(t, report.Warnings)
}

func TestPlanReservationPushesToSecondDevice(t *testing.T) {
	tree := testModel(t)
	dm, report := mustPlan(t, tree, PlanOptions{
		Budget: NewBudget().
			Set(tensor.Accelerator(0), 200).
			Set(tensor.Accelerator(1), 200),
	})

	// linear1 (64) lands on the first device; batchnorm would fit by raw
	// size but the reservation for linear2 (100) pushes it over.
	assert.Equal(t, DeviceMap{
		"linear1":   tensor.Accelerator(0),
		"batchnorm": tensor.Accelerator(1),
		"linear2":   tensor.Accelerator(1),
	}, dm)
	assert.Empty(t, report.Warnings)
}

func TestPlanTiedWeightsPlacedTogether(t *testing.T) {
	tree := tiedModel(t)
	dm, report := mustPlan(t, tree, PlanOptions{
		Budget: NewBudget().
			Set(tensor.Accelerator(0), 168).
			Set(tensor.Accelerator(1), 200),
	})

	// linear1+linear2 share a 64-byte weight: their joint footprint is 96,
	// and with batchnorm (72) the whole tree fits on the first device.
	assert.Equal(t, DeviceMap{"": tensor.Accelerator(0)}, dm)
	assert.Empty(t, report.Warnings)
}

func TestPlanTiedSplitsCarrier(t *testing.T) {
	root := module.New("Sequential")
	root.AddChild("layer1", linear(t, 4, 4))
	sub := module.New("Sequential")
	sub.AddChild("linear2", linear(t, 4, 4))
	sub.AddChild("linear3", linear(t, 4, 4))
	root.AddChild("sub", sub)
	root.AddChild("tail", linear(t, 4, 4))

	src, _ := root.TensorAt("layer1.weight")
	dst, _ := root.TensorAt("sub.linear2.weight")
	dst.Alias(src)

	dm, report := mustPlan(t, root, PlanOptions{
		Budget: NewBudget().
			Set(tensor.Accelerator(0), 176).
			Set(tensor.Accelerator(1), 400),
	})

	// sub as a whole is too big to ride along with layer1, so it is split
	// and only the tied half (sub.linear2) joins layer1 on device 0.
	assert.Equal(t, DeviceMap{
		"layer1":      tensor.Accelerator(0),
		"sub.linear2": tensor.Accelerator(0),
		"sub.linear3": tensor.Accelerator(1),
		"tail":        tensor.Accelerator(1),
	}, dm)
	assert.Empty(t, report.Warnings)
}

func TestPlanNoSplitClasses(t *testing.T) {
	build := func() *module.Node {
		root := module.New("Sequential")
		root.AddChild("a", linear(t, 4, 4))
		block := module.New("Block")
		block.AddChild("b1", linear(t, 4, 4))
		block.AddChild("b2", linear(t, 4, 4))
		root.AddChild("block", block)
		return root
	}
	budget := func() *Budget {
		return NewBudget().
			Set(tensor.Accelerator(0), 170).
			Set(tensor.Accelerator(1), 100).
			Set(tensor.Accelerator(2), 400)
	}

	// Splittable: block (160) is divided and its halves land on separate
	// devices.
	dm, report := mustPlan(t, build(), PlanOptions{Budget: budget()})
	assert.Equal(t, DeviceMap{
		"a":        tensor.Accelerator(0),
		"block.b1": tensor.Accelerator(1),
		"block.b2": tensor.Accelerator(2),
	}, dm)
	assert.Empty(t, report.Warnings)

	// Atomic: the whole block moves to the first device that can hold it,
	// and the bigger reservation squeezes a off device 0 entirely.
	dm, report = mustPlan(t, build(), PlanOptions{
		Budget:         budget(),
		NoSplitClasses: map[string]struct{}{"Block": {}},
	})
	assert.Equal(t, DeviceMap{
		"a":     tensor.Accelerator(1),
		"block": tensor.Accelerator(2),
	}, dm)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, WarnInsufficientMemory, report.Warnings[0].Kind)
	assert.Equal(t, tensor.Accelerator(0), report.Warnings[0].Device)
}

func TestPlanSpillsToDisk(t *testing.T) {
	tree := testModel(t)
	dm, report := mustPlan(t, tree, PlanOptions{
		Budget: NewBudget().Set(tensor.Accelerator(0), 30),
	})

	// Nothing fits on the accelerator, so the implicit disk tier takes all
	// of it and the report says how much device 0 was short.
	assert.Equal(t, DeviceMap{"": tensor.Disk}, dm)
	require.Len(t, report.Warnings, 1)
	w := report.Warnings[0]
	assert.Equal(t, WarnInsufficientMemory, w.Kind)
	assert.Equal(t, tensor.Accelerator(0), w.Device)
	assert.Equal(t, "linear1", w.Path)
	assert.Equal(t, int64(134), w.RequiredBytes)
}

func TestPlanFallbackAllocation(t *testing.T) {
	build := func() *module.Node {
		root := module.New("Sequential")
		root.AddChild("big", linear(t, 10, 10))
		root.AddChild("small", linear(t, 4, 4))
		return root
	}
	budget := func() *Budget {
		return NewBudget().Set(tensor.Accelerator(0), 500)
	}

	// Without fallback, big (440) never fits next to the 80-byte
	// reservation for small and the whole tree spills.
	dm, report := mustPlan(t, build(), PlanOptions{Budget: budget()})
	assert.Equal(t, DeviceMap{"": tensor.Disk}, dm)
	require.Len(t, report.Warnings, 1)
	assert.Equal(t, WarnInsufficientMemory, report.Warnings[0].Kind)

	// With fallback, big is broken into tensors and its weight (400) lands
	// on the accelerator.
	dm, report = mustPlan(t, build(), PlanOptions{
		Budget:             budget(),
		FallbackAllocation: true,
	})
	assert.Equal(t, tensor.Accelerator(0), dm["big.weight"])
	assert.Equal(t, tensor.Disk, dm["big.bias"])
	assert.Equal(t, tensor.Disk, dm["small"])
	assert.Empty(t, report.Warnings)
}

func TestPlanBufferConcurrencyWarning(t *testing.T) {
	budget := func() *Budget {
		return NewBudget().
			Set(tensor.Accelerator(0), 200).
			Set(tensor.CPU, 1<<30)
	}

	dm, report := mustPlan(t, testModel(t), PlanOptions{Budget: budget()})

	// batchnorm spills to host with its 40 bytes of buffers; the first
	// device holds 64 used plus a 100-byte reservation, so the buffers
	// cannot page in at execution time.
	assert.Equal(t, tensor.CPU, dm["batchnorm"])
	require.Len(t, report.Warnings, 1)
	w := report.Warnings[0]
	assert.Equal(t, WarnBufferConcurrency, w.Kind)
	assert.Equal(t, int64(40), w.RequiredBytes)

	// Declaring buffers offloadable silences the check.
	_, report = mustPlan(t, testModel(t), PlanOptions{
		Budget:         budget(),
		OffloadBuffers: true,
	})
	assert.Empty(t, report.Warnings)
}

func TestPlanZeroCapacitySkipsDevice(t *testing.T) {
	dm, _ := mustPlan(t, testModel(t), PlanOptions{
		Budget: NewBudget().
			Set(tensor.Accelerator(0), 0).
			Set(tensor.Accelerator(1), 400),
	})
	assert.Equal(t, DeviceMap{"": tensor.Accelerator(1)}, dm)
}

func TestPlanDiskDisabled(t *testing.T) {
	_, _, err := Plan(testModel(t), PlanOptions{
		Budget: NewBudget().
			Set(tensor.Accelerator(0), 100).
			Set(tensor.Disk, 0),
	})
	require.ErrorIs(t, err, ErrInsufficientCapacity)
}

func TestPlanEmptyBudget(t *testing.T) {
	_, _, err := Plan(testModel(t), PlanOptions{Budget: NewBudget()})
	require.Error(t, err)
}
