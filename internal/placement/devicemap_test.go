package placement

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/born-ml/dispatch/internal/tensor"
)

func TestDeviceFor(t *testing.T) {
	dm := DeviceMap{
		"":          tensor.CPU,
		"a":         tensor.Accelerator(0),
		"a.b.c":     tensor.Disk,
		"a.b.c.sub": tensor.Accelerator(1),
	}

	cases := []struct {
		path string
		want tensor.Device
	}{
		{"a", tensor.Accelerator(0)},
		{"a.x", tensor.Accelerator(0)},
		{"a.b", tensor.Accelerator(0)},
		{"a.b.c.weight", tensor.Disk},
		{"a.b.c.sub.weight", tensor.Accelerator(1)},
		{"other.weight", tensor.CPU},
	}
	for _, tc := range cases {
		d, ok := dm.DeviceFor(tc.path)
		require.True(t, ok, tc.path)
		assert.Equal(t, tc.want, d, tc.path)
	}

	_, ok := DeviceMap{"a": tensor.CPU}.DeviceFor("b.weight")
	assert.False(t, ok)
}

func TestClean(t *testing.T) {
	gpu0 := tensor.Accelerator(0)
	gpu1 := tensor.Accelerator(1)

	cases := []struct {
		name string
		in   DeviceMap
		want DeviceMap
	}{
		{
			name: "all uniform collapses to root",
			in:   DeviceMap{"a": gpu0, "b": gpu0, "c": gpu0},
			want: DeviceMap{"": gpu0},
		},
		{
			name: "uniform subtree collapses to parent",
			in:   DeviceMap{"a.x": gpu0, "a.y": gpu0, "b": gpu1},
			want: DeviceMap{"a": gpu0, "b": gpu1},
		},
		{
			name: "mixed subtree stays",
			in:   DeviceMap{"a.b": gpu0, "a.c": gpu1},
			want: DeviceMap{"a.b": gpu0, "a.c": gpu1},
		},
		{
			name: "nested collapse",
			in:   DeviceMap{"a.b.x": gpu0, "a.b.y": gpu0, "a.c": gpu1},
			want: DeviceMap{"a.b": gpu0, "a.c": gpu1},
		},
		{
			name: "entry absorbs redundant descendant",
			in:   DeviceMap{"a": gpu0, "a.x": gpu0, "b": gpu1},
			want: DeviceMap{"a": gpu0, "b": gpu1},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got := Clean(tc.in)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestCleanDoesNotMutateInput(t *testing.T) {
	in := DeviceMap{"a": tensor.CPU, "b": tensor.CPU}
	_ = Clean(in)
	assert.Len(t, in, 2)
}

func TestCleanIdempotent(t *testing.T) {
	in := DeviceMap{
		"a.b.x": tensor.Accelerator(0),
		"a.b.y": tensor.Accelerator(0),
		"a.c":   tensor.CPU,
		"d":     tensor.Disk,
	}
	once := Clean(in)
	assert.Equal(t, once, Clean(once))
}

func TestCheck(t *testing.T) {
	tree := testModel(t)

	assert.NoError(t, Check(tree, DeviceMap{"": tensor.CPU}))
	assert.NoError(t, Check(tree, DeviceMap{
		"linear1":   tensor.Accelerator(0),
		"batchnorm": tensor.CPU,
		"linear2":   tensor.Disk,
	}))
	assert.NoError(t, Check(tree, DeviceMap{
		"":               tensor.CPU,
		"linear1.weight": tensor.Disk,
	}))
}

func TestCheckUnknownKey(t *testing.T) {
	err := Check(testModel(t), DeviceMap{"": tensor.CPU, "linear9": tensor.Disk})
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "linear9", verr.Path)
}

func TestCheckUncoveredTensor(t *testing.T) {
	err := Check(testModel(t), DeviceMap{"linear1": tensor.CPU, "linear2": tensor.CPU})
	require.Error(t, err)

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Contains(t, verr.Path, "batchnorm")
}
