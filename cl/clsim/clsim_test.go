package clsim

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ananori99/vexcl/cl"
)

func TestDriverDefaults(t *testing.T) {
	driver := NewDriver()
	devices, err := driver.Devices()
	require.NoError(t, err)
	require.Len(t, devices, 2)
	for _, d := range devices {
		assert.Equal(t, "SimCo", d.Vendor())
		assert.Equal(t, "SimCo Platform", d.PlatformName())
		assert.Equal(t, cl.DeviceTypeGPU, d.Type())
		assert.Equal(t, uint64(1<<30), d.GlobalMemory())
		assert.True(t, d.DoublePrecision())
	}
	assert.NotEqual(t, devices[0].Name(), devices[1].Name())
}

func TestNewFromConfig(t *testing.T) {
	driver, err := NewFromConfig("devices=4, vendors=Acme;Beta, types=gpu;cpu, nofp64=1;3, mem=512 MiB")
	require.NoError(t, err)
	devices, err := driver.Devices()
	require.NoError(t, err)
	require.Len(t, devices, 4)

	assert.Equal(t, "Acme", devices[0].Vendor())
	assert.Equal(t, "Beta", devices[1].Vendor())
	assert.Equal(t, "Acme", devices[2].Vendor())
	assert.Equal(t, cl.DeviceTypeGPU, devices[0].Type())
	assert.Equal(t, cl.DeviceTypeCPU, devices[1].Type())
	assert.True(t, devices[0].DoublePrecision())
	assert.False(t, devices[1].DoublePrecision())
	assert.False(t, devices[3].DoublePrecision())
	assert.Equal(t, uint64(512<<20), devices[0].GlobalMemory())
}

func TestNewFromConfigErrors(t *testing.T) {
	for _, config := range []string{
		"devices=-1",
		"devices=two",
		"types=fpga",
		"nofp64=x",
		"mem=lots",
		"bogus=1",
		"noequals",
	} {
		_, err := NewFromConfig(config)
		assert.Error(t, err, "config %q", config)
	}
}

func TestContextRejectsMixedPlatforms(t *testing.T) {
	driver := NewDriver(
		DeviceSpec{Vendor: "Acme"},
		DeviceSpec{Vendor: "Beta"},
	)
	devices, err := driver.Devices()
	require.NoError(t, err)
	_, err = driver.NewContext(devices)
	require.ErrorContains(t, err, "cannot share a context")

	// Each platform on its own is fine.
	ctx, err := driver.NewContext(devices[:1])
	require.NoError(t, err)
	require.NoError(t, ctx.Release())
}

func TestContextRejectsForeignDevice(t *testing.T) {
	a := NewDriver(DeviceSpec{})
	b := NewDriver(DeviceSpec{})
	devices, err := b.Devices()
	require.NoError(t, err)
	_, err = a.NewContext(devices)
	require.ErrorContains(t, err, "does not belong")
}

func TestAllocBufferMemoryLimit(t *testing.T) {
	driver := NewDriver(DeviceSpec{Memory: 1024})
	devices, err := driver.Devices()
	require.NoError(t, err)
	ctx, err := driver.NewContext(devices)
	require.NoError(t, err)
	defer func() { _ = ctx.Release() }()

	buf, err := ctx.AllocBuffer(1000, cl.ReadWrite)
	require.NoError(t, err)
	_, err = ctx.AllocBuffer(100, cl.ReadWrite)
	require.ErrorContains(t, err, "exceeds device memory")

	// Releasing returns the memory to the budget.
	require.NoError(t, buf.Release())
	buf2, err := ctx.AllocBuffer(1000, cl.ReadWrite)
	require.NoError(t, err)
	require.NoError(t, buf2.Release())

	_, err = ctx.AllocBuffer(-1, cl.ReadWrite)
	require.Error(t, err)
}

func TestCompileRejectsFP64WithoutSupport(t *testing.T) {
	driver := NewDriver(DeviceSpec{NoFP64: true})
	devices, err := driver.Devices()
	require.NoError(t, err)
	ctx, err := driver.NewContext(devices)
	require.NoError(t, err)
	defer func() { _ = ctx.Release() }()

	const source = `
kernel void scale(ulong n, global double *x)
{
    ulong i = get_global_id(0);
    if (i < n) {
        x[i] = x[i] * 2.0;
    }
}
`
	_, err = ctx.CompileKernel(source, "scale")
	require.Error(t, err)
	var cerr *cl.CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Diagnostic, "cl_khr_fp64")

	// The float version compiles on the same device.
	_, err = ctx.CompileKernel(`
kernel void scale(ulong n, global float *x)
{
    ulong i = get_global_id(0);
    if (i < n) {
        x[i] = x[i] * 2.0f;
    }
}
`, "scale")
	require.NoError(t, err)
}

func TestCompileUnknownEntryPoint(t *testing.T) {
	driver := NewDriver(DeviceSpec{})
	devices, err := driver.Devices()
	require.NoError(t, err)
	ctx, err := driver.NewContext(devices)
	require.NoError(t, err)
	defer func() { _ = ctx.Release() }()

	_, err = ctx.CompileKernel("kernel void a(ulong n) { }", "b")
	var cerr *cl.CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Contains(t, cerr.Diagnostic, "entry point")
}

func TestQueueOrdering(t *testing.T) {
	driver := NewDriver(DeviceSpec{})
	devices, err := driver.Devices()
	require.NoError(t, err)
	ctx, err := driver.NewContext(devices)
	require.NoError(t, err)
	defer func() { _ = ctx.Release() }()
	q, err := ctx.NewQueue(devices[0])
	require.NoError(t, err)
	defer func() { _ = q.Release() }()

	buf, err := ctx.AllocBuffer(4, cl.ReadWrite)
	require.NoError(t, err)
	defer func() { _ = buf.Release() }()

	// Write then read without waiting on the write: in-order execution
	// guarantees the read observes it.
	_, err = q.EnqueueWrite(buf, 0, []byte{1, 2, 3, 4})
	require.NoError(t, err)
	dst := make([]byte, 4)
	ev, err := q.EnqueueRead(buf, 0, dst)
	require.NoError(t, err)
	require.NoError(t, ev.Wait())
	assert.Equal(t, []byte{1, 2, 3, 4}, dst)

	require.NoError(t, q.Finish())
}

func TestEnqueueCopy(t *testing.T) {
	driver := NewDriver(DeviceSpec{})
	devices, err := driver.Devices()
	require.NoError(t, err)
	ctx, err := driver.NewContext(devices)
	require.NoError(t, err)
	defer func() { _ = ctx.Release() }()
	q, err := ctx.NewQueue(devices[0])
	require.NoError(t, err)
	defer func() { _ = q.Release() }()

	src, err := ctx.AllocBuffer(8, cl.ReadWrite)
	require.NoError(t, err)
	dst, err := ctx.AllocBuffer(8, cl.ReadWrite)
	require.NoError(t, err)

	_, err = q.EnqueueWrite(src, 0, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	require.NoError(t, err)
	_, err = q.EnqueueCopy(src, 2, dst, 4, 3)
	require.NoError(t, err)
	out := make([]byte, 8)
	ev, err := q.EnqueueRead(dst, 0, out)
	require.NoError(t, err)
	require.NoError(t, ev.Wait())
	assert.Equal(t, []byte{3, 4, 5}, out[4:7])

	// Out-of-range copies fail at execution.
	ev, err = q.EnqueueCopy(src, 6, dst, 0, 4)
	require.NoError(t, err)
	require.Error(t, ev.Wait())
}

func TestQueueReleasedRejectsWork(t *testing.T) {
	driver := NewDriver(DeviceSpec{})
	devices, err := driver.Devices()
	require.NoError(t, err)
	ctx, err := driver.NewContext(devices)
	require.NoError(t, err)
	defer func() { _ = ctx.Release() }()
	q, err := ctx.NewQueue(devices[0])
	require.NoError(t, err)
	buf, err := ctx.AllocBuffer(4, cl.ReadWrite)
	require.NoError(t, err)

	require.NoError(t, q.Release())
	_, err = q.EnqueueRead(buf, 0, make([]byte, 4))
	require.Error(t, err)
}
