package cl_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ananori99/vexcl/cl"
	"github.com/ananori99/vexcl/cl/clsim"
)

func TestNewWithConfig(t *testing.T) {
	driver, err := cl.NewWithConfig("sim:devices=3,vendors=Acme")
	require.NoError(t, err)
	assert.Equal(t, "sim", driver.Name())
	devices, err := driver.Devices()
	require.NoError(t, err)
	require.Len(t, devices, 3)
	assert.Equal(t, "Acme", devices[0].Vendor())
}

func TestNewWithConfigNameOnly(t *testing.T) {
	driver, err := cl.NewWithConfig("sim")
	require.NoError(t, err)
	devices, err := driver.Devices()
	require.NoError(t, err)
	assert.Len(t, devices, 2) // driver default
}

func TestNewWithConfigUnknownDriver(t *testing.T) {
	_, err := cl.NewWithConfig("opencl:platform=0")
	require.ErrorContains(t, err, `"opencl"`)
}

func TestNewHonorsEnvironment(t *testing.T) {
	t.Setenv(cl.VEXCL_DRIVER, "sim:devices=4")
	driver, err := cl.New()
	require.NoError(t, err)
	devices, err := driver.Devices()
	require.NoError(t, err)
	assert.Len(t, devices, 4)
}

func TestCompileErrorCarriesSource(t *testing.T) {
	driver := clsim.NewDriver(clsim.DeviceSpec{})
	devices, err := driver.Devices()
	require.NoError(t, err)
	ctx, err := driver.NewContext(devices)
	require.NoError(t, err)
	defer func() { _ = ctx.Release() }()

	const source = "kernel void broken(ulong n global float *x) { }"
	_, err = ctx.CompileKernel(source, "broken")
	require.Error(t, err)
	var cerr *cl.CompileError
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, "broken", cerr.KernelName)
	assert.Contains(t, err.Error(), source)
}

func TestWaitAll(t *testing.T) {
	require.NoError(t, cl.WaitAll())

	driver := clsim.NewDriver(clsim.DeviceSpec{})
	devices, err := driver.Devices()
	require.NoError(t, err)
	ctx, err := driver.NewContext(devices)
	require.NoError(t, err)
	defer func() { _ = ctx.Release() }()
	q, err := ctx.NewQueue(devices[0])
	require.NoError(t, err)
	defer func() { _ = q.Release() }()
	buf, err := ctx.AllocBuffer(16, cl.ReadWrite)
	require.NoError(t, err)

	good, err := q.EnqueueWrite(buf, 0, make([]byte, 16))
	require.NoError(t, err)
	bad, err := q.EnqueueWrite(buf, 8, make([]byte, 16)) // out of bounds
	require.NoError(t, err)
	require.Error(t, cl.WaitAll(good, bad))
}
