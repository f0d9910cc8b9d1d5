package clsim

import (
	"slices"
	"sync"
	"sync/atomic"

	"github.com/ananori99/vexcl/cl"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// NewContext implements cl.Driver.
func (d *Driver) NewContext(devices []cl.Device) (cl.Context, error) {
	if len(devices) == 0 {
		return nil, errors.New("clsim: a context needs at least one device")
	}
	platform := devices[0].PlatformName()
	owned := make([]*device, len(devices))
	for i, dev := range devices {
		simDev, ok := dev.(*device)
		if !ok || !slices.Contains(d.devices, simDev) {
			return nil, errors.Errorf("clsim: device %q does not belong to this driver", dev.Name())
		}
		if dev.PlatformName() != platform {
			return nil, errors.Errorf("clsim: devices %q (platform %q) and %q (platform %q) cannot share a context",
				devices[0].Name(), platform, dev.Name(), dev.PlatformName())
		}
		owned[i] = simDev
	}
	ctx := &Context{
		id:      uuid.NewString(),
		driver:  d,
		devices: owned,
	}
	klog.V(1).Infof("clsim: created context %s over %d device(s) of platform %q", ctx.id, len(owned), platform)
	return ctx, nil
}

// Context implements cl.Context for the simulated driver.
type Context struct {
	id      string
	driver  *Driver
	devices []*device

	mu        sync.Mutex
	allocated int64
	released  bool

	compileCount atomic.Int64
}

var _ cl.Context = (*Context)(nil)

// ID implements cl.Context.
func (c *Context) ID() string { return c.id }

// Devices implements cl.Context.
func (c *Context) Devices() []cl.Device {
	out := make([]cl.Device, len(c.devices))
	for i, dev := range c.devices {
		out[i] = dev
	}
	return out
}

// CompileCount returns how many kernel compilations this context performed.
// Used by tests to verify compilation caching.
func (c *Context) CompileCount() int {
	return int(c.compileCount.Load())
}

// AllocBuffer implements cl.Context.
func (c *Context) AllocBuffer(size int, mode cl.AccessMode) (cl.Buffer, error) {
	if size < 0 {
		return nil, errors.Errorf("clsim: cannot allocate buffer of negative size %d", size)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.released {
		return nil, errors.New("clsim: context already released")
	}
	// Per-device memory is not tracked; the context total stands in for it.
	limit := int64(c.devices[0].GlobalMemory())
	if c.allocated+int64(size) > limit {
		return nil, errors.Errorf("clsim: allocation of %s exceeds device memory (%s of %s in use)",
			humanize.IBytes(uint64(size)), humanize.IBytes(uint64(c.allocated)), humanize.IBytes(uint64(limit)))
	}
	c.allocated += int64(size)
	return &buffer{ctx: c, data: make([]byte, size), mode: mode}, nil
}

// CompileKernel implements cl.Context. The source is parsed into an AST that
// the queues later interpret per work-item.
func (c *Context) CompileKernel(source, kernelName string) (cl.Kernel, error) {
	c.compileCount.Add(1)
	prog, err := parseProgram(source)
	if err != nil {
		return nil, &cl.CompileError{KernelName: kernelName, Diagnostic: err.Error(), Source: source}
	}
	fn := prog.kernel(kernelName)
	if fn == nil {
		return nil, &cl.CompileError{KernelName: kernelName, Diagnostic: "kernel entry point not found in program", Source: source}
	}
	if fn.usesFP64() {
		for _, dev := range c.devices {
			if !dev.DoublePrecision() {
				return nil, &cl.CompileError{
					KernelName: kernelName,
					Diagnostic: "kernel uses double precision but device " + dev.Name() + " does not support cl_khr_fp64",
					Source:     source,
				}
			}
		}
	}
	klog.V(1).Infof("clsim: context %s compiled kernel %q", c.id, kernelName)
	return &kernel{ctx: c, fn: fn}, nil
}

// NewQueue implements cl.Context.
func (c *Context) NewQueue(dev cl.Device) (cl.Queue, error) {
	simDev, ok := dev.(*device)
	if !ok || !slices.Contains(c.devices, simDev) {
		return nil, errors.Errorf("clsim: device %q is not part of this context", dev.Name())
	}
	q := &queue{ctx: c, dev: simDev, tasks: make(chan *task, 64)}
	go q.run()
	return q, nil
}

// Release implements cl.Context.
func (c *Context) Release() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.released = true
	c.allocated = 0
	return nil
}

// buffer implements cl.Buffer as plain host memory.
type buffer struct {
	ctx  *Context
	mode cl.AccessMode

	mu       sync.Mutex
	data     []byte
	released bool
}

var _ cl.Buffer = (*buffer)(nil)

func (b *buffer) Size() int { return len(b.data) }

func (b *buffer) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil
	}
	b.released = true
	b.ctx.mu.Lock()
	b.ctx.allocated -= int64(len(b.data))
	b.ctx.mu.Unlock()
	b.data = nil
	return nil
}

func (b *buffer) bytes() ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.released {
		return nil, errors.New("clsim: buffer already released")
	}
	return b.data, nil
}

// kernel implements cl.Kernel.
type kernel struct {
	ctx *Context
	fn  *kernelFunc
}

var _ cl.Kernel = (*kernel)(nil)

func (k *kernel) Name() string { return k.fn.name }
