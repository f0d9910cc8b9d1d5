package vexcl

import (
	"sync"

	"github.com/ananori99/vexcl/cl"
	"k8s.io/klog/v2"
)

// kernelCache holds the compiled kernels of one context, keyed by structural
// signature. It is created with the context (by NewQueueSet) and dropped
// with it, never as process-global state, and entries are never evicted
// individually.
//
// Concurrent evaluations may race on a new signature; the write lock makes
// lookup-and-insert atomic so the kernel compiles exactly once, while hits
// only take the read lock and don't serialize unrelated lookups.
type kernelCache struct {
	ctx cl.Context

	mu      sync.RWMutex
	kernels map[uint64]cl.Kernel
}

func newKernelCache(ctx cl.Context) *kernelCache {
	return &kernelCache{ctx: ctx, kernels: make(map[uint64]cl.Kernel)}
}

// get returns the kernel for the signature, compiling it on first use.
// render produces the kernel source and entry point name; it is only called
// on a miss. Compilation failure is returned as-is -- a *cl.CompileError
// carrying the generated source -- and is never retried with different
// source.
func (c *kernelCache) get(sig uint64, render func() (source, name string)) (cl.Kernel, error) {
	c.mu.RLock()
	k := c.kernels[sig]
	c.mu.RUnlock()
	if k != nil {
		return k, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if k := c.kernels[sig]; k != nil {
		return k, nil
	}
	source, name := render()
	k, err := c.ctx.CompileKernel(source, name)
	if err != nil {
		return nil, err
	}
	c.kernels[sig] = k
	klog.V(1).Infof("vexcl: context %s compiled kernel %s (%d cached)", c.ctx.ID(), name, len(c.kernels))
	return k, nil
}
