// Package executor selects an execution engine per block: interpret
// while a block is cold, compile when it turns hot, and run the cached
// artifact afterwards.
package executor

import (
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
	"github.com/sarchlab/vmcore/exec/aotcache"
	"github.com/sarchlab/vmcore/exec/hotspot"
	"github.com/sarchlab/vmcore/exec/interp"
	"github.com/sarchlab/vmcore/exec/ir"
	"github.com/sarchlab/vmcore/exec/jit"
	"github.com/sarchlab/vmcore/mem/vm"
)

// A FetchFunc decodes the block starting at addr. The executor calls it
// once per Execute; front ends supply it.
type FetchFunc func(addr vm.GuestAddr) (*ir.Block, error)

// A Context is the per-vCPU execution state. Contexts must not be shared
// between concurrent Execute calls.
type Context struct {
	ID   string
	Regs ir.Registers
}

// NewContext creates a context with a fresh vCPU id.
func NewContext() *Context {
	return &Context{ID: xid.New().String()}
}

// A Comp is the unified executor. Execute may be called concurrently
// from any number of vCPUs as long as each call owns its Context.
type Comp struct {
	name     string
	mem      interp.Memory
	engine   *interp.Engine
	compiler jit.CompileService
	tracker  *hotspot.Tracker
	cache    *aotcache.Comp

	compileCh chan *ir.Block
	closeOnce sync.Once
	done      chan struct{}

	interpreted  atomic.Uint64
	compiledRuns atomic.Uint64
	compiles     atomic.Uint64
	compileFails atomic.Uint64
	cacheLoads   atomic.Uint64
}

// Execute runs one block: it fetches the block at addr, records its
// heat, picks an engine, and returns the address of the next block.
//
// A block whose cached artifact has disappeared is demoted and
// interpreted; a block whose compilation fails stays on the interpreter
// for good. Guest faults from either engine are returned to the caller
// with the registers reflecting the operations that completed.
func (c *Comp) Execute(
	ctx *Context,
	addr vm.GuestAddr,
	fetch FetchFunc,
) (vm.GuestAddr, error) {
	block, err := fetch(addr)
	if err != nil {
		return 0, err
	}

	state, becameHot := c.tracker.Record(addr)

	if becameHot && c.tracker.TryBeginCompile(addr) {
		c.requestCompile(block)
	}

	if state == hotspot.StateCompiled {
		if next, ok, err := c.runCompiled(ctx, block); ok {
			return next, err
		}
		c.tracker.Demote(addr)
	}

	c.interpreted.Add(1)
	return c.engine.Run(&ctx.Regs, block)
}

// runCompiled looks the block's artifact up by identity, so an artifact
// compiled from an older version of the bytes at addr can never be run
// after the guest rewrote them. The lookup hands back an owned
// reference, so an invalidation landing mid-run cannot free the code.
func (c *Comp) runCompiled(
	ctx *Context,
	block *ir.Block,
) (vm.GuestAddr, bool, error) {
	cb, ok := c.cache.Lookup(block.ID())
	if !ok {
		return 0, false, nil
	}
	defer cb.Release()

	c.compiledRuns.Add(1)
	next, err := cb.Run(&ctx.Regs, c.mem)
	return next, true, err
}

// requestCompile compiles the block, inline or on the background worker.
// The caller must have won TryBeginCompile.
func (c *Comp) requestCompile(block *ir.Block) {
	if c.compileCh != nil {
		select {
		case c.compileCh <- block:
		case <-c.done:
			c.tracker.EndCompile(block.Start, false)
		}
		return
	}
	c.compile(block)
}

func (c *Comp) compile(block *ir.Block) {
	id := block.ID()

	// A persisted artifact from an earlier run makes compilation
	// unnecessary.
	if cb, ok := c.cache.Lookup(id); ok {
		cb.Release()
		c.cacheLoads.Add(1)
		c.tracker.EndCompile(block.Start, true)
		return
	}

	cb, err := c.compiler.Compile(block)
	if err != nil {
		c.compileFails.Add(1)
		c.tracker.EndCompile(block.Start, false)
		return
	}

	c.cache.Insert(cb)
	c.compiles.Add(1)
	c.tracker.EndCompile(block.Start, true)
}

func (c *Comp) compileWorker() {
	for {
		select {
		case block := <-c.compileCh:
			c.compile(block)
		case <-c.done:
			return
		}
	}
}

// InvalidateBlock drops every trace of the block at id: its cached
// artifact in both tiers and its heat. Front ends call it when the
// guest writes to a page holding translated code.
func (c *Comp) InvalidateBlock(id ir.BlockID) {
	c.cache.Invalidate(id)
	c.tracker.Invalidate(id.Start)
}

// Tracker returns the hotspot tracker.
func (c *Comp) Tracker() *hotspot.Tracker {
	return c.tracker
}

// Cache returns the artifact cache.
func (c *Comp) Cache() *aotcache.Comp {
	return c.cache
}

// Close stops the background compile worker, if any. Blocks whose
// compile requests were still queued stay interpretable.
func (c *Comp) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
	})
}

// Name returns the component name.
func (c *Comp) Name() string {
	return c.name
}

// Stats is a point-in-time snapshot of the executor counters.
type Stats struct {
	Interpreted  uint64
	CompiledRuns uint64
	Compiles     uint64
	CompileFails uint64
	CacheLoads   uint64
}

// Stats returns a snapshot of the counters.
func (c *Comp) Stats() Stats {
	return Stats{
		Interpreted:  c.interpreted.Load(),
		CompiledRuns: c.compiledRuns.Load(),
		Compiles:     c.compiles.Load(),
		CompileFails: c.compileFails.Load(),
		CacheLoads:   c.cacheLoads.Load(),
	}
}
