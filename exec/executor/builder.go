package executor

import (
	"fmt"

	"github.com/sarchlab/vmcore/exec/aotcache"
	"github.com/sarchlab/vmcore/exec/hotspot"
	"github.com/sarchlab/vmcore/exec/interp"
	"github.com/sarchlab/vmcore/exec/ir"
	"github.com/sarchlab/vmcore/exec/jit"
)

// A Builder can build executor components.
type Builder struct {
	mem          interp.Memory
	compiler     jit.CompileService
	tracker      *hotspot.Tracker
	cache        *aotcache.Comp
	hotThreshold int
	async        bool
}

// MakeBuilder creates a Builder with the default hot threshold,
// synchronous compilation, and a memory-only cache.
func MakeBuilder() Builder {
	return Builder{hotThreshold: hotspot.DefaultThreshold}
}

// WithMemory sets the guest memory engines load from and store to.
func (b Builder) WithMemory(mem interp.Memory) Builder {
	b.mem = mem
	return b
}

// WithCompiler sets the compile service.
func (b Builder) WithCompiler(cs jit.CompileService) Builder {
	b.compiler = cs
	return b
}

// WithTracker sets the hotspot tracker. When not provided, one is built
// from the hot threshold.
func (b Builder) WithTracker(t *hotspot.Tracker) Builder {
	b.tracker = t
	return b
}

// WithHotThreshold sets the execution count that promotes a block.
func (b Builder) WithHotThreshold(n int) Builder {
	b.hotThreshold = n
	return b
}

// WithCache sets the artifact cache. When not provided, a memory-only
// cache with default capacity is built.
func (b Builder) WithCache(cache *aotcache.Comp) Builder {
	b.cache = cache
	return b
}

// WithAsyncCompile offloads compilation to a background goroutine, so
// the vCPU that trips the threshold keeps interpreting instead of
// waiting on the compiler.
func (b Builder) WithAsyncCompile(async bool) Builder {
	b.async = async
	return b
}

// Build returns a newly created executor. Missing memory or a missing
// compile service is a configuration mistake and panics.
func (b Builder) Build(name string) *Comp {
	if b.mem == nil {
		panic(fmt.Sprintf("%s: guest memory is not set", name))
	}
	if b.compiler == nil {
		panic(fmt.Sprintf("%s: compile service is not set", name))
	}

	c := &Comp{
		name:     name,
		mem:      b.mem,
		engine:   interp.NewEngine(b.mem),
		compiler: b.compiler,
		tracker:  b.tracker,
		cache:    b.cache,
		done:     make(chan struct{}),
	}

	if c.tracker == nil {
		c.tracker = hotspot.NewTracker(b.hotThreshold)
	}
	if c.cache == nil {
		cache, err := aotcache.MakeBuilder().Build(name + ".Cache")
		if err != nil {
			panic(fmt.Sprintf("%s: %v", name, err))
		}
		c.cache = cache
	}

	if b.async {
		c.compileCh = make(chan *ir.Block, 64)
		go c.compileWorker()
	}

	return c
}
