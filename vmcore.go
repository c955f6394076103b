// Package vmcore assembles the memory system and the unified executor
// into a virtual machine execution core.
package vmcore

import (
	"fmt"

	"github.com/sarchlab/vmcore/accel"
	"github.com/sarchlab/vmcore/exec/aotcache"
	"github.com/sarchlab/vmcore/exec/executor"
	"github.com/sarchlab/vmcore/exec/jit"
	"github.com/sarchlab/vmcore/mem/phys"
	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/mmu"
	"github.com/sarchlab/vmcore/mem/vm/walker"
)

// A VM bundles the components of one guest.
type VM struct {
	Memory   *phys.Memory
	MMU      *mmu.Comp
	Executor *executor.Comp
	Cache    *aotcache.Comp
	Accels   *accel.Registry
}

// New builds a VM from cfg, using compiler as the compile service.
// Configuration mistakes fail construction; nothing of a half-built VM
// leaks.
func New(name string, cfg Config, compiler jit.CompileService) (*VM, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}

	memory := phys.NewMemory(cfg.MemorySize)

	m := mmu.MakeBuilder().
		WithMemory(memory).
		WithWalkers(
			walker.NewBare(cfg.MemorySize),
			walker.NewSv39(memory),
			walker.NewSv48(memory),
			walker.NewX86_64(memory),
			walker.NewArm64(memory),
		).
		WithPagingMode(cfg.PagingMode).
		Build(name + ".MMU")

	cacheBuilder := aotcache.MakeBuilder()
	if cfg.MemTierCap > 0 {
		cacheBuilder = cacheBuilder.WithMemCapacity(cfg.MemTierCap)
	}
	if cfg.CacheDir != "" {
		cacheBuilder = cacheBuilder.
			WithDir(cfg.CacheDir).
			WithDiskCapacity(cfg.DiskTierCap)
	}
	cache, err := cacheBuilder.Build(name + ".Cache")
	if err != nil {
		return nil, err
	}

	exe := executor.MakeBuilder().
		WithMemory(m).
		WithCompiler(compiler).
		WithHotThreshold(cfg.HotThreshold).
		WithCache(cache).
		WithAsyncCompile(cfg.AsyncCompile).
		Build(name + ".Executor")

	return &VM{
		Memory:   memory,
		MMU:      m,
		Executor: exe,
		Cache:    cache,
		Accels:   accel.NewRegistry(),
	}, nil
}

// LoadImage copies a guest image into physical memory at base.
func (v *VM) LoadImage(base vm.GuestPhysAddr, image []byte) error {
	return v.Memory.Write(base, image)
}

// Close releases background resources.
func (v *VM) Close() {
	v.Executor.Close()
}
