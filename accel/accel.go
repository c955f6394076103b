// Package accel defines the contract hardware-acceleration backends
// (KVM, HVF, WHPX) plug into. The core ships no concrete backend; it
// ships the interface and the memory-mapping rules a backend must obey.
package accel

import (
	"fmt"
	"sort"
	"sync"

	"github.com/sarchlab/vmcore/mem/phys"
	"github.com/sarchlab/vmcore/mem/vm"
)

// ExitReason reports why an accelerated run returned to the host.
type ExitReason int

// The exit reasons.
const (
	ExitUnknown ExitReason = iota
	ExitHalt
	ExitMMIO
	ExitIO
	ExitInterrupted
	ExitFailed
)

func (r ExitReason) String() string {
	switch r {
	case ExitHalt:
		return "halt"
	case ExitMMIO:
		return "mmio"
	case ExitIO:
		return "io"
	case ExitInterrupted:
		return "interrupted"
	case ExitFailed:
		return "failed"
	}
	return "unknown"
}

// An Accel runs guest code under hardware acceleration. The physical
// memory it maps must be the same phys.Memory the MMU uses; a backend
// keeping a private copy would split the guest's view of RAM.
type Accel interface {
	Name() string
	MapMemory(base vm.GuestPhysAddr, size uint64) error
	Run() (ExitReason, error)
}

// A Registry holds the accelerator backends available to one VM.
type Registry struct {
	mu       sync.RWMutex
	backends map[string]Accel
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{backends: make(map[string]Accel)}
}

// Register adds a backend. Registering two backends under the same name
// is a wiring mistake and panics.
func (r *Registry) Register(a Accel) {
	r.mu.Lock()
	defer r.mu.Unlock()

	name := a.Name()
	if _, ok := r.backends[name]; ok {
		panic(fmt.Sprintf("accelerator %s registered twice", name))
	}
	r.backends[name] = a
}

// Get returns the backend registered under name.
func (r *Registry) Get(name string) (Accel, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.backends[name]
	return a, ok
}

// Names returns the registered backend names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.backends))
	for name := range r.backends {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ValidateMapping checks that a region a backend wants to map lies
// entirely inside the shared physical memory.
func ValidateMapping(mem *phys.Memory, base vm.GuestPhysAddr, size uint64) error {
	if size == 0 {
		return fmt.Errorf("mapping at %#x has zero size", base)
	}
	end := uint64(base) + size
	if end < uint64(base) || end > mem.Capacity() {
		return fmt.Errorf(
			"mapping [%#x, %#x) exceeds physical memory of %d bytes",
			base, end, mem.Capacity())
	}
	return nil
}
