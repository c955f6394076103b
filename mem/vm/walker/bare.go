package walker

import (
	"github.com/sarchlab/vmcore/mem/vm"
)

// A Bare walker maps virtual addresses to physical addresses one to one.
// It is used for early-boot and flat-memory configurations where paging is
// disabled. Addresses beyond the backing capacity fault rather than wrap.
type Bare struct {
	walkCounter
	capacity uint64
}

// NewBare creates an identity walker over a physical space of the given
// capacity.
func NewBare(capacity uint64) *Bare {
	return &Bare{capacity: capacity}
}

// Mode returns vm.PagingModeBare.
func (w *Bare) Mode() vm.PagingMode {
	return vm.PagingModeBare
}

// SetRoot is a no-op: an identity mapping has no page table.
func (w *Bare) SetRoot(root vm.GuestPhysAddr) {}

// Root always returns 0.
func (w *Bare) Root() vm.GuestPhysAddr {
	return 0
}

// Walk returns addr unchanged with full permissions.
func (w *Bare) Walk(
	addr vm.GuestAddr,
	access vm.AccessType,
) (Result, error) {
	w.count.Add(1)

	if uint64(addr) >= w.capacity {
		return Result{}, vm.NewFault(vm.FaultPage, addr, access)
	}

	return Result{
		PAddr:    vm.GuestPhysAddr(addr),
		PageSize: 4096,
		Perm:     vm.PermRead | vm.PermWrite | vm.PermExec,
	}, nil
}
