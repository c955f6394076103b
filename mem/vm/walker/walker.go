// Package walker provides page-table walkers, one per guest paging scheme.
//
// A walker translates a guest virtual address into a guest physical address
// by reading page tables from physical memory. Walkers never mutate page
// tables: accessed/dirty bookkeeping is left to the guest. Raw page-table
// entries are never cached; only the distilled result is handed back for
// the TLB to keep.
package walker

import (
	"sync/atomic"

	"github.com/sarchlab/vmcore/mem/vm"
)

// A Result is the outcome of a successful walk.
type Result struct {
	// PAddr is the translated physical address for the queried virtual
	// address, offset included.
	PAddr vm.GuestPhysAddr

	// PageSize is the size of the page the translation resolved in. A
	// superpage leaf terminates the walk early and reports its full size.
	PageSize uint64

	Perm   vm.Perm
	Global bool
}

// A Walker walks guest page tables for one paging scheme.
type Walker interface {
	// Mode returns the paging mode this walker implements.
	Mode() vm.PagingMode

	// SetRoot sets the table-base address (satp, CR3, or TTBR analog).
	SetRoot(root vm.GuestPhysAddr)

	// Root returns the current table-base address.
	Root() vm.GuestPhysAddr

	// Walk resolves addr for the given access type. On failure it returns
	// a *vm.Fault: not-present entries produce a page fault, insufficient
	// permissions a permission fault, and reserved-bit or level-mismatch
	// entries a malformed-entry fault.
	Walk(addr vm.GuestAddr, access vm.AccessType) (Result, error)

	// WalkCount returns the number of Walk invocations so far.
	WalkCount() uint64
}

// walkCounter counts Walk invocations. Embedded by every walker so that
// callers can verify that a flushed translation is re-walked.
type walkCounter struct {
	count atomic.Uint64
}

func (c *walkCounter) WalkCount() uint64 {
	return c.count.Load()
}
