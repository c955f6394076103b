package walker

import (
	"github.com/sarchlab/vmcore/mem/phys"
	"github.com/sarchlab/vmcore/mem/vm"
)

// x86-64 page-table entry bits.
const (
	x86Present   = 1 << 0
	x86Writable  = 1 << 1
	x86User      = 1 << 2
	x86PageSize  = 1 << 7
	x86Global    = 1 << 8
	x86NoExecute = 1 << 63

	x86AddrMask = 0x000F_FFFF_FFFF_F000
)

// X86_64 walks the 4-level x86-64 long-mode page tables
// (PML4 -> PDPT -> PD -> PT).
type X86_64 struct {
	walkCounter
	mem  *phys.Memory
	root vm.GuestPhysAddr
}

// NewX86_64 creates an x86-64 walker reading page tables from mem.
func NewX86_64(mem *phys.Memory) *X86_64 {
	return &X86_64{mem: mem}
}

// Mode returns vm.PagingModeX86_64.
func (w *X86_64) Mode() vm.PagingMode {
	return vm.PagingModeX86_64
}

// SetRoot sets the CR3 analog.
func (w *X86_64) SetRoot(root vm.GuestPhysAddr) {
	w.root = root
}

// Root returns the CR3 analog.
func (w *X86_64) Root() vm.GuestPhysAddr {
	return w.root
}

// Walk descends PML4, PDPT, PD, PT. Writable and no-execute accumulate
// across levels: a translation is writable only if every level allows it,
// and non-executable if any level forbids execution. PS at the PDPT level
// maps a 1 GiB page and PS at the PD level a 2 MiB page; PS at the PML4
// level is reserved.
func (w *X86_64) Walk(
	addr vm.GuestAddr,
	access vm.AccessType,
) (Result, error) {
	w.count.Add(1)

	tableBase := uint64(w.root) & x86AddrMask
	writable := true
	noExec := false

	for level := 3; level >= 0; level-- {
		idx := (uint64(addr) >> (12 + 9*level)) & 0x1FF
		pteAddr := vm.GuestPhysAddr(tableBase + idx*8)

		entry, err := w.mem.ReadUint64(pteAddr)
		if err != nil {
			return Result{}, vm.NewFault(vm.FaultPage, addr, access)
		}

		if entry&x86Present == 0 {
			return Result{}, vm.NewFault(vm.FaultPage, addr, access)
		}

		writable = writable && entry&x86Writable != 0
		noExec = noExec || entry&x86NoExecute != 0

		leaf := level == 0
		if entry&x86PageSize != 0 {
			if level == 3 {
				// PS is reserved in a PML4 entry.
				return Result{}, vm.NewFault(
					vm.FaultMalformedEntry, addr, access)
			}
			if level > 0 {
				leaf = true
			}
		}

		if !leaf {
			tableBase = entry & x86AddrMask
			continue
		}

		pageSize := uint64(1) << (12 + 9*level)
		base := entry & x86AddrMask
		if base&(pageSize-1) != 0 {
			return Result{}, vm.NewFault(vm.FaultMalformedEntry, addr, access)
		}

		perm := vm.PermRead
		if writable {
			perm |= vm.PermWrite
		}
		if !noExec {
			perm |= vm.PermExec
		}
		if entry&x86User != 0 {
			perm |= vm.PermUser
		}

		if !perm.Allows(access) {
			return Result{}, vm.NewFault(vm.FaultPermission, addr, access)
		}

		offset := uint64(addr) & (pageSize - 1)

		return Result{
			PAddr:    vm.GuestPhysAddr(base | offset),
			PageSize: pageSize,
			Perm:     perm,
			Global:   entry&x86Global != 0,
		}, nil
	}

	return Result{}, vm.NewFault(vm.FaultPage, addr, access)
}
