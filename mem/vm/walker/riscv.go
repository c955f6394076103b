package walker

import (
	"github.com/sarchlab/vmcore/mem/phys"
	"github.com/sarchlab/vmcore/mem/vm"
)

// RISC-V page-table entry bits.
const (
	rvValid  = 1 << 0
	rvRead   = 1 << 1
	rvWrite  = 1 << 2
	rvExec   = 1 << 3
	rvUser   = 1 << 4
	rvGlobal = 1 << 5

	rvPPNShift = 10
	rvPPNMask  = 0xFFF_FFFF_FFFF
)

// riscv walks Sv39 (3-level) and Sv48 (4-level) page tables. The two
// schemes share the entry layout and differ only in depth and virtual
// address width.
type riscv struct {
	walkCounter
	mem    *phys.Memory
	mode   vm.PagingMode
	levels int
	root   vm.GuestPhysAddr
}

// NewSv39 creates a 3-level RISC-V Sv39 walker reading page tables from
// mem.
func NewSv39(mem *phys.Memory) Walker {
	return &riscv{mem: mem, mode: vm.PagingModeSv39, levels: 3}
}

// NewSv48 creates a 4-level RISC-V Sv48 walker reading page tables from
// mem.
func NewSv48(mem *phys.Memory) Walker {
	return &riscv{mem: mem, mode: vm.PagingModeSv48, levels: 4}
}

func (w *riscv) Mode() vm.PagingMode {
	return w.mode
}

func (w *riscv) SetRoot(root vm.GuestPhysAddr) {
	w.root = root
}

func (w *riscv) Root() vm.GuestPhysAddr {
	return w.root
}

func rvPerm(pte uint64) vm.Perm {
	var p vm.Perm
	if pte&rvRead != 0 {
		p |= vm.PermRead
	}
	if pte&rvWrite != 0 {
		p |= vm.PermWrite
	}
	if pte&rvExec != 0 {
		p |= vm.PermExec
	}
	if pte&rvUser != 0 {
		p |= vm.PermUser
	}
	return p
}

// Walk descends from the root table, one 9-bit index per level, highest
// level first. A leaf above the last level is a superpage and terminates
// the walk with the remaining virtual-address bits as the in-page offset.
func (w *riscv) Walk(
	addr vm.GuestAddr,
	access vm.AccessType,
) (Result, error) {
	w.count.Add(1)

	tableBase := uint64(w.root)

	for level := w.levels - 1; level >= 0; level-- {
		idx := (uint64(addr) >> (12 + 9*level)) & 0x1FF
		pteAddr := vm.GuestPhysAddr(tableBase + idx*8)

		pte, err := w.mem.ReadUint64(pteAddr)
		if err != nil {
			return Result{}, vm.NewFault(vm.FaultPage, addr, access)
		}

		if pte&rvValid == 0 {
			return Result{}, vm.NewFault(vm.FaultPage, addr, access)
		}

		// W without R is reserved in the RISC-V privileged spec.
		if pte&rvWrite != 0 && pte&rvRead == 0 {
			return Result{}, vm.NewFault(vm.FaultMalformedEntry, addr, access)
		}

		ppn := (pte >> rvPPNShift) & rvPPNMask

		if pte&(rvRead|rvWrite|rvExec) == 0 {
			// Pointer to the next-level table.
			if level == 0 {
				return Result{}, vm.NewFault(
					vm.FaultMalformedEntry, addr, access)
			}
			tableBase = ppn << 12
			continue
		}

		// Leaf. A superpage leaf must be aligned to its own size.
		if level > 0 && ppn&((1<<(9*level))-1) != 0 {
			return Result{}, vm.NewFault(vm.FaultMalformedEntry, addr, access)
		}

		perm := rvPerm(pte)
		if !perm.Allows(access) {
			return Result{}, vm.NewFault(vm.FaultPermission, addr, access)
		}

		pageSize := uint64(1) << (12 + 9*level)
		offset := uint64(addr) & (pageSize - 1)

		return Result{
			PAddr:    vm.GuestPhysAddr(ppn<<12 | offset),
			PageSize: pageSize,
			Perm:     perm,
			Global:   pte&rvGlobal != 0,
		}, nil
	}

	return Result{}, vm.NewFault(vm.FaultPage, addr, access)
}
