package walker

import (
	"github.com/sarchlab/vmcore/mem/phys"
	"github.com/sarchlab/vmcore/mem/vm"
)

// AArch64 stage-1 descriptor bits, 4 KiB granule.
const (
	armValid    = 1 << 0
	armTable    = 1 << 1 // table at L0-L2, page at L3
	armReadOnly = 1 << 7 // AP[2]
	armUXN      = 1 << 54

	armAddrMask = 0x0000_FFFF_FFFF_F000
)

// Arm64 walks AArch64 4-level translation tables with a 4 KiB granule.
// Block descriptors at level 1 (1 GiB) and level 2 (2 MiB) terminate the
// walk early.
type Arm64 struct {
	walkCounter
	mem  *phys.Memory
	root vm.GuestPhysAddr
}

// NewArm64 creates an AArch64 walker reading translation tables from mem.
func NewArm64(mem *phys.Memory) *Arm64 {
	return &Arm64{mem: mem}
}

// Mode returns vm.PagingModeArm64.
func (w *Arm64) Mode() vm.PagingMode {
	return vm.PagingModeArm64
}

// SetRoot sets the TTBR analog.
func (w *Arm64) SetRoot(root vm.GuestPhysAddr) {
	w.root = root
}

// Root returns the TTBR analog.
func (w *Arm64) Root() vm.GuestPhysAddr {
	return w.root
}

func armPerm(desc uint64) vm.Perm {
	perm := vm.PermRead
	if desc&armReadOnly == 0 {
		perm |= vm.PermWrite
	}
	if desc&armUXN == 0 {
		perm |= vm.PermExec
	}
	return perm
}

// Walk descends L0 through L3. Descriptor bits [1:0] distinguish tables
// (0b11) from blocks (0b01); a block descriptor at L0 or L3 is malformed.
func (w *Arm64) Walk(
	addr vm.GuestAddr,
	access vm.AccessType,
) (Result, error) {
	w.count.Add(1)

	tableBase := uint64(w.root) & armAddrMask

	for level := 3; level >= 0; level-- {
		idx := (uint64(addr) >> (12 + 9*level)) & 0x1FF
		descAddr := vm.GuestPhysAddr(tableBase + idx*8)

		desc, err := w.mem.ReadUint64(descAddr)
		if err != nil {
			return Result{}, vm.NewFault(vm.FaultPage, addr, access)
		}

		if desc&armValid == 0 {
			return Result{}, vm.NewFault(vm.FaultPage, addr, access)
		}

		isTable := desc&armTable != 0

		if level > 0 && isTable {
			tableBase = desc & armAddrMask
			continue
		}

		if level == 0 && !isTable {
			// At L3 the 0b01 encoding is reserved.
			return Result{}, vm.NewFault(vm.FaultMalformedEntry, addr, access)
		}
		if level == 3 {
			// Block descriptors do not exist at L0.
			return Result{}, vm.NewFault(vm.FaultMalformedEntry, addr, access)
		}

		pageSize := uint64(1) << (12 + 9*level)
		base := desc & armAddrMask
		if base&(pageSize-1) != 0 {
			return Result{}, vm.NewFault(vm.FaultMalformedEntry, addr, access)
		}

		perm := armPerm(desc)
		if !perm.Allows(access) {
			return Result{}, vm.NewFault(vm.FaultPermission, addr, access)
		}

		offset := uint64(addr) & (pageSize - 1)

		return Result{
			PAddr:    vm.GuestPhysAddr(base | offset),
			PageSize: pageSize,
			Perm:     perm,
		}, nil
	}

	return Result{}, vm.NewFault(vm.FaultPage, addr, access)
}
