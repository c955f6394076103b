package vm

import "fmt"

// FaultKind classifies translation faults.
type FaultKind int

// The fault kinds. All of them are guest-recoverable: engines convert them
// into guest-visible traps, never into a host-process abort.
const (
	// FaultPage reports a mapping that is not present.
	FaultPage FaultKind = iota
	// FaultPermission reports an access the mapping does not allow.
	FaultPermission
	// FaultAlignment reports a multi-byte access spanning pages with
	// incompatible permissions.
	FaultAlignment
	// FaultMalformedEntry reports a page-table entry with reserved bits set
	// or a level mismatch. It is kept distinct from FaultPage to aid
	// diagnosis.
	FaultMalformedEntry
)

func (k FaultKind) String() string {
	switch k {
	case FaultPage:
		return "page fault"
	case FaultPermission:
		return "permission fault"
	case FaultAlignment:
		return "alignment fault"
	case FaultMalformedEntry:
		return "malformed entry"
	}
	return fmt.Sprintf("fault(%d)", int(k))
}

// A Fault is the error value returned by translation and memory-access
// operations. It is returned, never thrown as control flow.
type Fault struct {
	Kind   FaultKind
	Addr   GuestAddr
	Access AccessType
}

func (f *Fault) Error() string {
	return fmt.Sprintf("%s at 0x%016x (%s)", f.Kind, uint64(f.Addr), f.Access)
}

// NewFault creates a fault of the given kind for an access at addr.
func NewFault(kind FaultKind, addr GuestAddr, access AccessType) *Fault {
	return &Fault{Kind: kind, Addr: addr, Access: access}
}
