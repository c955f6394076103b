// Package vm defines the value types shared by the address-translation
// stack: guest addresses, access types, paging modes, permissions, and the
// distilled translation entries that the TLB caches.
package vm

import "fmt"

// A GuestAddr is a virtual address in the guest address space. It never
// converts to a GuestPhysAddr without going through a translation.
type GuestAddr uint64

// A GuestPhysAddr is a physical address in the guest address space.
type GuestPhysAddr uint64

// An ASID identifies a guest address space sharing one TLB.
type ASID uint16

// AccessType describes the kind of memory access being translated. It
// selects the permission bits the walker checks and the TLB sub-table
// (instruction vs. data) that is consulted.
type AccessType int

// The three access types.
const (
	AccessRead AccessType = iota
	AccessWrite
	AccessExecute
)

func (t AccessType) String() string {
	switch t {
	case AccessRead:
		return "read"
	case AccessWrite:
		return "write"
	case AccessExecute:
		return "execute"
	}
	return fmt.Sprintf("access(%d)", int(t))
}

// PagingMode selects the active page-table scheme. Exactly one mode is
// active per MMU instance at a time; changing it flushes the entire TLB.
type PagingMode int

// The supported paging modes.
const (
	PagingModeBare PagingMode = iota
	PagingModeSv39
	PagingModeSv48
	PagingModeX86_64
	PagingModeArm64
)

func (m PagingMode) String() string {
	switch m {
	case PagingModeBare:
		return "bare"
	case PagingModeSv39:
		return "sv39"
	case PagingModeSv48:
		return "sv48"
	case PagingModeX86_64:
		return "x86_64"
	case PagingModeArm64:
		return "arm64"
	}
	return fmt.Sprintf("paging(%d)", int(m))
}

// Perm is a permission bit set attached to a translation.
type Perm uint8

// Permission bits.
const (
	PermRead Perm = 1 << iota
	PermWrite
	PermExec
	PermUser
)

// Allows reports whether the permission set allows the given access type.
func (p Perm) Allows(t AccessType) bool {
	switch t {
	case AccessRead:
		return p&PermRead != 0
	case AccessWrite:
		return p&PermWrite != 0
	case AccessExecute:
		return p&PermExec != 0
	}
	return false
}

func (p Perm) String() string {
	buf := []byte("----")
	if p&PermRead != 0 {
		buf[0] = 'r'
	}
	if p&PermWrite != 0 {
		buf[1] = 'w'
	}
	if p&PermExec != 0 {
		buf[2] = 'x'
	}
	if p&PermUser != 0 {
		buf[3] = 'u'
	}
	return string(buf)
}

// A Page is a distilled translation entry. It is the only form in which a
// walk result persists: raw page-table entries are never cached directly.
// The TLB owns every Page it stores.
type Page struct {
	VPN    uint64
	PPN    uint64
	ASID   ASID
	Perm   Perm
	Global bool
	Valid  bool
}
