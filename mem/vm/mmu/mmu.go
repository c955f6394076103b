// Package mmu composes the TLB, the page-table walkers, and physical
// memory behind a single translate/read/write/fetch contract.
package mmu

import (
	"fmt"
	"sync"

	"github.com/sarchlab/vmcore/mem/phys"
	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/tlb"
	"github.com/sarchlab/vmcore/mem/vm/walker"
)

// A Comp is the memory management unit of one guest. It owns the TLB and
// the active paging mode, and shares physical memory read-only after
// creation with any accelerator that maps guest memory directly.
//
// Translations and reads proceed concurrently across vCPUs; paging-mode
// changes and flushes take the write lock and are visible to all vCPUs
// before they return. On a TLB miss two vCPUs may both walk and both
// insert the same entry; the insert is idempotent, so the race is benign.
type Comp struct {
	mu sync.RWMutex

	name         string
	mem          *phys.Memory
	tlb          *tlb.Comp
	walkers      map[vm.PagingMode]walker.Walker
	active       walker.Walker
	mode         vm.PagingMode
	asid         vm.ASID
	log2PageSize uint64
}

func (c *Comp) pageSize() uint64 {
	return 1 << c.log2PageSize
}

func (c *Comp) pageOf(addr vm.GuestAddr) uint64 {
	return uint64(addr) >> c.log2PageSize
}

// translatePage resolves one page, returning the physical address and the
// page's permissions. The TLB is consulted first; on a miss the active
// walker fills it.
func (c *Comp) translatePage(
	addr vm.GuestAddr,
	access vm.AccessType,
) (vm.GuestPhysAddr, vm.Perm, error) {
	c.mu.RLock()
	w := c.active
	asid := c.asid
	c.mu.RUnlock()

	if page, found := c.tlb.Lookup(asid, addr, access); found {
		if !page.Perm.Allows(access) {
			return 0, 0, vm.NewFault(vm.FaultPermission, addr, access)
		}
		offset := uint64(addr) & (c.pageSize() - 1)
		return vm.GuestPhysAddr(page.PPN<<c.log2PageSize | offset),
			page.Perm, nil
	}

	gen := c.tlb.Gen()
	result, err := w.Walk(addr, access)
	if err != nil {
		return 0, 0, err
	}

	// Distill the walk result into a base-page entry. Only this form
	// persists; the raw page-table entry is never cached. A flush that
	// landed during the walk advances the generation, so the stale
	// result is discarded rather than cached.
	page := vm.Page{
		VPN:    c.pageOf(addr),
		PPN:    uint64(result.PAddr) >> c.log2PageSize,
		ASID:   asid,
		Perm:   result.Perm,
		Global: result.Global,
		Valid:  true,
	}
	c.tlb.InsertAt(gen, page, access)

	return result.PAddr, result.Perm, nil
}

// Translate resolves addr for the given access type, returning the
// physical address or a fault. It never panics on an unmapped address.
func (c *Comp) Translate(
	addr vm.GuestAddr,
	access vm.AccessType,
) (vm.GuestPhysAddr, error) {
	paddr, _, err := c.translatePage(addr, access)
	return paddr, err
}

func validWidth(width int) bool {
	switch width {
	case 1, 2, 4, 8:
		return true
	}
	return false
}

// Read loads a little-endian scalar of 1, 2, 4, or 8 bytes at addr. An
// access that straddles two pages is translated once per page and fails
// with an alignment fault if the pages carry different permissions.
func (c *Comp) Read(addr vm.GuestAddr, width int) (uint64, error) {
	if !validWidth(width) {
		return 0, vm.NewFault(vm.FaultAlignment, addr, vm.AccessRead)
	}

	buf := make([]byte, width)
	if err := c.access(addr, buf, vm.AccessRead); err != nil {
		return 0, err
	}

	var v uint64
	for i := width - 1; i >= 0; i-- {
		v = v<<8 | uint64(buf[i])
	}
	return v, nil
}

// Write stores a little-endian scalar of 1, 2, 4, or 8 bytes at addr,
// with the same page-straddling rule as Read.
func (c *Comp) Write(addr vm.GuestAddr, width int, value uint64) error {
	if !validWidth(width) {
		return vm.NewFault(vm.FaultAlignment, addr, vm.AccessWrite)
	}

	buf := make([]byte, width)
	for i := 0; i < width; i++ {
		buf[i] = byte(value >> (8 * i))
	}
	return c.access(addr, buf, vm.AccessWrite)
}

// access performs a scalar transfer, enforcing that a straddling access
// sees identical permissions on both pages.
func (c *Comp) access(
	addr vm.GuestAddr,
	buf []byte,
	accessType vm.AccessType,
) error {
	width := uint64(len(buf))
	last := addr + vm.GuestAddr(width-1)

	paddr, perm, err := c.translatePage(addr, accessType)
	if err != nil {
		return err
	}

	if c.pageOf(addr) == c.pageOf(last) {
		return c.touch(paddr, buf, accessType)
	}

	_, perm2, err := c.translatePage(last, accessType)
	if err != nil {
		return err
	}
	if perm != perm2 {
		return vm.NewFault(vm.FaultAlignment, addr, accessType)
	}

	firstLen := c.pageSize() - uint64(addr)&(c.pageSize()-1)
	if err := c.touch(paddr, buf[:firstLen], accessType); err != nil {
		return err
	}

	paddr2, _, err := c.translatePage(addr+vm.GuestAddr(firstLen), accessType)
	if err != nil {
		return err
	}
	return c.touch(paddr2, buf[firstLen:], accessType)
}

func (c *Comp) touch(
	paddr vm.GuestPhysAddr,
	buf []byte,
	accessType vm.AccessType,
) error {
	if accessType == vm.AccessWrite {
		return c.mem.Write(paddr, buf)
	}
	return c.mem.ReadInto(paddr, buf)
}

// ReadBulk fills buf from guest memory starting at addr. The transfer is
// translated once per page crossed and copied once per contiguous
// physical run, never byte by byte.
func (c *Comp) ReadBulk(addr vm.GuestAddr, buf []byte) error {
	return c.bulk(addr, buf, vm.AccessRead)
}

// WriteBulk stores data to guest memory starting at addr, with the same
// per-page translation and per-run copy policy as ReadBulk.
func (c *Comp) WriteBulk(addr vm.GuestAddr, data []byte) error {
	return c.bulk(addr, data, vm.AccessWrite)
}

func (c *Comp) bulk(
	addr vm.GuestAddr,
	buf []byte,
	accessType vm.AccessType,
) error {
	if len(buf) == 0 {
		return nil
	}

	pageSize := c.pageSize()

	// Gather the physical run each page maps to, merging adjacent pages
	// that are physically contiguous, then copy one run at a time.
	runStart := uint64(0) // physical base of the current run
	runLen := uint64(0)
	bufOffset := uint64(0)
	runBufOffset := uint64(0)

	remaining := uint64(len(buf))
	cur := addr

	for remaining > 0 {
		inPage := pageSize - uint64(cur)&(pageSize-1)
		if inPage > remaining {
			inPage = remaining
		}

		paddr, _, err := c.translatePage(cur, accessType)
		if err != nil {
			return err
		}

		if runLen > 0 && uint64(paddr) == runStart+runLen {
			runLen += inPage
		} else {
			if runLen > 0 {
				err := c.touch(
					vm.GuestPhysAddr(runStart),
					buf[runBufOffset:runBufOffset+runLen],
					accessType)
				if err != nil {
					return err
				}
			}
			runStart = uint64(paddr)
			runLen = inPage
			runBufOffset = bufOffset
		}

		cur += vm.GuestAddr(inPage)
		bufOffset += inPage
		remaining -= inPage
	}

	return c.touch(
		vm.GuestPhysAddr(runStart),
		buf[runBufOffset:runBufOffset+runLen],
		accessType)
}

// FetchInstruction reads n bytes at addr with execute permission. It is
// distinct from Read because instruction and data permission bits can
// differ.
func (c *Comp) FetchInstruction(addr vm.GuestAddr, n int) ([]byte, error) {
	buf := make([]byte, n)
	if err := c.bulk(addr, buf, vm.AccessExecute); err != nil {
		return nil, err
	}
	return buf, nil
}

// FlushTLB removes every cached translation.
func (c *Comp) FlushTLB() {
	c.tlb.Flush()
}

// FlushTLBASID removes cached translations belonging to asid, leaving
// global entries in place.
func (c *Comp) FlushTLBASID(asid vm.ASID) {
	c.tlb.FlushASID(asid)
}

// FlushTLBPage removes cached translations of addr from both the
// instruction and data sub-caches of every level.
func (c *Comp) FlushTLBPage(addr vm.GuestAddr) {
	c.tlb.FlushPage(addr)
}

// SetPagingMode switches the active walker. The entire TLB is flushed:
// stale entries reference the old translation scheme.
func (c *Comp) SetPagingMode(mode vm.PagingMode) error {
	c.mu.Lock()
	w, ok := c.walkers[mode]
	if !ok {
		c.mu.Unlock()
		return fmt.Errorf("%s: paging mode %s is not configured",
			c.name, mode)
	}
	c.mode = mode
	c.active = w
	c.mu.Unlock()

	c.tlb.Flush()
	return nil
}

// PagingMode returns the active paging mode.
func (c *Comp) PagingMode() vm.PagingMode {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

// SetRoot sets the table-base address of the active walker.
func (c *Comp) SetRoot(root vm.GuestPhysAddr) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.active.SetRoot(root)
}

// SetASID switches the current address-space id. Cached entries of other
// address spaces stay in the TLB; they are invisible to lookups under the
// new id unless marked global.
func (c *Comp) SetASID(asid vm.ASID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.asid = asid
}

// ASID returns the current address-space id.
func (c *Comp) ASID() vm.ASID {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.asid
}

// Memory returns the physical memory. It is the single source of truth
// that must also back any accelerator mapping.
func (c *Comp) Memory() *phys.Memory {
	return c.mem
}

// TLB returns the TLB owned by this MMU.
func (c *Comp) TLB() *tlb.Comp {
	return c.tlb
}

// Name returns the component name.
func (c *Comp) Name() string {
	return c.name
}
