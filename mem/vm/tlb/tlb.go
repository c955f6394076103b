// Package tlb provides a two-level, split instruction/data translation
// lookaside buffer.
package tlb

import (
	"sync"
	"sync/atomic"

	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/tlb/internal"
)

// A Comp is a two-level TLB. Level 1 is small and checked first; level 2
// is larger and backs it. Each level is split into an instruction bank and
// a data bank, selected by the access type. Entries are cached at
// base-page granularity: a superpage walk result is distilled into the
// base page that was actually touched.
//
// Lookups proceed concurrently; insertions and flushes take the write
// lock. A flush removes entries rather than tombstoning them, and is
// visible to all readers before it returns.
type Comp struct {
	mu sync.RWMutex

	name         string
	log2PageSize uint64
	l1           *level
	l2           *level
	gen          uint64 // bumped by every flush, guarded by mu

	l1Hits    atomic.Uint64
	l2Hits    atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// Stats reports TLB hit/miss/eviction counters. Reading it does not
// mutate the TLB.
type Stats struct {
	L1Hits    uint64
	L2Hits    uint64
	Misses    uint64
	Evictions uint64
}

// A level is one TLB level: an instruction bank and a data bank of
// hash-indexed sets.
type level struct {
	numSets int
	numWays int
	inst    []internal.Set
	data    []internal.Set
}

func newLevel(numSets, numWays int) *level {
	l := &level{numSets: numSets, numWays: numWays}
	l.inst = make([]internal.Set, numSets)
	l.data = make([]internal.Set, numSets)
	for i := 0; i < numSets; i++ {
		l.inst[i] = internal.NewSet(numWays)
		l.data[i] = internal.NewSet(numWays)
	}
	return l
}

func (l *level) bank(access vm.AccessType) []internal.Set {
	if access == vm.AccessExecute {
		return l.inst
	}
	return l.data
}

func (l *level) set(vpn uint64, access vm.AccessType) internal.Set {
	return l.bank(access)[int(vpn%uint64(l.numSets))]
}

func (l *level) lookup(
	asid vm.ASID,
	vpn uint64,
	access vm.AccessType,
) (internal.Set, int, vm.Page, bool) {
	set := l.set(vpn, access)
	wayID, page, found := set.Lookup(asid, vpn)
	if !found {
		wayID, page, found = set.LookupGlobal(vpn)
	}
	return set, wayID, page, found
}

// VPN returns the virtual page number of vaddr.
func (c *Comp) VPN(vaddr vm.GuestAddr) uint64 {
	return uint64(vaddr) >> c.log2PageSize
}

// Lookup searches for a translation of vaddr under asid. Entries marked
// global match regardless of asid. A level-2 hit is promoted into level 1.
func (c *Comp) Lookup(
	asid vm.ASID,
	vaddr vm.GuestAddr,
	access vm.AccessType,
) (vm.Page, bool) {
	vpn := c.VPN(vaddr)

	c.mu.RLock()
	set, wayID, page, found := c.l1.lookup(asid, vpn, access)
	if found {
		set.Visit(wayID)
		c.mu.RUnlock()
		c.l1Hits.Add(1)
		return page, true
	}

	set, wayID, page, found = c.l2.lookup(asid, vpn, access)
	if found {
		set.Visit(wayID)
	}
	gen := c.gen
	c.mu.RUnlock()

	if !found {
		c.misses.Add(1)
		return vm.Page{}, false
	}

	c.l2Hits.Add(1)

	// Promote into level 1 unless a flush landed between the read lock
	// and here; promoting then would resurrect a flushed entry.
	c.mu.Lock()
	if c.gen == gen {
		c.insertIntoLevel(c.l1, page, access)
	}
	c.mu.Unlock()

	return page, true
}

// Gen returns the flush generation. It advances on every flush, so a
// caller that walks page tables can detect a flush that landed while the
// walk was in flight and discard the result via InsertAt.
func (c *Comp) Gen() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gen
}

// Insert caches a translation in both levels. Inserting the same entry
// twice is idempotent, which makes the benign double-walk race on a miss
// safe without a stronger lock.
func (c *Comp) Insert(page vm.Page, access vm.AccessType) {
	if !page.Valid {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.insertIntoLevel(c.l2, page, access)
	c.insertIntoLevel(c.l1, page, access)
}

// InsertAt caches a translation like Insert, unless a flush occurred
// after gen was read. It reports whether the entry was cached. Callers
// read the generation before starting a page-table walk, so a flush
// racing the walk always wins over the stale result.
func (c *Comp) InsertAt(gen uint64, page vm.Page, access vm.AccessType) bool {
	if !page.Valid {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.gen != gen {
		return false
	}
	c.insertIntoLevel(c.l2, page, access)
	c.insertIntoLevel(c.l1, page, access)
	return true
}

func (c *Comp) insertIntoLevel(
	l *level,
	page vm.Page,
	access vm.AccessType,
) {
	set := l.set(page.VPN, access)

	var wayID int
	var found bool
	if page.Global {
		wayID, _, found = set.LookupGlobal(page.VPN)
	} else {
		wayID, _, found = set.Lookup(page.ASID, page.VPN)
	}
	if found {
		set.Update(wayID, page)
		set.Visit(wayID)
		return
	}

	wayID, ok := set.Evict()
	if !ok {
		panic("failed to evict")
	}
	if victim, valid := set.Way(wayID); valid && victim.Valid {
		c.evictions.Add(1)
	}

	set.Update(wayID, page)
	set.Visit(wayID)
}

// Flush removes every entry from both levels.
func (c *Comp) Flush() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	c.l1 = newLevel(c.l1.numSets, c.l1.numWays)
	c.l2 = newLevel(c.l2.numSets, c.l2.numWays)
}

// FlushASID removes every entry belonging to asid. Entries marked global
// are not affected.
func (c *Comp) FlushASID(asid vm.ASID) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	for _, l := range []*level{c.l1, c.l2} {
		for _, bank := range [][]internal.Set{l.inst, l.data} {
			for _, set := range bank {
				var doomed []vm.Page
				set.ForEach(func(_ int, p vm.Page) {
					if !p.Global && p.ASID == asid {
						doomed = append(doomed, p)
					}
				})
				for _, p := range doomed {
					set.Remove(p.ASID, p.VPN)
				}
			}
		}
	}
}

// FlushPage removes every entry translating vaddr, in all address spaces,
// global entries included, crossing both the instruction and data banks.
func (c *Comp) FlushPage(vaddr vm.GuestAddr) {
	vpn := c.VPN(vaddr)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.gen++
	for _, l := range []*level{c.l1, c.l2} {
		for _, bank := range [][]internal.Set{l.inst, l.data} {
			set := bank[int(vpn%uint64(l.numSets))]
			var doomed []vm.Page
			set.ForEach(func(_ int, p vm.Page) {
				if p.VPN == vpn {
					doomed = append(doomed, p)
				}
			})
			for _, p := range doomed {
				set.Remove(p.ASID, p.VPN)
			}
		}
	}
}

// Stats returns the hit/miss/eviction counters.
func (c *Comp) Stats() Stats {
	return Stats{
		L1Hits:    c.l1Hits.Load(),
		L2Hits:    c.l2Hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}

// Name returns the component name.
func (c *Comp) Name() string {
	return c.name
}
