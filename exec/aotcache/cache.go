// Package aotcache stores compiled blocks across two tiers: a bounded
// in-memory LRU for the hot working set and an optional on-disk tier
// that survives restarts.
package aotcache

import (
	"container/list"
	"log"
	"sync"
	"sync/atomic"

	"github.com/sarchlab/vmcore/exec/ir"
	"github.com/sarchlab/vmcore/exec/jit"
)

// A Comp is a tiered artifact cache. All methods are safe for concurrent
// use. Disk I/O happens outside the memory-tier lock, so a slow disk
// never stalls memory-tier lookups.
type Comp struct {
	name string

	mu       sync.Mutex
	capacity int
	entries  map[ir.BlockID]*list.Element
	lru      *list.List // front is most recently used

	disk *diskTier

	memHits       atomic.Uint64
	diskHits      atomic.Uint64
	misses        atomic.Uint64
	inserts       atomic.Uint64
	memEvictions  atomic.Uint64
	diskEvictions atomic.Uint64
}

// Lookup returns the compiled block for id, consulting the memory tier
// first and falling back to disk. A disk hit is promoted into the memory
// tier. The returned block carries a reference owned by the caller,
// taken before the lock is dropped, so an Invalidate or eviction racing
// the lookup cannot free code the caller is about to run; the caller
// releases it after use. Artifacts with a foreign magic or version, or
// that fail validation, count as misses.
func (c *Comp) Lookup(id ir.BlockID) (*jit.CompiledBlock, bool) {
	c.mu.Lock()
	if elem, ok := c.entries[id]; ok {
		c.lru.MoveToFront(elem)
		cb := elem.Value.(*jit.CompiledBlock)
		cb.Retain()
		c.mu.Unlock()
		c.memHits.Add(1)
		return cb, true
	}
	c.mu.Unlock()

	if c.disk == nil {
		c.misses.Add(1)
		return nil, false
	}

	code, err := c.disk.load(id)
	if err != nil {
		c.misses.Add(1)
		return nil, false
	}
	cb, err := jit.FromCode(id, code)
	if err != nil {
		log.Printf("%s: discarding invalid artifact for %#x: %v",
			c.name, id.Start, err)
		c.disk.remove(id)
		c.misses.Add(1)
		return nil, false
	}

	// Another vCPU may have promoted or compiled the same id while the
	// disk read ran. Reuse its entry instead of replacing it, which
	// would release a reference some other lookup is holding.
	c.mu.Lock()
	if elem, ok := c.entries[id]; ok {
		existing := elem.Value.(*jit.CompiledBlock)
		existing.Retain()
		c.lru.MoveToFront(elem)
		c.mu.Unlock()
		cb.Release()
		c.memHits.Add(1)
		return existing, true
	}
	c.insertLocked(id, cb)
	cb.Retain()
	c.mu.Unlock()

	c.diskHits.Add(1)
	return cb, true
}

// Insert stores cb in the memory tier and, when a disk tier is
// configured, persists it. The cache takes ownership of one reference.
func (c *Comp) Insert(cb *jit.CompiledBlock) {
	id := cb.ID()

	c.mu.Lock()
	c.insertLocked(id, cb)
	c.mu.Unlock()

	c.inserts.Add(1)

	if c.disk != nil {
		evicted, err := c.disk.store(id, cb.Code())
		if err != nil {
			log.Printf("%s: persist artifact for %#x: %v",
				c.name, id.Start, err)
			return
		}
		c.diskEvictions.Add(uint64(evicted))
	}
}

// insertLocked places cb into the memory tier, releasing any entry it
// replaces and any entry evicted to stay within capacity.
func (c *Comp) insertLocked(id ir.BlockID, cb *jit.CompiledBlock) {
	if elem, ok := c.entries[id]; ok {
		old := elem.Value.(*jit.CompiledBlock)
		if old != cb {
			old.Release()
			elem.Value = cb
		}
		c.lru.MoveToFront(elem)
		return
	}

	c.entries[id] = c.lru.PushFront(cb)

	for c.lru.Len() > c.capacity {
		back := c.lru.Back()
		victim := back.Value.(*jit.CompiledBlock)
		c.lru.Remove(back)
		delete(c.entries, victim.ID())
		victim.Release()
		c.memEvictions.Add(1)
	}
}

// Invalidate drops id from both tiers. Blocks still retained by a
// running vCPU stay alive until that vCPU releases them.
func (c *Comp) Invalidate(id ir.BlockID) {
	c.mu.Lock()
	if elem, ok := c.entries[id]; ok {
		cb := elem.Value.(*jit.CompiledBlock)
		c.lru.Remove(elem)
		delete(c.entries, id)
		cb.Release()
	}
	c.mu.Unlock()

	if c.disk != nil {
		c.disk.remove(id)
	}
}

// Len returns the number of memory-tier entries.
func (c *Comp) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Dir returns the disk-tier directory, or an empty string when the cache
// is memory only.
func (c *Comp) Dir() string {
	if c.disk == nil {
		return ""
	}
	return c.disk.dir
}

// Name returns the component name.
func (c *Comp) Name() string {
	return c.name
}

// Stats is a point-in-time snapshot of the cache counters.
type Stats struct {
	MemHits       uint64
	DiskHits      uint64
	Misses        uint64
	Inserts       uint64
	MemEvictions  uint64
	DiskEvictions uint64
}

// Stats returns a snapshot of the counters.
func (c *Comp) Stats() Stats {
	return Stats{
		MemHits:       c.memHits.Load(),
		DiskHits:      c.diskHits.Load(),
		Misses:        c.misses.Load(),
		Inserts:       c.inserts.Load(),
		MemEvictions:  c.memEvictions.Load(),
		DiskEvictions: c.diskEvictions.Load(),
	}
}
