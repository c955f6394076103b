// Package internal provides the set structure backing the TLB levels.
package internal

import (
	"fmt"
	"sync/atomic"

	"github.com/sarchlab/vmcore/mem/vm"
)

// A Set holds a certain number of translation entries that share a set
// index. Lookup, Update, Evict, Remove, and Visit are the operations that
// can be performed on a set.
//
// Lookup, LookupGlobal, and Visit are safe to call concurrently with each
// other; all other operations require exclusive access. This matches the
// TLB's reader-writer discipline: hits only touch the recency counters,
// which are atomic.
type Set interface {
	Lookup(asid vm.ASID, vpn uint64) (wayID int, page vm.Page, found bool)
	LookupGlobal(vpn uint64) (wayID int, page vm.Page, found bool)
	Update(wayID int, page vm.Page)
	Evict() (wayID int, ok bool)
	Remove(asid vm.ASID, vpn uint64) bool
	Visit(wayID int)
	Way(wayID int) (page vm.Page, valid bool)
	ForEach(f func(wayID int, page vm.Page))
}

// NewSet creates a set with the given number of ways.
func NewSet(numWays int) Set {
	s := &setImpl{}
	s.blocks = make([]*block, numWays)
	s.keyWayIDMap = make(map[string]int)
	for i := range s.blocks {
		b := &block{wayID: i}
		s.blocks[i] = b
		s.insertSeq++
		b.insertSeq = s.insertSeq
	}
	return s
}

type block struct {
	page      vm.Page
	wayID     int
	lastVisit atomic.Uint64
	insertSeq uint64
}

type setImpl struct {
	blocks      []*block
	keyWayIDMap map[string]int
	visitCount  atomic.Uint64
	insertSeq   uint64
}

// globalASID keys entries that bypass address-space filtering.
const globalASID = "g"

func (s *setImpl) keyString(asid vm.ASID, vpn uint64) string {
	return fmt.Sprintf("%d-%016x", asid, vpn)
}

func (s *setImpl) globalKeyString(vpn uint64) string {
	return fmt.Sprintf("%s-%016x", globalASID, vpn)
}

func (s *setImpl) keyFor(page vm.Page) string {
	if page.Global {
		return s.globalKeyString(page.VPN)
	}
	return s.keyString(page.ASID, page.VPN)
}

func (s *setImpl) Lookup(asid vm.ASID, vpn uint64) (int, vm.Page, bool) {
	wayID, ok := s.keyWayIDMap[s.keyString(asid, vpn)]
	if !ok {
		return 0, vm.Page{}, false
	}
	blk := s.blocks[wayID]
	return blk.wayID, blk.page, true
}

func (s *setImpl) LookupGlobal(vpn uint64) (int, vm.Page, bool) {
	wayID, ok := s.keyWayIDMap[s.globalKeyString(vpn)]
	if !ok {
		return 0, vm.Page{}, false
	}
	blk := s.blocks[wayID]
	return blk.wayID, blk.page, true
}

func (s *setImpl) Update(wayID int, page vm.Page) {
	blk := s.blocks[wayID]
	if blk.page.Valid {
		delete(s.keyWayIDMap, s.keyFor(blk.page))
	}

	blk.page = page
	s.insertSeq++
	blk.insertSeq = s.insertSeq

	if page.Valid {
		s.keyWayIDMap[s.keyFor(page)] = wayID
	}
}

// Evict selects an empty way if one exists, otherwise the least-recently
// visited way. Ties in recency are broken by insertion order, oldest
// first, so eviction is deterministic.
func (s *setImpl) Evict() (int, bool) {
	if len(s.blocks) == 0 {
		return 0, false
	}

	victim := s.blocks[0]
	for _, blk := range s.blocks[1:] {
		if !victim.page.Valid {
			break
		}
		if !blk.page.Valid {
			victim = blk
			break
		}

		blkVisit := blk.lastVisit.Load()
		victimVisit := victim.lastVisit.Load()
		if blkVisit < victimVisit ||
			(blkVisit == victimVisit && blk.insertSeq < victim.insertSeq) {
			victim = blk
		}
	}

	return victim.wayID, true
}

// Remove deletes the entry for (asid, vpn), whether it was inserted under
// that address space or as a global entry. Removed entries are gone, not
// tombstoned.
func (s *setImpl) Remove(asid vm.ASID, vpn uint64) bool {
	key := s.keyString(asid, vpn)
	wayID, ok := s.keyWayIDMap[key]
	if !ok {
		key = s.globalKeyString(vpn)
		wayID, ok = s.keyWayIDMap[key]
	}
	if !ok {
		return false
	}

	delete(s.keyWayIDMap, key)
	s.blocks[wayID].page = vm.Page{}
	return true
}

func (s *setImpl) Visit(wayID int) {
	s.blocks[wayID].lastVisit.Store(s.visitCount.Add(1))
}

func (s *setImpl) Way(wayID int) (vm.Page, bool) {
	blk := s.blocks[wayID]
	return blk.page, blk.page.Valid
}

func (s *setImpl) ForEach(f func(wayID int, page vm.Page)) {
	for _, blk := range s.blocks {
		if blk.page.Valid {
			f(blk.wayID, blk.page)
		}
	}
}
