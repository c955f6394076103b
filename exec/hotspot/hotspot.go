// Package hotspot tracks per-block execution heat and drives the
// promotion of blocks from the interpreter to compiled code.
package hotspot

import (
	"sort"
	"sync"

	"github.com/sarchlab/vmcore/mem/vm"
)

// State is the promotion state of one block.
type State int

// A block is Cold until it executes for the first time, Warm afterwards,
// becomes Hot when its execution count reaches the threshold, passes
// through Compiling while a compile is in flight, and ends Compiled.
// Invalidation sends it back to Warm.
const (
	StateCold State = iota
	StateWarm
	StateHot
	StateCompiling
	StateCompiled
)

func (s State) String() string {
	switch s {
	case StateCold:
		return "cold"
	case StateWarm:
		return "warm"
	case StateHot:
		return "hot"
	case StateCompiling:
		return "compiling"
	case StateCompiled:
		return "compiled"
	}
	return "unknown"
}

// DefaultThreshold is the execution count at which a block becomes hot.
const DefaultThreshold = 100

type entry struct {
	count uint64
	state State
}

// A Tracker records block executions and answers promotion questions.
// All methods are safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	threshold uint64
	blocks    map[vm.GuestAddr]*entry
}

// NewTracker creates a tracker. A non-positive threshold falls back to
// DefaultThreshold.
func NewTracker(threshold int) *Tracker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Tracker{
		threshold: uint64(threshold),
		blocks:    make(map[vm.GuestAddr]*entry),
	}
}

// Threshold returns the promotion threshold.
func (t *Tracker) Threshold() uint64 {
	return t.threshold
}

// Record counts one execution of the block at addr. becameHot is true on
// exactly the call that moves the count from threshold-1 to threshold;
// callers use it as the single trigger to request compilation.
func (t *Tracker) Record(addr vm.GuestAddr) (state State, becameHot bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.blocks[addr]
	if e == nil {
		e = &entry{}
		t.blocks[addr] = e
	}

	e.count++
	if e.state == StateCold {
		e.state = StateWarm
	}
	if e.state == StateWarm && e.count >= t.threshold {
		e.state = StateHot
		becameHot = e.count == t.threshold
	}
	return e.state, becameHot
}

// State returns the current state of the block at addr. A block that was
// never executed is Cold.
func (t *Tracker) State(addr vm.GuestAddr) State {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e := t.blocks[addr]; e != nil {
		return e.state
	}
	return StateCold
}

// Count returns the execution count of the block at addr.
func (t *Tracker) Count(addr vm.GuestAddr) uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e := t.blocks[addr]; e != nil {
		return e.count
	}
	return 0
}

// TryBeginCompile moves a hot block to Compiling. It returns false when
// the block is not hot or a compile is already in flight, so at most one
// caller wins the transition.
func (t *Tracker) TryBeginCompile(addr vm.GuestAddr) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.blocks[addr]
	if e == nil || e.state != StateHot {
		return false
	}
	e.state = StateCompiling
	return true
}

// EndCompile finishes the in-flight compile of the block at addr. On
// success the block becomes Compiled; on failure it returns to Hot so
// the interpreter keeps serving it without re-triggering promotion.
func (t *Tracker) EndCompile(addr vm.GuestAddr, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e := t.blocks[addr]
	if e == nil || e.state != StateCompiling {
		return
	}
	if ok {
		e.state = StateCompiled
	} else {
		e.state = StateHot
	}
}

// Demote moves a Compiled block back to Hot, keeping its count. The
// executor uses it when the cached artifact for a block disappeared.
func (t *Tracker) Demote(addr vm.GuestAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e := t.blocks[addr]; e != nil && e.state == StateCompiled {
		e.state = StateHot
	}
}

// Invalidate resets the block at addr to Warm with a zero count, as
// after self-modifying code rewrote it.
func (t *Tracker) Invalidate(addr vm.GuestAddr) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e := t.blocks[addr]; e != nil {
		e.count = 0
		e.state = StateWarm
	}
}

// Decay halves every execution count. Blocks that already reached Hot or
// beyond keep their state; decay only slows promotion of warm blocks.
func (t *Tracker) Decay() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, e := range t.blocks {
		e.count /= 2
	}
}

// BlockHeat is one row of a TopBlocks report.
type BlockHeat struct {
	Addr  vm.GuestAddr
	Count uint64
	State State
}

// TopBlocks returns the n most-executed blocks, hottest first. Ties are
// broken by address, lowest first, so the report is deterministic.
func (t *Tracker) TopBlocks(n int) []BlockHeat {
	t.mu.Lock()
	rows := make([]BlockHeat, 0, len(t.blocks))
	for addr, e := range t.blocks {
		rows = append(rows, BlockHeat{Addr: addr, Count: e.count, State: e.state})
	}
	t.mu.Unlock()

	sort.Slice(rows, func(i, j int) bool {
		if rows[i].Count != rows[j].Count {
			return rows[i].Count > rows[j].Count
		}
		return rows[i].Addr < rows[j].Addr
	})

	if n >= 0 && n < len(rows) {
		rows = rows[:n]
	}
	return rows
}

// NumBlocks returns the number of tracked blocks.
func (t *Tracker) NumBlocks() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.blocks)
}
