package jit

import (
	"fmt"
	"sync/atomic"

	"github.com/sarchlab/vmcore/exec/ir"
	"github.com/sarchlab/vmcore/mem/vm"
)

// Memory is the slice of the MMU contract compiled code needs for its
// loads and stores.
type Memory interface {
	Read(addr vm.GuestAddr, width int) (uint64, error)
	Write(addr vm.GuestAddr, width int, value uint64) error
}

// A CompiledBlock is the executable artifact for one block. It is
// reference counted: the cache holds one reference, and each vCPU that
// is about to run the block takes another, so an invalidation that
// lands mid-execution cannot free code that is still running.
type CompiledBlock struct {
	id   ir.BlockID
	code []byte
	body *ir.Block

	refs atomic.Int64
}

func newCompiledBlock(id ir.BlockID, code []byte, body *ir.Block) *CompiledBlock {
	cb := &CompiledBlock{id: id, code: code, body: body}
	cb.refs.Store(1)
	return cb
}

// FromCode reconstructs a compiled block from previously persisted
// bytecode. The bytecode is validated; garbage fails with a
// CompileError rather than producing a runnable block.
func FromCode(id ir.BlockID, code []byte) (*CompiledBlock, error) {
	body, err := decode(id.Start, code)
	if err != nil {
		return nil, &CompileError{ID: id, Reason: err.Error()}
	}
	c := make([]byte, len(code))
	copy(c, code)
	return newCompiledBlock(id, c, body), nil
}

// ID returns the identity the block was compiled from.
func (cb *CompiledBlock) ID() ir.BlockID {
	return cb.id
}

// Start returns the block's guest entry address.
func (cb *CompiledBlock) Start() vm.GuestAddr {
	return cb.id.Start
}

// Code returns the persistable bytecode. Callers must not mutate it.
func (cb *CompiledBlock) Code() []byte {
	return cb.code
}

// CodeSize returns the bytecode size in bytes.
func (cb *CompiledBlock) CodeSize() int {
	return len(cb.code)
}

// Retain takes a reference. It panics when the block was already
// released to zero, which would mean a use-after-free.
func (cb *CompiledBlock) Retain() {
	if cb.refs.Add(1) <= 1 {
		panic(fmt.Sprintf("retain of released block %#x", cb.id.Start))
	}
}

// Release drops a reference.
func (cb *CompiledBlock) Release() {
	if cb.refs.Add(-1) < 0 {
		panic(fmt.Sprintf("double release of block %#x", cb.id.Start))
	}
}

// Refs returns the current reference count.
func (cb *CompiledBlock) Refs() int64 {
	return cb.refs.Load()
}

// Run executes the compiled code, mutating regs, and returns the next
// block address.
func (cb *CompiledBlock) Run(
	regs *ir.Registers,
	mem Memory,
) (vm.GuestAddr, error) {
	for i, op := range cb.body.Ops {
		if err := step(regs, mem, op); err != nil {
			return 0, fmt.Errorf("compiled op %d at %#x: %w",
				i, cb.id.Start, err)
		}
	}

	t := cb.body.Term
	switch t.Kind {
	case ir.TermFallthrough, ir.TermJmp:
		return t.Target, nil
	case ir.TermCondJmp:
		if regs[t.Cond] != 0 {
			return t.Target, nil
		}
		return t.TargetFalse, nil
	case ir.TermJmpReg:
		return vm.GuestAddr(regs[t.Base] + uint64(t.Offset)), nil
	case ir.TermRet:
		return cb.id.Start, nil
	}
	return 0, fmt.Errorf("unknown terminator kind %d", t.Kind)
}

func step(regs *ir.Registers, mem Memory, op ir.Op) error {
	switch op.Kind {
	case ir.OpNop:
	case ir.OpMovImm:
		regs[op.Dst] = uint64(op.Imm)
	case ir.OpAdd:
		regs[op.Dst] = regs[op.Src1] + regs[op.Src2]
	case ir.OpSub:
		regs[op.Dst] = regs[op.Src1] - regs[op.Src2]
	case ir.OpMul:
		regs[op.Dst] = regs[op.Src1] * regs[op.Src2]
	case ir.OpAddImm:
		regs[op.Dst] = regs[op.Src1] + uint64(op.Imm)
	case ir.OpLoad:
		v, err := mem.Read(
			vm.GuestAddr(regs[op.Src1]+uint64(op.Imm)), int(op.Size))
		if err != nil {
			return err
		}
		regs[op.Dst] = v
	case ir.OpStore:
		return mem.Write(
			vm.GuestAddr(regs[op.Src1]+uint64(op.Imm)),
			int(op.Size), regs[op.Src2])
	default:
		return fmt.Errorf("unknown op kind %d", op.Kind)
	}
	return nil
}
