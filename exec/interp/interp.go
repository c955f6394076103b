// Package interp implements the baseline execution engine. It walks a
// block operation by operation against the register file and guest
// memory, with no per-block setup cost.
package interp

import (
	"fmt"

	"github.com/sarchlab/vmcore/exec/ir"
	"github.com/sarchlab/vmcore/mem/vm"
)

// Memory is the slice of the MMU contract the interpreter needs. Loads
// and stores go through the translating path so that permission and page
// faults surface as errors.
type Memory interface {
	Read(addr vm.GuestAddr, width int) (uint64, error)
	Write(addr vm.GuestAddr, width int, value uint64) error
}

// An Engine interprets blocks. Engines are stateless between calls and
// safe for concurrent use as long as each call owns its register file.
type Engine struct {
	mem Memory
}

// NewEngine creates an interpreter backed by mem.
func NewEngine(mem Memory) *Engine {
	return &Engine{mem: mem}
}

// Run executes one block, mutating regs, and returns the address of the
// next block to execute. Memory faults abort the block and are returned
// to the caller; registers keep the state from the operations that
// completed.
func (e *Engine) Run(regs *ir.Registers, b *ir.Block) (vm.GuestAddr, error) {
	for i, op := range b.Ops {
		if err := e.step(regs, op); err != nil {
			return 0, fmt.Errorf("op %d at %#x: %w", i, b.Start, err)
		}
	}
	return e.next(regs, b)
}

func (e *Engine) step(regs *ir.Registers, op ir.Op) error {
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
		addr := vm.GuestAddr(regs[op.Src1] + uint64(op.Imm))
		v, err := e.mem.Read(addr, int(op.Size))
		if err != nil {
			return err
		}
		regs[op.Dst] = v
	case ir.OpStore:
		addr := vm.GuestAddr(regs[op.Src1] + uint64(op.Imm))
		if err := e.mem.Write(addr, int(op.Size), regs[op.Src2]); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown op kind %d", op.Kind)
	}
	return nil
}

func (e *Engine) next(regs *ir.Registers, b *ir.Block) (vm.GuestAddr, error) {
	t := b.Term
	switch t.Kind {
	case ir.TermFallthrough:
		return t.Target, nil
	case ir.TermJmp:
		return t.Target, nil
	case ir.TermCondJmp:
		if regs[t.Cond] != 0 {
			return t.Target, nil
		}
		return t.TargetFalse, nil
	case ir.TermJmpReg:
		return vm.GuestAddr(regs[t.Base] + uint64(t.Offset)), nil
	case ir.TermRet:
		return b.Start, nil
	default:
		return 0, fmt.Errorf("unknown terminator kind %d", t.Kind)
	}
}
