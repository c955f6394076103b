// Package ir defines the architecture-neutral intermediate representation
// that front-end decoders produce and both execution engines consume.
package ir

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
	"github.com/sarchlab/vmcore/mem/vm"
)

// NumRegs is the size of the neutral register file.
const NumRegs = 32

// Registers is the guest register file shared by the interpreter and
// compiled code.
type Registers [NumRegs]uint64

// OpKind enumerates the neutral operations.
type OpKind uint8

// The operation kinds.
const (
	OpNop OpKind = iota
	OpMovImm
	OpAdd
	OpSub
	OpMul
	OpAddImm
	OpLoad
	OpStore
)

// An Op is one neutral operation. Dst, Src1, and Src2 index the register
// file; Imm doubles as the load/store displacement; Size is the memory
// access width in bytes.
type Op struct {
	Kind OpKind
	Dst  uint8
	Src1 uint8
	Src2 uint8
	Size uint8
	Imm  int64
}

// TermKind enumerates block terminators.
type TermKind uint8

// The terminator kinds.
const (
	TermFallthrough TermKind = iota
	TermJmp
	TermCondJmp
	TermJmpReg
	TermRet
)

// A Terminator ends a block. Target carries the fallthrough or jump
// destination; CondJmp also uses TargetFalse and the Cond register;
// JmpReg computes Base register plus Offset.
type Terminator struct {
	Kind        TermKind
	Cond        uint8
	Base        uint8
	Target      vm.GuestAddr
	TargetFalse vm.GuestAddr
	Offset      int64
}

// A Block is a straight-line run of operations starting at a guest
// address. Blocks are immutable once built: engines and the compile
// service must not mutate them.
type Block struct {
	Start vm.GuestAddr
	Ops   []Op
	Term  Terminator
}

// Digest returns a content hash over the block's operations and
// terminator. Two blocks at the same start address with different bytes,
// as after self-modifying code, digest differently.
func (b *Block) Digest() uint64 {
	d := xxhash.New()

	var buf [14]byte
	for _, op := range b.Ops {
		buf[0] = byte(op.Kind)
		buf[1] = op.Dst
		buf[2] = op.Src1
		buf[3] = op.Src2
		buf[4] = op.Size
		binary.LittleEndian.PutUint64(buf[5:13], uint64(op.Imm))
		_, _ = d.Write(buf[:13])
	}

	buf[0] = byte(b.Term.Kind)
	buf[1] = b.Term.Cond
	buf[2] = b.Term.Base
	_, _ = d.Write(buf[:3])

	var tail [24]byte
	binary.LittleEndian.PutUint64(tail[0:8], uint64(b.Term.Target))
	binary.LittleEndian.PutUint64(tail[8:16], uint64(b.Term.TargetFalse))
	binary.LittleEndian.PutUint64(tail[16:24], uint64(b.Term.Offset))
	_, _ = d.Write(tail[:])

	return d.Sum64()
}

// ID returns the cache identity of the block.
func (b *Block) ID() BlockID {
	return BlockID{Start: b.Start, Digest: b.Digest()}
}

// A BlockID identifies a block by start address and content digest. Two
// blocks with the same start address but different content are distinct
// identities.
type BlockID struct {
	Start  vm.GuestAddr
	Digest uint64
}

// KeySize is the length of the fixed-width serialized key.
const KeySize = 16

// Key serializes the identity as a fixed-width key for the disk tier.
func (id BlockID) Key() [KeySize]byte {
	var k [KeySize]byte
	binary.BigEndian.PutUint64(k[0:8], uint64(id.Start))
	binary.BigEndian.PutUint64(k[8:16], id.Digest)
	return k
}
