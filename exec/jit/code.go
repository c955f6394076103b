package jit

import (
	"encoding/binary"
	"fmt"

	"github.com/sarchlab/vmcore/exec/ir"
	"github.com/sarchlab/vmcore/mem/vm"
)

// Bytecode layout: a 4-byte operation count, one 13-byte record per
// operation, then a 27-byte terminator record. All integers are
// little-endian.
const (
	opRecordSize   = 13
	termRecordSize = 27
)

func encode(b *ir.Block) ([]byte, error) {
	code := make([]byte, 0, 4+len(b.Ops)*opRecordSize+termRecordSize)
	code = binary.LittleEndian.AppendUint32(code, uint32(len(b.Ops)))

	for _, op := range b.Ops {
		if op.Kind > ir.OpStore {
			return nil, fmt.Errorf("no encoding for op kind %d", op.Kind)
		}
		code = append(code,
			byte(op.Kind), op.Dst, op.Src1, op.Src2, op.Size)
		code = binary.LittleEndian.AppendUint64(code, uint64(op.Imm))
	}

	if b.Term.Kind > ir.TermRet {
		return nil, fmt.Errorf("no encoding for terminator kind %d",
			b.Term.Kind)
	}
	code = append(code, byte(b.Term.Kind), b.Term.Cond, b.Term.Base)
	code = binary.LittleEndian.AppendUint64(code, uint64(b.Term.Target))
	code = binary.LittleEndian.AppendUint64(code, uint64(b.Term.TargetFalse))
	code = binary.LittleEndian.AppendUint64(code, uint64(b.Term.Offset))

	return code, nil
}

// decode rebuilds the block body from bytecode. It is the inverse of
// encode and rejects truncated or oversized input.
func decode(start vm.GuestAddr, code []byte) (*ir.Block, error) {
	if len(code) < 4 {
		return nil, fmt.Errorf("bytecode truncated: %d bytes", len(code))
	}
	numOps := int(binary.LittleEndian.Uint32(code))
	want := 4 + numOps*opRecordSize + termRecordSize
	if len(code) != want {
		return nil, fmt.Errorf("bytecode length %d, want %d for %d ops",
			len(code), want, numOps)
	}

	b := &ir.Block{Start: start, Ops: make([]ir.Op, numOps)}

	pos := 4
	for i := 0; i < numOps; i++ {
		rec := code[pos : pos+opRecordSize]
		if rec[0] > byte(ir.OpStore) {
			return nil, fmt.Errorf("unknown op kind %d in record %d",
				rec[0], i)
		}
		b.Ops[i] = ir.Op{
			Kind: ir.OpKind(rec[0]),
			Dst:  rec[1],
			Src1: rec[2],
			Src2: rec[3],
			Size: rec[4],
			Imm:  int64(binary.LittleEndian.Uint64(rec[5:13])),
		}
		pos += opRecordSize
	}

	rec := code[pos : pos+termRecordSize]
	if rec[0] > byte(ir.TermRet) {
		return nil, fmt.Errorf("unknown terminator kind %d", rec[0])
	}
	b.Term = ir.Terminator{
		Kind:        ir.TermKind(rec[0]),
		Cond:        rec[1],
		Base:        rec[2],
		Target:      vm.GuestAddr(binary.LittleEndian.Uint64(rec[3:11])),
		TargetFalse: vm.GuestAddr(binary.LittleEndian.Uint64(rec[11:19])),
		Offset:      int64(binary.LittleEndian.Uint64(rec[19:27])),
	}

	return b, nil
}
