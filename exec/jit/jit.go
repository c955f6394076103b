// Package jit defines the compile-service contract of the executor and a
// table-driven reference compiler. The reference compiler lowers a block
// to a compact bytecode that is position independent, so the same bytes
// can be cached in memory, persisted to disk, and reloaded across runs.
package jit

import (
	"fmt"

	"github.com/sarchlab/vmcore/exec/ir"
)

// A CompileService turns blocks into compiled code. Implementations must
// be safe for concurrent Compile calls; the executor invokes the service
// from multiple vCPUs.
type CompileService interface {
	Compile(b *ir.Block) (*CompiledBlock, error)
}

// A CompileError reports that a block could not be compiled. The executor
// treats it as a soft failure and keeps interpreting the block.
type CompileError struct {
	ID     ir.BlockID
	Reason string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("compile block %#x (digest %016x): %s",
		e.ID.Start, e.ID.Digest, e.Reason)
}

// TableCompiler is the reference compile service. It performs a single
// pass over the block and emits one bytecode record per operation.
type TableCompiler struct{}

// NewTableCompiler creates a TableCompiler.
func NewTableCompiler() *TableCompiler {
	return &TableCompiler{}
}

// Compile lowers b. Blocks containing operations the encoder has no
// entry for fail with a CompileError.
func (c *TableCompiler) Compile(b *ir.Block) (*CompiledBlock, error) {
	id := b.ID()

	code, err := encode(b)
	if err != nil {
		return nil, &CompileError{ID: id, Reason: err.Error()}
	}

	return newCompiledBlock(id, code, b), nil
}
