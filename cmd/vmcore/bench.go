package main

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/sarchlab/vmcore"
	"github.com/sarchlab/vmcore/datarecording"
	"github.com/sarchlab/vmcore/exec/executor"
	"github.com/sarchlab/vmcore/exec/ir"
	"github.com/sarchlab/vmcore/exec/jit"
	"github.com/sarchlab/vmcore/mem/vm"
)

var (
	benchIterations uint64
	benchThreshold  int
	benchCacheDir   string
	benchRecord     bool
)

const (
	benchLoopAddr = vm.GuestAddr(0x1000)
	benchExitAddr = vm.GuestAddr(0x2000)
)

// benchProgram is a two-block counting loop: the loop block increments
// r1 until it reaches r2, then falls through to the exit block.
func benchProgram(iterations uint64) map[vm.GuestAddr]*ir.Block {
	return map[vm.GuestAddr]*ir.Block{
		benchLoopAddr: {
			Start: benchLoopAddr,
			Ops: []ir.Op{
				{Kind: ir.OpAddImm, Dst: 1, Src1: 1, Imm: 1},
				{Kind: ir.OpSub, Dst: 3, Src1: 2, Src2: 1},
			},
			Term: ir.Terminator{
				Kind:        ir.TermCondJmp,
				Cond:        3,
				Target:      benchLoopAddr,
				TargetFalse: benchExitAddr,
			},
		},
		benchExitAddr: {
			Start: benchExitAddr,
			Term:  ir.Terminator{Kind: ir.TermRet},
		},
	}
}

var benchCmd = &cobra.Command{
	Use:   "bench",
	Short: "Run a synthetic hot loop through the executor",
	Long: `Bench runs a counting loop through the executor so that the loop
block crosses the hot threshold and gets compiled, then reports the
engine-selection statistics.`,
	Run: func(cmd *cobra.Command, args []string) {
		cfg := vmcore.DefaultConfig()
		cfg.HotThreshold = benchThreshold
		cfg.CacheDir = benchCacheDir

		cfg, err := cfg.ApplyEnv()
		if err != nil {
			log.Fatalf("Error reading environment: %v", err)
		}

		machine, err := vmcore.New("Bench", cfg, jit.NewTableCompiler())
		if err != nil {
			log.Fatalf("Error building VM: %v", err)
		}
		defer machine.Close()

		program := benchProgram(benchIterations)
		fetch := func(addr vm.GuestAddr) (*ir.Block, error) {
			b, ok := program[addr]
			if !ok {
				return nil, fmt.Errorf("no block at %#x", addr)
			}
			return b, nil
		}

		ctx := executor.NewContext()
		ctx.Regs[2] = benchIterations

		start := time.Now()
		addr := benchLoopAddr
		for addr != benchExitAddr {
			addr, err = machine.Executor.Execute(ctx, addr, fetch)
			if err != nil {
				log.Fatalf("Error at %#x: %v", addr, err)
			}
		}
		elapsed := time.Since(start)

		stats := machine.Executor.Stats()
		fmt.Printf("vCPU %s: %d iterations in %v\n",
			ctx.ID, ctx.Regs[1], elapsed)
		fmt.Printf("interpreted:   %d\n", stats.Interpreted)
		fmt.Printf("compiled runs: %d\n", stats.CompiledRuns)
		fmt.Printf("compiles:      %d\n", stats.Compiles)
		fmt.Printf("cache loads:   %d\n", stats.CacheLoads)

		if benchRecord {
			recorder := datarecording.New("")
			collector := datarecording.NewStatsCollector(recorder,
				machine.MMU.TLB(), machine.Executor, machine.Cache)
			collector.Collect()
			recorder.Flush()
		}
	},
}

func init() {
	benchCmd.Flags().Uint64Var(&benchIterations, "iterations", 1000000,
		"loop iterations to run")
	benchCmd.Flags().IntVar(&benchThreshold, "threshold", 0,
		"hot threshold (0 uses the default)")
	benchCmd.Flags().StringVar(&benchCacheDir, "cache-dir", "",
		"artifact directory (empty disables the disk tier)")
	benchCmd.Flags().BoolVar(&benchRecord, "record", false,
		"record statistics into a SQLite database")

	rootCmd.AddCommand(benchCmd)
}
