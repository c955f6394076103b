package executor_test

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/vmcore/exec/aotcache"
	"github.com/sarchlab/vmcore/exec/executor"
	"github.com/sarchlab/vmcore/exec/hotspot"
	"github.com/sarchlab/vmcore/exec/ir"
	"github.com/sarchlab/vmcore/exec/jit"
	"github.com/sarchlab/vmcore/mem/phys"
	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/mmu"
	"github.com/sarchlab/vmcore/mem/vm/walker"
)

func guestMemory() *mmu.Comp {
	memory := phys.NewMemory(1 << 20)
	return mmu.MakeBuilder().
		WithMemory(memory).
		WithWalkers(walker.NewBare(memory.Capacity())).
		Build("MMU")
}

func incBlock(start vm.GuestAddr, step int64) *ir.Block {
	return &ir.Block{
		Start: start,
		Ops:   []ir.Op{{Kind: ir.OpAddImm, Dst: 1, Src1: 1, Imm: step}},
		Term:  ir.Terminator{Kind: ir.TermRet},
	}
}

func fetchOf(blocks ...*ir.Block) executor.FetchFunc {
	table := make(map[vm.GuestAddr]*ir.Block)
	for _, b := range blocks {
		table[b.Start] = b
	}
	return func(addr vm.GuestAddr) (*ir.Block, error) {
		return table[addr], nil
	}
}

var _ = Describe("Executor", func() {
	var (
		mockCtrl *gomock.Controller
		compiler *MockCompileService
		exe      *executor.Comp
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		compiler = NewMockCompileService(mockCtrl)
	})

	AfterEach(func() {
		exe.Close()
		mockCtrl.Finish()
	})

	It("should interpret cold blocks without compiling", func() {
		exe = executor.MakeBuilder().
			WithMemory(guestMemory()).
			WithCompiler(compiler).
			WithHotThreshold(100).
			Build("Executor")

		block := incBlock(0x1000, 1)
		ctx := executor.NewContext()

		for i := 0; i < 99; i++ {
			_, err := exe.Execute(ctx, 0x1000, fetchOf(block))
			Expect(err).ToNot(HaveOccurred())
		}

		Expect(ctx.Regs[1]).To(Equal(uint64(99)))
		Expect(exe.Stats().Interpreted).To(Equal(uint64(99)))
		Expect(exe.Stats().Compiles).To(Equal(uint64(0)))
	})

	It("should compile exactly at the hot threshold", func() {
		exe = executor.MakeBuilder().
			WithMemory(guestMemory()).
			WithCompiler(compiler).
			WithHotThreshold(100).
			Build("Executor")

		block := incBlock(0x1000, 1)
		cb, err := jit.NewTableCompiler().Compile(block)
		Expect(err).ToNot(HaveOccurred())

		compiler.EXPECT().
			Compile(block).
			Return(cb, nil).
			Times(1)

		ctx := executor.NewContext()
		for i := 0; i < 101; i++ {
			_, err := exe.Execute(ctx, 0x1000, fetchOf(block))
			Expect(err).ToNot(HaveOccurred())
		}

		Expect(ctx.Regs[1]).To(Equal(uint64(101)))

		stats := exe.Stats()
		Expect(stats.Compiles).To(Equal(uint64(1)))
		Expect(stats.Interpreted).To(Equal(uint64(100)),
			"executions 1-100 interpret; execution 101 runs compiled code")
		Expect(stats.CompiledRuns).To(Equal(uint64(1)))
	})

	It("should compile at most once under concurrent triggers", func() {
		exe = executor.MakeBuilder().
			WithMemory(guestMemory()).
			WithCompiler(compiler).
			WithHotThreshold(100).
			Build("Executor")

		block := incBlock(0x1000, 1)
		cb, err := jit.NewTableCompiler().Compile(block)
		Expect(err).ToNot(HaveOccurred())

		compiler.EXPECT().
			Compile(block).
			Return(cb, nil).
			Times(1)

		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer GinkgoRecover()
				ctx := executor.NewContext()
				for i := 0; i < 100; i++ {
					_, err := exe.Execute(ctx, 0x1000, fetchOf(block))
					Expect(err).ToNot(HaveOccurred())
				}
			}()
		}
		wg.Wait()

		Expect(exe.Stats().Compiles).To(Equal(uint64(1)))
	})

	It("should fall back to interpreting when compilation fails", func() {
		exe = executor.MakeBuilder().
			WithMemory(guestMemory()).
			WithCompiler(compiler).
			WithHotThreshold(3).
			Build("Executor")

		block := incBlock(0x1000, 1)

		compiler.EXPECT().
			Compile(block).
			Return(nil, &jit.CompileError{ID: block.ID(), Reason: "backend down"}).
			Times(1)

		ctx := executor.NewContext()
		for i := 0; i < 10; i++ {
			_, err := exe.Execute(ctx, 0x1000, fetchOf(block))
			Expect(err).ToNot(HaveOccurred())
		}

		Expect(ctx.Regs[1]).To(Equal(uint64(10)),
			"every execution fell back to the interpreter")

		stats := exe.Stats()
		Expect(stats.CompileFails).To(Equal(uint64(1)))
		Expect(stats.CompiledRuns).To(Equal(uint64(0)))
		Expect(exe.Tracker().State(0x1000)).To(Equal(hotspot.StateHot))
	})

	It("should never run a stale artifact after the block changed", func() {
		exe = executor.MakeBuilder().
			WithMemory(guestMemory()).
			WithCompiler(compiler).
			WithHotThreshold(2).
			Build("Executor")

		oldBlock := incBlock(0x1000, 1)
		cb, err := jit.NewTableCompiler().Compile(oldBlock)
		Expect(err).ToNot(HaveOccurred())

		compiler.EXPECT().
			Compile(oldBlock).
			Return(cb, nil).
			Times(1)

		ctx := executor.NewContext()
		for i := 0; i < 3; i++ {
			_, err := exe.Execute(ctx, 0x1000, fetchOf(oldBlock))
			Expect(err).ToNot(HaveOccurred())
		}
		Expect(ctx.Regs[1]).To(Equal(uint64(3)))

		// The guest rewrites the block: same address, new bytes.
		newBlock := incBlock(0x1000, 100)

		_, err = exe.Execute(ctx, 0x1000, fetchOf(newBlock))
		Expect(err).ToNot(HaveOccurred())
		Expect(ctx.Regs[1]).To(Equal(uint64(103)),
			"the new semantics ran, not the stale artifact")
		Expect(exe.Tracker().State(0x1000)).To(Equal(hotspot.StateHot),
			"the block was demoted when its artifact went stale")
	})

	It("should drop artifact and heat on InvalidateBlock", func() {
		exe = executor.MakeBuilder().
			WithMemory(guestMemory()).
			WithCompiler(compiler).
			WithHotThreshold(2).
			Build("Executor")

		block := incBlock(0x1000, 1)
		cb, err := jit.NewTableCompiler().Compile(block)
		Expect(err).ToNot(HaveOccurred())

		compiler.EXPECT().Compile(block).Return(cb, nil).Times(1)

		ctx := executor.NewContext()
		for i := 0; i < 3; i++ {
			_, err := exe.Execute(ctx, 0x1000, fetchOf(block))
			Expect(err).ToNot(HaveOccurred())
		}

		exe.InvalidateBlock(block.ID())

		Expect(exe.Tracker().State(0x1000)).To(Equal(hotspot.StateWarm))
		_, found := exe.Cache().Lookup(block.ID())
		Expect(found).To(BeFalse())
	})

	It("should reuse a persisted artifact instead of recompiling", func() {
		dir := GinkgoT().TempDir()

		cache1, err := aotcache.MakeBuilder().WithDir(dir).Build("Cache1")
		Expect(err).ToNot(HaveOccurred())

		first := executor.MakeBuilder().
			WithMemory(guestMemory()).
			WithCompiler(jit.NewTableCompiler()).
			WithHotThreshold(2).
			WithCache(cache1).
			Build("Executor1")

		block := incBlock(0x1000, 1)
		ctx := executor.NewContext()
		for i := 0; i < 2; i++ {
			_, err := first.Execute(ctx, 0x1000, fetchOf(block))
			Expect(err).ToNot(HaveOccurred())
		}
		first.Close()

		// A fresh executor over the same directory: the compile service
		// must never be called.
		cache2, err := aotcache.MakeBuilder().WithDir(dir).Build("Cache2")
		Expect(err).ToNot(HaveOccurred())

		exe = executor.MakeBuilder().
			WithMemory(guestMemory()).
			WithCompiler(compiler).
			WithHotThreshold(2).
			WithCache(cache2).
			Build("Executor2")

		ctx2 := executor.NewContext()
		for i := 0; i < 3; i++ {
			_, err := exe.Execute(ctx2, 0x1000, fetchOf(block))
			Expect(err).ToNot(HaveOccurred())
		}

		stats := exe.Stats()
		Expect(stats.CacheLoads).To(Equal(uint64(1)))
		Expect(stats.Compiles).To(Equal(uint64(0)))
		Expect(stats.CompiledRuns).To(Equal(uint64(1)))
	})

	It("should survive invalidation racing compiled runs", func() {
		exe = executor.MakeBuilder().
			WithMemory(guestMemory()).
			WithCompiler(jit.NewTableCompiler()).
			WithHotThreshold(2).
			Build("Executor")

		block := incBlock(0x1000, 1)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			defer GinkgoRecover()
			ctx := executor.NewContext()
			for i := 0; i < 2000; i++ {
				_, err := exe.Execute(ctx, 0x1000, fetchOf(block))
				Expect(err).ToNot(HaveOccurred())
			}
		}()
		go func() {
			defer wg.Done()
			for i := 0; i < 2000; i++ {
				exe.InvalidateBlock(block.ID())
			}
		}()
		wg.Wait()
	})

	It("should return guest faults with partial register state", func() {
		exe = executor.MakeBuilder().
			WithMemory(guestMemory()).
			WithCompiler(compiler).
			Build("Executor")

		faulting := &ir.Block{
			Start: 0x1000,
			Ops: []ir.Op{
				{Kind: ir.OpMovImm, Dst: 1, Imm: 7},
				{Kind: ir.OpMovImm, Dst: 2, Imm: 1 << 30},
				{Kind: ir.OpLoad, Dst: 3, Src1: 2, Size: 8},
			},
			Term: ir.Terminator{Kind: ir.TermRet},
		}

		ctx := executor.NewContext()
		_, err := exe.Execute(ctx, 0x1000, fetchOf(faulting))

		Expect(err).To(HaveOccurred())
		Expect(ctx.Regs[1]).To(Equal(uint64(7)))
	})
})
