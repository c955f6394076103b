package mmu

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"go.uber.org/mock/gomock"

	"github.com/sarchlab/vmcore/mem/phys"
	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/walker"
)

var _ = Describe("MMU", func() {
	var (
		mockCtrl   *gomock.Controller
		memory     *phys.Memory
		mockWalker *MockWalker
		mmu        *Comp
	)

	BeforeEach(func() {
		mockCtrl = gomock.NewController(GinkgoT())
		memory = phys.NewMemory(1 << 24)

		mockWalker = NewMockWalker(mockCtrl)
		mockWalker.EXPECT().Mode().
			Return(vm.PagingModeSv39).
			AnyTimes()

		mmu = MakeBuilder().
			WithMemory(memory).
			WithWalkers(mockWalker).
			WithPagingMode(vm.PagingModeSv39).
			Build("MMU")
	})

	AfterEach(func() {
		mockCtrl.Finish()
	})

	It("should cache translations in the TLB", func() {
		mockWalker.EXPECT().
			Walk(vm.GuestAddr(0x1234), vm.AccessRead).
			Return(walker.Result{
				PAddr:    0x5234,
				PageSize: 4096,
				Perm:     vm.PermRead | vm.PermWrite,
			}, nil).
			Times(1)

		paddr, err := mmu.Translate(0x1234, vm.AccessRead)
		Expect(err).ToNot(HaveOccurred())
		Expect(paddr).To(Equal(vm.GuestPhysAddr(0x5234)))

		// Same page, different offset: served from the TLB.
		paddr, err = mmu.Translate(0x1400, vm.AccessRead)
		Expect(err).ToNot(HaveOccurred())
		Expect(paddr).To(Equal(vm.GuestPhysAddr(0x5400)))
	})

	It("should re-walk after FlushTLBPage", func() {
		mockWalker.EXPECT().
			Walk(vm.GuestAddr(0x1234), vm.AccessRead).
			Return(walker.Result{
				PAddr:    0x5234,
				PageSize: 4096,
				Perm:     vm.PermRead,
			}, nil).
			Times(2)

		_, err := mmu.Translate(0x1234, vm.AccessRead)
		Expect(err).ToNot(HaveOccurred())

		mmu.FlushTLBPage(0x1234)

		_, err = mmu.Translate(0x1234, vm.AccessRead)
		Expect(err).ToNot(HaveOccurred())
	})

	It("should not cache a translation flushed during its walk", func() {
		mockWalker.EXPECT().
			Walk(vm.GuestAddr(0x1234), vm.AccessRead).
			DoAndReturn(func(
				addr vm.GuestAddr,
				access vm.AccessType,
			) (walker.Result, error) {
				mmu.FlushTLB()
				return walker.Result{
					PAddr:    0x5234,
					PageSize: 4096,
					Perm:     vm.PermRead,
				}, nil
			}).
			Times(1)
		mockWalker.EXPECT().
			Walk(vm.GuestAddr(0x1234), vm.AccessRead).
			Return(walker.Result{
				PAddr:    0x5234,
				PageSize: 4096,
				Perm:     vm.PermRead,
			}, nil).
			Times(1)

		_, err := mmu.Translate(0x1234, vm.AccessRead)
		Expect(err).ToNot(HaveOccurred())

		// The first walk raced the flush, so its result was not cached
		// and the next access walks again.
		_, err = mmu.Translate(0x1234, vm.AccessRead)
		Expect(err).ToNot(HaveOccurred())
	})

	It("should fault a write through a read-only cached entry", func() {
		mockWalker.EXPECT().
			Walk(vm.GuestAddr(0x1234), vm.AccessRead).
			Return(walker.Result{
				PAddr:    0x5234,
				PageSize: 4096,
				Perm:     vm.PermRead,
			}, nil).
			Times(1)

		_, err := mmu.Translate(0x1234, vm.AccessRead)
		Expect(err).ToNot(HaveOccurred())

		_, err = mmu.Translate(0x1240, vm.AccessWrite)
		fault, ok := err.(*vm.Fault)
		Expect(ok).To(BeTrue())
		Expect(fault.Kind).To(Equal(vm.FaultPermission))
	})

	It("should propagate walker faults without panicking", func() {
		mockWalker.EXPECT().
			Walk(vm.GuestAddr(0xDEAD000), vm.AccessRead).
			Return(walker.Result{},
				vm.NewFault(vm.FaultPage, 0xDEAD000, vm.AccessRead))

		_, err := mmu.Translate(0xDEAD000, vm.AccessRead)
		fault, ok := err.(*vm.Fault)
		Expect(ok).To(BeTrue())
		Expect(fault.Kind).To(Equal(vm.FaultPage))
	})

	It("should fault a straddling access with mismatched permissions", func() {
		mockWalker.EXPECT().
			Walk(vm.GuestAddr(0x1FFC), vm.AccessRead).
			Return(walker.Result{
				PAddr:    0x1FFC,
				PageSize: 4096,
				Perm:     vm.PermRead | vm.PermWrite,
			}, nil)
		mockWalker.EXPECT().
			Walk(vm.GuestAddr(0x2003), vm.AccessRead).
			Return(walker.Result{
				PAddr:    0x2003,
				PageSize: 4096,
				Perm:     vm.PermRead,
			}, nil)

		_, err := mmu.Read(0x1FFC, 8)
		fault, ok := err.(*vm.Fault)
		Expect(ok).To(BeTrue())
		Expect(fault.Kind).To(Equal(vm.FaultAlignment))
	})

	It("should reject scalar widths other than 1, 2, 4, 8", func() {
		_, err := mmu.Read(0x1000, 3)
		fault, ok := err.(*vm.Fault)
		Expect(ok).To(BeTrue())
		Expect(fault.Kind).To(Equal(vm.FaultAlignment))
	})

	It("should re-walk after an address-space switch", func() {
		mockWalker.EXPECT().
			Walk(vm.GuestAddr(0x1234), vm.AccessRead).
			Return(walker.Result{
				PAddr:    0x5234,
				PageSize: 4096,
				Perm:     vm.PermRead,
			}, nil).
			Times(2)

		_, err := mmu.Translate(0x1234, vm.AccessRead)
		Expect(err).ToNot(HaveOccurred())

		mmu.SetASID(2)

		_, err = mmu.Translate(0x1234, vm.AccessRead)
		Expect(err).ToNot(HaveOccurred())
	})

	It("should refuse to switch to an unregistered paging mode", func() {
		err := mmu.SetPagingMode(vm.PagingModeX86_64)
		Expect(err).To(HaveOccurred())
		Expect(mmu.PagingMode()).To(Equal(vm.PagingModeSv39))
	})

	It("should flush the TLB on a paging mode switch", func() {
		mockWalker.EXPECT().
			Walk(vm.GuestAddr(0x1234), vm.AccessRead).
			Return(walker.Result{
				PAddr:    0x5234,
				PageSize: 4096,
				Perm:     vm.PermRead,
			}, nil).
			Times(2)

		bare := walker.NewBare(memory.Capacity())
		mmu2 := MakeBuilder().
			WithMemory(memory).
			WithWalkers(mockWalker, bare).
			WithPagingMode(vm.PagingModeSv39).
			Build("MMU2")

		_, err := mmu2.Translate(0x1234, vm.AccessRead)
		Expect(err).ToNot(HaveOccurred())

		Expect(mmu2.SetPagingMode(vm.PagingModeBare)).To(Succeed())
		Expect(mmu2.SetPagingMode(vm.PagingModeSv39)).To(Succeed())

		_, err = mmu2.Translate(0x1234, vm.AccessRead)
		Expect(err).ToNot(HaveOccurred())
	})
})

var _ = Describe("MMU with identity paging", func() {
	var (
		memory *phys.Memory
		bare   *walker.Bare
		mmu    *Comp
	)

	BeforeEach(func() {
		memory = phys.NewMemory(1 << 24)
		bare = walker.NewBare(memory.Capacity())

		mmu = MakeBuilder().
			WithMemory(memory).
			WithWalkers(bare).
			Build("MMU")
	})

	It("should round-trip scalars through guest addresses", func() {
		Expect(mmu.Write(0x1000, 8, 0xAABBCCDD11223344)).To(Succeed())

		v, err := mmu.Read(0x1000, 8)
		Expect(err).ToNot(HaveOccurred())
		Expect(v).To(Equal(uint64(0xAABBCCDD11223344)))

		v, err = mmu.Read(0x1000, 1)
		Expect(err).ToNot(HaveOccurred())
		Expect(v).To(Equal(uint64(0x44)), "scalars are little-endian")
	})

	It("should walk each page exactly once on a bulk transfer", func() {
		data := make([]byte, 3*4096)
		for i := range data {
			data[i] = byte(i)
		}

		Expect(mmu.WriteBulk(0x2800, data)).To(Succeed())

		// 0x2800..0x5800 touches pages 2, 3, 4, and 5.
		Expect(bare.WalkCount()).To(Equal(uint64(4)))

		buf := make([]byte, 3*4096)
		Expect(mmu.ReadBulk(0x2800, buf)).To(Succeed())
		Expect(buf).To(Equal(data))

		// The read is served entirely from the TLB.
		Expect(bare.WalkCount()).To(Equal(uint64(4)))
	})

	It("should fetch instructions with execute permission", func() {
		code := []byte{0x90, 0x90, 0xC3}
		Expect(mmu.WriteBulk(0x4000, code)).To(Succeed())

		got, err := mmu.FetchInstruction(0x4000, 3)
		Expect(err).ToNot(HaveOccurred())
		Expect(got).To(Equal(code))
	})

	It("should load a boot image and read it back", func() {
		image := make([]byte, 1<<20)
		for i := range image {
			image[i] = byte(i * 7)
		}

		Expect(mmu.WriteBulk(0x10_0000, image)).To(Succeed())

		got := make([]byte, len(image))
		Expect(mmu.ReadBulk(0x10_0000, got)).To(Succeed())
		Expect(got).To(Equal(image))
	})
})
