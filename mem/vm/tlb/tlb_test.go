package tlb

import (
	"sync"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"

	"github.com/sarchlab/vmcore/mem/vm"
)

var _ = Describe("TLB", func() {
	var tlb *Comp

	page := func(vpn uint64, asid vm.ASID) vm.Page {
		return vm.Page{
			VPN:   vpn,
			PPN:   vpn + 0x1000,
			ASID:  asid,
			Perm:  vm.PermRead | vm.PermWrite,
			Valid: true,
		}
	}

	BeforeEach(func() {
		tlb = MakeBuilder().
			WithL1Geometry(4, 2).
			WithL2Geometry(16, 4).
			Build("TLB")
	})

	It("should miss on an empty TLB", func() {
		_, found := tlb.Lookup(1, 0x1000, vm.AccessRead)

		Expect(found).To(BeFalse())
		Expect(tlb.Stats().Misses).To(Equal(uint64(1)))
	})

	It("should hit after insert", func() {
		tlb.Insert(page(1, 1), vm.AccessRead)

		p, found := tlb.Lookup(1, 0x1234, vm.AccessRead)

		Expect(found).To(BeTrue())
		Expect(p.PPN).To(Equal(uint64(0x1001)))
		Expect(tlb.Stats().L1Hits).To(Equal(uint64(1)))
	})

	It("should isolate address spaces", func() {
		tlb.Insert(page(1, 1), vm.AccessRead)

		_, found := tlb.Lookup(2, 0x1234, vm.AccessRead)

		Expect(found).To(BeFalse())
	})

	It("should let global entries match any address space", func() {
		p := page(1, 1)
		p.Global = true
		tlb.Insert(p, vm.AccessRead)

		_, found := tlb.Lookup(7, 0x1234, vm.AccessRead)

		Expect(found).To(BeTrue())
	})

	It("should keep instruction and data banks separate", func() {
		tlb.Insert(page(1, 1), vm.AccessRead)

		_, found := tlb.Lookup(1, 0x1234, vm.AccessExecute)

		Expect(found).To(BeFalse())
	})

	It("should promote a level-2 hit into level 1", func() {
		// Fill the L1 set that VPN 1 and VPN 5 share (4 sets, 2 ways,
		// VPNs 1, 5, 9, 13 all map to set 1) so VPN 1 gets evicted from
		// L1 but survives in L2.
		tlb.Insert(page(1, 1), vm.AccessRead)
		tlb.Insert(page(5, 1), vm.AccessRead)
		tlb.Insert(page(9, 1), vm.AccessRead)

		_, found := tlb.Lookup(1, 0x1000, vm.AccessRead)

		Expect(found).To(BeTrue())
		Expect(tlb.Stats().L2Hits).To(Equal(uint64(1)))

		_, found = tlb.Lookup(1, 0x1000, vm.AccessRead)
		Expect(found).To(BeTrue())
		Expect(tlb.Stats().L1Hits).To(Equal(uint64(1)))
	})

	It("should evict the least recently used entry", func() {
		tlb.Insert(page(1, 1), vm.AccessRead)
		tlb.Insert(page(5, 1), vm.AccessRead)

		// Touch VPN 1 so VPN 5 is the LRU entry of the L1 set.
		tlb.Lookup(1, 0x1000, vm.AccessRead)

		tlb.Insert(page(9, 1), vm.AccessRead)

		_, found1 := tlb.Lookup(1, 0x1000, vm.AccessRead)
		Expect(found1).To(BeTrue())
		Expect(tlb.Stats().Evictions).To(BeNumerically(">", 0))
	})

	It("should be idempotent on duplicate inserts", func() {
		tlb.Insert(page(1, 1), vm.AccessRead)
		tlb.Insert(page(1, 1), vm.AccessRead)

		Expect(tlb.Stats().Evictions).To(Equal(uint64(0)))

		_, found := tlb.Lookup(1, 0x1000, vm.AccessRead)
		Expect(found).To(BeTrue())
	})

	Describe("flushing", func() {
		BeforeEach(func() {
			tlb.Insert(page(1, 1), vm.AccessRead)
			tlb.Insert(page(2, 2), vm.AccessRead)

			global := page(3, 1)
			global.Global = true
			tlb.Insert(global, vm.AccessRead)
		})

		It("should drop everything on Flush", func() {
			tlb.Flush()

			for vpn := uint64(1); vpn <= 3; vpn++ {
				_, found := tlb.Lookup(1, vm.GuestAddr(vpn<<12), vm.AccessRead)
				Expect(found).To(BeFalse())
			}
		})

		It("should drop one address space on FlushASID, sparing globals", func() {
			tlb.FlushASID(1)

			_, found := tlb.Lookup(1, 0x1000, vm.AccessRead)
			Expect(found).To(BeFalse())

			_, found = tlb.Lookup(2, 0x2000, vm.AccessRead)
			Expect(found).To(BeTrue())

			_, found = tlb.Lookup(1, 0x3000, vm.AccessRead)
			Expect(found).To(BeTrue(), "global entries survive FlushASID")
		})

		It("should drop a page everywhere on FlushPage, globals included", func() {
			tlb.FlushPage(0x3000)

			_, found := tlb.Lookup(1, 0x3000, vm.AccessRead)
			Expect(found).To(BeFalse())

			_, found = tlb.Lookup(1, 0x1000, vm.AccessRead)
			Expect(found).To(BeTrue())
		})
	})

	It("should discard a walk result that raced a flush", func() {
		// A walker reads the generation, walks, then inserts. A flush
		// landing between the read and the insert must win.
		gen := tlb.Gen()
		tlb.Flush()

		Expect(tlb.InsertAt(gen, page(1, 1), vm.AccessRead)).To(BeFalse())

		_, found := tlb.Lookup(1, 0x1000, vm.AccessRead)
		Expect(found).To(BeFalse())

		Expect(tlb.InsertAt(tlb.Gen(), page(1, 1), vm.AccessRead)).
			To(BeTrue())

		_, found = tlb.Lookup(1, 0x1000, vm.AccessRead)
		Expect(found).To(BeTrue())
	})

	It("should advance the generation on every flush flavor", func() {
		gen := tlb.Gen()
		tlb.FlushPage(0x1000)
		Expect(tlb.Gen()).To(Equal(gen + 1))

		tlb.FlushASID(1)
		Expect(tlb.Gen()).To(Equal(gen + 2))

		tlb.Flush()
		Expect(tlb.Gen()).To(Equal(gen + 3))
	})

	It("should serve concurrent lookups and inserts", func() {
		var wg sync.WaitGroup
		for g := 0; g < 8; g++ {
			wg.Add(1)
			go func(g int) {
				defer wg.Done()
				for i := 0; i < 1000; i++ {
					vpn := uint64(i % 32)
					tlb.Insert(page(vpn, vm.ASID(g%4)), vm.AccessRead)
					tlb.Lookup(vm.ASID(g%4), vm.GuestAddr(vpn<<12),
						vm.AccessRead)
				}
			}(g)
		}
		wg.Wait()

		stats := tlb.Stats()
		Expect(stats.L1Hits + stats.L2Hits + stats.Misses).
			To(Equal(uint64(8000)))
	})
})
