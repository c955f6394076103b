package mmu

import (
	"fmt"

	"github.com/sarchlab/vmcore/mem/phys"
	"github.com/sarchlab/vmcore/mem/vm"
	"github.com/sarchlab/vmcore/mem/vm/tlb"
	"github.com/sarchlab/vmcore/mem/vm/walker"
)

// A Builder can build MMU components.
type Builder struct {
	mem          *phys.Memory
	tlb          *tlb.Comp
	walkers      []walker.Walker
	mode         vm.PagingMode
	asid         vm.ASID
	log2PageSize uint64
}

// MakeBuilder creates a new Builder with 4 KiB pages and bare paging.
func MakeBuilder() Builder {
	return Builder{
		log2PageSize: 12,
		mode:         vm.PagingModeBare,
	}
}

// WithMemory sets the physical memory the MMU reads and writes.
func (b Builder) WithMemory(mem *phys.Memory) Builder {
	b.mem = mem
	return b
}

// WithTLB sets the TLB the MMU owns. When not provided, a default TLB is
// built.
func (b Builder) WithTLB(t *tlb.Comp) Builder {
	b.tlb = t
	return b
}

// WithWalkers registers the page-table walkers the MMU can switch
// between. Each walker serves the paging mode it reports.
func (b Builder) WithWalkers(ws ...walker.Walker) Builder {
	b.walkers = append(b.walkers, ws...)
	return b
}

// WithPagingMode sets the initially active paging mode.
func (b Builder) WithPagingMode(mode vm.PagingMode) Builder {
	b.mode = mode
	return b
}

// WithASID sets the initial address-space id.
func (b Builder) WithASID(asid vm.ASID) Builder {
	b.asid = asid
	return b
}

// WithLog2PageSize sets the base page size.
func (b Builder) WithLog2PageSize(n uint64) Builder {
	b.log2PageSize = n
	return b
}

// Build returns a newly created MMU. Missing memory or an initial paging
// mode without a registered walker is a configuration mistake and panics.
func (b Builder) Build(name string) *Comp {
	if b.mem == nil {
		panic(fmt.Sprintf("%s: physical memory is not set", name))
	}

	c := &Comp{
		name:         name,
		mem:          b.mem,
		log2PageSize: b.log2PageSize,
		asid:         b.asid,
		walkers:      make(map[vm.PagingMode]walker.Walker),
	}

	if b.tlb != nil {
		c.tlb = b.tlb
	} else {
		c.tlb = tlb.MakeBuilder().
			WithLog2PageSize(b.log2PageSize).
			Build(name + ".TLB")
	}

	walkers := b.walkers
	if len(walkers) == 0 {
		walkers = []walker.Walker{walker.NewBare(b.mem.Capacity())}
	}
	for _, w := range walkers {
		c.walkers[w.Mode()] = w
	}

	active, ok := c.walkers[b.mode]
	if !ok {
		panic(fmt.Sprintf("%s: no walker registered for paging mode %s",
			name, b.mode))
	}
	c.mode = b.mode
	c.active = active

	return c
}
