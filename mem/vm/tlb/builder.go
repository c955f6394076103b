package tlb

// A Builder can build TLB components.
type Builder struct {
	log2PageSize uint64
	l1NumSets    int
	l1NumWays    int
	l2NumSets    int
	l2NumWays    int
}

// MakeBuilder creates a Builder with default parameters: a 16-set, 4-way
// level 1 backed by a 64-set, 8-way level 2, 4 KiB pages.
func MakeBuilder() Builder {
	return Builder{
		log2PageSize: 12,
		l1NumSets:    16,
		l1NumWays:    4,
		l2NumSets:    64,
		l2NumWays:    8,
	}
}

// WithLog2PageSize sets the base page size the TLB caches at.
func (b Builder) WithLog2PageSize(n uint64) Builder {
	b.log2PageSize = n
	return b
}

// WithL1Geometry sets the number of sets and ways of level 1.
func (b Builder) WithL1Geometry(numSets, numWays int) Builder {
	b.l1NumSets = numSets
	b.l1NumWays = numWays
	return b
}

// WithL2Geometry sets the number of sets and ways of level 2.
func (b Builder) WithL2Geometry(numSets, numWays int) Builder {
	b.l2NumSets = numSets
	b.l2NumWays = numWays
	return b
}

// Build returns a newly created TLB.
func (b Builder) Build(name string) *Comp {
	if b.l1NumSets <= 0 || b.l1NumWays <= 0 ||
		b.l2NumSets <= 0 || b.l2NumWays <= 0 {
		panic("TLB geometry must be positive")
	}

	c := &Comp{
		name:         name,
		log2PageSize: b.log2PageSize,
		l1:           newLevel(b.l1NumSets, b.l1NumWays),
		l2:           newLevel(b.l2NumSets, b.l2NumWays),
	}

	return c
}
