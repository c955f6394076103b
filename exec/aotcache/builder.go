package aotcache

import (
	"container/list"
	"fmt"

	"github.com/sarchlab/vmcore/exec/ir"
)

// A Builder can build artifact caches.
type Builder struct {
	memCapacity  int
	diskCapacity int
	dir          string
}

// MakeBuilder creates a Builder with a 256-entry memory tier and no disk
// tier.
func MakeBuilder() Builder {
	return Builder{memCapacity: 256}
}

// WithMemCapacity sets the maximum number of memory-tier entries.
func (b Builder) WithMemCapacity(n int) Builder {
	b.memCapacity = n
	return b
}

// WithDiskCapacity caps the number of disk-tier files. Zero means
// unbounded.
func (b Builder) WithDiskCapacity(n int) Builder {
	b.diskCapacity = n
	return b
}

// WithDir enables the disk tier rooted at dir.
func (b Builder) WithDir(dir string) Builder {
	b.dir = dir
	return b
}

// Build returns a newly created cache. The disk directory is created if
// missing; failure to do so is returned, not panicked, since it depends
// on the host environment rather than on configuration shape.
func (b Builder) Build(name string) (*Comp, error) {
	if b.memCapacity <= 0 {
		panic(fmt.Sprintf("%s: memory tier capacity must be positive", name))
	}

	c := &Comp{
		name:     name,
		capacity: b.memCapacity,
		entries:  make(map[ir.BlockID]*list.Element),
		lru:      list.New(),
	}

	if b.dir != "" {
		disk, err := newDiskTier(b.dir, b.diskCapacity)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
		c.disk = disk
	}

	return c, nil
}
