package datarecording

import (
	"time"

	"github.com/sarchlab/vmcore/exec/aotcache"
	"github.com/sarchlab/vmcore/exec/executor"
	"github.com/sarchlab/vmcore/mem/vm/tlb"
)

// TLBStatRow is one TLB counter snapshot.
type TLBStatRow struct {
	Seq       int64
	UnixMilli int64
	L1Hits    uint64
	L2Hits    uint64
	Misses    uint64
	Evictions uint64
}

// ExecutorStatRow is one executor counter snapshot.
type ExecutorStatRow struct {
	Seq          int64
	UnixMilli    int64
	Interpreted  uint64
	CompiledRuns uint64
	Compiles     uint64
	CompileFails uint64
	CacheLoads   uint64
}

// CacheStatRow is one artifact-cache counter snapshot.
type CacheStatRow struct {
	Seq           int64
	UnixMilli     int64
	MemHits       uint64
	DiskHits      uint64
	Misses        uint64
	MemEvictions  uint64
	DiskEvictions uint64
}

// A StatsCollector snapshots component counters into a DataRecorder.
type StatsCollector struct {
	recorder DataRecorder
	tlb      *tlb.Comp
	exec     *executor.Comp
	cache    *aotcache.Comp
	seq      int64
}

// NewStatsCollector creates a collector and its tables. Any of the
// components may be nil; that component is simply not recorded.
func NewStatsCollector(
	recorder DataRecorder,
	t *tlb.Comp,
	exec *executor.Comp,
	cache *aotcache.Comp,
) *StatsCollector {
	c := &StatsCollector{recorder: recorder, tlb: t, exec: exec, cache: cache}

	if t != nil {
		recorder.CreateTable("tlb_stats", TLBStatRow{})
	}
	if exec != nil {
		recorder.CreateTable("executor_stats", ExecutorStatRow{})
	}
	if cache != nil {
		recorder.CreateTable("cache_stats", CacheStatRow{})
	}

	return c
}

// Collect records one snapshot of every attached component.
func (c *StatsCollector) Collect() {
	c.seq++
	now := time.Now().UnixMilli()

	if c.tlb != nil {
		s := c.tlb.Stats()
		c.recorder.InsertData("tlb_stats", TLBStatRow{
			Seq:       c.seq,
			UnixMilli: now,
			L1Hits:    s.L1Hits,
			L2Hits:    s.L2Hits,
			Misses:    s.Misses,
			Evictions: s.Evictions,
		})
	}
	if c.exec != nil {
		s := c.exec.Stats()
		c.recorder.InsertData("executor_stats", ExecutorStatRow{
			Seq:          c.seq,
			UnixMilli:    now,
			Interpreted:  s.Interpreted,
			CompiledRuns: s.CompiledRuns,
			Compiles:     s.Compiles,
			CompileFails: s.CompileFails,
			CacheLoads:   s.CacheLoads,
		})
	}
	if c.cache != nil {
		s := c.cache.Stats()
		c.recorder.InsertData("cache_stats", CacheStatRow{
			Seq:           c.seq,
			UnixMilli:     now,
			MemHits:       s.MemHits,
			DiskHits:      s.DiskHits,
			Misses:        s.Misses,
			MemEvictions:  s.MemEvictions,
			DiskEvictions: s.DiskEvictions,
		})
	}
}
