package vmcore

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sarchlab/vmcore/exec/hotspot"
	"github.com/sarchlab/vmcore/mem/vm"
)

// A Config describes one virtual machine.
type Config struct {
	// MemorySize is the guest physical memory capacity in bytes.
	MemorySize uint64

	// PagingMode is the initial translation scheme.
	PagingMode vm.PagingMode

	// HotThreshold is the execution count that promotes a block to
	// compilation. Zero means the default.
	HotThreshold int

	// MemTierCap bounds the in-memory artifact cache in entries. Zero
	// means the default.
	MemTierCap int

	// DiskTierCap bounds the on-disk artifact cache in files. Zero means
	// unbounded.
	DiskTierCap int

	// CacheDir is the artifact directory. Empty disables the disk tier.
	CacheDir string

	// AsyncCompile moves compilation off the vCPU that trips the
	// threshold.
	AsyncCompile bool
}

// DefaultConfig returns a Config for a 256 MiB bare-paging guest with a
// memory-only artifact cache.
func DefaultConfig() Config {
	return Config{
		MemorySize:   256 * 1024 * 1024,
		PagingMode:   vm.PagingModeBare,
		HotThreshold: hotspot.DefaultThreshold,
	}
}

// Validate reports the first configuration mistake, or nil.
func (c Config) Validate() error {
	if c.MemorySize == 0 {
		return fmt.Errorf("memory size must be positive")
	}
	if c.HotThreshold < 0 {
		return fmt.Errorf("hot threshold must not be negative")
	}
	if c.MemTierCap < 0 {
		return fmt.Errorf("memory tier capacity must not be negative")
	}
	if c.DiskTierCap < 0 {
		return fmt.Errorf("disk tier capacity must not be negative")
	}
	if c.DiskTierCap > 0 && c.CacheDir == "" {
		return fmt.Errorf("disk tier capacity set without a cache dir")
	}
	return nil
}

// ApplyEnv overlays VMCORE_* environment variables onto the config. A
// .env file in the working directory is loaded first when present.
func (c Config) ApplyEnv() (Config, error) {
	_ = godotenv.Load()

	if v := os.Getenv("VMCORE_MEMORY_SIZE"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return c, fmt.Errorf("VMCORE_MEMORY_SIZE: %w", err)
		}
		c.MemorySize = n
	}
	if v := os.Getenv("VMCORE_HOT_THRESHOLD"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("VMCORE_HOT_THRESHOLD: %w", err)
		}
		c.HotThreshold = n
	}
	if v := os.Getenv("VMCORE_CACHE_DIR"); v != "" {
		c.CacheDir = v
	}
	if v := os.Getenv("VMCORE_DISK_TIER_CAP"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return c, fmt.Errorf("VMCORE_DISK_TIER_CAP: %w", err)
		}
		c.DiskTierCap = n
	}
	if v := os.Getenv("VMCORE_ASYNC_COMPILE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return c, fmt.Errorf("VMCORE_ASYNC_COMPILE: %w", err)
		}
		c.AsyncCompile = b
	}
	return c, nil
}
