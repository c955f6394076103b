package aotcache

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sarchlab/vmcore/exec/ir"
	"github.com/sarchlab/vmcore/exec/jit"
	"github.com/sarchlab/vmcore/mem/vm"
)

// diskTier persists one file per artifact under a single directory.
// Writes land in a temporary file first and are renamed into place, so a
// crash never leaves a half-written artifact under a valid name.
type diskTier struct {
	mu       sync.Mutex
	dir      string
	capacity int
}

func newDiskTier(dir string, capacity int) (*diskTier, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir: %w", err)
	}
	return &diskTier{dir: dir, capacity: capacity}, nil
}

func (d *diskTier) load(id ir.BlockID) ([]byte, error) {
	buf, err := os.ReadFile(filepath.Join(d.dir, fileName(id)))
	if err != nil {
		return nil, err
	}
	code, err := decodeArtifact(id, buf)
	if err != nil {
		return nil, err
	}
	now := time.Now()
	_ = os.Chtimes(filepath.Join(d.dir, fileName(id)), now, now)
	return code, nil
}

// store writes the artifact and then trims the tier to capacity,
// removing the least-recently touched files first.
func (d *diskTier) store(id ir.BlockID, code []byte) (evicted int, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	path := filepath.Join(d.dir, fileName(id))
	tmp, err := os.CreateTemp(d.dir, "aot-*.tmp")
	if err != nil {
		return 0, err
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(encodeArtifact(id, code)); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return 0, err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return 0, err
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return 0, err
	}

	return d.trimLocked()
}

func (d *diskTier) remove(id ir.BlockID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_ = os.Remove(filepath.Join(d.dir, fileName(id)))
}

func (d *diskTier) trimLocked() (int, error) {
	if d.capacity <= 0 {
		return 0, nil
	}

	entries, err := ScanDir(d.dir)
	if err != nil {
		return 0, err
	}
	if len(entries) <= d.capacity {
		return 0, nil
	}

	sort.Slice(entries, func(i, j int) bool {
		return entries[i].ModTime.Before(entries[j].ModTime)
	})

	evicted := 0
	for _, e := range entries[:len(entries)-d.capacity] {
		if os.Remove(e.Path) == nil {
			evicted++
		}
	}
	return evicted, nil
}

// An Entry describes one artifact file on disk.
type Entry struct {
	ID      ir.BlockID
	Path    string
	Size    int64
	ModTime time.Time
}

// ScanDir lists the artifact files in dir. Files whose names do not
// follow the artifact naming scheme are skipped.
func ScanDir(dir string) ([]Entry, error) {
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}

	var entries []Entry
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		id, ok := parseFileName(de.Name())
		if !ok {
			continue
		}
		info, err := de.Info()
		if err != nil {
			continue
		}
		entries = append(entries, Entry{
			ID:      id,
			Path:    filepath.Join(dir, de.Name()),
			Size:    info.Size(),
			ModTime: info.ModTime(),
		})
	}
	return entries, nil
}

// VerifyFile checks that path holds a well-formed artifact whose header
// matches its file name and whose code decodes.
func VerifyFile(path string) (ir.BlockID, error) {
	id, ok := parseFileName(filepath.Base(path))
	if !ok {
		return ir.BlockID{}, fmt.Errorf("%s: not an artifact file name",
			filepath.Base(path))
	}

	buf, err := os.ReadFile(path)
	if err != nil {
		return id, err
	}
	code, err := decodeArtifact(id, buf)
	if err != nil {
		return id, err
	}
	if _, err := jit.FromCode(id, code); err != nil {
		return id, err
	}
	return id, nil
}

func parseFileName(name string) (ir.BlockID, bool) {
	name, ok := strings.CutSuffix(name, ".aot")
	if !ok {
		return ir.BlockID{}, false
	}
	parts := strings.Split(name, "-")
	if len(parts) != 2 || len(parts[0]) != 16 || len(parts[1]) != 16 {
		return ir.BlockID{}, false
	}

	start, err := strconv.ParseUint(parts[0], 16, 64)
	if err != nil {
		return ir.BlockID{}, false
	}
	digest, err := strconv.ParseUint(parts[1], 16, 64)
	if err != nil {
		return ir.BlockID{}, false
	}
	return ir.BlockID{Start: vm.GuestAddr(start), Digest: digest}, true
}
