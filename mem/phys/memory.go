// Package phys provides the flat physical memory backing a guest.
package phys

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/sarchlab/vmcore/mem/vm"
)

// A Memory is the byte-addressable backing store of a guest. It manages the
// storage in units so that untouched regions allocate nothing. When a
// hardware accelerator maps guest memory directly, the same Memory must be
// the backing store handed to it; there is never a second copy.
type Memory struct {
	mu       sync.RWMutex
	unitSize uint64
	capacity uint64
	data     map[uint64][]byte
}

// NewMemory creates a Memory with the given capacity in bytes.
func NewMemory(capacity uint64) *Memory {
	return &Memory{
		unitSize: 4096,
		capacity: capacity,
		data:     make(map[uint64][]byte),
	}
}

// Capacity returns the memory size in bytes.
func (m *Memory) Capacity() uint64 {
	return m.capacity
}

func (m *Memory) parseAddress(addr uint64) (baseAddr, inUnitAddr uint64) {
	inUnitAddr = addr % m.unitSize
	baseAddr = addr - inUnitAddr
	return
}

func (m *Memory) unit(addr uint64) []byte {
	baseAddr, _ := m.parseAddress(addr)

	m.mu.RLock()
	unit, ok := m.data[baseAddr]
	m.mu.RUnlock()
	if ok {
		return unit
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	unit, ok = m.data[baseAddr]
	if !ok {
		unit = make([]byte, m.unitSize)
		m.data[baseAddr] = unit
	}
	return unit
}

func (m *Memory) checkBounds(addr vm.GuestPhysAddr, n uint64) error {
	if uint64(addr)+n > m.capacity {
		return fmt.Errorf(
			"physical access [0x%x, 0x%x) beyond capacity 0x%x",
			uint64(addr), uint64(addr)+n, m.capacity)
	}
	return nil
}

// Read returns n bytes starting at addr. The copy is performed per unit,
// not per byte.
func (m *Memory) Read(addr vm.GuestPhysAddr, n uint64) ([]byte, error) {
	buf := make([]byte, n)
	if err := m.ReadInto(addr, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadInto fills buf with the bytes starting at addr.
func (m *Memory) ReadInto(addr vm.GuestPhysAddr, buf []byte) error {
	if err := m.checkBounds(addr, uint64(len(buf))); err != nil {
		return err
	}

	currAddr := uint64(addr)
	dataOffset := uint64(0)
	lenLeft := uint64(len(buf))

	for lenLeft > 0 {
		unit := m.unit(currAddr)
		baseAddr, inUnitAddr := m.parseAddress(currAddr)

		lenToRead := baseAddr + m.unitSize - currAddr
		if lenLeft < lenToRead {
			lenToRead = lenLeft
		}

		copy(buf[dataOffset:dataOffset+lenToRead],
			unit[inUnitAddr:inUnitAddr+lenToRead])
		lenLeft -= lenToRead
		dataOffset += lenToRead
		currAddr += lenToRead
	}

	return nil
}

// Write stores data starting at addr. The copy is performed per unit, not
// per byte.
func (m *Memory) Write(addr vm.GuestPhysAddr, data []byte) error {
	if err := m.checkBounds(addr, uint64(len(data))); err != nil {
		return err
	}

	currAddr := uint64(addr)
	dataOffset := uint64(0)

	for dataOffset < uint64(len(data)) {
		unit := m.unit(currAddr)
		baseAddr, inUnitAddr := m.parseAddress(currAddr)

		lenToWrite := baseAddr + m.unitSize - currAddr
		if lenLeft := uint64(len(data)) - dataOffset; lenLeft < lenToWrite {
			lenToWrite = lenLeft
		}

		copy(unit[inUnitAddr:inUnitAddr+lenToWrite],
			data[dataOffset:dataOffset+lenToWrite])
		dataOffset += lenToWrite
		currAddr += lenToWrite
	}

	return nil
}

// ReadUint64 reads a little-endian 64-bit value at addr.
func (m *Memory) ReadUint64(addr vm.GuestPhysAddr) (uint64, error) {
	var buf [8]byte
	if err := m.ReadInto(addr, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(buf[:]), nil
}

// WriteUint64 writes a little-endian 64-bit value at addr.
func (m *Memory) WriteUint64(addr vm.GuestPhysAddr, v uint64) error {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], v)
	return m.Write(addr, buf[:])
}

// ReadUint32 reads a little-endian 32-bit value at addr.
func (m *Memory) ReadUint32(addr vm.GuestPhysAddr) (uint32, error) {
	var buf [4]byte
	if err := m.ReadInto(addr, buf[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// WriteUint32 writes a little-endian 32-bit value at addr.
func (m *Memory) WriteUint32(addr vm.GuestPhysAddr, v uint32) error {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], v)
	return m.Write(addr, buf[:])
}
