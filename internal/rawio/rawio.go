// Package rawio provides the lowest-level byte-addressable storage
// abstraction a NumericAddressedBackend reads and writes through: a
// memory-mapped BAR region backed by a file (device node, shared-memory
// segment, or dummy-backed temp file) plus an in-process byte-slice
// channel for callers with no kernel-visible memory object at all (the
// in-memory IOOpener test doubles). The rebot backend supplies its own
// Channel (rebot.Client.AsChannel).
package rawio

import (
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/sys/unix"
)

// Channel is a byte-addressable, word-aligned raw I/O surface for one BAR.
type Channel interface {
	ReadWords(byteAddress uint64, words []uint32) error
	WriteWords(byteAddress uint64, words []uint32) error
	Size() uint64
	Close() error
}

// MmapChannel is a Channel backed by an mmap'd region of an open file
// descriptor — the shared-dummy BAR implementation, and the template any
// future real PCIe/uio/xdma BAR would follow.
type MmapChannel struct {
	mu   sync.RWMutex
	data []byte
}

// NewMmapChannel maps size bytes of fd starting at offset, for
// read/write shared access (MAP_SHARED). The caller retains ownership of
// fd; Close unmaps but does not close it.
func NewMmapChannel(fd int, offset int64, size int) (*MmapChannel, error) {
	data, err := unix.Mmap(fd, offset, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("rawio: mmap: %w", err)
	}
	return &MmapChannel{data: data}, nil
}

func (c *MmapChannel) Size() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uint64(len(c.data))
}

func (c *MmapChannel) ReadWords(byteAddress uint64, words []uint32) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	end := byteAddress + uint64(len(words))*4
	if end > uint64(len(c.data)) {
		return fmt.Errorf("rawio: read [%d,%d) exceeds region size %d", byteAddress, end, len(c.data))
	}
	for i := range words {
		off := byteAddress + uint64(i)*4
		words[i] = binary.LittleEndian.Uint32(c.data[off : off+4])
	}
	return nil
}

func (c *MmapChannel) WriteWords(byteAddress uint64, words []uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	end := byteAddress + uint64(len(words))*4
	if end > uint64(len(c.data)) {
		return fmt.Errorf("rawio: write [%d,%d) exceeds region size %d", byteAddress, end, len(c.data))
	}
	for i, w := range words {
		off := byteAddress + uint64(i)*4
		// Each word is stored with a single LittleEndian.PutUint32 call,
		// which compiles to one aligned store; this is the word-level
		// atomicity the shared-memory contract promises and no more —
		// multi-word writes are not atomic across words.
		binary.LittleEndian.PutUint32(c.data[off:off+4], w)
	}
	return nil
}

func (c *MmapChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.data == nil {
		return nil
	}
	err := unix.Munmap(c.data)
	c.data = nil
	return err
}

// MemChannel is a Channel backed by a plain in-process byte slice, used
// by the in-memory IOOpener test doubles of the backend and device tests,
// which have no real memory-mapped object to speak of.
type MemChannel struct {
	mu   sync.RWMutex
	data []byte
}

// NewMemChannel allocates a zero-filled region of size bytes.
func NewMemChannel(size int) *MemChannel {
	return &MemChannel{data: make([]byte, size)}
}

func (c *MemChannel) Size() uint64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return uint64(len(c.data))
}

func (c *MemChannel) ReadWords(byteAddress uint64, words []uint32) error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	end := byteAddress + uint64(len(words))*4
	if end > uint64(len(c.data)) {
		return fmt.Errorf("rawio: read [%d,%d) exceeds region size %d", byteAddress, end, len(c.data))
	}
	for i := range words {
		off := byteAddress + uint64(i)*4
		words[i] = binary.LittleEndian.Uint32(c.data[off : off+4])
	}
	return nil
}

func (c *MemChannel) WriteWords(byteAddress uint64, words []uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	end := byteAddress + uint64(len(words))*4
	if end > uint64(len(c.data)) {
		return fmt.Errorf("rawio: write [%d,%d) exceeds region size %d", byteAddress, end, len(c.data))
	}
	for i, w := range words {
		off := byteAddress + uint64(i)*4
		binary.LittleEndian.PutUint32(c.data[off:off+4], w)
	}
	return nil
}

func (c *MemChannel) Close() error { return nil }

var (
	_ Channel = (*MmapChannel)(nil)
	_ Channel = (*MemChannel)(nil)
)
