// Copyright 2023 Lizhi Hou. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Device visible memory.
//
// Descriptor blocks live in memory the DMA engine reads over the bus, so
// every allocation carries two addresses: the CPU view (a byte slice) and
// the bus address the hardware walker follows.  An Arena owns one such
// region and hands out aligned bufs from it; it can also translate a bus
// address back to the CPU view, which diagnostics and chain walkers need.
package dma

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Buf is one allocation from an Arena.
type Buf struct {
	mem []byte
	bus uint64
}

func (b Buf) Bytes() []byte { return b.mem }
func (b Buf) Bus() uint64   { return b.bus }
func (b Buf) Len() int      { return len(b.mem) }

// Slice returns the sub-buf [off, off+size); both addresses move together.
func (b Buf) Slice(off, size int) Buf {
	return Buf{mem: b.mem[off : off+size : off+size], bus: b.bus + uint64(off)}
}

// Arena is a bump allocator over a single bus-addressable region.
type Arena struct {
	mem  []byte
	bus  uint64
	next uint64
	anon bool
}

// NewArena wraps an existing region.  bus is the bus address of mem[0];
// how mem became device visible (UIO DMA region, hugepage pinning) is the
// caller's concern.
func NewArena(mem []byte, bus uint64) *Arena {
	return &Arena{mem: mem, bus: bus}
}

// AnonArena allocates an anonymous page-aligned region.  The bus address
// is synthetic; this backs tests and poll-mode software models, not real
// hardware.
func AnonArena(size int, bus uint64) (*Arena, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrap(err, "mmap anon dma arena")
	}
	return &Arena{mem: mem, bus: bus, anon: true}, nil
}

// Alloc returns a zeroed buf of size bytes aligned to align (a power of
// two) within the arena.
func (a *Arena) Alloc(size, align int) (Buf, error) {
	if align <= 0 {
		align = 1
	}
	off := (a.next + uint64(align) - 1) &^ uint64(align-1)
	if off+uint64(size) > uint64(len(a.mem)) {
		return Buf{}, errors.Errorf("dma arena full: need %d at 0x%x, have %d",
			size, off, len(a.mem))
	}
	a.next = off + uint64(size)
	b := Buf{mem: a.mem[off : off+uint64(size) : off+uint64(size)], bus: a.bus + off}
	for i := range b.mem {
		b.mem[i] = 0
	}
	return b, nil
}

// View translates a bus address range back to the CPU view.  The range
// must lie inside the arena.
func (a *Arena) View(bus uint64, size int) ([]byte, error) {
	if bus < a.bus || bus+uint64(size) > a.bus+uint64(len(a.mem)) {
		return nil, errors.Errorf("bus range 0x%x+%d outside arena 0x%x+%d",
			bus, size, a.bus, len(a.mem))
	}
	off := bus - a.bus
	return a.mem[off : off+uint64(size)], nil
}

// Free releases the arena's region.  Regions wrapped with NewArena belong
// to the caller and are only forgotten, not unmapped.
func (a *Arena) Free() error {
	mem := a.mem
	a.mem = nil
	if mem == nil || !a.anon {
		return nil
	}
	return unix.Munmap(mem)
}
