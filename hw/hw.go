// Copyright 2023 Lizhi Hou. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Memory mapped device register access.
//
// All registers in this driver family are 32 bits wide and addressed by
// byte offset from the start of a register window.  Reads and writes must
// be single 32-bit accesses; the hardware does not tolerate byte enables.
package hw

import (
	"os"
	"sync/atomic"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Regs is a 32-bit register window.  Offsets are byte offsets and must be
// 4-byte aligned.  Implementations are safe for concurrent use.
type Regs interface {
	Read32(offset uint32) (uint32, error)
	Write32(offset, value uint32) error
}

// IoMem is a register window backed by mapped device memory.
type IoMem struct {
	mem []byte
}

// NewIoMem wraps an already mapped register region.  The slice must be
// 4-byte aligned, which any mmap result is.
func NewIoMem(mem []byte) *IoMem { return &IoMem{mem: mem} }

// Map maps length bytes at offset of a PCI resource file (for example
// /sys/bus/pci/devices/.../resource0) or a UIO map and returns the window.
func Map(path string, offset int64, length int) (*IoMem, error) {
	f, err := os.OpenFile(path, os.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s", path)
	}
	defer f.Close()
	mem, err := unix.Mmap(int(f.Fd()), offset, length,
		unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		return nil, errors.Wrapf(err, "mmap %s", path)
	}
	return &IoMem{mem: mem}, nil
}

// Unmap releases a window obtained from Map.
func (m *IoMem) Unmap() error {
	if m.mem == nil {
		return nil
	}
	err := unix.Munmap(m.mem)
	m.mem = nil
	return err
}

func (m *IoMem) reg(offset uint32) (*uint32, error) {
	if offset&3 != 0 || int(offset)+4 > len(m.mem) {
		return nil, errors.Errorf("register offset 0x%x out of window (%d bytes)",
			offset, len(m.mem))
	}
	return (*uint32)(unsafe.Pointer(&m.mem[offset])), nil
}

// Read32 performs a single 32-bit load from the window.  Atomic ops keep
// the compiler from splitting or eliminating the device access.
func (m *IoMem) Read32(offset uint32) (uint32, error) {
	p, err := m.reg(offset)
	if err != nil {
		return 0, err
	}
	return atomic.LoadUint32(p), nil
}

// Write32 performs a single 32-bit store to the window.
func (m *IoMem) Write32(offset, value uint32) error {
	p, err := m.reg(offset)
	if err != nil {
		return err
	}
	atomic.StoreUint32(p, value)
	return nil
}
