// Copyright 2023 Lizhi Hou. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package uio reaches real hardware through the Linux userspace I/O
// framework: the register BAR comes in as an mmap'd sysfs resource file
// and interrupts as blocking reads on the UIO device node.
package uio

import (
	"encoding/binary"
	"os"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/houlz0507/xdma-go/hw"
)

// Device is one UIO-attached PCI function.
type Device struct {
	node *os.File
	mem  *hw.IoMem
}

// Open maps length bytes of the register resource at offset and opens the
// UIO node for interrupt delivery.  resource is a sysfs BAR resource file
// or a UIO map; node is the /dev/uioN character device.
func Open(node, resource string, offset int64, length int) (*Device, error) {
	mem, err := hw.Map(resource, offset, length)
	if err != nil {
		return nil, err
	}
	f, err := os.OpenFile(node, os.O_RDWR|unix.O_SYNC, 0)
	if err != nil {
		mem.Unmap()
		return nil, errors.Wrapf(err, "open %s", node)
	}
	return &Device{node: f, mem: mem}, nil
}

// Regs returns the mapped register window.
func (d *Device) Regs() *hw.IoMem { return d.mem }

// Wait unmasks the interrupt and blocks until the next one, returning the
// kernel's event count.  The unmask-then-read order is the UIO contract:
// the kernel masks the line on every interrupt.
func (d *Device) Wait() (uint32, error) {
	one := [4]byte{1}
	if _, err := d.node.Write(one[:]); err != nil {
		return 0, errors.Wrap(err, "uio irq unmask")
	}
	var buf [4]byte
	if _, err := d.node.Read(buf[:]); err != nil {
		return 0, errors.Wrap(err, "uio irq read")
	}
	return binary.LittleEndian.Uint32(buf[:]), nil
}

// Read implements io.Reader over interrupt events so the device plugs
// straight into a completion pump.  Each read delivers one 4-byte event
// count.
func (d *Device) Read(p []byte) (int, error) {
	n, err := d.Wait()
	if err != nil {
		return 0, err
	}
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], n)
	return copy(p, buf[:]), nil
}

// Close unmaps the registers and closes the interrupt node.
func (d *Device) Close() error {
	err := d.mem.Unmap()
	if e := d.node.Close(); err == nil {
		err = e
	}
	return err
}
