// Copyright 2023 Lizhi Hou. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package qdma programs the multi-queue DMA subsystem's shared control
// plane: the global CSR tables written at bring-up and the indirect
// context window that fills per-queue hardware table entries.
package qdma

import (
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/platinasystems/log"

	"github.com/houlz0507/xdma-go/hw"
)

// Selectable ring sizes programmed into the global CSR table.  Each value
// is the queue depth plus one writeback slot.
var defaultRingSizes = [glbl_ring_sz_cnt]uint32{
	2049, 65, 129, 193, 257, 385, 513, 769,
	1025, 1537, 3073, 4097, 6145, 8193, 12289, 16385,
}

// Options tune device bring-up.  Qmax of zero leaves the function map
// unprogrammed.
type Options struct {
	Qbase uint32
	Qmax  uint32

	// Busy-poll pacing for the indirect window; zero values select
	// the hw package defaults.
	PollInterval time.Duration
	PollTimeout  time.Duration
}

// Device is one multi-queue DMA control plane.
type Device struct {
	regs     hw.Regs
	funcID   uint32
	numQs    uint32
	interval time.Duration
	timeout  time.Duration

	mu sync.Mutex // serializes the indirect context window
}

// New brings the control plane up: reads the function id and queue
// capacity, programs the ring size CSR table, and binds the function's
// queue range when opt asks for one.
func New(regs hw.Regs, opt Options) (*Device, error) {
	d := &Device{
		regs:     regs,
		interval: opt.PollInterval,
		timeout:  opt.PollTimeout,
	}
	if d.interval == 0 {
		d.interval = hw.DefaultPollInterval
	}
	if d.timeout == 0 {
		d.timeout = hw.DefaultPollTimeout
	}

	v, err := regs.Read32(glbl2_func_ret)
	if err != nil {
		return nil, errors.Wrap(err, "function id")
	}
	d.funcID = v & glbl2_func_mask

	v, err = regs.Read32(glbl2_chan_cap)
	if err != nil {
		return nil, errors.Wrap(err, "queue capacity")
	}
	d.numQs = v & 0xfff

	for i, sz := range defaultRingSizes {
		if err := regs.Write32(glbl_ring_sz+4*uint32(i), sz); err != nil {
			return nil, errors.Wrapf(err, "ring size csr %d", i)
		}
	}

	if opt.Qmax != 0 {
		if opt.Qmax > d.numQs {
			return nil, errors.Errorf("qmax %d exceeds device capacity %d", opt.Qmax, d.numQs)
		}
		fmap := FmapContext{Qbase: opt.Qbase, Qmax: opt.Qmax}
		if err := d.WriteFmap(d.funcID, fmap); err != nil {
			return nil, err
		}
	}
	log.Print("qdma: function ", int(d.funcID), " up, ", int(d.numQs), " queues")
	return d, nil
}

// FuncID returns the hardware function id discovered at bring-up.
func (d *Device) FuncID() uint32 { return d.funcID }

// MaxQueues returns the device queue capacity.
func (d *Device) MaxQueues() uint32 { return d.numQs }
