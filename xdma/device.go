// Copyright 2023 Lizhi Hou. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package xdma drives the DMA/Bridge Subsystem for PCI Express: channel
// discovery over the register BAR, scatter/gather descriptor chains in
// bus-visible memory, and interrupt-driven transfer completion.
package xdma

import (
	"context"
	"encoding/binary"
	"io"
	"math/bits"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/platinasystems/log"
	"golang.org/x/sync/semaphore"

	"github.com/houlz0507/xdma-go/dma"
	"github.com/houlz0507/xdma-go/hw"
)

const (
	// DefaultMaxChannels is the number of channel windows probed per
	// direction.  The subsystem synthesizes at most 4 of each.
	DefaultMaxChannels = 4

	// DefaultTransferTimeout bounds the wait for one pass's completion
	// interrupt.
	DefaultTransferTimeout = 10 * time.Second
)

// Options tune device bring-up.  The zero value selects the defaults.
type Options struct {
	MaxChannels     uint32
	DescBlocks      int
	TransferTimeout time.Duration
}

// dirPool hands out the channels of one direction.  The semaphore blocks
// callers until a channel frees up; the bitmap picks which one.
type dirPool struct {
	sem   *semaphore.Weighted
	mu    sync.Mutex
	free  uint32
	start uint32 // index of the direction's first channel in Device.channels
	n     uint32
}

func (p *dirPool) take() uint32 {
	p.mu.Lock()
	i := uint32(bits.TrailingZeros32(p.free))
	p.free &^= 1 << i
	p.mu.Unlock()
	return i
}

func (p *dirPool) put(i uint32) {
	p.mu.Lock()
	p.free |= 1 << i
	p.mu.Unlock()
	p.sem.Release(1)
}

// Device is one discovered DMA subsystem instance.
type Device struct {
	regs     hw.Regs
	arena    *dma.Arena
	opt      Options
	channels []*Channel
	h2c, c2h dirPool
}

// New discovers channels behind regs and brings the device up: descriptor
// blocks allocated from arena, per-channel defaults programmed, interrupt
// vectors bound.  Fails if either direction comes up empty.
func New(regs hw.Regs, arena *dma.Arena, opt Options) (*Device, error) {
	if opt.MaxChannels == 0 {
		opt.MaxChannels = DefaultMaxChannels
	}
	if opt.MaxChannels > 16 {
		return nil, errors.Errorf("max channels %d exceeds identifier id field", opt.MaxChannels)
	}
	if opt.DescBlocks == 0 {
		opt.DescBlocks = DefaultDescBlocks
	}
	if opt.TransferTimeout == 0 {
		opt.TransferTimeout = DefaultTransferTimeout
	}
	d := &Device{regs: regs, arena: arena, opt: opt}

	if err := d.probeDir(H2C, chan_h2c_offset, &d.h2c); err != nil {
		return nil, err
	}
	if err := d.probeDir(C2H, chan_c2h_offset, &d.c2h); err != nil {
		return nil, err
	}
	if d.h2c.n == 0 {
		return nil, errors.Wrap(ErrNoChannels, "host to card")
	}
	if d.c2h.n == 0 {
		return nil, errors.Wrap(ErrNoChannels, "card to host")
	}

	if err := d.setupInterrupts(); err != nil {
		return nil, err
	}
	log.Print("xdma: ", int(d.h2c.n), " h2c and ", int(d.c2h.n), " c2h channels")
	return d, nil
}

// probeDir reads the identifier of each channel window at the direction's
// fixed stride.  A window is a channel when the subsystem id and target
// nibble match; ids must be sequential.  Stream-mode channels are not
// supported and are skipped.
func (d *Device) probeDir(dir Dir, base uint32, p *dirPool) error {
	target := uint32(ident_target_h2c)
	if dir == C2H {
		target = ident_target_c2h
	}
	p.start = uint32(len(d.channels))
	for i := uint32(0); i < d.opt.MaxChannels; i++ {
		off := base + i*chan_stride
		v, err := d.regs.Read32(off + chan_identifier)
		if err != nil {
			return errors.Wrapf(err, "probe %v channel %d", dir, i)
		}
		if ident_subsystem_id(v) != ident_subsystem {
			break
		}
		// The stream bit sits inside the target nibble, so it has to
		// be ruled out before the target compare.
		if ident_is_stream(v) {
			log.Print("xdma: ", dir.String(), " channel ", int(i), " is stream mode, skipped")
			continue
		}
		if ident_target(v) != target {
			break
		}
		if ident_channel_id(v) != i {
			return errors.Errorf("%v channel %d: identifier 0x%08x reports id %d",
				dir, i, v, ident_channel_id(v))
		}
		c := &Channel{
			dev:   d,
			base:  off,
			index: uint32(len(d.channels)),
			id:    p.n,
			dir:   dir,
			compl: make(chan struct{}, 1),
		}
		blocks, err := allocBlocks(d.arena, d.opt.DescBlocks)
		if err != nil {
			return errors.Wrapf(err, "%v: descriptor blocks", c)
		}
		c.blocks = blocks
		if err := c.init(); err != nil {
			return err
		}
		d.channels = append(d.channels, c)
		p.n++
	}
	p.sem = semaphore.NewWeighted(int64(p.n))
	p.free = 1<<p.n - 1
	return nil
}

// setupInterrupts binds channel interrupt vectors in discovery order, one
// vector per channel, and unmasks them.  Vector registers pack 4 channels
// per 32-bit word.
func (d *Device) setupInterrupts() error {
	n := uint32(len(d.channels))
	for reg := uint32(0); reg*irq_vecs_per_reg < n; reg++ {
		var v uint32
		for j := uint32(0); j < irq_vecs_per_reg; j++ {
			vec := reg*irq_vecs_per_reg + j
			if vec < n {
				v |= vec << (j * irq_vec_shift)
			}
		}
		if err := d.regs.Write32(irq_block_base+irq_chan_vec_base+4*reg, v); err != nil {
			return errors.Wrap(err, "channel vector table")
		}
	}
	if err := d.regs.Write32(irq_block_base+irq_chan_int_w1s, 1<<n-1); err != nil {
		return errors.Wrap(err, "channel interrupt enable")
	}
	return nil
}

func (d *Device) pool(dir Dir) *dirPool {
	if dir == H2C {
		return &d.h2c
	}
	return &d.c2h
}

// Channels reports the usable channel count in one direction.
func (d *Device) Channels(dir Dir) int { return int(d.pool(dir).n) }

// Acquire checks a channel of the given direction out of the pool,
// blocking until one frees up or ctx ends.
func (d *Device) Acquire(ctx context.Context, dir Dir) (*Channel, error) {
	p := d.pool(dir)
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	// The semaphore guarantees a set bit.
	return d.channels[p.start+p.take()], nil
}

// Release returns an acquired channel to its pool.
func (d *Device) Release(c *Channel) {
	d.pool(c.dir).put(c.id)
}

// Interrupt services pending channel interrupts, dispatching a completion
// signal to each channel with its request bit set.  Callers hook this to
// their interrupt transport; it reports how many channels fired.
func (d *Device) Interrupt() (n int, err error) {
	v, err := d.regs.Read32(irq_block_base + irq_chan_int_req)
	if err != nil {
		return 0, errors.Wrap(err, "channel interrupt request")
	}
	for v != 0 {
		i := bits.TrailingZeros32(v)
		v &^= 1 << i
		if i >= len(d.channels) {
			log.Print("xdma: spurious interrupt bit ", i)
			continue
		}
		d.channels[i].interrupt()
		n++
	}
	return n, nil
}

// ServeInterrupts pumps an event stream that reports one 32-bit count per
// interrupt, the UIO convention, into Interrupt.  Returns when the stream
// ends or ctx is done.
func (d *Device) ServeInterrupts(ctx context.Context, events io.Reader) error {
	var buf [4]byte
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if _, err := io.ReadFull(events, buf[:]); err != nil {
			if err == io.EOF {
				return nil
			}
			return errors.Wrap(err, "interrupt event stream")
		}
		_ = binary.LittleEndian.Uint32(buf[:])
		if _, err := d.Interrupt(); err != nil {
			return err
		}
	}
}

// Close quiesces the device: channel interrupts masked, runs stopped.
// Descriptor memory goes back with the arena, which the caller owns.
func (d *Device) Close() error {
	var first error
	n := uint32(len(d.channels))
	if err := d.regs.Write32(irq_block_base+irq_chan_int_w1c, 1<<n-1); err != nil {
		first = errors.Wrap(err, "channel interrupt disable")
	}
	for _, c := range d.channels {
		if err := c.write(chan_control_w1c, ctrl_run_stop); err != nil && first == nil {
			first = errors.Wrapf(err, "%v: stop", c)
		}
		if err := c.write(chan_intr_enable, 0); err != nil && first == nil {
			first = errors.Wrapf(err, "%v: interrupt disable", c)
		}
	}
	return first
}
