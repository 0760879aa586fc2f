// Copyright 2023 Lizhi Hou. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xdma

import (
	"sync"
	"testing"

	"github.com/houlz0507/xdma-go/dma"
)

// fakeDev models the register behavior of the DMA subsystem closely
// enough to run the driver against it: identifier probe, w1c control
// aliases, and an engine that walks the programmed descriptor chain
// through the arena, moves the bytes, and raises the completion
// interrupt.
type fakeDev struct {
	t     *testing.T
	arena *dma.Arena
	card  []byte // endpoint memory, addressed from 0

	h2c, c2h uint32
	stream   map[uint32]bool // window index per direction base -> stream mode

	// Fault injection.
	partial      uint32 // complete at most this many descriptors per pass
	overComplete bool   // report more completed than submitted
	noComplete   bool   // swallow the completion interrupt

	mu   sync.Mutex
	regs map[uint32]uint32
	dev  *Device

	wg sync.WaitGroup
}

func newFakeDev(t *testing.T, h2c, c2h uint32, cardSize int) *fakeDev {
	arena, err := dma.AnonArena(4<<20, 0x10000000)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { arena.Free() })
	return &fakeDev{
		t:     t,
		arena: arena,
		card:  make([]byte, cardSize),
		h2c:   h2c,
		c2h:   c2h,
		regs:  make(map[uint32]uint32),
	}
}

// start brings the driver up against the fake.
func (f *fakeDev) start(opt Options) *Device {
	dev, err := New(f, f.arena, opt)
	if err != nil {
		f.t.Fatal(err)
	}
	f.mu.Lock()
	f.dev = dev
	f.mu.Unlock()
	f.t.Cleanup(func() {
		f.wg.Wait()
		dev.Close()
	})
	return dev
}

func (f *fakeDev) ident(off uint32) (uint32, bool) {
	mk := func(target, id uint32, stream bool) uint32 {
		v := uint32(ident_subsystem)<<20 | target<<16 | id<<8
		if stream {
			v |= 0x80000
		}
		return v
	}
	if off < chan_c2h_offset && off&0xff == chan_identifier {
		i := off / chan_stride
		if i < f.h2c {
			return mk(ident_target_h2c, i, f.stream[i]), true
		}
		return 0, true
	}
	if off >= chan_c2h_offset && off < irq_block_base && off&0xff == chan_identifier {
		i := (off - chan_c2h_offset) / chan_stride
		if i < f.c2h {
			return mk(ident_target_c2h, i, false), true
		}
		return 0, true
	}
	return 0, false
}

func (f *fakeDev) Read32(off uint32) (uint32, error) {
	if v, ok := f.ident(off); ok {
		return v, nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	switch {
	case off == irq_block_base+irq_chan_int_req:
		v := f.regs[off]
		f.regs[off] = 0
		return v, nil
	case off < irq_block_base && off&0xff == chan_status_rc:
		base := off &^ (chan_stride - 1)
		v := f.regs[base+chan_status]
		f.regs[base+chan_status] = 0
		return v, nil
	}
	return f.regs[off], nil
}

func (f *fakeDev) Write32(off, v uint32) error {
	f.mu.Lock()
	if off < irq_block_base {
		base := off &^ (chan_stride - 1)
		switch off - base {
		case chan_control_w1s:
			f.regs[base+chan_control] |= v
			f.mu.Unlock()
			return nil
		case chan_control_w1c:
			f.regs[base+chan_control] &^= v
			f.mu.Unlock()
			return nil
		case chan_control:
			f.regs[off] = v
			f.mu.Unlock()
			if v&ctrl_run_stop != 0 {
				f.wg.Add(1)
				go f.run(base)
			}
			return nil
		}
	}
	f.regs[off] = v
	f.mu.Unlock()
	return nil
}

// chanIndex maps a window base to the driver's channel index: skipped
// stream windows do not occupy an index, so it counts discovered
// channels, not windows.
func (f *fakeDev) chanIndex(base uint32) uint32 {
	h2cUpTo := func(w uint32) uint32 {
		var n uint32
		for i := uint32(0); i < w; i++ {
			if !f.stream[i] {
				n++
			}
		}
		return n
	}
	if base < chan_c2h_offset {
		return h2cUpTo(base / chan_stride)
	}
	return h2cUpTo(f.h2c) + (base-chan_c2h_offset)/chan_stride
}

// run is the descriptor engine for one armed pass.
func (f *fakeDev) run(base uint32) {
	defer f.wg.Done()
	f.mu.Lock()
	lo := f.regs[base+sgdma_offset+sgdma_desc_lo]
	hi := f.regs[base+sgdma_offset+sgdma_desc_hi]
	adj := f.regs[base+sgdma_offset+sgdma_desc_adj]
	partial, overComplete := f.partial, f.overComplete
	f.mu.Unlock()

	descs, err := WalkChain(f.arena, uint64(hi)<<32|uint64(lo), adj+1)
	if err != nil {
		f.t.Errorf("chain walk: %v", err)
		return
	}
	n := uint32(len(descs))
	if partial != 0 && n > partial {
		n = partial
	}
	h2c := base < chan_c2h_offset
	for _, d := range descs[:n] {
		if h2c {
			src, err := f.arena.View(d.Src, int(d.Bytes))
			if err != nil {
				f.t.Errorf("h2c source: %v", err)
				return
			}
			copy(f.card[d.Dst:], src)
		} else {
			dst, err := f.arena.View(d.Dst, int(d.Bytes))
			if err != nil {
				f.t.Errorf("c2h destination: %v", err)
				return
			}
			copy(dst, f.card[d.Src:d.Src+uint64(d.Bytes)])
		}
	}
	ndone := n
	if overComplete {
		ndone = uint32(len(descs)) + 5
	}

	f.mu.Lock()
	f.regs[base+chan_completed_desc] = ndone
	f.regs[base+chan_status] |= ctrl_ie_desc_completed
	if f.noComplete {
		f.mu.Unlock()
		return
	}
	f.regs[irq_block_base+irq_chan_int_req] |= 1 << f.chanIndex(base)
	dev := f.dev
	f.mu.Unlock()
	if _, err := dev.Interrupt(); err != nil {
		f.t.Errorf("interrupt dispatch: %v", err)
	}
}

func (f *fakeDev) setNoComplete(v bool) {
	f.mu.Lock()
	f.noComplete = v
	f.mu.Unlock()
}

// hostBuf allocates a bus-visible buffer filled with a marching pattern.
func (f *fakeDev) hostBuf(size int, seed byte) dma.Buf {
	buf, err := f.arena.Alloc(size, 8)
	if err != nil {
		f.t.Fatal(err)
	}
	b := buf.Bytes()
	for i := range b {
		b[i] = seed + byte(i)
	}
	return buf
}
