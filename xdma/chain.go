// Copyright 2023 Lizhi Hou. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xdma

import (
	"github.com/pkg/errors"

	"github.com/houlz0507/xdma-go/dma"
)

// Dir is a DMA transfer direction.
type Dir int

const (
	// H2C moves host memory to the card.
	H2C Dir = iota
	// C2H moves card memory to the host.
	C2H
)

func (d Dir) String() string {
	if d == H2C {
		return "H2C"
	}
	return "C2H"
}

// Segment is one element of a host-side scatter/gather list: a
// bus-addressable buffer the engine reads from or writes to.
type Segment struct {
	Addr uint64
	Len  uint64
}

func sglLen(sgl []Segment) (n uint64) {
	for _, s := range sgl {
		n += s.Len
	}
	return
}

// chainPass describes the descriptor chain built for one hardware pass.
// lens keeps the per-descriptor byte counts so a partial completion count
// can be converted back to acknowledged bytes.
type chainPass struct {
	ndesc  uint32
	nblock int
	bytes  uint64
	lens   []uint32
}

// ackBytes returns the bytes covered by the first ndone descriptors.
func (p *chainPass) ackBytes(ndone uint32) uint64 {
	var n uint64
	for _, l := range p.lens[:ndone] {
		n += uint64(l)
	}
	return n
}

// buildChain fills blocks with descriptors for the portion of sgl that
// starts done bytes into the request, stopping when either the list or
// the block set is exhausted.  The device endpoint side advances with the
// bytes already acknowledged complete, so a resubmission after a partial
// completion lands exactly where the hardware stopped.
//
// The moving side of each descriptor is the host buffer; the fixed side
// is the endpoint plus the running offset.  H2C reads host memory into
// the endpoint; C2H is the mirror.
func buildChain(blocks []descBlock, dir Dir, sgl []Segment, endpoint, done uint64) chainPass {
	var pass chainPass

	// Position the cursor done bytes into the list.
	off := done
	seg := 0
	for seg < len(sgl) && off >= sgl[seg].Len {
		off -= sgl[seg].Len
		seg++
	}

	ep := endpoint + done
	var last struct {
		block int
		idx   uint32
	}
	last.block = -1

	bi := 0
	for ; bi < len(blocks) && seg < len(sgl); bi++ {
		b := &blocks[bi]
		var di uint32
		for di < DescAdjacent && seg < len(sgl) {
			rest := sgl[seg].Len - off
			if rest == 0 {
				// Zero length segments consume no descriptor.
				seg++
				off = 0
				continue
			}
			l := rest
			if l > MaxDescLen {
				l = MaxDescLen
			}
			d := Desc{
				Control: desc_control(1, 0),
				Bytes:   uint32(l),
			}
			host := sgl[seg].Addr + off
			if dir == H2C {
				d.Src, d.Dst = host, ep
			} else {
				d.Src, d.Dst = ep, host
			}
			b.set(di, d)
			pass.lens = append(pass.lens, uint32(l))
			pass.bytes += l
			ep += l
			off += l
			if off == sgl[seg].Len {
				seg++
				off = 0
			}
			last.block, last.idx = bi, di
			di++
		}
		b.ndesc = di
	}
	if last.block < 0 {
		return pass
	}
	pass.nblock = last.block + 1
	pass.ndesc = uint32(len(pass.lens))

	// Chain the blocks: the tail descriptor of block i doubles as the
	// link, encoding the next block's valid descriptor count and bus
	// address.  This also fixes up the adjacency over a partially
	// filled final block.
	for i := 0; i < pass.nblock-1; i++ {
		b, next := &blocks[i], &blocks[i+1]
		d := b.get(b.ndesc - 1)
		d.Control = desc_control(next.ndesc, 0)
		d.Next = next.bus()
		b.set(b.ndesc-1, d)
	}

	// Terminal descriptor stops the walker and raises the completed
	// interrupt.
	b := &blocks[last.block]
	d := b.get(last.idx)
	d.Control = desc_control_last()
	d.Next = 0
	b.set(last.idx, d)

	return pass
}

// WalkChain follows a descriptor chain through bus memory the way the
// hardware walker does: run descriptors are read contiguously, the run
// tail either stops the walk or links to the next run.  first is the bus
// address programmed into the descriptor pointer registers and adj the
// value of the adjacency register plus one.  Used by diagnostics and
// tests to audit a built chain.
func WalkChain(a *dma.Arena, first uint64, adj uint32) ([]Desc, error) {
	var out []Desc
	bus, run := first, adj
	for {
		if run == 0 || run > DescAdjacent {
			return out, errors.Errorf("bad adjacent count %d at 0x%x", run, bus)
		}
		mem, err := a.View(bus, int(run)*DescSize)
		if err != nil {
			return out, err
		}
		for i := uint32(0); i < run; i++ {
			d := getDesc(mem[i*DescSize:])
			if d.Control>>desc_magic_shift != desc_magic {
				return out, errors.Errorf("bad descriptor magic in control 0x%08x", d.Control)
			}
			out = append(out, d)
			if len(out) > DefaultDescBlocks*DescAdjacent {
				return out, errors.New("descriptor chain does not terminate")
			}
			if d.Stopped() {
				return out, nil
			}
			if i == run-1 {
				bus, run = d.Next, d.Adjacent()
			}
		}
	}
}
