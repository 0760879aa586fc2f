// Copyright 2023 Lizhi Hou. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xdma

import (
	"encoding/binary"
	"fmt"

	"github.com/houlz0507/xdma-go/dma"
)

// Hardware descriptor: one contiguous copy plus a link to the next
// descriptor.  32 bytes, little endian, in bus-visible memory.
//
//	[0] control: [31:16] magic 0xad4b, [12:8] adjacent count - 1,
//	             [1] completed, [0] stopped
//	[1] byte count
//	[2] source address lo   [3] source address hi
//	[4] destination lo      [5] destination hi
//	[6] next descriptor lo  [7] next descriptor hi
const (
	DescSize = 32

	desc_magic       = 0xad4b
	desc_magic_shift = 16
	desc_adj_shift   = 8
	desc_stopped     = 1 << 0
	desc_completed   = 1 << 1

	// DescAdjacent is the fixed descriptor count of one block.  The
	// engine walks a full block contiguously before following the
	// block-tail next pointer.
	DescAdjacent = 1 << 5

	// DefaultDescBlocks bounds one hardware pass; requests needing
	// more descriptors are resubmitted in chunks.
	DefaultDescBlocks = 1 << 7

	// MaxDescLen is the hardware ceiling on a single descriptor's byte
	// count.  The control length field spans 28 bits but the last page
	// is reserved so a length can never alias the 256 MB boundary.
	MaxDescLen = 1<<28 - 4096

	// DescBlockSize is the bus footprint of one block.
	DescBlockSize  = DescSize * DescAdjacent
	DescBlockAlign = 4096
)

func desc_control(adjacent uint32, flags uint32) uint32 {
	return desc_magic<<desc_magic_shift | (adjacent-1)<<desc_adj_shift | flags
}

// control word of the terminal descriptor of a chain
func desc_control_last() uint32 {
	return desc_control(1, desc_stopped|desc_completed)
}

// Desc is the CPU-side view of one hardware descriptor used when building
// and walking chains.
type Desc struct {
	Control uint32
	Bytes   uint32
	Src     uint64
	Dst     uint64
	Next    uint64
}

// Stopped and Completed report the chain-terminator flags.
func (d Desc) Stopped() bool   { return d.Control&desc_stopped != 0 }
func (d Desc) Completed() bool { return d.Control&desc_completed != 0 }

// Adjacent returns the encoded adjacent descriptor count.
func (d Desc) Adjacent() uint32 { return (d.Control>>desc_adj_shift)&0x1f + 1 }

func (d Desc) String() string {
	return fmt.Sprintf("ctl 0x%08x %d bytes src 0x%x dst 0x%x next 0x%x",
		d.Control, d.Bytes, d.Src, d.Dst, d.Next)
}

func (d Desc) put(b []byte) {
	le := binary.LittleEndian
	le.PutUint32(b[0:], d.Control)
	le.PutUint32(b[4:], d.Bytes)
	le.PutUint64(b[8:], d.Src)
	le.PutUint64(b[16:], d.Dst)
	le.PutUint64(b[24:], d.Next)
}

func getDesc(b []byte) (d Desc) {
	le := binary.LittleEndian
	d.Control = le.Uint32(b[0:])
	d.Bytes = le.Uint32(b[4:])
	d.Src = le.Uint64(b[8:])
	d.Dst = le.Uint64(b[16:])
	d.Next = le.Uint64(b[24:])
	return
}

// descBlock is one contiguous run of DescAdjacent descriptors.  ndesc is
// the valid count for the current submission.
type descBlock struct {
	buf   dma.Buf
	ndesc uint32
}

func (b *descBlock) bus() uint64 { return b.buf.Bus() }

func (b *descBlock) desc(i uint32) []byte {
	return b.buf.Bytes()[i*DescSize : (i+1)*DescSize]
}

func (b *descBlock) set(i uint32, d Desc) { d.put(b.desc(i)) }
func (b *descBlock) get(i uint32) Desc    { return getDesc(b.desc(i)) }

// allocBlocks carves a channel's descriptor block set out of the arena as
// one contiguous allocation, the way the hardware expects blocks laid out
// back to back.
func allocBlocks(a *dma.Arena, n int) ([]descBlock, error) {
	buf, err := a.Alloc(n*DescBlockSize, DescBlockAlign)
	if err != nil {
		return nil, err
	}
	blocks := make([]descBlock, n)
	for i := range blocks {
		blocks[i] = descBlock{buf: buf.Slice(i*DescBlockSize, DescBlockSize)}
	}
	return blocks, nil
}
