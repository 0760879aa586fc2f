// Copyright 2023 Lizhi Hou. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xdma

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/houlz0507/xdma-go/dma"
)

func testBlocks(t *testing.T, n int) (*dma.Arena, []descBlock) {
	t.Helper()
	arena, err := dma.AnonArena(1<<20, 0x20000000)
	require.NoError(t, err)
	t.Cleanup(func() { arena.Free() })
	blocks, err := allocBlocks(arena, n)
	require.NoError(t, err)
	return arena, blocks
}

func TestBuildChainSegments(t *testing.T) {
	arena, blocks := testBlocks(t, DefaultDescBlocks)
	sgl := []Segment{
		{Addr: 0x20010000, Len: 100000},
		{Addr: 0x20040000, Len: 40},
		{Addr: 0x20050000, Len: 7000000},
	}
	const endpoint = 0x8000

	pass := buildChain(blocks, H2C, sgl, endpoint, 0)
	require.Equal(t, uint32(3), pass.ndesc)
	assert.Equal(t, 1, pass.nblock)
	assert.Equal(t, uint64(7100040), pass.bytes)

	descs, err := WalkChain(arena, blocks[0].bus(), blocks[0].ndesc)
	require.NoError(t, err)
	require.Len(t, descs, 3)

	// Host side follows the scatter list, endpoint side is contiguous.
	ep := uint64(endpoint)
	for i, d := range descs {
		assert.Equal(t, sgl[i].Addr, d.Src, "desc %d src", i)
		assert.Equal(t, ep, d.Dst, "desc %d dst", i)
		assert.Equal(t, uint32(sgl[i].Len), d.Bytes, "desc %d len", i)
		ep += uint64(d.Bytes)
	}

	last := descs[2]
	assert.True(t, last.Stopped())
	assert.True(t, last.Completed())
	assert.Zero(t, last.Next)
	assert.False(t, descs[0].Stopped())
	assert.False(t, descs[1].Stopped())
}

func TestBuildChainC2HMirrors(t *testing.T) {
	arena, blocks := testBlocks(t, 4)
	sgl := []Segment{{Addr: 0x20010000, Len: 4096}}

	pass := buildChain(blocks, C2H, sgl, 0x1000, 0)
	require.Equal(t, uint32(1), pass.ndesc)

	descs, err := WalkChain(arena, blocks[0].bus(), blocks[0].ndesc)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x1000), descs[0].Src)
	assert.Equal(t, uint64(0x20010000), descs[0].Dst)
}

func TestBuildChainSplitsOversizedSegment(t *testing.T) {
	arena, blocks := testBlocks(t, DefaultDescBlocks)
	sgl := []Segment{{Addr: 0x20010000, Len: MaxDescLen + 4096}}

	pass := buildChain(blocks, H2C, sgl, 0, 0)
	require.Equal(t, uint32(2), pass.ndesc)

	descs, err := WalkChain(arena, blocks[0].bus(), blocks[0].ndesc)
	require.NoError(t, err)
	require.Len(t, descs, 2)
	assert.Equal(t, uint32(MaxDescLen), descs[0].Bytes)
	assert.Equal(t, uint32(4096), descs[1].Bytes)
	assert.Equal(t, uint64(0x20010000+MaxDescLen), descs[1].Src)
	assert.Equal(t, uint64(MaxDescLen), descs[1].Dst)
}

func TestBuildChainSkipsEmptySegments(t *testing.T) {
	arena, blocks := testBlocks(t, 4)
	sgl := []Segment{
		{Addr: 0x20010000, Len: 0},
		{Addr: 0x20020000, Len: 64},
		{Addr: 0x20030000, Len: 0},
		{Addr: 0x20040000, Len: 64},
	}
	pass := buildChain(blocks, H2C, sgl, 0, 0)
	require.Equal(t, uint32(2), pass.ndesc)

	descs, err := WalkChain(arena, blocks[0].bus(), blocks[0].ndesc)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x20020000), descs[0].Src)
	assert.Equal(t, uint64(0x20040000), descs[1].Src)
}

func TestBuildChainAllEmpty(t *testing.T) {
	_, blocks := testBlocks(t, 4)
	pass := buildChain(blocks, H2C, []Segment{{Addr: 0x20010000, Len: 0}}, 0, 0)
	assert.Zero(t, pass.ndesc)
	assert.Zero(t, pass.bytes)
}

func TestBuildChainLinksBlocks(t *testing.T) {
	// 40 single-page segments overflow one 32-descriptor block.
	arena, blocks := testBlocks(t, 4)
	var sgl []Segment
	for i := 0; i < 40; i++ {
		sgl = append(sgl, Segment{Addr: 0x20010000 + uint64(i)*8192, Len: 4096})
	}
	pass := buildChain(blocks, H2C, sgl, 0, 0)
	require.Equal(t, uint32(40), pass.ndesc)
	assert.Equal(t, 2, pass.nblock)
	assert.Equal(t, uint32(DescAdjacent), blocks[0].ndesc)
	assert.Equal(t, uint32(8), blocks[1].ndesc)

	// The block tail doubles as the link: it keeps its payload but
	// carries the next block's run length and bus address.
	tail := blocks[0].get(DescAdjacent - 1)
	assert.Equal(t, uint32(8), tail.Adjacent())
	assert.Equal(t, blocks[1].bus(), tail.Next)
	assert.Equal(t, uint32(4096), tail.Bytes)

	descs, err := WalkChain(arena, blocks[0].bus(), blocks[0].ndesc)
	require.NoError(t, err)
	require.Len(t, descs, 40)
	for i, d := range descs {
		assert.Equal(t, sgl[i].Addr, d.Src, "desc %d", i)
	}
	assert.True(t, descs[39].Stopped())
}

func TestBuildChainCapacityChunking(t *testing.T) {
	// More segments than the block set holds: the pass fills every
	// block and stops, the remainder belongs to the next pass.
	arena, blocks := testBlocks(t, 2)
	capacity := 2 * DescAdjacent
	var sgl []Segment
	for i := 0; i < capacity+10; i++ {
		sgl = append(sgl, Segment{Addr: 0x20010000 + uint64(i)*8192, Len: 4096})
	}
	pass := buildChain(blocks, H2C, sgl, 0, 0)
	require.Equal(t, uint32(capacity), pass.ndesc)
	assert.Equal(t, uint64(capacity)*4096, pass.bytes)

	descs, err := WalkChain(arena, blocks[0].bus(), blocks[0].ndesc)
	require.NoError(t, err)
	assert.Len(t, descs, capacity)

	// Continuation resumes where the first pass ended, endpoint
	// advanced by the acknowledged bytes.
	done := pass.ackBytes(pass.ndesc)
	next := buildChain(blocks, H2C, sgl, 0, done)
	require.Equal(t, uint32(10), next.ndesc)
	descs, err = WalkChain(arena, blocks[0].bus(), blocks[0].ndesc)
	require.NoError(t, err)
	assert.Equal(t, sgl[capacity].Addr, descs[0].Src)
	assert.Equal(t, done, descs[0].Dst)
}

func TestBuildChainResumeMidSegment(t *testing.T) {
	// A partial completion can stop inside a split segment; the rebuild
	// picks up at the exact byte.
	arena, blocks := testBlocks(t, 4)
	sgl := []Segment{
		{Addr: 0x20010000, Len: 8192},
		{Addr: 0x20020000, Len: 8192},
	}
	pass := buildChain(blocks, H2C, sgl, 0x100000, 8192+100)
	require.Equal(t, uint32(1), pass.ndesc)
	assert.Equal(t, uint64(8192-100), pass.bytes)

	descs, err := WalkChain(arena, blocks[0].bus(), blocks[0].ndesc)
	require.NoError(t, err)
	assert.Equal(t, uint64(0x20020000+100), descs[0].Src)
	assert.Equal(t, uint64(0x100000+8192+100), descs[0].Dst)
}

func TestAckBytes(t *testing.T) {
	p := chainPass{lens: []uint32{4096, 4096, 100}}
	assert.Equal(t, uint64(0), p.ackBytes(0))
	assert.Equal(t, uint64(4096), p.ackBytes(1))
	assert.Equal(t, uint64(8292), p.ackBytes(3))
}

func TestDescControlEncoding(t *testing.T) {
	assert.Equal(t, uint32(0xad4b0000), desc_control(1, 0))
	assert.Equal(t, uint32(0xad4b1f00), desc_control(32, 0))
	assert.Equal(t, uint32(0xad4b0003), desc_control_last())

	d := Desc{Control: desc_control(8, desc_stopped)}
	assert.Equal(t, uint32(8), d.Adjacent())
	assert.True(t, d.Stopped())
	assert.False(t, d.Completed())
}

func TestWalkChainRejectsBadMagic(t *testing.T) {
	arena, blocks := testBlocks(t, 1)
	blocks[0].set(0, Desc{Control: 0xdead0001})
	_, err := WalkChain(arena, blocks[0].bus(), 1)
	assert.Error(t, err)
}
