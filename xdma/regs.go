// Copyright 2023 Lizhi Hou. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xdma

// Register map of the DMA/Bridge Subsystem for PCI Express.  All offsets
// are byte offsets from the start of the config BAR; registers must be
// accessed as single 32-bit reads/writes.
//
// The BAR is carved into fixed-stride targets.  H2C channel windows start
// at 0x0, C2H at 0x1000, the IRQ block at 0x2000; each channel window also
// has an SGDMA companion window 0x4000 above it.
const (
	chan_h2c_offset = 0x0
	chan_c2h_offset = 0x1000
	chan_stride     = 0x100

	irq_block_base = 0x2000
	sgdma_offset   = 0x4000
)

// RegSpaceLen is the size of the DMA register space inside the config BAR.
const RegSpaceLen = 65536

// Per-channel registers, relative to the channel window base.
// w1s/w1c aliases set/clear bits without a read-modify-write.
const (
	chan_identifier     = 0x00
	chan_control        = 0x04
	chan_control_w1s    = 0x08
	chan_control_w1c    = 0x0c
	chan_status         = 0x40
	chan_status_rc      = 0x44 // read clears status bits
	chan_completed_desc = 0x48
	chan_alignments     = 0x4c
	chan_intr_enable    = 0x90
	chan_intr_w1s       = 0x94
	chan_intr_w1c       = 0x9c
)

// Per-channel SGDMA registers, relative to channel base + sgdma_offset.
// The descriptor pointer and adjacency registers are consumed by the
// engine when the run bit is set.
const (
	sgdma_desc_lo     = 0x80
	sgdma_desc_hi     = 0x84
	sgdma_desc_adj    = 0x88
	sgdma_desc_credit = 0x8c
)

// Channel control register bits.
const (
	ctrl_run_stop               = 1 << 0
	ctrl_ie_desc_stopped        = 1 << 1
	ctrl_ie_desc_completed      = 1 << 2
	ctrl_ie_desc_align_mismatch = 1 << 3
	ctrl_ie_magic_stopped       = 1 << 4
	ctrl_ie_idle_stopped        = 1 << 6
	ctrl_ie_read_error          = 0x1f << 9
	ctrl_ie_desc_error          = 0x1f << 19
	ctrl_non_incr_addr          = 1 << 25
	ctrl_poll_mode_wb           = 1 << 26

	// Start value: run plus every error interrupt source.
	ctrl_start = ctrl_run_stop |
		ctrl_ie_desc_stopped |
		ctrl_ie_desc_completed |
		ctrl_ie_desc_align_mismatch |
		ctrl_ie_magic_stopped |
		ctrl_ie_read_error |
		ctrl_ie_desc_error

	// Default interrupt enable mask programmed at discovery.
	ie_default = ctrl_ie_desc_stopped |
		ctrl_ie_desc_completed |
		ctrl_ie_desc_align_mismatch |
		ctrl_ie_magic_stopped |
		ctrl_ie_read_error |
		ctrl_ie_desc_error
)

// IRQ block registers, relative to irq_block_base.
const (
	irq_identifier    = 0x00
	irq_user_int_en   = 0x04
	irq_user_int_w1s  = 0x08
	irq_user_int_w1c  = 0x0c
	irq_chan_int_en   = 0x10
	irq_chan_int_w1s  = 0x14
	irq_chan_int_w1c  = 0x18
	irq_user_int_req  = 0x40
	irq_chan_int_req  = 0x44
	irq_user_int_pend = 0x48
	irq_chan_int_pend = 0x4c
	irq_user_vec_base = 0x80
	irq_chan_vec_base = 0xa0
	irq_vec_shift     = 8
	irq_vecs_per_reg  = 4
)

// Channel identifier fields.
// [31:20] subsystem id (0x1fc), [19:16] target, [19] set for stream
// channels, [11:8] channel id within its direction.
const (
	ident_subsystem  = 0x1fc
	ident_target_h2c = 0x0
	ident_target_c2h = 0x1
)

func ident_subsystem_id(v uint32) uint32 { return v >> 20 & 0xfff }
func ident_target(v uint32) uint32       { return v >> 16 & 0xf }
func ident_channel_id(v uint32) uint32   { return v >> 8 & 0xf }
func ident_is_stream(v uint32) bool      { return v&0x80000 != 0 }

func addr_lo(a uint64) uint32 { return uint32(a) }
func addr_hi(a uint64) uint32 { return uint32(a >> 32) }
