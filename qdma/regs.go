// Copyright 2023 Lizhi Hou. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qdma

// Global registers.
const (
	glbl2_chan_cap  = 0x120 // [11:0] max queue count
	glbl2_func_ret  = 0x12c // [7:0] function id
	glbl2_func_mask = 0xff

	// Global ring size CSR table: 16 consecutive registers selectable
	// per queue by index.
	glbl_ring_sz     = 0x204
	glbl_ring_sz_cnt = 16
)

// Indirect context window: 8 data registers, 8 mask registers and one
// command register.  A context entry is programmed by filling data and
// mask, then writing the command; hardware clears the busy bit when it
// has consumed the triple.
//
//	command: [19:7] queue id, [6:5] op, [4:1] selector, [0] busy
const (
	ind_ctxt_data  = 0x804
	ind_ctxt_mask  = 0x824
	ind_ctxt_cmd   = 0x844
	ind_ctxt_width = 8

	cmd_busy      = 1 << 0
	cmd_sel_shift = 1
	cmd_op_shift  = 5
	cmd_qid_shift = 7
	cmd_qid_max   = 1<<13 - 1
)

// Op is an indirect context command operation.
type Op uint32

const (
	OpClear Op = iota
	OpWrite
	OpRead
	OpInvalidate
)

func (o Op) String() string {
	switch o {
	case OpClear:
		return "clear"
	case OpWrite:
		return "write"
	case OpRead:
		return "read"
	case OpInvalidate:
		return "invalidate"
	}
	return "op?"
}

// Selector picks which hardware context table an indirect command
// addresses.
type Selector uint32

const (
	SelSwC2H Selector = 0x0
	SelSwH2C Selector = 0x1
	SelHwC2H Selector = 0x2
	SelHwH2C Selector = 0x3
	SelCrC2H Selector = 0x4
	SelCrH2C Selector = 0x5
	SelCmpt  Selector = 0x6
	SelPftch Selector = 0x7
	SelFmap  Selector = 0xc
)

func (s Selector) String() string {
	switch s {
	case SelSwC2H:
		return "sw-c2h"
	case SelSwH2C:
		return "sw-h2c"
	case SelHwC2H:
		return "hw-c2h"
	case SelHwH2C:
		return "hw-h2c"
	case SelCrC2H:
		return "cr-c2h"
	case SelCrH2C:
		return "cr-h2c"
	case SelCmpt:
		return "cmpt"
	case SelPftch:
		return "pftch"
	case SelFmap:
		return "fmap"
	}
	return "sel?"
}

func cmdWord(op Op, sel Selector, qid uint32) uint32 {
	return qid<<cmd_qid_shift |
		uint32(op)<<cmd_op_shift |
		uint32(sel)<<cmd_sel_shift |
		cmd_busy
}
