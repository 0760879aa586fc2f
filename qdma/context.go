// Copyright 2023 Lizhi Hou. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package qdma

import (
	"github.com/pkg/errors"

	"github.com/houlz0507/xdma-go/hw"
)

// WriteContext programs one context entry: data words at the data
// registers, an unconditional all-ones mask, then the command word.  The
// device has a single indirect window shared by every context on it, so
// the triple goes out under the device lock.  Unused data slots are
// zero filled; partial-field updates are not expressible here.
//
// A busy bit that never clears comes back as hw.ErrTimeout so the caller
// can pick retry or abort; the lock is released either way.
func (d *Device) WriteContext(sel Selector, qid uint32, words []uint32) error {
	if len(words) > ind_ctxt_width {
		return errors.Errorf("context %v qid %d: %d words exceeds window width %d",
			sel, qid, len(words), ind_ctxt_width)
	}
	if qid > cmd_qid_max {
		return errors.Errorf("context %v: qid %d exceeds command field", sel, qid)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	for i := 0; i < ind_ctxt_width; i++ {
		var w uint32
		if i < len(words) {
			w = words[i]
		}
		if err := d.regs.Write32(ind_ctxt_data+4*uint32(i), w); err != nil {
			return errors.Wrapf(err, "context %v qid %d: data word %d", sel, qid, i)
		}
		if err := d.regs.Write32(ind_ctxt_mask+4*uint32(i), ^uint32(0)); err != nil {
			return errors.Wrapf(err, "context %v qid %d: mask word %d", sel, qid, i)
		}
	}
	return d.command(OpWrite, sel, qid)
}

// ReadContext fetches one context entry through the indirect window.
func (d *Device) ReadContext(sel Selector, qid uint32) ([]uint32, error) {
	if qid > cmd_qid_max {
		return nil, errors.Errorf("context %v: qid %d exceeds command field", sel, qid)
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.command(OpRead, sel, qid); err != nil {
		return nil, err
	}
	words := make([]uint32, ind_ctxt_width)
	for i := range words {
		v, err := d.regs.Read32(ind_ctxt_data + 4*uint32(i))
		if err != nil {
			return nil, errors.Wrapf(err, "context %v qid %d: data word %d", sel, qid, i)
		}
		words[i] = v
	}
	return words, nil
}

// ClearContext zeroes one context entry.
func (d *Device) ClearContext(sel Selector, qid uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.command(OpClear, sel, qid)
}

// InvalidateContext drops any hardware-cached copy of one context entry.
func (d *Device) InvalidateContext(sel Selector, qid uint32) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.command(OpInvalidate, sel, qid)
}

// command issues one indirect command and waits for hardware to consume
// it.  Callers hold d.mu.
func (d *Device) command(op Op, sel Selector, qid uint32) error {
	if err := d.regs.Write32(ind_ctxt_cmd, cmdWord(op, sel, qid)); err != nil {
		return errors.Wrapf(err, "context %v qid %d: command", sel, qid)
	}
	return hw.Monitor(d.regs, ind_ctxt_cmd, cmd_busy, 0, d.interval, d.timeout)
}

// FmapContext maps a function to its queue range.
type FmapContext struct {
	Qbase uint32
	Qmax  uint32
}

func (f FmapContext) words() []uint32 { return []uint32{f.Qbase, f.Qmax} }

// WriteFmap binds function fn to f's queue range.  The fmap table is
// indexed by function id, not queue id.
func (d *Device) WriteFmap(fn uint32, f FmapContext) error {
	return d.WriteContext(SelFmap, fn, f.words())
}

// ReadFmap returns function fn's queue range.
func (d *Device) ReadFmap(fn uint32) (FmapContext, error) {
	words, err := d.ReadContext(SelFmap, fn)
	if err != nil {
		return FmapContext{}, err
	}
	return FmapContext{Qbase: words[0], Qmax: words[1]}, nil
}
