// Copyright 2023 Lizhi Hou. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xdma

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/platinasystems/log"
)

// Channel states.  Submissions walk Idle -> Arming -> Running ->
// CompletionPending and either back to Idle or through Draining for the
// next chunk of the same request.
type chanState int

const (
	chanIdle chanState = iota
	chanArming
	chanRunning
	chanComplPending
	chanDraining
)

// Channel is one unidirectional hardware engine.  It owns its descriptor
// block set; the pool's acquire/release discipline guarantees a single
// owner between submit and completion, so only state and the completion
// signal need locking against interrupt context.
type Channel struct {
	dev    *Device
	base   uint32 // channel register window
	index  uint32 // global index; also the irq bit
	id     uint32 // id within its direction
	dir    Dir
	blocks []descBlock

	mu    sync.Mutex
	state chanState

	// Posted from interrupt context, consumed by the submitter.
	compl chan struct{}
}

func (c *Channel) Dir() Dir      { return c.dir }
func (c *Channel) Index() uint32 { return c.index }
func (c *Channel) Id() uint32    { return c.id }

func (c *Channel) String() string {
	return fmt.Sprintf("%s%d", map[Dir]string{H2C: "xdma-h2c-", C2H: "xdma-c2h-"}[c.dir], c.id)
}

func (c *Channel) read(reg uint32) (uint32, error) {
	return c.dev.regs.Read32(c.base + reg)
}

func (c *Channel) write(reg, v uint32) error {
	return c.dev.regs.Write32(c.base+reg, v)
}

func (c *Channel) writeSgdma(reg, v uint32) error {
	return c.dev.regs.Write32(c.base+sgdma_offset+reg, v)
}

func (c *Channel) setState(s chanState) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// interrupt wakes the submitter.  Runs in completion-signal context and
// must not block: rebuilding and re-arming the continuation happens on
// the submitter side after the wake.
func (c *Channel) interrupt() {
	select {
	case c.compl <- struct{}{}:
	default:
	}
}

// init programs the per-channel defaults at discovery time: incrementing
// endpoint addressing and the full error interrupt mask.
func (c *Channel) init() error {
	if err := c.write(chan_control_w1c, ctrl_non_incr_addr); err != nil {
		return errors.Wrapf(err, "%v: clear non-incr addr", c)
	}
	if err := c.write(chan_intr_enable, ie_default); err != nil {
		return errors.Wrapf(err, "%v: set interrupt enable", c)
	}
	return nil
}

// submit runs one request to full completion, resubmitting continuation
// chunks until the scatter/gather list is exhausted.  Returns the bytes
// acknowledged complete by hardware.
func (c *Channel) submit(ctx context.Context, sgl []Segment, endpoint uint64, timeout time.Duration) (uint64, error) {
	c.mu.Lock()
	if c.state != chanIdle {
		c.mu.Unlock()
		return 0, errors.Wrapf(ErrChannelBusy, "%v", c)
	}
	c.state = chanArming
	c.mu.Unlock()

	total := sglLen(sgl)
	var done uint64
	for done < total {
		pass := buildChain(c.blocks, c.dir, sgl, endpoint, done)
		if pass.ndesc == 0 {
			break
		}
		if err := c.arm(&pass); err != nil {
			c.reset()
			return done, err
		}
		c.setState(chanRunning)

		if err := c.waitCompletion(ctx, timeout); err != nil {
			c.regDump("completion wait failed")
			c.reset()
			return done, err
		}
		c.setState(chanComplPending)

		ndone, err := c.finishPass(&pass)
		if err != nil {
			c.reset()
			return done, err
		}
		done += pass.ackBytes(ndone)
		if done < total {
			c.setState(chanDraining)
		}
	}
	c.setState(chanIdle)
	return done, nil
}

// arm writes the descriptor pointer and adjacency registers for the
// first block and starts the run.  The run bit is cleared first so the
// engine latches the new pointers.  Register write failures abort the
// pass; they are not fire-and-forget.
func (c *Channel) arm(pass *chainPass) error {
	if err := c.write(chan_control_w1c, ctrl_run_stop); err != nil {
		return errors.Wrapf(err, "%v: stop before arm", c)
	}
	first := &c.blocks[0]
	if err := c.writeSgdma(sgdma_desc_lo, addr_lo(first.bus())); err != nil {
		return errors.Wrapf(err, "%v: descriptor pointer lo", c)
	}
	if err := c.writeSgdma(sgdma_desc_hi, addr_hi(first.bus())); err != nil {
		return errors.Wrapf(err, "%v: descriptor pointer hi", c)
	}
	if err := c.writeSgdma(sgdma_desc_adj, first.ndesc-1); err != nil {
		return errors.Wrapf(err, "%v: descriptor adjacency", c)
	}
	if err := c.write(chan_control, ctrl_start); err != nil {
		return errors.Wrapf(err, "%v: start", c)
	}
	return nil
}

// waitCompletion blocks on the completion signal with a bounded wait.
// Steady state is interrupt driven; there is no polling here.
func (c *Channel) waitCompletion(ctx context.Context, timeout time.Duration) error {
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-c.compl:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return errors.Wrapf(ErrTransferTimeout, "%v after %v", c, timeout)
	}
}

// finishPass validates the completed descriptor count against the
// submitted chain and quiesces the channel for the next pass.  A count
// short of the chain is a legal stopping point the caller resumes from;
// zero or more than submitted contradicts the chain and is fatal.
func (c *Channel) finishPass(pass *chainPass) (uint32, error) {
	ndone, err := c.read(chan_completed_desc)
	if err != nil {
		return 0, errors.Wrapf(err, "%v: completed count", c)
	}
	if ndone == 0 || ndone > pass.ndesc {
		err := &ConsistencyError{Channel: c.index, Submitted: pass.ndesc, Completed: ndone}
		log.Print(c.String(), ": ", err)
		return 0, err
	}

	status, err := c.read(chan_status_rc)
	if err != nil {
		return 0, errors.Wrapf(err, "%v: status", c)
	}
	if e := status & (ctrl_ie_desc_align_mismatch | ctrl_ie_magic_stopped |
		ctrl_ie_read_error | ctrl_ie_desc_error); e != 0 {
		log.Print(c.String(), fmt.Sprintf(": error status 0x%08x", e))
	}

	if err := c.write(chan_control_w1c, ctrl_run_stop); err != nil {
		return 0, errors.Wrapf(err, "%v: stop after pass", c)
	}
	return ndone, nil
}

// reset forces the channel back to Idle after a fault or timeout.  The
// run bit is cleared but in-flight descriptors are left to finish or
// fault on their own; there is no mid-transfer cancel.
func (c *Channel) reset() {
	if err := c.write(chan_control_w1c, ctrl_run_stop); err != nil {
		log.Print(c.String(), ": reset: ", err)
	}
	if _, err := c.read(chan_status_rc); err != nil {
		log.Print(c.String(), ": reset status: ", err)
	}
	// Drop a completion that raced the reset.
	select {
	case <-c.compl:
	default:
	}
	c.setState(chanIdle)
}

// regDump logs the channel register snapshot before a reset, the only
// evidence an unacknowledged timeout leaves behind.
func (c *Channel) regDump(why string) {
	regs := []struct {
		name string
		off  uint32
	}{
		{"identifier", chan_identifier},
		{"control", chan_control},
		{"status", chan_status},
		{"completed", chan_completed_desc},
	}
	s := c.String() + ": " + why
	for _, r := range regs {
		v, err := c.read(r.off)
		if err != nil {
			s += fmt.Sprintf(" %s=?", r.name)
			continue
		}
		s += fmt.Sprintf(" %s=0x%08x", r.name, v)
	}
	log.Print(s)
}
