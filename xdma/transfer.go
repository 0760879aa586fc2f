// Copyright 2023 Lizhi Hou. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xdma

import "context"

// Transfer moves the scatter/gather list between host memory and the
// device endpoint address and returns the bytes the hardware acknowledged.
// It blocks until the request fully completes, the transfer times out, or
// ctx ends while waiting for a channel or a completion.  The channel goes
// back to the pool on every path.
func (d *Device) Transfer(ctx context.Context, dir Dir, sgl []Segment, endpoint uint64) (uint64, error) {
	c, err := d.Acquire(ctx, dir)
	if err != nil {
		return 0, err
	}
	defer d.Release(c)
	return c.submit(ctx, sgl, endpoint, d.opt.TransferTimeout)
}
