// Copyright 2023 Lizhi Hou. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package xdma

import (
	"fmt"

	"github.com/pkg/errors"
)

var (
	// ErrChannelBusy reports a submit on a channel that is already
	// running a request.  Callers serialize through the channel pool;
	// hitting this is a caller bug, not a runtime condition.
	ErrChannelBusy = errors.New("channel busy: request already in flight")

	// ErrTransferTimeout reports that the completion interrupt never
	// arrived within the transfer wait.  The channel has been reset
	// and returned to the pool; the request is not retried because
	// the hardware state is unacknowledged.
	ErrTransferTimeout = errors.New("transfer completion timeout")

	// ErrNoChannels reports discovery finding no usable channel in a
	// required direction.  Fatal to device bring-up.
	ErrNoChannels = errors.New("no DMA channels discovered")
)

// ConsistencyError reports a completed-descriptor count that contradicts
// the submitted chain.  Possible causes (lost interrupt, corrupted
// descriptor fetch) cannot be told apart at this layer, so the request
// fails without retry.
type ConsistencyError struct {
	Channel   uint32
	Submitted uint32
	Completed uint32
}

func (e *ConsistencyError) Error() string {
	return fmt.Sprintf("channel %d: hardware completed %d of %d submitted descriptors",
		e.Channel, e.Completed, e.Submitted)
}
