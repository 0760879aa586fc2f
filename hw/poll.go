// Copyright 2023 Lizhi Hou. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package hw

import (
	"time"

	"github.com/jpillora/backoff"
	"github.com/pkg/errors"
)

// ErrTimeout is returned when a polled condition does not hold before the
// deadline.  Callers distinguish it from I/O errors with errors.Is; a busy
// timeout may be retryable where a register access failure is not.
var ErrTimeout = errors.New("busy poll timeout")

const (
	// Defaults match the hardware documentation: context and status
	// polls settle within hundreds of microseconds when healthy.
	DefaultPollInterval = 10 * time.Microsecond
	DefaultPollTimeout  = 100 * time.Millisecond
)

var sleep = time.Sleep

// Poll calls cond at a fixed interval until it reports true, an error, or
// the deadline passes.  A zero interval or timeout selects the default.
// The first failed check past the deadline ends the poll, so a condition
// that lands during the final sleep is still seen.
func Poll(cond func() (bool, error), interval, timeout time.Duration) error {
	if interval == 0 {
		interval = DefaultPollInterval
	}
	if timeout == 0 {
		timeout = DefaultPollTimeout
	}
	b := &backoff.Backoff{
		Min:    interval,
		Max:    interval,
		Factor: 1,
	}
	deadline := time.Now().Add(timeout)
	for {
		ok, err := cond()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if time.Now().After(deadline) {
			return ErrTimeout
		}
		sleep(b.Duration())
	}
}

// Monitor polls register offset until value&mask == want.  This is the
// slow-path register confirmation primitive; steady-state transfer
// completion is interrupt driven, never polled.
func Monitor(r Regs, offset, mask, want uint32, interval, timeout time.Duration) error {
	var last uint32
	err := Poll(func() (bool, error) {
		v, err := r.Read32(offset)
		if err != nil {
			return false, err
		}
		last = v
		return v&mask == want, nil
	}, interval, timeout)
	if errors.Is(err, ErrTimeout) {
		return errors.Wrapf(ErrTimeout,
			"register 0x%x: read 0x%x, want 0x%x under mask 0x%x",
			offset, last, want, mask)
	}
	return err
}
