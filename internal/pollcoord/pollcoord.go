// Package pollcoord implements the request_poll/poll_if_pending
// trampoline (spec.md §4.8): any caller can mark work pending, but
// only one caller at a time actually runs the poll body, looping
// until the pending flag stays clear after a pass.
package pollcoord

import "sync/atomic"

// Coordinator serializes poll execution behind a compare-and-swap
// pending flag. DrainRX and TCPPoll are invoked, in that order, once
// per pass.
type Coordinator struct {
	pending atomic.Bool
	drainRX func() error
	tcpPoll func() error
}

// New returns a Coordinator that runs drainRX then tcpPoll on each
// poll pass.
func New(drainRX func() error, tcpPoll func() error) *Coordinator {
	return &Coordinator{drainRX: drainRX, tcpPoll: tcpPoll}
}

// RequestPoll marks a poll pass pending. Safe to call from any
// goroutine, including from inside a poll pass itself.
func (c *Coordinator) RequestPoll() {
	c.pending.Store(true)
}

// PollIfPending runs the poll body for as long as RequestPoll keeps
// re-arming the pending flag, so a caller never observes work queued
// by a concurrent RequestPoll silently dropped. Concurrent callers
// race on the CAS: exactly one drives each pass, the rest return
// immediately once the flag reads clear.
func (c *Coordinator) PollIfPending() error {
	for c.pending.CompareAndSwap(true, false) {
		if err := c.drainRX(); err != nil {
			return err
		}
		if err := c.tcpPoll(); err != nil {
			return err
		}
	}
	return nil
}
