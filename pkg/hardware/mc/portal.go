// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package mc talks to the management complex coprocessor through its
// command portals.
//
// A portal is a small shared memory window holding one command slot. The
// caller writes parameters and then the header, which acts as the doorbell.
// The MC overwrites the slot with its response and clears the ready status.
// Since request and response share the slot, a Portal only ever has one
// command in flight and serializes callers with a mutex.
package mc

import (
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jmhodges/clock"
	"github.com/jpillora/backoff"
	"github.com/u-root/u-bringup/pkg/errcode"
	"github.com/u-root/u-bringup/pkg/hardware/regs"
	"github.com/u-root/u-bringup/pkg/logger"
	"github.com/u-root/u-bringup/pkg/metric"
)

var log = logger.LogContainer.GetSimpleLogger()

type State int32

const (
	Idle State = iota
	Sending
	Waiting
	Faulted
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Sending:
		return "sending"
	case Waiting:
		return "waiting"
	case Faulted:
		return "faulted"
	}
	return "unknown"
}

// Budget bounds how long a command may take. The status is read at most
// Polls times, with a delay growing from MinDelay to MaxDelay in between.
type Budget struct {
	Polls    int
	MinDelay time.Duration
	MaxDelay time.Duration
}

// The MC answers most commands within a few hundred microseconds; 500ms
// is what its firmware documents as the worst case.
var DefaultBudget = Budget{
	Polls:    1000,
	MinDelay: 10 * time.Microsecond,
	MaxDelay: 500 * time.Microsecond,
}

type Portal struct {
	mu     sync.Mutex
	mem    regs.Mem
	base   uintptr
	budget Budget
	state  int32
	// slot is the portal's private copy of the command being exchanged.
	slot Command
	clk  clock.Clock
}

// PortalAddr is the address of portal n of the MC whose portal 0 is at
// base.
func PortalAddr(base uint64, n int) uintptr {
	return uintptr(base + uint64(n)*PortalSize)
}

// NewPortal returns the portal mapped at base.
func NewPortal(mem regs.Mem, base uintptr, b Budget) *Portal {
	if b.Polls <= 0 {
		b.Polls = DefaultBudget.Polls
	}
	if b.MinDelay <= 0 {
		b.MinDelay = time.Microsecond
	}
	if b.MaxDelay < b.MinDelay {
		b.MaxDelay = b.MinDelay
	}
	return &Portal{mem: mem, base: base, budget: b, clk: clock.New()}
}

func (p *Portal) State() State {
	return State(atomic.LoadInt32(&p.state))
}

func (p *Portal) setState(s State) {
	atomic.StoreInt32(&p.state, int32(s))
}

func (p *Portal) Base() uintptr {
	return p.base
}

func (p *Portal) count(c *Command, err error) {
	metric.PortalCommands.WithLabelValues("0x"+strconv.FormatUint(uint64(c.ID), 16), string(errcode.Of(err))).Inc()
}

// SendCommand performs one send and wait cycle. A portal left faulted by a
// timed out command is cleared first; the stale slot content is discarded.
// A failure status from the MC is returned as a *StatusError together with
// the response.
func (p *Portal) SendCommand(cmd Command) (Command, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.State() == Faulted {
		log.Warnf("MC portal %#x: clearing fault left by command %#04x", p.base, p.slot.ID)
		p.slot = Command{}
		p.setState(Idle)
	}

	if headerStatus(p.mem.MustRead64(p.base+offHeader)) == StatusReady {
		err := errcode.New(errcode.Busy, "SendCommand", fmt.Sprintf("portal %#x has a command pending", p.base))
		p.count(&cmd, err)
		return Command{}, err
	}

	p.setState(Sending)
	p.slot = cmd
	p.slot.Status = StatusReady
	for i, v := range p.slot.Params {
		p.mem.MustWrite64(p.base+offParams+uintptr(8*i), v)
	}
	// The header goes last, it rings the doorbell.
	p.mem.MustWrite64(p.base+offHeader, p.slot.header())
	p.setState(Waiting)

	b := &backoff.Backoff{Min: p.budget.MinDelay, Max: p.budget.MaxDelay, Factor: 2}
	var h uint64
	polls := 0
	for {
		polls++
		h = p.mem.MustRead64(p.base + offHeader)
		if headerStatus(h) != StatusReady {
			break
		}
		if polls >= p.budget.Polls {
			p.setState(Faulted)
			metric.PortalPolls.Observe(float64(polls))
			err := errcode.New(errcode.Timeout, "SendCommand",
				fmt.Sprintf("portal %#x: command %#04x not completed after %d polls", p.base, cmd.ID, polls))
			p.count(&cmd, err)
			return Command{}, err
		}
		p.clk.Sleep(b.Duration())
	}
	metric.PortalPolls.Observe(float64(polls))

	p.slot.setHeader(h)
	for i := range p.slot.Params {
		p.slot.Params[i] = p.mem.MustRead64(p.base + offParams + uintptr(8*i))
	}
	resp := p.slot
	p.setState(Idle)
	log.Debugw("MC portal exchange",
		logger.LogContainer.Hex("portal", uint64(p.base)),
		logger.LogContainer.Hex("cmd", uint64(cmd.ID)),
		logger.LogContainer.String("status", resp.Status.String()),
		logger.LogContainer.Int("polls", polls))

	if resp.Status != StatusOK {
		err := &StatusError{Cmd: cmd.ID, Status: resp.Status}
		p.count(&cmd, err)
		return resp, err
	}
	p.count(&cmd, nil)
	return resp, nil
}
