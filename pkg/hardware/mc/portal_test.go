// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mc

import (
	"errors"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/jmhodges/clock"
	pt "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/u-root/u-bringup/pkg/errcode"
	"github.com/u-root/u-bringup/pkg/hardware/regs/regtest"
	"github.com/u-root/u-bringup/pkg/metric"
	"golang.org/x/sync/errgroup"
)

const portalBase = 0x80c000000

var fastBudget = Budget{Polls: 10, MinDelay: time.Microsecond, MaxDelay: time.Microsecond}

// noSleep swaps in a fake clock so polling takes no wall time.
func noSleep(p *Portal) *Portal {
	p.clk = clock.NewFake()
	return p
}

func TestHeaderLayout(t *testing.T) {
	c := Command{ID: 0x8311, Token: 0xbeef, SrcID: 0x12, FlagsHW: FlagPriority, FlagsSW: FlagIntrDis, Status: StatusReady}
	if got, want := c.header(), uint64(0x8311beef01018012); got != want {
		t.Errorf("header() = %016x, want %016x", got, want)
	}
	var d Command
	d.setHeader(c.header())
	if diff := cmp.Diff(c, d); diff != "" {
		t.Errorf("setHeader(header()) mismatch (-want +got):\n%s", diff)
	}
}

func TestPayload(t *testing.T) {
	var c Command
	c.SetPayload([]byte{1, 2, 3, 4, 5, 6, 7, 8, 9})
	if c.Params[0] != 0x0807060504030201 || c.Params[1] != 0x09 {
		t.Errorf("SetPayload params = %x", c.Params)
	}
	if b := c.Payload(); len(b) != NumParams*8 || b[8] != 9 {
		t.Errorf("Payload() = %x", b)
	}
}

func TestSendCommandSequence(t *testing.T) {
	fm := regtest.New(t)
	p := noSleep(NewPortal(fm, portalBase, fastBudget))
	cmd := Command{ID: 0x10, Token: 3}
	cmd.Params[0] = 0xaa

	fm.FakeRead64(portalBase, 0) // not busy
	for i := 0; i < NumParams; i++ {
		v := uint64(0)
		if i == 0 {
			v = 0xaa
		}
		fm.ExpectWrite64(portalBase+0x8+uintptr(8*i), v)
	}
	fm.ExpectWrite64(portalBase, 0x0010000300010000)
	fm.FakeRead64(portalBase, 0x0010000300010000) // still running
	fm.FakeRead64(portalBase, 0x0010000300000000) // done
	for i := 0; i < NumParams; i++ {
		fm.FakeRead64(portalBase+0x8+uintptr(8*i), uint64(i))
	}

	r, err := p.SendCommand(cmd)
	fm.Done()
	if err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if r.Status != StatusOK || r.ID != 0x10 || r.Token != 3 || r.Params[6] != 6 {
		t.Errorf("SendCommand response = %+v", r)
	}
	if p.State() != Idle {
		t.Errorf("State() = %v, want idle", p.State())
	}
}

func TestTimeoutWithinBudget(t *testing.T) {
	fm := regtest.New(t)
	p := noSleep(NewPortal(fm, portalBase, fastBudget))

	fm.FakeRead64(portalBase, 0)
	for i := 0; i < NumParams; i++ {
		fm.ExpectWrite64(portalBase+0x8+uintptr(8*i), 0)
	}
	fm.ExpectWrite64(portalBase, 0x0010000000010000)
	for i := 0; i < fastBudget.Polls; i++ {
		fm.FakeRead64(portalBase, 0x0010000000010000)
	}

	before := pt.ToFloat64(metric.PortalCommands.WithLabelValues("0x10", string(errcode.Timeout)))
	start := p.clk.Now()
	_, err := p.SendCommand(Command{ID: 0x10})
	fm.Done()
	if waited, limit := p.clk.Now().Sub(start), time.Duration(fastBudget.Polls)*fastBudget.MaxDelay; waited > limit {
		t.Errorf("waited %v for a timeout, budget allows %v", waited, limit)
	}
	if !errors.Is(err, errcode.Timeout) {
		t.Fatalf("SendCommand err = %v, want timeout", err)
	}
	if p.State() != Faulted {
		t.Errorf("State() = %v, want faulted", p.State())
	}
	after := pt.ToFloat64(metric.PortalCommands.WithLabelValues("0x10", string(errcode.Timeout)))
	if after != before+1 {
		t.Errorf("timeout counter went from %v to %v", before, after)
	}
}

func TestBusyOnEntry(t *testing.T) {
	fm := regtest.New(t)
	p := noSleep(NewPortal(fm, portalBase, fastBudget))
	fm.FakeRead64(portalBase, uint64(StatusReady)<<16)
	_, err := p.SendCommand(Command{ID: 0x10})
	fm.Done()
	if !errors.Is(err, errcode.Busy) {
		t.Errorf("SendCommand err = %v, want busy", err)
	}
	if p.State() != Idle {
		t.Errorf("State() = %v, want idle", p.State())
	}
}

func TestStatusErrorIsVerbatim(t *testing.T) {
	f := newFakeMC(portalBase, func(c Command) Command {
		c.Status = StatusNoResource
		return c
	})
	p := noSleep(NewPortal(f, portalBase, fastBudget))
	r, err := p.SendCommand(Command{ID: CmdGetVersion})
	var se *StatusError
	if !errors.As(err, &se) || se.Status != StatusNoResource {
		t.Fatalf("SendCommand err = %v, want status error no resources", err)
	}
	if !errors.Is(err, errcode.DeviceError) {
		t.Errorf("errors.Is(%v, DeviceError) = false", err)
	}
	if r.Status != StatusNoResource {
		t.Errorf("response status = %v, want %v", r.Status, StatusNoResource)
	}
	if p.State() != Idle {
		t.Errorf("State() = %v, want idle", p.State())
	}
}

func TestFreshCycleAfterTimeout(t *testing.T) {
	f := newFakeMC(portalBase, echo)
	p := noSleep(NewPortal(f, portalBase, fastBudget))

	f.setHang(true)
	stale := Command{ID: 0x10}
	stale.Params[0] = 100
	if _, err := p.SendCommand(stale); !errors.Is(err, errcode.Timeout) {
		t.Fatalf("first SendCommand err = %v, want timeout", err)
	}
	if p.State() != Faulted {
		t.Fatalf("State() = %v, want faulted", p.State())
	}

	// The MC finishes the stale command late; the next caller must still
	// get the answer to its own command.
	f.setHang(false)
	fresh := Command{ID: 0x20}
	fresh.Params[0] = 200
	r, err := p.SendCommand(fresh)
	if err != nil {
		t.Fatalf("second SendCommand: %v", err)
	}
	if r.ID != 0x20 || r.Params[0] != 201 {
		t.Errorf("second SendCommand response = %+v, want answer to command 0x20", r)
	}
	if p.State() != Idle {
		t.Errorf("State() = %v, want idle", p.State())
	}
	if len(f.served) != 2 || f.served[1].ID != 0x20 {
		t.Errorf("MC served %+v, want the stale and the fresh command", f.served)
	}
}

func TestStillPendingAfterTimeoutIsBusy(t *testing.T) {
	f := newFakeMC(portalBase, echo)
	p := noSleep(NewPortal(f, portalBase, fastBudget))
	f.setHang(true)
	if _, err := p.SendCommand(Command{ID: 0x10}); !errors.Is(err, errcode.Timeout) {
		t.Fatalf("first SendCommand err = %v, want timeout", err)
	}
	if _, err := p.SendCommand(Command{ID: 0x11}); !errors.Is(err, errcode.Busy) {
		t.Fatalf("second SendCommand err = %v, want busy", err)
	}
	if p.State() != Idle {
		t.Errorf("State() = %v, want idle after the fault was cleared", p.State())
	}
}

func TestConcurrentCallersNeverOverlap(t *testing.T) {
	f := newFakeMC(portalBase, echo)
	f.delay = 2
	p := NewPortal(f, portalBase, Budget{Polls: 100, MinDelay: time.Microsecond, MaxDelay: 10 * time.Microsecond})

	var g errgroup.Group
	for w := 0; w < 8; w++ {
		w := w
		g.Go(func() error {
			for i := 0; i < 25; i++ {
				c := Command{ID: 0x40}
				c.Params[0] = uint64(w<<16 | i)
				r, err := p.SendCommand(c)
				if err != nil {
					return err
				}
				if r.Params[0] != c.Params[0]+1 {
					t.Errorf("worker %d got response %x for command %x", w, r.Params[0], c.Params[0])
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("SendCommand: %v", err)
	}
	if f.overlaps != 0 {
		t.Errorf("%d overlapping portal access windows", f.overlaps)
	}
	if len(f.served) != 200 {
		t.Errorf("MC served %d commands, want 200", len(f.served))
	}
}

func TestBudgetDefaults(t *testing.T) {
	p := NewPortal(regtest.New(t), portalBase, Budget{})
	if p.budget.Polls != DefaultBudget.Polls || p.budget.MinDelay <= 0 || p.budget.MaxDelay < p.budget.MinDelay {
		t.Errorf("NewPortal normalised budget to %+v", p.budget)
	}
}

func TestPortalAddr(t *testing.T) {
	for n, want := range map[int]uintptr{0: portalBase, 1: portalBase + 0x10000, 3: portalBase + 0x30000} {
		if got := PortalAddr(portalBase, n); got != want {
			t.Errorf("PortalAddr(%#x, %d) = %#x, want %#x", portalBase, n, got, want)
		}
		if got := NewPortal(regtest.New(t), PortalAddr(portalBase, n), fastBudget).Base(); got != want {
			t.Errorf("portal %d Base() = %#x, want %#x", n, got, want)
		}
	}
}
