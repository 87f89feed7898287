// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mc

import (
	"sync"

	"github.com/u-root/u-bringup/pkg/hardware/regs"
)

// fakeMC plays the coprocessor behind one portal. Once the header is
// written with the ready status it completes the command after delay
// status reads, unless hang is set.
type fakeMC struct {
	*regs.Sparse
	base uintptr

	mu      sync.Mutex
	respond func(Command) Command
	delay   int
	hang    bool
	pending bool
	left    int
	served  []Command

	// Access window tracking: a window opens with the first parameter
	// write of a command and closes with the read of the last response
	// parameter.
	open     bool
	overlaps int
}

func newFakeMC(base uintptr, respond func(Command) Command) *fakeMC {
	return &fakeMC{Sparse: regs.NewSparse(), base: base, respond: respond}
}

func (f *fakeMC) MustWrite64(a uintptr, d uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a == f.base+offParams {
		if f.open {
			f.overlaps++
		}
		f.open = true
	}
	f.Sparse.MustWrite64(a, d)
	if a == f.base+offHeader && headerStatus(d) == StatusReady {
		f.pending = true
		f.left = f.delay
	}
}

func (f *fakeMC) MustRead64(a uintptr) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	if a == f.base+offHeader && f.pending && !f.hang {
		if f.left > 0 {
			f.left--
		} else {
			f.complete()
		}
	}
	v := f.Sparse.MustRead64(a)
	if a == f.base+offParams+8*(NumParams-1) {
		f.open = false
	}
	return v
}

func (f *fakeMC) complete() {
	var c Command
	c.setHeader(f.Sparse.MustRead64(f.base + offHeader))
	for i := range c.Params {
		c.Params[i] = f.Sparse.MustRead64(f.base + offParams + uintptr(8*i))
	}
	f.served = append(f.served, c)
	r := f.respond(c)
	for i, v := range r.Params {
		f.Sparse.MustWrite64(f.base+offParams+uintptr(8*i), v)
	}
	f.Sparse.MustWrite64(f.base+offHeader, r.header())
	f.pending = false
}

func (f *fakeMC) setHang(h bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hang = h
}

// echo answers every command with status OK and Params[0] incremented.
func echo(c Command) Command {
	c.Status = StatusOK
	c.Params[0]++
	return c
}
