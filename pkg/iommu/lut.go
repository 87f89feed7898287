// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iommu

import (
	"fmt"
	"sync"

	"github.com/u-root/u-bringup/pkg/errcode"
	"github.com/u-root/u-bringup/pkg/hardware/regs"
)

const (
	LUTEntries = 32

	lutUDR0     = 0x800
	lutLDR0     = 0x804
	lutStride   = 8
	lutValid    = 1 << 31
	lutRIDShift = 16
)

// LUT is the requester id to stream id table of one PCIe controller.
type LUT struct {
	mu   sync.Mutex
	mem  regs.Mem
	base uintptr
	used int
}

// NewLUT expects all entries to be invalid, as they are out of reset.
func NewLUT(mem regs.Mem, base uintptr) *LUT {
	return &LUT{mem: mem, base: base}
}

func (l *LUT) Free() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return LUTEntries - l.used
}

// Program claims the next entry for rid and returns its index.
func (l *LUT) Program(rid uint16, sid uint32) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.used >= LUTEntries {
		return 0, errcode.New(errcode.TableFull, "Program", fmt.Sprintf("LUT at %#x has no free entry for %#x", l.base, rid))
	}
	n := l.used
	off := l.base + uintptr(n*lutStride)
	l.mem.MustWrite32(off+lutUDR0, uint32(rid)<<lutRIDShift)
	l.mem.MustWrite32(off+lutLDR0, sid|lutValid)
	l.used++
	return n, nil
}
