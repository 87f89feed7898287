// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package regs provides access to memory mapped SoC registers.
//
// Accesses are uncached and ordered. An access to an address that does not
// decode is a programming error and panics, hence the Must prefix.
package regs

import (
	"math/bits"
)

type Mem interface {
	MustRead32(uintptr) uint32
	MustRead64(uintptr) uint64
	MustWrite32(uintptr, uint32)
	MustWrite64(uintptr, uint64)
	Close()
}

// Layerscape CCSR blocks such as DCFG and SCFG are big-endian on some SoCs
// while the cores run little-endian.
type bigEndian struct {
	Mem
}

// BigEndian returns a Mem that byte swaps every access to m.
func BigEndian(m Mem) Mem {
	return &bigEndian{m}
}

func (m *bigEndian) MustRead32(a uintptr) uint32 {
	return bits.ReverseBytes32(m.Mem.MustRead32(a))
}

func (m *bigEndian) MustRead64(a uintptr) uint64 {
	return bits.ReverseBytes64(m.Mem.MustRead64(a))
}

func (m *bigEndian) MustWrite32(a uintptr, d uint32) {
	m.Mem.MustWrite32(a, bits.ReverseBytes32(d))
}

func (m *bigEndian) MustWrite64(a uintptr, d uint64) {
	m.Mem.MustWrite64(a, bits.ReverseBytes64(d))
}
