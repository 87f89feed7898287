// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regs

import (
	"sync"
)

// Sparse is a little-endian register file backed by a map. Addresses that
// were never written read as zero. It stands in for hardware in dry runs
// against register dumps and in tests.
type Sparse struct {
	m sync.Mutex
	b map[uintptr]byte
}

func NewSparse() *Sparse {
	return &Sparse{b: make(map[uintptr]byte)}
}

func (s *Sparse) read(a uintptr, n int) uint64 {
	s.m.Lock()
	defer s.m.Unlock()
	var v uint64
	for i := n - 1; i >= 0; i-- {
		v = v<<8 | uint64(s.b[a+uintptr(i)])
	}
	return v
}

func (s *Sparse) write(a uintptr, n int, v uint64) {
	s.m.Lock()
	defer s.m.Unlock()
	for i := 0; i < n; i++ {
		s.b[a+uintptr(i)] = byte(v)
		v >>= 8
	}
}

func (s *Sparse) MustRead32(a uintptr) uint32     { return uint32(s.read(a, 4)) }
func (s *Sparse) MustRead64(a uintptr) uint64     { return s.read(a, 8) }
func (s *Sparse) MustWrite32(a uintptr, d uint32) { s.write(a, 4, uint64(d)) }
func (s *Sparse) MustWrite64(a uintptr, d uint64) { s.write(a, 8, d) }
func (s *Sparse) Close()                          {}
