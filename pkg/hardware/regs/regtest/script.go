// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package regtest scripts register accesses for tests.
//
// A Script is loaded with the exact sequence of reads and writes the code
// under test is expected to perform. Reads return the scripted value,
// writes are compared against the scripted value.
package regtest

import (
	"fmt"
	"testing"
)

type op struct {
	write   bool
	address uintptr
	data    uint64
	size    int
}

type Script struct {
	t   testing.TB
	ops []op
}

func opstr(o *op) string {
	t := "read"
	if o.write {
		t = "write"
	}
	return fmt.Sprintf("{%s @ %08x, %v bit = %08x}", t, o.address, o.size, o.data)
}

func New(t testing.TB) *Script {
	return &Script{t: t}
}

func (m *Script) next(what string) (op, bool) {
	m.t.Helper()
	if len(m.ops) == 0 {
		m.t.Errorf("Unexpected %s, script is empty", what)
		return op{}, false
	}
	o := m.ops[0]
	m.ops = m.ops[1:]
	return o, true
}

func (m *Script) read(a uintptr, size int) uint64 {
	m.t.Helper()
	o, ok := m.next(fmt.Sprintf("%d bit read on %08x", size, a))
	if !ok {
		return 0
	}
	if o.write || o.address != a || o.size != size {
		m.t.Errorf("Expected %s, got %d bit read on %08x", opstr(&o), size, a)
	}
	return o.data
}

func (m *Script) write(a uintptr, size int, d uint64) {
	m.t.Helper()
	o, ok := m.next(fmt.Sprintf("%d bit write of %08x on %08x", size, d, a))
	if !ok {
		return
	}
	if !o.write || o.address != a || o.size != size || o.data != d {
		m.t.Errorf("Expected %s, got %d bit write of %08x on %08x", opstr(&o), size, d, a)
	}
}

func (m *Script) MustRead32(a uintptr) uint32     { return uint32(m.read(a, 32)) }
func (m *Script) MustRead64(a uintptr) uint64     { return m.read(a, 64) }
func (m *Script) MustWrite32(a uintptr, d uint32) { m.write(a, 32, uint64(d)) }
func (m *Script) MustWrite64(a uintptr, d uint64) { m.write(a, 64, d) }

func (m *Script) ExpectWrite32(a uintptr, d uint32) {
	m.ops = append(m.ops, op{true, a, uint64(d), 32})
}

func (m *Script) ExpectWrite64(a uintptr, d uint64) {
	m.ops = append(m.ops, op{true, a, d, 64})
}

func (m *Script) FakeRead32(a uintptr, d uint32) {
	m.ops = append(m.ops, op{false, a, uint64(d), 32})
}

func (m *Script) FakeRead64(a uintptr, d uint64) {
	m.ops = append(m.ops, op{false, a, d, 64})
}

// Done fails the test if scripted accesses were not performed.
func (m *Script) Done() {
	m.t.Helper()
	for i := range m.ops {
		m.t.Errorf("Expected %s, never happened", opstr(&m.ops[i]))
	}
	m.ops = nil
}

func (m *Script) Close() {
}
