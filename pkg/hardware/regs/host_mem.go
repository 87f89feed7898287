// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package regs

import (
	"fmt"
	"os"
	"unsafe"

	"golang.org/x/sys/unix"
)

type hostMem struct {
	mf *os.File
	ps uintptr
}

// OpenHost maps registers through /dev/mem.
func OpenHost() (Mem, error) {
	f, err := os.OpenFile("/dev/mem", os.O_RDWR|os.O_SYNC, 0600)
	if err != nil {
		return nil, err
	}
	return &hostMem{f, uintptr(unix.Getpagesize())}, nil
}

// TODO: keep one mapping per register block open instead of mapping a page
// for every access.
func (m *hostMem) mmap(address uintptr, prot int) ([]byte, uintptr) {
	page := address & ^(m.ps - 1)
	mem, err := unix.Mmap(int(m.mf.Fd()), int64(page), int(m.ps), prot, unix.MAP_SHARED)
	if err != nil {
		panic(fmt.Sprintf("mmap %#x: %v", address, err))
	}
	return mem, address - page
}

func (m *hostMem) munmap(mem []byte) {
	if err := unix.Munmap(mem); err != nil {
		panic(err)
	}
}

func (m *hostMem) MustRead32(address uintptr) uint32 {
	mem, offset := m.mmap(address, unix.PROT_READ)
	defer m.munmap(mem)
	return *(*uint32)(unsafe.Pointer(&mem[offset]))
}

func (m *hostMem) MustRead64(address uintptr) uint64 {
	mem, offset := m.mmap(address, unix.PROT_READ)
	defer m.munmap(mem)
	return *(*uint64)(unsafe.Pointer(&mem[offset]))
}

func (m *hostMem) MustWrite32(address uintptr, data uint32) {
	mem, offset := m.mmap(address, unix.PROT_WRITE)
	defer m.munmap(mem)
	*(*uint32)(unsafe.Pointer(&mem[offset])) = data
}

func (m *hostMem) MustWrite64(address uintptr, data uint64) {
	mem, offset := m.mmap(address, unix.PROT_WRITE)
	defer m.munmap(mem)
	*(*uint64)(unsafe.Pointer(&mem[offset])) = data
}

func (m *hostMem) Close() {
	m.mf.Close()
}
