// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package mc

import (
	"fmt"

	"github.com/u-root/u-bringup/pkg/errcode"
	"github.com/u-root/uio/uio"
)

const (
	NumParams = 7

	// Offsets inside a portal. All words are little-endian.
	offHeader = 0x00
	offParams = 0x08

	// PortalSize is the stride between consecutive MC portals.
	PortalSize = 0x10000
)

// Header word layout.
const (
	hdrSrcIDShift   = 0
	hdrFlagsHWShift = 8
	hdrStatusShift  = 16
	hdrFlagsSWShift = 24
	hdrTokenShift   = 32
	hdrCmdIDShift   = 48
)

const (
	FlagPriority uint8 = 0x80 // hardware flags
	FlagIntrDis  uint8 = 0x01 // software flags
)

type Status uint8

const (
	StatusOK            Status = 0x0
	StatusReady         Status = 0x1 // written by us, cleared by the MC on completion
	StatusAuthErr       Status = 0x3
	StatusNoPrivilege   Status = 0x4
	StatusDMAErr        Status = 0x5
	StatusConfigErr     Status = 0x6
	StatusTimeout       Status = 0x7
	StatusNoResource    Status = 0x8
	StatusNoMemory      Status = 0x9
	StatusBusy          Status = 0xa
	StatusUnsupportedOp Status = 0xb
	StatusInvalidState  Status = 0xc
)

var statusNames = map[Status]string{
	StatusOK:            "ok",
	StatusReady:         "ready",
	StatusAuthErr:       "authentication error",
	StatusNoPrivilege:   "no privilege",
	StatusDMAErr:        "DMA or I/O error",
	StatusConfigErr:     "configuration error",
	StatusTimeout:       "operation timed out",
	StatusNoResource:    "no resources",
	StatusNoMemory:      "no memory",
	StatusBusy:          "busy",
	StatusUnsupportedOp: "unsupported operation",
	StatusInvalidState:  "invalid state",
}

func (s Status) String() string {
	if n, ok := statusNames[s]; ok {
		return n
	}
	return fmt.Sprintf("status %#x", uint8(s))
}

// Command is the content of one portal slot. The same layout carries the
// response once the MC has processed the command.
type Command struct {
	ID      uint16
	Token   uint16
	SrcID   uint8
	FlagsHW uint8
	FlagsSW uint8
	Status  Status
	Params  [NumParams]uint64
}

func (c *Command) header() uint64 {
	return uint64(c.SrcID)<<hdrSrcIDShift |
		uint64(c.FlagsHW)<<hdrFlagsHWShift |
		uint64(c.Status)<<hdrStatusShift |
		uint64(c.FlagsSW)<<hdrFlagsSWShift |
		uint64(c.Token)<<hdrTokenShift |
		uint64(c.ID)<<hdrCmdIDShift
}

func (c *Command) setHeader(h uint64) {
	c.SrcID = uint8(h >> hdrSrcIDShift)
	c.FlagsHW = uint8(h >> hdrFlagsHWShift)
	c.Status = headerStatus(h)
	c.FlagsSW = uint8(h >> hdrFlagsSWShift)
	c.Token = uint16(h >> hdrTokenShift)
	c.ID = uint16(h >> hdrCmdIDShift)
}

func headerStatus(h uint64) Status {
	return Status(h >> hdrStatusShift)
}

// SetPayload packs b into the parameter words. b longer than the parameter
// area is truncated.
func (c *Command) SetPayload(b []byte) {
	var full [NumParams * 8]byte
	copy(full[:], b)
	l := uio.NewLittleEndianBuffer(full[:])
	for i := range c.Params {
		c.Params[i] = l.Read64()
	}
}

// Payload returns the parameter words as bytes.
func (c *Command) Payload() []byte {
	l := uio.NewLittleEndianBuffer(nil)
	for _, p := range c.Params {
		l.Write64(p)
	}
	return l.Data()
}

// StatusError is a failure status reported by the MC. It is returned as is,
// never retried.
type StatusError struct {
	Cmd    uint16
	Status Status
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("MC command %#04x failed: %v", e.Cmd, e.Status)
}

func (e *StatusError) Unwrap() error { return errcode.DeviceError }
