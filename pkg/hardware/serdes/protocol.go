// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package serdes

import (
	"fmt"
)

type Class uint8

const (
	None Class = iota
	PCIe
	SATA
	SGMII
	QSGMII
	XFI
	USB
)

var classNames = map[Class]string{
	None:   "NONE",
	PCIe:   "PCIE",
	SATA:   "SATA",
	SGMII:  "SGMII",
	QSGMII: "QSGMII",
	XFI:    "XFI",
	USB:    "USB",
}

func (c Class) String() string {
	if s, ok := classNames[c]; ok {
		return s
	}
	return fmt.Sprintf("CLASS%d", uint8(c))
}

// Ethernet reports whether every lane of the class is its own MAC.
func (c Class) Ethernet() bool {
	return c == SGMII || c == QSGMII || c == XFI
}

// Protocol is the tag a lane decodes to. Instances count from 1; the zero
// Protocol is the unassigned tag.
type Protocol struct {
	Class    Class
	Instance int
}

var Unassigned = Protocol{}

func (p Protocol) String() string {
	if p.Class == None {
		return "NONE"
	}
	return fmt.Sprintf("%s%d", p.Class, p.Instance)
}

// Code is one entry of a per-lane lookup table. An Instance of 0 means the
// instance follows the lane position, which keeps per-lane Ethernet ports
// distinct.
type Code struct {
	Class    Class
	Instance int
}
