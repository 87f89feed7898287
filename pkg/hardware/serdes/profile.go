// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package serdes

const (
	LanesPerBlock = 4
	MaxBlocks     = 2
)

// RCWField locates one SerDes block's protocol selection inside the RCW
// status registers.
type RCWField struct {
	Word  int // RCWSR index, counting from 0
	Shift uint
	Mask  uint32 // applied after the shift
}

// Profile describes how a SoC packs lane protocols.
type Profile struct {
	Name       string
	Blocks     int
	FieldWidth uint
	Fields     []RCWField
	Codes      map[uint64]Code
}

func (p *Profile) Lanes() int {
	return p.Blocks * LanesPerBlock
}

var chassisCodes = map[uint64]Code{
	0x1: {XFI, 0},
	0x3: {SGMII, 0},
	0x4: {QSGMII, 0},
	0x5: {PCIe, 1},
	0x6: {PCIe, 2},
	0x7: {PCIe, 3},
	0x8: {SATA, 1},
	0x9: {PCIe, 4},
}

var (
	LS1043A = Profile{
		Name:       "LS1043A",
		Blocks:     1,
		FieldWidth: 4,
		Fields:     []RCWField{{Word: 4, Shift: 16, Mask: 0xffff}},
		Codes:      chassisCodes,
	}
	LS1046A = Profile{
		Name:       "LS1046A",
		Blocks:     2,
		FieldWidth: 4,
		Fields: []RCWField{
			{Word: 4, Shift: 16, Mask: 0xffff},
			{Word: 4, Shift: 0, Mask: 0xffff},
		},
		Codes: chassisCodes,
	}
	LS1088A = Profile{
		Name:       "LS1088A",
		Blocks:     2,
		FieldWidth: 4,
		Fields: []RCWField{
			{Word: 28, Shift: 16, Mask: 0xffff},
			{Word: 29, Shift: 0, Mask: 0xffff},
		},
		Codes: chassisCodes,
	}
)
