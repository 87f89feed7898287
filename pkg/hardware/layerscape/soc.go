// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Library for identifying NXP Layerscape SoCs and reading their reset
// configuration.
//
// Call layerscape.Open() and Close() as the first and last thing around
// any register access. Open reads the SVR and refuses to continue on a
// SoC it has no profile for; everything that follows writes registers
// whose layout differs between family members.
//
// OpenWithMemory accepts any regs.Mem, which is how register dumps and
// tests drive the library without hardware.
package layerscape

import (
	"fmt"
	"math/bits"

	"github.com/u-root/u-bringup/pkg/hardware/regs"
	"github.com/u-root/u-bringup/pkg/logger"
)

var log = logger.LogContainer.GetSimpleLogger()

type Soc struct {
	mem     regs.Mem
	dcfg    regs.Mem
	scfg    regs.Mem
	svr     uint32
	profile *Profile
}

// DefaultDCFG is where chassis generation 2 parts map the device
// configuration block.
const DefaultDCFG = 0x1ee0000

// Open maps /dev/mem and identifies the SoC from the DCFG block at dcfg.
func Open(dcfg uint64) (*Soc, error) {
	mem, err := regs.OpenHost()
	if err != nil {
		return nil, fmt.Errorf("could not open /dev/mem: %v", err)
	}
	s, err := OpenWithMemory(mem, dcfg)
	if err != nil {
		mem.Close()
		return nil, err
	}
	return s, nil
}

// OpenWithMemory identifies the SoC behind mem. The SVR is read once; its
// byte order tells whether DCFG is a big-endian block.
func OpenWithMemory(mem regs.Mem, dcfg uint64) (*Soc, error) {
	raw := mem.MustRead32(uintptr(dcfg) + dcfgSVR)
	s := &Soc{mem: mem, dcfg: mem, svr: raw}
	p := lookup(raw)
	if p == nil {
		s.svr = bits.ReverseBytes32(raw)
		s.dcfg = regs.BigEndian(mem)
		p = lookup(s.svr)
	}
	if p == nil {
		return nil, fmt.Errorf("could not detect supported SoC: SVR reads %#08x", raw)
	}
	if p.DCFGBase != dcfg {
		return nil, fmt.Errorf("%s keeps DCFG at %#x, not %#x", p.Name, p.DCFGBase, dcfg)
	}
	s.profile = p
	s.scfg = mem
	if p.BigEndian {
		s.scfg = regs.BigEndian(mem)
	}
	name, _ := s.ModelName()
	log.Infof("Detected %s rev %s (SVR %#08x)", name, s.Revision(), s.svr)
	return s, nil
}

func (s *Soc) Close() {
	s.mem.Close()
}

// Mem is the raw little-endian register space.
func (s *Soc) Mem() regs.Mem {
	return s.mem
}

// SCFG is the register space in the byte order of the SCFG and PCIe LUT
// blocks.
func (s *Soc) SCFG() regs.Mem {
	return s.scfg
}

func (s *Soc) Profile() *Profile {
	return s.profile
}
