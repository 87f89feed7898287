// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layerscape

import (
	"strconv"

	"github.com/u-root/u-bringup/pkg/hardware/serdes"
)

func hex(v uint64) string {
	return strconv.FormatUint(v, 16)
}

func (s *Soc) rcwsr() uintptr {
	return uintptr(s.profile.DCFGBase) + dcfgRCWSR
}

// RCW returns RCW status word i as latched at power on reset.
func (s *Soc) RCW(i int) uint32 {
	return s.dcfg.MustRead32(s.rcwsr() + uintptr(4*i))
}

// LaneMap reads the SerDes protocol selection of every block.
func (s *Soc) LaneMap() serdes.LaneProtocolMap {
	return serdes.ReadLaneMap(s.dcfg, s.rcwsr(), s.profile.SerDes)
}

// PlatformRatio is the platform PLL multiplier applied to the system
// reference clock.
func (s *Soc) PlatformRatio() uint32 {
	f := s.profile.PLLRatio
	return s.RCW(f.Word) >> f.Shift & f.Mask
}

// PlatformClock returns the platform clock in Hz for a sysclk reference.
func (s *Soc) PlatformClock(sysclk uint64) uint64 {
	return uint64(s.PlatformRatio()) * sysclk
}
