// Copyright 2018-2019 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layerscape

import (
	"fmt"
)

const (
	// DCFG_CCSR_SVR: System Version Register
	dcfgSVR uintptr = 0xa4
	// DCFG_CCSR_RCWSR1, the first of the RCW status registers
	dcfgRCWSR uintptr = 0x100

	// Bit 8 of the SVR is clear on parts with the security engine enabled
	// (the "E" suffix); it is not part of the model id.
	svrNonSecure = 1
)

func svrID(svr uint32) uint32 {
	return svr >> 8 & 0xfffffe
}

func (s *Soc) SVR() uint32 {
	return s.svr
}

// Secure reports whether the part is an "E" variant with the security
// engine.
func (s *Soc) Secure() bool {
	return s.svr>>8&svrNonSecure == 0
}

// Revision returns the silicon revision, e.g. "1.1".
func (s *Soc) Revision() string {
	return fmt.Sprintf("%d.%d", s.svr>>4&0xf, s.svr&0xf)
}

func (s *Soc) ModelName() (string, error) {
	id := svrID(s.svr)
	if name, ok := s.profile.Models[id]; ok {
		if s.Secure() {
			name += "E"
		}
		return name, nil
	}
	return "", fmt.Errorf("unknown SVR %#08x", s.svr)
}

func lookup(svr uint32) *Profile {
	for i := range profiles {
		if _, ok := profiles[i].Models[svrID(svr)]; ok {
			return &profiles[i]
		}
	}
	return nil
}

// ModelName looks up the model of an SVR value without touching hardware.
func ModelName(svr uint32) (string, bool) {
	p := lookup(svr)
	if p == nil {
		return "", false
	}
	return p.Models[svrID(svr)], true
}
