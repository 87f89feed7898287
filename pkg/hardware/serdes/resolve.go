// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package serdes decodes the SerDes lane protocol selection and reports
// which protocol occupies which lanes.
package serdes

import (
	"github.com/u-root/u-bringup/pkg/hardware/regs"
	"github.com/u-root/u-bringup/pkg/logger"
	"github.com/u-root/u-bringup/pkg/metric"
)

var log = logger.LogContainer.GetSimpleLogger()

// LaneProtocolMap holds one FieldWidth wide field per lane, lane 0 in the
// least significant bits.
type LaneProtocolMap uint64

// LaneGroup is a run of adjacent lanes in one block with the same protocol.
type LaneGroup struct {
	Block     int
	FirstLane int
	Lanes     int
	Protocol  Protocol
}

// Callback is invoked once per lane group. Failures are the callback's own
// business.
type Callback func(g LaneGroup, ctx interface{})

// ReadLaneMap assembles the lane map from the RCW status registers at
// rcwsr. The RCW lists lane A of a block in the most significant field.
func ReadLaneMap(mem regs.Mem, rcwsr uintptr, p *Profile) LaneProtocolMap {
	var m LaneProtocolMap
	mask := uint32(1)<<p.FieldWidth - 1
	for b, f := range p.Fields {
		if b >= p.Blocks || b >= MaxBlocks {
			break
		}
		v := mem.MustRead32(rcwsr+uintptr(4*f.Word)) >> f.Shift & f.Mask
		log.Debugf("SerDes%d protocol %#04x", b+1, v)
		for l := 0; l < LanesPerBlock; l++ {
			field := v >> (uint(LanesPerBlock-1-l) * p.FieldWidth) & mask
			lane := b*LanesPerBlock + l
			m |= LaneProtocolMap(field) << (uint(lane) * p.FieldWidth)
		}
	}
	return m
}

// Lane returns the protocol tag of lane i.
func (m LaneProtocolMap) Lane(p *Profile, i int) Protocol {
	mask := uint64(1)<<p.FieldWidth - 1
	v := uint64(m) >> (uint(i) * p.FieldWidth) & mask
	c, ok := p.Codes[v]
	if !ok || c.Class == None {
		return Unassigned
	}
	inst := c.Instance
	if inst == 0 {
		inst = i + 1
	}
	return Protocol{Class: c.Class, Instance: inst}
}

// Decode returns the lane groups of m in lane order. Unknown fields decode
// to the unassigned tag and never start a group.
func Decode(p *Profile, m LaneProtocolMap) []LaneGroup {
	var gs []LaneGroup
	lanes := p.Lanes()
	if lanes > MaxBlocks*LanesPerBlock {
		lanes = MaxBlocks * LanesPerBlock
	}
	for i := 0; i < lanes; i++ {
		t := m.Lane(p, i)
		if t == Unassigned {
			continue
		}
		b := i / LanesPerBlock
		if n := len(gs); n > 0 {
			last := &gs[n-1]
			if last.Block == b && last.Protocol == t && last.FirstLane+last.Lanes == i {
				last.Lanes++
				continue
			}
		}
		gs = append(gs, LaneGroup{Block: b, FirstLane: i, Lanes: 1, Protocol: t})
	}
	return gs
}

// Resolve decodes m and invokes cb for every lane group. An idle or
// unrecognised map invokes nothing.
func Resolve(p *Profile, m LaneProtocolMap, cb Callback, ctx interface{}) []LaneGroup {
	gs := Decode(p, m)
	if len(gs) == 0 {
		log.Infof("%s: no SerDes lanes assigned", p.Name)
	}
	// A protocol may own several groups, e.g. PCIE1 split by an idle lane.
	lanes := make(map[Protocol]int)
	for _, g := range gs {
		log.Infof("%s: SerDes%d lanes %d-%d: %s", p.Name, g.Block+1, g.FirstLane, g.FirstLane+g.Lanes-1, g.Protocol)
		lanes[g.Protocol] += g.Lanes
		cb(g, ctx)
	}
	metric.SerdesLanes.Reset()
	for proto, n := range lanes {
		metric.SerdesLanes.WithLabelValues(proto.String()).Set(float64(n))
	}
	return gs
}
