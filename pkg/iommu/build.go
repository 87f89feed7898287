// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iommu

import (
	"encoding/binary"

	"github.com/u-root/uio/uio"
)

// Skeleton describes an IORT template: every node the platform can patch,
// with its mapping slots reserved but empty.
type Skeleton struct {
	OEMID           string
	OEMTableID      string
	OEMRevision     uint32
	CreatorID       string
	CreatorRevision uint32

	ITS             []uint32
	SMMU            *SMMUNode
	RootComplexes   []RootComplexNode
	NamedComponents []NamedComponentNode
}

// SMMUNode is an SMMUv1/v2 node.
type SMMUNode struct {
	Base       uint64
	Span       uint64
	Model      uint32
	Flags      uint32
	GlobalIRQ  [2]uint32
	ContextIRQ []uint32
	Capacity   int
}

type RootComplexNode struct {
	Segment       uint32
	CacheCoherent bool
	ATS           bool
	Capacity      int
}

type NamedComponentNode struct {
	Name          string
	CacheCoherent bool
	AddrSizeLimit uint8
	Capacity      int
}

// SMMUModelMMU500 is the SMMU model field value of an Arm MMU-500.
const SMMUModelMMU500 = 3

func b2u(b bool) uint32 {
	if b {
		return 1
	}
	return 0
}

func padded(s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	return b
}

func writeNode(l *uio.Lexer, typ NodeType, body []byte, capacity int) {
	length := nodeHeaderSize + len(body) + idMappingSize*capacity
	var mapOff uint32
	if capacity > 0 {
		mapOff = uint32(nodeHeaderSize + len(body))
	}
	l.Write8(uint8(typ))
	l.Write16(uint16(length))
	l.Write8(0) // revision
	l.Write32(0)
	l.Write32(0) // mappings in use
	l.Write32(mapOff)
	l.WriteBytes(body)
	l.WriteBytes(make([]byte, idMappingSize*capacity))
}

func itsBody(ids []uint32) []byte {
	b := uio.NewLittleEndianBuffer(nil)
	b.Write32(uint32(len(ids)))
	for _, id := range ids {
		b.Write32(id)
	}
	return b.Data()
}

func smmuBody(s *SMMUNode) []byte {
	const fixedLen = 44
	b := uio.NewLittleEndianBuffer(nil)
	b.Write64(s.Base)
	b.Write64(s.Span)
	b.Write32(s.Model)
	b.Write32(s.Flags)
	b.Write32(nodeHeaderSize + fixedLen)
	b.Write32(uint32(len(s.ContextIRQ)))
	b.Write32(nodeHeaderSize + fixedLen + 16)
	b.Write32(0) // PMU interrupts
	b.Write32(0)
	for _, irq := range s.GlobalIRQ {
		b.Write32(irq)
		b.Write32(0)
	}
	for _, irq := range s.ContextIRQ {
		b.Write32(irq)
		b.Write32(0)
	}
	return b.Data()
}

func rootComplexBody(r RootComplexNode) []byte {
	b := uio.NewLittleEndianBuffer(nil)
	b.Write32(b2u(r.CacheCoherent))
	b.Write8(0) // allocation hints
	b.Write16(0)
	b.Write8(0) // memory access flags
	b.Write32(b2u(r.ATS))
	b.Write32(r.Segment)
	return b.Data()
}

func namedComponentBody(n NamedComponentNode) []byte {
	b := uio.NewLittleEndianBuffer(nil)
	b.Write32(0) // flags
	b.Write32(b2u(n.CacheCoherent))
	b.Write8(0)
	b.Write16(0)
	b.Write8(0)
	b.Write8(n.AddrSizeLimit)
	b.WriteBytes(append([]byte(n.Name), 0))
	if pad := len(b.Data()) % 4; pad != 0 {
		b.WriteBytes(make([]byte, 4-pad))
	}
	return b.Data()
}

// Build lays out a fresh table from s. Node order is ITS group, SMMU, root
// complexes, then named components.
func Build(s Skeleton) *Table {
	l := uio.NewLittleEndianBuffer(nil)
	l.WriteBytes([]byte("IORT"))
	l.Write32(0) // length, filled in below
	l.Write8(0)  // revision
	l.Write8(0)  // checksum
	l.WriteBytes(padded(s.OEMID, 6))
	l.WriteBytes(padded(s.OEMTableID, 8))
	l.Write32(s.OEMRevision)
	l.WriteBytes(padded(s.CreatorID, 4))
	l.Write32(s.CreatorRevision)

	count := len(s.RootComplexes) + len(s.NamedComponents)
	if len(s.ITS) > 0 {
		count++
	}
	if s.SMMU != nil {
		count++
	}
	l.Write32(uint32(count))
	l.Write32(iortHeaderSize)
	l.Write32(0)

	if len(s.ITS) > 0 {
		writeNode(l, NodeITSGroup, itsBody(s.ITS), 0)
	}
	if s.SMMU != nil {
		writeNode(l, NodeSMMUv1v2, smmuBody(s.SMMU), s.SMMU.Capacity)
	}
	for _, r := range s.RootComplexes {
		writeNode(l, NodeRootComplex, rootComplexBody(r), r.Capacity)
	}
	for _, n := range s.NamedComponents {
		writeNode(l, NodeNamedComponent, namedComponentBody(n), n.Capacity)
	}

	raw := l.Data()
	binary.LittleEndian.PutUint32(raw[lengthOffset:], uint32(len(raw)))
	t, err := Parse(raw)
	if err != nil {
		panic("iommu: Build produced an unparsable table: " + err.Error())
	}
	t.fixChecksum()
	return t
}
