// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iommu

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/u-root/u-bringup/pkg/errcode"
	"github.com/u-root/uio/uio"
)

type NodeType uint8

const (
	NodeITSGroup       NodeType = 0
	NodeNamedComponent NodeType = 1
	NodeRootComplex    NodeType = 2
	NodeSMMUv1v2       NodeType = 3
	NodeSMMUv3         NodeType = 4
)

func (t NodeType) String() string {
	switch t {
	case NodeITSGroup:
		return "its"
	case NodeNamedComponent:
		return "named-component"
	case NodeRootComplex:
		return "root-complex"
	case NodeSMMUv1v2:
		return "smmu"
	case NodeSMMUv3:
		return "smmuv3"
	}
	return fmt.Sprintf("node%d", uint8(t))
}

const (
	acpiHeaderSize  = 36
	iortHeaderSize  = acpiHeaderSize + 12
	nodeHeaderSize  = 16
	idMappingSize   = 20
	checksumOffset  = 9
	lengthOffset    = 4
	nodeCountOffset = acpiHeaderSize

	// Slots reserved in the platform's table template.
	RootComplexMappings = 32
	SMMUMappings        = 66

	// MappingSingle marks a mapping that translates exactly one id.
	MappingSingle = 1
)

// NodeRef names a node by type and its position among nodes of that type.
type NodeRef struct {
	Type  NodeType
	Index int
}

func (r NodeRef) String() string {
	return fmt.Sprintf("%v[%d]", r.Type, r.Index)
}

// IDMapping is one entry of a node's ID array. Count is the number of ids
// covered; the table stores it minus one.
type IDMapping struct {
	InputBase  uint32
	Count      uint32
	OutputBase uint32
	OutputRef  uint32
	Flags      uint32
}

type node struct {
	ref      NodeRef
	offset   int
	length   int
	mapOff   int
	count    int
	capacity int
	name     string
}

// Table is an in-memory IORT. Patching only ever writes a free mapping slot
// and the node's mapping count; every other byte stays as built.
type Table struct {
	mu    sync.Mutex
	raw   []byte
	nodes []*node
}

// Parse indexes an IORT blob. The blob is copied.
func Parse(b []byte) (*Table, error) {
	if len(b) < iortHeaderSize {
		return nil, fmt.Errorf("IORT too short: %d bytes", len(b))
	}
	if sig := string(b[:4]); sig != "IORT" {
		return nil, fmt.Errorf("signature %q is not IORT", sig)
	}
	l := uio.NewLittleEndianBuffer(b[lengthOffset:])
	length := int(l.Read32())
	if length < iortHeaderSize || length > len(b) {
		return nil, fmt.Errorf("IORT length %d out of range (blob is %d bytes)", length, len(b))
	}
	t := &Table{raw: append([]byte(nil), b[:length]...)}

	l = uio.NewLittleEndianBuffer(t.raw[nodeCountOffset:])
	count := int(l.Read32())
	off := int(l.Read32())
	seen := make(map[NodeType]int)
	for i := 0; i < count; i++ {
		if off+nodeHeaderSize > length {
			return nil, fmt.Errorf("node %d at %#x runs past the table", i, off)
		}
		h := uio.NewLittleEndianBuffer(t.raw[off:])
		typ := NodeType(h.Read8())
		n := &node{offset: off, length: int(h.Read16())}
		h.Read8()  // revision
		h.Read32() // reserved
		n.count = int(h.Read32())
		n.mapOff = int(h.Read32())
		if n.length < nodeHeaderSize || off+n.length > length {
			return nil, fmt.Errorf("node %d at %#x has bad length %d", i, off, n.length)
		}
		if n.mapOff != 0 {
			if n.mapOff < nodeHeaderSize || n.mapOff > n.length {
				return nil, fmt.Errorf("node %d at %#x has bad mapping offset %#x", i, off, n.mapOff)
			}
			n.capacity = (n.length - n.mapOff) / idMappingSize
		}
		if n.count > n.capacity {
			return nil, fmt.Errorf("node %d at %#x holds %d mappings in room for %d", i, off, n.count, n.capacity)
		}
		if typ == NodeNamedComponent {
			n.name = namedComponentName(t.raw[off:off+n.length], n.mapOff)
		}
		n.ref = NodeRef{Type: typ, Index: seen[typ]}
		seen[typ]++
		t.nodes = append(t.nodes, n)
		off += n.length
	}
	return t, nil
}

func namedComponentName(b []byte, mapOff int) string {
	// Flags, cache coherency, hints, reserved, access flags, size limit.
	const nameOff = nodeHeaderSize + 13
	end := len(b)
	if mapOff != 0 {
		end = mapOff
	}
	if nameOff >= end {
		return ""
	}
	name := b[nameOff:end]
	if i := bytes.IndexByte(name, 0); i >= 0 {
		name = name[:i]
	}
	return string(name)
}

// Bytes returns a copy of the table as it would be published.
func (t *Table) Bytes() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]byte(nil), t.raw...)
}

func (t *Table) find(ref NodeRef) *node {
	for _, n := range t.nodes {
		if n.ref == ref {
			return n
		}
	}
	return nil
}

func (t *Table) first(typ NodeType) *node {
	return t.find(NodeRef{Type: typ})
}

// Has reports whether the table has a node for ref.
func (t *Table) Has(ref NodeRef) bool {
	return t.find(ref) != nil
}

// NamedComponent finds a named component node by its ACPI path.
func (t *Table) NamedComponent(name string) (NodeRef, bool) {
	for _, n := range t.nodes {
		if n.ref.Type == NodeNamedComponent && n.name == name {
			return n.ref, true
		}
	}
	return NodeRef{}, false
}

// Free returns how many mapping slots of ref are still unused.
func (t *Table) Free(ref NodeRef) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.mustFind(ref)
	return n.capacity - n.count
}

// Mappings decodes the used mapping slots of ref in table order.
func (t *Table) Mappings(ref NodeRef) []IDMapping {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.mustFind(ref)
	ms := make([]IDMapping, 0, n.count)
	l := uio.NewLittleEndianBuffer(t.raw[n.offset+n.mapOff:])
	for i := 0; i < n.count; i++ {
		m := IDMapping{InputBase: l.Read32(), Count: l.Read32() + 1, OutputBase: l.Read32(), OutputRef: l.Read32(), Flags: l.Read32()}
		ms = append(ms, m)
	}
	return ms
}

// A table template without a node the platform code expects is a firmware
// build defect, not something to recover from at boot.
func (t *Table) mustFind(ref NodeRef) *node {
	n := t.find(ref)
	if n == nil {
		panic(fmt.Sprintf("IORT has no %v node: table template does not match the platform", ref))
	}
	return n
}

// outputRef is where a node's mappings translate to: the SMMU for devices,
// the ITS group for the SMMU itself.
func (t *Table) outputRef(typ NodeType) uint32 {
	if typ != NodeSMMUv1v2 && typ != NodeSMMUv3 {
		if s := t.first(NodeSMMUv1v2); s != nil {
			return uint32(s.offset)
		}
		if s := t.first(NodeSMMUv3); s != nil {
			return uint32(s.offset)
		}
	}
	if its := t.first(NodeITSGroup); its != nil {
		return uint32(its.offset)
	}
	return 0
}

// AppendMapping writes the next free mapping slot of ref. A full node is
// rejected with TableFull and the table is left untouched.
func (t *Table) AppendMapping(ref NodeRef, in, out, count, flags uint32) error {
	if count == 0 {
		return errcode.New(errcode.Error, "AppendMapping", "empty id range")
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	n := t.mustFind(ref)
	if n.count >= n.capacity {
		return errcode.New(errcode.TableFull, "AppendMapping",
			fmt.Sprintf("%v holds %d of %d mappings", ref, n.count, n.capacity))
	}
	e := t.raw[n.offset+n.mapOff+idMappingSize*n.count:]
	binary.LittleEndian.PutUint32(e[0:], in)
	binary.LittleEndian.PutUint32(e[4:], count-1)
	binary.LittleEndian.PutUint32(e[8:], out)
	binary.LittleEndian.PutUint32(e[12:], t.outputRef(ref.Type))
	binary.LittleEndian.PutUint32(e[16:], flags)
	n.count++
	binary.LittleEndian.PutUint32(t.raw[n.offset+8:], uint32(n.count))
	t.fixChecksum()
	return nil
}

func (t *Table) fixChecksum() {
	t.raw[checksumOffset] = 0
	var sum byte
	for _, b := range t.raw {
		sum += b
	}
	t.raw[checksumOffset] = -sum
}

// Checksum reports whether the ACPI checksum of b is valid.
func Checksum(b []byte) bool {
	var sum byte
	for _, c := range b {
		sum += c
	}
	return sum == 0
}
