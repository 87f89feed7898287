// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iommu

import (
	"fmt"

	"github.com/u-root/u-bringup/pkg/errcode"
)

func (t *Table) smmu() (NodeRef, bool) {
	for _, typ := range []NodeType{NodeSMMUv1v2, NodeSMMUv3} {
		if r := (NodeRef{Type: typ}); t.Has(r) {
			return r, true
		}
	}
	return NodeRef{}, false
}

// Map assigns key a stream id and publishes it: input on node ref
// translates to the id, and the SMMU passes the id on to the ITS. Room in
// both nodes is checked before an id is consumed. t may be nil when the
// platform boots with a device tree only.
func (c *Context) Map(t *Table, key DeviceKey, ref NodeRef, input uint32) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mapLocked(t, key, ref, input)
}

// mapLocked runs with c.mu held so that a key is published at most once and
// a free slot seen by the capacity check is still free when it is written.
func (c *Context) mapLocked(t *Table, key DeviceKey, ref NodeRef, input uint32) (uint32, error) {
	if id, ok := c.assigned[key]; ok {
		return id, nil
	}
	if t == nil {
		return c.assignLocked(key)
	}
	smmu, hasSMMU := t.smmu()
	if t.Free(ref) == 0 || (hasSMMU && t.Free(smmu) == 0) {
		return 0, errcode.New(errcode.TableFull, "Map", fmt.Sprintf("no IORT slot left for %v", key))
	}
	id, err := c.assignLocked(key)
	if err != nil {
		return 0, err
	}
	if err := c.patchLocked(t, ref, input, id, 1); err != nil {
		return id, err
	}
	if hasSMMU {
		if err := c.patchLocked(t, smmu, id, id, 1); err != nil {
			return id, err
		}
	}
	return id, nil
}

// MapFixed enables a fixed device. Devices without a named component node
// only get their chassis register programmed.
func (c *Context) MapFixed(t *Table, key DeviceKey) (uint32, error) {
	f, ok := c.Fixed(key)
	if !ok {
		return 0, errcode.New(errcode.NotFound, "MapFixed", fmt.Sprintf("%v is not a fixed device", key))
	}
	if t == nil || f.Node == "" {
		return c.AssignStreamID(key)
	}
	ref, ok := t.NamedComponent(f.Node)
	if !ok {
		return 0, errcode.New(errcode.NotFound, "MapFixed", fmt.Sprintf("no IORT node %q for %v", f.Node, key))
	}
	return c.Map(t, key, ref, 0)
}

// MapPCIe gives the requester rid below root complex rc a stream id and
// programs it into the controller's LUT.
func (c *Context) MapPCIe(t *Table, lut *LUT, rc int, rid uint16) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := DeviceKey{Class: PCIe, Instance: rc, Function: uint32(rid)}
	if id, ok := c.assigned[key]; ok {
		return id, nil
	}
	if lut.Free() == 0 {
		return 0, errcode.New(errcode.TableFull, "MapPCIe", fmt.Sprintf("LUT of pcie%d is full", rc))
	}
	id, err := c.mapLocked(t, key, NodeRef{Type: NodeRootComplex, Index: rc}, uint32(rid))
	if err != nil {
		return id, err
	}
	if _, err := lut.Program(rid, id); err != nil {
		return id, err
	}
	return id, nil
}
