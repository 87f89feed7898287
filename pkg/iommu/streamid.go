// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package iommu assigns stream identifiers to DMA capable devices and
// publishes the assignments to the OS through the IORT, the PCIe LUT, the
// chassis ICID registers and the device tree.
package iommu

import (
	"fmt"
	"sort"
	"sync"

	"github.com/u-root/u-bringup/pkg/errcode"
	"github.com/u-root/u-bringup/pkg/hardware/regs"
	"github.com/u-root/u-bringup/pkg/logger"
	"github.com/u-root/u-bringup/pkg/metric"
)

var log = logger.LogContainer.GetSimpleLogger()

// Class groups devices that draw stream ids from the same source.
type Class string

const (
	USB      Class = "usb"
	SDHC     Class = "sdhc"
	SATA     Class = "sata"
	QE       Class = "qe"
	QDMA     Class = "qdma"
	EDMA     Class = "edma"
	ETR      Class = "etr"
	Debug    Class = "debug"
	PCIe     Class = "pcie"
	Ethernet Class = "ethernet"
)

// DeviceKey identifies one requester. Function is the PCIe requester id for
// root complex children and the port for Ethernet; zero otherwise.
type DeviceKey struct {
	Class    Class
	Instance int
	Function uint32
}

func (k DeviceKey) String() string {
	if k.Function != 0 {
		return fmt.Sprintf("%s%d.%#x", k.Class, k.Instance, k.Function)
	}
	return fmt.Sprintf("%s%d", k.Class, k.Instance)
}

// FixedDevice is an on-chip master with a stream id fixed at design time.
// When Reg is non-zero the id is also programmed into the chassis ICID
// register at that offset from the SCFG base.
type FixedDevice struct {
	Key  DeviceKey
	ICID uint32
	Reg  uintptr
	// Named component node in the IORT, if any.
	Node string
}

// Range is the half-open interval [Base, Limit) a dynamic class counts in.
type Range struct {
	Base, Limit uint32
}

func (r Range) contains(id uint32) bool { return id >= r.Base && id < r.Limit }

// ICIDEnable is or'ed into every chassis ICID register value.
const ICIDEnable = 1 << 23

// Context owns the stream id namespace of one SoC. It is safe for
// concurrent use.
type Context struct {
	mu       sync.Mutex
	scfg     regs.Mem
	scfgBase uintptr
	fixed    map[DeviceKey]FixedDevice
	ranges   map[Class]Range
	next     map[Class]uint32
	owner    map[uint32]DeviceKey
	assigned map[DeviceKey]uint32
	order    []DeviceKey
}

// NewContext checks that fixed ids and dynamic ranges do not overlap. scfg
// may be nil on platforms without chassis ICID registers.
func NewContext(scfg regs.Mem, scfgBase uintptr, fixed []FixedDevice, ranges map[Class]Range) (*Context, error) {
	c := &Context{
		scfg:     scfg,
		scfgBase: scfgBase,
		fixed:    make(map[DeviceKey]FixedDevice),
		ranges:   make(map[Class]Range),
		next:     make(map[Class]uint32),
		owner:    make(map[uint32]DeviceKey),
		assigned: make(map[DeviceKey]uint32),
	}
	ids := make(map[uint32]DeviceKey)
	for _, f := range fixed {
		if k, ok := ids[f.ICID]; ok {
			return nil, errcode.New(errcode.DuplicateID, "NewContext", fmt.Sprintf("%v and %v both fixed at %d", k, f.Key, f.ICID))
		}
		ids[f.ICID] = f.Key
		c.fixed[f.Key] = f
	}
	classes := make([]Class, 0, len(ranges))
	for cl := range ranges {
		classes = append(classes, cl)
	}
	sort.Slice(classes, func(i, j int) bool { return ranges[classes[i]].Base < ranges[classes[j]].Base })
	for i, cl := range classes {
		r := ranges[cl]
		if r.Limit <= r.Base {
			return nil, errcode.New(errcode.Error, "NewContext", fmt.Sprintf("empty range for %s", cl))
		}
		if i > 0 && ranges[classes[i-1]].Limit > r.Base {
			return nil, errcode.New(errcode.DuplicateID, "NewContext", fmt.Sprintf("ranges of %s and %s overlap", classes[i-1], cl))
		}
		for id, k := range ids {
			if r.contains(id) {
				return nil, errcode.New(errcode.DuplicateID, "NewContext", fmt.Sprintf("fixed id %d of %v inside %s range", id, k, cl))
			}
		}
		c.ranges[cl] = r
		c.next[cl] = r.Base
	}
	return c, nil
}

// AssignStreamID returns the stream id of key, allocating one on first use.
// Asking again for the same key returns the same id.
func (c *Context) AssignStreamID(key DeviceKey) (uint32, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.assignLocked(key)
}

func (c *Context) assignLocked(key DeviceKey) (uint32, error) {
	if id, ok := c.assigned[key]; ok {
		return id, nil
	}
	var id uint32
	f, fixed := c.fixed[key]
	if fixed {
		id = f.ICID
	} else if r, ok := c.ranges[key.Class]; ok {
		id = c.next[key.Class]
		if id >= r.Limit {
			return 0, errcode.New(errcode.TableFull, "AssignStreamID", fmt.Sprintf("%s range [%d, %d) exhausted", key.Class, r.Base, r.Limit))
		}
	} else {
		return 0, errcode.New(errcode.NotFound, "AssignStreamID", fmt.Sprintf("no stream id source for %v", key))
	}
	if k, ok := c.owner[id]; ok {
		return 0, errcode.New(errcode.DuplicateID, "AssignStreamID", fmt.Sprintf("%d already owned by %v", id, k))
	}
	if fixed && f.Reg != 0 && c.scfg != nil {
		c.scfg.MustWrite32(c.scfgBase+f.Reg, f.ICID<<24|ICIDEnable)
	}
	if !fixed {
		c.next[key.Class]++
	}
	c.owner[id] = key
	c.assigned[key] = id
	c.order = append(c.order, key)
	metric.StreamIDs.WithLabelValues(string(key.Class)).Inc()
	log.Debugf("Stream id %d assigned to %v", id, key)
	return id, nil
}

// Lookup returns the id previously assigned to key.
func (c *Context) Lookup(key DeviceKey) (uint32, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	id, ok := c.assigned[key]
	return id, ok
}

// Owner returns the device a stream id was assigned to.
func (c *Context) Owner(id uint32) (DeviceKey, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k, ok := c.owner[id]
	return k, ok
}

// Fixed returns the fixed device description for key.
func (c *Context) Fixed(key DeviceKey) (FixedDevice, bool) {
	f, ok := c.fixed[key]
	return f, ok
}

// Assignment is one entry of the stream id namespace.
type Assignment struct {
	Key DeviceKey
	ID  uint32
}

// Assignments lists every assignment in the order it was made.
func (c *Context) Assignments() []Assignment {
	c.mu.Lock()
	defer c.mu.Unlock()
	as := make([]Assignment, 0, len(c.order))
	for _, k := range c.order {
		as = append(as, Assignment{Key: k, ID: c.assigned[k]})
	}
	return as
}

// PatchIDMapping appends a mapping of count ids from in to out to node ref.
// Every output id must already be assigned in c.
func (c *Context) PatchIDMapping(t *Table, ref NodeRef, in, out, count uint32) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.patchLocked(t, ref, in, out, count)
}

func (c *Context) patchLocked(t *Table, ref NodeRef, in, out, count uint32) error {
	fail := func(code errcode.Code, msg string) error {
		metric.TablePatches.WithLabelValues(ref.Type.String(), string(code)).Inc()
		return errcode.New(code, "PatchIDMapping", msg)
	}
	// Both id ranges must fit the 32-bit id space.
	if count == 0 {
		return fail(errcode.Error, "empty id range")
	}
	if uint64(out)+uint64(count) > 1<<32 || uint64(in)+uint64(count) > 1<<32 {
		return fail(errcode.Error, fmt.Sprintf("%d ids from %#x or %#x overflow the id space", count, in, out))
	}
	for id := uint64(out); id < uint64(out)+uint64(count); id++ {
		if _, ok := c.owner[uint32(id)]; !ok {
			return fail(errcode.NotFound, fmt.Sprintf("stream id %d is not assigned", id))
		}
	}
	var flags uint32
	if count == 1 {
		flags = MappingSingle
	}
	err := t.AppendMapping(ref, in, out, count, flags)
	metric.TablePatches.WithLabelValues(ref.Type.String(), string(errcode.Of(err))).Inc()
	if err != nil {
		return err
	}
	log.Debugf("IORT %v: ids %#x..%#x -> %d", ref, in, uint64(in)+uint64(count)-1, out)
	return nil
}
