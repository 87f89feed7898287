// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iommu

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/u-root/u-bringup/pkg/errcode"
	"github.com/u-root/u-bringup/pkg/hardware/regs"
	"github.com/u-root/u-bringup/pkg/hardware/regs/regtest"
	"golang.org/x/sync/errgroup"
)

const lutBase = 0x3480000

func TestMapPCIe(t *testing.T) {
	c, _ := newTestContext(t)
	tab := Build(testSkeleton())
	m := regtest.New(t)
	m.ExpectWrite32(lutBase+0x800, 0x0100<<16)
	m.ExpectWrite32(lutBase+0x804, 11|1<<31)
	m.ExpectWrite32(lutBase+0x808, 0x0200<<16)
	m.ExpectWrite32(lutBase+0x80c, 12|1<<31)
	lut := NewLUT(m, lutBase)

	for _, tc := range []struct {
		rid  uint16
		want uint32
	}{{0x100, 11}, {0x200, 12}, {0x100, 11}} {
		id, err := c.MapPCIe(tab, lut, 1, tc.rid)
		if err != nil || id != tc.want {
			t.Errorf("MapPCIe(%#x) = %d, %v, want %d, nil", tc.rid, id, err, tc.want)
		}
	}
	m.Done()

	rc := NodeRef{Type: NodeRootComplex, Index: 1}
	want := []IDMapping{
		{InputBase: 0x100, Count: 1, OutputBase: 11, OutputRef: smmuOffset, Flags: MappingSingle},
		{InputBase: 0x200, Count: 1, OutputBase: 12, OutputRef: smmuOffset, Flags: MappingSingle},
	}
	if diff := cmp.Diff(want, tab.Mappings(rc)); diff != "" {
		t.Errorf("root complex mappings (-want +got):\n%s", diff)
	}
	if got := len(tab.Mappings(NodeRef{Type: NodeSMMUv1v2})); got != 2 {
		t.Errorf("SMMU has %d mappings, want 2", got)
	}

	// The root complex node is now full. The third device is refused
	// before an id is spent on it.
	_, err := c.MapPCIe(tab, lut, 1, 0x300)
	if !errors.Is(err, errcode.TableFull) {
		t.Fatalf("MapPCIe into a full node = %v, want table full", err)
	}
	if _, ok := c.Lookup(DeviceKey{Class: PCIe, Instance: 1, Function: 0x300}); ok {
		t.Errorf("refused device kept a stream id")
	}
	if id, err := c.MapPCIe(tab, NewLUT(regs.NewSparse(), 0), 0, 0x100); err != nil || id != 13 {
		t.Errorf("MapPCIe on pcie0 = %d, %v, want 13, nil", id, err)
	}
}

func TestLUTFull(t *testing.T) {
	mem := regs.NewSparse()
	lut := NewLUT(mem, lutBase)
	for i := 0; i < LUTEntries; i++ {
		n, err := lut.Program(uint16(i<<8), uint32(100+i))
		if err != nil || n != i {
			t.Fatalf("Program(%d) = %d, %v", i, n, err)
		}
	}
	if _, err := lut.Program(0xff00, 200); !errors.Is(err, errcode.TableFull) {
		t.Errorf("Program into a full LUT = %v, want table full", err)
	}
	if got, want := mem.MustRead32(lutBase+0x804+31*8), uint32(131|1<<31); got != want {
		t.Errorf("last LDR = %#x, want %#x", got, want)
	}
	if got, want := mem.MustRead32(lutBase+0x800+31*8), uint32(31<<8)<<16; got != want {
		t.Errorf("last UDR = %#x, want %#x", got, want)
	}
}

func TestMapFixed(t *testing.T) {
	c, m := newTestContext(t)
	tab := Build(testSkeleton())
	m.ExpectWrite32(scfgBase+0x70, 1<<24|ICIDEnable)
	id, err := c.MapFixed(tab, DeviceKey{Class: USB})
	if err != nil || id != 1 {
		t.Fatalf("MapFixed(usb0) = %d, %v, want 1, nil", id, err)
	}
	m.Done()
	want := []IDMapping{{InputBase: 0, Count: 1, OutputBase: 1, OutputRef: smmuOffset, Flags: MappingSingle}}
	if diff := cmp.Diff(want, tab.Mappings(NodeRef{Type: NodeNamedComponent})); diff != "" {
		t.Errorf("USB0 mappings (-want +got):\n%s", diff)
	}

	// usb1 has a register but no IORT node.
	m.ExpectWrite32(scfgBase+0x74, 2<<24|ICIDEnable)
	if _, err := c.MapFixed(tab, DeviceKey{Class: USB, Instance: 1}); err != nil {
		t.Errorf("MapFixed(usb1): %v", err)
	}
	m.Done()

	if _, err := c.MapFixed(tab, DeviceKey{Class: PCIe}); !errors.Is(err, errcode.NotFound) {
		t.Errorf("MapFixed(pcie0) = %v, want not found", err)
	}
}

func TestMapPCIeSameKeyConcurrently(t *testing.T) {
	c, _ := newTestContext(t)
	tab := Build(testSkeleton())
	lut := NewLUT(regs.NewSparse(), lutBase)
	ids := make([]uint32, 16)
	var g errgroup.Group
	for i := range ids {
		i := i
		g.Go(func() error {
			id, err := c.MapPCIe(tab, lut, 0, 0x100)
			ids[i] = id
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("MapPCIe: %v", err)
	}
	for i, id := range ids {
		if id != 11 {
			t.Errorf("caller %d got stream id %d, want 11", i, id)
		}
	}
	if got := len(tab.Mappings(NodeRef{Type: NodeRootComplex})); got != 1 {
		t.Errorf("root complex has %d mappings for one requester, want 1", got)
	}
	if got := len(tab.Mappings(NodeRef{Type: NodeSMMUv1v2})); got != 1 {
		t.Errorf("SMMU has %d mappings for one requester, want 1", got)
	}
	if got := lut.Free(); got != LUTEntries-1 {
		t.Errorf("LUT has %d free entries, want %d", got, LUTEntries-1)
	}
}

func TestMapContendedSlotsBurnNoIDs(t *testing.T) {
	c, _ := newTestContext(t)
	tab := Build(testSkeleton())
	lut := NewLUT(regs.NewSparse(), lutBase)
	errs := make([]error, 4)
	var g errgroup.Group
	for i := range errs {
		i := i
		g.Go(func() error {
			_, errs[i] = c.MapPCIe(tab, lut, 0, uint16(i+1)<<8)
			return nil
		})
	}
	g.Wait()

	// The root complex node has two slots.
	var ok, full int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, errcode.TableFull):
			full++
		default:
			t.Errorf("MapPCIe: %v", err)
		}
	}
	if ok != 2 || full != 2 {
		t.Errorf("%d mapped and %d refused, want 2 and 2", ok, full)
	}
	if got := len(c.Assignments()); got != 2 {
		t.Errorf("%d stream ids spent, want 2", got)
	}
}
