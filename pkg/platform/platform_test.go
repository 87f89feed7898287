// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/u-root/u-bringup/config"
	"github.com/u-root/u-bringup/pkg/errcode"
	"github.com/u-root/u-bringup/pkg/hardware/layerscape"
	"github.com/u-root/u-bringup/pkg/hardware/regs"
	"github.com/u-root/u-bringup/pkg/iommu"
)

// board fakes a powered-on SoC with the given SVR and RCW words.
func board(t *testing.T, dcfg uint64, bigEndian bool, svr uint32, rcw map[int]uint32) (*layerscape.Soc, *regs.Sparse) {
	t.Helper()
	mem := regs.NewSparse()
	var w regs.Mem = mem
	if bigEndian {
		w = regs.BigEndian(mem)
	}
	w.MustWrite32(uintptr(dcfg)+0xa4, svr)
	for i, v := range rcw {
		w.MustWrite32(uintptr(dcfg)+0x100+uintptr(4*i), v)
	}
	soc, err := layerscape.OpenWithMemory(mem, dcfg)
	if err != nil {
		t.Fatalf("OpenWithMemory: %v", err)
	}
	return soc, mem
}

func TestBringupLS1046A(t *testing.T) {
	soc, mem := board(t, layerscape.DefaultDCFG, true, 0x87070110, map[int]uint32{
		0: 6 << 25,
		4: 0x11335506,
	})
	p := soc.Profile()
	table := iommu.Build(p.Skeleton())
	r, err := Bringup(config.DefaultConfig, soc, table)
	if err != nil {
		t.Fatalf("Bringup: %v", err)
	}
	if r.Err != nil {
		t.Errorf("Bringup reported device errors: %v", r.Err)
	}
	if r.SoC != "LS1046A" || r.PlatformClock != 600000000 {
		t.Errorf("report = %s at %d Hz", r.SoC, r.PlatformClock)
	}
	if len(r.ID) == 0 {
		t.Errorf("report has no run id")
	}

	want := []PCIePort{
		{Controller: 0, Name: "pcie1", Lanes: 2, StreamID: 11},
		{Controller: 1, Name: "pcie2", Lanes: 1, StreamID: 12},
	}
	if diff := cmp.Diff(want, r.PCIe); diff != "" {
		t.Errorf("PCIe ports (-want +got):\n%s", diff)
	}

	be := regs.BigEndian(mem)
	if got, want := be.MustRead32(0x3500000+0x80000+0x804), uint32(12|1<<31); got != want {
		t.Errorf("pcie2 LUT entry 0 = %#x, want %#x", got, want)
	}
	if got, want := be.MustRead32(0x1570000+0x770), uint32(1<<24|iommu.ICIDEnable); got != want {
		t.Errorf("USB1 ICID register = %#x, want %#x", got, want)
	}

	for port := uint32(0); port < 4; port++ {
		id, ok := r.Context.Lookup(iommu.DeviceKey{Class: iommu.Ethernet, Function: port})
		if !ok || id != 0x40+port {
			t.Errorf("MAC on lane %d has stream id %d, %v", port, id, ok)
		}
	}
	if _, ok := r.Context.Lookup(iommu.DeviceKey{Class: iommu.SATA}); ok {
		t.Errorf("SATA got a stream id without a SATA lane")
	}

	fman, ok := table.NamedComponent(`\_SB.FMN0`)
	if !ok {
		t.Fatalf("IORT template lacks the FMan node")
	}
	if got := len(table.Mappings(fman)); got != 4 {
		t.Errorf("FMan node has %d mappings, want 4", got)
	}
	// USB controllers have their own PHYs and are mapped without a lane.
	for _, n := range []string{`\_SB.USB0`, `\_SB.USB1`, `\_SB.USB2`} {
		usb, ok := table.NamedComponent(n)
		if !ok {
			t.Fatalf("IORT template lacks %s", n)
		}
		if got := len(table.Mappings(usb)); got != 1 {
			t.Errorf("%s has %d mappings, want 1", n, got)
		}
	}
	rc := table.Mappings(iommu.NodeRef{Type: iommu.NodeRootComplex, Index: 1})
	if len(rc) != 1 || rc[0].InputBase != 0 || rc[0].OutputBase != 12 {
		t.Errorf("pcie2 root complex mappings = %+v", rc)
	}
	if !iommu.Checksum(table.Bytes()) {
		t.Errorf("patched IORT has a bad checksum")
	}

	var out bytes.Buffer
	if err := r.Print(&out); err != nil {
		t.Fatalf("Print: %v", err)
	}
	for _, s := range []string{"LS1046A rev 1.0", "600 MHz", "XFI1", "PCIE2", "pcie1"} {
		if !strings.Contains(out.String(), s) {
			t.Errorf("report lacks %q:\n%s", s, out.String())
		}
	}
}

func TestBringupCollectsFailures(t *testing.T) {
	// SATA on lane A, a PCIe controller the LS1043A does not have on lane B.
	soc, _ := board(t, layerscape.DefaultDCFG, true, 0x87920010, map[int]uint32{4: 0x8900 << 16})
	cfg := *config.DefaultConfig
	cfg.Peripherals = []string{"sata"}
	r, err := Bringup(&cfg, soc, iommu.Build(soc.Profile().Skeleton()))
	if err != nil {
		t.Fatalf("Bringup: %v", err)
	}
	if !errors.Is(r.Err, errcode.NotFound) {
		t.Errorf("Report.Err = %v, want not found for PCIE4", r.Err)
	}
	if len(r.Lanes) != 2 {
		t.Errorf("resolved %d lane groups, want 2", len(r.Lanes))
	}
	if id, ok := r.Context.Lookup(iommu.DeviceKey{Class: iommu.SATA}); !ok || id != 5 {
		t.Errorf("SATA stream id = %d, %v, want 5", id, ok)
	}
	if _, ok := r.Context.Lookup(iommu.DeviceKey{Class: iommu.USB}); ok {
		t.Errorf("USB set up although not enabled")
	}
}

func TestBringupMCTimeout(t *testing.T) {
	soc, _ := board(t, 0x1e00000, false, 0x87030010, nil)
	cfg := *config.DefaultConfig
	cfg.DCFG = 0x1e00000
	cfg.Portal.Polls = 2
	cfg.Portal.MinDelay = config.Duration(time.Microsecond)
	cfg.Portal.MaxDelay = config.Duration(time.Microsecond)
	// No MC firmware answers in the fake.
	r, err := Bringup(&cfg, soc, nil)
	if err != nil {
		t.Fatalf("Bringup: %v", err)
	}
	if !errors.Is(r.Err, errcode.Timeout) {
		t.Errorf("Report.Err = %v, want timeout", r.Err)
	}
	if r.MCVersion != nil {
		t.Errorf("MC version reported without an MC")
	}
	if len(r.Lanes) != 0 {
		t.Errorf("idle lane map resolved to %v", r.Lanes)
	}
}
