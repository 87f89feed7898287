// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package platform runs the bring-up sequence of a Layerscape board: stream
// ids for the fixed peripherals, SerDes discovery with stream ids for what
// sits behind the lanes, and enumeration of the management coprocessor.
package platform

import (
	"fmt"

	"github.com/google/uuid"
	"github.com/u-root/u-bringup/config"
	"github.com/u-root/u-bringup/pkg/errcode"
	"github.com/u-root/u-bringup/pkg/hardware/layerscape"
	"github.com/u-root/u-bringup/pkg/hardware/mc"
	"github.com/u-root/u-bringup/pkg/hardware/serdes"
	"github.com/u-root/u-bringup/pkg/iommu"
	"github.com/u-root/u-bringup/pkg/logger"
	"go.uber.org/multierr"
)

var log = logger.LogContainer.GetSimpleLogger()

// PCIePort is a root complex found behind SerDes lanes.
type PCIePort struct {
	Controller int
	Name       string
	Lanes      int
	StreamID   uint32
}

type Report struct {
	ID            string
	SoC           string
	Revision      string
	PlatformClock uint64
	LaneMap       serdes.LaneProtocolMap
	Lanes         []serdes.LaneGroup
	PCIe          []PCIePort
	MCVersion     *mc.Version
	Container     uint32
	Objects       []mc.Object
	// Context holds every stream id handed out, for device tree fixups
	// and later PCIe enumeration.
	Context *iommu.Context
	LUTs    []*iommu.LUT
	// Failures of individual devices. The rest of the board is up.
	Err error
}

type bringup struct {
	cfg     *config.Config
	soc     *layerscape.Soc
	profile *layerscape.Profile
	table   *iommu.Table
	report  *Report
}

// Bringup programs the board described by soc. table may be nil when the
// OS boots with a device tree only. The returned error is fatal; per-device
// failures are collected in Report.Err.
func Bringup(cfg *config.Config, soc *layerscape.Soc, table *iommu.Table) (*Report, error) {
	p := soc.Profile()
	name, _ := soc.ModelName()
	b := &bringup{
		cfg:     cfg,
		soc:     soc,
		profile: p,
		table:   table,
		report: &Report{
			ID:            uuid.New().String(),
			SoC:           name,
			Revision:      soc.Revision(),
			PlatformClock: soc.PlatformClock(cfg.SysClock),
		},
	}
	log.Infof("Bring-up %s on %s rev %s, platform clock %d MHz", b.report.ID, name, b.report.Revision, b.report.PlatformClock/1000000)

	var fixed []iommu.FixedDevice
	for _, f := range p.FixedDevices() {
		if cfg.Enabled(string(f.Key.Class)) {
			fixed = append(fixed, f)
		}
	}
	ctx, err := iommu.NewContext(soc.SCFG(), uintptr(p.SCFGBase), fixed, p.StreamIDs)
	if err != nil {
		return nil, fmt.Errorf("stream id layout of %s: %w", p.Name, err)
	}
	b.report.Context = ctx
	for _, c := range p.PCIe {
		b.report.LUTs = append(b.report.LUTs, iommu.NewLUT(soc.SCFG(), uintptr(c.LUT)))
	}

	// SATA sits behind a SerDes lane and is mapped when its lane is found.
	for _, f := range fixed {
		if f.Key.Class == iommu.SATA {
			continue
		}
		if _, err := ctx.MapFixed(table, f.Key); err != nil {
			b.fail(fmt.Errorf("%v: %w", f.Key, err))
		}
	}

	b.report.LaneMap = soc.LaneMap()
	b.report.Lanes = serdes.Resolve(p.SerDes, b.report.LaneMap, laneFound, b)

	if p.MCPortal != 0 && cfg.Portal.Enabled {
		b.enumerateMC()
	}
	if b.report.Err != nil {
		log.Warnf("Bring-up %s finished with errors: %v", b.report.ID, b.report.Err)
	}
	return b.report, nil
}

func (b *bringup) fail(err error) {
	log.Errorf("%v", err)
	b.report.Err = multierr.Append(b.report.Err, err)
}

func laneFound(g serdes.LaneGroup, arg interface{}) {
	b := arg.(*bringup)
	switch {
	case g.Protocol.Class == serdes.PCIe:
		b.pcie(g)
	case g.Protocol.Class == serdes.SATA:
		b.sata(g)
	case g.Protocol.Class.Ethernet():
		b.ethernet(g)
	}
}

func (b *bringup) sata(g serdes.LaneGroup) {
	if !b.cfg.Enabled(string(iommu.SATA)) {
		return
	}
	k := iommu.DeviceKey{Class: iommu.SATA, Instance: g.Protocol.Instance - 1}
	if _, err := b.report.Context.MapFixed(b.table, k); err != nil {
		b.fail(fmt.Errorf("%s: %w", g.Protocol, err))
	}
}

func (b *bringup) pcie(g serdes.LaneGroup) {
	i := g.Protocol.Instance - 1
	if i < 0 || i >= len(b.profile.PCIe) {
		b.fail(errcode.New(errcode.NotFound, "Bringup", fmt.Sprintf("%s has no controller on %s", g.Protocol, b.profile.Name)))
		return
	}
	c := b.profile.PCIe[i]
	// The root port itself is requester 0:0.0; devices below it are mapped
	// as they are enumerated.
	id, err := b.report.Context.MapPCIe(b.table, b.report.LUTs[i], i, 0)
	if err != nil {
		b.fail(fmt.Errorf("%s: %w", c.Name, err))
		return
	}
	b.report.PCIe = append(b.report.PCIe, PCIePort{Controller: i, Name: c.Name, Lanes: g.Lanes, StreamID: id})
}

func (b *bringup) ethernet(g serdes.LaneGroup) {
	k := iommu.DeviceKey{Class: iommu.Ethernet, Function: uint32(g.FirstLane)}
	var ref iommu.NodeRef
	if b.table != nil {
		var ok bool
		ref, ok = b.table.NamedComponent(b.profile.EthernetNode)
		if !ok {
			b.fail(errcode.New(errcode.NotFound, "Bringup", fmt.Sprintf("no IORT node %q for %s", b.profile.EthernetNode, g.Protocol)))
			return
		}
	}
	if _, err := b.report.Context.Map(b.table, k, ref, uint32(g.FirstLane)); err != nil {
		b.fail(fmt.Errorf("%s: %w", g.Protocol, err))
	}
}

func (b *bringup) enumerateMC() {
	port := mc.NewPortal(b.soc.Mem(), uintptr(b.profile.MCPortal), b.cfg.Budget())
	v, err := port.GetVersion()
	if err != nil {
		b.fail(fmt.Errorf("MC version: %w", err))
		return
	}
	b.report.MCVersion = &v
	log.Infof("MC firmware %s", v)

	id := b.cfg.Portal.Container
	if id == 0 {
		if id, err = port.GetContainerID(); err != nil {
			b.fail(fmt.Errorf("MC root container: %w", err))
			return
		}
	}
	b.report.Container = id
	objs, err := port.ListObjects(id)
	b.report.Objects = objs
	if err != nil {
		b.fail(err)
		return
	}
	log.Infof("MC container %d holds %d objects", id, len(objs))
}
