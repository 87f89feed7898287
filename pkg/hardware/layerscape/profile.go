// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package layerscape

import (
	"github.com/u-root/u-bringup/pkg/hardware/serdes"
	"github.com/u-root/u-bringup/pkg/iommu"
)

// PCIeController is one root complex. Controllers are numbered from 0 in
// the order listed, which is also their IORT root complex index.
type PCIeController struct {
	Name   string
	Base   uint64
	LUT    uint64
	DTNode string
}

// Peripheral is an on-chip DMA master with a design time stream id.
type Peripheral struct {
	iommu.FixedDevice
	DTNode string
}

// Profile holds everything that differs between family members.
type Profile struct {
	Name     string
	Models   map[uint32]string
	DCFGBase uint64
	SCFGBase uint64
	// SCFG, PCIe LUT and (on chassis 2) DCFG are big-endian.
	BigEndian bool

	SerDes   *serdes.Profile
	PLLRatio serdes.RCWField

	PCIe        []PCIeController
	Peripherals []Peripheral
	StreamIDs   map[iommu.Class]iommu.Range
	// IORT named component translating Ethernet MAC streams.
	EthernetNode string
	SMMUBase     uint64
	SMMUNode     string
	ITSNode      string
	// Zero on parts without a management coprocessor.
	MCPortal uint64
}

// Streams per class outside the fixed peripheral ids.
var streamIDs = map[iommu.Class]iommu.Range{
	iommu.PCIe:     {Base: 11, Limit: 0x40},
	iommu.Ethernet: {Base: 0x40, Limit: 0x50},
}

// SCFG ICID registers, chassis generation 2.
const (
	scfgUSB1ICID = 0x770
	scfgUSB2ICID = 0x774
	scfgUSB3ICID = 0x778
	scfgSDHCICID = 0x77c
	scfgSATAICID = 0x780
	scfgQEICID   = 0x784
	scfgQDMAICID = 0x788
	scfgEDMAICID = 0x78c
	scfgETRICID  = 0x790
	scfgDBGICID  = 0x794
)

func peripheral(c iommu.Class, inst int, icid uint32, reg uintptr, iort, dt string) Peripheral {
	return Peripheral{
		FixedDevice: iommu.FixedDevice{
			Key:  iommu.DeviceKey{Class: c, Instance: inst},
			ICID: icid,
			Reg:  reg,
			Node: iort,
		},
		DTNode: dt,
	}
}

func chassis2Peripherals(usb ...string) []Peripheral {
	regs := []uintptr{scfgUSB1ICID, scfgUSB2ICID, scfgUSB3ICID}
	var ps []Peripheral
	for i, n := range usb {
		ps = append(ps, peripheral(iommu.USB, i, uint32(1+i), regs[i], `\_SB.USB`+string(rune('0'+i)), n))
	}
	return append(ps,
		peripheral(iommu.SDHC, 0, 4, scfgSDHCICID, `\_SB.ESDH`, "esdhc@1560000"),
		peripheral(iommu.SATA, 0, 5, scfgSATAICID, `\_SB.SATA`, "sata@3200000"),
		peripheral(iommu.QE, 0, 6, scfgQEICID, "", ""),
		peripheral(iommu.QDMA, 0, 7, scfgQDMAICID, `\_SB.QDMA`, "dma-controller@8380000"),
		peripheral(iommu.EDMA, 0, 8, scfgEDMAICID, "", "edma@2c00000"),
		peripheral(iommu.ETR, 0, 9, scfgETRICID, "", ""),
		peripheral(iommu.Debug, 0, 10, scfgDBGICID, "", ""),
	)
}

func pcie(lutOffset uint64) []PCIeController {
	var cs []PCIeController
	for i, base := range []uint64{0x3400000, 0x3500000, 0x3600000} {
		cs = append(cs, PCIeController{
			Name:   "pcie" + string(rune('1'+i)),
			Base:   base,
			LUT:    base + lutOffset,
			DTNode: "pcie@" + hex(base),
		})
	}
	return cs
}

var profiles = []Profile{
	{
		Name:         "LS1043A",
		Models:       map[uint32]string{0x879200: "LS1043A", 0x879208: "LS1023A"},
		DCFGBase:     DefaultDCFG,
		SCFGBase:     0x1570000,
		BigEndian:    true,
		SerDes:       &serdes.LS1043A,
		PLLRatio:     serdes.RCWField{Word: 0, Shift: 25, Mask: 0x1f},
		PCIe:         pcie(0x10000),
		Peripherals:  chassis2Peripherals("usb@2f00000", "usb@3000000", "usb@3100000"),
		StreamIDs:    streamIDs,
		EthernetNode: `\_SB.FMN0`,
		SMMUBase:     0x9000000,
		SMMUNode:     "iommu@9000000",
	},
	{
		Name:         "LS1046A",
		Models:       map[uint32]string{0x870700: "LS1046A", 0x870708: "LS1026A"},
		DCFGBase:     DefaultDCFG,
		SCFGBase:     0x1570000,
		BigEndian:    true,
		SerDes:       &serdes.LS1046A,
		PLLRatio:     serdes.RCWField{Word: 0, Shift: 25, Mask: 0x1f},
		PCIe:         pcie(0x80000),
		Peripherals:  chassis2Peripherals("usb@2f00000", "usb@3000000", "usb@3100000"),
		StreamIDs:    streamIDs,
		EthernetNode: `\_SB.FMN0`,
		SMMUBase:     0x9000000,
		SMMUNode:     "iommu@9000000",
	},
	{
		Name: "LS1088A",
		Models: map[uint32]string{
			0x870300: "LS1088A",
			0x870320: "LS1048A",
			0x870302: "LS1084A",
			0x870322: "LS1044A",
		},
		DCFGBase: 0x1e00000,
		SerDes:   &serdes.LS1088A,
		PLLRatio: serdes.RCWField{Word: 0, Shift: 2, Mask: 0x1f},
		PCIe:     pcie(0x80000),
		Peripherals: []Peripheral{
			peripheral(iommu.USB, 0, 1, 0, `\_SB.USB0`, "usb@3100000"),
			peripheral(iommu.USB, 1, 2, 0, `\_SB.USB1`, "usb@3110000"),
			peripheral(iommu.SDHC, 0, 4, 0, `\_SB.ESDH`, "esdhc@2140000"),
			peripheral(iommu.SATA, 0, 5, 0, `\_SB.SATA`, "sata@3200000"),
			peripheral(iommu.QDMA, 0, 7, 0, `\_SB.QDMA`, "dma-controller@8380000"),
		},
		StreamIDs:    streamIDs,
		EthernetNode: `\_SB.MCE0`,
		SMMUBase:     0x5000000,
		SMMUNode:     "iommu@5000000",
		ITSNode:      "gic-its@6020000",
		MCPortal:     0x80c000000,
	},
}

// Profiles lists the supported families.
func Profiles() []Profile {
	return append([]Profile(nil), profiles...)
}

// FixedDevices returns the peripheral stream id table.
func (p *Profile) FixedDevices() []iommu.FixedDevice {
	fs := make([]iommu.FixedDevice, 0, len(p.Peripherals))
	for _, per := range p.Peripherals {
		fs = append(fs, per.FixedDevice)
	}
	return fs
}

// Skeleton is the IORT template for the family. Each peripheral with an
// IORT node gets a single mapping slot.
func (p *Profile) Skeleton() iommu.Skeleton {
	s := iommu.Skeleton{
		OEMID:       "NXP   ",
		OEMTableID:  (p.Name + "        ")[:8],
		OEMRevision: 1,
		CreatorID:   "UBRU",
		SMMU: &iommu.SMMUNode{
			Base:     p.SMMUBase,
			Span:     0x400000,
			Model:    iommu.SMMUModelMMU500,
			Capacity: iommu.SMMUMappings,
		},
	}
	if p.ITSNode != "" {
		s.ITS = []uint32{0}
	}
	for i := range p.PCIe {
		s.RootComplexes = append(s.RootComplexes, iommu.RootComplexNode{
			Segment:       uint32(i),
			CacheCoherent: true,
			Capacity:      iommu.RootComplexMappings,
		})
	}
	for _, per := range p.Peripherals {
		if per.Node == "" {
			continue
		}
		s.NamedComponents = append(s.NamedComponents, iommu.NamedComponentNode{
			Name:          per.Node,
			CacheCoherent: true,
			AddrSizeLimit: 40,
			Capacity:      1,
		})
	}
	if r, ok := p.StreamIDs[iommu.Ethernet]; ok && p.EthernetNode != "" {
		s.NamedComponents = append(s.NamedComponents, iommu.NamedComponentNode{
			Name:          p.EthernetNode,
			CacheCoherent: true,
			AddrSizeLimit: 48,
			Capacity:      int(r.Limit - r.Base),
		})
	}
	return s
}

// DTLayout names the device tree nodes that receive stream id properties.
func (p *Profile) DTLayout() iommu.DTLayout {
	l := iommu.DTLayout{
		SMMU:  p.SMMUNode,
		ITS:   p.ITSNode,
		Fixed: make(map[iommu.DeviceKey]string),
	}
	for _, c := range p.PCIe {
		l.PCIe = append(l.PCIe, c.DTNode)
	}
	for _, per := range p.Peripherals {
		if per.DTNode != "" {
			l.Fixed[per.Key] = per.DTNode
		}
	}
	return l
}
