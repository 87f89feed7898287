// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package iommu

import (
	"fmt"
	"sort"

	"github.com/u-root/u-bringup/pkg/errcode"
	"github.com/u-root/u-root/pkg/dt"
	"github.com/u-root/uio/uio"
	"go.uber.org/multierr"
)

// DTLayout names the device tree nodes that receive stream id properties.
type DTLayout struct {
	SMMU string
	ITS  string
	// Root complex node per controller index.
	PCIe  []string
	Fixed map[DeviceKey]string
}

func findNode(fdt *dt.FDT, name string) (*dt.Node, error) {
	ns, err := fdt.Root().FindAll(func(n *dt.Node) bool { return n.Name == name })
	if err != nil {
		return nil, err
	}
	if len(ns) == 0 {
		return nil, errcode.New(errcode.NotFound, "FixupDeviceTree", fmt.Sprintf("no node %q", name))
	}
	return ns[0], nil
}

func phandle(fdt *dt.FDT, name string) (uint32, error) {
	n, err := findNode(fdt, name)
	if err != nil {
		return 0, err
	}
	p, ok := n.LookProperty("phandle")
	if !ok {
		return 0, errcode.New(errcode.NotFound, "FixupDeviceTree", fmt.Sprintf("%s has no phandle", name))
	}
	return p.AsU32()
}

func setProperty(n *dt.Node, name string, cells ...uint32) {
	b := uio.NewBigEndianBuffer(nil)
	for _, c := range cells {
		b.Write32(c)
	}
	for i := range n.Properties {
		if n.Properties[i].Name == name {
			n.Properties[i].Value = b.Data()
			return
		}
	}
	n.Properties = append(n.Properties, dt.Property{Name: name, Value: b.Data()})
}

// FixupDeviceTree adds iommus to fixed devices and iommu-map and msi-map to
// root complexes for every assignment in c. Missing nodes are reported but
// do not stop the remaining fixups.
func FixupDeviceTree(fdt *dt.FDT, c *Context, l DTLayout) error {
	smmu, err := phandle(fdt, l.SMMU)
	if err != nil {
		return err
	}
	// GICv2 parts deliver MSIs without an ITS.
	var its uint32
	var itsErr error
	if l.ITS != "" {
		its, itsErr = phandle(fdt, l.ITS)
	}

	var errs error
	pcie := make(map[int][]uint32)
	for _, a := range c.Assignments() {
		if a.Key.Class == PCIe {
			pcie[a.Key.Instance] = append(pcie[a.Key.Instance], a.Key.Function, a.ID)
			continue
		}
		name, ok := l.Fixed[a.Key]
		if !ok {
			continue
		}
		n, err := findNode(fdt, name)
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		setProperty(n, "iommus", smmu, a.ID)
	}
	rcs := make([]int, 0, len(pcie))
	for rc := range pcie {
		rcs = append(rcs, rc)
	}
	sort.Ints(rcs)
	for _, rc := range rcs {
		pairs := pcie[rc]
		if rc >= len(l.PCIe) {
			errs = multierr.Append(errs, errcode.New(errcode.NotFound, "FixupDeviceTree", fmt.Sprintf("no node for pcie%d", rc)))
			continue
		}
		n, err := findNode(fdt, l.PCIe[rc])
		if err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		var iommuMap, msiMap []uint32
		for i := 0; i < len(pairs); i += 2 {
			iommuMap = append(iommuMap, pairs[i], smmu, pairs[i+1], 1)
			msiMap = append(msiMap, pairs[i], its, pairs[i+1], 1)
		}
		setProperty(n, "iommu-map", iommuMap...)
		if l.ITS != "" && itsErr == nil {
			setProperty(n, "msi-map", msiMap...)
		}
	}
	if itsErr != nil && len(pcie) > 0 {
		errs = multierr.Append(errs, itsErr)
	}
	return errs
}
