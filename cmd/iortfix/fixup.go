// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/afero"
	"github.com/u-root/u-bringup/config"
	"github.com/u-root/u-bringup/pkg/hardware/layerscape"
	"github.com/u-root/u-bringup/pkg/iommu"
	"github.com/u-root/u-bringup/pkg/platform"
	"github.com/u-root/u-root/pkg/dt"
	"go.uber.org/multierr"
)

type requester struct {
	rc  int
	rid uint16
}

// parseRequesters reads "rc:rid,..." as printed by lspci, e.g. "0:0x100".
func parseRequesters(s string) ([]requester, error) {
	var rs []requester
	if s == "" {
		return nil, nil
	}
	for _, f := range strings.Split(s, ",") {
		parts := strings.SplitN(f, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("requester %q is not rc:rid", f)
		}
		rc, err := strconv.Atoi(parts[0])
		if err != nil {
			return nil, fmt.Errorf("requester %q: %v", f, err)
		}
		rid, err := strconv.ParseUint(parts[1], 0, 16)
		if err != nil {
			return nil, fmt.Errorf("requester %q: %v", f, err)
		}
		rs = append(rs, requester{rc: rc, rid: uint16(rid)})
	}
	return rs, nil
}

type options struct {
	iortIn, iortOut string
	dtbIn, dtbOut   string
	requesters      []requester
}

func loadTable(fs afero.Fs, path string, p *layerscape.Profile) (*iommu.Table, error) {
	if path == "" {
		return iommu.Build(p.Skeleton()), nil
	}
	b, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	return iommu.Parse(b)
}

func fixupDeviceTree(fs afero.Fs, o options, r *platform.Report, l iommu.DTLayout) error {
	in, err := fs.Open(o.dtbIn)
	if err != nil {
		return err
	}
	defer in.Close()
	fdt, err := dt.ReadFDT(in)
	if err != nil {
		return fmt.Errorf("%s: %v", o.dtbIn, err)
	}
	ferr := iommu.FixupDeviceTree(fdt, r.Context, l)
	out, err := fs.Create(o.dtbOut)
	if err != nil {
		return multierr.Append(ferr, err)
	}
	defer out.Close()
	if _, err := fdt.Write(out); err != nil {
		return multierr.Append(ferr, fmt.Errorf("%s: %v", o.dtbOut, err))
	}
	return ferr
}

// fixup brings the board up and writes the patched tables. Device errors
// are returned together; the outputs are written regardless.
func fixup(fs afero.Fs, cfg *config.Config, soc *layerscape.Soc, o options) (*platform.Report, error) {
	p := soc.Profile()
	table, err := loadTable(fs, o.iortIn, p)
	if err != nil {
		return nil, fmt.Errorf("IORT: %w", err)
	}
	r, err := platform.Bringup(cfg, soc, table)
	if err != nil {
		return nil, err
	}
	errs := r.Err
	for _, q := range o.requesters {
		if q.rc < 0 || q.rc >= len(r.LUTs) {
			errs = multierr.Append(errs, fmt.Errorf("%s has no root complex %d", p.Name, q.rc))
			continue
		}
		if _, err := r.Context.MapPCIe(table, r.LUTs[q.rc], q.rc, q.rid); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("pcie%d %#x: %w", q.rc, q.rid, err))
		}
	}
	if o.iortOut != "" {
		if err := afero.WriteFile(fs, o.iortOut, table.Bytes(), 0644); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	if o.dtbIn != "" && o.dtbOut != "" {
		errs = multierr.Append(errs, fixupDeviceTree(fs, o, r, p.DTLayout()))
	}
	return r, errs
}
