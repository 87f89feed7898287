// Copyright 2023 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package platform

import (
	"fmt"
	"io"
	"text/tabwriter"

	"go.uber.org/multierr"
)

// Print writes a human readable summary of r.
func (r *Report) Print(out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintf(w, "SoC:\t%s rev %s\n", r.SoC, r.Revision)
	fmt.Fprintf(w, "Platform clock:\t%d MHz\n", r.PlatformClock/1000000)
	fmt.Fprintf(w, "Lane map:\t%#x\n", uint64(r.LaneMap))
	for _, g := range r.Lanes {
		fmt.Fprintf(w, "  SerDes%d lanes %d-%d:\t%s\n", g.Block+1, g.FirstLane, g.FirstLane+g.Lanes-1, g.Protocol)
	}
	for _, c := range r.PCIe {
		fmt.Fprintf(w, "  %s	x%d, root port stream id %d\n", c.Name, c.Lanes, c.StreamID)
	}
	if r.Context != nil {
		fmt.Fprintf(w, "Stream ids:\t\n")
		for _, a := range r.Context.Assignments() {
			fmt.Fprintf(w, "  %v\t%d\n", a.Key, a.ID)
		}
	}
	if r.MCVersion != nil {
		fmt.Fprintf(w, "MC firmware:\t%s\n", r.MCVersion)
		fmt.Fprintf(w, "Container %d:\t%d objects\n", r.Container, len(r.Objects))
		for _, o := range r.Objects {
			fmt.Fprintf(w, "  %s\t%s\n", o, o.Label)
		}
	}
	for _, err := range multierr.Errors(r.Err) {
		fmt.Fprintf(w, "Error:\t%v\n", err)
	}
	return w.Flush()
}
