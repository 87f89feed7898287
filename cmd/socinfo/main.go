// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// socinfo prints the SoC model and the SerDes lane assignment without
// programming anything.
package main

import (
	"flag"
	"fmt"
	"log"

	"github.com/spf13/afero"
	"github.com/u-root/u-bringup/config"
	"github.com/u-root/u-bringup/pkg/hardware/layerscape"
	"github.com/u-root/u-bringup/pkg/hardware/serdes"
	"github.com/u-root/u-bringup/pkg/logger"
)

var configPath = flag.String("config", config.DefaultPath, "Board configuration")

func main() {
	flag.Parse()
	cfg, err := config.Load(afero.NewOsFs(), *configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lvl, _ := cfg.Level()
	logger.LogContainer.SetLevel(lvl)
	s, err := layerscape.Open(cfg.DCFG)
	if err != nil {
		log.Fatalf("Open: %v", err)
	}
	defer s.Close()

	name, _ := s.ModelName()
	p := s.Profile()
	fmt.Printf("SoC: %s rev %s (SVR %08x)\n", name, s.Revision(), s.SVR())
	fmt.Printf("Platform clock: %d MHz\n", s.PlatformClock(cfg.SysClock)/1000000)
	m := s.LaneMap()
	fmt.Printf("Lane map: %#x\n", uint64(m))
	for _, g := range serdes.Decode(p.SerDes, m) {
		fmt.Printf("  SerDes%d lanes %d-%d: %s\n", g.Block+1, g.FirstLane, g.FirstLane+g.Lanes-1, g.Protocol)
	}
	if p.MCPortal != 0 {
		fmt.Printf("MC portal: %#x\n", p.MCPortal)
	}
}
