// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// mcctl talks to the management coprocessor through its command portal.
//
//	mcctl version
//	mcctl objects [container]
//	mcctl -parallel 8 version
//	mcctl -portal 1 -v objects 1
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"

	"github.com/spf13/afero"
	"github.com/u-root/u-bringup/config"
	"github.com/u-root/u-bringup/pkg/hardware/layerscape"
	"github.com/u-root/u-bringup/pkg/hardware/mc"
	"github.com/u-root/u-bringup/pkg/logger"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

var (
	configPath = flag.String("config", config.DefaultPath, "Board configuration")
	parallel   = flag.Int("parallel", 1, "Issue the command from this many goroutines at once")
	portal     = flag.Int("portal", 0, "Index of the MC command portal to use")
	verbose    = flag.Bool("v", false, "Log every portal exchange")
)

func usage() {
	fmt.Fprintf(os.Stderr, "usage: mcctl [flags] version | objects [container]\n")
	flag.PrintDefaults()
	os.Exit(2)
}

func run(p *mc.Portal, args []string) error {
	switch args[0] {
	case "version":
		v, err := p.GetVersion()
		if err != nil {
			return err
		}
		fmt.Printf("MC firmware %s\n", v)
	case "objects":
		var id uint32
		if len(args) > 1 {
			n, err := strconv.ParseUint(args[1], 0, 32)
			if err != nil {
				return fmt.Errorf("container %q: %v", args[1], err)
			}
			id = uint32(n)
		} else {
			var err error
			if id, err = p.GetContainerID(); err != nil {
				return err
			}
		}
		objs, err := p.ListObjects(id)
		if err != nil {
			return err
		}
		fmt.Printf("dprc.%d: %d objects\n", id, len(objs))
		for _, o := range objs {
			fmt.Printf("  %-12s %s\n", o, o.Label)
		}
	default:
		usage()
	}
	return nil
}

func main() {
	flag.Parse()
	if flag.NArg() < 1 {
		usage()
	}
	cfg, err := config.Load(afero.NewOsFs(), *configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lvl, _ := cfg.Level()
	if *verbose {
		lvl = zapcore.DebugLevel
	}
	logger.LogContainer.SetLevel(lvl)
	s, err := layerscape.Open(cfg.DCFG)
	if err != nil {
		log.Fatalf("Open: %v", err)
	}
	defer s.Close()
	base := s.Profile().MCPortal
	if base == 0 {
		log.Fatalf("%s has no management coprocessor", s.Profile().Name)
	}
	p := mc.NewPortal(s.Mem(), mc.PortalAddr(base, *portal), cfg.Budget())

	var g errgroup.Group
	for i := 0; i < *parallel; i++ {
		g.Go(func() error { return run(p, flag.Args()) })
	}
	if err := g.Wait(); err != nil {
		log.Fatalf("%v (portal %#x %v)", err, p.Base(), p.State())
	}
}
