// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// iortfix brings up the SoC and publishes the resulting stream ids in the
// IORT and the device tree handed to the next boot stage.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"

	"github.com/spf13/afero"
	"github.com/u-root/u-bringup/config"
	"github.com/u-root/u-bringup/pkg/hardware/layerscape"
	"github.com/u-root/u-bringup/pkg/logger"
	"github.com/u-root/u-bringup/pkg/metric"
	"go.uber.org/multierr"
)

var (
	configPath = flag.String("config", config.DefaultPath, "Board configuration")
	iortIn     = flag.String("iort", "", "IORT to patch; empty builds the SoC template")
	iortOut    = flag.String("o", "", "Where to write the patched IORT")
	dtbIn      = flag.String("dtb", "", "Device tree blob to fix up")
	dtbOut     = flag.String("dtb-out", "", "Where to write the fixed up device tree")
	pcie       = flag.String("pcie", "", "Enumerated PCIe requesters to map, as rc:rid[,rc:rid...]")
	metrics    = flag.String("metrics", "", "Serve metrics on this address and wait for SIGINT when done")
)

func main() {
	flag.Parse()
	fs := afero.NewOsFs()
	cfg, err := config.Load(fs, *configPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	lvl, _ := cfg.Level()
	logger.LogContainer.SetLevel(lvl)
	reqs, err := parseRequesters(*pcie)
	if err != nil {
		log.Fatalf("-pcie: %v", err)
	}
	addr := *metrics
	if addr == "" {
		addr = cfg.MetricsAddr
	}
	if addr != "" {
		a, err := metric.Serve(addr)
		if err != nil {
			log.Fatalf("metrics: %v", err)
		}
		log.Printf("Serving metrics on http://%v/metrics", a)
	}

	s, err := layerscape.Open(cfg.DCFG)
	if err != nil {
		log.Fatalf("Open: %v", err)
	}
	defer s.Close()

	r, err := fixup(fs, cfg, s, options{
		iortIn:     *iortIn,
		iortOut:    *iortOut,
		dtbIn:      *dtbIn,
		dtbOut:     *dtbOut,
		requesters: reqs,
	})
	if r != nil {
		r.Print(os.Stdout)
	}
	for _, e := range multierr.Errors(err) {
		log.Printf("%v", e)
	}
	if addr != "" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		<-ctx.Done()
	}
	if r == nil {
		os.Exit(1)
	}
}
