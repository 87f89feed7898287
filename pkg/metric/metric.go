// Copyright 2021 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package metric

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const Namespace = "ubringup"

// MetricOpts contains naming pieces of the exposed metric
type MetricOpts struct {
	Namespace string
	Subsystem string
	Name      string
}

var (
	// PortalCommands counts MC portal exchanges by command id and result code.
	PortalCommands = counterVec(MetricOpts{Namespace, "mc", "commands_total"},
		"Commands sent through the management coprocessor portal, by result", "cmd", "result")
	// PortalPolls observes how many status polls a command needed.
	PortalPolls = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    Name(MetricOpts{Namespace, "mc", "status_polls"}),
		Help:    "Status polls per portal command until completion or timeout",
		Buckets: prometheus.ExponentialBuckets(1, 2, 10),
	})
	// StreamIDs counts stream identifiers handed out per device class.
	StreamIDs = counterVec(MetricOpts{Namespace, "iommu", "stream_ids_assigned_total"},
		"Stream identifiers assigned, by device class", "class")
	// TablePatches counts ID mapping insertions by node type and result code.
	TablePatches = counterVec(MetricOpts{Namespace, "iommu", "id_mapping_patches_total"},
		"ID mapping insertions into the I/O remapping table, by result", "node", "result")
	// SerdesLanes is set per resolved protocol.
	SerdesLanes = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: Name(MetricOpts{Namespace, "serdes", "lanes"}),
		Help: "Lanes assigned to each discovered SerDes protocol",
	}, []string{"protocol"})
)

func counterVec(o MetricOpts, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: Name(o), Help: help}, labels)
}

func init() {
	prometheus.MustRegister(PortalCommands)
	prometheus.MustRegister(PortalPolls)
	prometheus.MustRegister(StreamIDs)
	prometheus.MustRegister(TablePatches)
	prometheus.MustRegister(SerdesLanes)
}

// StartMetrics adds the metrics handler to a http.ServeMux
func StartMetrics(mux *http.ServeMux) {
	mux.Handle("/metrics", promhttp.Handler())
}

// Serve exposes the default registry on addr in the background.
func Serve(addr string) (net.Addr, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("could not listen: %v", err)
	}
	mux := http.NewServeMux()
	StartMetrics(mux)
	go http.Serve(l, mux)
	return l.Addr(), nil
}

// Name joins the naming pieces the way prometheus.BuildFQName does.
func Name(opts MetricOpts) string {
	if opts.Name == "" {
		return ""
	}
	parts := make([]string, 0, 3)
	for _, p := range []string{opts.Namespace, opts.Subsystem, opts.Name} {
		if p != "" {
			parts = append(parts, p)
		}
	}
	return strings.Join(parts, "_")
}
