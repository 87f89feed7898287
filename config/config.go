// Copyright 2018 the u-root Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/ghodss/yaml"
	"github.com/spf13/afero"
	"github.com/u-root/u-bringup/pkg/hardware/layerscape"
	"github.com/u-root/u-bringup/pkg/hardware/mc"
	"go.uber.org/zap/zapcore"
)

// Set with -ldflags "-X github.com/u-root/u-bringup/config.gitVersion=..."
var (
	gitVersion = "dev"
	gitHash    = "unknown"
)

// DefaultPath is where the board configuration is looked up on the target.
const DefaultPath = "/etc/u-bringup.yaml"

type Version struct {
	Version string
	GitHash string
}

// Duration is a time.Duration written as "10us" or "1ms" in YAML.
type Duration time.Duration

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("duration must be a string like \"10us\": %v", err)
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

type Portal struct {
	Enabled bool `json:"enabled"`
	// Root container to enumerate. Zero asks the MC.
	Container uint32   `json:"container"`
	Polls     int      `json:"polls"`
	MinDelay  Duration `json:"minDelay"`
	MaxDelay  Duration `json:"maxDelay"`
}

type Config struct {
	// DCFG block used to identify the SoC.
	DCFG uint64 `json:"dcfg"`
	// System reference clock in Hz.
	SysClock uint64 `json:"sysclk"`
	LogLevel string `json:"logLevel"`
	Portal   Portal `json:"portal"`
	// Peripheral stream ids are only programmed for the listed classes.
	// Empty enables every peripheral of the SoC.
	Peripherals []string `json:"peripherals"`
	MetricsAddr string   `json:"metricsAddr"`
	Version     Version  `json:"-"`
}

var DefaultConfig = &Config{
	DCFG:     layerscape.DefaultDCFG,
	SysClock: 100000000,
	LogLevel: "info",
	Portal: Portal{
		Enabled:  true,
		Polls:    mc.DefaultBudget.Polls,
		MinDelay: Duration(mc.DefaultBudget.MinDelay),
		MaxDelay: Duration(mc.DefaultBudget.MaxDelay),
	},
	Version: Version{
		Version: gitVersion,
		GitHash: gitHash,
	},
}

// Load returns DefaultConfig overridden by the YAML file at path. A missing
// file is not an error.
func Load(fs afero.Fs, path string) (*Config, error) {
	c := *DefaultConfig
	c.Peripherals = append([]string(nil), DefaultConfig.Peripherals...)
	b, err := afero.ReadFile(fs, path)
	if os.IsNotExist(err) {
		return &c, nil
	}
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(b, &c); err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	if _, err := c.Level(); err != nil {
		return nil, fmt.Errorf("%s: %v", path, err)
	}
	return &c, nil
}

// Budget converts the portal settings for mc.NewPortal.
func (c *Config) Budget() mc.Budget {
	return mc.Budget{
		Polls:    c.Portal.Polls,
		MinDelay: time.Duration(c.Portal.MinDelay),
		MaxDelay: time.Duration(c.Portal.MaxDelay),
	}
}

func (c *Config) Level() (zapcore.Level, error) {
	var l zapcore.Level
	err := l.UnmarshalText([]byte(c.LogLevel))
	return l, err
}

// Enabled reports whether peripherals of class should be set up.
func (c *Config) Enabled(class string) bool {
	if len(c.Peripherals) == 0 {
		return true
	}
	for _, p := range c.Peripherals {
		if p == class {
			return true
		}
	}
	return false
}
