// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devio

import (
	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
	"lab.nexedi.com/kirr/go123/xerr"
)

// Config describes the driver table at boot.
type Config struct {
	Devices []DeviceConfig `toml:"device"`
}

// A DeviceConfig is one row of the driver table.
type DeviceConfig struct {
	Major  int    `toml:"major"`
	Name   string `toml:"name"`
	Style  string `toml:"style"`  // gen, tty, ctty, clone or nodev
	Driver string `toml:"driver"` // label of the driver task serving it
}

// LoadConfig reads a TOML driver table from path.
func LoadConfig(path string) (_ *Config, err error) {
	defer xerr.Contextf(&err, "load config %s", path)

	var c Config
	if _, err := toml.DecodeFile(path, &c); err != nil {
		return nil, err
	}
	if err := c.check(); err != nil {
		return nil, err
	}
	return &c, nil
}

// ParseConfig parses a TOML driver table.
func ParseConfig(text string) (_ *Config, err error) {
	defer xerr.Context(&err, "parse config")

	var c Config
	if _, err := toml.Decode(text, &c); err != nil {
		return nil, err
	}
	if err := c.check(); err != nil {
		return nil, err
	}
	return &c, nil
}

func (c *Config) check() error {
	seen := make(map[int]string)
	for _, d := range c.Devices {
		if d.Major < 0 || d.Major >= NR_DEVICES {
			return errors.Errorf("device %q: major %d out of range", d.Name, d.Major)
		}
		if name, ok := seen[d.Major]; ok {
			return errors.Errorf("device %q: major %d already used by %q", d.Name, d.Major, name)
		}
		seen[d.Major] = d.Name
		if _, ok := styles[d.Style]; !ok {
			return errors.Errorf("device %q: unknown style %q", d.Name, d.Style)
		}
	}
	return nil
}

// Table returns a driver table with the configured handlers.
// Every major starts unbound; drivers arrive through Map or Devctl.
func (c *Config) Table() *Table {
	t := NewTable()
	for _, d := range c.Devices {
		t.SetStyle(d.Major, d.Driver, styles[d.Style])
	}
	return t
}

// Device returns the configured row named name.
func (c *Config) Device(name string) (DeviceConfig, bool) {
	for _, d := range c.Devices {
		if d.Name == name {
			return d, true
		}
	}
	return DeviceConfig{}, false
}
