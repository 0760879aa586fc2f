// Copyright 2023 Lizhi Hou. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package config loads the driver configuration for the xdmactl command
// and for embedders that prefer a file over wiring Options by hand.
package config

import (
	"io"
	"os"
	"time"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Duration decodes "10s" style YAML values.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	var s string
	if err := n.Decode(&s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return errors.Wrapf(err, "duration %q", s)
	}
	*d = Duration(v)
	return nil
}

func (d Duration) D() time.Duration { return time.Duration(d) }

// Config mirrors the bring-up options of the xdma and qdma packages plus
// the device paths needed to reach the hardware.
type Config struct {
	// Device is the register window: a UIO map or a PCI BAR resource
	// file, e.g. /sys/bus/pci/devices/0000:03:00.0/resource0.
	Device string `yaml:"device"`
	// Uio is the UIO device node delivering interrupts, e.g. /dev/uio0.
	Uio string `yaml:"uio"`
	// BarOffset is the byte offset of the DMA register space inside
	// the mapped window.
	BarOffset int64 `yaml:"bar_offset"`

	MaxChannels     uint32   `yaml:"max_channels"`
	DescBlocks      int      `yaml:"desc_blocks"`
	TransferTimeout Duration `yaml:"transfer_timeout"`

	Qdma QdmaConfig `yaml:"qdma"`
}

// QdmaConfig covers the multi-queue control plane.
type QdmaConfig struct {
	Qbase        uint32   `yaml:"qbase"`
	Qmax         uint32   `yaml:"qmax"`
	PollInterval Duration `yaml:"poll_interval"`
	PollTimeout  Duration `yaml:"poll_timeout"`
}

// Default returns the configuration matching the hardware defaults.
func Default() *Config {
	return &Config{
		MaxChannels:     4,
		DescBlocks:      128,
		TransferTimeout: Duration(10 * time.Second),
		Qdma: QdmaConfig{
			PollInterval: Duration(10 * time.Microsecond),
			PollTimeout:  Duration(100 * time.Millisecond),
		},
	}
}

// Load reads a YAML config file on top of the defaults.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open config")
	}
	defer f.Close()
	return Read(f)
}

// Read decodes YAML from r on top of the defaults.
func Read(r io.Reader) (*Config, error) {
	c := Default()
	d := yaml.NewDecoder(r)
	d.KnownFields(true)
	if err := d.Decode(c); err != nil {
		if err == io.EOF {
			return c, nil
		}
		return nil, errors.Wrap(err, "decode config")
	}
	if c.Device == "" {
		return nil, errors.New("config: device path required")
	}
	return c, nil
}
