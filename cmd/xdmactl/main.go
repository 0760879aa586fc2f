// Copyright 2023 Lizhi Hou. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Xdmactl probes a DMA subsystem behind a mapped register window, lists
// the discovered channels, and can program the multi-queue function map.
//
//	xdmactl -device /sys/bus/pci/devices/0000:03:00.0/resource0
//	xdmactl -config xdma.yaml -qdma
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/platinasystems/log"

	"github.com/houlz0507/xdma-go/config"
	"github.com/houlz0507/xdma-go/dma"
	"github.com/houlz0507/xdma-go/hw"
	"github.com/houlz0507/xdma-go/qdma"
	"github.com/houlz0507/xdma-go/xdma"
)

func main() {
	var (
		cfgPath = flag.String("config", "", "YAML config file")
		device  = flag.String("device", "", "register window (BAR resource or UIO map)")
		offset  = flag.Int64("offset", 0, "byte offset of the DMA registers in the window")
		doQdma  = flag.Bool("qdma", false, "bring up the multi-queue control plane")
	)
	flag.Parse()

	if err := run(*cfgPath, *device, *offset, *doQdma); err != nil {
		log.Print("xdmactl: ", err)
		os.Exit(1)
	}
}

func run(cfgPath, device string, offset int64, doQdma bool) error {
	cfg := config.Default()
	if cfgPath != "" {
		var err error
		if cfg, err = config.Load(cfgPath); err != nil {
			return err
		}
	}
	if device != "" {
		cfg.Device = device
	}
	if offset != 0 {
		cfg.BarOffset = offset
	}
	if cfg.Device == "" {
		return fmt.Errorf("no device; use -device or -config")
	}

	mem, err := hw.Map(cfg.Device, cfg.BarOffset, xdma.RegSpaceLen)
	if err != nil {
		return err
	}
	defer mem.Unmap()

	// Discovery only needs somewhere to lay descriptor blocks out; an
	// anonymous arena serves until a bus-visible region is wired in.
	arena, err := dma.AnonArena(2<<20, 0)
	if err != nil {
		return err
	}
	defer arena.Free()

	dev, err := xdma.New(mem, arena, xdma.Options{
		MaxChannels:     cfg.MaxChannels,
		DescBlocks:      cfg.DescBlocks,
		TransferTimeout: cfg.TransferTimeout.D(),
	})
	if err != nil {
		return err
	}
	defer dev.Close()
	fmt.Printf("%s: %d h2c, %d c2h channels\n",
		cfg.Device, dev.Channels(xdma.H2C), dev.Channels(xdma.C2H))

	if !doQdma {
		return nil
	}
	q, err := qdma.New(mem, qdma.Options{
		Qbase:        cfg.Qdma.Qbase,
		Qmax:         cfg.Qdma.Qmax,
		PollInterval: cfg.Qdma.PollInterval.D(),
		PollTimeout:  cfg.Qdma.PollTimeout.D(),
	})
	if err != nil {
		return err
	}
	fmt.Printf("qdma: function %d, %d queues max\n", q.FuncID(), q.MaxQueues())
	if cfg.Qdma.Qmax != 0 {
		f, err := q.ReadFmap(q.FuncID())
		if err != nil {
			return err
		}
		fmt.Printf("fmap: qbase %d qmax %d\n", f.Qbase, f.Qmax)
	}
	return nil
}
