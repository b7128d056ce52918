// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// ddcctl is a thin smoke-test front end over the DDC/CI core: enough to
// list displays and read/write one VCP feature from a shell, not a
// replacement for a real monitor-control CLI.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strconv"

	"github.com/ddcutil-go/ddcutil/conn/i2c"
	"github.com/ddcutil-go/ddcutil/conn/i2c/i2creg"
	"github.com/ddcutil-go/ddcutil/ddcci"
	"github.com/ddcutil-go/ddcutil/ddcci/errcode"
	"github.com/ddcutil-go/ddcutil/ddcctx"
	"github.com/ddcutil-go/ddcutil/display"
	"github.com/ddcutil-go/ddcutil/host/netlink"
	"github.com/ddcutil-go/ddcutil/host/sysfs"
	"github.com/ddcutil-go/ddcutil/watch"
)

func mainImpl() error {
	verbose := flag.Bool("v", false, "verbose mode")
	index := flag.Int("i", -1, "display index to address; required for getvcp/setvcp/capabilities")
	feature := flag.String("f", "", "VCP feature code in hex, e.g. 10 for brightness")
	flag.Parse()
	if !*verbose {
		log.SetOutput(io.Discard)
	}
	log.SetFlags(log.Lmicroseconds)

	if flag.NArg() == 0 {
		return errors.New("specify a command: detect, getvcp, setvcp, capabilities, watch")
	}
	cmd := flag.Arg(0)

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	sys := ddcctx.NewSystemContext(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	reg := display.NewRegistry(openDisplayBus)
	ctx := context.Background()

	if cmd == "watch" {
		return runWatch(ctx, reg, sys)
	}

	buses, err := scanBuses()
	if err != nil {
		return err
	}

	switch cmd {
	case "detect":
		if _, err := reg.DetectAll(ctx, buses); err != nil {
			return err
		}
		for _, ref := range reg.Snapshot() {
			fmt.Printf("display %d: bus=%d state=%s manufacturer=%s name=%q\n",
				ref.Index, busNumber(ref), ref.State(), ref.EDID.Manufacturer, ref.EDID.Name)
		}
		return nil

	case "getvcp", "setvcp", "capabilities":
		if _, err := reg.DetectAll(ctx, buses); err != nil {
			return err
		}
		ref, ok := reg.ByIndex(*index)
		if !ok {
			return errcode.New(errcode.Arg, "ddcctl", fmt.Sprintf("no display with index %d", *index))
		}
		handle, err := reg.Open(ref)
		if err != nil {
			return err
		}
		defer handle.Close(reg)
		return runCommand(ctx, cmd, handle, *feature, flag.Args()[1:])

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func runCommand(ctx context.Context, cmd string, handle *display.DisplayHandle, featureArg string, rest []string) error {
	switch cmd {
	case "capabilities":
		caps, err := handle.Engine.GetCapabilities(ctx)
		if err != nil {
			return err
		}
		fmt.Println(caps)
		return nil

	case "getvcp":
		fc, err := parseFeatureCode(featureArg)
		if err != nil {
			return err
		}
		val, err := handle.Engine.GetVCPFeature(ctx, fc)
		if err != nil {
			return err
		}
		fmt.Printf("feature %#02x: current=%d max=%d\n", val.FeatureCode, val.Current, val.Max)
		return nil

	case "setvcp":
		fc, err := parseFeatureCode(featureArg)
		if err != nil {
			return err
		}
		if len(rest) != 1 {
			return errors.New("setvcp requires exactly one value argument")
		}
		v, err := strconv.ParseUint(rest[0], 10, 16)
		if err != nil {
			return fmt.Errorf("invalid value %q: %w", rest[0], err)
		}
		return handle.Engine.SetVCPFeature(ctx, fc, uint16(v))

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func parseFeatureCode(s string) (byte, error) {
	if s == "" {
		return 0, errors.New("-f is required")
	}
	n, err := strconv.ParseUint(s, 16, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid feature code %q: %w", s, err)
	}
	return byte(n), nil
}

func busNumber(ref *display.DisplayRef) int {
	if ref.Bus == nil {
		return -1
	}
	return ref.Bus.Number
}

// scanBuses enumerates /dev/i2c-* via the sysfs bus registry, probes each
// one for a readable EDID at the standard 0x50 address, and reports the
// candidates the Display Registry should attempt to adopt. A bus without
// a valid EDID is reported with BusHasEDID unset rather than omitted, so
// callers can still see it was present.
func scanBuses() ([]*display.BusInfo, error) {
	if err := sysfs.EnumerateBuses(); err != nil {
		return nil, err
	}
	var out []*display.BusInfo
	for _, ref := range i2creg.All() {
		if ref.Number < 0 {
			continue
		}
		info := &display.BusInfo{Number: ref.Number, Flags: display.BusExists}
		if edid, err := readBusEDID(ref); err == nil {
			if parsed, perr := display.ParseEDID(edid); perr == nil {
				info.EDID = parsed
				info.Flags |= display.BusAccessible | display.BusHasEDID
			}
		}
		out = append(out, info)
	}
	return out, nil
}

// readBusEDID opens the bus, reads the 128-byte EDID block at the
// standard 0x50 address, and closes it again; the bus spends almost all
// of its life closed, opened only for this probe and later for the
// registry's own bootstrap probe and caller-opened handles.
func readBusEDID(ref *i2creg.Ref) ([]byte, error) {
	bus, err := ref.Open()
	if err != nil {
		return nil, err
	}
	defer bus.Close()
	dev := &i2c.Dev{Bus: bus, Addr: ddcci.SlaveAddrEDID}
	buf := make([]byte, display.EDIDSize)
	if _, err := dev.Read(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// runWatch drives the watch engine until ctx is canceled or the wakeup
// source/scanner reports a fatal error, printing each connect/disconnect/
// DPMS transition as it is emitted. A failed netlink listener (e.g. no
// permission to open a raw socket) falls back to poll-only operation
// rather than refusing to start.
func runWatch(ctx context.Context, reg *display.Registry, sys *ddcctx.SystemContext) error {
	var wakeups watch.WakeupSource
	if listener, err := netlink.Listen(); err != nil {
		sys.Logger.Warn("ddcctl: netlink unavailable, falling back to polling", "err", err)
	} else {
		defer listener.Close()
		wakeups = &watch.NetlinkSource{Listener: listener}
	}

	scan := func(ctx context.Context) ([]*display.BusInfo, error) {
		buses, err := scanBuses()
		if err != nil {
			return nil, err
		}
		withEDID := buses[:0]
		for _, b := range buses {
			if b.Flags.Has(display.BusHasEDID) {
				withEDID = append(withEDID, b)
			}
		}
		return withEDID, nil
	}
	eng := watch.NewEngine(reg, scan, readConnectorDPMS, wakeups, watch.DefaultConfig(), sys.Logger)

	events := make(chan watch.Event, 16)
	done := make(chan error, 1)
	go func() { done <- eng.Run(ctx, events) }()

	for {
		select {
		case ev := <-events:
			fmt.Printf("%s: display %d (bus %d)\n", ev.Kind, ev.Ref.Index, busNumber(ev.Ref))
		case err := <-done:
			return err
		}
	}
}

// readConnectorDPMS reads a DRM connector's dpms sysfs attribute for the
// watch engine's DPMS-flip check.
func readConnectorDPMS(connector string) (string, error) {
	c, err := sysfs.ReadConnector(connector)
	if err != nil {
		return "", err
	}
	return c.DPMS, nil
}

// openDisplayBus is the Registry's Opener: it binds a fresh bus handle to
// the DDC/CI slave address and hands back the engine-facing Transport
// plus the closer that releases the underlying file descriptor.
func openDisplayBus(busNumber int) (ddcci.Transport, func() error, error) {
	bus, err := sysfs.OpenBus(busNumber, false)
	if err != nil {
		return nil, nil, err
	}
	return &i2c.Dev{Bus: bus, Addr: ddcci.SlaveAddrDDC}, bus.Close, nil
}

func main() {
	if err := mainImpl(); err != nil {
		fmt.Fprintf(os.Stderr, "ddcctl: %s.\n", err)
		os.Exit(errcode.ExitCode(err))
	}
}
