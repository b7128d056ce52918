// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sysfs

import (
	"bytes"
	"fmt"
	"os"
	"strings"
)

// ConnectorStatus is the value of a DRM connector's "status" sysfs
// attribute.
type ConnectorStatus string

// Known connector status values.
const (
	StatusConnected    ConnectorStatus = "connected"
	StatusDisconnected ConnectorStatus = "disconnected"
	StatusUnknown      ConnectorStatus = "unknown"
)

// Connector describes the state of one DRM connector as read from
// /sys/class/drm/<name>/.
type Connector struct {
	Name    string
	Status  ConnectorStatus
	Enabled bool
	DPMS    string
	EDID    []byte
}

const drmRoot = "/sys/class/drm/"

// ListConnectors globs /sys/class/drm/ for connector directories and reads
// their status, enabled, dpms and edid attributes.
//
// A connector without an EDID (nothing plugged in) yields a Connector with a
// nil EDID rather than an error; only I/O failures on the attribute files
// themselves are reported.
func ListConnectors() ([]Connector, error) {
	entries, err := os.ReadDir(drmRoot)
	if err != nil {
		return nil, fmt.Errorf("sysfs-drm: listing %s: %w", drmRoot, err)
	}
	var out []Connector
	for _, e := range entries {
		name := e.Name()
		if !strings.Contains(name, "-") {
			// Skip cardN itself; connectors are named cardN-<type>-<id>.
			continue
		}
		c, err := ReadConnector(name)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// ReadConnector reads the status, enabled, dpms and edid attributes of a
// single connector by its sysfs directory name (e.g. "card0-DP-1").
func ReadConnector(name string) (Connector, error) {
	dir := drmRoot + name + "/"
	c := Connector{Name: name, Status: StatusUnknown}

	status, err := readAttr(dir + "status")
	if err != nil {
		return c, err
	}
	switch ConnectorStatus(status) {
	case StatusConnected, StatusDisconnected:
		c.Status = ConnectorStatus(status)
	default:
		c.Status = StatusUnknown
	}

	if enabled, err := readAttr(dir + "enabled"); err == nil {
		c.Enabled = enabled == "enabled"
	}

	if dpms, err := readAttr(dir + "dpms"); err == nil {
		c.DPMS = dpms
	}

	if c.Status == StatusConnected {
		edid, err := readEDID(dir + "edid")
		if err != nil {
			return c, err
		}
		c.EDID = edid
	}
	return c, nil
}

// readAttr reads a small text sysfs attribute file, trimming the trailing
// newline the kernel always appends.
func readAttr(path string) (string, error) {
	f, err := fileIOOpen(path, os.O_RDONLY)
	if err != nil {
		return "", fmt.Errorf("sysfs-drm: open %s: %w", path, err)
	}
	defer f.Close()
	var buf [256]byte
	n, err := seekRead(f, buf[:])
	if err != nil && n == 0 {
		return "", fmt.Errorf("sysfs-drm: read %s: %w", path, err)
	}
	return strings.TrimSpace(string(buf[:n])), nil
}

// readEDID reads the raw EDID blob exposed by the connector; it is empty
// (zero length) when no display is attached, which is not an error.
func readEDID(path string) ([]byte, error) {
	f, err := fileIOOpen(path, os.O_RDONLY)
	if err != nil {
		return nil, fmt.Errorf("sysfs-drm: open %s: %w", path, err)
	}
	defer f.Close()
	buf := make([]byte, 32*1024)
	n, err := seekRead(f, buf)
	if err != nil && n == 0 {
		return nil, fmt.Errorf("sysfs-drm: read %s: %w", path, err)
	}
	return bytes.TrimRight(buf[:n], "\x00"), nil
}
