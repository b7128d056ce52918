// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package sysfs

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/ddcutil-go/ddcutil/conn/i2c"
	"github.com/ddcutil-go/ddcutil/conn/i2c/i2creg"
)

// OpenWait bounds how long Open retries against EBUSY when WAIT is
// requested. ddcutil observes monitors momentarily hold the bus busy right
// after a mode switch; 3s covers the observed worst case without stalling a
// caller that really has a dead bus.
const OpenWait = 3 * time.Second

// Bus is an open I²C bus via its sysfs/devfs interface, as described at
// https://www.kernel.org/doc/Documentation/i2c/dev-interface.
//
// It is safe for concurrent use; all IOCTLs and reads/writes against the
// underlying file descriptor are serialized by mu, matching the invariant
// that the kernel ordering point for a bus is a single lock.
type Bus struct {
	f         *os.File
	busNumber int

	mu   sync.Mutex
	addr uint16
}

// OpenBus opens an I²C bus via its devfs node.
//
// busNumber is the bus number as exported by the kernel; for /dev/i2c-1,
// busNumber is 1.
//
// If wait is true and the open fails with EBUSY, OpenBus retries for up to
// OpenWait before giving up.
func OpenBus(busNumber int, wait bool) (*Bus, error) {
	if !isLinux {
		return nil, errors.New("sysfs-i2c: not supported on this platform")
	}
	path := fmt.Sprintf("/dev/i2c-%d", busNumber)
	deadline := time.Now().Add(OpenWait)
	for {
		f, err := os.OpenFile(path, os.O_RDWR, 0)
		if err == nil {
			return &Bus{f: f, busNumber: busNumber}, nil
		}
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("sysfs-i2c: bus #%d is not present: %w", busNumber, err)
		}
		if !wait || !errors.Is(err, syscall.EBUSY) || time.Now().After(deadline) {
			return nil, fmt.Errorf("sysfs-i2c: opening bus #%d: %w", busNumber, err)
		}
		time.Sleep(50 * time.Millisecond)
	}
}

// Close closes the handle to the bus. It is not required before process
// termination.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.f == nil {
		return nil
	}
	err := b.f.Close()
	b.f = nil
	return err
}

func (b *Bus) String() string {
	return fmt.Sprintf("I2C%d", b.busNumber)
}

// SetSlaveAddress implements i2c.Bus.
func (b *Bus) SetSlaveAddress(addr uint16) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.addr == addr {
		return nil
	}
	if err := b.ioctl(ioctlSlave, uintptr(addr)); err != nil {
		return fmt.Errorf("sysfs-i2c: set slave address %#02x: %w", addr, err)
	}
	b.addr = addr
	return nil
}

// Write implements i2c.Bus. The slave address must already be set via
// SetSlaveAddress.
func (b *Bus) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := unix.Write(int(b.f.Fd()), p)
	if err != nil {
		return n, fmt.Errorf("sysfs-i2c: write: %w", err)
	}
	return n, nil
}

// Read implements i2c.Bus. The slave address must already be set via
// SetSlaveAddress.
func (b *Bus) Read(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	n, err := unix.Read(int(b.f.Fd()), p)
	if err != nil {
		return n, fmt.Errorf("sysfs-i2c: read: %w", err)
	}
	return n, nil
}

// Fd returns the underlying file descriptor, for components (EDID read,
// capability probing) that need to bypass the i2c.Bus abstraction.
func (b *Bus) Fd() uintptr {
	return b.f.Fd()
}

func (b *Bus) ioctl(op uint, arg uintptr) error {
	return ioctl(b.f.Fd(), op, arg)
}

// i2c-dev IOCTL control codes, from /usr/include/linux/i2c-dev.h.
const (
	ioctlRetries = 0x0701
	ioctlTimeout = 0x0702
	ioctlSlave   = 0x0703
	ioctlTenBits = 0x0704
	ioctlFuncs   = 0x0705
	ioctlRdwr    = 0x0707
)

// EnumerateBuses globs /dev/i2c-* and registers each bus found with
// i2creg, in lexical order of the device paths (/dev/i2c-10 before
// /dev/i2c-2).
//
// Raspbian's udev rules only adjust the ACL of /dev/i2c-* nodes, not
// /sys/bus/i2c/devices/i2c-*, so the devfs glob is the reliable enumeration
// path.
func EnumerateBuses() error {
	if !isLinux {
		return errors.New("sysfs-i2c: not supported on this platform")
	}
	const prefix = "/dev/i2c-"
	items, err := filepath.Glob(prefix + "*")
	if err != nil {
		return err
	}
	sort.Strings(items)
	for _, item := range items {
		bus, err := strconv.Atoi(item[len(prefix):])
		if err != nil {
			continue
		}
		if i2creg.IsRegistered(bus) {
			continue
		}
		bus := bus
		if err := i2creg.Register(fmt.Sprintf("I2C%d", bus), nil, bus, func() (i2c.BusCloser, error) {
			return OpenBus(bus, false)
		}); err != nil {
			return err
		}
	}
	return nil
}

var _ i2c.BusCloser = (*Bus)(nil)
