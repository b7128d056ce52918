// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package i2c defines the I²C bus abstraction used to carry DDC/CI traffic.
//
// A Bus does not address a device the way a generic SMBus register API
// would: DDC/CI sets the slave address once via SetSlaveAddress and then
// issues plain reads and writes of whole packets, so the interface here
// mirrors that two-step contract instead of a combined addr+transaction
// call.
package i2c

import (
	"fmt"
	"io"
)

// Bus defines the interface a concrete I²C driver must implement.
//
// Callers set the slave address once per device and then exchange whole
// frames with Read/Write; the driver is responsible for serializing access
// to the underlying file descriptor across concurrent callers.
type Bus interface {
	fmt.Stringer

	// SetSlaveAddress pins the 7-bit address used by subsequent Read/Write
	// calls until it is changed again.
	SetSlaveAddress(addr uint16) error

	// Write sends b as a single I²C write transaction to the currently
	// selected slave address.
	Write(b []byte) (int, error)

	// Read fills b from a single I²C read transaction against the
	// currently selected slave address.
	Read(b []byte) (int, error)
}

// BusCloser is an I²C bus that can be closed.
type BusCloser interface {
	io.Closer
	Bus
}

// Dev is a device sitting on a bus at a fixed address.
//
// It saves callers from repeatedly calling SetSlaveAddress.
type Dev struct {
	Bus  Bus
	Addr uint16
}

func (d *Dev) String() string {
	return fmt.Sprintf("%s(%#02x)", d.Bus, d.Addr)
}

// Write selects the device's address then writes b.
func (d *Dev) Write(b []byte) (int, error) {
	if err := d.Bus.SetSlaveAddress(d.Addr); err != nil {
		return 0, err
	}
	return d.Bus.Write(b)
}

// Read selects the device's address then reads into b.
func (d *Dev) Read(b []byte) (int, error) {
	if err := d.Bus.SetSlaveAddress(d.Addr); err != nil {
		return 0, err
	}
	return d.Bus.Read(b)
}
