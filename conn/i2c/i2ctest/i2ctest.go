// Copyright 2016 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package i2ctest is meant to be used to test drivers over a fake I²C bus.
package i2ctest

import (
	"bytes"
	"errors"
	"fmt"
	"sync"

	"github.com/ddcutil-go/ddcutil/conn/i2c"
)

// IO registers one transaction that happened on either a real or fake I²C
// bus: the slave address in effect, and whichever of Write/Read was
// exercised.
type IO struct {
	Addr  uint16
	Write []byte
	Read  []byte
}

// Record implements i2c.Bus and records every Write/Read that happened on
// it, optionally passing it through to a wrapped Bus.
//
// This can then be fed to Playback to do "replay" based unit tests.
type Record struct {
	sync.Mutex
	Bus  i2c.Bus // Bus can be nil if only writes are being recorded.
	Ops  []IO
	addr uint16
}

func (r *Record) String() string {
	return "record"
}

// SetSlaveAddress implements i2c.Bus.
func (r *Record) SetSlaveAddress(addr uint16) error {
	r.Lock()
	defer r.Unlock()
	if r.Bus != nil {
		if err := r.Bus.SetSlaveAddress(addr); err != nil {
			return err
		}
	}
	r.addr = addr
	return nil
}

// Write implements i2c.Bus.
func (r *Record) Write(w []byte) (int, error) {
	r.Lock()
	defer r.Unlock()
	if r.Bus != nil {
		if _, err := r.Bus.Write(w); err != nil {
			return 0, err
		}
	}
	io := IO{Addr: r.addr, Write: make([]byte, len(w))}
	copy(io.Write, w)
	r.Ops = append(r.Ops, io)
	return len(w), nil
}

// Read implements i2c.Bus.
func (r *Record) Read(read []byte) (int, error) {
	r.Lock()
	defer r.Unlock()
	if r.Bus == nil {
		return 0, errors.New("i2ctest: read unsupported when no bus is wrapped")
	}
	n, err := r.Bus.Read(read)
	if err != nil {
		return n, err
	}
	io := IO{Addr: r.addr, Read: make([]byte, len(read))}
	copy(io.Read, read)
	r.Ops = append(r.Ops, io)
	return n, nil
}

// Playback implements i2c.Bus and plays back a recorded I/O flow.
//
// While "replay" type of unit tests are of limited value, they still
// present an easy way to do basic code coverage.
type Playback struct {
	sync.Mutex
	Ops  []IO
	addr uint16
}

func (p *Playback) String() string {
	return "playback"
}

// Close implements i2c.BusCloser.
func (p *Playback) Close() error {
	p.Lock()
	defer p.Unlock()
	if len(p.Ops) != 0 {
		return fmt.Errorf("i2ctest: expected playback to be empty:\n%#v", p.Ops)
	}
	return nil
}

// SetSlaveAddress implements i2c.Bus.
func (p *Playback) SetSlaveAddress(addr uint16) error {
	p.Lock()
	defer p.Unlock()
	p.addr = addr
	return nil
}

// Write implements i2c.Bus.
func (p *Playback) Write(w []byte) (int, error) {
	p.Lock()
	defer p.Unlock()
	if len(p.Ops) == 0 {
		return 0, errors.New("i2ctest: unexpected Write()")
	}
	op := p.Ops[0]
	if p.addr != op.Addr {
		return 0, fmt.Errorf("i2ctest: unexpected addr %#02x != %#02x", p.addr, op.Addr)
	}
	if !bytes.Equal(op.Write, w) {
		return 0, fmt.Errorf("i2ctest: unexpected write %#v != %#v", w, op.Write)
	}
	p.Ops = p.Ops[1:]
	return len(w), nil
}

// Read implements i2c.Bus.
func (p *Playback) Read(r []byte) (int, error) {
	p.Lock()
	defer p.Unlock()
	if len(p.Ops) == 0 {
		return 0, errors.New("i2ctest: unexpected Read()")
	}
	op := p.Ops[0]
	if p.addr != op.Addr {
		return 0, fmt.Errorf("i2ctest: unexpected addr %#02x != %#02x", p.addr, op.Addr)
	}
	if len(op.Read) != len(r) {
		return 0, fmt.Errorf("i2ctest: unexpected read buffer length %d != %d", len(r), len(op.Read))
	}
	copy(r, op.Read)
	p.Ops = p.Ops[1:]
	return len(r), nil
}

var _ i2c.Bus = &Record{}
var _ i2c.BusCloser = &Playback{}
