// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

//go:build !linux

package netlink

import "errors"

const isLinux = false

type ueventSocket struct{}

func newUeventSocket() (*ueventSocket, error) {
	return nil, errors.New("netlink: uevent sockets are not supported on this platform")
}

func (*ueventSocket) recv(_ []byte) (int, error) {
	return 0, errors.New("netlink: not implemented")
}

func (*ueventSocket) close() error {
	return errors.New("netlink: not implemented")
}
