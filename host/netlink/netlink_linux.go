// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package netlink

import (
	"fmt"

	"golang.org/x/sys/unix"
)

const isLinux = true

// ueventSocket is a netlink socket joined to the kobject-uevent multicast
// group, the group the kernel broadcasts hotplug add/remove/change events
// on for every subsystem, DRM connectors included.
type ueventSocket struct {
	fd int
}

// newUeventSocket opens and binds a netlink socket to the kobject-uevent
// multicast group.
func newUeventSocket() (*ueventSocket, error) {
	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM, unix.NETLINK_KOBJECT_UEVENT)
	if err != nil {
		return nil, fmt.Errorf("netlink: open uevent socket: %w", err)
	}
	addr := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: 1, Pid: uint32(unix.Getpid())}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("netlink: bind uevent socket: %w", err)
	}
	return &ueventSocket{fd: fd}, nil
}

// recv reads at most len(buf) bytes from the socket into buf, blocking until
// a datagram arrives.
func (s *ueventSocket) recv(buf []byte) (int, error) {
	n, _, err := unix.Recvfrom(s.fd, buf, 0)
	if err != nil {
		return 0, fmt.Errorf("netlink: recv: %w", err)
	}
	return n, nil
}

// close closes the socket. Any goroutine blocked in recv is unblocked with
// an error.
func (s *ueventSocket) close() error {
	fd := s.fd
	s.fd = -1
	return unix.Close(fd)
}
