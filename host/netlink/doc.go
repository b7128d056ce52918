// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package netlink implements a listener for Linux kernel uevents, the
// mechanism udev and the kernel use to announce device hotplug, over the
// NETLINK_KOBJECT_UEVENT multicast group. It is the transport the watch
// engine uses to learn about DRM connector hotplug without polling.
//
// See https://www.kernel.org/doc/Documentation/connector/connector.txt for
// background on the netlink socket family this builds on.
package netlink
