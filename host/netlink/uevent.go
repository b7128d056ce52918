// Copyright 2019 The Periph Authors. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

package netlink

import (
	"bytes"
	"context"
	"fmt"
	"strings"
)

// Event is one parsed kernel uevent.
//
// Fields is the full set of KEY=VALUE pairs the kernel sent; Action,
// Subsystem and DevPath are pulled out of it since every caller needs them.
// Connector is derived from DevPath's last path segment when Subsystem is
// "drm", which is where a DRM connector's sysfs directory name
// (e.g. "card0-DP-1") shows up.
type Event struct {
	Action    string
	Subsystem string
	DevPath   string
	Connector string
	Fields    map[string]string
}

// IsDRMConnectorEvent reports whether this event concerns a DRM connector
// rather than the card device itself or an unrelated subsystem.
func (e Event) IsDRMConnectorEvent() bool {
	return e.Subsystem == "drm" && e.Connector != "" && strings.Contains(e.Connector, "-")
}

// parseUevent decodes the kernel's NUL-separated uevent payload.
//
// The wire format is "ACTION@DEVPATH\x00KEY=VALUE\x00KEY=VALUE\x00...".
// The header before the first NUL is redundant with the ACTION and DEVPATH
// fields that follow and is ignored.
func parseUevent(buf []byte) (Event, error) {
	parts := bytes.Split(buf, []byte{0})
	e := Event{Fields: map[string]string{}}
	for _, p := range parts {
		if len(p) == 0 {
			continue
		}
		kv := string(p)
		i := strings.IndexByte(kv, '=')
		if i < 0 {
			// The leading "ACTION@DEVPATH" header; skip it.
			continue
		}
		e.Fields[kv[:i]] = kv[i+1:]
	}
	e.Action = e.Fields["ACTION"]
	e.Subsystem = e.Fields["SUBSYSTEM"]
	e.DevPath = e.Fields["DEVPATH"]
	if e.Action == "" || e.DevPath == "" {
		return Event{}, fmt.Errorf("netlink: malformed uevent payload: %q", buf)
	}
	if i := strings.LastIndexByte(e.DevPath, '/'); i >= 0 && e.Subsystem == "drm" {
		e.Connector = e.DevPath[i+1:]
	}
	return e, nil
}

// Listener receives kernel uevents until its context is canceled or Close is
// called.
type Listener struct {
	sock *ueventSocket
}

// Listen opens a uevent listener. The caller must call Close when done.
func Listen() (*Listener, error) {
	s, err := newUeventSocket()
	if err != nil {
		return nil, err
	}
	return &Listener{sock: s}, nil
}

// Close releases the underlying socket, unblocking any goroutine in Recv.
func (l *Listener) Close() error {
	return l.sock.close()
}

// Recv blocks for the next uevent. It returns ctx.Err() if ctx is canceled
// before an event arrives.
func (l *Listener) Recv(ctx context.Context) (Event, error) {
	type result struct {
		ev  Event
		err error
	}
	done := make(chan result, 1)
	go func() {
		buf := make([]byte, 8192)
		n, err := l.sock.recv(buf)
		if err != nil {
			done <- result{err: err}
			return
		}
		ev, err := parseUevent(buf[:n])
		done <- result{ev: ev, err: err}
	}()
	select {
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case r := <-done:
		return r.ev, r.err
	}
}
