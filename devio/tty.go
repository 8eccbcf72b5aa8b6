// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devio

import (
	log "github.com/golang/glog"
)

// TTYStyle is the style of a terminal driver. Opening a terminal
// can make it the controlling tty of the opener.
type TTYStyle struct{}

func (TTYStyle) Opcl(s *Server, c *OpenCall) (Status, error) {
	fp := c.Caller
	cc := *c

	// Add O_NOCTTY to the flags if this process is not a session leader,
	// or if it already has a controlling tty, or if it is someone else's
	// controlling tty.
	if fp == nil || !fp.Sesldr || fp.TTY != NoDev {
		cc.Flags |= O_NOCTTY
	} else {
		for _, p := range s.Procs {
			if p.TTY == c.Dev {
				cc.Flags |= O_NOCTTY
			}
		}
	}

	r, err := s.GenOpcl(&cc)
	if err != nil {
		return 0, err
	}

	/* Did this call make the tty the controlling tty? */
	if r == 1 && c.Op == DevOpen {
		if fp != nil {
			fp.TTY = c.Dev
		}
		r = OK
	}
	return r, nil
}

func (TTYStyle) IO(s *Server, caller *Proc, task Endpoint, m *Message) (Status, error) {
	return s.genIO(task, m)
}

// CttyStyle is the style of /dev/tty, the alias that stands for
// the controlling tty of whoever uses it.
type CttyStyle struct{}

func (CttyStyle) Opcl(s *Server, c *OpenCall) (Status, error) {
	if c.Caller == nil || c.Caller.TTY == NoDev {
		return StatusOf(ENXIO), nil
	}
	return OK, nil
}

// IO redirects m to the controlling tty of caller.
// With no controlling tty the call completes with EIO
// without going anywhere.
func (ct CttyStyle) IO(s *Server, caller *Proc, task Endpoint, m *Message) (Status, error) {
	dev, st := ct.resolve(s, caller)
	if st != OK {
		m.Status = st
		m.RepEndpt = m.IOEndpt
		return OK, nil
	}
	m.Device = dev.Minor()
	e := s.Dmap.Lookup(dev.Major())
	return s.genIO(e.Driver, m)
}

// resolve returns the controlling tty of caller, provided its driver
// is there to talk to.
func (CttyStyle) resolve(s *Server, caller *Proc) (DeviceID, Status) {
	if caller == nil || caller.TTY == NoDev {
		/* No controlling tty present anymore, return an I/O error. */
		return NoDev, StatusOf(EIO)
	}
	e := s.Dmap.Lookup(caller.TTY.Major())
	if !e.bound() {
		log.Warningf("devio: ctty_io: no driver for dev %v", caller.TTY)
		return NoDev, StatusOf(EIO)
	}
	if !s.Kernel.IsOK(e.Driver) {
		log.Warningf("devio: ctty_io: old driver %d", e.Driver)
		return NoDev, StatusOf(EIO)
	}
	return caller.TTY, OK
}

// Setsid performs the server side of setsid for process ep:
// ep loses its controlling tty and becomes a session leader.
func (s *Server) Setsid(ep Endpoint) error {
	p := s.lookup(ep)
	if p == nil {
		return fatalf("setsid: no process with endpoint %d", ep)
	}
	p.Sesldr = true
	p.TTY = NoDev
	return nil
}
