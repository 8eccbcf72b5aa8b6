// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devio

import (
	"context"

	log "github.com/golang/glog"
)

// A Style is the pair of handlers a driver table entry dispatches to:
// one for open and close, one for everything else.
type Style interface {
	Opcl(s *Server, c *OpenCall) (Status, error)
	IO(s *Server, caller *Proc, task Endpoint, m *Message) (Status, error)
}

// An OpenCall is an open or close of a special file.
type OpenCall struct {
	Op     Op // DevOpen or DevClose
	Dev    DeviceID
	Proc   Endpoint // process to open or close for
	Flags  int
	Caller *Proc // nil when the server opens for itself
	Fd     int   // descriptor being opened, for clone devices
}

// An Entry binds a major device number to a driver.
type Entry struct {
	Driver Endpoint // None if unbound
	Style  Style
	Label  string
}

func (e *Entry) bound() bool { return e.Driver != None }

var styles = map[string]Style{
	"gen":   GenStyle{},
	"tty":   TTYStyle{},
	"ctty":  CttyStyle{},
	"clone": CloneStyle{},
	"nodev": NoDevStyle{},
}

// A Table is the driver table, indexed by major device number.
type Table struct {
	dmap   [NR_DEVICES]Entry
	devctl chan *Devctl
}

// NewTable returns a table with every major unbound and no handlers.
func NewTable() *Table {
	t := &Table{devctl: make(chan *Devctl)}
	for i := range t.dmap {
		t.dmap[i] = Entry{Driver: None, Style: NoDevStyle{}}
	}
	return t
}

// Lookup returns the entry for major.
// An out of range major selects entry 0.
func (t *Table) Lookup(major int) *Entry {
	if major < 0 || major >= NR_DEVICES {
		major = 0
	}
	return &t.dmap[major]
}

// SetStyle installs the handlers and label for major.
func (t *Table) SetStyle(major int, label string, st Style) Errno {
	if major < 0 || major >= NR_DEVICES {
		return EINVAL
	}
	t.dmap[major].Style = st
	t.dmap[major].Label = label
	return 0
}

// Map binds major to driver ep.
func (t *Table) Map(major int, ep Endpoint) Errno {
	if major < 0 || major >= NR_DEVICES {
		return EINVAL
	}
	if ep == None {
		return EINVAL
	}
	t.dmap[major].Driver = ep
	return 0
}

// Unmap unbinds major.
func (t *Table) Unmap(major int) Errno {
	if major < 0 || major >= NR_DEVICES {
		return EINVAL
	}
	t.dmap[major].Driver = None
	return 0
}

// UnmapByEndpoint unbinds every major served by ep.
func (t *Table) UnmapByEndpoint(ep Endpoint) {
	for i := range t.dmap {
		if t.dmap[i].Driver == ep {
			log.Infof("devio: unmapping major %d from dead driver %d", i, ep)
			t.dmap[i].Driver = None
		}
	}
}

// byEndpoint returns the major served by ep, or -1.
func (t *Table) byEndpoint(ep Endpoint) int {
	for i := range t.dmap {
		if t.dmap[i].bound() && t.dmap[i].Driver == ep {
			return i
		}
	}
	return -1
}

// A DevctlReq is a driver management request.
type DevctlReq int

const (
	DevMap DevctlReq = iota
	DevUnmap
)

// A Devctl is a directive from the driver supervisor:
// a new driver is bound for a major, or a major goes away.
type Devctl struct {
	Req    DevctlReq
	Major  int
	Driver Endpoint

	reply chan Errno
}

// Devctl returns the channel the supervisor's directives arrive on.
func (t *Table) Devctl() <-chan *Devctl {
	return t.devctl
}

// Request posts d to whoever serves the table and waits for the result.
func (t *Table) Request(ctx context.Context, d *Devctl) (Errno, error) {
	d.reply = make(chan Errno, 1)
	select {
	case t.devctl <- d:
	case <-ctx.Done():
		return 0, ctx.Err()
	}
	select {
	case e := <-d.reply:
		return e, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// devctl applies a supervisor directive. Mapping a driver brings
// back the devices that were in use on its major.
func (s *Server) devctl(d *Devctl) error {
	var e Errno
	switch d.Req {
	case DevMap:
		e = s.Dmap.Map(d.Major, d.Driver)
		if e == 0 {
			log.Infof("devio: major %d now served by %d", d.Major, d.Driver)
			if err := s.DevUp(d.Major); err != nil {
				return err
			}
		}
	case DevUnmap:
		e = s.Dmap.Unmap(d.Major)
	default:
		e = EINVAL
	}
	if d.reply != nil {
		d.reply <- e
	}
	return nil
}
