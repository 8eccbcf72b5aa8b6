// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devio

import (
	"fmt"

	log "github.com/golang/glog"
	"github.com/pkg/errors"
)

// GenStyle is the style of an ordinary driver.
type GenStyle struct{}

func (GenStyle) Opcl(s *Server, c *OpenCall) (Status, error) {
	return s.GenOpcl(c)
}

func (GenStyle) IO(s *Server, caller *Proc, task Endpoint, m *Message) (Status, error) {
	return s.genIO(task, m)
}

// GenOpcl performs an open or close as a single call to the driver.
func (s *Server) GenOpcl(c *OpenCall) (Status, error) {
	e := s.Dmap.Lookup(c.Dev.Major())
	m := Message{
		Type:    c.Op,
		Device:  c.Dev.Minor(),
		IOEndpt: c.Proc,
		Grant:   GrantInvalid,
		Count:   c.Flags,
	}
	if !e.bound() {
		log.Warningf("devio: gen_opcl: no driver for dev %v", c.Dev)
		return StatusOf(ENXIO), nil
	}
	r, err := s.genIO(e.Driver, &m)
	if err != nil || r != OK {
		return r, err
	}
	return m.Status, nil
}

// genIO sends m to task and waits for the reply. A dead driver is
// unmapped and its death returned as the status. A reply for some
// other process is reported as EIO. Anything else going wrong with
// the exchange means the substrate is broken.
func (s *Server) genIO(task Endpoint, m *Message) (Status, error) {
	procE := m.IOEndpt

	if log.V(2) {
		log.Infof("devio: -> %d %v", task, m)
	}
	if err := s.Kernel.SendRec(task, m); err != nil {
		var e Errno
		if errors.As(err, &e) && deadPeer(e) {
			log.Errorf("devio: dead driver %d", task)
			s.Dmap.UnmapByEndpoint(task)
			return StatusOf(e), nil
		}
		return 0, fatal(err, fmt.Sprintf("sendrec to %d", task))
	}
	if log.V(2) {
		log.Infof("devio: <- %d %v", task, m)
	}

	/* Did the process we did the sendrec() for get a result? */
	if m.RepEndpt != procE {
		log.Warningf("devio: strange device reply from %d, type = %v, proc = %d (not %d), ignored",
			task, m.Type, m.RepEndpt, procE)
		return StatusOf(EIO), nil
	}
	return OK, nil
}

// NoDevStyle is the style of a major nothing is configured for.
type NoDevStyle struct{}

func (NoDevStyle) Opcl(s *Server, c *OpenCall) (Status, error) {
	return StatusOf(ENODEV), nil
}

func (NoDevStyle) IO(s *Server, caller *Proc, task Endpoint, m *Message) (Status, error) {
	log.Warningf("devio: I/O on unmapped device number")
	return StatusOf(EIO), nil
}
