// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devio

import (
	log "github.com/golang/glog"
)

// DevIO reads, writes or controls a device on behalf of caller.
// The call may suspend: then DevIO returns Suspend, caller's
// SuspendedCall owns the grant, and the result arrives later
// through the Replier when the driver revives the call.
func (s *Server) DevIO(caller *Proc, r *Request) (Status, error) {
	e := s.Dmap.Lookup(r.Dev.Major())

	if ct, ok := e.Style.(CttyStyle); ok {
		dev, st := ct.resolve(s, caller)
		if st != OK {
			return st, nil
		}
		rr := *r
		rr.Dev = dev
		r = &rr
		e = s.Dmap.Lookup(dev.Major())
	}

	/* See if driver is roughly valid. */
	if !e.bound() {
		log.Warningf("devio: dev_io: no driver for dev %v", r.Dev)
		return StatusOf(ENXIO), nil
	}
	if !s.Kernel.IsOK(e.Driver) {
		log.Warningf("devio: dev_io: old driver for dev %v (%d)", r.Dev, e.Driver)
		return StatusOf(ENXIO), nil
	}
	driver := e.Driver

	var m Message
	sio, safe, err := s.safeIOConversion(driver, r, &m)
	if err != nil {
		return 0, err
	}
	m.Device = r.Dev.Minor()
	m.HighPos = 0

	// This will be used if the I/O is suspended.
	ioproc := m.IOEndpt

	st, err := e.Style.IO(s, caller, driver, &m)
	if err != nil {
		return 0, err
	}
	if !e.bound() || st != OK {
		if !e.bound() {
			log.Warningf("devio: dev_io: driver %d for dev %v gone", driver, r.Dev)
			st = StatusOf(EIO)
		}
		if safe {
			if err := s.safeIOCleanup(sio); err != nil {
				return 0, err
			}
		}
		return st, nil
	}

	if m.Status == Suspend {
		if sio.vecGrants > 0 {
			return 0, fatalf("SUSPEND on vectored i/o from %d", driver)
		}
		if caller == nil {
			return 0, fatalf("SUSPEND from %d with no caller", driver)
		}
		if r.Flags&O_NONBLOCK == 0 {
			if err := s.suspend(caller, Kernel(driver), sio.gid, ioproc, r); err != nil {
				return 0, err
			}
			return Suspend, nil
		}

		/* Not supposed to block. */
		cm := Message{
			Type:    Cancel,
			Device:  r.Dev.Minor(),
			IOEndpt: ioproc,
			Grant:   sio.gid,
			Count:   cancelRole(r.Call),
		}
		st, err := e.Style.IO(s, caller, driver, &cm)
		if err != nil {
			return 0, err
		}
		m.Status = cm.Status
		if st != OK {
			m.Status = st
		}
		if m.Status == StatusOf(EINTR) {
			m.Status = StatusOf(EAGAIN)
		}
	}

	/* No suspend, or cancelled suspend, so I/O is over and can be cleaned up. */
	if safe {
		if err := s.safeIOCleanup(sio); err != nil {
			return 0, err
		}
	}
	return m.Status, nil
}

// cancelRole is the COUNT of a cancellation: which half of the
// device the cancelled call was using.
func cancelRole(call CallNr) int {
	switch call {
	case READ:
		return R_BIT
	case WRITE:
		return W_BIT
	}
	return 0
}

// suspend parks caller on task. The grant, if any, now belongs to
// the SuspendedCall.
func (s *Server) suspend(caller *Proc, task TaskRef, g GrantID, ioproc Endpoint, r *Request) error {
	if caller.Suspended != nil {
		return fatalf("process %d already suspended on %v", caller.Endpoint, caller.Suspended.Task)
	}
	if g.Valid() {
		for _, p := range s.Procs {
			if sc := p.Suspended; sc != nil && sc.Task == task && sc.Grant == g {
				return fatalf("grant %d on %v already held by process %d", g, task, p.Endpoint)
			}
		}
	}
	caller.Suspended = &SuspendedCall{
		Task:   task,
		Grant:  g,
		IOProc: ioproc,
		Call:   r.Call,
		Dev:    r.Dev,
	}
	return nil
}

// Cancel cancels the call p is suspended on, as when p is
// interrupted by a signal or exits. The grant is revoked here;
// a revival that arrives later finds no one waiting and is dropped.
// Cancel returns the driver's verdict on the call, EINTR unless
// the driver had already finished it.
func (s *Server) Cancel(p *Proc) (Status, error) {
	sc := p.Suspended
	if sc == nil || sc.Task.Kind != KernelTask {
		return OK, nil
	}
	st := StatusOf(EINTR)
	if s.Dmap.byEndpoint(sc.Task.Ep) >= 0 && s.Kernel.IsOK(sc.Task.Ep) {
		m := Message{
			Type:    Cancel,
			Device:  sc.Dev.Minor(),
			IOEndpt: sc.IOProc,
			Grant:   sc.Grant,
			Count:   cancelRole(sc.Call),
		}
		r, err := s.genIO(sc.Task.Ep, &m)
		if err != nil {
			return 0, err
		}
		if r == OK && m.Status != Suspend {
			st = m.Status
		}
	}
	p.Suspended = nil
	if sc.Grant.Valid() {
		if err := s.Grants.Revoke(sc.Grant); err != nil {
			return 0, fatal(err, "revoke on cancel")
		}
	}
	return st, nil
}

// Ioctl performs the ioctl system call for p.
func (s *Server) Ioctl(p *Proc, fd int, req uint32, addr Addr) (Status, error) {
	f := s.getf(p, fd)
	if f == nil {
		return StatusOf(EBADF), nil
	}
	ip := f.Inode
	if !ip.special() {
		return StatusOf(ENOTTY), nil
	}
	return s.DevIO(p, &Request{
		Op:    DevIoctl,
		Dev:   ip.Dev,
		Proc:  p.Endpoint,
		Buf:   addr,
		Ioctl: req,
		Flags: f.Flags,
		Call:  IOCTL,
	})
}
