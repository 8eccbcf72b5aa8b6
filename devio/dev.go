// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devio

import (
	log "github.com/golang/glog"
)

// DevOpen opens dev for process proc. Caller is the process doing
// the open system call, if any, and fd the descriptor it is filling in.
func (s *Server) DevOpen(dev DeviceID, proc Endpoint, flags int, caller *Proc, fd int) (Status, error) {
	/* Determine the major device number call the device class specific
	 * open/close routine.  (This is the only routine that must check the
	 * device number for being in range.  All others can trust this check.)
	 */
	e := s.Dmap.Lookup(dev.Major())
	if !e.bound() {
		return StatusOf(ENXIO), nil
	}
	r, err := e.Style.Opcl(s, &OpenCall{
		Op:     DevOpen,
		Dev:    dev,
		Proc:   proc,
		Flags:  flags,
		Caller: caller,
		Fd:     fd,
	})
	if err != nil {
		return 0, err
	}
	if r == Suspend {
		return 0, fatalf("suspend on open from %v", dev)
	}
	return r, nil
}

// DevClose closes dev. A close of an unbound major is ignored.
func (s *Server) DevClose(dev DeviceID, proc Endpoint, caller *Proc) error {
	e := s.Dmap.Lookup(dev.Major())
	if !e.bound() {
		return nil
	}
	_, err := e.Style.Opcl(s, &OpenCall{
		Op:     DevClose,
		Dev:    dev,
		Proc:   proc,
		Caller: caller,
		Fd:     -1,
	})
	return err
}

// CloneStyle is the style of a device that allocates a fresh minor
// on every open, such as a new network connection. The open
// descriptor is rebound to a node for the new minor.
type CloneStyle struct{}

func (cs CloneStyle) Opcl(s *Server, c *OpenCall) (Status, error) {
	e := s.Dmap.Lookup(c.Dev.Major())
	minor := c.Dev.Minor()
	m := Message{
		Type:    c.Op,
		Device:  minor,
		IOEndpt: c.Proc,
		Grant:   GrantInvalid,
		Count:   c.Flags,
	}

	if !e.bound() {
		log.Warningf("devio: clone_opcl: no driver for dev %v", c.Dev)
		return StatusOf(ENXIO), nil
	}
	if !s.Kernel.IsOK(e.Driver) {
		log.Warningf("devio: clone_opcl: old driver for dev %v (%d)", c.Dev, e.Driver)
		return StatusOf(ENXIO), nil
	}

	r, err := s.genIO(e.Driver, &m)
	if err != nil || r != OK {
		return r, err
	}

	if c.Op == DevOpen && m.Status >= 0 {
		if int(m.Status) != minor {
			// A new minor device number has been returned.
			// Create a temporary device file to hold it.
			dev := c.Dev.WithMinor(int(m.Status))
			ip, errno := s.FS.AllocInode(ALL_MODES | I_CHAR_SPECIAL)
			if errno != 0 {
				/* Oops, that didn't work.  Undo open. */
				if _, err := cs.Opcl(s, &OpenCall{Op: DevClose, Dev: dev, Proc: c.Proc, Fd: -1}); err != nil {
					return 0, err
				}
				return StatusOf(errno), nil
			}
			ip.Dev = dev
			if f := c.file(); f != nil {
				s.FS.PutInode(f.Inode)
				f.Inode = ip
			} else {
				s.FS.PutInode(ip)
			}
		}
		m.Status = OK
	}
	return m.Status, nil
}

func (CloneStyle) IO(s *Server, caller *Proc, task Endpoint, m *Message) (Status, error) {
	return s.genIO(task, m)
}

// file returns the open file the call is filling in, if any.
func (c *OpenCall) file() *File {
	if c.Caller == nil || c.Fd < 0 || c.Fd >= NOFILE {
		return nil
	}
	return c.Caller.Files[c.Fd]
}

// DevUp brings back the devices on major after a new driver has been
// mapped in: every file system mounted from it and every special file
// open on it is opened again, once each.
func (s *Server) DevUp(major int) error {
	for _, sb := range s.FS.SuperBlocks() {
		if sb.Dev == NoDev || sb.Dev.Major() != major {
			continue
		}
		minor := sb.Dev.Minor()
		log.Infof("devio: remounting dev %d/%d", major, minor)
		mode := R_BIT | W_BIT
		if sb.ReadOnly {
			mode = R_BIT
		}
		r, err := s.DevOpen(sb.Dev, s.Self, mode, nil, -1)
		if err != nil {
			return err
		}
		if r != OK {
			log.Warningf("devio: mounted dev %d/%d re-open failed: %v", major, minor, r)
		}
	}

	for _, f := range s.FS.Files() {
		ip := f.Inode
		if f.Count < 1 || ip == nil {
			continue
		}
		if ip.Dev.Major() != major || !ip.special() {
			continue
		}
		minor := ip.Dev.Minor()
		log.Infof("devio: reopening special %d/%d", major, minor)

		r, err := s.DevOpen(ip.Dev, s.Self, int(ip.Mode&(R_BIT|W_BIT)), nil, -1)
		if err != nil {
			return err
		}
		if r != OK {
			n := s.invalFilp(f)
			if n != f.Count {
				log.Warningf("devio: invalidate/count discrepancy (%d, %d)", n, f.Count)
			}
			f.Count = 0
			log.Warningf("devio: file on dev %d/%d re-open failed: %v; invalidated %d fd's", major, minor, r, n)
		}
	}
	return nil
}
