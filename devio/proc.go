// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devio

import (
	"github.com/pkg/errors"
)

// A Proc is the server's view of a user process.
type Proc struct {
	Endpoint  Endpoint
	Pid       int
	Sesldr    bool           // session leader
	TTY       DeviceID       // controlling tty, NoDev if none
	Suspended *SuspendedCall // call waiting on a driver
	Files     [NOFILE]*File  // fd table
}

// A SuspendedCall records a driver call that replied Suspend.
// It owns Grant until the call is revived or cancelled.
type SuspendedCall struct {
	Task   TaskRef  // what the process waits on
	Grant  GrantID  // revoke when unsuspended
	IOProc Endpoint // process the driver was told to do the I/O for
	Call   CallNr
	Dev    DeviceID
}

type Server struct {
	Self   Endpoint
	Mem    []byte // the server's own memory
	Kernel Transport
	Grants Grants
	Dmap   *Table
	FS     FileSystem
	Select Selector
	Reply  Replier
	Procs  []*Proc

	arena vecArena
}

// NewServer returns a server that runs as endpoint self with memory mem.
// The top of mem is reserved for the shadow vector of vectored transfers.
func NewServer(self Endpoint, mem []byte, k Transport, g Grants, t *Table, fs FileSystem) (*Server, error) {
	const n = NR_IOREQS * IOVecSize
	if len(mem) < n {
		return nil, errors.Errorf("devio: server memory too small: %d bytes, need %d", len(mem), n)
	}
	s := &Server{
		Self:   self,
		Mem:    mem,
		Kernel: k,
		Grants: g,
		Dmap:   t,
		FS:     fs,
		Select: nopSelector{},
		Reply:  nopReplier{},
	}
	s.arena.base = Addr(len(mem) - n)
	s.arena.mem = mem[len(mem)-n:]
	return s, nil
}

// AddProc enters a process into the process table.
func (s *Server) AddProc(ep Endpoint, pid int) (*Proc, Errno) {
	if len(s.Procs) >= NR_PROCS {
		return nil, EAGAIN
	}
	p := &Proc{Endpoint: ep, Pid: pid}
	s.Procs = append(s.Procs, p)
	return p, 0
}

func (s *Server) lookup(ep Endpoint) *Proc {
	for _, p := range s.Procs {
		if p.Endpoint == ep {
			return p
		}
	}
	return nil
}

// Lookup returns the process with endpoint ep, or nil.
func (s *Server) Lookup(ep Endpoint) *Proc {
	return s.lookup(ep)
}

// Exit tears down p: a call it has suspended on a driver is cancelled,
// its files are closed and it leaves the process table.
func (s *Server) Exit(p *Proc) error {
	if p.Suspended != nil {
		if _, err := s.Cancel(p); err != nil {
			return err
		}
	}
	for fd := range p.Files {
		if p.Files[fd] != nil {
			if _, err := s.Close(p, fd); err != nil {
				return err
			}
		}
	}
	for i, p1 := range s.Procs {
		if p1 == p {
			s.Procs = append(s.Procs[:i], s.Procs[i+1:]...)
			break
		}
	}
	return nil
}

// invalFilp clears every fd slot that refers to f and returns
// how many it cleared.
func (s *Server) invalFilp(f *File) int {
	n := 0
	for _, p := range s.Procs {
		for fd, f1 := range p.Files {
			if f1 == f {
				p.Files[fd] = nil
				n++
			}
		}
	}
	return n
}
