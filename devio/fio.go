// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devio

/*
 * Convert a user supplied
 * file descriptor into a pointer
 * to a file structure.
 */
func (s *Server) getf(p *Proc, fd int) *File {
	if fd < 0 || fd >= len(p.Files) {
		return nil
	}
	return p.Files[fd]
}

/*
 * Allocate a user file descriptor.
 */
func (s *Server) ufalloc(p *Proc) int {
	for fd, f := range p.Files {
		if f == nil {
			return fd
		}
	}
	return -1
}

// Open opens the special file ip for p and returns the descriptor.
// The reference to ip passes to the open file; if the open fails
// it is released.
func (s *Server) Open(p *Proc, ip *Inode, flags int) (int, Status, error) {
	fd := s.ufalloc(p)
	if fd < 0 {
		s.FS.PutInode(ip)
		return -1, StatusOf(EMFILE), nil
	}
	if !ip.special() {
		s.FS.PutInode(ip)
		return -1, StatusOf(ENODEV), nil
	}
	f := s.FS.AllocFile(ip, flags)
	p.Files[fd] = f

	mode := R_BIT
	switch flags & 3 {
	case O_WRONLY:
		mode = W_BIT
	case O_RDWR:
		mode = R_BIT | W_BIT
	}
	r, err := s.DevOpen(ip.Dev, p.Endpoint, mode|flags&^3, p, fd)
	if err != nil {
		return -1, 0, err
	}
	if r != OK {
		p.Files[fd] = nil
		f.Count = 0
		s.FS.PutInode(f.Inode)
		return -1, r, nil
	}
	return fd, OK, nil
}

/*
 * Internal form of close.
 * Decrement reference count on
 * file structure and close the
 * device on the last close of
 * its inode.
 */
func (s *Server) closef(p *Proc, f *File) error {
	if f.Count <= 1 {
		ip := f.Inode
		if ip.Count <= 1 && ip.special() {
			if err := s.DevClose(ip.Dev, p.Endpoint, p); err != nil {
				return err
			}
		}
		s.FS.PutInode(ip)
	}
	f.Count--
	return nil
}

// Close closes descriptor fd of p.
func (s *Server) Close(p *Proc, fd int) (Errno, error) {
	f := s.getf(p, fd)
	if f == nil {
		return EBADF, nil
	}
	p.Files[fd] = nil
	return 0, s.closef(p, f)
}

// Dup makes a new descriptor for the file open as fd.
func (s *Server) Dup(p *Proc, fd int) (int, Errno) {
	f := s.getf(p, fd)
	if f == nil {
		return -1, EBADF
	}
	nfd := s.ufalloc(p)
	if nfd < 0 {
		return -1, EMFILE
	}
	p.Files[nfd] = f
	f.Count++
	return nfd, 0
}

// Read reads n bytes at addr in p's memory from the file open as fd.
func (s *Server) Read(p *Proc, fd int, addr Addr, n int) (Status, error) {
	return s.rdwr(p, fd, addr, n, DevRead, READ)
}

// Write writes n bytes from addr in p's memory to the file open as fd.
func (s *Server) Write(p *Proc, fd int, addr Addr, n int) (Status, error) {
	return s.rdwr(p, fd, addr, n, DevWrite, WRITE)
}

func (s *Server) rdwr(p *Proc, fd int, addr Addr, n int, op Op, call CallNr) (Status, error) {
	f := s.getf(p, fd)
	if f == nil {
		return StatusOf(EBADF), nil
	}
	if n < 0 {
		return StatusOf(EINVAL), nil
	}
	if n == 0 {
		return OK, nil
	}
	r, err := s.DevIO(p, &Request{
		Op:    op,
		Dev:   f.Inode.Dev,
		Proc:  p.Endpoint,
		Buf:   addr,
		Pos:   f.Pos,
		Bytes: n,
		Flags: f.Flags,
		Call:  call,
	})
	if err != nil {
		return 0, err
	}
	if r > 0 {
		f.Pos += int64(r)
	}
	return r, nil
}
