// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devio

// A Transport is the message substrate between the server and drivers.
type Transport interface {
	// SendRec sends m to the task at ep and waits for its reply,
	// which overwrites m. A non-nil error is an Errno.
	SendRec(ep Endpoint, m *Message) error

	// IsOK reports whether ep names a live, current incarnation.
	IsOK(ep Endpoint) bool

	// Notifications delivers the endpoints of drivers that have
	// status pending for the server.
	Notifications() <-chan Endpoint
}

// Grants is the capability interface the server creates grants with.
type Grants interface {
	// GrantMagic lets grantee access size bytes at addr
	// in the memory of process owner.
	GrantMagic(grantee, owner Endpoint, addr Addr, size int, access Access) (GrantID, error)

	// GrantDirect lets grantee access size bytes at addr
	// in the server's own memory.
	GrantDirect(grantee Endpoint, addr Addr, size int, access Access) (GrantID, error)

	// Revoke withdraws g.
	Revoke(g GrantID) error
}

// A Selector is the readiness subsystem. The server only forwards
// driver readiness events to it.
type Selector interface {
	Notified(major, minor int, ops uint32)
}

// A Replier delivers the final status of a revived call to the
// process that was waiting for it.
type Replier interface {
	Revive(p *Proc, status Status)
}

// A FileSystem is the part of the inode and super block layer
// the device code needs.
type FileSystem interface {
	// SuperBlocks returns the mounted file systems.
	SuperBlocks() []*SuperBlock

	// Files returns the in-use entries of the file table.
	Files() []*File

	// AllocInode allocates an in-core inode with the given mode.
	AllocInode(mode uint16) (*Inode, Errno)

	// PutInode releases a reference to ip.
	PutInode(ip *Inode)

	// AllocFile allocates an open file table entry for ip.
	AllocFile(ip *Inode, flags int) *File
}

type nopSelector struct{}

func (nopSelector) Notified(major, minor int, ops uint32) {}

type nopReplier struct{}

func (nopReplier) Revive(p *Proc, status Status) {}
