// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package grant implements a capability grant table: a granter lets
// a grantee read or write a range of some process's memory, and the
// grantee copies through the grant without ever seeing an address.
package grant

import (
	"sync"

	"github.com/johncgriffin/overflow"
	"github.com/pkg/errors"

	"rsc.io/mxdev/devio"
)

var (
	ErrNoGrant = errors.New("grant: no such grant")
	ErrAccess  = errors.New("grant: access denied")
	ErrRange   = errors.New("grant: range out of bounds")
)

// Memory looks up the memory of a process.
type Memory interface {
	Mem(ep devio.Endpoint) ([]byte, bool)
}

type entry struct {
	grantee devio.Endpoint
	owner   devio.Endpoint
	addr    devio.Addr
	size    int
	access  devio.Access
}

// A Table is the grant table of one granter. It implements devio.Grants.
// Grant ids are never reused, so a stale id cannot reach a later grant.
type Table struct {
	granter devio.Endpoint
	mem     Memory

	mu      sync.Mutex
	next    devio.GrantID
	grants  map[devio.GrantID]*entry
	created int
	revoked int
}

// New returns an empty table for granter.
func New(granter devio.Endpoint, mem Memory) *Table {
	return &Table{
		granter: granter,
		mem:     mem,
		grants:  make(map[devio.GrantID]*entry),
	}
}

// checkRange reports whether [off, off+n) lies within [0, size).
func checkRange(off, n int64, size int) bool {
	if off < 0 || n < 0 {
		return false
	}
	end, ok := overflow.Add64(off, n)
	return ok && end <= int64(size)
}

// GrantMagic lets grantee access size bytes at addr in owner's memory.
func (t *Table) GrantMagic(grantee, owner devio.Endpoint, addr devio.Addr, size int, access devio.Access) (devio.GrantID, error) {
	mem, ok := t.mem.Mem(owner)
	if !ok {
		return devio.GrantInvalid, errors.Wrapf(devio.EDEADSRCDST, "grant: owner %d", owner)
	}
	if !checkRange(int64(addr), int64(size), len(mem)) {
		return devio.GrantInvalid, errors.Wrapf(ErrRange, "%d bytes at %#x in %d", size, addr, owner)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	g := t.next
	t.next++
	t.grants[g] = &entry{grantee: grantee, owner: owner, addr: addr, size: size, access: access}
	t.created++
	return g, nil
}

// GrantDirect lets grantee access size bytes at addr in the granter's memory.
func (t *Table) GrantDirect(grantee devio.Endpoint, addr devio.Addr, size int, access devio.Access) (devio.GrantID, error) {
	return t.GrantMagic(grantee, t.granter, addr, size, access)
}

// Revoke withdraws g. Revoking a grant that is not live is an error.
func (t *Table) Revoke(g devio.GrantID) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.grants[g]; !ok {
		return errors.Wrapf(ErrNoGrant, "revoke %d", g)
	}
	delete(t.grants, g)
	t.revoked++
	return nil
}

// lookup returns the memory grantee may touch through g.
func (t *Table) lookup(grantee devio.Endpoint, g devio.GrantID, want devio.Access, off, n int) ([]byte, error) {
	t.mu.Lock()
	e, ok := t.grants[g]
	t.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(ErrNoGrant, "grant %d", g)
	}
	if e.grantee != grantee || e.access&want != want {
		return nil, errors.Wrapf(ErrAccess, "grant %d: %d wants %v, has %v for %d", g, grantee, want, e.access, e.grantee)
	}
	if !checkRange(int64(off), int64(n), e.size) {
		return nil, errors.Wrapf(ErrRange, "grant %d: %d bytes at %d of %d", g, n, off, e.size)
	}
	mem, ok := t.mem.Mem(e.owner)
	if !ok {
		return nil, errors.Wrapf(devio.EDEADSRCDST, "grant %d: owner %d", g, e.owner)
	}
	start := int(e.addr) + off
	return mem[start : start+n], nil
}

// CopyFrom copies from offset off of grant g into dst.
// The grant must be for grantee and allow reading.
func (t *Table) CopyFrom(grantee devio.Endpoint, g devio.GrantID, off int, dst []byte) error {
	b, err := t.lookup(grantee, g, devio.AccessRead, off, len(dst))
	if err != nil {
		return err
	}
	copy(dst, b)
	return nil
}

// CopyTo copies src to offset off of grant g.
// The grant must be for grantee and allow writing.
func (t *Table) CopyTo(grantee devio.Endpoint, g devio.GrantID, off int, src []byte) error {
	b, err := t.lookup(grantee, g, devio.AccessWrite, off, len(src))
	if err != nil {
		return err
	}
	copy(b, src)
	return nil
}

// Size returns the size of grant g as grantee sees it.
func (t *Table) Size(grantee devio.Endpoint, g devio.GrantID) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.grants[g]
	if !ok {
		return 0, errors.Wrapf(ErrNoGrant, "grant %d", g)
	}
	if e.grantee != grantee {
		return 0, errors.Wrapf(ErrAccess, "grant %d not for %d", g, grantee)
	}
	return e.size, nil
}

// Created returns the number of grants made so far.
func (t *Table) Created() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.created
}

// Revoked returns the number of grants revoked so far.
func (t *Table) Revoked() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.revoked
}

// Live returns the number of grants not yet revoked.
func (t *Table) Live() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.grants)
}
