// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devio

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupClamp(t *testing.T) {
	tab := NewTable()
	require.Same(t, tab.Lookup(0), tab.Lookup(NR_DEVICES))
	require.Same(t, tab.Lookup(0), tab.Lookup(NR_DEVICES+3))
	require.Same(t, tab.Lookup(0), tab.Lookup(-1))
	require.NotSame(t, tab.Lookup(0), tab.Lookup(NR_DEVICES-1))
}

func TestReadWriteGrants(t *testing.T) {
	ts := newTestServer(t)
	p := ts.proc(t, 100)
	fd := ts.open(t, p, MakeDev(memMajor, 2), O_RDWR)

	st, err := ts.Read(p, fd, 0x100, 10)
	require.NoError(t, err)
	require.Equal(t, Status(10), st)
	require.Equal(t, int64(10), p.Files[fd].Pos)

	st, err = ts.Write(p, fd, 0x200, 7)
	require.NoError(t, err)
	require.Equal(t, Status(7), st)
	require.Equal(t, int64(17), p.Files[fd].Pos)

	require.Equal(t, []fakeGrant{
		{memEp, 100, 0x100, 10, AccessWrite},
		{memEp, 100, 0x200, 7, AccessRead},
	}, ts.g.made)
	require.Equal(t, 2, ts.g.created)
	require.Equal(t, 2, ts.g.revoked)

	reads := ts.k.sentOf(DevReadS)
	require.Len(t, reads, 1)
	m := reads[0].m
	require.Equal(t, self, m.IOEndpt)
	require.Equal(t, GrantID(0), m.Grant)
	require.Equal(t, 2, m.Device)
	require.Equal(t, int64(0), m.Position)
	require.Equal(t, 10, m.Count)
	require.Len(t, ts.k.sentOf(DevWriteS), 1)
	require.Equal(t, int64(10), ts.k.sentOf(DevWriteS)[0].m.Position)
}

func TestIoctlGrant(t *testing.T) {
	ts := newTestServer(t)
	p := ts.proc(t, 100)
	fd := ts.open(t, p, MakeDev(ttyMajor, 1), O_RDWR)

	req := IOR('T', 1, 128)
	st, err := ts.Ioctl(p, fd, req, 0x40)
	require.NoError(t, err)
	require.Equal(t, OK, st)

	require.Equal(t, []fakeGrant{{ttyEp, 100, 0x40, 128, AccessWrite}}, ts.g.made)
	require.Equal(t, 1, ts.g.revoked)

	ios := ts.k.sentOf(DevIoctlS)
	require.Len(t, ios, 1)
	m := ios[0].m
	require.Equal(t, ttyEp, ios[0].to)
	require.Equal(t, int64(100), m.Position)
	require.Equal(t, self, m.IOEndpt)
	require.Equal(t, req, m.Request)
	require.Equal(t, 0, m.Count)

	// A request that moves no data still gets a grant.
	st, err = ts.Ioctl(p, fd, IO('T', 2), 0)
	require.NoError(t, err)
	require.Equal(t, OK, st)
	require.Len(t, ts.g.made, 2)
	require.Equal(t, fakeGrant{ttyEp, 100, 0, 0, 0}, ts.g.made[1])
	require.Equal(t, 2, ts.g.revoked)
}

func TestIoctlErrors(t *testing.T) {
	ts := newTestServer(t)
	p := ts.proc(t, 100)

	st, err := ts.Ioctl(p, 3, IO('T', 2), 0)
	require.NoError(t, err)
	require.Equal(t, StatusOf(EBADF), st)

	p.Files[3] = ts.fs.AllocFile(&Inode{Count: 1, Mode: I_REGULAR | 0o644}, O_RDWR)
	st, err = ts.Ioctl(p, 3, IO('T', 2), 0)
	require.NoError(t, err)
	require.Equal(t, StatusOf(ENOTTY), st)
	require.Zero(t, ts.g.created)
}

func TestIoctlEncoding(t *testing.T) {
	tests := []struct {
		req    uint32
		size   int
		access Access
	}{
		{IO('T', 1), 0, 0},
		{IOR('T', 1, 128), 128, AccessWrite},
		{IOW('T', 1, 6), 6, AccessRead},
		{IORW('T', 1, 8), 8, AccessRead | AccessWrite},
		{IORBig(1, 100000), 100000, AccessWrite},
		{IOWBig(1, 70000), 70000, AccessRead},
		{IORWBig(1, 1<<19), 1 << 19, AccessRead | AccessWrite},
	}
	for _, tt := range tests {
		require.Equal(t, tt.size, IoctlSize(tt.req), "size of %#x", tt.req)
		require.Equal(t, tt.access, ioctlAccess(tt.req), "access of %#x", tt.req)
	}
}

func TestNonblockingSuspend(t *testing.T) {
	ts := newTestServer(t)
	ts.k.drivers[ttyEp] = func(m *Message) error {
		switch m.Type {
		case DevReadS:
			reply(m, Suspend)
		case Cancel:
			reply(m, StatusOf(EINTR))
		default:
			return accept(m)
		}
		return nil
	}
	p := ts.proc(t, 100)
	fd := ts.open(t, p, MakeDev(ttyMajor, 1), O_RDWR|O_NONBLOCK)

	st, err := ts.Read(p, fd, 0, 32)
	require.NoError(t, err)
	require.Equal(t, StatusOf(EAGAIN), st)
	require.Nil(t, p.Suspended)

	read := ts.k.sentOf(DevReadS)[0].m
	cancels := ts.k.sentOf(Cancel)
	require.Len(t, cancels, 1)
	c := cancels[0].m
	require.Equal(t, ttyEp, cancels[0].to)
	require.Equal(t, read.IOEndpt, c.IOEndpt)
	require.Equal(t, read.Grant, c.Grant)
	require.Equal(t, R_BIT, c.Count)
	require.Equal(t, 1, c.Device)

	require.Equal(t, 1, ts.g.created)
	require.Equal(t, 1, ts.g.revoked)
	require.Equal(t, int64(0), p.Files[fd].Pos)
}

func TestCancelRole(t *testing.T) {
	require.Equal(t, R_BIT, cancelRole(READ))
	require.Equal(t, W_BIT, cancelRole(WRITE))
	require.Equal(t, 0, cancelRole(IOCTL))
	require.Equal(t, 0, cancelRole(CallOther))
}

// suspendingTTY makes the terminal driver suspend reads and serve
// status from q. It records the grant of the last read in *g.
func suspendingTTY(ts *testServer, q *queue, g *GrantID) {
	ts.k.drivers[ttyEp] = func(m *Message) error {
		if q.serve(m) {
			return nil
		}
		switch m.Type {
		case DevReadS:
			*g = m.Grant
			reply(m, Suspend)
		case Cancel:
			reply(m, StatusOf(EINTR))
		default:
			return accept(m)
		}
		return nil
	}
}

func TestBlockingSuspend(t *testing.T) {
	ts := newTestServer(t)
	var q queue
	var g GrantID
	suspendingTTY(ts, &q, &g)
	p := ts.proc(t, 100)
	fd := ts.open(t, p, MakeDev(ttyMajor, 1), O_RDWR)

	st, err := ts.Read(p, fd, 0, 32)
	require.NoError(t, err)
	require.Equal(t, Suspend, st)
	require.Equal(t, &SuspendedCall{
		Task:   Kernel(ttyEp),
		Grant:  g,
		IOProc: self,
		Call:   READ,
		Dev:    MakeDev(ttyMajor, 1),
	}, p.Suspended)
	require.Len(t, ts.g.live, 1)
	require.Zero(t, ts.g.revoked)

	// A second call from the same process while suspended is fatal.
	_, err = ts.Read(p, fd, 0, 32)
	require.True(t, IsFatal(err), "err = %v", err)
}

func TestCancelSuspended(t *testing.T) {
	ts := newTestServer(t)
	var q queue
	var g GrantID
	suspendingTTY(ts, &q, &g)
	p := ts.proc(t, 100)
	fd := ts.open(t, p, MakeDev(ttyMajor, 1), O_RDWR)

	st, err := ts.Read(p, fd, 0, 32)
	require.NoError(t, err)
	require.Equal(t, Suspend, st)

	st, err = ts.Cancel(p)
	require.NoError(t, err)
	require.Equal(t, StatusOf(EINTR), st)
	require.Nil(t, p.Suspended)
	require.Equal(t, 1, ts.g.revoked)

	c := ts.k.sentOf(Cancel)
	require.Len(t, c, 1)
	require.Equal(t, g, c[0].m.Grant)
	require.Equal(t, R_BIT, c[0].m.Count)

	// The driver finished the read anyway; the revival is dropped.
	q = append(q, Message{Type: DevRevive, RepEndpt: self, Grant: g, Status: 3})
	require.NoError(t, ts.DevStatus(ttyEp))
	require.Empty(t, ts.reply.revived)
	require.Equal(t, 1, ts.g.revoked)

	// Cancelling again is a no-op.
	n := len(ts.k.sent)
	st, err = ts.Cancel(p)
	require.NoError(t, err)
	require.Equal(t, OK, st)
	require.Len(t, ts.k.sent, n)
}

func TestExit(t *testing.T) {
	ts := newTestServer(t)
	var q queue
	var g GrantID
	suspendingTTY(ts, &q, &g)
	p := ts.proc(t, 100)
	fd := ts.open(t, p, MakeDev(ttyMajor, 1), O_RDWR)
	_, err := ts.Read(p, fd, 0, 32)
	require.NoError(t, err)

	require.NoError(t, ts.Exit(p))
	require.Nil(t, ts.Lookup(100))
	require.Len(t, ts.k.sentOf(Cancel), 1)
	closes := ts.k.sentOf(DevClose)
	require.Len(t, closes, 1)
	require.Equal(t, 1, closes[0].m.Device)
	require.Equal(t, ts.g.created, ts.g.revoked)
}

func TestDuplicateSuspendFatal(t *testing.T) {
	ts := newTestServer(t)
	p := ts.proc(t, 100)
	q := ts.proc(t, 101)
	r := &Request{Call: READ, Dev: MakeDev(ttyMajor, 1)}

	require.NoError(t, ts.suspend(p, Kernel(ttyEp), 3, self, r))
	err := ts.suspend(q, Kernel(ttyEp), 3, self, r)
	require.True(t, IsFatal(err), "err = %v", err)
	err = ts.suspend(p, Kernel(ttyEp), 4, self, r)
	require.True(t, IsFatal(err), "err = %v", err)

	// The same grant number from another driver is a different grant.
	require.NoError(t, ts.suspend(q, Kernel(diskEp), 3, self, r))
}

func TestDriverDiesDuringIO(t *testing.T) {
	ts := newTestServer(t)
	p := ts.proc(t, 100)
	fd := ts.open(t, p, MakeDev(ttyMajor, 1), O_RDWR)
	ts.k.drivers[ttyEp] = func(m *Message) error {
		return ESRCDIED
	}

	st, err := ts.Read(p, fd, 0, 32)
	require.NoError(t, err)
	require.Equal(t, StatusOf(EIO), st)
	require.Equal(t, None, ts.Dmap.Lookup(ttyMajor).Driver)
	require.Equal(t, None, ts.Dmap.Lookup(cttyMajor).Driver)
	require.Equal(t, ts.g.created, ts.g.revoked)

	// Now the major is unbound: nothing is sent.
	n := len(ts.k.sent)
	st, err = ts.Read(p, fd, 0, 32)
	require.NoError(t, err)
	require.Equal(t, StatusOf(ENXIO), st)
	require.Len(t, ts.k.sent, n)
}

func TestStaleEndpoint(t *testing.T) {
	ts := newTestServer(t)
	p := ts.proc(t, 100)
	fd := ts.open(t, p, MakeDev(memMajor, 0), O_RDWR)
	delete(ts.k.drivers, memEp)

	n := len(ts.k.sent)
	st, err := ts.Read(p, fd, 0, 32)
	require.NoError(t, err)
	require.Equal(t, StatusOf(ENXIO), st)
	require.Len(t, ts.k.sent, n)
	require.Zero(t, ts.g.created)
}

func TestTransportFailureFatal(t *testing.T) {
	ts := newTestServer(t)
	p := ts.proc(t, 100)
	fd := ts.open(t, p, MakeDev(memMajor, 0), O_RDWR)
	ts.k.drivers[memEp] = func(m *Message) error {
		return ELOCKED
	}
	_, err := ts.Read(p, fd, 0, 32)
	require.True(t, IsFatal(err), "err = %v", err)
	require.ErrorIs(t, err, ELOCKED)
}

func TestStrangeReply(t *testing.T) {
	ts := newTestServer(t)
	p := ts.proc(t, 100)
	fd := ts.open(t, p, MakeDev(memMajor, 0), O_RDWR)
	ts.k.drivers[memEp] = func(m *Message) error {
		reply(m, 5)
		m.RepEndpt = 999
		return nil
	}
	st, err := ts.Read(p, fd, 0, 32)
	require.NoError(t, err)
	require.Equal(t, StatusOf(EIO), st)
	require.Equal(t, memEp, ts.Dmap.Lookup(memMajor).Driver)
	require.Equal(t, ts.g.created, ts.g.revoked)
}

func TestGrantFailureFatal(t *testing.T) {
	ts := newTestServer(t)
	p := ts.proc(t, 100)
	fd := ts.open(t, p, MakeDev(memMajor, 0), O_RDWR)
	ts.g.fail = true
	_, err := ts.Read(p, fd, 0, 32)
	require.True(t, IsFatal(err), "err = %v", err)
}

func TestVectorTooBig(t *testing.T) {
	ts := newTestServer(t)
	vec := make([]IOVec, NR_IOREQS+1)
	_, err := ts.DevIO(nil, &Request{Op: DevGather, Dev: MakeDev(diskMajor, 0), Proc: self, Vec: vec})
	require.True(t, IsFatal(err), "err = %v", err)
	require.Zero(t, ts.g.created)
	require.Empty(t, ts.k.sent)
}

func TestGather(t *testing.T) {
	ts := newTestServer(t)
	ts.k.drivers[diskEp] = func(m *Message) error {
		if m.Type != DevGatherS {
			return accept(m)
		}
		// Fill every segment but the last, which gets 2 bytes.
		vec := IOVecs(ts.Mem[m.Address:], m.Count)
		total := 0
		for i := range vec {
			n := int(vec[i].Size)
			if i == len(vec)-1 {
				n = 2
			}
			vec[i].Size -= uint32(n)
			total += n
		}
		PutIOVecs(ts.Mem[m.Address:], vec)
		reply(m, Status(total))
		return nil
	}

	vec := []IOVec{{0, 16}, {64, 16}, {128, 16}}
	st, err := ts.DevIO(nil, &Request{Op: DevGather, Dev: MakeDev(diskMajor, 0), Proc: self, Vec: vec})
	require.NoError(t, err)
	require.Equal(t, Status(34), st)
	require.Equal(t, []IOVec{{0, 0}, {64, 0}, {128, 14}}, vec)

	base := Addr(len(ts.Mem) - NR_IOREQS*IOVecSize)
	require.Equal(t, []fakeGrant{
		{diskEp, self, base, 3 * IOVecSize, AccessRead | AccessWrite},
		{diskEp, self, 0, 16, AccessWrite},
		{diskEp, self, 64, 16, AccessWrite},
		{diskEp, self, 128, 16, AccessWrite},
	}, ts.g.made)
	require.Equal(t, 4, ts.g.revoked)
	require.False(t, ts.arena.busy)

	m := ts.k.sentOf(DevGatherS)[0].m
	require.Equal(t, base, m.Address)
	require.Equal(t, 3, m.Count)
	require.Equal(t, GrantID(0), m.Grant)
}

func TestVectorSuspendFatal(t *testing.T) {
	ts := newTestServer(t)
	ts.k.drivers[diskEp] = func(m *Message) error {
		reply(m, Suspend)
		return nil
	}
	p := ts.proc(t, 100)
	_, err := ts.DevIO(p, &Request{Op: DevScatter, Dev: MakeDev(diskMajor, 0), Proc: self, Vec: []IOVec{{0, 8}}})
	require.True(t, IsFatal(err), "err = %v", err)
}

func TestArenaReentrant(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.arena.acquire())
	err := ts.arena.acquire()
	require.True(t, IsFatal(err), "err = %v", err)

	// A vectored transfer cannot start while the arena is held.
	_, err = ts.DevIO(nil, &Request{Op: DevGather, Dev: MakeDev(diskMajor, 0), Proc: self, Vec: []IOVec{{0, 8}}})
	require.True(t, IsFatal(err), "err = %v", err)
	require.Zero(t, ts.g.created)
}

func TestGrantBalance(t *testing.T) {
	ts := newTestServer(t)
	fail := false
	ts.k.drivers[memEp] = func(m *Message) error {
		if fail && m.Type != DevOpen {
			reply(m, StatusOf(EIO))
			return nil
		}
		return accept(m)
	}
	p := ts.proc(t, 100)
	fd := ts.open(t, p, MakeDev(memMajor, 2), O_RDWR)
	for _, fail = range []bool{false, true} {
		_, err := ts.Read(p, fd, 0, 8)
		require.NoError(t, err)
		_, err = ts.Write(p, fd, 0, 8)
		require.NoError(t, err)
		_, err = ts.Ioctl(p, fd, IORW('m', 1, 4), 0)
		require.NoError(t, err)
		_, err = ts.DevIO(nil, &Request{Op: DevScatter, Dev: MakeDev(memMajor, 2), Proc: self, Vec: []IOVec{{0, 8}, {8, 8}}})
		require.NoError(t, err)
	}
	require.Equal(t, 12, ts.g.created)
	require.Equal(t, ts.g.created, ts.g.revoked)
	require.Empty(t, ts.g.live)
}
