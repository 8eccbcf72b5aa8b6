// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devio

import (
	"testing"

	"github.com/pkg/errors"
)

const (
	self   Endpoint = 1
	memEp  Endpoint = 10
	diskEp Endpoint = 11
	ttyEp  Endpoint = 12
	clnEp  Endpoint = 13
	disk2  Endpoint = 14
)

const (
	memMajor   = 1
	diskMajor  = 3
	ttyMajor   = 4
	cttyMajor  = 5
	cloneMajor = 7
)

// A handler plays a driver: it turns the request in m into the reply.
// A non-nil error is what the transport reports instead.
type handler func(m *Message) error

// reply makes m the ordinary reply to itself.
func reply(m *Message, st Status) {
	m.RepEndpt = m.IOEndpt
	m.Type = TaskReply
	m.Status = st
}

// accept is a driver that accepts everything.
func accept(m *Message) error {
	switch m.Type {
	case DevReadS, DevWriteS:
		reply(m, Status(m.Count))
	default:
		reply(m, OK)
	}
	return nil
}

// queue is a driver's pending status, handed out on DevStatus.
type queue []Message

func (q *queue) serve(m *Message) bool {
	if m.Type != DevStatus {
		return false
	}
	if len(*q) == 0 {
		*m = Message{Type: DevNoStatus}
		return true
	}
	*m = (*q)[0]
	*q = (*q)[1:]
	return true
}

type fakeKernel struct {
	drivers map[Endpoint]handler
	sent    []sent
	notify  chan Endpoint
}

type sent struct {
	to Endpoint
	m  Message
}

func newFakeKernel() *fakeKernel {
	return &fakeKernel{
		drivers: make(map[Endpoint]handler),
		notify:  make(chan Endpoint, 8),
	}
}

func (k *fakeKernel) SendRec(ep Endpoint, m *Message) error {
	k.sent = append(k.sent, sent{ep, *m})
	h := k.drivers[ep]
	if h == nil {
		return EDEADSRCDST
	}
	return h(m)
}

func (k *fakeKernel) IsOK(ep Endpoint) bool { return k.drivers[ep] != nil }

func (k *fakeKernel) Notifications() <-chan Endpoint { return k.notify }

// sentOf returns the requests of type op.
func (k *fakeKernel) sentOf(op Op) []sent {
	var out []sent
	for _, s := range k.sent {
		if s.m.Type == op {
			out = append(out, s)
		}
	}
	return out
}

type fakeGrant struct {
	grantee Endpoint
	owner   Endpoint
	addr    Addr
	size    int
	access  Access
}

// fakeGrants counts grants and refuses double revokes.
type fakeGrants struct {
	next    GrantID
	live    map[GrantID]fakeGrant
	made    []fakeGrant
	created int
	revoked int
	fail    bool
}

func newFakeGrants() *fakeGrants {
	return &fakeGrants{live: make(map[GrantID]fakeGrant)}
}

func (g *fakeGrants) GrantMagic(grantee, owner Endpoint, addr Addr, size int, access Access) (GrantID, error) {
	if g.fail {
		return GrantInvalid, errors.New("grant table full")
	}
	id := g.next
	g.next++
	fg := fakeGrant{grantee, owner, addr, size, access}
	g.live[id] = fg
	g.made = append(g.made, fg)
	g.created++
	return id, nil
}

func (g *fakeGrants) GrantDirect(grantee Endpoint, addr Addr, size int, access Access) (GrantID, error) {
	return g.GrantMagic(grantee, self, addr, size, access)
}

func (g *fakeGrants) Revoke(id GrantID) error {
	if _, ok := g.live[id]; !ok {
		return errors.Errorf("revoke of dead grant %d", id)
	}
	delete(g.live, id)
	g.revoked++
	return nil
}

type revival struct {
	p  *Proc
	st Status
}

type fakeReplier struct {
	revived []revival
}

func (r *fakeReplier) Revive(p *Proc, st Status) {
	r.revived = append(r.revived, revival{p, st})
}

type fakeSelector struct {
	events [][3]int
}

func (s *fakeSelector) Notified(major, minor int, ops uint32) {
	s.events = append(s.events, [3]int{major, minor, int(ops)})
}

type testServer struct {
	*Server
	k     *fakeKernel
	g     *fakeGrants
	fs    *FileTable
	reply *fakeReplier
	sel   *fakeSelector
}

const testConfig = `
[[device]]
major = 1
name = "memory"
style = "gen"
driver = "memory"

[[device]]
major = 3
name = "disk"
style = "gen"
driver = "disk"

[[device]]
major = 4
name = "tty"
style = "tty"
driver = "tty"

[[device]]
major = 5
name = "ctty"
style = "ctty"
driver = "tty"

[[device]]
major = 7
name = "clone"
style = "clone"
driver = "clone"
`

// newTestServer returns a server with the test configuration and
// every configured major bound to an accepting driver.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	cfg, err := ParseConfig(testConfig)
	if err != nil {
		t.Fatal(err)
	}
	k := newFakeKernel()
	g := newFakeGrants()
	fs := new(FileTable)
	s, err := NewServer(self, make([]byte, 4096), k, g, cfg.Table(), fs)
	if err != nil {
		t.Fatal(err)
	}
	ts := &testServer{Server: s, k: k, g: g, fs: fs, reply: new(fakeReplier), sel: new(fakeSelector)}
	s.Reply = ts.reply
	s.Select = ts.sel

	ts.bind(memMajor, memEp, accept)
	ts.bind(diskMajor, diskEp, accept)
	ts.bind(ttyMajor, ttyEp, accept)
	ts.bind(cttyMajor, ttyEp, accept)
	ts.bind(cloneMajor, clnEp, accept)
	return ts
}

func (ts *testServer) bind(major int, ep Endpoint, h handler) {
	ts.k.drivers[ep] = h
	ts.Dmap.Map(major, ep)
}

func (ts *testServer) proc(t *testing.T, ep Endpoint) *Proc {
	t.Helper()
	p, e := ts.AddProc(ep, int(ep))
	if e != 0 {
		t.Fatal(e)
	}
	return p
}

// open opens dev for p and returns the descriptor.
func (ts *testServer) open(t *testing.T, p *Proc, dev DeviceID, flags int) int {
	t.Helper()
	ip, e := ts.fs.MakeNode(dev, I_CHAR_SPECIAL|0o666)
	if e != 0 {
		t.Fatal(e)
	}
	fd, st, err := ts.Open(p, ip, flags)
	if err != nil {
		t.Fatal(err)
	}
	if st != OK {
		t.Fatalf("open %v: %v", dev, st)
	}
	return fd
}
