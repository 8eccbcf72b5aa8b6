// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package driver implements device driver tasks that speak the
// device protocol over ipc: the task loop, and memory, terminal,
// clone and disk devices.
package driver

import (
	"context"

	log "github.com/golang/glog"
	"github.com/pkg/errors"

	"rsc.io/mxdev/devio"
	"rsc.io/mxdev/ipc"
)

// A Device is what a driver task serves. Each method gets the
// request message and returns the reply status; Transfer and Ioctl
// may return devio.Suspend and complete later through Task.Revive.
// Methods run on the task's goroutine only.
type Device interface {
	Open(t *Task, m *devio.Message) devio.Status
	Close(t *Task, m *devio.Message) devio.Status
	Transfer(t *Task, m *devio.Message) devio.Status
	Ioctl(t *Task, m *devio.Message) devio.Status
	Cancel(t *Task, m *devio.Message) devio.Status
}

// A Copier moves data through grants on behalf of a grantee.
type Copier interface {
	CopyFrom(grantee devio.Endpoint, g devio.GrantID, off int, dst []byte) error
	CopyTo(grantee devio.Endpoint, g devio.GrantID, off int, src []byte) error
	Size(grantee devio.Endpoint, g devio.GrantID) (int, error)
}

// A Task is a running driver.
type Task struct {
	IPC    *ipc.Task
	Grants Copier
	Server devio.Endpoint // where status notifications go
	Dev    Device

	status []devio.Message
	work   chan func()
}

// NewTask returns a task serving dev on it.
func NewTask(it *ipc.Task, g Copier, server devio.Endpoint, dev Device) *Task {
	return &Task{
		IPC:    it,
		Grants: g,
		Server: server,
		Dev:    dev,
		work:   make(chan func()),
	}
}

// Serve runs the task loop until ctx is done or the task is killed.
// The task is dead when Serve returns, so callers waiting on it fail
// instead of waiting forever.
func (t *Task) Serve(ctx context.Context) error {
	defer t.IPC.Exit()
	for {
		select {
		case c := <-t.IPC.Calls():
			t.dispatch(&c.Msg)
			c.Reply()
		case fn := <-t.work:
			fn()
		case <-t.IPC.Dead():
			return ipc.ErrKilled
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Do runs fn on the task's goroutine, between calls.
func (t *Task) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case t.work <- func() { fn(); close(done) }:
	case <-t.IPC.Dead():
		return ipc.ErrKilled
	case <-ctx.Done():
		return ctx.Err()
	}
	<-done
	return nil
}

func (t *Task) dispatch(m *devio.Message) {
	if log.V(2) {
		log.Infof("driver %s: %v", t.IPC.Name(), m)
	}
	var st devio.Status
	switch m.Type {
	case devio.DevOpen:
		st = t.Dev.Open(t, m)
	case devio.DevClose:
		st = t.Dev.Close(t, m)
	case devio.DevReadS, devio.DevWriteS, devio.DevGatherS, devio.DevScatterS:
		st = t.Dev.Transfer(t, m)
	case devio.DevIoctlS:
		st = t.Dev.Ioctl(t, m)
	case devio.Cancel:
		st = t.Dev.Cancel(t, m)
	case devio.DevStatus:
		t.nextStatus(m)
		return
	default:
		log.Warningf("driver %s: unsupported request %v", t.IPC.Name(), m.Type)
		st = devio.StatusOf(devio.EINVAL)
	}
	*m = devio.Message{
		Type:     devio.TaskReply,
		RepEndpt: m.IOEndpt,
		Status:   st,
	}
}

func (t *Task) nextStatus(m *devio.Message) {
	if len(t.status) == 0 {
		*m = devio.Message{Type: devio.DevNoStatus}
		return
	}
	*m = t.status[0]
	t.status = t.status[1:]
}

func (t *Task) post(m devio.Message) {
	t.status = append(t.status, m)
	if err := t.IPC.Notify(t.Server); err != nil {
		log.Warningf("driver %s: notify %d: %v", t.IPC.Name(), t.Server, err)
	}
}

// Revive reports the completion of a call that replied Suspend.
// proc and g are the IOEndpt and grant of the suspended request.
func (t *Task) Revive(proc devio.Endpoint, g devio.GrantID, st devio.Status) {
	t.post(devio.Message{Type: devio.DevRevive, RepEndpt: proc, Grant: g, Status: st})
}

// Ready reports that minor is ready for the operations in ops.
func (t *Task) Ready(minor int, ops uint32) {
	t.post(devio.Message{Type: devio.DevIOReady, Device: minor, SelOps: ops})
}

// TakeRevive withdraws a reported but not yet collected completion
// for (proc, g), as a cancel that lost the race with it needs.
func (t *Task) TakeRevive(proc devio.Endpoint, g devio.GrantID) (devio.Status, bool) {
	for i, m := range t.status {
		if m.Type == devio.DevRevive && m.RepEndpt == proc && m.Grant == g {
			t.status = append(t.status[:i], t.status[i+1:]...)
			return m.Status, true
		}
	}
	return 0, false
}

// errUnsafe is returned for requests that carry an address
// instead of a grant.
var errUnsafe = errors.New("driver: request without grant")

func (t *Task) copyFrom(g devio.GrantID, off int, dst []byte) error {
	if !g.Valid() {
		return errUnsafe
	}
	return t.Grants.CopyFrom(t.IPC.Endpoint(), g, off, dst)
}

func (t *Task) copyTo(g devio.GrantID, off int, src []byte) error {
	if !g.Valid() {
		return errUnsafe
	}
	return t.Grants.CopyTo(t.IPC.Endpoint(), g, off, src)
}

// reading reports whether m moves data from the device to the caller.
func reading(m *devio.Message) bool {
	return m.Type == devio.DevReadS || m.Type == devio.DevGatherS
}

// An rwFunc does one segment of a transfer at pos: for a read it
// fills b, for a write it consumes b. It returns the bytes done.
type rwFunc func(b []byte, pos int64) (int, devio.Errno)

// Transfer runs rw over the segments of m and returns the byte count.
// For a vectored request the segment sizes in the caller's vector
// are decremented by what was done.
func (t *Task) Transfer(m *devio.Message, rw rwFunc) devio.Status {
	if m.Type == devio.DevReadS || m.Type == devio.DevWriteS {
		n, e := t.segment(m, m.Grant, int(m.Count), m.Position, rw)
		if e != 0 {
			return devio.StatusOf(e)
		}
		return devio.Status(n)
	}

	raw := make([]byte, m.Count*devio.IOVecSize)
	if err := t.copyFrom(m.Grant, 0, raw); err != nil {
		log.Warningf("driver %s: vector: %v", t.IPC.Name(), err)
		return devio.StatusOf(devio.EFAULT)
	}
	vec := devio.IOVecs(raw, m.Count)
	total := 0
	pos := m.Position
	for j := range vec {
		size := int(vec[j].Size)
		n, e := t.segment(m, devio.GrantID(vec[j].Addr), size, pos, rw)
		if e != 0 {
			if total == 0 {
				return devio.StatusOf(e)
			}
			break
		}
		vec[j].Size -= uint32(n)
		total += n
		pos += int64(n)
		if n < size {
			break
		}
	}
	devio.PutIOVecs(raw, vec)
	if err := t.Grants.CopyTo(t.IPC.Endpoint(), m.Grant, 0, raw); err != nil {
		log.Warningf("driver %s: vector: %v", t.IPC.Name(), err)
		return devio.StatusOf(devio.EFAULT)
	}
	return devio.Status(total)
}

func (t *Task) segment(m *devio.Message, g devio.GrantID, size int, pos int64, rw rwFunc) (int, devio.Errno) {
	if size == 0 {
		return 0, 0
	}
	b := make([]byte, size)
	if !reading(m) {
		if err := t.copyFrom(g, 0, b); err != nil {
			log.Warningf("driver %s: copy in: %v", t.IPC.Name(), err)
			return 0, devio.EFAULT
		}
	}
	n, e := rw(b, pos)
	if e != 0 {
		return 0, e
	}
	if reading(m) && n > 0 {
		if err := t.copyTo(g, 0, b[:n]); err != nil {
			log.Warningf("driver %s: copy out: %v", t.IPC.Name(), err)
			return 0, devio.EFAULT
		}
	}
	return n, 0
}
