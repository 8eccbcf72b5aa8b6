// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package ipc is an in-process message substrate: tasks with
// private memory, addressed by endpoints that carry an incarnation
// number, talking by synchronous sendrec and asynchronous notify.
package ipc

import (
	"context"
	"sync"

	log "github.com/golang/glog"
	"github.com/pkg/errors"

	"rsc.io/mxdev/devio"
)

// MaxTasks is the number of task slots.
const MaxTasks = 64

// ErrKilled is returned by Receive once the task has been killed.
var ErrKilled = errors.New("ipc: task killed")

// A Kernel is the message substrate.
type Kernel struct {
	mu    sync.Mutex
	slots [MaxTasks]*Task
	gen   [MaxTasks]int32
	done  chan struct{}
	once  sync.Once
}

// New returns a kernel with no tasks.
func New() *Kernel {
	return &Kernel{done: make(chan struct{})}
}

// Close stops the kernel's notification delivery.
func (k *Kernel) Close() {
	k.once.Do(func() { close(k.done) })
}

// A Task is one process or driver. It implements devio.Transport.
type Task struct {
	k    *Kernel
	ep   devio.Endpoint
	name string
	mem  []byte

	inbox chan *Call
	dead  chan struct{}

	nmu     sync.Mutex
	pending []devio.Endpoint // notification sources, in arrival order
	wake    chan struct{}
	notify  chan devio.Endpoint
	pump    sync.Once
}

func endpoint(gen int32, slot int) devio.Endpoint {
	return devio.Endpoint(gen*MaxTasks + int32(slot))
}

func slotOf(ep devio.Endpoint) int {
	if ep < 0 {
		return -1
	}
	return int(ep % MaxTasks)
}

// Spawn creates a task named name with memSize bytes of memory.
// A slot freed by Kill is reused with the next incarnation number,
// so endpoints of the dead task stay invalid.
func (k *Kernel) Spawn(name string, memSize int) (*Task, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for i, t := range k.slots {
		if t != nil {
			continue
		}
		t = &Task{
			k:      k,
			ep:     endpoint(k.gen[i], i),
			name:   name,
			mem:    make([]byte, memSize),
			inbox:  make(chan *Call),
			dead:   make(chan struct{}),
			wake:   make(chan struct{}, 1),
			notify: make(chan devio.Endpoint),
		}
		k.gen[i]++
		k.slots[i] = t
		log.V(1).Infof("ipc: spawn %s as %d", name, t.ep)
		return t, nil
	}
	return nil, errors.Errorf("ipc: no free slot for %s", name)
}

// Kill ends the task at ep. Calls waiting on it fail.
func (k *Kernel) Kill(ep devio.Endpoint) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	t := k.lookupLocked(ep)
	if t == nil {
		return devio.EDEADSRCDST
	}
	k.slots[slotOf(ep)] = nil
	close(t.dead)
	log.V(1).Infof("ipc: kill %s (%d)", t.name, ep)
	return nil
}

func (k *Kernel) lookupLocked(ep devio.Endpoint) *Task {
	i := slotOf(ep)
	if i < 0 {
		return nil
	}
	t := k.slots[i]
	if t == nil || t.ep != ep {
		return nil
	}
	return t
}

// Lookup returns the live task at ep, or nil.
func (k *Kernel) Lookup(ep devio.Endpoint) *Task {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.lookupLocked(ep)
}

// IsOK reports whether ep is the current incarnation of a live task.
func (k *Kernel) IsOK(ep devio.Endpoint) bool {
	return k.Lookup(ep) != nil
}

// Mem returns the memory of the task at ep.
func (k *Kernel) Mem(ep devio.Endpoint) ([]byte, bool) {
	t := k.Lookup(ep)
	if t == nil {
		return nil, false
	}
	return t.mem, true
}

func (t *Task) Endpoint() devio.Endpoint { return t.ep }
func (t *Task) Name() string             { return t.name }
func (t *Task) Mem() []byte              { return t.mem }

// Dead is closed when the task is killed.
func (t *Task) Dead() <-chan struct{} { return t.dead }

func (t *Task) IsOK(ep devio.Endpoint) bool { return t.k.IsOK(ep) }

// A Call is a request received by a task. The sender waits
// until Reply is called or the receiver dies.
type Call struct {
	Msg   devio.Message
	reply chan devio.Message
}

// Reply sends c.Msg back to the sender.
func (c *Call) Reply() {
	c.reply <- c.Msg
}

// SendRec sends m to ep and waits for the reply, which overwrites m.
// The error, if any, is a devio.Errno: EDEADSRCDST if ep is not a
// live task, ESRCDIED if it died before replying. Once the kernel is
// closed no call completes.
func (t *Task) SendRec(ep devio.Endpoint, m *devio.Message) error {
	dst := t.k.Lookup(ep)
	if dst == nil {
		return devio.EDEADSRCDST
	}
	c := &Call{Msg: *m, reply: make(chan devio.Message, 1)}
	c.Msg.Source = t.ep
	select {
	case dst.inbox <- c:
	case <-dst.dead:
		return devio.EDEADSRCDST
	case <-t.dead:
		return devio.ESRCDIED
	case <-t.k.done:
		return devio.EDEADSRCDST
	}
	select {
	case r := <-c.reply:
		*m = r
		m.Source = ep
		return nil
	case <-dst.dead:
		return devio.ESRCDIED
	case <-t.k.done:
		return devio.ESRCDIED
	}
}

// Exit kills t, as a task does when it stops serving.
// Exiting a task that is already dead does nothing.
func (t *Task) Exit() {
	t.k.Kill(t.ep)
}

// Receive waits for the next call to t.
func (t *Task) Receive(ctx context.Context) (*Call, error) {
	select {
	case c := <-t.inbox:
		return c, nil
	case <-t.dead:
		return nil, ErrKilled
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Calls returns the channel calls to t arrive on,
// for receivers that wait on other things too.
func (t *Task) Calls() <-chan *Call { return t.inbox }

// Notify posts a notification from t to ep. Notifications from the
// same source coalesce until the receiver picks them up.
func (t *Task) Notify(ep devio.Endpoint) error {
	dst := t.k.Lookup(ep)
	if dst == nil {
		return devio.EDEADSRCDST
	}
	dst.nmu.Lock()
	defer dst.nmu.Unlock()
	for _, src := range dst.pending {
		if src == t.ep {
			return nil
		}
	}
	dst.pending = append(dst.pending, t.ep)
	select {
	case dst.wake <- struct{}{}:
	default:
	}
	return nil
}

// Notifications delivers the sources of notifications sent to t.
func (t *Task) Notifications() <-chan devio.Endpoint {
	t.pump.Do(func() { go t.deliver() })
	return t.notify
}

func (t *Task) deliver() {
	for {
		t.nmu.Lock()
		var src devio.Endpoint = devio.None
		if len(t.pending) > 0 {
			src = t.pending[0]
			t.pending = t.pending[1:]
		}
		t.nmu.Unlock()

		if src == devio.None {
			select {
			case <-t.wake:
				continue
			case <-t.dead:
				return
			case <-t.k.done:
				return
			}
		}
		select {
		case t.notify <- src:
		case <-t.dead:
			return
		case <-t.k.done:
			return
		}
	}
}
