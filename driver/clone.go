// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package driver

import (
	"bytes"

	"rsc.io/mxdev/devio"
)

// Clone is a driver whose minor 0 is a cloning node: every open of
// it creates a fresh loopback channel and replies with its minor.
// Data written to a channel is read back from it.
type Clone struct {
	chans map[int]*bytes.Buffer
	next  int
}

// maxClones bounds the minors a Clone hands out.
const maxClones = devio.BYTE

func (d *Clone) alloc() int {
	if d.chans == nil {
		d.chans = make(map[int]*bytes.Buffer)
	}
	for i := 0; i < maxClones; i++ {
		d.next = d.next%maxClones + 1
		if d.chans[d.next] == nil {
			d.chans[d.next] = new(bytes.Buffer)
			return d.next
		}
	}
	return -1
}

// Open of minor 0 replies with a new minor. Reopening an existing
// channel replies with the channel's own minor.
func (d *Clone) Open(t *Task, m *devio.Message) devio.Status {
	if m.Device == 0 {
		n := d.alloc()
		if n < 0 {
			return devio.StatusOf(devio.ENFILE)
		}
		return devio.Status(n)
	}
	if d.chans[m.Device] == nil {
		return devio.StatusOf(devio.ENXIO)
	}
	return devio.Status(m.Device)
}

func (d *Clone) Close(t *Task, m *devio.Message) devio.Status {
	if m.Device != 0 {
		delete(d.chans, m.Device)
	}
	return devio.OK
}

// Live returns the number of open channels.
func (d *Clone) Live() int { return len(d.chans) }

func (d *Clone) Transfer(t *Task, m *devio.Message) devio.Status {
	buf := d.chans[m.Device]
	if buf == nil {
		return devio.StatusOf(devio.ENXIO)
	}
	read := reading(m)
	return t.Transfer(m, func(b []byte, pos int64) (int, devio.Errno) {
		if read {
			n, _ := buf.Read(b)
			return n, 0
		}
		n, _ := buf.Write(b)
		return n, 0
	})
}

func (d *Clone) Ioctl(t *Task, m *devio.Message) devio.Status {
	return devio.StatusOf(devio.ENOTTY)
}

func (d *Clone) Cancel(t *Task, m *devio.Message) devio.Status {
	return devio.StatusOf(devio.EINTR)
}
