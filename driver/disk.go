// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package driver

import (
	"encoding/binary"

	"rsc.io/mxdev/devio"
)

// DIOCGETSIZE reports the size of a disk in bytes, as a little-endian uint64.
var DIOCGETSIZE = devio.IOR('d', 5, 8)

// A Disk is a RAM disk driver. Each minor is one disk image.
type Disk struct {
	Images [][]byte
}

func (d *Disk) image(minor int) []byte {
	if minor < 0 || minor >= len(d.Images) {
		return nil
	}
	return d.Images[minor]
}

func (d *Disk) Open(t *Task, m *devio.Message) devio.Status {
	if d.image(m.Device) == nil {
		return devio.StatusOf(devio.ENXIO)
	}
	return devio.OK
}

func (d *Disk) Close(t *Task, m *devio.Message) devio.Status {
	return devio.OK
}

func (d *Disk) Transfer(t *Task, m *devio.Message) devio.Status {
	img := d.image(m.Device)
	if img == nil {
		return devio.StatusOf(devio.ENXIO)
	}
	read := reading(m)
	return t.Transfer(m, func(b []byte, pos int64) (int, devio.Errno) {
		return rwBytes(img, b, pos, read)
	})
}

func (d *Disk) Ioctl(t *Task, m *devio.Message) devio.Status {
	img := d.image(m.Device)
	if img == nil {
		return devio.StatusOf(devio.ENXIO)
	}
	if m.Request != DIOCGETSIZE {
		return devio.StatusOf(devio.ENOTTY)
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(len(img)))
	if err := t.copyTo(m.Grant, 0, b[:]); err != nil {
		return devio.StatusOf(devio.EFAULT)
	}
	return devio.OK
}

func (d *Disk) Cancel(t *Task, m *devio.Message) devio.Status {
	return devio.StatusOf(devio.EINTR)
}
