// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package driver

import (
	"rsc.io/mxdev/devio"
)

/* minor devices of the memory driver */
const (
	NullDev = 0 // /dev/null
	ZeroDev = 1 // /dev/zero
	RAMDev  = 2 // /dev/ram
)

// Memory is the memory driver: a sink, a source of zeros,
// and a fixed-size block of RAM.
type Memory struct {
	RAM []byte
}

func (d *Memory) Open(t *Task, m *devio.Message) devio.Status {
	switch m.Device {
	case NullDev, ZeroDev, RAMDev:
		return devio.OK
	}
	return devio.StatusOf(devio.ENXIO)
}

func (d *Memory) Close(t *Task, m *devio.Message) devio.Status {
	return devio.OK
}

func (d *Memory) Transfer(t *Task, m *devio.Message) devio.Status {
	read := reading(m)
	switch m.Device {
	case NullDev:
		return t.Transfer(m, func(b []byte, pos int64) (int, devio.Errno) {
			if read {
				return 0, 0
			}
			return len(b), 0
		})
	case ZeroDev:
		return t.Transfer(m, func(b []byte, pos int64) (int, devio.Errno) {
			if read {
				clear(b)
			}
			return len(b), 0
		})
	case RAMDev:
		return t.Transfer(m, func(b []byte, pos int64) (int, devio.Errno) {
			return rwBytes(d.RAM, b, pos, read)
		})
	}
	return devio.StatusOf(devio.ENXIO)
}

// rwBytes moves b to or from mem at pos. Reads past the end
// return 0 bytes; writes past the end fail with ENOSPC.
func rwBytes(mem, b []byte, pos int64, read bool) (int, devio.Errno) {
	if pos < 0 {
		return 0, devio.EINVAL
	}
	if pos >= int64(len(mem)) {
		if read {
			return 0, 0
		}
		return 0, devio.ENOSPC
	}
	if read {
		return copy(b, mem[pos:]), 0
	}
	return copy(mem[pos:], b), 0
}

func (d *Memory) Ioctl(t *Task, m *devio.Message) devio.Status {
	return devio.StatusOf(devio.ENOTTY)
}

func (d *Memory) Cancel(t *Task, m *devio.Message) devio.Status {
	return devio.StatusOf(devio.EINTR)
}
