// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package driver

import (
	"bytes"
	"encoding/binary"
	"io"

	log "github.com/golang/glog"

	"rsc.io/mxdev/devio"
)

/* default special characters */
const (
	CERASE = '#'
	CEOT   = 0o004
	CKILL  = '@'
	CQUIT  = 0o034 /* FS, cntl shift L */
	CINTR  = 0o003 /* ^C */
)

/* modes */
const (
	XTABS = 0o2
	ECHO  = 0o10
	CRMOD = 0o20
	RAW   = 0o40
)

/* internal state bits */
const (
	ISOPEN = 04 /* device is open */
)

// SelRead is the readiness bit a terminal reports when a line
// can be read without blocking.
const SelRead = 1

/* ioctl requests */
var (
	TIOCGETP   = devio.IOR('t', 8, 6)
	TIOCSETP   = devio.IOW('t', 9, 6)
	TIOCGWINSZ = devio.IOR('T', 104, 8)
	TIOCSWINSZ = devio.IOW('T', 103, 8)
)

// delim marks the end of a line in the raw queue.
const delim = 0o377

// A Line is one terminal.
type Line struct {
	Out io.Writer // output and echo; nil means output fails

	flags  uint16
	erase  byte
	kill   byte
	speeds uint16
	state  uint16
	winsz  [4]uint16

	raw   bytes.Buffer // raw input characters
	canon bytes.Buffer // canonicalized input characters
	delct int          // number of delimiters in raw

	pgrp   devio.Endpoint // process the terminal is controlling, or None
	reader *pendingRead
}

// A pendingRead is a read that replied Suspend.
type pendingRead struct {
	proc  devio.Endpoint
	grant devio.GrantID
	count int
}

// TTY is the terminal driver. Minor n is Lines[n].
type TTY struct {
	Lines []*Line
}

// NewTTY returns a terminal driver with one line per writer.
func NewTTY(out ...io.Writer) *TTY {
	d := &TTY{}
	for _, w := range out {
		d.Lines = append(d.Lines, &Line{Out: w, pgrp: devio.None})
	}
	return d
}

func (d *TTY) line(minor int) *Line {
	if minor < 0 || minor >= len(d.Lines) {
		return nil
	}
	return d.Lines[minor]
}

func (d *TTY) Open(t *Task, m *devio.Message) devio.Status {
	tp := d.line(m.Device)
	if tp == nil {
		return devio.StatusOf(devio.ENXIO)
	}
	if tp.state&ISOPEN == 0 {
		tp.state |= ISOPEN
		tp.flags = XTABS | ECHO | CRMOD
		tp.erase = CERASE
		tp.kill = CKILL
	}
	if m.Count&devio.O_NOCTTY == 0 {
		// This is now the controlling tty of the opener.
		tp.pgrp = m.IOEndpt
		return 1
	}
	return devio.OK
}

func (d *TTY) Close(t *Task, m *devio.Message) devio.Status {
	tp := d.line(m.Device)
	if tp == nil {
		return devio.StatusOf(devio.ENXIO)
	}
	tp.state = 0
	tp.pgrp = devio.None
	return devio.OK
}

func (d *TTY) Transfer(t *Task, m *devio.Message) devio.Status {
	tp := d.line(m.Device)
	if tp == nil {
		return devio.StatusOf(devio.ENXIO)
	}
	switch m.Type {
	case devio.DevReadS:
		return d.read(t, m, tp)
	case devio.DevWriteS:
		return t.Transfer(m, func(b []byte, pos int64) (int, devio.Errno) {
			if tp.Out == nil {
				return 0, devio.EIO
			}
			n, err := tp.Out.Write(b)
			if err != nil {
				log.Warningf("tty %d: write: %v", m.Device, err)
				return n, devio.EIO
			}
			return n, 0
		})
	}
	return devio.StatusOf(devio.EINVAL)
}

func (d *TTY) read(t *Task, m *devio.Message, tp *Line) devio.Status {
	if m.Count <= 0 {
		return devio.OK
	}
	if tp.reader != nil {
		/* A read is already in progress. */
		return devio.StatusOf(devio.EIO)
	}
	if tp.canon.Len() == 0 && tp.delct == 0 {
		tp.reader = &pendingRead{proc: m.IOEndpt, grant: m.Grant, count: m.Count}
		return devio.Suspend
	}
	n, e := tp.take(t, m.Grant, m.Count)
	if e != 0 {
		return devio.StatusOf(e)
	}
	return devio.Status(n)
}

// take moves up to n canonical characters to grant g.
func (tp *Line) take(t *Task, g devio.GrantID, n int) (int, devio.Errno) {
	if tp.canon.Len() == 0 && tp.delct > 0 {
		tp.canonicalize()
	}
	b := make([]byte, n)
	n, _ = tp.canon.Read(b)
	if n == 0 {
		return 0, 0
	}
	if err := t.copyTo(g, 0, b[:n]); err != nil {
		log.Warningf("tty: read: %v", err)
		return 0, devio.EFAULT
	}
	return n, 0
}

// Input delivers characters typed on terminal minor.
// It must run on the task's goroutine; see Task.Do.
func (d *TTY) Input(t *Task, minor int, b []byte) {
	tp := d.line(minor)
	if tp == nil {
		return
	}
	for _, c := range b {
		if tp.in(c) {
			/* Interrupt: flush and fail a waiting read. */
			tp.raw.Reset()
			tp.canon.Reset()
			tp.delct = 0
			if r := tp.reader; r != nil {
				tp.reader = nil
				t.Revive(r.proc, r.grant, devio.StatusOf(devio.EINTR))
			}
		}
	}
	if tp.delct == 0 {
		return
	}
	if r := tp.reader; r != nil {
		tp.reader = nil
		n, e := tp.take(t, r.grant, r.count)
		st := devio.Status(n)
		if e != 0 {
			st = devio.StatusOf(e)
		}
		t.Revive(r.proc, r.grant, st)
		return
	}
	t.Ready(minor, SelRead)
}

// in puts c on the raw queue and echoes it.
// It reports whether c was an interrupt character.
func (tp *Line) in(c byte) bool {
	// Translate modern backspace and ^U to the classic equivalents.
	if c == '\b' || c == 0x7F {
		c = tp.erase
	}
	if c == 'U'-'@' {
		c = tp.kill
	}
	if c == '\r' && tp.flags&CRMOD != 0 {
		c = '\n'
	}
	if tp.flags&RAW == 0 && (c == CQUIT || c == CINTR) {
		return true
	}
	tp.raw.WriteByte(c)
	if tp.flags&RAW != 0 || c == '\n' || c == CEOT {
		tp.raw.WriteByte(delim)
		tp.delct++
	}
	if tp.flags&ECHO != 0 && tp.Out != nil && c != CEOT {
		tp.Out.Write([]byte{c})
	}
	return false
}

// canonicalize moves one line from the raw queue to the canonical
// queue, applying erase and kill. A backslash escapes them.
func (tp *Line) canonicalize() {
	var line []byte
	for {
		c, err := tp.raw.ReadByte()
		if err != nil {
			break
		}
		if c == delim {
			tp.delct--
			break
		}
		if tp.flags&RAW == 0 {
			n := len(line)
			escaped := n > 0 && line[n-1] == '\\'
			switch {
			case escaped && (c == tp.erase || c == tp.kill):
				line = line[:n-1]
			case c == tp.erase:
				if n > 0 {
					line = line[:n-1]
				}
				continue
			case c == tp.kill:
				line = line[:0]
				continue
			case c == CEOT:
				continue
			}
		}
		line = append(line, c)
	}
	tp.canon.Write(line)
}

func (d *TTY) Ioctl(t *Task, m *devio.Message) devio.Status {
	tp := d.line(m.Device)
	if tp == nil {
		return devio.StatusOf(devio.ENXIO)
	}
	var b [8]byte
	switch m.Request {
	case TIOCGETP:
		binary.LittleEndian.PutUint16(b[0:], tp.speeds)
		binary.LittleEndian.PutUint16(b[2:], uint16(tp.erase)|uint16(tp.kill)<<8)
		binary.LittleEndian.PutUint16(b[4:], tp.flags)
		if err := t.copyTo(m.Grant, 0, b[:6]); err != nil {
			return devio.StatusOf(devio.EFAULT)
		}
	case TIOCSETP:
		if err := t.copyFrom(m.Grant, 0, b[:6]); err != nil {
			return devio.StatusOf(devio.EFAULT)
		}
		tp.speeds = binary.LittleEndian.Uint16(b[0:])
		ek := binary.LittleEndian.Uint16(b[2:])
		tp.erase = byte(ek)
		tp.kill = byte(ek >> 8)
		tp.flags = binary.LittleEndian.Uint16(b[4:])
	case TIOCGWINSZ:
		for i, v := range tp.winsz {
			binary.LittleEndian.PutUint16(b[2*i:], v)
		}
		if err := t.copyTo(m.Grant, 0, b[:]); err != nil {
			return devio.StatusOf(devio.EFAULT)
		}
	case TIOCSWINSZ:
		if err := t.copyFrom(m.Grant, 0, b[:]); err != nil {
			return devio.StatusOf(devio.EFAULT)
		}
		for i := range tp.winsz {
			tp.winsz[i] = binary.LittleEndian.Uint16(b[2*i:])
		}
	default:
		return devio.StatusOf(devio.ENOTTY)
	}
	return devio.OK
}

func (d *TTY) Cancel(t *Task, m *devio.Message) devio.Status {
	tp := d.line(m.Device)
	if tp == nil {
		return devio.StatusOf(devio.ENXIO)
	}
	if r := tp.reader; r != nil && m.Count&devio.R_BIT != 0 && r.proc == m.IOEndpt && r.grant == m.Grant {
		tp.reader = nil
		return devio.StatusOf(devio.EINTR)
	}
	if st, ok := t.TakeRevive(m.IOEndpt, m.Grant); ok {
		return st
	}
	return devio.StatusOf(devio.EINTR)
}

// Controlling returns the process terminal minor is controlling, or None.
func (d *TTY) Controlling(minor int) devio.Endpoint {
	if tp := d.line(minor); tp != nil {
		return tp.pgrp
	}
	return devio.None
}
