// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"context"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
	"lab.nexedi.com/kirr/go123/xerr"

	"rsc.io/mxdev/devio"
	"rsc.io/mxdev/driver"
	"rsc.io/mxdev/ipc"
)

const defaultConfig = `
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

const (
	diskSize = 16 << 10
	bufAddr  = 0 // where transfers go in a process's memory
)

// A machine is a booted system driven by script commands.
type machine struct {
	sys  *driver.System
	out  io.Writer
	tty  io.Writer // terminal output
	devs map[string]driver.Device

	procs map[string]*proc

	mu      sync.Mutex
	pending []func() error
}

type proc struct {
	task *ipc.Task
	p    *devio.Proc
	buf  int // bytes a suspended read asked for
}

func newMachine(ctx context.Context, cfg *devio.Config, out, tty io.Writer) (*machine, error) {
	sys, err := driver.Boot(ctx, cfg)
	if err != nil {
		return nil, err
	}
	m := &machine{
		sys:   sys,
		out:   out,
		tty:   tty,
		devs:  make(map[string]driver.Device),
		procs: make(map[string]*proc),
	}
	started := make(map[string]bool)
	for _, d := range cfg.Devices {
		if d.Driver == "" || started[d.Driver] {
			continue
		}
		started[d.Driver] = true
		if err := m.start(ctx, d.Driver); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *machine) device(label string) (driver.Device, error) {
	if d := m.devs[label]; d != nil {
		return d, nil
	}
	var d driver.Device
	switch label {
	case "memory":
		d = &driver.Memory{RAM: make([]byte, 4096)}
	case "disk":
		d = &driver.Disk{Images: [][]byte{make([]byte, diskSize), make([]byte, diskSize)}}
	case "tty":
		d = driver.NewTTY(m.tty, m.tty)
	case "clone":
		d = &driver.Clone{}
	default:
		return nil, errors.Errorf("unknown driver %q", label)
	}
	m.devs[label] = d
	return d, nil
}

// start starts or restarts the driver labelled label.
// A restarted driver keeps the state of the one it replaces.
func (m *machine) start(ctx context.Context, label string) error {
	d, err := m.device(label)
	if err != nil {
		return err
	}
	_, err = m.sys.Start(ctx, label, d)
	return err
}

func (m *machine) printf(format string, args ...any) {
	fmt.Fprintf(m.out, format, args...)
}

func (m *machine) proc(name string) (*proc, error) {
	p := m.procs[name]
	if p == nil {
		return nil, errors.Errorf("no process %s", name)
	}
	return p, nil
}

func parseDev(s string) (devio.DeviceID, error) {
	maj, min, ok := strings.Cut(s, "/")
	if !ok {
		return 0, errors.Errorf("bad device %q", s)
	}
	a, err1 := strconv.Atoi(maj)
	b, err2 := strconv.Atoi(min)
	if err1 != nil || err2 != nil {
		return 0, errors.Errorf("bad device %q", s)
	}
	return devio.MakeDev(a, b), nil
}

func parseFlags(s string) (int, error) {
	flags := 0
	for _, f := range strings.Split(s, ",") {
		switch f {
		case "r":
			flags |= devio.O_RDONLY
		case "w":
			flags |= devio.O_WRONLY
		case "rw":
			flags |= devio.O_RDWR
		case "nonblock":
			flags |= devio.O_NONBLOCK
		case "noctty":
			flags |= devio.O_NOCTTY
		default:
			return 0, errors.Errorf("bad open flag %q", f)
		}
	}
	return flags, nil
}

func atoi(s string) (int, error) {
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.Errorf("bad number %q", s)
	}
	return n, nil
}

// unquote turns a script text argument into bytes.
func unquote(s string) (string, error) {
	if strings.HasPrefix(s, `"`) {
		return strconv.Unquote(s)
	}
	return s, nil
}

// exec runs one script line.
func (m *machine) exec(ctx context.Context, line string) (err error) {
	defer xerr.Contextf(&err, "%s", line)

	f := fields(line)
	if len(f) == 0 {
		return nil
	}
	cmd, args := f[0], f[1:]
	want := func(n int) error {
		if len(args) != n {
			return errors.Errorf("%s takes %d arguments", cmd, n)
		}
		return nil
	}

	switch cmd {
	case "go":
		// Run the rest of the line in the background; join waits for it.
		rest := strings.TrimSpace(strings.TrimPrefix(line, "go"))
		var buf strings.Builder
		done := make(chan error, 1)
		bg := &machine{sys: m.sys, out: &buf, tty: m.tty, devs: m.devs, procs: m.procs}
		go func() { done <- bg.exec(ctx, rest) }()
		m.mu.Lock()
		m.pending = append(m.pending, func() error {
			err := <-done
			m.printf("%s", buf.String())
			return err
		})
		m.mu.Unlock()
		return nil

	case "join":
		m.mu.Lock()
		pending := m.pending
		m.pending = nil
		m.mu.Unlock()
		for _, fn := range pending {
			if err := fn(); err != nil {
				return err
			}
		}
		return nil

	case "spawn":
		if err := want(2); err != nil {
			return err
		}
		pid, err := atoi(args[1])
		if err != nil {
			return err
		}
		it, p, err := m.sys.Spawn(ctx, args[0], pid)
		if err != nil {
			return err
		}
		m.procs[args[0]] = &proc{task: it, p: p}
		return nil

	case "start":
		if err := want(1); err != nil {
			return err
		}
		return m.start(ctx, args[0])

	case "kill":
		if err := want(1); err != nil {
			return err
		}
		return m.sys.Kill(args[0])

	case "input":
		if err := want(3); err != nil {
			return err
		}
		return m.input(ctx, args[0], args[1], args[2])
	}

	if cmd == "bread" || cmd == "bwrite" || cmd == "bgather" {
		return m.block(ctx, cmd, args)
	}

	if len(args) < 1 {
		return errors.Errorf("unknown command %s", cmd)
	}
	p, err := m.proc(args[0])
	if err != nil {
		return err
	}
	args = args[1:]
	return m.call(ctx, p, cmd, args)
}

// fields splits a line into words, keeping quoted strings whole.
func fields(line string) []string {
	var f []string
	for {
		line = strings.TrimLeft(line, " \t")
		if line == "" || line[0] == '#' {
			return f
		}
		if line[0] == '"' {
			i := 1
			for i < len(line) && line[i] != '"' {
				if line[i] == '\\' {
					i++
				}
				i++
			}
			if i < len(line) {
				i++
			}
			f = append(f, line[:i])
			line = line[i:]
			continue
		}
		i := strings.IndexAny(line, " \t")
		if i < 0 {
			i = len(line)
		}
		f = append(f, line[:i])
		line = line[i:]
	}
}

func (m *machine) input(ctx context.Context, label, minor, text string) error {
	n, err := atoi(minor)
	if err != nil {
		return err
	}
	s, err := unquote(text)
	if err != nil {
		return err
	}
	t := m.sys.Driver(label)
	tty, ok := m.devs[label].(*driver.TTY)
	if t == nil || !ok {
		return errors.Errorf("%s is not a running terminal driver", label)
	}
	return t.Do(ctx, func() { tty.Input(t, n, []byte(s)) })
}

// call runs a system call for process p on the server.
func (m *machine) call(ctx context.Context, p *proc, cmd string, args []string) error {
	mem := p.task.Mem()
	switch cmd {
	case "setsid":
		return m.sys.Call(ctx, func(s *devio.Server) error {
			return s.Setsid(p.p.Endpoint)
		})

	case "open":
		if len(args) != 2 {
			return errors.Errorf("open takes a device and flags")
		}
		dev, err := parseDev(args[0])
		if err != nil {
			return err
		}
		flags, err := parseFlags(args[1])
		if err != nil {
			return err
		}
		return m.sys.Call(ctx, func(s *devio.Server) error {
			ip, e := m.sys.FS.MakeNode(dev, devio.I_CHAR_SPECIAL|0o666)
			if e != 0 {
				m.printf("open %v: %v\n", dev, e)
				return nil
			}
			fd, st, err := s.Open(p.p, ip, flags)
			if err != nil {
				return err
			}
			if st != devio.OK {
				m.printf("open %v: %v\n", dev, st)
				return nil
			}
			m.printf("fd %d = %v\n", fd, p.p.Files[fd].Inode.Dev)
			return nil
		})

	case "close":
		if len(args) != 1 {
			return errors.Errorf("close takes a descriptor")
		}
		fd, err := atoi(args[0])
		if err != nil {
			return err
		}
		return m.sys.Call(ctx, func(s *devio.Server) error {
			e, err := s.Close(p.p, fd)
			if err == nil && e != 0 {
				m.printf("close %d: %v\n", fd, e)
			}
			return err
		})

	case "read":
		if len(args) != 2 {
			return errors.Errorf("read takes a descriptor and a count")
		}
		fd, err1 := atoi(args[0])
		n, err2 := atoi(args[1])
		if err := firstErr(err1, err2); err != nil {
			return err
		}
		var st devio.Status
		err := m.sys.Call(ctx, func(s *devio.Server) error {
			var err error
			st, err = s.Read(p.p, fd, bufAddr, n)
			return err
		})
		if err != nil {
			return err
		}
		p.buf = n
		m.report("read", mem, st)
		return nil

	case "write":
		if len(args) != 2 {
			return errors.Errorf("write takes a descriptor and text")
		}
		fd, err := atoi(args[0])
		if err != nil {
			return err
		}
		text, err := unquote(args[1])
		if err != nil {
			return err
		}
		copy(mem[bufAddr:], text)
		var st devio.Status
		err = m.sys.Call(ctx, func(s *devio.Server) error {
			var err error
			st, err = s.Write(p.p, fd, bufAddr, len(text))
			return err
		})
		if err != nil {
			return err
		}
		m.printf("write %v\n", st)
		return nil

	case "ioctl":
		if len(args) != 2 {
			return errors.Errorf("ioctl takes a descriptor and a request")
		}
		fd, err := atoi(args[0])
		if err != nil {
			return err
		}
		req, size, err := ioctlRequest(args[1])
		if err != nil {
			return err
		}
		var st devio.Status
		err = m.sys.Call(ctx, func(s *devio.Server) error {
			var err error
			st, err = s.Ioctl(p.p, fd, req, bufAddr)
			return err
		})
		if err != nil {
			return err
		}
		if st == devio.OK && size > 0 {
			m.printf("ioctl %v % x\n", st, mem[bufAddr:bufAddr+size])
		} else {
			m.printf("ioctl %v\n", st)
		}
		return nil

	case "wait":
		select {
		case r := <-m.sys.Revived:
			if r.Proc != p.p.Endpoint {
				return errors.Errorf("revived %d, not %d", r.Proc, p.p.Endpoint)
			}
			m.report("revive", mem, r.Status)
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}

	case "cancel":
		var st devio.Status
		err := m.sys.Call(ctx, func(s *devio.Server) error {
			var err error
			st, err = s.Cancel(p.p)
			return err
		})
		if err != nil {
			return err
		}
		m.printf("cancel %v\n", st)
		return nil

	case "exit":
		return m.sys.Call(ctx, func(s *devio.Server) error {
			return s.Exit(p.p)
		})
	}
	return errors.Errorf("unknown command %s", cmd)
}

func (m *machine) report(what string, mem []byte, st devio.Status) {
	if st > 0 {
		m.printf("%s %d %q\n", what, st, mem[bufAddr:bufAddr+int(st)])
		return
	}
	m.printf("%s %v\n", what, st)
}

func ioctlRequest(name string) (uint32, int, error) {
	switch name {
	case "TIOCGETP":
		return driver.TIOCGETP, 6, nil
	case "TIOCGWINSZ":
		return driver.TIOCGWINSZ, 8, nil
	case "DIOCGETSIZE":
		return driver.DIOCGETSIZE, 8, nil
	}
	return 0, 0, errors.Errorf("unknown ioctl %s", name)
}

// block does a transfer through the server's own buffer.
func (m *machine) block(ctx context.Context, cmd string, args []string) error {
	if len(args) < 3 {
		return errors.Errorf("%s takes a device, a position and a count or text", cmd)
	}
	dev, err := parseDev(args[0])
	if err != nil {
		return err
	}
	pos, err := atoi(args[1])
	if err != nil {
		return err
	}
	r := &devio.Request{Dev: dev, Pos: int64(pos)}
	var text string
	var sizes []int
	switch cmd {
	case "bread":
		r.Op = devio.DevRead
		r.Bytes, err = atoi(args[2])
	case "bwrite":
		r.Op = devio.DevWrite
		text, err = unquote(args[2])
		r.Bytes = len(text)
	case "bgather":
		r.Op = devio.DevGather
		for i, a := range args[2:] {
			n, err := atoi(a)
			if err != nil {
				return err
			}
			sizes = append(sizes, n)
			r.Vec = append(r.Vec, devio.IOVec{Addr: devio.Addr(i * 1024), Size: uint32(n)})
		}
	}
	if err != nil {
		return err
	}

	var st devio.Status
	var data [][]byte
	err = m.sys.Call(ctx, func(s *devio.Server) error {
		r.Proc = s.Self
		copy(s.Mem, text)
		var err error
		st, err = s.BlockIO(ctx, r)
		if err != nil {
			return err
		}
		if cmd == "bread" && st > 0 {
			data = append(data, append([]byte(nil), s.Mem[:st]...))
		}
		for i, v := range r.Vec {
			got := sizes[i] - int(v.Size)
			data = append(data, append([]byte(nil), s.Mem[i*1024:i*1024+got]...))
		}
		return nil
	})
	if err != nil {
		return err
	}
	if len(data) == 0 {
		m.printf("%s %v\n", cmd, st)
		return nil
	}
	m.printf("%s %v", cmd, st)
	for _, d := range data {
		m.printf(" %q", d)
	}
	m.printf("\n")
	return nil
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
