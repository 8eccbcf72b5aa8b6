// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"flag"
	"io"
	"os"
	"strconv"
	"strings"

	log "github.com/golang/glog"
	"github.com/google/subcommands"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"

	"rsc.io/mxdev/devio"
	"rsc.io/mxdev/driver"
)

// runCmd implements subcommands.Command for the "run" command.
type runCmd struct {
	minor int
}

func (*runCmd) Name() string     { return "run" }
func (*runCmd) Synopsis() string { return "attach the terminal to a simulated terminal line" }
func (*runCmd) Usage() string {
	return `run [-minor n]:
	Read lines from terminal line n and write them back through /dev/tty.
`
}

func (c *runCmd) SetFlags(f *flag.FlagSet) {
	f.IntVar(&c.minor, "minor", 1, "terminal line to attach")
}

func (c *runCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	cfg, err := loadConfig()
	if err != nil {
		log.Errorf("%v", err)
		return subcommands.ExitFailure
	}

	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		log.Errorf("%v", err)
		return subcommands.ExitFailure
	}
	fixup := func() { term.Restore(int(os.Stdin.Fd()), oldState) }
	defer fixup()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := c.run(ctx, cancel, cfg); err != nil && ctx.Err() == nil {
		fixup()
		log.Errorf("%v", err)
		return subcommands.ExitFailure
	}
	return subcommands.ExitSuccess
}

func (c *runCmd) run(ctx context.Context, quit func(), cfg *devio.Config) error {
	out := crlfWriter{os.Stdout}
	m, err := newMachine(ctx, cfg, io.Discard, out)
	if err != nil {
		return err
	}
	tty, ok := m.devs["tty"].(*driver.TTY)
	if !ok {
		return errors.New("no terminal driver configured")
	}
	if c.minor < 0 || c.minor >= len(tty.Lines) {
		return errors.Errorf("no terminal line %d", c.minor)
	}

	// The reader is not waited for: it blocks in Read until the next key.
	t := m.sys.Driver("tty")
	go func() {
		buf := make([]byte, 100)
		for {
			n, err := os.Stdin.Read(buf)
			in := append([]byte(nil), buf[:n]...)
			if bytes.IndexByte(in, 0x1c) >= 0 {
				quit()
				return
			}
			if err == io.EOF {
				in = append(in, driver.CEOT)
			}
			if len(in) > 0 {
				if t.Do(ctx, func() { tty.Input(t, c.minor, in) }) != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer quit()
		return m.sys.Wait()
	})
	g.Go(func() error {
		defer quit()
		return c.echo(ctx, m)
	})
	return g.Wait()
}

// echo is the one process of the run command: a session leader that
// acquires the terminal and copies each line it reads to /dev/tty.
func (c *runCmd) echo(ctx context.Context, m *machine) error {
	lines := []string{
		"spawn sh 1",
		"setsid sh",
		"open sh 4/" + strconv.Itoa(c.minor) + " rw",
		"open sh 5/0 w",
	}
	for _, l := range lines {
		if err := m.exec(ctx, l); err != nil {
			return err
		}
	}
	sh := m.procs["sh"]
	for {
		var st devio.Status
		err := m.sys.Call(ctx, func(s *devio.Server) error {
			var err error
			st, err = s.Read(sh.p, 0, bufAddr, 256)
			return err
		})
		if err != nil {
			return err
		}
		if st == devio.Suspend {
			select {
			case r := <-m.sys.Revived:
				st = r.Status
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		if st <= 0 {
			return nil
		}
		n := int(st)
		err = m.sys.Call(ctx, func(s *devio.Server) error {
			_, err := s.Write(sh.p, 1, bufAddr, n)
			return err
		})
		if err != nil {
			return err
		}
	}
}

// crlfWriter turns \n into \r\n for a terminal in raw mode.
type crlfWriter struct {
	w io.Writer
}

func (c crlfWriter) Write(b []byte) (int, error) {
	_, err := c.w.Write([]byte(strings.ReplaceAll(string(b), "\n", "\r\n")))
	return len(b), err
}
