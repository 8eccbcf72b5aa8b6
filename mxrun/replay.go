// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	log "github.com/golang/glog"
	"github.com/google/subcommands"
	"github.com/pkg/errors"
	"golang.org/x/tools/txtar"
	"lab.nexedi.com/kirr/go123/xerr"

	"rsc.io/mxdev/devio"
)

// replayCmd implements subcommands.Command for the "replay" command.
type replayCmd struct {
	check bool
}

func (*replayCmd) Name() string     { return "replay" }
func (*replayCmd) Synopsis() string { return "run scripted scenarios" }
func (*replayCmd) Usage() string {
	return `replay [-check] file.txtar...:
	Run the script in each archive and print its transcript.
	An archive holds a script, optionally a config.toml, and with
	-check the transcript it must produce, as "want".
`
}

func (c *replayCmd) SetFlags(f *flag.FlagSet) {
	f.BoolVar(&c.check, "check", false, "compare transcripts with the archive's want file")
}

func (c *replayCmd) Execute(ctx context.Context, f *flag.FlagSet, args ...interface{}) subcommands.ExitStatus {
	if f.NArg() == 0 {
		f.Usage()
		return subcommands.ExitUsageError
	}
	status := subcommands.ExitSuccess
	for _, file := range f.Args() {
		ar, err := txtar.ParseFile(file)
		if err != nil {
			log.Errorf("%v", err)
			return subcommands.ExitFailure
		}
		var out bytes.Buffer
		if err := replay(ctx, ar, &out); err != nil {
			log.Errorf("%s: %v", file, err)
			status = subcommands.ExitFailure
			continue
		}
		if !c.check {
			os.Stdout.Write(out.Bytes())
			continue
		}
		if want := section(ar, "want"); want != nil && !bytes.Equal(out.Bytes(), want) {
			log.Errorf("%s: transcript differs:\nhave:\n%s\nwant:\n%s", file, out.Bytes(), want)
			status = subcommands.ExitFailure
		}
	}
	return status
}

func section(ar *txtar.Archive, name string) []byte {
	for _, f := range ar.Files {
		if f.Name == name {
			return f.Data
		}
	}
	return nil
}

// replay boots a system for ar, runs its script, and writes the
// transcript to out. Terminal output is part of the transcript,
// prefixed with "tty: ".
func replay(ctx context.Context, ar *txtar.Archive, out io.Writer) (err error) {
	var cfg *devio.Config
	if text := section(ar, "config.toml"); text != nil {
		cfg, err = devio.ParseConfig(string(text))
	} else {
		cfg, err = devio.ParseConfig(defaultConfig)
	}
	if err != nil {
		return err
	}
	script := section(ar, "script")
	if script == nil {
		return errors.New("no script in archive")
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	m, err := newMachine(ctx, cfg, out, &ttyLog{w: out})
	if err != nil {
		return err
	}
	for i, line := range strings.Split(string(script), "\n") {
		if err := m.execLine(ctx, i+1, line); err != nil {
			return err
		}
	}
	cancel()
	if err := m.sys.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

func (m *machine) execLine(ctx context.Context, lineno int, line string) (err error) {
	defer xerr.Contextf(&err, "script:%d", lineno)
	return m.exec(ctx, line)
}

// ttyLog records terminal output in the transcript.
type ttyLog struct {
	w io.Writer
}

func (t *ttyLog) Write(b []byte) (int, error) {
	fmt.Fprintf(t.w, "tty: %q\n", b)
	return len(b), nil
}
