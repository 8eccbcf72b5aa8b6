// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Mxrun boots the device server with simulated drivers.
//
// Usage:
//
//	mxrun [-config file] run
//	mxrun [-config file] replay scenario.txtar...
//
// Run attaches the terminal to terminal line 1 and echoes what is
// typed there back through /dev/tty. Type ^\ to quit.
//
// Replay runs scripted scenarios and prints their transcripts.
package main

import (
	"context"
	"flag"
	"os"

	log "github.com/golang/glog"
	"github.com/google/subcommands"

	"rsc.io/mxdev/devio"
)

var configFile = flag.String("config", "", "read driver table from `file`")

func main() {
	flag.Set("logtostderr", "true")
	subcommands.Register(subcommands.HelpCommand(), "")
	subcommands.Register(subcommands.FlagsCommand(), "")
	subcommands.Register(&runCmd{}, "")
	subcommands.Register(&replayCmd{}, "")
	flag.Parse()
	defer log.Flush()

	os.Exit(int(subcommands.Execute(context.Background())))
}

func loadConfig() (*devio.Config, error) {
	if *configFile == "" {
		return devio.ParseConfig(defaultConfig)
	}
	return devio.LoadConfig(*configFile)
}
