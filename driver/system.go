// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package driver

import (
	"context"

	log "github.com/golang/glog"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"rsc.io/mxdev/devio"
	"rsc.io/mxdev/grant"
	"rsc.io/mxdev/ipc"
)

const (
	serverMem = 64 << 10
	procMem   = 16 << 10
	driverMem = 4 << 10
)

// A Revival is the completion of a suspended call.
type Revival struct {
	Proc   devio.Endpoint
	Status devio.Status
}

// A ReadyEvent is a readiness report forwarded by the server.
type ReadyEvent struct {
	Major, Minor int
	Ops          uint32
}

// A System is a running server with its drivers and processes.
type System struct {
	Kernel *ipc.Kernel
	Config *devio.Config
	Server *devio.Server
	Grants *grant.Table
	FS     *devio.FileTable

	// Revived and Ready receive what the server reports upward.
	Revived chan Revival
	Ready   chan ReadyEvent

	eg      *errgroup.Group
	ctx     context.Context
	calls   chan func(*devio.Server) error
	drivers map[string]*Task
}

// Boot starts a server for cfg. Drivers are started with Start.
// The system runs until ctx is done or Wait reports an error.
func Boot(ctx context.Context, cfg *devio.Config) (*System, error) {
	k := ipc.New()
	st, err := k.Spawn("fs", serverMem)
	if err != nil {
		return nil, err
	}
	g := grant.New(st.Endpoint(), k)
	fs := new(devio.FileTable)
	srv, err := devio.NewServer(st.Endpoint(), st.Mem(), st, g, cfg.Table(), fs)
	if err != nil {
		return nil, err
	}

	eg, ctx := errgroup.WithContext(ctx)
	sys := &System{
		Kernel:  k,
		Config:  cfg,
		Server:  srv,
		Grants:  g,
		FS:      fs,
		Revived: make(chan Revival, devio.NR_PROCS),
		Ready:   make(chan ReadyEvent, 64),
		eg:      eg,
		ctx:     ctx,
		calls:   make(chan func(*devio.Server) error),
		drivers: make(map[string]*Task),
	}
	srv.Reply = sys
	srv.Select = sys
	eg.Go(func() error {
		defer k.Close()
		return srv.Run(ctx, sys.calls)
	})
	return sys, nil
}

// Wait waits for the system to stop.
func (sys *System) Wait() error {
	return sys.eg.Wait()
}

func (sys *System) Revive(p *devio.Proc, st devio.Status) {
	select {
	case sys.Revived <- Revival{p.Endpoint, st}:
	default:
		log.Warningf("system: revival of %d dropped", p.Endpoint)
	}
}

func (sys *System) Notified(major, minor int, ops uint32) {
	select {
	case sys.Ready <- ReadyEvent{major, minor, ops}:
	default:
	}
}

// Call runs fn on the server's goroutine and returns its error.
func (sys *System) Call(ctx context.Context, fn func(*devio.Server) error) error {
	done := make(chan error, 1)
	select {
	case sys.calls <- func(s *devio.Server) error {
		err := fn(s)
		done <- err
		return err
	}:
	case <-ctx.Done():
		return ctx.Err()
	case <-sys.ctx.Done():
		return sys.ctx.Err()
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start runs dev as the driver labelled label and binds it to every
// major configured for that label. A driver already running under
// the label is replaced: the old task is killed and the server is
// told about the new one, which brings its devices back up.
func (sys *System) Start(ctx context.Context, label string, dev Device) (*Task, error) {
	it, err := sys.Kernel.Spawn(label, driverMem)
	if err != nil {
		return nil, err
	}
	t := NewTask(it, sys.Grants, sys.Server.Self, dev)
	sys.eg.Go(func() error {
		err := t.Serve(sys.ctx)
		if errors.Is(err, ipc.ErrKilled) || errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	})

	old := sys.drivers[label]
	sys.drivers[label] = t
	if old != nil {
		log.Infof("system: replacing driver %s (%d -> %d)", label, old.IPC.Endpoint(), it.Endpoint())
		if err := sys.Kernel.Kill(old.IPC.Endpoint()); err != nil && !errors.Is(err, devio.EDEADSRCDST) {
			return nil, err
		}
	}
	for _, d := range sys.Config.Devices {
		if d.Driver != label {
			continue
		}
		e, err := sys.Server.Dmap.Request(ctx, &devio.Devctl{Req: devio.DevMap, Major: d.Major, Driver: it.Endpoint()})
		if err != nil {
			return nil, err
		}
		if e != 0 {
			return nil, errors.Wrapf(e, "map %s on major %d", label, d.Major)
		}
	}
	return t, nil
}

// Kill kills the driver labelled label without replacing it.
func (sys *System) Kill(label string) error {
	t := sys.drivers[label]
	if t == nil {
		return errors.Errorf("no driver %s", label)
	}
	delete(sys.drivers, label)
	return sys.Kernel.Kill(t.IPC.Endpoint())
}

// Driver returns the running driver labelled label.
func (sys *System) Driver(label string) *Task {
	return sys.drivers[label]
}

// Spawn creates a user process.
func (sys *System) Spawn(ctx context.Context, name string, pid int) (*ipc.Task, *devio.Proc, error) {
	it, err := sys.Kernel.Spawn(name, procMem)
	if err != nil {
		return nil, nil, err
	}
	var p *devio.Proc
	err = sys.Call(ctx, func(s *devio.Server) error {
		var e devio.Errno
		p, e = s.AddProc(it.Endpoint(), pid)
		if e != 0 {
			return e
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return it, p, nil
}
