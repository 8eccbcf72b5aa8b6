// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devio

import (
	"context"

	log "github.com/golang/glog"
)

// BlockIO transfers to or from a buffer in the server's own memory.
// Block I/O never suspends. If the driver dies during the transfer,
// BlockIO waits for the supervisor to bind a new driver to the major
// and then starts over; there is no limit on how often it does so.
func (s *Server) BlockIO(ctx context.Context, r *Request) (Status, error) {
	/* The vector copying relies on this I/O being for the server itself. */
	if r.Proc != s.Self {
		return 0, fatalf("dev_bio for non-self %d", r.Proc)
	}

	e := s.Dmap.Lookup(r.Dev.Major())
	for {
		/* See if driver is roughly valid. */
		if !e.bound() {
			log.Warningf("devio: dev_bio: no driver for dev %v", r.Dev)
			return StatusOf(ENXIO), nil
		}
		driver := e.Driver

		var m Message
		sio, safe, err := s.safeIOConversion(driver, r, &m)
		if err != nil {
			return 0, err
		}
		m.Device = r.Dev.Minor()
		m.HighPos = 0

		st, err := e.Style.IO(s, nil, driver, &m)
		if err != nil {
			return 0, err
		}

		// As block I/O never suspends, cleanup is done
		// whether the I/O succeeded or not.
		if safe {
			if err := s.safeIOCleanup(sio); err != nil {
				return 0, err
			}
		}

		if !e.bound() {
			/* Driver has vanished. Wait for a new one. */
			if err := s.awaitDriver(ctx, e); err != nil {
				return 0, err
			}
			log.Infof("devio: dev_bio: trying new driver %d for dev %v", e.Driver, r.Dev)
			continue
		}
		if st != OK {
			return st, nil
		}
		if m.Status == Suspend {
			return 0, fatalf("dev_bio: driver %d returned SUSPEND", driver)
		}
		return m.Status, nil
	}
}

// awaitDriver serves supervisor directives until e is bound again.
func (s *Server) awaitDriver(ctx context.Context, e *Entry) error {
	for {
		select {
		case d := <-s.Dmap.Devctl():
			if err := s.devctl(d); err != nil {
				return err
			}
		case <-ctx.Done():
			return ctx.Err()
		}
		if e.bound() {
			return nil
		}
	}
}
