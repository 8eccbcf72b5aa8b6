// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devio

import (
	"context"

	log "github.com/golang/glog"
)

// Run serves the server until ctx is done or something fatal happens.
// Calls from the layer above arrive on calls and run one at a time,
// interleaved with driver notifications and supervisor directives.
// Only Run's goroutine may touch the server while Run is running.
func (s *Server) Run(ctx context.Context, calls <-chan func(*Server) error) error {
	notify := s.Kernel.Notifications()
	for {
		var err error
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fn, ok := <-calls:
			if !ok {
				return nil
			}
			err = fn(s)
		case src := <-notify:
			err = s.DevStatus(src)
		case d := <-s.Dmap.Devctl():
			err = s.devctl(d)
		}
		if err != nil {
			if IsFatal(err) {
				log.Errorf("%v", err)
				return err
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.Warningf("devio: %v", err)
		}
	}
}
