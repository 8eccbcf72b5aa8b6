// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devio

import (
	"fmt"

	log "github.com/golang/glog"
	"github.com/pkg/errors"
)

// DevStatus drains the status a driver has pending.
// It runs when driver src notifies the server.
func (s *Server) DevStatus(src Endpoint) error {
	d := s.Dmap.byEndpoint(src)
	if d < 0 {
		return nil
	}

	for {
		st := Message{Type: DevStatus, Grant: GrantInvalid}
		if err := s.Kernel.SendRec(src, &st); err != nil {
			log.Warningf("devio: DEV_STATUS failed to %d: %v", src, err)
			var e Errno
			if errors.As(err, &e) && deadPeer(e) {
				return nil
			}
			return fatal(err, fmt.Sprintf("couldn't sendrec for DEV_STATUS to %d", src))
		}

		switch st.Type {
		case DevRevive:
			endpt := st.RepEndpt
			if endpt == s.Self {
				endpt = s.suspendedEp(src, st.Grant)
				if endpt == None {
					log.Warningf("devio: proc with grant %d from %d not found (revive)", st.Grant, src)
					continue
				}
			}
			if err := s.revive(src, endpt, st.Status); err != nil {
				return err
			}

		case DevIOReady:
			s.Select.Notified(d, st.Device, st.SelOps)

		case DevNoStatus:
			return nil

		default:
			log.Warningf("devio: unrecognized reply %v to DEV_STATUS from %d", st.Type, src)
			return nil
		}
	}
}

// suspendedEp finds the process suspended on driver with grant g.
func (s *Server) suspendedEp(driver Endpoint, g GrantID) Endpoint {
	for _, p := range s.Procs {
		sc := p.Suspended
		if sc != nil && sc.Task == Kernel(driver) && sc.Grant == g {
			return p.Endpoint
		}
	}
	return None
}

// revive completes the call process ep was suspended on,
// if that call is pending on driver.
func (s *Server) revive(driver, ep Endpoint, status Status) error {
	p := s.lookup(ep)
	if p == nil || p.Suspended == nil {
		log.Warningf("devio: revive for %d, which is not suspended", ep)
		return nil
	}
	sc := p.Suspended
	if sc.Task != Kernel(driver) {
		log.Warningf("devio: revive for %d from %d, but it is suspended on %v", ep, driver, sc.Task)
		return nil
	}
	p.Suspended = nil
	if sc.Grant.Valid() {
		if err := s.Grants.Revoke(sc.Grant); err != nil {
			return fatal(err, "revoke on revive")
		}
	}
	if log.V(1) {
		log.Infof("devio: revive %d: %v", ep, status)
	}
	s.Reply.Revive(p, status)
	return nil
}
