// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devio

// A Request is a transfer on a device as the file system layer
// asks for it.
type Request struct {
	Op    Op // DevRead, DevWrite, DevGather, DevScatter or DevIoctl
	Dev   DeviceID
	Proc  Endpoint // in whose address space is Buf?
	Buf   Addr
	Vec   []IOVec // DevGather, DevScatter: segments in the server's memory
	Pos   int64
	Bytes int
	Ioctl uint32 // DevIoctl: the request code
	Flags int    // O_NONBLOCK
	Call  CallNr // system call that started the transfer
}

// A vecArena holds the shadow vector of the one vectored transfer
// that may be in flight. Dispatch is single threaded and never
// issues a vectored transfer from inside another, so one arena is
// enough; a second user is an invariant violation.
type vecArena struct {
	base Addr
	mem  []byte
	busy bool
}

func (a *vecArena) acquire() error {
	if a.busy {
		return fatalf("vector arena already in use")
	}
	a.busy = true
	return nil
}

// safeIO is what a conversion allocated and cleanup must give back.
type safeIO struct {
	gid       GrantID
	gids      [NR_IOREQS]GrantID
	vecGrants int // number of gids in use
	arena     *vecArena
	vec       []IOVec // caller's vector, updated from the shadow on cleanup
}

// safeIOConversion fills m for r, converting the operation to its
// safe variant: the driver gets grants instead of addresses, and
// IOEndpt becomes the server itself. It reports whether it converted;
// if so, safeIOCleanup must run exactly once for the result.
func (s *Server) safeIOConversion(driver Endpoint, r *Request, m *Message) (*safeIO, bool, error) {
	sio := &safeIO{gid: GrantInvalid}

	m.Type = r.Op
	m.IOEndpt = r.Proc
	m.Address = r.Buf
	m.Grant = GrantInvalid
	m.Position = r.Pos
	m.Count = r.Bytes

	var err error
	switch r.Op {
	case DevRead, DevWrite:
		access := AccessRead
		m.Type = DevWriteS
		if r.Op == DevRead {
			access = AccessWrite
			m.Type = DevReadS
		}
		sio.gid, err = s.Grants.GrantMagic(driver, r.Proc, r.Buf, r.Bytes, access)
		if err != nil {
			return nil, false, fatal(err, "grant of buffer failed")
		}

	case DevGather, DevScatter:
		if len(r.Vec) > NR_IOREQS {
			return nil, false, fatalf("vector too big: %d segments, max %d", len(r.Vec), NR_IOREQS)
		}
		if err := s.arena.acquire(); err != nil {
			return nil, false, err
		}
		sio.arena = &s.arena
		sio.vec = r.Vec

		access := AccessRead
		m.Type = DevScatterS
		if r.Op == DevGather {
			access = AccessWrite
			m.Type = DevGatherS
		}

		/* Grant access to the shadow vector. */
		sio.gid, err = s.Grants.GrantDirect(driver, s.arena.base, len(r.Vec)*IOVecSize, AccessRead|AccessWrite)
		if err != nil {
			return nil, false, fatal(err, "grant of vector failed")
		}

		/* Grant access to the buffers. */
		shadow := make([]IOVec, len(r.Vec))
		for j, v := range r.Vec {
			g, err := s.Grants.GrantDirect(driver, v.Addr, int(v.Size), access)
			if err != nil {
				return nil, false, fatal(err, "grant of vector buffer failed")
			}
			sio.gids[j] = g
			sio.vecGrants++
			shadow[j] = IOVec{Addr: Addr(g), Size: v.Size}
		}
		PutIOVecs(s.arena.mem, shadow)
		m.Address = s.arena.base
		m.Count = len(r.Vec)

	case DevIoctl:
		m.Position = int64(r.Proc) // old endpoint in POSITION field
		m.Type = DevIoctlS
		m.Request = r.Ioctl
		m.Count = 0

		// The grant is made even if no data moves,
		// so that the driver can tell the request is safe.
		sio.gid, err = s.Grants.GrantMagic(driver, r.Proc, r.Buf, IoctlSize(r.Ioctl), ioctlAccess(r.Ioctl))
		if err != nil {
			return nil, false, fatal(err, "grant for ioctl failed")
		}
	}

	if !sio.gid.Valid() {
		return sio, false, nil
	}
	m.IOEndpt = s.Self
	m.Grant = sio.gid
	return sio, true, nil
}

// safeIOCleanup revokes the grants safeIOConversion made.
func (s *Server) safeIOCleanup(sio *safeIO) error {
	if err := s.Grants.Revoke(sio.gid); err != nil {
		return fatal(err, "revoke")
	}
	for j := 0; j < sio.vecGrants; j++ {
		if err := s.Grants.Revoke(sio.gids[j]); err != nil {
			return fatal(err, "revoke vector grant")
		}
	}
	if a := sio.arena; a != nil {
		for j, v := range IOVecs(a.mem, len(sio.vec)) {
			sio.vec[j].Size = v.Size
		}
		a.busy = false
		sio.arena = nil
	}
	sio.gid = GrantInvalid
	sio.vecGrants = 0
	return nil
}
