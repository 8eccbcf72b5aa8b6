// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devio

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBlockIO(t *testing.T) {
	ts := newTestServer(t)
	st, err := ts.BlockIO(context.Background(), &Request{Op: DevRead, Dev: MakeDev(diskMajor, 0), Proc: self, Buf: 0, Pos: 512, Bytes: 64})
	require.NoError(t, err)
	require.Equal(t, Status(64), st)
	require.Equal(t, []fakeGrant{{diskEp, self, 0, 64, AccessWrite}}, ts.g.made)
	require.Equal(t, 1, ts.g.revoked)
	require.Equal(t, int64(512), ts.k.sentOf(DevReadS)[0].m.Position)
}

func TestBlockIORecovery(t *testing.T) {
	ts := newTestServer(t)
	delete(ts.k.drivers, diskEp) // the driver dies
	ts.k.drivers[disk2] = accept

	ctx := context.Background()
	done := make(chan Errno, 1)
	go func() {
		e, err := ts.Dmap.Request(ctx, &Devctl{Req: DevMap, Major: diskMajor, Driver: disk2})
		if err != nil {
			e = EIO
		}
		done <- e
	}()

	vec := []IOVec{{0, 32}, {32, 32}}
	st, err := ts.BlockIO(ctx, &Request{Op: DevScatter, Dev: MakeDev(diskMajor, 1), Proc: self, Vec: vec})
	require.NoError(t, err)
	require.Equal(t, OK, st)
	require.Equal(t, Errno(0), <-done)
	require.Equal(t, disk2, ts.Dmap.Lookup(diskMajor).Driver)

	sent := ts.k.sentOf(DevScatterS)
	require.Len(t, sent, 2)
	require.Equal(t, diskEp, sent[0].to)
	require.Equal(t, disk2, sent[1].to)
	require.Equal(t, 6, ts.g.created)
	require.Equal(t, 6, ts.g.revoked)
	require.False(t, ts.arena.busy)
}

func TestBlockIOCancelled(t *testing.T) {
	ts := newTestServer(t)
	delete(ts.k.drivers, diskEp)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := ts.BlockIO(ctx, &Request{Op: DevRead, Dev: MakeDev(diskMajor, 0), Proc: self, Bytes: 8})
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, IsFatal(err))
	require.Equal(t, ts.g.created, ts.g.revoked)
}

func TestBlockIOErrors(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	_, err := ts.BlockIO(ctx, &Request{Op: DevRead, Dev: MakeDev(diskMajor, 0), Proc: 100, Bytes: 8})
	require.True(t, IsFatal(err), "err = %v", err)

	st, err := ts.BlockIO(ctx, &Request{Op: DevRead, Dev: MakeDev(9, 0), Proc: self, Bytes: 8})
	require.NoError(t, err)
	require.Equal(t, StatusOf(ENXIO), st)

	ts.k.drivers[diskEp] = func(m *Message) error {
		reply(m, StatusOf(ENOSPC))
		return nil
	}
	st, err = ts.BlockIO(ctx, &Request{Op: DevWrite, Dev: MakeDev(diskMajor, 0), Proc: self, Bytes: 8})
	require.NoError(t, err)
	require.Equal(t, StatusOf(ENOSPC), st)

	ts.k.drivers[diskEp] = func(m *Message) error {
		reply(m, Suspend)
		return nil
	}
	_, err = ts.BlockIO(ctx, &Request{Op: DevWrite, Dev: MakeDev(diskMajor, 0), Proc: self, Bytes: 8})
	require.True(t, IsFatal(err), "err = %v", err)
}
