// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devio

import "fmt"

const (
	EPERM Errno = 1 + iota
	ENOENT
	ESRCH
	EINTR
	EIO
	ENXIO
	E2BIG
	ENOEXEC
	EBADF
	ECHILD
	EAGAIN
	ENOMEM
	EACCES
	EFAULT
	ENOTBLK
	EBUSY
	EEXIST
	EXDEV
	ENODEV
	ENOTDIR
	EISDIR
	EINVAL
	ENFILE
	EMFILE
	ENOTTY
	ETXTBSY
	EFBIG
	ENOSPC
	ESPIPE
	EROFS
	EMLINK
	EPIPE
)

/* errors reported by the message substrate */
const (
	ELOCKED     Errno = 101
	EBADCALL    Errno = 102
	EBADSRCDST  Errno = 103
	ECALLDENIED Errno = 104
	EDEADSRCDST Errno = 105
	ENOTREADY   Errno = 106
	EBADREQUEST Errno = 107
	ESRCDIED    Errno = 108
	EDSTDIED    Errno = 109
)

type Errno int16

func (e Errno) Error() string {
	if 0 <= e && int(e) < len(enames) && enames[e] != "" {
		return enames[e]
	}
	if ELOCKED <= e && e <= EDSTDIED {
		return ipcnames[e-ELOCKED]
	}
	return fmt.Sprintf("Errno(%d)", int(e))
}

// deadPeer reports whether e says the other side of a sendrec is gone.
func deadPeer(e Errno) bool {
	return e == EDEADSRCDST || e == EDSTDIED || e == ESRCDIED
}

var enames = []string{
	"",
	"EPERM",
	"ENOENT",
	"ESRCH",
	"EINTR",
	"EIO",
	"ENXIO",
	"E2BIG",
	"ENOEXEC",
	"EBADF",
	"ECHILD",
	"EAGAIN",
	"ENOMEM",
	"EACCES",
	"EFAULT",
	"ENOTBLK",
	"EBUSY",
	"EEXIST",
	"EXDEV",
	"ENODEV",
	"ENOTDIR",
	"EISDIR",
	"EINVAL",
	"ENFILE",
	"EMFILE",
	"ENOTTY",
	"ETXTBSY",
	"EFBIG",
	"ENOSPC",
	"ESPIPE",
	"EROFS",
	"EMLINK",
	"EPIPE",
}

var ipcnames = []string{
	"ELOCKED",
	"EBADCALL",
	"EBADSRCDST",
	"ECALLDENIED",
	"EDEADSRCDST",
	"ENOTREADY",
	"EBADREQUEST",
	"ESRCDIED",
	"EDSTDIED",
}

// A Status is the completion value of a driver call:
// a non-negative result, a negated Errno, or Suspend.
type Status int32

const (
	OK      Status = 0
	Suspend Status = -998 // the call cannot complete yet
)

// StatusOf returns the status that reports e.
func StatusOf(e Errno) Status {
	return Status(-int32(e))
}

// Errno returns the error carried by s, or 0 if s is not an error.
func (s Status) Errno() Errno {
	if s >= 0 || s == Suspend {
		return 0
	}
	return Errno(-s)
}

func (s Status) String() string {
	switch {
	case s == Suspend:
		return "SUSPEND"
	case s < 0:
		return Errno(-s).Error()
	}
	return fmt.Sprintf("%d", int32(s))
}
