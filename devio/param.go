// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devio

/*
 * tunable variables
 */
const (
	NR_DEVICES = 32 /* number of entries in the driver table */
	NR_IOREQS  = 64 /* max segments in one vectored transfer */
	NR_PROCS   = 100
	NOFILE     = 20 /* max open files per process */
)

/* open flags, as passed to the driver in the COUNT field */
const (
	O_RDONLY   = 0
	O_WRONLY   = 1
	O_RDWR     = 2
	O_NOCTTY   = 0o400
	O_NONBLOCK = 0o4000
)

/* access bits in an inode mode and in open requests */
const (
	R_BIT = 4
	W_BIT = 2
	X_BIT = 1
)

/* inode modes */
const (
	I_TYPE          uint16 = 0o170000
	I_REGULAR       uint16 = 0o100000
	I_BLOCK_SPECIAL uint16 = 0o060000
	I_DIRECTORY     uint16 = 0o040000
	I_CHAR_SPECIAL  uint16 = 0o020000
	ALL_MODES       uint16 = 0o007777
)

// A CallNr names the system call that started a transfer.
// Only READ and WRITE matter here: they select the role bit
// of a cancellation.
type CallNr int

const (
	CallOther CallNr = iota
	READ
	WRITE
	IOCTL
)
