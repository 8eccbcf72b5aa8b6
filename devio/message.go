// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devio

import (
	"encoding/binary"
	"fmt"
)

// A DeviceID names a device: the major number selects a driver table
// entry and the minor number is passed to the driver uninterpreted.
type DeviceID uint16

const (
	MAJOR = 8 /* major device = (dev>>MAJOR) & 0377 */
	MINOR = 0 /* minor device = (dev>>MINOR) & 0377 */
	BYTE  = 0o377

	NoDev DeviceID = 0
)

func MakeDev(major, minor int) DeviceID {
	return DeviceID((major&BYTE)<<MAJOR | (minor&BYTE)<<MINOR)
}

func (d DeviceID) Major() int { return int(d>>MAJOR) & BYTE }
func (d DeviceID) Minor() int { return int(d>>MINOR) & BYTE }

// WithMinor returns d with its minor number replaced.
func (d DeviceID) WithMinor(minor int) DeviceID {
	return d&^(BYTE<<MINOR) | DeviceID(minor&BYTE)<<MINOR
}

func (d DeviceID) String() string {
	return fmt.Sprintf("%d/%d", d.Major(), d.Minor())
}

// An Endpoint identifies a process or task to the message substrate.
// Endpoints include an incarnation number, so an endpoint that
// outlives its process is detectably stale.
type Endpoint int32

// None is the endpoint of nobody; a driver entry bound to None is unbound.
const None Endpoint = -1

// A TaskRef says what a suspended process is waiting on.
type TaskRef struct {
	Kind TaskKind
	Ep   Endpoint
}

type TaskKind uint8

const (
	NoTask TaskKind = iota
	KernelTask
	ProcessTask
)

// Kernel returns a reference to driver task ep.
func Kernel(ep Endpoint) TaskRef { return TaskRef{KernelTask, ep} }

// Process returns a reference to user process ep.
func Process(ep Endpoint) TaskRef { return TaskRef{ProcessTask, ep} }

func (t TaskRef) String() string {
	switch t.Kind {
	case KernelTask:
		return fmt.Sprintf("kernel(%d)", t.Ep)
	case ProcessTask:
		return fmt.Sprintf("process(%d)", t.Ep)
	}
	return "none"
}

// An Addr is a virtual address in some process.
type Addr uint32

// A GrantID names a capability created in the server's grant table.
type GrantID int32

const GrantInvalid GrantID = -1

func (g GrantID) Valid() bool { return g >= 0 }

// Access says what a grantee may do with granted memory.
type Access uint8

const (
	AccessRead  Access = 1 << iota // driver may read
	AccessWrite                    // driver may write
)

func (a Access) String() string {
	s := ""
	if a&AccessRead != 0 {
		s += "r"
	} else {
		s += "-"
	}
	if a&AccessWrite != 0 {
		s += "w"
	} else {
		s += "-"
	}
	return s
}

// An Op is a message type.
type Op int

const (
	TaskReply Op = iota

	DevOpen
	DevClose
	DevRead
	DevWrite
	DevReadS
	DevWriteS
	DevGather
	DevScatter
	DevGatherS
	DevScatterS
	DevIoctl
	DevIoctlS
	Cancel

	/* out of band, between a driver and the server */
	DevStatus
	DevRevive
	DevIOReady
	DevNoStatus
)

var opnames = []string{
	TaskReply:   "TASK_REPLY",
	DevOpen:     "DEV_OPEN",
	DevClose:    "DEV_CLOSE",
	DevRead:     "DEV_READ",
	DevWrite:    "DEV_WRITE",
	DevReadS:    "DEV_READ_S",
	DevWriteS:   "DEV_WRITE_S",
	DevGather:   "DEV_GATHER",
	DevScatter:  "DEV_SCATTER",
	DevGatherS:  "DEV_GATHER_S",
	DevScatterS: "DEV_SCATTER_S",
	DevIoctl:    "DEV_IOCTL",
	DevIoctlS:   "DEV_IOCTL_S",
	Cancel:      "CANCEL",
	DevStatus:   "DEV_STATUS",
	DevRevive:   "DEV_REVIVE",
	DevIOReady:  "DEV_IO_READY",
	DevNoStatus: "DEV_NO_STATUS",
}

func (op Op) String() string {
	if 0 <= op && int(op) < len(opnames) {
		return opnames[op]
	}
	return fmt.Sprintf("Op(%d)", int(op))
}

// A Message is the unit exchanged with a driver.
// The same message carries the request and, after sendrec, the reply.
type Message struct {
	Type   Op
	Source Endpoint

	Device   int      // minor device
	IOEndpt  Endpoint // process whose memory the transfer touches
	Grant    GrantID  // grant for safe operations
	Address  Addr     // buffer for unsafe operations
	Position int64    // byte offset; for DevIoctlS, the original IOEndpt
	Count    int      // bytes, vector entries, open flags or cancel role
	HighPos  int64
	Request  uint32 // ioctl request code

	Status   Status   // REP_STATUS
	RepEndpt Endpoint // process the reply is for
	SelOps   uint32   // readiness bits of a DevIOReady
}

func (m *Message) String() string {
	return fmt.Sprintf("%v dev=%d endpt=%d grant=%d pos=%d count=%d status=%v",
		m.Type, m.Device, m.IOEndpt, m.Grant, m.Position, m.Count, m.Status)
}

// An IOVec is one segment of a vectored transfer.
// In a safe vector Addr holds a GrantID.
type IOVec struct {
	Addr Addr
	Size uint32
}

// IOVecSize is the size of an encoded IOVec.
const IOVecSize = 8

// PutIOVecs encodes v into b, which must hold len(v)*IOVecSize bytes.
func PutIOVecs(b []byte, v []IOVec) {
	for i, iov := range v {
		binary.LittleEndian.PutUint32(b[i*IOVecSize:], uint32(iov.Addr))
		binary.LittleEndian.PutUint32(b[i*IOVecSize+4:], iov.Size)
	}
}

// IOVecs decodes n vector entries from b.
func IOVecs(b []byte, n int) []IOVec {
	v := make([]IOVec, n)
	for i := range v {
		v[i].Addr = Addr(binary.LittleEndian.Uint32(b[i*IOVecSize:]))
		v[i].Size = binary.LittleEndian.Uint32(b[i*IOVecSize+4:])
	}
	return v
}
