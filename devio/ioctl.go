// Copyright 2023 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package devio

// Ioctl request codes carry the direction of the transfer and the
// size of its argument. Small requests keep the size in bits 16..28
// next to a type byte and a number; big requests drop the type byte
// and keep a 20-bit size in bits 8..27.
const (
	iocParmMask    = 0x1FFF
	iocParmMaskBig = 0xFFFFF
	iocVoid        = 0x20000000
	iocBig         = 0x10000000
	iocIn          = 0x40000000 // caller data goes to the driver
	iocOut         = 0x80000000 // driver data comes back to the caller
	iocInOut       = iocIn | iocOut
)

func IO(x byte, y byte) uint32 {
	return uint32(x)<<8 | uint32(y) | iocVoid
}

func IOR(x, y byte, size int) uint32 {
	return uint32(x)<<8 | uint32(y) | uint32(size&iocParmMask)<<16 | iocOut
}

func IOW(x, y byte, size int) uint32 {
	return uint32(x)<<8 | uint32(y) | uint32(size&iocParmMask)<<16 | iocIn
}

func IORW(x, y byte, size int) uint32 {
	return uint32(x)<<8 | uint32(y) | uint32(size&iocParmMask)<<16 | iocInOut
}

func IORBig(y byte, size int) uint32 {
	return uint32(y) | uint32(size&iocParmMaskBig)<<8 | iocOut | iocBig
}

func IOWBig(y byte, size int) uint32 {
	return uint32(y) | uint32(size&iocParmMaskBig)<<8 | iocIn | iocBig
}

func IORWBig(y byte, size int) uint32 {
	return uint32(y) | uint32(size&iocParmMaskBig)<<8 | iocInOut | iocBig
}

func ioctlIn(req uint32) bool  { return req&iocIn != 0 }
func ioctlOut(req uint32) bool { return req&iocOut != 0 }
func ioctlBig(req uint32) bool { return req&iocBig != 0 }

// IoctlSize returns the argument size encoded in req.
func IoctlSize(req uint32) int {
	if ioctlBig(req) {
		return int(req>>8) & iocParmMaskBig
	}
	return int(req>>16) & iocParmMask
}

// ioctlAccess returns what the driver may do with the argument of req.
func ioctlAccess(req uint32) Access {
	var a Access
	if ioctlOut(req) {
		a |= AccessWrite
	}
	if ioctlIn(req) {
		a |= AccessRead
	}
	return a
}
