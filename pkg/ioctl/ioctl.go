// Copyright 2026 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package ioctl encodes and decodes Linux ioctl request numbers and issues
// raw ioctl system calls.
package ioctl

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"
)

// From the linux asm-generic/ioctl.h header.
const (
	None  = 0
	Write = 1
	Read  = 2

	nrBits   = 8
	typeBits = 8
	sizeBits = 14
	dirBits  = 2

	nrShift   = 0
	typeShift = nrShift + nrBits
	sizeShift = typeShift + typeBits
	dirShift  = sizeShift + sizeBits
)

// IOC builds a request number the way the kernel's _IOC macro does.
func IOC(dir, typ, nr, size uintptr) uintptr {
	return dir<<dirShift | typ<<typeShift | nr<<nrShift | size<<sizeShift
}

// IO is _IO(type, nr).
func IO(typ, nr uintptr) uintptr {
	return IOC(None, typ, nr, 0)
}

// IOR is _IOR(type, nr, size).
func IOR(typ, nr, size uintptr) uintptr {
	return IOC(Read, typ, nr, size)
}

// IOW is _IOW(type, nr, size).
func IOW(typ, nr, size uintptr) uintptr {
	return IOC(Write, typ, nr, size)
}

// IOWR is _IOWR(type, nr, size).
func IOWR(typ, nr, size uintptr) uintptr {
	return IOC(Read|Write, typ, nr, size)
}

// Dir returns the direction bits of a request number.
func Dir(req uintptr) uintptr {
	return (req >> dirShift) & (1<<dirBits - 1)
}

// Type returns the type (magic) byte of a request number.
func Type(req uintptr) uintptr {
	return (req >> typeShift) & (1<<typeBits - 1)
}

// Nr returns the command number of a request number.
func Nr(req uintptr) uintptr {
	return (req >> nrShift) & (1<<nrBits - 1)
}

// Size returns the argument size encoded in a request number.
func Size(req uintptr) uintptr {
	return (req >> sizeShift) & (1<<sizeBits - 1)
}

// Describe renders a request number as its _IOC components.
func Describe(req uintptr) string {
	dir := "_IO"

	switch Dir(req) {
	case Read:
		dir = "_IOR"
	case Write:
		dir = "_IOW"
	case Read | Write:
		dir = "_IOWR"
	}

	return fmt.Sprintf("%s(0x%02x, 0x%02x, %d) [0x%08x]", dir, Type(req), Nr(req), Size(req), req)
}

// Ioctl issues a single ioctl system call. The returned error, if any, is a
// unix.Errno.
func Ioctl(fd int, req uintptr, arg unsafe.Pointer) (int, error) {
	r, _, errno := unix.Syscall(unix.SYS_IOCTL, uintptr(fd), req, uintptr(arg))
	if errno != 0 {
		return -1, errno
	}

	return int(r), nil
}

// Retry issues an ioctl and restarts it while the kernel reports EINTR or
// EAGAIN, like libdrm's drmIoctl.
func Retry(fd int, req uintptr, arg unsafe.Pointer) error {
	for {
		_, err := Ioctl(fd, req, arg)

		switch err {
		case nil:
			return nil
		case unix.EINTR, unix.EAGAIN:
			continue
		default:
			return err
		}
	}
}
