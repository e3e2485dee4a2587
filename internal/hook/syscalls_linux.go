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

package hook

import (
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/intel/fbdev-drm-shim/pkg/ioctl"
)

// Unix issues the system calls directly.
type Unix struct{}

var _ Syscalls = Unix{}

// Open opens path.
func (Unix) Open(path string, flags int, mode uint32) (int, error) {
	return unix.Open(path, flags, mode)
}

// Close closes fd.
func (Unix) Close(fd int) error {
	return unix.Close(fd)
}

// Ioctl issues one ioctl.
func (Unix) Ioctl(fd int, req uintptr, arg unsafe.Pointer) (int, error) {
	return ioctl.Ioctl(fd, req, arg)
}

// Mmap maps memory at a caller chosen address, which unix.Mmap can't do.
func (Unix) Mmap(addr unsafe.Pointer, length uintptr, prot, flags, fd int, offset int64) (unsafe.Pointer, error) {
	r, _, errno := unix.Syscall6(unix.SYS_MMAP, uintptr(addr), length,
		uintptr(prot), uintptr(flags), uintptr(fd), uintptr(offset))
	if errno != 0 {
		return nil, errno
	}

	return unsafe.Pointer(r), nil //nolint:govet // address returned by the kernel
}
