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

package main

// #include <stdlib.h>
// #include "shim.h"
import "C"

import (
	"unsafe"

	"github.com/intel/fbdev-drm-shim/internal/hook"
)

// libc calls the implementations the intercepted symbols shadow.
type libc struct{}

var _ hook.Syscalls = libc{}

func (libc) Open(path string, flags int, mode uint32) (int, error) {
	if !needsMode(flags) {
		mode = 0
	}

	cpath := C.CString(path)
	defer C.free(unsafe.Pointer(cpath))

	fd, err := C.shim_next_open(cpath, C.int(flags), C.mode_t(mode))
	if fd < 0 {
		return -1, err
	}

	return int(fd), nil
}

// needsMode reports whether the open wrappers read a mode for flags.
func needsMode(flags int) bool {
	return C.shim_needs_mode(C.int(flags)) != 0
}

func (libc) Close(fd int) error {
	if r, err := C.shim_next_close(C.int(fd)); r < 0 {
		return err
	}

	return nil
}

func (libc) Ioctl(fd int, req uintptr, arg unsafe.Pointer) (int, error) {
	r, err := C.shim_next_ioctl(C.int(fd), C.ulong(req), arg)
	if r < 0 {
		return -1, err
	}

	return int(r), nil
}

func (libc) Mmap(addr unsafe.Pointer, length uintptr, prot, flags, fd int, offset int64) (unsafe.Pointer, error) {
	p, err := C.shim_next_mmap(addr, C.size_t(length), C.int(prot), C.int(flags), C.int(fd), C.off_t(offset))
	if uintptr(p) == ^uintptr(0) {
		return nil, err
	}

	return p, nil
}
