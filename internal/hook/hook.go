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

// Package hook decides what happens to an intercepted open, close, ioctl
// or mmap call: emulate it, track it, or pass it on unchanged. Unmapping
// never involves a tracked descriptor and is not routed here.
//
// Results follow the raw system call convention. A negative value is a
// negated errno.
package hook

import (
	"unsafe"

	"github.com/go-logr/logr"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"

	"github.com/intel/fbdev-drm-shim/internal/emu"
)

// Syscalls are the real entry points intercepted calls end up in.
type Syscalls interface {
	Open(path string, flags int, mode uint32) (int, error)
	Close(fd int) error
	Ioctl(fd int, req uintptr, arg unsafe.Pointer) (int, error)
	Mmap(addr unsafe.Pointer, length uintptr, prot, flags, fd int, offset int64) (unsafe.Pointer, error)
}

// Backend owns the emulation session. *emu.Session implements it.
type Backend interface {
	Init() error
	Free() error
	Track(fd int, dev emu.Device)
	Lookup(fd int) emu.Device
	Untrack(fd int) emu.Device
}

// Dispatcher serves ioctls on tracked descriptors. *emu.Dispatcher
// implements it.
type Dispatcher interface {
	Ioctl(fd int, dev emu.Device, req uintptr, arg unsafe.Pointer) int
}

// Options name the intercepted paths.
type Options struct {
	FbdevPath   string
	GPUPath     string
	BackingPath string
	// Trace logs every intercepted call regardless of verbosity.
	Trace bool
}

// Interceptor routes intercepted calls.
type Interceptor struct {
	sys      Syscalls
	backend  Backend
	dispatch Dispatcher
	opts     Options
	log      logr.Logger
	level    int
}

// New returns an interceptor logging to klog.
func New(sys Syscalls, backend Backend, dispatch Dispatcher, opts Options) *Interceptor {
	return NewWithLogger(sys, backend, dispatch, opts, klog.Background().WithName("fbdev-shim"))
}

// NewWithLogger returns an interceptor logging to log.
func NewWithLogger(sys Syscalls, backend Backend, dispatch Dispatcher, opts Options, log logr.Logger) *Interceptor {
	i := &Interceptor{
		sys:      sys,
		backend:  backend,
		dispatch: dispatch,
		opts:     opts,
		log:      log,
		level:    3,
	}

	if opts.Trace {
		i.level = 0
	}

	return i
}

func (i *Interceptor) trace(msg string, kv ...any) {
	i.log.V(i.level).Info(msg, kv...)
}

// Open opens path and returns the descriptor.
func (i *Interceptor) Open(path string, flags int, mode uint32) int {
	switch path {
	case i.opts.FbdevPath:
		return i.openFramebuffer(path)
	case i.opts.GPUPath:
		fd, err := i.sys.Open(path, flags, mode)
		if err != nil {
			i.trace("open", "path", path, "err", err)
			return emu.Errno(err)
		}

		i.backend.Track(fd, emu.DeviceGPU)
		i.trace("open", "path", path, "fd", fd)

		return fd
	}

	fd, err := i.sys.Open(path, flags, mode)
	if err != nil {
		return emu.Errno(err)
	}

	return fd
}

// openFramebuffer hands out the backing file in place of the framebuffer
// device and brings up the emulation behind it.
func (i *Interceptor) openFramebuffer(path string) int {
	fd, err := i.sys.Open(i.opts.BackingPath, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		i.log.Error(err, "can't open framebuffer backing file", "path", i.opts.BackingPath)
		return emu.Errno(err)
	}

	if err := i.backend.Init(); err != nil {
		i.log.Error(err, "framebuffer emulation failed", "path", path)

		if cerr := i.sys.Close(fd); cerr != nil {
			i.log.Error(cerr, "can't close backing file", "fd", fd)
		}

		return emu.Errno(err)
	}

	i.backend.Track(fd, emu.DeviceFramebuffer)
	i.trace("open", "path", path, "backing", i.opts.BackingPath, "fd", fd)

	return fd
}

// Close closes fd, tearing down what it was tracked for first.
func (i *Interceptor) Close(fd int) int {
	switch dev := i.backend.Untrack(fd); dev {
	case emu.DeviceFramebuffer:
		i.trace("close", "device", dev, "fd", fd)

		if err := i.backend.Free(); err != nil {
			i.log.Error(err, "framebuffer emulation teardown failed")
		}
	case emu.DeviceGPU:
		i.trace("close", "device", dev, "fd", fd)
	}

	if err := i.sys.Close(fd); err != nil {
		return emu.Errno(err)
	}

	return 0
}

// Ioctl serves requests on tracked descriptors and forwards all others.
func (i *Interceptor) Ioctl(fd int, req uintptr, arg unsafe.Pointer) int {
	dev := i.backend.Lookup(fd)
	if dev == emu.DeviceNone {
		r, err := i.sys.Ioctl(fd, req, arg)
		if err != nil {
			return emu.Errno(err)
		}

		return r
	}

	ret := i.dispatch.Ioctl(fd, dev, req, arg)

	if log := i.log.V(i.level); log.Enabled() {
		log.Info("ioctl", "device", dev, "fd", fd, "request", emu.Passthrough{Req: req, Dev: dev}.String(), "result", ret)
	}

	return ret
}

// Mmap is always forwarded. Pool buffers are handed to the GPU driver as
// descriptors and never mapped into the process.
func (i *Interceptor) Mmap(addr unsafe.Pointer, length uintptr, prot, flags, fd int, offset int64) (unsafe.Pointer, int) {
	if dev := i.backend.Lookup(fd); dev != emu.DeviceNone {
		i.trace("mmap", "device", dev, "fd", fd, "length", length, "offset", offset)
	}

	p, err := i.sys.Mmap(addr, length, prot, flags, fd, offset)
	if err != nil {
		return nil, emu.Errno(err)
	}

	return p, 0
}
