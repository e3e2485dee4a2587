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

package emu

import (
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"

	"github.com/intel/fbdev-drm-shim/internal/kms"
	"github.com/intel/fbdev-drm-shim/internal/stats"
	"github.com/intel/fbdev-drm-shim/pkg/drm"
	"github.com/intel/fbdev-drm-shim/pkg/mali"
)

// Forward issues an ioctl on the real descriptor.
type Forward func(fd int, req uintptr, arg unsafe.Pointer) (int, error)

// Dispatcher serves ioctls on tracked descriptors.
type Dispatcher struct {
	session *Session
	forward Forward
	stats   *stats.Collector
	trace   bool
}

// NewDispatcher returns a dispatcher serving from s. st may be nil.
func NewDispatcher(s *Session, forward Forward, st *stats.Collector, trace bool) *Dispatcher {
	return &Dispatcher{
		session: s,
		forward: forward,
		stats:   st,
		trace:   trace,
	}
}

// Errno converts an error into the negative errno an ioctl returns.
func Errno(err error) int {
	if err == nil {
		return 0
	}

	switch errors.Cause(err) {
	case drm.ErrNoDevice, kms.ErrNoConnector:
		return -int(unix.ENODEV)
	case ErrNotInitialized, ErrUnsupported:
		return -int(unix.ENOTTY)
	}

	var errno unix.Errno
	if errors.As(err, &errno) && errno != 0 {
		return -int(errno)
	}

	return -int(unix.EINVAL)
}

// Ioctl decodes and serves one request on fd, tracked as dev. The result
// is what the ioctl call returns: the forwarded result or a negative errno.
func (d *Dispatcher) Ioctl(fd int, dev Device, req uintptr, arg unsafe.Pointer) int {
	r, err := Decode(dev, req, arg)
	if err != nil {
		klog.V(2).Infof("%s fd %d: %v", dev, fd, err)
		return Errno(err)
	}

	if d.trace {
		klog.V(4).Infof("%s fd %d > %v", dev, fd, r)
	}

	ret, err := d.Serve(fd, r)

	if d.trace {
		klog.V(4).Infof("%s fd %d < %v = %d (%v)", dev, fd, r, ret, err)
	}

	if err != nil {
		klog.V(3).Infof("%s fd %d: %v", dev, fd, err)
		return Errno(err)
	}

	return ret
}

// Serve handles a decoded request.
func (d *Dispatcher) Serve(fd int, r Request) (int, error) {
	switch r := r.(type) {
	case GetVarScreenInfo:
		v, err := d.session.VarScreenInfo()
		if err != nil {
			return -1, err
		}

		*r.Info = v
	case GetFixScreenInfo:
		f, err := d.session.FixScreenInfo()
		if err != nil {
			return -1, err
		}

		*r.Info = f
	case PutVarScreenInfo:
		return -1, errors.Wrap(ErrUnsupported, "mode changes")
	case PanDisplay:
		klog.V(2).Infof("pan to %d,%d requested", r.Info.Xoffset, r.Info.Yoffset)
		return -1, errors.Wrap(ErrUnsupported, "panning")
	case WaitForVsync:
		return -1, errors.Wrap(ErrUnsupported, "vsync wait")
	case GetFbDmaBuf:
		return -1, errors.Wrap(ErrUnsupported, "dma-buf export")
	case MapExternalMem:
		return d.mapExternal(fd, r.Args)
	case UnmapExternalMem:
		// the release request shares the unmap layout
		ret, err := d.forward(fd, mali.IoctlReleaseDmaBuf, unsafe.Pointer(r.Args))
		return ret, errors.Wrapf(err, "release of cookie 0x%x", r.Args.Cookie)
	case Passthrough:
		d.stats.Inc(stats.Passthrough)
		klog.V(3).Infof("forwarding %v on %s fd %d", r, r.Dev, fd)

		return d.forward(fd, r.Req, r.Arg)
	default:
		return -1, errors.Wrapf(ErrUnsupported, "request %T", r)
	}

	return 0, nil
}

// mapExternal serves a mapping of a framebuffer page by attaching the
// page's dma-buf instead. Addresses outside the pool never reach the
// kernel.
func (d *Dispatcher) mapExternal(fd int, m *mali.MapExternalMem) (int, error) {
	index, bufFD, err := d.session.BufferForAddress(uint64(m.PhysAddr))
	if err != nil {
		d.stats.Inc(stats.MaliRejected)
		return -1, err
	}

	attach := mali.AttachFor(m, bufFD)

	if d.trace {
		klog.V(4).Infof("gpu fd %d > %v", fd, &attach)
	}

	ret, err := d.forward(fd, mali.IoctlAttachDmaBuf, unsafe.Pointer(&attach))
	if err != nil {
		d.stats.Inc(stats.MaliRejected)
		return ret, errors.Wrapf(err, "attaching page %d", index)
	}

	m.Cookie = attach.Cookie
	d.stats.Inc(stats.MaliTranslated)

	klog.V(2).Infof("mapped 0x%08x as page %d (dma-buf fd %d, cookie 0x%x)", m.PhysAddr, index, bufFD, m.Cookie)

	return ret, nil
}
