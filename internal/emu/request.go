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
	"fmt"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/intel/fbdev-drm-shim/pkg/fbdev"
	"github.com/intel/fbdev-drm-shim/pkg/mali"
)

// Request is a decoded ioctl on a tracked descriptor. The payload fields
// point at the caller's argument memory.
type Request interface {
	// Code returns the ioctl request code.
	Code() uintptr
	fmt.Stringer
}

// GetVarScreenInfo is FBIOGET_VSCREENINFO.
type GetVarScreenInfo struct{ Info *fbdev.VarScreenInfo }

// PutVarScreenInfo is FBIOPUT_VSCREENINFO.
type PutVarScreenInfo struct{ Info *fbdev.VarScreenInfo }

// GetFixScreenInfo is FBIOGET_FSCREENINFO.
type GetFixScreenInfo struct{ Info *fbdev.FixScreenInfo }

// PanDisplay is FBIOPAN_DISPLAY.
type PanDisplay struct{ Info *fbdev.VarScreenInfo }

// WaitForVsync is FBIO_WAITFORVSYNC.
type WaitForVsync struct{ Crtc *uint32 }

// GetFbDmaBuf is the vendor IOCTL_GET_FB_DMA_BUF.
type GetFbDmaBuf struct{ FD *uint32 }

// MapExternalMem is the GPU driver's external memory mapping.
type MapExternalMem struct{ Args *mali.MapExternalMem }

// UnmapExternalMem is the GPU driver's external memory unmapping.
type UnmapExternalMem struct{ Args *mali.UnmapExternalMem }

// Passthrough is any other request. It is forwarded unchanged.
type Passthrough struct {
	Req uintptr
	Arg unsafe.Pointer
	Dev Device
}

func (GetVarScreenInfo) Code() uintptr { return fbdev.IoctlGetVScreenInfo }
func (PutVarScreenInfo) Code() uintptr { return fbdev.IoctlPutVScreenInfo }
func (GetFixScreenInfo) Code() uintptr { return fbdev.IoctlGetFScreenInfo }
func (PanDisplay) Code() uintptr       { return fbdev.IoctlPanDisplay }
func (WaitForVsync) Code() uintptr     { return fbdev.IoctlWaitForVsync }
func (GetFbDmaBuf) Code() uintptr      { return fbdev.IoctlGetFbDmaBuf }
func (MapExternalMem) Code() uintptr   { return mali.IoctlMapExtMem }
func (UnmapExternalMem) Code() uintptr { return mali.IoctlUnmapExtMem }
func (r Passthrough) Code() uintptr    { return r.Req }

func (r GetVarScreenInfo) String() string { return "FBIOGET_VSCREENINFO " + r.Info.String() }
func (r PutVarScreenInfo) String() string { return "FBIOPUT_VSCREENINFO " + r.Info.String() }
func (r GetFixScreenInfo) String() string { return "FBIOGET_FSCREENINFO " + r.Info.String() }
func (r PanDisplay) String() string       { return "FBIOPAN_DISPLAY " + r.Info.String() }

func (r WaitForVsync) String() string {
	return fmt.Sprintf("FBIO_WAITFORVSYNC crtc=%d", *r.Crtc)
}

func (r GetFbDmaBuf) String() string {
	return fmt.Sprintf("IOCTL_GET_FB_DMA_BUF fd=%d", int32(*r.FD))
}

func (r MapExternalMem) String() string   { return r.Args.String() }
func (r UnmapExternalMem) String() string { return r.Args.String() }

func (r Passthrough) String() string {
	if r.Dev == DeviceGPU {
		return mali.RequestName(r.Req)
	}

	return fbdev.RequestName(r.Req)
}

// Decode turns a raw ioctl on a descriptor tracked as dev into a typed
// request. Requests a device does not emulate decode to Passthrough. A
// missing argument for an emulated request is EFAULT.
func Decode(dev Device, req uintptr, arg unsafe.Pointer) (Request, error) {
	var r Request

	switch dev {
	case DeviceFramebuffer:
		switch req {
		case fbdev.IoctlGetVScreenInfo:
			r = GetVarScreenInfo{(*fbdev.VarScreenInfo)(arg)}
		case fbdev.IoctlPutVScreenInfo:
			r = PutVarScreenInfo{(*fbdev.VarScreenInfo)(arg)}
		case fbdev.IoctlGetFScreenInfo:
			r = GetFixScreenInfo{(*fbdev.FixScreenInfo)(arg)}
		case fbdev.IoctlPanDisplay:
			r = PanDisplay{(*fbdev.VarScreenInfo)(arg)}
		case fbdev.IoctlWaitForVsync:
			r = WaitForVsync{(*uint32)(arg)}
		case fbdev.IoctlGetFbDmaBuf:
			r = GetFbDmaBuf{(*uint32)(arg)}
		}
	case DeviceGPU:
		switch req {
		case mali.IoctlMapExtMem:
			r = MapExternalMem{(*mali.MapExternalMem)(arg)}
		case mali.IoctlUnmapExtMem:
			r = UnmapExternalMem{(*mali.UnmapExternalMem)(arg)}
		}
	}

	if r == nil {
		return Passthrough{Req: req, Arg: arg, Dev: dev}, nil
	}

	if arg == nil {
		return nil, errors.Wrapf(unix.EFAULT, "%s without an argument", fbdevOrMaliName(dev, req))
	}

	return r, nil
}

func fbdevOrMaliName(dev Device, req uintptr) string {
	return Passthrough{Req: req, Dev: dev}.String()
}
