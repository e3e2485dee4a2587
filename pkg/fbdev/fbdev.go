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

// Package fbdev holds the legacy Linux framebuffer ioctl ABI: request codes
// and byte-exact mirrors of the records from linux/fb.h.
package fbdev

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/intel/fbdev-drm-shim/pkg/ioctl"
)

// Framebuffer request codes.
const (
	IoctlGetVScreenInfo = 0x4600
	IoctlPutVScreenInfo = 0x4601
	IoctlGetFScreenInfo = 0x4602
	IoctlPanDisplay     = 0x4606
)

var (
	// IoctlWaitForVsync is FBIO_WAITFORVSYNC, _IOW('F', 0x20, __u32).
	IoctlWaitForVsync = ioctl.IOW('F', 0x20, 4)
	// IoctlGetFbDmaBuf is the vendor query for a dma-buf of the scanout
	// buffer, _IOWR('m', 0xF9, __u32).
	IoctlGetFbDmaBuf = ioctl.IOWR('m', 0xF9, 4)
)

// Values of FixScreenInfo.Visual.
const (
	VisualMono01            = 0
	VisualMono10            = 1
	VisualTrueColor         = 2
	VisualPseudoColor       = 3
	VisualDirectColor       = 4
	VisualStaticPseudoColor = 5
	VisualFourCC            = 6
)

const (
	// TypePackedPixels is FB_TYPE_PACKED_PIXELS.
	TypePackedPixels = 0

	defaultAccelFlags        = 1
	unknownPhysicalDimension = 0xffffffff
)

// Bitfield is struct fb_bitfield.
type Bitfield struct {
	Offset   uint32
	Length   uint32
	MsbRight uint32
}

// VarScreenInfo is struct fb_var_screeninfo.
type VarScreenInfo struct {
	Xres         uint32
	Yres         uint32
	XresVirtual  uint32
	YresVirtual  uint32
	Xoffset      uint32
	Yoffset      uint32
	BitsPerPixel uint32
	Grayscale    uint32

	Red    Bitfield
	Green  Bitfield
	Blue   Bitfield
	Transp Bitfield

	Nonstd      uint32
	Activate    uint32
	Height      uint32
	Width       uint32
	AccelFlags  uint32
	Pixclock    uint32
	LeftMargin  uint32
	RightMargin uint32
	UpperMargin uint32
	LowerMargin uint32
	HsyncLen    uint32
	VsyncLen    uint32
	Sync        uint32
	Vmode       uint32
	Rotate      uint32
	Colorspace  uint32
	Reserved    [4]uint32
}

// FixScreenInfo is struct fb_fix_screeninfo. The address fields are
// unsigned long in C, hence uintptr.
type FixScreenInfo struct {
	ID           [16]byte
	SmemStart    uintptr
	SmemLen      uint32
	Type         uint32
	TypeAux      uint32
	Visual       uint32
	Xpanstep     uint16
	Ypanstep     uint16
	Ywrapstep    uint16
	LineLength   uint32
	MmioStart    uintptr
	MmioLen      uint32
	Accel        uint32
	Capabilities uint16
	Reserved     [2]uint16
}

// NewVarScreenInfo fabricates the variable info of a framebuffer of
// buffers stacked pages with bpp bytes per pixel. Two bytes per pixel is
// RGB565, everything else XRGB8888.
func NewVarScreenInfo(width, height, bpp, buffers uint32) VarScreenInfo {
	v := VarScreenInfo{
		Xres:         width,
		Yres:         height,
		XresVirtual:  width,
		YresVirtual:  height * buffers,
		BitsPerPixel: bpp * 8,
		Red:          Bitfield{Offset: 16, Length: 8},
		Green:        Bitfield{Offset: 8, Length: 8},
		Blue:         Bitfield{Offset: 0, Length: 8},
		Height:       unknownPhysicalDimension,
		Width:        unknownPhysicalDimension,
		AccelFlags:   defaultAccelFlags,
	}

	if bpp == 2 {
		v.Red = Bitfield{Offset: 11, Length: 5}
		v.Green = Bitfield{Offset: 5, Length: 6}
		v.Blue = Bitfield{Offset: 0, Length: 5}
	}

	return v
}

// NewFixScreenInfo fabricates the fixed info. smem_len stays zero: there is
// no mappable framebuffer memory behind the emulated device.
func NewFixScreenInfo(base uintptr, width, bpp uint32) FixScreenInfo {
	return FixScreenInfo{
		SmemStart:  base,
		Type:       TypePackedPixels,
		Visual:     VisualTrueColor,
		Xpanstep:   1,
		Ypanstep:   1,
		LineLength: width * bpp,
	}
}

// Bytes returns the in-memory record as the kernel would copy it out.
func (v *VarScreenInfo) Bytes() []byte {
	return append([]byte(nil), unsafe.Slice((*byte)(unsafe.Pointer(v)), unsafe.Sizeof(*v))...)
}

// Bytes returns the in-memory record as the kernel would copy it out.
func (f *FixScreenInfo) Bytes() []byte {
	return append([]byte(nil), unsafe.Slice((*byte)(unsafe.Pointer(f)), unsafe.Sizeof(*f))...)
}

func (b Bitfield) String() string {
	return fmt.Sprintf("%d/%d", b.Offset, b.Length)
}

func (v *VarScreenInfo) String() string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "res=%dx%d virtual=%dx%d offset=%d,%d bpp=%d grayscale=%d",
		v.Xres, v.Yres, v.XresVirtual, v.YresVirtual, v.Xoffset, v.Yoffset, v.BitsPerPixel, v.Grayscale)
	fmt.Fprintf(&sb, " rgba=%v,%v,%v,%v", v.Red, v.Green, v.Blue, v.Transp)
	fmt.Fprintf(&sb, " nonstd=%d activate=%d size=%dx%dmm accel=0x%x",
		v.Nonstd, v.Activate, v.Width, v.Height, v.AccelFlags)
	fmt.Fprintf(&sb, " pixclock=%d margins=%d,%d,%d,%d sync=%d/%d/0x%x vmode=0x%x rotate=%d",
		v.Pixclock, v.LeftMargin, v.RightMargin, v.UpperMargin, v.LowerMargin,
		v.HsyncLen, v.VsyncLen, v.Sync, v.Vmode, v.Rotate)

	return sb.String()
}

func (f *FixScreenInfo) String() string {
	id := f.ID[:]
	for i, c := range id {
		if c == 0 {
			id = id[:i]
			break
		}
	}

	return fmt.Sprintf("id=%q smem=0x%x+%d type=%d/%d visual=%d pan=%d,%d wrap=%d line=%d mmio=0x%x+%d accel=%d caps=0x%x",
		id, f.SmemStart, f.SmemLen, f.Type, f.TypeAux, f.Visual, f.Xpanstep, f.Ypanstep,
		f.Ywrapstep, f.LineLength, f.MmioStart, f.MmioLen, f.Accel, f.Capabilities)
}

// RequestName returns the symbolic name of a framebuffer request code.
func RequestName(req uintptr) string {
	switch req {
	case IoctlGetVScreenInfo:
		return "FBIOGET_VSCREENINFO"
	case IoctlPutVScreenInfo:
		return "FBIOPUT_VSCREENINFO"
	case IoctlGetFScreenInfo:
		return "FBIOGET_FSCREENINFO"
	case IoctlPanDisplay:
		return "FBIOPAN_DISPLAY"
	case IoctlWaitForVsync:
		return "FBIO_WAITFORVSYNC"
	case IoctlGetFbDmaBuf:
		return "IOCTL_GET_FB_DMA_BUF"
	}

	return ioctl.Describe(req)
}
