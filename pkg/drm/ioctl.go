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

package drm

import (
	"unsafe"

	"github.com/intel/fbdev-drm-shim/pkg/ioctl"
)

const ioctlBase = 'd'

// Kernel structures, laid out as in include/uapi/drm/drm.h and drm_mode.h.
type (
	sysVersion struct {
		major   int32
		minor   int32
		patch   int32
		nameLen uintptr
		name    uintptr
		dateLen uintptr
		date    uintptr
		descLen uintptr
		desc    uintptr
	}

	sysSetClientCap struct {
		capability uint64
		value      uint64
	}

	sysPrimeHandle struct {
		handle uint32
		flags  uint32
		fd     int32
	}

	sysResources struct {
		fbIDPtr              uint64
		crtcIDPtr            uint64
		connectorIDPtr       uint64
		encoderIDPtr         uint64
		countFbs             uint32
		countCrtcs           uint32
		countConnectors      uint32
		countEncoders        uint32
		minWidth, maxWidth   uint32
		minHeight, maxHeight uint32
	}

	sysCrtc struct {
		setConnectorsPtr uint64
		countConnectors  uint32
		id               uint32
		fbID             uint32
		x, y             uint32
		gammaSize        uint32
		modeValid        uint32
		mode             ModeInfo
	}

	sysGetEncoder struct {
		id             uint32
		typ            uint32
		crtcID         uint32
		possibleCrtcs  uint32
		possibleClones uint32
	}

	sysGetConnector struct {
		encodersPtr   uint64
		modesPtr      uint64
		propsPtr      uint64
		propValuesPtr uint64

		countModes    uint32
		countProps    uint32
		countEncoders uint32

		encoderID       uint32
		id              uint32
		connectorType   uint32
		connectorTypeID uint32

		connection        uint32
		mmWidth, mmHeight uint32
		subpixel          uint32
		pad               uint32
	}

	sysGetProperty struct {
		valuesPtr      uint64
		enumBlobPtr    uint64
		propID         uint32
		flags          uint32
		name           [PropNameLen]uint8
		countValues    uint32
		countEnumBlobs uint32
	}

	sysPropertyEnum struct {
		value uint64
		name  [PropNameLen]uint8
	}

	sysFBCmd2 struct {
		fbID        uint32
		width       uint32
		height      uint32
		pixelFormat uint32
		flags       uint32
		handles     [4]uint32
		pitches     [4]uint32
		offsets     [4]uint32
		modifier    [4]uint64
	}

	sysPageFlip struct {
		crtcID   uint32
		fbID     uint32
		flags    uint32
		reserved uint32
		userData uint64
	}

	sysCreateDumb struct {
		height uint32
		width  uint32
		bpp    uint32
		flags  uint32
		handle uint32
		pitch  uint32
		size   uint64
	}

	sysMapDumb struct {
		handle uint32
		pad    uint32
		offset uint64
	}

	sysDestroyDumb struct {
		handle uint32
	}

	sysGetPlaneResources struct {
		planeIDPtr  uint64
		countPlanes uint32
	}

	sysGetPlane struct {
		planeID          uint32
		crtcID           uint32
		fbID             uint32
		possibleCrtcs    uint32
		gammaSize        uint32
		countFormatTypes uint32
		formatTypePtr    uint64
	}

	sysObjGetProperties struct {
		propsPtr      uint64
		propValuesPtr uint64
		countProps    uint32
		objID         uint32
		objType       uint32
	}

	sysAtomic struct {
		flags         uint32
		countObjs     uint32
		objsPtr       uint64
		countPropsPtr uint64
		propsPtr      uint64
		propValuesPtr uint64
		reserved      uint64
		userData      uint64
	}

	sysCreateBlob struct {
		data   uint64
		length uint32
		blobID uint32
	}

	sysDestroyBlob struct {
		blobID uint32
	}

	// drm_event followed by the drm_event_vblank payload.
	sysEventVblank struct {
		typ      uint32
		length   uint32
		userData uint64
		tvSec    uint32
		tvUsec   uint32
		sequence uint32
		crtcID   uint32
	}
)

// Request numbers.
var (
	IoctlVersion             = ioctl.IOWR(ioctlBase, 0x00, unsafe.Sizeof(sysVersion{}))
	IoctlSetClientCap        = ioctl.IOW(ioctlBase, 0x0D, unsafe.Sizeof(sysSetClientCap{}))
	IoctlPrimeHandleToFD     = ioctl.IOWR(ioctlBase, 0x2D, unsafe.Sizeof(sysPrimeHandle{}))
	IoctlModeGetResources    = ioctl.IOWR(ioctlBase, 0xA0, unsafe.Sizeof(sysResources{}))
	IoctlModeGetCrtc         = ioctl.IOWR(ioctlBase, 0xA1, unsafe.Sizeof(sysCrtc{}))
	IoctlModeSetCrtc         = ioctl.IOWR(ioctlBase, 0xA2, unsafe.Sizeof(sysCrtc{}))
	IoctlModeGetEncoder      = ioctl.IOWR(ioctlBase, 0xA6, unsafe.Sizeof(sysGetEncoder{}))
	IoctlModeGetConnector    = ioctl.IOWR(ioctlBase, 0xA7, unsafe.Sizeof(sysGetConnector{}))
	IoctlModeGetProperty     = ioctl.IOWR(ioctlBase, 0xAA, unsafe.Sizeof(sysGetProperty{}))
	IoctlModeRmFB            = ioctl.IOWR(ioctlBase, 0xAF, unsafe.Sizeof(uint32(0)))
	IoctlModePageFlip        = ioctl.IOWR(ioctlBase, 0xB0, unsafe.Sizeof(sysPageFlip{}))
	IoctlModeCreateDumb      = ioctl.IOWR(ioctlBase, 0xB2, unsafe.Sizeof(sysCreateDumb{}))
	IoctlModeMapDumb         = ioctl.IOWR(ioctlBase, 0xB3, unsafe.Sizeof(sysMapDumb{}))
	IoctlModeDestroyDumb     = ioctl.IOWR(ioctlBase, 0xB4, unsafe.Sizeof(sysDestroyDumb{}))
	IoctlModeGetPlaneRes     = ioctl.IOWR(ioctlBase, 0xB5, unsafe.Sizeof(sysGetPlaneResources{}))
	IoctlModeGetPlane        = ioctl.IOWR(ioctlBase, 0xB6, unsafe.Sizeof(sysGetPlane{}))
	IoctlModeAddFB2          = ioctl.IOWR(ioctlBase, 0xB8, unsafe.Sizeof(sysFBCmd2{}))
	IoctlModeObjGetProps     = ioctl.IOWR(ioctlBase, 0xB9, unsafe.Sizeof(sysObjGetProperties{}))
	IoctlModeAtomic          = ioctl.IOWR(ioctlBase, 0xBC, unsafe.Sizeof(sysAtomic{}))
	IoctlModeCreatePropBlob  = ioctl.IOWR(ioctlBase, 0xBD, unsafe.Sizeof(sysCreateBlob{}))
	IoctlModeDestroyPropBlob = ioctl.IOWR(ioctlBase, 0xBE, unsafe.Sizeof(sysDestroyBlob{}))
)

func ptr[T any](s []T) uint64 {
	if len(s) == 0 {
		return 0
	}

	return uint64(uintptr(unsafe.Pointer(&s[0])))
}
