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
	"bytes"
	"fmt"
	"unsafe"
)

const (
	// DisplayModeLen is DRM_DISPLAY_MODE_LEN.
	DisplayModeLen = 32
	// PropNameLen is DRM_PROP_NAME_LEN.
	PropNameLen = 32

	// Connection states of a connector.
	Connected         = 1
	Disconnected      = 2
	UnknownConnection = 3

	// Client capabilities.
	ClientCapUniversalPlanes = 2
	ClientCapAtomic          = 3

	// Object types used by DRM_IOCTL_MODE_OBJ_GETPROPERTIES.
	ObjectCRTC      = 0xcccccccc
	ObjectConnector = 0xc0c0c0c0
	ObjectEncoder   = 0xe0e0e0e0
	ObjectPlane     = 0xeeeeeeee

	// Page flip and atomic commit flags.
	PageFlipEvent      = 0x01
	PageFlipAsync      = 0x02
	AtomicTestOnly     = 0x0100
	AtomicNonBlock     = 0x0200
	AtomicAllowModeSet = 0x0400

	// Values of the plane "type" property.
	PlaneTypeOverlay = 0
	PlaneTypePrimary = 1
	PlaneTypeCursor  = 2

	// Event types read from the card descriptor.
	EventVblank       = 0x01
	EventFlipComplete = 0x02

	// PRIME export flags.
	PrimeCloexec = 0x80000 // O_CLOEXEC
	PrimeRDWR    = 0x2     // O_RDWR
)

// Connector types, from drm_mode.h.
const (
	ConnectorUnknown     = 0
	ConnectorVGA         = 1
	ConnectorDVII        = 2
	ConnectorDVID        = 3
	ConnectorDVIA        = 4
	ConnectorComposite   = 5
	ConnectorSVIDEO      = 6
	ConnectorLVDS        = 7
	ConnectorComponent   = 8
	Connector9PinDIN     = 9
	ConnectorDisplayPort = 10
	ConnectorHDMIA       = 11
	ConnectorHDMIB       = 12
	ConnectorTV          = 13
	ConnectorEDP         = 14
	ConnectorVirtual     = 15
	ConnectorDSI         = 16
	ConnectorDPI         = 17
)

var connectorNames = map[uint32]string{
	ConnectorUnknown:     "Unknown",
	ConnectorVGA:         "VGA",
	ConnectorDVII:        "DVI-I",
	ConnectorDVID:        "DVI-D",
	ConnectorDVIA:        "DVI-A",
	ConnectorComposite:   "Composite",
	ConnectorSVIDEO:      "SVIDEO",
	ConnectorLVDS:        "LVDS",
	ConnectorComponent:   "Component",
	Connector9PinDIN:     "DIN",
	ConnectorDisplayPort: "DP",
	ConnectorHDMIA:       "HDMI-A",
	ConnectorHDMIB:       "HDMI-B",
	ConnectorTV:          "TV",
	ConnectorEDP:         "eDP",
	ConnectorVirtual:     "Virtual",
	ConnectorDSI:         "DSI",
	ConnectorDPI:         "DPI",
}

// ConnectorTypeName returns the kernel's short name for a connector type.
func ConnectorTypeName(typ uint32) string {
	if name, ok := connectorNames[typ]; ok {
		return name
	}

	return fmt.Sprintf("type%d", typ)
}

func fourcc(a, b, c, d byte) uint32 {
	return uint32(a) | uint32(b)<<8 | uint32(c)<<16 | uint32(d)<<24
}

// Pixel formats used for scanout buffers.
var (
	FormatXRGB8888 = fourcc('X', 'R', '2', '4')
	FormatRGB565   = fourcc('R', 'G', '1', '6')
)

// FormatForBpp picks the packed single-plane format for a byte-per-pixel
// count: 2 bytes is RGB565, anything else XRGB8888.
func FormatForBpp(bpp uint32) uint32 {
	if bpp == 2 {
		return FormatRGB565
	}

	return FormatXRGB8888
}

// ModeInfo mirrors struct drm_mode_modeinfo.
type ModeInfo struct {
	Clock                                         uint32
	Hdisplay, HsyncStart, HsyncEnd, Htotal, Hskew uint16
	Vdisplay, VsyncStart, VsyncEnd, Vtotal, Vscan uint16

	Vrefresh uint32

	Flags uint32
	Type  uint32
	Name  [DisplayModeLen]uint8
}

// Bytes returns the in-memory representation the kernel expects inside a
// MODE_ID property blob.
func (m *ModeInfo) Bytes() []byte {
	b := make([]byte, unsafe.Sizeof(*m))
	copy(b, unsafe.Slice((*byte)(unsafe.Pointer(m)), unsafe.Sizeof(*m)))

	return b
}

// String returns the mode name, e.g. "1280x720".
func (m *ModeInfo) String() string {
	return cstring(m.Name[:])
}

// Version is the result of DRM_IOCTL_VERSION.
type Version struct {
	Major, Minor, Patch int32
	Name                string
	Date                string
	Desc                string
}

// Resources lists the mode setting objects of a card.
type Resources struct {
	FBs        []uint32
	Crtcs      []uint32
	Connectors []uint32
	Encoders   []uint32

	MinWidth, MaxWidth   uint32
	MinHeight, MaxHeight uint32
}

// Connector describes a display connector and its probed modes.
type Connector struct {
	ID         uint32
	EncoderID  uint32
	Type       uint32
	TypeID     uint32
	Connection uint32

	MMWidth, MMHeight uint32
	Subpixel          uint32

	Modes    []ModeInfo
	Encoders []uint32

	Props      []uint32
	PropValues []uint64
}

// Name returns the connector name as the kernel prints it, e.g. "HDMI-A-1".
func (c *Connector) Name() string {
	return fmt.Sprintf("%s-%d", ConnectorTypeName(c.Type), c.TypeID)
}

// Encoder mirrors struct drm_mode_get_encoder.
type Encoder struct {
	ID             uint32
	Type           uint32
	CrtcID         uint32
	PossibleCrtcs  uint32
	PossibleClones uint32
}

// Crtc describes a CRTC configuration. It is used both for reading the
// current state and for SetCrtc.
type Crtc struct {
	ID        uint32
	FbID      uint32
	X, Y      uint32
	GammaSize uint32
	ModeValid bool
	Mode      ModeInfo
}

// Plane mirrors struct drm_mode_get_plane.
type Plane struct {
	ID            uint32
	CrtcID        uint32
	FbID          uint32
	PossibleCrtcs uint32
	GammaSize     uint32
	Formats       []uint32
}

// SupportsFormat reports whether the plane can scan out the given format.
func (p *Plane) SupportsFormat(format uint32) bool {
	for _, f := range p.Formats {
		if f == format {
			return true
		}
	}

	return false
}

// PropertyEnum is one named value of an enum or bitmask property.
type PropertyEnum struct {
	Value uint64
	Name  string
}

// Property is the metadata of a KMS property.
type Property struct {
	ID     uint32
	Flags  uint32
	Name   string
	Values []uint64
	Enums  []PropertyEnum
}

// ObjectProperties holds the property IDs and current values of an object.
type ObjectProperties struct {
	ObjectID   uint32
	ObjectType uint32
	Props      []uint32
	Values     []uint64
}

// DumbBuffer is a buffer object created with DRM_IOCTL_MODE_CREATE_DUMB.
type DumbBuffer struct {
	Handle uint32
	Width  uint32
	Height uint32
	Bpp    uint32
	Pitch  uint32
	Size   uint64
}

// FramebufferCmd describes a single-plane framebuffer for AddFB2.
type FramebufferCmd struct {
	Width, Height uint32
	Format        uint32
	Handle        uint32
	Pitch         uint32
	Offset        uint32
}

// Event is a page flip or vblank event read from the card descriptor.
type Event struct {
	Type     uint32
	UserData uint64
	Sec      uint32
	Usec     uint32
	Sequence uint32
	CrtcID   uint32
}

func cstring(b []byte) string {
	if i := bytes.IndexByte(b, 0); i >= 0 {
		b = b[:i]
	}

	return string(b)
}
