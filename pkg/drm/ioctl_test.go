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
	"encoding/binary"
	"testing"
	"unsafe"

	"github.com/google/go-cmp/cmp"
)

// drm_version has three ints followed by six pointer-sized fields.
func versionSize() uintptr {
	if unsafe.Sizeof(uintptr(0)) == 8 {
		return 64
	}

	return 36
}

func TestStructLayout(t *testing.T) {
	tcases := []struct {
		name     string
		size     uintptr
		expected uintptr
	}{
		{"drm_mode_modeinfo", unsafe.Sizeof(ModeInfo{}), 68},
		{"drm_mode_card_res", unsafe.Sizeof(sysResources{}), 64},
		{"drm_mode_crtc", unsafe.Sizeof(sysCrtc{}), 104},
		{"drm_mode_get_encoder", unsafe.Sizeof(sysGetEncoder{}), 20},
		{"drm_mode_get_connector", unsafe.Sizeof(sysGetConnector{}), 80},
		{"drm_mode_get_property", unsafe.Sizeof(sysGetProperty{}), 64},
		{"drm_mode_property_enum", unsafe.Sizeof(sysPropertyEnum{}), 40},
		{"drm_mode_fb_cmd2", unsafe.Sizeof(sysFBCmd2{}), 104},
		{"drm_mode_crtc_page_flip", unsafe.Sizeof(sysPageFlip{}), 24},
		{"drm_mode_create_dumb", unsafe.Sizeof(sysCreateDumb{}), 32},
		{"drm_mode_map_dumb", unsafe.Sizeof(sysMapDumb{}), 16},
		{"drm_mode_get_plane_res", unsafe.Sizeof(sysGetPlaneResources{}), 16},
		{"drm_mode_get_plane", unsafe.Sizeof(sysGetPlane{}), 32},
		{"drm_mode_obj_get_properties", unsafe.Sizeof(sysObjGetProperties{}), 32},
		{"drm_mode_atomic", unsafe.Sizeof(sysAtomic{}), 56},
		{"drm_mode_create_blob", unsafe.Sizeof(sysCreateBlob{}), 16},
		{"drm_set_client_cap", unsafe.Sizeof(sysSetClientCap{}), 16},
		{"drm_prime_handle", unsafe.Sizeof(sysPrimeHandle{}), 12},
		{"drm_event_vblank", unsafe.Sizeof(sysEventVblank{}), 32},
		{"drm_version", unsafe.Sizeof(sysVersion{}), versionSize()},
	}

	for _, tt := range tcases {
		t.Run(tt.name, func(t *testing.T) {
			if tt.size != tt.expected {
				t.Errorf("Test case '%s': expected size %d, got %d", tt.name, tt.expected, tt.size)
			}
		})
	}
}

func TestRequestNumbers(t *testing.T) {
	tcases := []struct {
		name     string
		req      uintptr
		expected uintptr
	}{
		{"DRM_IOCTL_MODE_GETRESOURCES", IoctlModeGetResources, 0xc04064a0},
		{"DRM_IOCTL_MODE_GETCRTC", IoctlModeGetCrtc, 0xc06864a1},
		{"DRM_IOCTL_MODE_SETCRTC", IoctlModeSetCrtc, 0xc06864a2},
		{"DRM_IOCTL_MODE_GETCONNECTOR", IoctlModeGetConnector, 0xc05064a7},
		{"DRM_IOCTL_MODE_RMFB", IoctlModeRmFB, 0xc00464af},
		{"DRM_IOCTL_MODE_PAGE_FLIP", IoctlModePageFlip, 0xc01864b0},
		{"DRM_IOCTL_MODE_CREATE_DUMB", IoctlModeCreateDumb, 0xc02064b2},
		{"DRM_IOCTL_MODE_ADDFB2", IoctlModeAddFB2, 0xc06864b8},
		{"DRM_IOCTL_MODE_ATOMIC", IoctlModeAtomic, 0xc03864bc},
		{"DRM_IOCTL_SET_CLIENT_CAP", IoctlSetClientCap, 0x4010640d},
		{"DRM_IOCTL_PRIME_HANDLE_TO_FD", IoctlPrimeHandleToFD, 0xc00c642d},
	}

	for _, tt := range tcases {
		t.Run(tt.name, func(t *testing.T) {
			if tt.req != tt.expected {
				t.Errorf("Test case '%s': expected 0x%08x, got 0x%08x", tt.name, tt.expected, tt.req)
			}
		})
	}
}

func flipEvent(userData uint64, seq, crtc uint32) []byte {
	b := make([]byte, 32)
	binary.NativeEndian.PutUint32(b[0:], EventFlipComplete)
	binary.NativeEndian.PutUint32(b[4:], 32)
	binary.NativeEndian.PutUint64(b[8:], userData)
	binary.NativeEndian.PutUint32(b[16:], 100)
	binary.NativeEndian.PutUint32(b[20:], 200)
	binary.NativeEndian.PutUint32(b[24:], seq)
	binary.NativeEndian.PutUint32(b[28:], crtc)

	return b
}

func TestParseEvents(t *testing.T) {
	unknown := make([]byte, 16)
	binary.NativeEndian.PutUint32(unknown[0:], 0x80000000)
	binary.NativeEndian.PutUint32(unknown[4:], 16)

	tcases := []struct {
		name     string
		buf      []byte
		expected []Event
	}{
		{
			name: "empty buffer",
		},
		{
			name: "two flip events",
			buf:  append(flipEvent(1, 10, 31), flipEvent(2, 11, 31)...),
			expected: []Event{
				{Type: EventFlipComplete, UserData: 1, Sec: 100, Usec: 200, Sequence: 10, CrtcID: 31},
				{Type: EventFlipComplete, UserData: 2, Sec: 100, Usec: 200, Sequence: 11, CrtcID: 31},
			},
		},
		{
			name: "unknown event is skipped",
			buf:  append(unknown, flipEvent(3, 12, 32)...),
			expected: []Event{
				{Type: EventFlipComplete, UserData: 3, Sec: 100, Usec: 200, Sequence: 12, CrtcID: 32},
			},
		},
		{
			name: "truncated record is dropped",
			buf:  flipEvent(4, 13, 33)[:20],
		},
	}

	for _, tt := range tcases {
		t.Run(tt.name, func(t *testing.T) {
			if diff := cmp.Diff(tt.expected, ParseEvents(tt.buf)); diff != "" {
				t.Errorf("Test case '%s': unexpected events (-want +got):\n%s", tt.name, diff)
			}
		})
	}
}

func TestModeInfoBytes(t *testing.T) {
	var m ModeInfo
	m.Hdisplay = 1280
	m.Vdisplay = 720
	copy(m.Name[:], "1280x720")

	b := m.Bytes()
	if len(b) != 68 {
		t.Fatalf("unexpected blob length %d", len(b))
	}

	if got := binary.NativeEndian.Uint16(b[4:]); got != 1280 {
		t.Errorf("unexpected hdisplay %d", got)
	}

	if got := binary.NativeEndian.Uint16(b[14:]); got != 720 {
		t.Errorf("unexpected vdisplay %d", got)
	}

	if m.String() != "1280x720" {
		t.Errorf("unexpected name %q", m.String())
	}
}

func TestFormatForBpp(t *testing.T) {
	if FormatForBpp(2) != FormatRGB565 {
		t.Error("2 bytes per pixel should select RGB565")
	}

	if FormatForBpp(4) != FormatXRGB8888 || FormatForBpp(3) != FormatXRGB8888 {
		t.Error("other depths should select XRGB8888")
	}

	if FormatXRGB8888 != 0x34325258 || FormatRGB565 != 0x36314752 {
		t.Errorf("unexpected fourcc values 0x%x 0x%x", FormatXRGB8888, FormatRGB565)
	}
}
