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

package mali

import (
	"testing"
	"unsafe"

	"github.com/google/go-cmp/cmp"
)

func TestLayout(t *testing.T) {
	long, short := uintptr(28), uintptr(8)
	if unsafe.Sizeof(uintptr(0)) == 8 {
		long, short = 32, 16
	}

	tcases := []struct {
		name     string
		size     uintptr
		expected uintptr
	}{
		{"map_external_mem", unsafe.Sizeof(MapExternalMem{}), long},
		{"attach_dma_buf", unsafe.Sizeof(AttachDmaBuf{}), long},
		{"unmap_external_mem", unsafe.Sizeof(UnmapExternalMem{}), short},
		{"release_dma_buf", unsafe.Sizeof(ReleaseDmaBuf{}), short},
	}

	for _, tt := range tcases {
		t.Run(tt.name, func(t *testing.T) {
			if tt.size != tt.expected {
				t.Errorf("Test case '%s': expected %d bytes, got %d", tt.name, tt.expected, tt.size)
			}
		})
	}

	if unsafe.Offsetof(MapExternalMem{}.Cookie) != unsafe.Offsetof(AttachDmaBuf{}.Cookie) {
		t.Error("cookie offsets differ between map and attach")
	}
}

func TestRequestCodes(t *testing.T) {
	size := uintptr(4)
	if unsafe.Sizeof(uintptr(0)) == 8 {
		size = 8
	}

	tcases := []struct {
		name string
		req  uintptr
		nr   uintptr
	}{
		{"MALI_IOC_MEM_ATTACH_DMA_BUF", IoctlAttachDmaBuf, 8},
		{"MALI_IOC_MEM_RELEASE_DMA_BUF", IoctlReleaseDmaBuf, 9},
		{"MALI_IOC_MEM_MAP_EXT", IoctlMapExtMem, 13},
		{"MALI_IOC_MEM_UNMAP_EXT", IoctlUnmapExtMem, 14},
	}

	for _, tt := range tcases {
		t.Run(tt.name, func(t *testing.T) {
			expected := 0xc0000000 | size<<16 | 0x83<<8 | tt.nr
			if tt.req != expected {
				t.Errorf("Test case '%s': expected 0x%x, got 0x%x", tt.name, expected, tt.req)
			}

			if RequestName(tt.req) != tt.name {
				t.Errorf("Test case '%s': unexpected name %s", tt.name, RequestName(tt.req))
			}
		})
	}
}

func TestAttachFor(t *testing.T) {
	m := MapExternalMem{
		Ctx:         0xdead,
		PhysAddr:    0x67900000,
		Size:        3686400,
		MaliAddress: 0x40000000,
		Rights:      3,
		Flags:       1,
		Cookie:      77,
	}

	expected := AttachDmaBuf{
		Ctx:         0xdead,
		MemFD:       12,
		Size:        3686400,
		MaliAddress: 0x40000000,
		Rights:      3,
		Flags:       1,
	}

	if diff := cmp.Diff(expected, AttachFor(&m, 12)); diff != "" {
		t.Errorf("unexpected attach request (-want +got):\n%s", diff)
	}
}
