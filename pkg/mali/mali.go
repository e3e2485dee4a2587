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

// Package mali mirrors the part of the Mali-400 user/kernel interface that
// deals with external memory and dma-buf attachments.
package mali

import (
	"fmt"
	"unsafe"

	"github.com/intel/fbdev-drm-shim/pkg/ioctl"
)

const (
	// IocBase is MALI_IOC_BASE.
	IocBase = 0x82
	// IocMemoryBase is the ioctl type of the memory subsystem.
	IocMemoryBase = IocBase + 1

	// Memory subsystem function numbers.
	FuncAttachDmaBuf  = 8
	FuncReleaseDmaBuf = 9
	FuncMapExtMem     = 13
	FuncUnmapExtMem   = 14
)

// The driver encodes the size of a pointer to the argument, not the size of
// the argument itself.
var ptrSize = unsafe.Sizeof(uintptr(0))

// Request codes of the memory subsystem.
var (
	IoctlAttachDmaBuf  = ioctl.IOWR(IocMemoryBase, FuncAttachDmaBuf, ptrSize)
	IoctlReleaseDmaBuf = ioctl.IOWR(IocMemoryBase, FuncReleaseDmaBuf, ptrSize)
	IoctlMapExtMem     = ioctl.IOWR(IocMemoryBase, FuncMapExtMem, ptrSize)
	IoctlUnmapExtMem   = ioctl.IOWR(IocMemoryBase, FuncUnmapExtMem, ptrSize)
)

// MapExternalMem is _mali_uk_map_external_mem_s.
type MapExternalMem struct {
	Ctx         uintptr
	PhysAddr    uint32
	Size        uint32
	MaliAddress uint32
	Rights      uint32
	Flags       uint32
	Cookie      uint32
}

// UnmapExternalMem is _mali_uk_unmap_external_mem_s.
type UnmapExternalMem struct {
	Ctx    uintptr
	Cookie uint32
}

// AttachDmaBuf is _mali_uk_attach_dma_buf_s.
type AttachDmaBuf struct {
	Ctx         uintptr
	MemFD       uint32
	Size        uint32
	MaliAddress uint32
	Rights      uint32
	Flags       uint32
	Cookie      uint32
}

// ReleaseDmaBuf is _mali_uk_release_dma_buf_s. It shares its layout with
// UnmapExternalMem.
type ReleaseDmaBuf struct {
	Ctx    uintptr
	Cookie uint32
}

// AttachFor rewrites an external memory mapping into a dma-buf attachment
// of fd, keeping context, size, target address, rights and flags.
func AttachFor(m *MapExternalMem, fd int) AttachDmaBuf {
	return AttachDmaBuf{
		Ctx:         m.Ctx,
		MemFD:       uint32(fd),
		Size:        m.Size,
		MaliAddress: m.MaliAddress,
		Rights:      m.Rights,
		Flags:       m.Flags,
	}
}

func (m *MapExternalMem) String() string {
	return fmt.Sprintf("map_ext_mem{ctx=0x%x phys=0x%08x size=%d mali=0x%08x rights=0x%x flags=0x%x cookie=0x%x}",
		m.Ctx, m.PhysAddr, m.Size, m.MaliAddress, m.Rights, m.Flags, m.Cookie)
}

func (m *UnmapExternalMem) String() string {
	return fmt.Sprintf("unmap_ext_mem{ctx=0x%x cookie=0x%x}", m.Ctx, m.Cookie)
}

func (a *AttachDmaBuf) String() string {
	return fmt.Sprintf("attach_dma_buf{ctx=0x%x fd=%d size=%d mali=0x%08x rights=0x%x flags=0x%x cookie=0x%x}",
		a.Ctx, int32(a.MemFD), a.Size, a.MaliAddress, a.Rights, a.Flags, a.Cookie)
}

func (r *ReleaseDmaBuf) String() string {
	return fmt.Sprintf("release_dma_buf{ctx=0x%x cookie=0x%x}", r.Ctx, r.Cookie)
}

// RequestName returns the symbolic name of a memory subsystem request.
func RequestName(req uintptr) string {
	switch req {
	case IoctlAttachDmaBuf:
		return "MALI_IOC_MEM_ATTACH_DMA_BUF"
	case IoctlReleaseDmaBuf:
		return "MALI_IOC_MEM_RELEASE_DMA_BUF"
	case IoctlMapExtMem:
		return "MALI_IOC_MEM_MAP_EXT"
	case IoctlUnmapExtMem:
		return "MALI_IOC_MEM_UNMAP_EXT"
	}

	return ioctl.Describe(req)
}
