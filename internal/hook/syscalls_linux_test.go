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

package hook

import (
	"os"
	"path/filepath"
	"testing"
	"unsafe"

	"github.com/go-logr/logr"
	"golang.org/x/sys/unix"

	"github.com/intel/fbdev-drm-shim/internal/config"
	"github.com/intel/fbdev-drm-shim/internal/emu"
)

func TestUnixPassthrough(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data")

	content := make([]byte, os.Getpagesize())
	copy(content, "fbdev")

	if err := os.WriteFile(path, content, 0600); err != nil {
		t.Fatal(err)
	}

	cfg := config.Default()
	session := emu.NewSession(cfg, nil, nil)
	sys := Unix{}

	h := NewWithLogger(sys, session, emu.NewDispatcher(session, sys.Ioctl, nil, false), Options{
		FbdevPath:   cfg.FbdevPath,
		GPUPath:     cfg.GPUPath,
		BackingPath: cfg.BackingPath,
	}, logr.Discard())

	fd := h.Open(path, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if fd < 0 {
		t.Fatalf("open returned %d", fd)
	}

	var pending int32
	if ret := h.Ioctl(fd, unix.TIOCINQ, unsafe.Pointer(&pending)); ret != 0 || int(pending) != len(content) {
		t.Errorf("FIONREAD returned %d, %d bytes", ret, pending)
	}

	p, ret := h.Mmap(nil, uintptr(len(content)), unix.PROT_READ, unix.MAP_SHARED, fd, 0)
	if ret < 0 {
		t.Fatalf("mmap returned %d", ret)
	}

	if got := string(unsafe.Slice((*byte)(p), 5)); got != "fbdev" {
		t.Errorf("mapped %q", got)
	}

	if _, _, errno := unix.Syscall(unix.SYS_MUNMAP, uintptr(p), uintptr(len(content)), 0); errno != 0 {
		t.Errorf("munmap: %v", errno)
	}

	if ret := h.Close(fd); ret != 0 {
		t.Errorf("close returned %d", ret)
	}

	if session.Initialized() {
		t.Error("unrelated file initialized the session")
	}
}
