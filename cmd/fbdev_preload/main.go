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

// fbdev_preload is an LD_PRELOAD library emulating /dev/fb0 for the Mali
// userspace driver on top of DRM/KMS. Build it with
//
//	go build -buildmode=c-shared -o libfbdev_shim.so ./cmd/fbdev_preload
//
// It is configured through FBDEV_SHIM_CONFIG and FBDEV_SHIM_* variables.
// FBDEV_SHIM_V sets the log verbosity.
package main

// #cgo CFLAGS: -Wall -Wextra -O2
// #cgo LDFLAGS: -ldl -lpthread
// #include <stdlib.h>
// #include "shim.h"
import "C"

import (
	"context"
	"flag"
	"os"
	"sync"
	"unsafe"

	"k8s.io/klog/v2"

	"github.com/intel/fbdev-drm-shim/internal/config"
	"github.com/intel/fbdev-drm-shim/internal/emu"
	"github.com/intel/fbdev-drm-shim/internal/hook"
	"github.com/intel/fbdev-drm-shim/internal/stats"
)

const (
	envVerbosity   = "FBDEV_SHIM_V"
	envLogToStderr = "FBDEV_SHIM_LOGTOSTDERR"
)

var (
	setupOnce   sync.Once
	interceptor *hook.Interceptor
)

// initLogging configures klog from the environment, there is no command
// line to parse in a preloaded library.
func initLogging() {
	fs := flag.NewFlagSet("fbdev_preload", flag.ContinueOnError)
	klog.InitFlags(fs)

	if v := os.Getenv(envVerbosity); v != "" {
		if err := fs.Set("v", v); err != nil {
			klog.Warningf("invalid %s: %v", envVerbosity, err)
		}
	}

	if v := os.Getenv(envLogToStderr); v != "" {
		if err := fs.Set("logtostderr", v); err != nil {
			klog.Warningf("invalid %s: %v", envLogToStderr, err)
		}
	}
}

func setup() {
	initLogging()

	cfg, err := config.FromEnv()
	if err != nil {
		klog.Errorf("fbdev emulation disabled: %+v", err)

		cfg = config.Default()
		// nothing matches an empty path
		cfg.FbdevPath = ""
		cfg.GPUPath = ""
	}

	var sys hook.Syscalls = libc{}

	st := stats.New(nil)
	session := emu.NewSession(cfg, nil, st)
	dispatcher := emu.NewDispatcher(session, sys.Ioctl, st, cfg.Trace)

	interceptor = hook.New(sys, session, dispatcher, hook.Options{
		FbdevPath:   cfg.FbdevPath,
		GPUPath:     cfg.GPUPath,
		BackingPath: cfg.BackingPath,
		Trace:       cfg.Trace,
	})

	if path := os.Getenv(config.EnvConfig); path != "" && err == nil {
		go func() {
			if err := config.Watch(context.Background(), path, session.Reconfigure); err != nil {
				klog.Warningf("configuration reload disabled: %v", err)
			}
		}()
	}

	klog.V(1).Infof("fbdev emulation loaded: %s -> %s on %s, gpu %s",
		cfg.FbdevPath, cfg.BackingPath, cfg.Driver, cfg.GPUPath)
}

func get() *hook.Interceptor {
	setupOnce.Do(setup)
	return interceptor
}

//export fbdevShimOpen
func fbdevShimOpen(path *C.char, flags C.int, mode C.mode_t) C.int {
	return C.int(get().Open(C.GoString(path), int(flags), uint32(mode)))
}

//export fbdevShimClose
func fbdevShimClose(fd C.int) C.int {
	return C.int(get().Close(int(fd)))
}

//export fbdevShimIoctl
func fbdevShimIoctl(fd C.int, req C.ulong, arg unsafe.Pointer) C.int {
	return C.int(get().Ioctl(int(fd), uintptr(req), arg))
}

//export fbdevShimMmap
func fbdevShimMmap(addr unsafe.Pointer, length C.size_t, prot, flags, fd C.int, offset C.off_t, errp *C.int) unsafe.Pointer {
	p, ret := get().Mmap(addr, uintptr(length), int(prot), int(flags), int(fd), int64(offset))
	if ret < 0 {
		*errp = C.int(-ret)
		return nil
	}

	return p
}

func main() {}
