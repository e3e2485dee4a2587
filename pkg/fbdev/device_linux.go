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

package fbdev

import (
	"os"
	"runtime"
	"unsafe"

	"github.com/pkg/errors"

	"github.com/intel/fbdev-drm-shim/pkg/ioctl"
)

// Device is an opened framebuffer device node, real or emulated.
type Device struct {
	DevPath string
	f       *os.File
}

// Open opens a framebuffer device read/write and checks that it answers
// FBIOGET_FSCREENINFO.
func Open(path string) (*Device, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	dev := &Device{DevPath: path, f: f}
	// check that kernel API is compatible
	if _, err := dev.FixScreenInfo(); err != nil {
		dev.Close()
		return nil, errors.Wrap(err, "kernel API mismatch")
	}

	return dev, nil
}

// Close closes the device.
func (d *Device) Close() error {
	return d.f.Close()
}

// VarScreenInfo issues FBIOGET_VSCREENINFO.
func (d *Device) VarScreenInfo() (*VarScreenInfo, error) {
	var v VarScreenInfo

	if _, err := ioctl.Ioctl(int(d.f.Fd()), IoctlGetVScreenInfo, unsafe.Pointer(&v)); err != nil {
		return nil, errors.Wrapf(err, "%s: FBIOGET_VSCREENINFO", d.DevPath)
	}

	runtime.KeepAlive(d.f)

	return &v, nil
}

// FixScreenInfo issues FBIOGET_FSCREENINFO.
func (d *Device) FixScreenInfo() (*FixScreenInfo, error) {
	var f FixScreenInfo

	if _, err := ioctl.Ioctl(int(d.f.Fd()), IoctlGetFScreenInfo, unsafe.Pointer(&f)); err != nil {
		return nil, errors.Wrapf(err, "%s: FBIOGET_FSCREENINFO", d.DevPath)
	}

	runtime.KeepAlive(d.f)

	return &f, nil
}
