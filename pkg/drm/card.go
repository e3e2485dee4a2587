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

// Package drm is a small client for the kernel DRM/KMS ioctl interface:
// resource enumeration, properties, atomic and legacy mode setting, dumb
// buffers, PRIME export and page flip events.
package drm

import (
	"io"
)

// Card is the set of DRM/KMS operations the emulation needs from a display
// device. *File implements it on top of the real kernel interface.
type Card interface {
	io.Closer

	// Fd returns the device descriptor, or -1 when the card has no real
	// descriptor.
	Fd() int

	// Version queries the driver name and version.
	Version() (*Version, error)
	// SetClientCap enables an optional client capability.
	SetClientCap(capability, value uint64) error

	// Resources lists CRTCs, connectors, encoders and framebuffers.
	Resources() (*Resources, error)
	// Connector returns a connector with its modes and encoders.
	Connector(id uint32) (*Connector, error)
	// Encoder returns an encoder.
	Encoder(id uint32) (*Encoder, error)
	// Crtc returns the current configuration of a CRTC.
	Crtc(id uint32) (*Crtc, error)
	// SetCrtc programs a CRTC with the legacy interface.
	SetCrtc(crtc *Crtc, connectors []uint32) error

	// PlaneResources lists plane IDs. Requires the universal planes cap
	// to see primary and cursor planes.
	PlaneResources() ([]uint32, error)
	// Plane returns a plane and its supported formats.
	Plane(id uint32) (*Plane, error)

	// ObjectProperties returns the property IDs and values of an object.
	ObjectProperties(id, objectType uint32) (*ObjectProperties, error)
	// Property returns property metadata.
	Property(id uint32) (*Property, error)
	// CreatePropertyBlob uploads a blob and returns its ID.
	CreatePropertyBlob(data []byte) (uint32, error)
	// DestroyPropertyBlob releases a blob.
	DestroyPropertyBlob(id uint32) error

	// CreateDumb allocates a dumb buffer object. bpp is in bits.
	CreateDumb(width, height, bpp uint32) (*DumbBuffer, error)
	// MapDumb returns the fake offset to mmap a dumb buffer through the
	// card descriptor.
	MapDumb(handle uint32) (uint64, error)
	// DestroyDumb releases a dumb buffer object.
	DestroyDumb(handle uint32) error
	// PrimeHandleToFD exports a buffer object as a dma-buf descriptor.
	PrimeHandleToFD(handle, flags uint32) (int, error)

	// AddFB2 registers a framebuffer and returns its ID.
	AddFB2(fb *FramebufferCmd) (uint32, error)
	// RemoveFB unregisters a framebuffer.
	RemoveFB(id uint32) error

	// PageFlip schedules a legacy page flip.
	PageFlip(crtcID, fbID, flags uint32, userData uint64) error
	// AtomicCommit commits an atomic request.
	AtomicCommit(req *AtomicReq, flags uint32, userData uint64) error

	// WaitEvent blocks until events can be read from the card. There is
	// no timeout.
	WaitEvent() error
	// ReadEvents reads all pending events.
	ReadEvents() ([]Event, error)
}

// Opener opens a card by device path.
type Opener func(path string) (Card, error)
