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
	"os"
	"runtime"
	"unsafe"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/intel/fbdev-drm-shim/pkg/ioctl"
)

// File is a DRM card opened through its device node.
type File struct {
	DevPath string
	f       *os.File
}

// Open opens a DRM device node read/write and checks that it answers the
// version query.
func Open(path string) (*File, error) {
	f, err := os.OpenFile(path, os.O_RDWR, 0)
	if err != nil {
		return nil, err
	}

	card := &File{DevPath: path, f: f}
	// check that kernel API is compatible
	if _, err := card.Version(); err != nil {
		card.Close()
		return nil, errors.Wrap(err, "kernel API mismatch")
	}

	return card, nil
}

// OpenCard is an Opener backed by Open.
func OpenCard(path string) (Card, error) {
	f, err := Open(path)
	if err != nil {
		return nil, err
	}

	return f, nil
}

// Close closes the device descriptor.
func (c *File) Close() error {
	if c.f != nil {
		err := c.f.Close()
		c.f = nil

		return err
	}

	return nil
}

// Fd returns the raw descriptor.
func (c *File) Fd() int {
	if c.f == nil {
		return -1
	}

	return int(c.f.Fd())
}

func (c *File) ioctl(req uintptr, arg unsafe.Pointer) error {
	return ioctl.Retry(c.Fd(), req, arg)
}

// Version issues DRM_IOCTL_VERSION twice: once for the string lengths and
// once to fill them.
func (c *File) Version() (*Version, error) {
	var v sysVersion

	if err := c.ioctl(IoctlVersion, unsafe.Pointer(&v)); err != nil {
		return nil, errors.Wrap(err, "DRM_IOCTL_VERSION")
	}

	name := make([]byte, v.nameLen+1)
	date := make([]byte, v.dateLen+1)
	desc := make([]byte, v.descLen+1)

	v.name = uintptr(ptr(name))
	v.date = uintptr(ptr(date))
	v.desc = uintptr(ptr(desc))

	err := c.ioctl(IoctlVersion, unsafe.Pointer(&v))
	runtime.KeepAlive(name)
	runtime.KeepAlive(date)
	runtime.KeepAlive(desc)

	if err != nil {
		return nil, errors.Wrap(err, "DRM_IOCTL_VERSION")
	}

	return &Version{
		Major: v.major,
		Minor: v.minor,
		Patch: v.patch,
		Name:  cstring(name[:v.nameLen]),
		Date:  cstring(date[:v.dateLen]),
		Desc:  cstring(desc[:v.descLen]),
	}, nil
}

// SetClientCap issues DRM_IOCTL_SET_CLIENT_CAP.
func (c *File) SetClientCap(capability, value uint64) error {
	arg := sysSetClientCap{capability: capability, value: value}

	return errors.Wrapf(c.ioctl(IoctlSetClientCap, unsafe.Pointer(&arg)), "DRM_IOCTL_SET_CLIENT_CAP(%d)", capability)
}

// Resources issues DRM_IOCTL_MODE_GETRESOURCES. The object counts can grow
// between the sizing and the filling call (hotplug), in which case the
// query is repeated.
func (c *File) Resources() (*Resources, error) {
	for {
		var res sysResources

		if err := c.ioctl(IoctlModeGetResources, unsafe.Pointer(&res)); err != nil {
			return nil, errors.Wrap(err, "DRM_IOCTL_MODE_GETRESOURCES")
		}

		out := &Resources{
			FBs:        make([]uint32, res.countFbs),
			Crtcs:      make([]uint32, res.countCrtcs),
			Connectors: make([]uint32, res.countConnectors),
			Encoders:   make([]uint32, res.countEncoders),
		}
		counts := res

		res.fbIDPtr = ptr(out.FBs)
		res.crtcIDPtr = ptr(out.Crtcs)
		res.connectorIDPtr = ptr(out.Connectors)
		res.encoderIDPtr = ptr(out.Encoders)

		err := c.ioctl(IoctlModeGetResources, unsafe.Pointer(&res))
		runtime.KeepAlive(out)

		if err != nil {
			return nil, errors.Wrap(err, "DRM_IOCTL_MODE_GETRESOURCES")
		}

		if res.countFbs > counts.countFbs || res.countCrtcs > counts.countCrtcs ||
			res.countConnectors > counts.countConnectors || res.countEncoders > counts.countEncoders {
			continue
		}

		out.FBs = out.FBs[:res.countFbs]
		out.Crtcs = out.Crtcs[:res.countCrtcs]
		out.Connectors = out.Connectors[:res.countConnectors]
		out.Encoders = out.Encoders[:res.countEncoders]
		out.MinWidth, out.MaxWidth = res.minWidth, res.maxWidth
		out.MinHeight, out.MaxHeight = res.minHeight, res.maxHeight

		return out, nil
	}
}

// Connector issues DRM_IOCTL_MODE_GETCONNECTOR, which probes the connector.
func (c *File) Connector(id uint32) (*Connector, error) {
	for {
		conn := sysGetConnector{id: id}

		if err := c.ioctl(IoctlModeGetConnector, unsafe.Pointer(&conn)); err != nil {
			return nil, errors.Wrapf(err, "DRM_IOCTL_MODE_GETCONNECTOR(%d)", id)
		}

		out := &Connector{
			Modes:      make([]ModeInfo, conn.countModes),
			Encoders:   make([]uint32, conn.countEncoders),
			Props:      make([]uint32, conn.countProps),
			PropValues: make([]uint64, conn.countProps),
		}
		counts := conn

		conn.modesPtr = ptr(out.Modes)
		conn.encodersPtr = ptr(out.Encoders)
		conn.propsPtr = ptr(out.Props)
		conn.propValuesPtr = ptr(out.PropValues)

		err := c.ioctl(IoctlModeGetConnector, unsafe.Pointer(&conn))
		runtime.KeepAlive(out)

		if err != nil {
			return nil, errors.Wrapf(err, "DRM_IOCTL_MODE_GETCONNECTOR(%d)", id)
		}

		if conn.countModes > counts.countModes || conn.countEncoders > counts.countEncoders ||
			conn.countProps > counts.countProps {
			continue
		}

		out.ID = conn.id
		out.EncoderID = conn.encoderID
		out.Type = conn.connectorType
		out.TypeID = conn.connectorTypeID
		out.Connection = conn.connection
		out.MMWidth, out.MMHeight = conn.mmWidth, conn.mmHeight
		out.Subpixel = conn.subpixel
		out.Modes = out.Modes[:conn.countModes]
		out.Encoders = out.Encoders[:conn.countEncoders]
		out.Props = out.Props[:conn.countProps]
		out.PropValues = out.PropValues[:conn.countProps]

		return out, nil
	}
}

// Encoder issues DRM_IOCTL_MODE_GETENCODER.
func (c *File) Encoder(id uint32) (*Encoder, error) {
	enc := sysGetEncoder{id: id}

	if err := c.ioctl(IoctlModeGetEncoder, unsafe.Pointer(&enc)); err != nil {
		return nil, errors.Wrapf(err, "DRM_IOCTL_MODE_GETENCODER(%d)", id)
	}

	return &Encoder{
		ID:             enc.id,
		Type:           enc.typ,
		CrtcID:         enc.crtcID,
		PossibleCrtcs:  enc.possibleCrtcs,
		PossibleClones: enc.possibleClones,
	}, nil
}

// Crtc issues DRM_IOCTL_MODE_GETCRTC.
func (c *File) Crtc(id uint32) (*Crtc, error) {
	crtc := sysCrtc{id: id}

	if err := c.ioctl(IoctlModeGetCrtc, unsafe.Pointer(&crtc)); err != nil {
		return nil, errors.Wrapf(err, "DRM_IOCTL_MODE_GETCRTC(%d)", id)
	}

	return &Crtc{
		ID:        crtc.id,
		FbID:      crtc.fbID,
		X:         crtc.x,
		Y:         crtc.y,
		GammaSize: crtc.gammaSize,
		ModeValid: crtc.modeValid != 0,
		Mode:      crtc.mode,
	}, nil
}

// SetCrtc issues DRM_IOCTL_MODE_SETCRTC.
func (c *File) SetCrtc(crtc *Crtc, connectors []uint32) error {
	arg := sysCrtc{
		setConnectorsPtr: ptr(connectors),
		countConnectors:  uint32(len(connectors)),
		id:               crtc.ID,
		fbID:             crtc.FbID,
		x:                crtc.X,
		y:                crtc.Y,
		mode:             crtc.Mode,
	}

	if crtc.ModeValid {
		arg.modeValid = 1
	}

	err := c.ioctl(IoctlModeSetCrtc, unsafe.Pointer(&arg))
	runtime.KeepAlive(connectors)

	return errors.Wrapf(err, "DRM_IOCTL_MODE_SETCRTC(%d)", crtc.ID)
}

// PlaneResources issues DRM_IOCTL_MODE_GETPLANERESOURCES.
func (c *File) PlaneResources() ([]uint32, error) {
	for {
		var res sysGetPlaneResources

		if err := c.ioctl(IoctlModeGetPlaneRes, unsafe.Pointer(&res)); err != nil {
			return nil, errors.Wrap(err, "DRM_IOCTL_MODE_GETPLANERESOURCES")
		}

		planes := make([]uint32, res.countPlanes)
		count := res.countPlanes
		res.planeIDPtr = ptr(planes)

		err := c.ioctl(IoctlModeGetPlaneRes, unsafe.Pointer(&res))
		runtime.KeepAlive(planes)

		if err != nil {
			return nil, errors.Wrap(err, "DRM_IOCTL_MODE_GETPLANERESOURCES")
		}

		if res.countPlanes > count {
			continue
		}

		return planes[:res.countPlanes], nil
	}
}

// Plane issues DRM_IOCTL_MODE_GETPLANE.
func (c *File) Plane(id uint32) (*Plane, error) {
	p := sysGetPlane{planeID: id}

	if err := c.ioctl(IoctlModeGetPlane, unsafe.Pointer(&p)); err != nil {
		return nil, errors.Wrapf(err, "DRM_IOCTL_MODE_GETPLANE(%d)", id)
	}

	formats := make([]uint32, p.countFormatTypes)
	p.formatTypePtr = ptr(formats)

	err := c.ioctl(IoctlModeGetPlane, unsafe.Pointer(&p))
	runtime.KeepAlive(formats)

	if err != nil {
		return nil, errors.Wrapf(err, "DRM_IOCTL_MODE_GETPLANE(%d)", id)
	}

	if int(p.countFormatTypes) < len(formats) {
		formats = formats[:p.countFormatTypes]
	}

	return &Plane{
		ID:            p.planeID,
		CrtcID:        p.crtcID,
		FbID:          p.fbID,
		PossibleCrtcs: p.possibleCrtcs,
		GammaSize:     p.gammaSize,
		Formats:       formats,
	}, nil
}

// ObjectProperties issues DRM_IOCTL_MODE_OBJ_GETPROPERTIES.
func (c *File) ObjectProperties(id, objectType uint32) (*ObjectProperties, error) {
	for {
		arg := sysObjGetProperties{objID: id, objType: objectType}

		if err := c.ioctl(IoctlModeObjGetProps, unsafe.Pointer(&arg)); err != nil {
			return nil, errors.Wrapf(err, "DRM_IOCTL_MODE_OBJ_GETPROPERTIES(%d)", id)
		}

		count := arg.countProps
		props := make([]uint32, count)
		values := make([]uint64, count)
		arg.propsPtr = ptr(props)
		arg.propValuesPtr = ptr(values)

		err := c.ioctl(IoctlModeObjGetProps, unsafe.Pointer(&arg))
		runtime.KeepAlive(props)
		runtime.KeepAlive(values)

		if err != nil {
			return nil, errors.Wrapf(err, "DRM_IOCTL_MODE_OBJ_GETPROPERTIES(%d)", id)
		}

		if arg.countProps > count {
			continue
		}

		return &ObjectProperties{
			ObjectID:   id,
			ObjectType: objectType,
			Props:      props[:arg.countProps],
			Values:     values[:arg.countProps],
		}, nil
	}
}

// Property issues DRM_IOCTL_MODE_GETPROPERTY.
func (c *File) Property(id uint32) (*Property, error) {
	arg := sysGetProperty{propID: id}

	if err := c.ioctl(IoctlModeGetProperty, unsafe.Pointer(&arg)); err != nil {
		return nil, errors.Wrapf(err, "DRM_IOCTL_MODE_GETPROPERTY(%d)", id)
	}

	values := make([]uint64, arg.countValues)
	enums := make([]sysPropertyEnum, arg.countEnumBlobs)
	arg.valuesPtr = ptr(values)
	arg.enumBlobPtr = ptr(enums)

	err := c.ioctl(IoctlModeGetProperty, unsafe.Pointer(&arg))
	runtime.KeepAlive(values)
	runtime.KeepAlive(enums)

	if err != nil {
		return nil, errors.Wrapf(err, "DRM_IOCTL_MODE_GETPROPERTY(%d)", id)
	}

	p := &Property{
		ID:     arg.propID,
		Flags:  arg.flags,
		Name:   cstring(arg.name[:]),
		Values: values,
	}

	for _, e := range enums {
		p.Enums = append(p.Enums, PropertyEnum{Value: e.value, Name: cstring(e.name[:])})
	}

	return p, nil
}

// CreatePropertyBlob issues DRM_IOCTL_MODE_CREATEPROPBLOB.
func (c *File) CreatePropertyBlob(data []byte) (uint32, error) {
	arg := sysCreateBlob{data: ptr(data), length: uint32(len(data))}

	err := c.ioctl(IoctlModeCreatePropBlob, unsafe.Pointer(&arg))
	runtime.KeepAlive(data)

	if err != nil {
		return 0, errors.Wrap(err, "DRM_IOCTL_MODE_CREATEPROPBLOB")
	}

	return arg.blobID, nil
}

// DestroyPropertyBlob issues DRM_IOCTL_MODE_DESTROYPROPBLOB.
func (c *File) DestroyPropertyBlob(id uint32) error {
	arg := sysDestroyBlob{blobID: id}

	return errors.Wrapf(c.ioctl(IoctlModeDestroyPropBlob, unsafe.Pointer(&arg)), "DRM_IOCTL_MODE_DESTROYPROPBLOB(%d)", id)
}

// CreateDumb issues DRM_IOCTL_MODE_CREATE_DUMB.
func (c *File) CreateDumb(width, height, bpp uint32) (*DumbBuffer, error) {
	arg := sysCreateDumb{width: width, height: height, bpp: bpp}

	if err := c.ioctl(IoctlModeCreateDumb, unsafe.Pointer(&arg)); err != nil {
		return nil, errors.Wrapf(err, "DRM_IOCTL_MODE_CREATE_DUMB(%dx%d@%d)", width, height, bpp)
	}

	return &DumbBuffer{
		Handle: arg.handle,
		Width:  width,
		Height: height,
		Bpp:    bpp,
		Pitch:  arg.pitch,
		Size:   arg.size,
	}, nil
}

// MapDumb issues DRM_IOCTL_MODE_MAP_DUMB.
func (c *File) MapDumb(handle uint32) (uint64, error) {
	arg := sysMapDumb{handle: handle}

	if err := c.ioctl(IoctlModeMapDumb, unsafe.Pointer(&arg)); err != nil {
		return 0, errors.Wrapf(err, "DRM_IOCTL_MODE_MAP_DUMB(%d)", handle)
	}

	return arg.offset, nil
}

// DestroyDumb issues DRM_IOCTL_MODE_DESTROY_DUMB.
func (c *File) DestroyDumb(handle uint32) error {
	arg := sysDestroyDumb{handle: handle}

	return errors.Wrapf(c.ioctl(IoctlModeDestroyDumb, unsafe.Pointer(&arg)), "DRM_IOCTL_MODE_DESTROY_DUMB(%d)", handle)
}

// PrimeHandleToFD issues DRM_IOCTL_PRIME_HANDLE_TO_FD.
func (c *File) PrimeHandleToFD(handle, flags uint32) (int, error) {
	arg := sysPrimeHandle{handle: handle, flags: flags, fd: -1}

	if err := c.ioctl(IoctlPrimeHandleToFD, unsafe.Pointer(&arg)); err != nil {
		return -1, errors.Wrapf(err, "DRM_IOCTL_PRIME_HANDLE_TO_FD(%d)", handle)
	}

	return int(arg.fd), nil
}

// AddFB2 issues DRM_IOCTL_MODE_ADDFB2 for a single-plane framebuffer.
func (c *File) AddFB2(fb *FramebufferCmd) (uint32, error) {
	arg := sysFBCmd2{
		width:       fb.Width,
		height:      fb.Height,
		pixelFormat: fb.Format,
	}
	arg.handles[0] = fb.Handle
	arg.pitches[0] = fb.Pitch
	arg.offsets[0] = fb.Offset

	if err := c.ioctl(IoctlModeAddFB2, unsafe.Pointer(&arg)); err != nil {
		return 0, errors.Wrapf(err, "DRM_IOCTL_MODE_ADDFB2(handle %d)", fb.Handle)
	}

	return arg.fbID, nil
}

// RemoveFB issues DRM_IOCTL_MODE_RMFB.
func (c *File) RemoveFB(id uint32) error {
	return errors.Wrapf(c.ioctl(IoctlModeRmFB, unsafe.Pointer(&id)), "DRM_IOCTL_MODE_RMFB(%d)", id)
}

// PageFlip issues DRM_IOCTL_MODE_PAGE_FLIP.
func (c *File) PageFlip(crtcID, fbID, flags uint32, userData uint64) error {
	arg := sysPageFlip{crtcID: crtcID, fbID: fbID, flags: flags, userData: userData}

	return errors.Wrapf(c.ioctl(IoctlModePageFlip, unsafe.Pointer(&arg)), "DRM_IOCTL_MODE_PAGE_FLIP(crtc %d, fb %d)", crtcID, fbID)
}

// AtomicCommit issues DRM_IOCTL_MODE_ATOMIC.
func (c *File) AtomicCommit(req *AtomicReq, flags uint32, userData uint64) error {
	objs, counts, props, values := req.arrays()

	arg := sysAtomic{
		flags:         flags,
		countObjs:     uint32(len(objs)),
		objsPtr:       ptr(objs),
		countPropsPtr: ptr(counts),
		propsPtr:      ptr(props),
		propValuesPtr: ptr(values),
		userData:      userData,
	}

	err := c.ioctl(IoctlModeAtomic, unsafe.Pointer(&arg))
	runtime.KeepAlive(objs)
	runtime.KeepAlive(counts)
	runtime.KeepAlive(props)
	runtime.KeepAlive(values)

	return errors.Wrapf(err, "DRM_IOCTL_MODE_ATOMIC(flags 0x%x)", flags)
}

// WaitEvent polls the card descriptor without a timeout.
func (c *File) WaitEvent() error {
	fds := []unix.PollFd{{Fd: int32(c.Fd()), Events: unix.POLLIN}}

	for {
		_, err := unix.Poll(fds, -1)
		if err == unix.EINTR || err == unix.EAGAIN {
			continue
		}

		if err != nil {
			return errors.Wrap(err, "poll")
		}

		switch {
		case fds[0].Revents&unix.POLLIN != 0:
			return nil
		case fds[0].Revents&(unix.POLLERR|unix.POLLHUP|unix.POLLNVAL) != 0:
			return errors.Errorf("poll: card descriptor error (revents 0x%x)", fds[0].Revents)
		}
	}
}

// ReadEvents reads and decodes the pending events.
func (c *File) ReadEvents() ([]Event, error) {
	buf := make([]byte, 1024)

	n, err := unix.Read(c.Fd(), buf)
	if err != nil {
		return nil, errors.Wrap(err, "read events")
	}

	return ParseEvents(buf[:n]), nil
}

// ParseEvents decodes a buffer of struct drm_event records. Unknown event
// types are skipped; a truncated trailing record is dropped.
func ParseEvents(buf []byte) []Event {
	var events []Event

	vblankLen := int(unsafe.Sizeof(sysEventVblank{}))

	for off := 0; off+8 <= len(buf); {
		typ := binary.NativeEndian.Uint32(buf[off:])
		length := int(binary.NativeEndian.Uint32(buf[off+4:]))

		if length < 8 || off+length > len(buf) {
			break
		}

		if (typ == EventFlipComplete || typ == EventVblank) && length >= vblankLen {
			rec := buf[off : off+length]
			events = append(events, Event{
				Type:     typ,
				UserData: binary.NativeEndian.Uint64(rec[8:]),
				Sec:      binary.NativeEndian.Uint32(rec[16:]),
				Usec:     binary.NativeEndian.Uint32(rec[20:]),
				Sequence: binary.NativeEndian.Uint32(rec[24:]),
				CrtcID:   binary.NativeEndian.Uint32(rec[28:]),
			})
		}

		off += length
	}

	return events
}
