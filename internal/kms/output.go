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

// Package kms claims one display pipeline (connector, encoder, CRTC and,
// with atomic mode setting, the primary plane) of a DRM card and drives it:
// initial mode set, page flips and restoring the previous configuration.
package kms

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/intel/fbdev-drm-shim/internal/config"
	"github.com/intel/fbdev-drm-shim/pkg/drm"
)

var (
	// ErrNoConnector is returned when no connected connector of the wanted
	// class has a mode.
	ErrNoConnector = errors.New("no usable connector")
	// ErrNoMode is returned when the requested resolution is not offered
	// by the connector, or the selected mode is empty.
	ErrNoMode = errors.New("no usable display mode")
)

// Options select the pipeline and mode.
type Options struct {
	// Width and Height request an exact mode; zero picks the first one.
	Width, Height uint32
	// Bpp is bytes per pixel of the scanout buffers.
	Bpp uint32
	// Connector is one of the config connector classes.
	Connector string
	Atomic    bool
}

// Output is a claimed display pipeline.
type Output struct {
	card   drm.Card
	atomic bool

	connector *drm.Connector
	encoderID uint32
	crtcID    uint32
	crtcIdx   int
	mode      drm.ModeInfo

	// legacy
	saved *drm.Crtc

	// atomic
	primary  uint32
	cursor   uint32
	props    propertyIDs
	modeBlob uint32
	restore  *drm.AtomicReq
	modeset  *drm.AtomicReq
}

// ConnectorClass maps a connector type to a config connector class.
func ConnectorClass(typ uint32) string {
	switch typ {
	case drm.ConnectorHDMIA, drm.ConnectorHDMIB, drm.ConnectorDVII, drm.ConnectorDVID, drm.ConnectorDVIA:
		return config.ConnectorHDMI
	case drm.ConnectorVGA:
		return config.ConnectorVGA
	}

	return config.ConnectorOther
}

// Open claims a pipeline on card. On failure nothing created by Open is
// left behind; the card itself stays open and belongs to the caller.
func Open(card drm.Card, opts Options) (*Output, error) {
	o := &Output{card: card, atomic: opts.Atomic}

	if o.atomic {
		if err := card.SetClientCap(drm.ClientCapUniversalPlanes, 1); err != nil {
			return nil, errors.Wrap(err, "universal planes not supported")
		}

		if err := card.SetClientCap(drm.ClientCapAtomic, 1); err != nil {
			return nil, errors.Wrap(err, "atomic mode setting not supported")
		}
	}

	res, err := card.Resources()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get DRM resources")
	}

	if err := o.findConnector(res, opts.Connector); err != nil {
		return nil, err
	}

	if err := o.findCrtc(res); err != nil {
		return nil, err
	}

	if err := o.selectMode(opts.Width, opts.Height); err != nil {
		return nil, err
	}

	if !o.atomic {
		if o.saved, err = card.Crtc(o.crtcID); err != nil {
			return nil, errors.Wrapf(err, "failed to save CRTC %d", o.crtcID)
		}

		klog.V(1).Infof("display: %s on CRTC %d, mode %s (legacy)", o.connector.Name(), o.crtcID, o.mode.String())

		return o, nil
	}

	if err := o.setupAtomic(drm.FormatForBpp(opts.Bpp)); err != nil {
		o.Close()
		return nil, err
	}

	klog.V(1).Infof("display: %s on CRTC %d, plane %d, mode %s (atomic)",
		o.connector.Name(), o.crtcID, o.primary, o.mode.String())

	return o, nil
}

func (o *Output) findConnector(res *drm.Resources, class string) error {
	for _, id := range res.Connectors {
		conn, err := o.card.Connector(id)
		if err != nil {
			return errors.Wrapf(err, "failed to get connector %d", id)
		}

		if conn.Connection != drm.Connected || len(conn.Modes) == 0 {
			klog.V(3).Infof("skipping %s: not connected or no modes", conn.Name())
			continue
		}

		if class != config.ConnectorAny && ConnectorClass(conn.Type) != class {
			klog.V(3).Infof("skipping %s: not of class %s", conn.Name(), class)
			continue
		}

		o.connector = conn

		return nil
	}

	return errors.Wrapf(ErrNoConnector, "class %s", class)
}

// findCrtc picks the encoder bound to the connector, falling back to its
// first possible encoder, and the CRTC the encoder drives or may drive.
func (o *Output) findCrtc(res *drm.Resources) error {
	ids := o.connector.Encoders
	if o.connector.EncoderID != 0 {
		ids = append([]uint32{o.connector.EncoderID}, ids...)
	}

	var enc *drm.Encoder

	for _, id := range ids {
		e, err := o.card.Encoder(id)
		if err != nil {
			klog.V(3).Infof("encoder %d of %s: %v", id, o.connector.Name(), err)
			continue
		}

		enc = e

		break
	}

	if enc == nil {
		return errors.Errorf("no encoder for %s", o.connector.Name())
	}

	o.encoderID = enc.ID

	// the legacy path keeps a CRTC the encoder already drives
	if enc.CrtcID != 0 && !o.atomic {
		for i, id := range res.Crtcs {
			if id == enc.CrtcID {
				o.crtcID, o.crtcIdx = id, i
				return nil
			}
		}
	}

	for i, id := range res.Crtcs {
		if enc.PossibleCrtcs&(1<<i) != 0 {
			o.crtcID, o.crtcIdx = id, i
			return nil
		}
	}

	return errors.Errorf("no CRTC for encoder %d", enc.ID)
}

func (o *Output) selectMode(width, height uint32) error {
	modes := o.connector.Modes

	if width == 0 && height == 0 {
		o.mode = modes[0]
	} else {
		found := false

		for _, m := range modes {
			if uint32(m.Hdisplay) == width && uint32(m.Vdisplay) == height {
				o.mode, found = m, true
				break
			}
		}

		if !found {
			return errors.Wrapf(ErrNoMode, "%dx%d not offered by %s", width, height, o.connector.Name())
		}
	}

	if o.mode.Hdisplay == 0 || o.mode.Vdisplay == 0 {
		return errors.Wrapf(ErrNoMode, "empty mode %q on %s", o.mode.String(), o.connector.Name())
	}

	return nil
}

func (o *Output) setupAtomic(format uint32) error {
	if err := o.findPlanes(format); err != nil {
		return err
	}

	if err := o.resolveProperties(); err != nil {
		return err
	}

	blob, err := o.card.CreatePropertyBlob(o.mode.Bytes())
	if err != nil {
		return errors.Wrap(err, "failed to create mode blob")
	}

	o.modeBlob = blob
	o.modeset = o.modesetRequest()

	return nil
}

func (o *Output) planeType(id uint32) (uint64, error) {
	props, err := o.card.ObjectProperties(id, drm.ObjectPlane)
	if err != nil {
		return 0, errors.Wrapf(err, "failed to get properties of plane %d", id)
	}

	for i, pid := range props.Props {
		p, err := o.card.Property(pid)
		if err != nil {
			return 0, errors.Wrapf(err, "failed to get property %d", pid)
		}

		if p.Name == "type" {
			return props.Values[i], nil
		}
	}

	return 0, errors.Errorf("plane %d has no type property", id)
}

func (o *Output) findPlanes(format uint32) error {
	ids, err := o.card.PlaneResources()
	if err != nil {
		return errors.Wrap(err, "failed to get plane resources")
	}

	for _, id := range ids {
		plane, err := o.card.Plane(id)
		if err != nil {
			return errors.Wrapf(err, "failed to get plane %d", id)
		}

		if plane.PossibleCrtcs&(1<<o.crtcIdx) == 0 {
			continue
		}

		typ, err := o.planeType(id)
		if err != nil {
			return err
		}

		switch {
		case typ == drm.PlaneTypePrimary && o.primary == 0:
			if !plane.SupportsFormat(format) {
				return errors.Errorf("primary plane %d can't scan out format 0x%08x", id, format)
			}

			o.primary = id
		case typ == drm.PlaneTypeCursor && o.cursor == 0:
			o.cursor = id
		}
	}

	if o.primary == 0 || o.cursor == 0 {
		return errors.Errorf("CRTC %d lacks a primary or cursor plane (primary %d, cursor %d)",
			o.crtcID, o.primary, o.cursor)
	}

	return nil
}

// Close releases the mode blob. It does not restore the display; see
// Restore.
func (o *Output) Close() error {
	if o.modeBlob == 0 {
		return nil
	}

	err := o.card.DestroyPropertyBlob(o.modeBlob)
	o.modeBlob = 0

	return errors.Wrap(err, "failed to destroy mode blob")
}

// Mode returns the selected mode.
func (o *Output) Mode() drm.ModeInfo {
	return o.mode
}

// Atomic reports whether the pipeline is driven with atomic commits.
func (o *Output) Atomic() bool {
	return o.atomic
}

// CrtcID returns the claimed CRTC.
func (o *Output) CrtcID() uint32 {
	return o.crtcID
}

// ConnectorName returns the claimed connector, e.g. "HDMI-A-1".
func (o *Output) ConnectorName() string {
	return o.connector.Name()
}

// PrimaryPlane returns the primary plane ID, zero without atomic.
func (o *Output) PrimaryPlane() uint32 {
	return o.primary
}
