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

package kms

import (
	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/intel/fbdev-drm-shim/pkg/drm"
)

type propertyIDs struct {
	connCrtcID uint32

	crtcActive uint32
	crtcModeID uint32

	planeFbID   uint32
	planeCrtcID uint32
	planeCrtcX  uint32
	planeCrtcY  uint32
	planeCrtcW  uint32
	planeCrtcH  uint32
	planeSrcX   uint32
	planeSrcY   uint32
	planeSrcW   uint32
	planeSrcH   uint32
}

type propertyRef struct {
	name string
	id   *uint32
}

// resolveObject looks up the named properties of one object, stores their
// IDs and snapshots their current values into the restore request.
func (o *Output) resolveObject(objectID, objectType uint32, refs []propertyRef) error {
	props, err := o.card.ObjectProperties(objectID, objectType)
	if err != nil {
		return errors.Wrapf(err, "failed to get properties of object %d", objectID)
	}

	current := map[string]int{}

	for i, pid := range props.Props {
		p, err := o.card.Property(pid)
		if err != nil {
			return errors.Wrapf(err, "failed to get property %d", pid)
		}

		current[p.Name] = i
	}

	for _, ref := range refs {
		i, ok := current[ref.name]
		if !ok {
			return errors.Errorf("object %d has no %s property", objectID, ref.name)
		}

		*ref.id = props.Props[i]
		o.restore.Add(objectID, props.Props[i], props.Values[i])
	}

	return nil
}

func (o *Output) resolveProperties() error {
	p := &o.props
	o.restore = drm.NewAtomicReq()

	if err := o.resolveObject(o.connector.ID, drm.ObjectConnector, []propertyRef{
		{"CRTC_ID", &p.connCrtcID},
	}); err != nil {
		return err
	}

	if err := o.resolveObject(o.crtcID, drm.ObjectCRTC, []propertyRef{
		{"ACTIVE", &p.crtcActive},
		{"MODE_ID", &p.crtcModeID},
	}); err != nil {
		return err
	}

	if err := o.resolveObject(o.primary, drm.ObjectPlane, []propertyRef{
		{"FB_ID", &p.planeFbID},
		{"CRTC_ID", &p.planeCrtcID},
		{"CRTC_X", &p.planeCrtcX},
		{"CRTC_Y", &p.planeCrtcY},
		{"CRTC_W", &p.planeCrtcW},
		{"CRTC_H", &p.planeCrtcH},
		{"SRC_X", &p.planeSrcX},
		{"SRC_Y", &p.planeSrcY},
		{"SRC_W", &p.planeSrcW},
		{"SRC_H", &p.planeSrcH},
	}); err != nil {
		return err
	}

	klog.V(4).Infof("restore request holds %d properties", o.restore.Len())

	return nil
}

// modesetRequest binds the connector to the CRTC, activates it with the
// mode blob and shows the primary plane full screen. The source rectangle
// is in 16.16 fixed point.
func (o *Output) modesetRequest() *drm.AtomicReq {
	p := &o.props
	w, h := uint64(o.mode.Hdisplay), uint64(o.mode.Vdisplay)

	req := drm.NewAtomicReq()
	req.Add(o.connector.ID, p.connCrtcID, uint64(o.crtcID))
	req.Add(o.crtcID, p.crtcActive, 1)
	req.Add(o.crtcID, p.crtcModeID, uint64(o.modeBlob))
	req.Add(o.primary, p.planeCrtcID, uint64(o.crtcID))
	req.Add(o.primary, p.planeCrtcX, 0)
	req.Add(o.primary, p.planeCrtcY, 0)
	req.Add(o.primary, p.planeCrtcW, w)
	req.Add(o.primary, p.planeCrtcH, h)
	req.Add(o.primary, p.planeSrcX, 0)
	req.Add(o.primary, p.planeSrcY, 0)
	req.Add(o.primary, p.planeSrcW, w<<16)
	req.Add(o.primary, p.planeSrcH, h<<16)

	return req
}

// PlaneRequest returns the one-property request that shows fbID on the
// primary plane. It is nil for the legacy interface.
func (o *Output) PlaneRequest(fbID uint32) *drm.AtomicReq {
	if !o.atomic {
		return nil
	}

	req := drm.NewAtomicReq()
	req.Add(o.primary, o.props.planeFbID, uint64(fbID))

	return req
}

func (o *Output) commitRequest(page *drm.AtomicReq) *drm.AtomicReq {
	req := o.modeset.Clone()
	req.Merge(page)

	return req
}

// Modeset shows fbID for the first time. It reports whether a flip
// completion event tagged with userData will follow.
func (o *Output) Modeset(fbID uint32, page *drm.AtomicReq, userData uint64) (bool, error) {
	if !o.atomic {
		crtc := &drm.Crtc{ID: o.crtcID, FbID: fbID, ModeValid: true, Mode: o.mode}
		if err := o.card.SetCrtc(crtc, []uint32{o.connector.ID}); err != nil {
			return false, errors.Wrapf(err, "failed to set CRTC %d", o.crtcID)
		}

		return false, nil
	}

	flags := uint32(drm.AtomicAllowModeSet | drm.PageFlipEvent)
	if err := o.card.AtomicCommit(o.commitRequest(page), flags, userData); err != nil {
		return false, errors.Wrap(err, "initial atomic commit failed")
	}

	return true, nil
}

// Flip schedules fbID for the next vertical blank. A completion event
// tagged with userData follows.
func (o *Output) Flip(fbID uint32, page *drm.AtomicReq, userData uint64) error {
	if !o.atomic {
		return errors.Wrapf(o.card.PageFlip(o.crtcID, fbID, drm.PageFlipEvent, userData),
			"page flip to framebuffer %d failed", fbID)
	}

	flags := uint32(drm.PageFlipEvent | drm.AtomicNonBlock)

	return errors.Wrapf(o.card.AtomicCommit(o.commitRequest(page), flags, userData),
		"atomic flip to framebuffer %d failed", fbID)
}

// Restore puts back the display configuration found by Open.
func (o *Output) Restore() error {
	if !o.atomic {
		if o.saved == nil {
			return nil
		}

		return errors.Wrapf(o.card.SetCrtc(o.saved, []uint32{o.connector.ID}),
			"failed to restore CRTC %d", o.crtcID)
	}

	if o.restore == nil {
		return nil
	}

	return errors.Wrap(o.card.AtomicCommit(o.restore, drm.AtomicAllowModeSet, 0),
		"failed to restore display state")
}
