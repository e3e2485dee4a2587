// Copyright 2021-2026 Intel Corporation. All Rights Reserved.
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

//---------------------------------------------------------------
// fake card SPECIFICATION (YAML)
//
// Info: "single HDMI output"
// Driver: exynos
// Crtcs: 2               (default: one per connector)
// NoAtomic: false        (refuse the atomic client cap)
// Connectors:
//   - Type: HDMI-A       (VGA, DVI-D, DP, LVDS, ...)
//     Connected: true
//     Modes: ["1920x1080@60", "1280x720@60"]
// Planes:                (default: primary + cursor per CRTC)
//   - Type: Primary      (Primary, Cursor, Overlay)
//     Formats: [XR24, RG16]
//---------------------------------------------------------------

// Package fakedri provides an in-memory DRM card for testing mode setting,
// buffer allocation and page flipping without display hardware.
package fakedri

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
	"k8s.io/klog/v2"

	"github.com/intel/fbdev-drm-shim/pkg/drm"
)

const (
	maxConnectors = 16
	maxCrtcs      = 8
	defaultDriver = "exynos"
)

// GenOptions represents the struct for our YAML data.
type GenOptions struct {
	Info       string          `yaml:"Info" json:"Info"`             // Verbal config description
	Driver     string          `yaml:"Driver" json:"Driver"`         // Driver name reported by the version query
	Crtcs      int             `yaml:"Crtcs" json:"Crtcs"`           // CRTC count
	NoAtomic   bool            `yaml:"NoAtomic" json:"NoAtomic"`     // Driver without atomic mode setting
	Connectors []ConnectorSpec `yaml:"Connectors" json:"Connectors"` // Connectors in enumeration order
	Planes     []PlaneSpec     `yaml:"Planes" json:"Planes"`         // Planes, shared by all CRTCs
}

// ConnectorSpec describes one fake connector.
type ConnectorSpec struct {
	Type      string   `yaml:"Type" json:"Type"`
	Connected bool     `yaml:"Connected" json:"Connected"`
	Modes     []string `yaml:"Modes" json:"Modes"`
}

// PlaneSpec describes one fake plane.
type PlaneSpec struct {
	Type    string   `yaml:"Type" json:"Type"`
	Formats []string `yaml:"Formats" json:"Formats"`
}

// DefaultOptions is a single connected HDMI output with a 720p and a 1080p
// mode, on the exynos driver.
func DefaultOptions() GenOptions {
	return GenOptions{
		Info:   "single HDMI output",
		Driver: defaultDriver,
		Connectors: []ConnectorSpec{
			{Type: "HDMI-A", Connected: true, Modes: []string{"1920x1080@60", "1280x720@60"}},
		},
	}
}

func connectorType(name string) (uint32, error) {
	for typ := uint32(0); typ <= drm.ConnectorDPI; typ++ {
		if strings.EqualFold(drm.ConnectorTypeName(typ), name) {
			return typ, nil
		}
	}

	return 0, errors.Errorf("unknown connector type %q", name)
}

func planeType(name string) (uint64, error) {
	switch strings.ToLower(name) {
	case "primary":
		return drm.PlaneTypePrimary, nil
	case "cursor":
		return drm.PlaneTypeCursor, nil
	case "overlay", "":
		return drm.PlaneTypeOverlay, nil
	}

	return 0, errors.Errorf("unknown plane type %q", name)
}

func pixelFormat(name string) (uint32, error) {
	if len(name) != 4 {
		return 0, errors.Errorf("invalid fourcc %q", name)
	}

	return uint32(name[0]) | uint32(name[1])<<8 | uint32(name[2])<<16 | uint32(name[3])<<24, nil
}

// ParseMode converts "WxH" or "WxH@R" into a mode with plausible timings.
func ParseMode(s string) (drm.ModeInfo, error) {
	var mode drm.ModeInfo

	res, rate, hasRate := strings.Cut(s, "@")

	w, h, ok := strings.Cut(res, "x")
	if !ok {
		return mode, errors.Errorf("invalid mode %q", s)
	}

	width, err := strconv.ParseUint(w, 10, 16)
	if err != nil {
		return mode, errors.Wrapf(err, "invalid mode width in %q", s)
	}

	height, err := strconv.ParseUint(h, 10, 16)
	if err != nil {
		return mode, errors.Wrapf(err, "invalid mode height in %q", s)
	}

	refresh := uint64(60)

	if hasRate {
		if refresh, err = strconv.ParseUint(rate, 10, 32); err != nil {
			return mode, errors.Wrapf(err, "invalid refresh rate in %q", s)
		}
	}

	mode.Hdisplay = uint16(width)
	mode.HsyncStart = uint16(width) + 88
	mode.HsyncEnd = mode.HsyncStart + 44
	mode.Htotal = mode.HsyncEnd + 148
	mode.Vdisplay = uint16(height)
	mode.VsyncStart = uint16(height) + 4
	mode.VsyncEnd = mode.VsyncStart + 5
	mode.Vtotal = mode.VsyncEnd + 36
	mode.Vrefresh = uint32(refresh)
	mode.Clock = uint32(uint64(mode.Htotal) * uint64(mode.Vtotal) * refresh / 1000)
	copy(mode.Name[:], fmt.Sprintf("%dx%d", width, height))

	return mode, nil
}

func verifyOptions(opts GenOptions) (GenOptions, error) {
	if opts.Driver == "" {
		opts.Driver = defaultDriver
	}

	if len(opts.Connectors) > maxConnectors {
		return opts, errors.Errorf("too many connectors: %d > %d", len(opts.Connectors), maxConnectors)
	}

	if opts.Crtcs == 0 {
		opts.Crtcs = len(opts.Connectors)
	}

	if opts.Crtcs < 0 || opts.Crtcs > maxCrtcs {
		return opts, errors.Errorf("invalid CRTC count: 0 <= %d <= %d", opts.Crtcs, maxCrtcs)
	}

	for i, c := range opts.Connectors {
		if _, err := connectorType(c.Type); err != nil {
			return opts, errors.Wrapf(err, "connector %d", i)
		}

		for _, m := range c.Modes {
			if _, err := ParseMode(m); err != nil {
				return opts, errors.Wrapf(err, "connector %d", i)
			}
		}
	}

	for i, p := range opts.Planes {
		if _, err := planeType(p.Type); err != nil {
			return opts, errors.Wrapf(err, "plane %d", i)
		}

		for _, f := range p.Formats {
			if _, err := pixelFormat(f); err != nil {
				return opts, errors.Wrapf(err, "plane %d", i)
			}
		}
	}

	return opts, nil
}

// GetOptionsByJSON parses a JSON fake card spec.
func GetOptionsByJSON(data string) (GenOptions, error) {
	if len(data) == 0 {
		return GenOptions{}, errors.New("no fake card spec provided")
	}

	klog.V(1).Infof("Using fake card JSON spec: %v", data)

	var opts GenOptions
	if err := json.Unmarshal([]byte(data), &opts); err != nil {
		return opts, errors.Wrapf(err, "unmarshaling JSON spec '%s' failed", data)
	}

	return verifyOptions(opts)
}

// GetOptionsByYAML parses a YAML fake card spec.
func GetOptionsByYAML(data string) (GenOptions, error) {
	if len(data) == 0 {
		return GenOptions{}, errors.New("no fake card spec provided")
	}

	klog.V(1).Infof("Using fake card YAML spec: %v", data)

	var opts GenOptions
	if err := yaml.Unmarshal([]byte(data), &opts); err != nil {
		return opts, errors.Wrapf(err, "unmarshaling YAML spec '%s' failed", data)
	}

	return verifyOptions(opts)
}

// GetOptions reads a spec file, YAML unless the name ends in .json.
func GetOptions(name string) (GenOptions, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return GenOptions{}, errors.Wrap(err, "reading fake card spec")
	}

	if strings.HasSuffix(name, ".json") {
		return GetOptionsByJSON(string(data))
	}

	return GetOptionsByYAML(string(data))
}

// NewOpener returns a drm.Opener serving cards[i] at dir/card<i>. Every
// other path fails like a missing device node.
func NewOpener(dir string, cards ...*Card) drm.Opener {
	return func(path string) (drm.Card, error) {
		for i, c := range cards {
			if drm.CardPath(dir, i) == path {
				c.reopen()
				return c, nil
			}
		}

		return nil, &os.PathError{Op: "open", Path: path, Err: os.ErrNotExist}
	}
}
