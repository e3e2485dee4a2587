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

// Package config holds the shim configuration: built-in defaults, an
// optional YAML or INI file and environment overrides.
package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/go-ini/ini"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v2"
	"k8s.io/klog/v2"
)

const (
	// EnvConfig names the configuration file.
	EnvConfig = "FBDEV_SHIM_CONFIG"

	// MaxBuffers bounds the buffer pool.
	MaxBuffers = 8

	// DefaultBaseAddress is the emulated physical start of the framebuffer.
	DefaultBaseAddress = 0x67900000
)

// Connector classes.
const (
	ConnectorHDMI  = "hdmi"
	ConnectorVGA   = "vga"
	ConnectorOther = "other"
	ConnectorAny   = "any"
)

// Config is the complete shim configuration.
type Config struct {
	// Width and Height request an exact display mode. Zero selects the
	// connector's first mode.
	Width  uint32 `yaml:"Width"`
	Height uint32 `yaml:"Height"`
	// Bpp is bytes per pixel: 2 for RGB565, 4 for XRGB8888.
	Bpp     uint32 `yaml:"Bpp"`
	Buffers uint32 `yaml:"Buffers"`

	// UseScreen drives a real display. Without it buffers are only
	// allocated and exported.
	UseScreen bool   `yaml:"UseScreen"`
	Atomic    bool   `yaml:"Atomic"`
	Connector string `yaml:"Connector"`
	Driver    string `yaml:"Driver"`

	FbdevPath   string `yaml:"FbdevPath"`
	GPUPath     string `yaml:"GPUPath"`
	BackingPath string `yaml:"BackingPath"`
	DRIPath     string `yaml:"DRIPath"`

	BaseAddress uint64 `yaml:"BaseAddress"`

	Trace     bool   `yaml:"Trace"`
	StatsPath string `yaml:"StatsPath"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Bpp:         4,
		Buffers:     3,
		UseScreen:   true,
		Atomic:      true,
		Connector:   ConnectorHDMI,
		Driver:      "exynos",
		FbdevPath:   "/dev/fb0",
		GPUPath:     "/dev/mali",
		BackingPath: "/dev/shm/fake_fbdev",
		DRIPath:     "/dev/dri",
		BaseAddress: DefaultBaseAddress,
	}
}

type field struct {
	key string
	env string
	set func(c *Config, value string) error
}

func parseUint32(dst *uint32) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 32)
		if err != nil {
			return err
		}

		*dst = uint32(v)

		return nil
	}
}

func parseBool(dst *bool) func(string) error {
	return func(s string) error {
		v, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return err
		}

		*dst = v

		return nil
	}
}

func uintField(key, env string, get func(*Config) *uint32) field {
	return field{key, env, func(c *Config, s string) error { return parseUint32(get(c))(s) }}
}

func boolField(key, env string, get func(*Config) *bool) field {
	return field{key, env, func(c *Config, s string) error { return parseBool(get(c))(s) }}
}

func stringField(key, env string, get func(*Config) *string) field {
	return field{key, env, func(c *Config, s string) error {
		*get(c) = strings.TrimSpace(s)
		return nil
	}}
}

// fields lists every setting with its INI key and environment variable.
var fields = []field{
	uintField("Width", "FBDEV_SHIM_WIDTH", func(c *Config) *uint32 { return &c.Width }),
	uintField("Height", "FBDEV_SHIM_HEIGHT", func(c *Config) *uint32 { return &c.Height }),
	uintField("Bpp", "FBDEV_SHIM_BPP", func(c *Config) *uint32 { return &c.Bpp }),
	uintField("Buffers", "FBDEV_SHIM_BUFFERS", func(c *Config) *uint32 { return &c.Buffers }),
	boolField("UseScreen", "FBDEV_SHIM_USE_SCREEN", func(c *Config) *bool { return &c.UseScreen }),
	boolField("Atomic", "FBDEV_SHIM_ATOMIC", func(c *Config) *bool { return &c.Atomic }),
	stringField("Connector", "FBDEV_SHIM_CONNECTOR", func(c *Config) *string { return &c.Connector }),
	stringField("Driver", "FBDEV_SHIM_DRIVER", func(c *Config) *string { return &c.Driver }),
	stringField("FbdevPath", "FBDEV_SHIM_FBDEV", func(c *Config) *string { return &c.FbdevPath }),
	stringField("GPUPath", "FBDEV_SHIM_GPU", func(c *Config) *string { return &c.GPUPath }),
	stringField("BackingPath", "FBDEV_SHIM_BACKING", func(c *Config) *string { return &c.BackingPath }),
	stringField("DRIPath", "FBDEV_SHIM_DRI", func(c *Config) *string { return &c.DRIPath }),
	{"BaseAddress", "FBDEV_SHIM_BASE_ADDRESS", func(c *Config, s string) error {
		v, err := strconv.ParseUint(strings.TrimSpace(s), 0, 64)
		if err != nil {
			return err
		}

		c.BaseAddress = v

		return nil
	}},
	boolField("Trace", "FBDEV_SHIM_TRACE", func(c *Config) *bool { return &c.Trace }),
	stringField("StatsPath", "FBDEV_SHIM_STATS", func(c *Config) *string { return &c.StatsPath }),
}

func lookupField(key string) (field, bool) {
	for _, f := range fields {
		if strings.EqualFold(f.key, key) {
			return f, true
		}
	}

	return field{}, false
}

// Load builds a configuration from defaults, the file at path (if not
// empty) and the environment, and validates the result.
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		if err := c.readFile(path); err != nil {
			return nil, err
		}
	}

	if err := c.applyEnv(); err != nil {
		return nil, err
	}

	if err := c.Validate(); err != nil {
		return nil, err
	}

	return c, nil
}

// FromEnv loads the file named by FBDEV_SHIM_CONFIG, if any.
func FromEnv() (*Config, error) {
	return Load(os.Getenv(EnvConfig))
}

func (c *Config) readFile(path string) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".ini", ".conf":
		return c.readINI(path)
	case ".yaml", ".yml", "":
		return c.readYAML(path)
	}

	return errors.Errorf("%s: unknown configuration format", path)
}

func (c *Config) readYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "reading configuration")
	}

	if err := yaml.UnmarshalStrict(data, c); err != nil {
		return errors.Wrapf(err, "%s: parsing YAML", path)
	}

	klog.V(1).Infof("configuration loaded from %s", path)

	return nil
}

func (c *Config) readINI(path string) error {
	file, err := ini.Load(path)
	if err != nil {
		return errors.Wrap(err, "failed to parse configuration")
	}

	for _, section := range file.Sections() {
		if section.Name() != ini.DEFAULT_SECTION && !strings.EqualFold(section.Name(), "shim") {
			klog.Warningf("%s: ignoring section [%s]", path, section.Name())
			continue
		}

		for _, key := range section.Keys() {
			f, ok := lookupField(key.Name())
			if !ok {
				return errors.Errorf("%s: unknown key %s in [%s]", path, key.Name(), section.Name())
			}

			if err := f.set(c, key.String()); err != nil {
				return errors.Wrapf(err, "%s: can't parse %s", path, key.Name())
			}
		}
	}

	klog.V(1).Infof("configuration loaded from %s", path)

	return nil
}

func (c *Config) applyEnv() error {
	for _, f := range fields {
		value, ok := os.LookupEnv(f.env)
		if !ok {
			continue
		}

		if err := f.set(c, value); err != nil {
			return errors.Wrapf(err, "can't parse %s", f.env)
		}

		klog.V(2).Infof("%s overridden by %s", f.key, f.env)
	}

	return nil
}

// Validate checks value ranges and combinations.
func (c *Config) Validate() error {
	if c.Bpp != 2 && c.Bpp != 4 {
		return errors.Errorf("invalid bytes per pixel %d, expected 2 or 4", c.Bpp)
	}

	if c.Buffers < 1 || c.Buffers > MaxBuffers {
		return errors.Errorf("invalid buffer count: 1 <= %d <= %d", c.Buffers, MaxBuffers)
	}

	if (c.Width == 0) != (c.Height == 0) {
		return errors.Errorf("width and height must be set together, got %dx%d", c.Width, c.Height)
	}

	if !c.UseScreen && c.Width == 0 {
		return errors.New("width and height are required without a display")
	}

	switch c.Connector {
	case ConnectorHDMI, ConnectorVGA, ConnectorOther, ConnectorAny:
	default:
		return errors.Errorf("unknown connector class %q", c.Connector)
	}

	if c.Driver == "" {
		return errors.New("no DRM driver name")
	}

	for name, p := range map[string]string{
		"framebuffer": c.FbdevPath,
		"GPU":         c.GPUPath,
		"backing":     c.BackingPath,
		"DRI":         c.DRIPath,
	} {
		if !filepath.IsAbs(p) {
			return errors.Errorf("%s path %q is not absolute", name, p)
		}
	}

	if c.FbdevPath == c.GPUPath {
		return errors.Errorf("framebuffer and GPU paths are both %s", c.FbdevPath)
	}

	return nil
}

// FrameSize returns the byte size of one page for a width and height.
func (c *Config) FrameSize(width, height uint32) uint64 {
	return uint64(width) * uint64(height) * uint64(c.Bpp)
}
