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

package main

import (
	"context"
	"encoding/binary"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"

	"github.com/klauspost/cpuid/v2"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"

	"github.com/intel/fbdev-drm-shim/internal/config"
	"github.com/intel/fbdev-drm-shim/internal/emu"
	"github.com/intel/fbdev-drm-shim/internal/stats"
	"github.com/intel/fbdev-drm-shim/pkg/drm"
	"github.com/intel/fbdev-drm-shim/pkg/fbdev"
)

var cardRE = regexp.MustCompile(`^card([0-9]+)$`)

// XRGB8888 and RGB565 encodings of red, green and blue.
var (
	colors32 = []uint32{0x00ff0000, 0x0000ff00, 0x000000ff}
	colors16 = []uint16{0xf800, 0x07e0, 0x001f}
)

func main() {
	var err error
	var configPath string
	var device string
	var statsPath string
	var count int
	flag.StringVar(&configPath, "c", os.Getenv(config.EnvConfig), "Path to configuration file")
	flag.StringVar(&device, "d", "/dev/fb0", "Framebuffer device for info")
	flag.StringVar(&statsPath, "stats", "", "Write flip statistics to this file")
	flag.IntVar(&count, "n", 60, "Number of page flips")
	klog.InitFlags(nil)

	flag.Parse()

	if flag.NArg() < 1 {
		klog.Fatal("Please provide command: prepare, probe, info, flip")
	}

	cfg := config.Default()
	if configPath != "" {
		if cfg, err = config.Load(configPath); err != nil {
			klog.Fatalf("%+v", err)
		}
	}

	if statsPath != "" {
		cfg.StatsPath = statsPath
	}

	switch cmd := flag.Arg(0); cmd {
	case "prepare":
		err = prepare(cfg)
	case "probe":
		err = probe(context.Background(), cfg)
	case "info":
		err = info(device)
	case "flip":
		err = flipPages(cfg, count)
	default:
		err = errors.Errorf("unknown command %+v", flag.Args())
	}

	if err != nil {
		klog.Fatalf("%+v", err)
	}
}

// prepare creates the backing file the emulated device node is opened on,
// sized for all pages.
func prepare(cfg *config.Config) error {
	width, height := cfg.Width, cfg.Height
	buffers := uint64(cfg.Buffers)

	if width == 0 || height == 0 {
		// native mode, ask the display
		s := emu.NewSession(cfg, nil, nil)
		if err := s.Init(); err != nil {
			return errors.Wrap(err, "can't determine the display geometry")
		}

		g := s.Geometry()
		width, height, buffers = g.Width, g.Height, uint64(g.Buffers)

		if err := s.Free(); err != nil {
			return err
		}
	}

	size := int64(cfg.FrameSize(width, height) * buffers)

	f, err := os.OpenFile(cfg.BackingPath, os.O_RDWR|os.O_CREATE, 0666)
	if err != nil {
		return errors.WithStack(err)
	}
	defer f.Close()

	if err := f.Truncate(size); err != nil {
		return errors.Wrapf(err, "%s: resize to %d bytes", cfg.BackingPath, size)
	}

	fmt.Printf("%s: %d bytes (%dx%d, %d bytes per pixel, %d pages)\n",
		cfg.BackingPath, size, width, height, cfg.Bpp, buffers)

	return nil
}

type cardInfo struct {
	path    string
	driver  string
	version string
	err     error
}

// listCards returns the card nodes under dir in index order.
func listCards(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrap(err, "can't read DRM directory")
	}

	indices := []int{}

	for _, e := range entries {
		m := cardRE.FindStringSubmatch(e.Name())
		if m == nil {
			continue
		}

		n, err := strconv.Atoi(m[1])
		if err != nil {
			continue
		}

		indices = append(indices, n)
	}

	sort.Ints(indices)

	paths := make([]string, 0, len(indices))
	for _, n := range indices {
		paths = append(paths, drm.CardPath(dir, n))
	}

	return paths, nil
}

func probeCards(ctx context.Context, paths []string, open drm.Opener) []cardInfo {
	infos := make([]cardInfo, len(paths))

	g, _ := errgroup.WithContext(ctx)

	for i, path := range paths {
		g.Go(func() error {
			infos[i].path = path

			card, err := open(path)
			if err != nil {
				infos[i].err = err
				return nil
			}
			defer card.Close()

			ver, err := card.Version()
			if err != nil {
				infos[i].err = err
				return nil
			}

			infos[i].driver = ver.Name
			infos[i].version = fmt.Sprintf("%d.%d.%d", ver.Major, ver.Minor, ver.Patch)

			return nil
		})
	}

	// errors are kept per card
	_ = g.Wait()

	return infos
}

// probe lists DRM cards and marks the one the emulation would use.
func probe(ctx context.Context, cfg *config.Config) error {
	paths, err := listCards(cfg.DRIPath)
	if err != nil {
		return err
	}

	fmt.Printf("host: %s %s, %d logical cores\n", cpuid.CPU.VendorString, cpuid.CPU.BrandName, cpuid.CPU.LogicalCores)

	selected := ""

	card, path, err := drm.FindCard(cfg.DRIPath, cfg.Driver, drm.OpenCard)
	if err == nil {
		selected = path
		card.Close()
	}

	for _, ci := range probeCards(ctx, paths, drm.OpenCard) {
		mark := " "
		if ci.path == selected {
			mark = "*"
		}

		if ci.err != nil {
			fmt.Printf("%s %s: %v\n", mark, ci.path, ci.err)
			continue
		}

		fmt.Printf("%s %s: %s %s\n", mark, ci.path, ci.driver, ci.version)
	}

	if selected == "" {
		return errors.Wrapf(drm.ErrNoDevice, "driver %q", cfg.Driver)
	}

	return nil
}

func info(device string) error {
	dev, err := fbdev.Open(device)
	if err != nil {
		return err
	}
	defer dev.Close()

	fix, err := dev.FixScreenInfo()
	if err != nil {
		return err
	}

	v, err := dev.VarScreenInfo()
	if err != nil {
		return err
	}

	fmt.Printf("%s fix: %v\n", filepath.Base(device), fix)
	fmt.Printf("%s var: %v\n", filepath.Base(device), v)

	return nil
}

// fillPage paints a whole page with one color.
func fillPage(buf []byte, bpp uint32, color int) {
	switch bpp {
	case 2:
		c := colors16[color%len(colors16)]
		for i := 0; i+2 <= len(buf); i += 2 {
			binary.LittleEndian.PutUint16(buf[i:], c)
		}
	default:
		c := colors32[color%len(colors32)]
		for i := 0; i+4 <= len(buf); i += 4 {
			binary.LittleEndian.PutUint32(buf[i:], c)
		}
	}
}

// paint maps every page of the session through the card and colors it.
func paint(s *emu.Session) error {
	card := s.Card()
	pool := s.Pool()
	g := s.Geometry()

	for i := 0; i < pool.Len(); i++ {
		page := pool.Page(i)

		offset, err := card.MapDumb(page.Handle)
		if err != nil {
			return errors.Wrapf(err, "page %d", i)
		}

		size := int(page.Pitch * g.Height)

		buf, err := unix.Mmap(card.Fd(), int64(offset), size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
		if err != nil {
			return errors.Wrapf(err, "page %d: mmap", i)
		}

		fillPage(buf, g.Bpp, i)

		if err := unix.Munmap(buf); err != nil {
			return errors.WithStack(err)
		}
	}

	return nil
}

// flipPages cycles the display through all pages count times.
func flipPages(cfg *config.Config, count int) error {
	st := stats.New(nil)

	s := emu.NewSession(cfg, nil, st)
	if err := s.Init(); err != nil {
		return err
	}

	defer func() {
		if err := s.Free(); err != nil {
			klog.Errorf("free failed: %+v", err)
		}
	}()

	if err := paint(s); err != nil {
		return err
	}

	g := s.Geometry()

	for i := 0; i < count; i++ {
		if err := s.Flip(i % g.Buffers); err != nil {
			return err
		}
	}

	if err := s.Drain(); err != nil {
		return err
	}

	n, avg := st.Latency()
	fmt.Printf("%d flips issued, %d completed, average latency %v\n",
		st.Value(stats.FlipsIssued), n, avg)

	return nil
}
