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

package emu_test

import (
	"os"
	"path/filepath"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/intel/fbdev-drm-shim/internal/config"
	"github.com/intel/fbdev-drm-shim/internal/emu"
	"github.com/intel/fbdev-drm-shim/internal/kms"
	"github.com/intel/fbdev-drm-shim/internal/stats"
	"github.com/intel/fbdev-drm-shim/pkg/drm"
	"github.com/intel/fbdev-drm-shim/pkg/fakedri"
)

func newConfig(width, height, buffers uint32) *config.Config {
	cfg := config.Default()
	cfg.Width = width
	cfg.Height = height
	cfg.Buffers = buffers

	return cfg
}

func cardWithDriver(driver string) *fakedri.Card {
	opts := fakedri.DefaultOptions()
	opts.Driver = driver

	card, err := fakedri.New(opts)
	Expect(err).NotTo(HaveOccurred())

	return card
}

var _ = Describe("Session", func() {
	var (
		card    *fakedri.Card
		session *emu.Session
		st      *stats.Collector
	)

	BeforeEach(func() {
		session = nil
		card = fakedri.NewDefault()
		st = stats.New(nil)
	})

	AfterEach(func() {
		if session != nil {
			Expect(session.Free()).To(Succeed())
		}

		Expect(card.Leaks()).To(BeEmpty())
	})

	Context("with 3 buffers of 1280x720 at 4 bytes per pixel", func() {
		BeforeEach(func() {
			session = emu.NewSession(newConfig(1280, 720, 3), fakedri.NewOpener("/dev/dri", card), st)
			Expect(session.Init()).To(Succeed())
		})

		It("fabricates matching screen info", func() {
			fix, err := session.FixScreenInfo()
			Expect(err).NotTo(HaveOccurred())
			Expect(fix.LineLength).To(BeEquivalentTo(5120))
			Expect(fix.SmemStart).To(BeEquivalentTo(config.DefaultBaseAddress))
			Expect(fix.SmemLen).To(BeZero())

			v, err := session.VarScreenInfo()
			Expect(err).NotTo(HaveOccurred())
			Expect(v.Xres).To(BeEquivalentTo(1280))
			Expect(v.Yres).To(BeEquivalentTo(720))
			Expect(v.YresVirtual).To(BeEquivalentTo(3 * 720))
			Expect(v.BitsPerPixel).To(BeEquivalentTo(32))
		})

		It("shows the last buffer first", func() {
			Expect(session.CurrentPage()).To(Equal(2))
			Expect(session.PendingFlips()).To(Equal(0))
			Expect(session.Pool().Page(2).Used).To(BeTrue())
			Expect(session.DRMFD()).To(Equal(card.Fd()))
		})

		It("flips to buffer 0 with a single commit", func() {
			before := len(card.Commits())

			Expect(session.Flip(0)).To(Succeed())
			Expect(card.Commits()).To(HaveLen(before + 1))
			Expect(session.PendingFlips()).To(Equal(1))
			Expect(session.CurrentPage()).To(Equal(2))

			Expect(session.Drain()).To(Succeed())
			Expect(session.CurrentPage()).To(Equal(0))
			Expect(session.PendingFlips()).To(Equal(0))
		})

		It("initializes only once", func() {
			geometry := session.Geometry()
			v, _ := session.VarScreenInfo()

			Expect(session.Init()).To(Succeed())

			Expect(card.Calls("CreateDumb")).To(Equal(3))
			Expect(session.Geometry()).To(Equal(geometry))

			again, _ := session.VarScreenInfo()
			Expect(again).To(Equal(v))
		})

		It("resolves page addresses", func() {
			size := uint64(1280 * 720 * 4)

			index, fd, err := session.BufferForAddress(config.DefaultBaseAddress + 2*size)
			Expect(err).NotTo(HaveOccurred())
			Expect(index).To(Equal(2))
			Expect(fd).To(Equal(session.Pool().FD(2)))

			_, _, err = session.BufferForAddress(config.DefaultBaseAddress + 3*size)
			Expect(errors.Cause(err)).To(Equal(emu.ErrUnsupported))

			_, err = session.BufferFD(3)
			Expect(errors.Cause(err)).To(Equal(emu.ErrUnsupported))
		})

		It("releases everything and initializes again", func() {
			crtc := card.CrtcIDs()[0]

			Expect(session.Free()).To(Succeed())
			Expect(card.Leaks()).To(BeEmpty())
			Expect(card.IsOpen()).To(BeFalse())
			Expect(session.DRMFD()).To(Equal(-1))
			active, _ := card.PropertyValue(crtc, "ACTIVE")
			Expect(active).To(BeZero())

			_, err := session.VarScreenInfo()
			Expect(err).To(Equal(emu.ErrNotInitialized))
			Expect(session.Flip(0)).To(Equal(emu.ErrNotInitialized))

			for i := 0; i < 3; i++ {
				Expect(session.Init()).To(Succeed())
				Expect(session.CurrentPage()).To(Equal(2))
				Expect(session.Free()).To(Succeed())
				Expect(card.Leaks()).To(BeEmpty())
			}

			Expect(st.Value(stats.SessionInits)).To(BeEquivalentTo(4))
			Expect(st.Value(stats.SessionFrees)).To(BeEquivalentTo(4))

			Expect(session.Init()).To(Succeed())
		})
	})

	Context("without a compatible device", func() {
		It("fails and stays uninitialized", func() {
			other := cardWithDriver("i915")
			session = emu.NewSession(newConfig(0, 0, 3), fakedri.NewOpener("/dev/dri", other), st)

			err := session.Init()
			Expect(errors.Cause(err)).To(Equal(drm.ErrNoDevice))
			Expect(emu.Errno(err)).To(Equal(-int(unix.ENODEV)))

			Expect(session.Initialized()).To(BeFalse())
			Expect(session.DRMFD()).To(Equal(-1))
			Expect(other.IsOpen()).To(BeFalse())
			Expect(other.Leaks()).To(BeEmpty())
			Expect(st.Value(stats.SessionInitFailures)).To(BeEquivalentTo(1))
		})
	})

	Context("with an unsupported resolution", func() {
		It("fails at mode selection without leaking", func() {
			session = emu.NewSession(newConfig(1024, 768, 3), fakedri.NewOpener("/dev/dri", card), st)

			err := session.Init()
			Expect(errors.Cause(err)).To(Equal(kms.ErrNoMode))

			Expect(session.Initialized()).To(BeFalse())
			Expect(session.DRMFD()).To(Equal(-1))
			Expect(card.IsOpen()).To(BeFalse())

			dumbs, fbs, blobs := card.Counts()
			Expect([]int{dumbs, fbs, blobs}).To(Equal([]int{0, 0, 0}))
		})
	})

	Context("when an export fails midway", func() {
		It("unwinds the partial pool and the display", func() {
			card.FailAfter("PrimeHandleToFD", 1, unix.EMFILE)
			session = emu.NewSession(newConfig(1280, 720, 3), fakedri.NewOpener("/dev/dri", card), st)

			err := session.Init()
			Expect(errors.Cause(err)).To(Equal(unix.EMFILE))
			Expect(emu.Errno(err)).To(Equal(-int(unix.EMFILE)))

			Expect(card.IsOpen()).To(BeFalse())
			Expect(card.Commits()).To(BeEmpty())
		})
	})

	Context("without a display", func() {
		BeforeEach(func() {
			cfg := newConfig(640, 480, 2)
			cfg.UseScreen = false

			session = emu.NewSession(cfg, fakedri.NewOpener("/dev/dri", card), st)
			Expect(session.Init()).To(Succeed())
		})

		It("exports buffers without framebuffers", func() {
			dumbs, fbs, _ := card.Counts()
			Expect(dumbs).To(Equal(2))
			Expect(fbs).To(BeZero())

			fd, err := session.BufferFD(1)
			Expect(err).NotTo(HaveOccurred())
			Expect(fd).To(BeNumerically(">=", 0))
		})

		It("ignores flips", func() {
			Expect(session.Flip(1)).To(Succeed())
			Expect(session.CurrentPage()).To(Equal(-1))
			Expect(card.Commits()).To(BeEmpty())
			Expect(card.SetCrtcCalls()).To(BeEmpty())
		})
	})

	Context("with a legacy display", func() {
		It("sets the CRTC and restores it on free", func() {
			cfg := newConfig(0, 0, 2)
			cfg.Atomic = false

			session = emu.NewSession(cfg, fakedri.NewOpener("/dev/dri", card), st)
			Expect(session.Init()).To(Succeed())

			Expect(session.Geometry().Width).To(BeEquivalentTo(1920))
			Expect(session.CurrentPage()).To(Equal(1))

			Expect(session.Flip(0)).To(Succeed())
			Expect(session.CurrentPage()).To(Equal(0))
			Expect(card.Flips()).To(HaveLen(1))

			Expect(session.Free()).To(Succeed())
			Expect(card.SetCrtcCalls()).To(HaveLen(2))
		})
	})

	Context("with a statistics file", func() {
		It("writes it on free", func() {
			path := filepath.Join(GinkgoT().TempDir(), "fbdev_shim.prom")

			cfg := newConfig(1280, 720, 2)
			cfg.StatsPath = path

			session = emu.NewSession(cfg, fakedri.NewOpener("/dev/dri", card), st)
			Expect(session.Init()).To(Succeed())
			Expect(session.Flip(0)).To(Succeed())
			Expect(session.Free()).To(Succeed())

			data, err := os.ReadFile(path)
			Expect(err).NotTo(HaveOccurred())
			Expect(string(data)).To(ContainSubstring("fbdev_shim_flips_completed_total 2"))
		})
	})

	It("reconfigures the next session only", func() {
		session = emu.NewSession(newConfig(1280, 720, 3), fakedri.NewOpener("/dev/dri", card), st)
		Expect(session.Init()).To(Succeed())

		fix, err := session.FixScreenInfo()
		Expect(err).NotTo(HaveOccurred())

		next := newConfig(1920, 1080, 2)
		next.BaseAddress = 0x10000000
		session.Reconfigure(next)
		Expect(session.Geometry().Width).To(BeEquivalentTo(1280))

		index, _, err := session.BufferForAddress(uint64(fix.SmemStart))
		Expect(err).NotTo(HaveOccurred())
		Expect(index).To(Equal(0))

		_, _, err = session.BufferForAddress(0x10000000)
		Expect(errors.Cause(err)).To(Equal(emu.ErrUnsupported))

		Expect(session.Free()).To(Succeed())
		Expect(session.Init()).To(Succeed())
		Expect(session.Geometry().Width).To(BeEquivalentTo(1920))
		Expect(session.Geometry().Buffers).To(Equal(2))

		index, _, err = session.BufferForAddress(0x10000000 + 1920*1080*4)
		Expect(err).NotTo(HaveOccurred())
		Expect(index).To(Equal(1))
	})

	It("tracks descriptors", func() {
		session = emu.NewSession(newConfig(0, 0, 3), fakedri.NewOpener("/dev/dri", card), st)

		session.Track(7, emu.DeviceFramebuffer)
		session.Track(9, emu.DeviceGPU)

		Expect(session.Lookup(7)).To(Equal(emu.DeviceFramebuffer))
		Expect(session.Lookup(9)).To(Equal(emu.DeviceGPU))
		Expect(session.Lookup(8)).To(Equal(emu.DeviceNone))
		Expect(session.Lookup(-1)).To(Equal(emu.DeviceNone))

		Expect(session.Untrack(9)).To(Equal(emu.DeviceGPU))
		Expect(session.Lookup(9)).To(Equal(emu.DeviceNone))
		Expect(session.Untrack(9)).To(Equal(emu.DeviceNone))
	})
})
