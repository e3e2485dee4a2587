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

// Package emu emulates a legacy framebuffer device on top of a DRM card.
//
// A Session owns the card, the display output and the buffer pool, and
// fabricates the screen info records the framebuffer ioctls return. The
// Dispatcher decodes ioctls on tracked descriptors and serves them from the
// session.
package emu

import (
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"

	"github.com/intel/fbdev-drm-shim/internal/bufpool"
	"github.com/intel/fbdev-drm-shim/internal/config"
	"github.com/intel/fbdev-drm-shim/internal/flip"
	"github.com/intel/fbdev-drm-shim/internal/kms"
	"github.com/intel/fbdev-drm-shim/internal/stats"
	"github.com/intel/fbdev-drm-shim/pkg/drm"
	"github.com/intel/fbdev-drm-shim/pkg/fbdev"
)

var (
	// ErrNotInitialized is returned by operations that need a session.
	ErrNotInitialized = errors.New("framebuffer emulation not initialized")
	// ErrUnsupported is returned for requests the emulation does not serve.
	ErrUnsupported = errors.New("operation not supported by the emulated framebuffer")
)

// Device identifies what a tracked descriptor refers to.
type Device int

// Tracked devices.
const (
	DeviceNone Device = iota
	DeviceFramebuffer
	DeviceGPU
)

func (d Device) String() string {
	switch d {
	case DeviceFramebuffer:
		return "fbdev"
	case DeviceGPU:
		return "gpu"
	}

	return "none"
}

// Geometry is the negotiated framebuffer layout.
type Geometry struct {
	Width, Height uint32
	// Bpp is bytes per pixel.
	Bpp     uint32
	Pitch   uint32
	Size    uint64
	Buffers int
	// Base is the advertised smem_start the pages are addressed from.
	Base uint64
}

// Session is the process-wide emulation state. Its zero value is not
// usable, see NewSession.
type Session struct {
	mu sync.Mutex

	cfg   config.Config
	open  drm.Opener
	stats *stats.Collector

	// Descriptors are read by every intercepted call, without the lock.
	fbFD  atomic.Int32
	gpuFD atomic.Int32
	drmFD atomic.Int32

	initialized bool
	card        drm.Card
	cardPath    string
	out         *kms.Output
	pool        *bufpool.Pool
	sched       *flip.Scheduler
	geometry    Geometry

	// Immutable between init and teardown.
	varInfo atomic.Pointer[fbdev.VarScreenInfo]
	fixInfo atomic.Pointer[fbdev.FixScreenInfo]
}

// NewSession returns an uninitialized session. open defaults to
// drm.OpenCard and st may be nil.
func NewSession(cfg *config.Config, open drm.Opener, st *stats.Collector) *Session {
	if open == nil {
		open = drm.OpenCard
	}

	s := &Session{
		cfg:   *cfg,
		open:  open,
		stats: st,
	}

	s.fbFD.Store(-1)
	s.gpuFD.Store(-1)
	s.drmFD.Store(-1)

	return s
}

// Config returns the configuration the session was built with.
func (s *Session) Config() config.Config {
	return s.cfg
}

// Reconfigure replaces the configuration used by the next Init. A live
// session keeps its geometry until it is freed.
func (s *Session) Reconfigure(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.cfg = *cfg

	if s.initialized {
		klog.V(1).Info("configuration reloaded, applies to the next session")
	}
}

// Track records fd as the descriptor of dev.
func (s *Session) Track(fd int, dev Device) {
	switch dev {
	case DeviceFramebuffer:
		s.fbFD.Store(int32(fd))
	case DeviceGPU:
		s.gpuFD.Store(int32(fd))
	}
}

// Lookup returns the device fd is tracked as.
func (s *Session) Lookup(fd int) Device {
	if fd < 0 {
		return DeviceNone
	}

	switch int32(fd) {
	case s.fbFD.Load():
		return DeviceFramebuffer
	case s.gpuFD.Load():
		return DeviceGPU
	}

	return DeviceNone
}

// Untrack forgets fd and returns the device it was tracked as.
func (s *Session) Untrack(fd int) Device {
	dev := s.Lookup(fd)

	switch dev {
	case DeviceFramebuffer:
		s.fbFD.CompareAndSwap(int32(fd), -1)
	case DeviceGPU:
		s.gpuFD.CompareAndSwap(int32(fd), -1)
	}

	return dev
}

// DRMFD returns the descriptor of the DRM card, -1 without a session.
func (s *Session) DRMFD() int {
	return int(s.drmFD.Load())
}

// Initialized reports whether Init has completed.
func (s *Session) Initialized() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.initialized
}

// Init sets up the card, display and buffer pool. Calling Init on an
// initialized session does nothing. On failure everything acquired is
// released and the session stays uninitialized.
func (s *Session) Init() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.initialized {
		klog.V(3).Info("session already initialized")
		return nil
	}

	if err := s.setup(); err != nil {
		if terr := s.teardown(); terr != nil {
			klog.Warningf("unwinding failed session: %v", terr)
		}

		s.stats.Inc(stats.SessionInitFailures)

		return err
	}

	s.initialized = true
	s.stats.Inc(stats.SessionInits)

	g := s.geometry
	klog.Infof("framebuffer emulation ready on %s: %dx%d, %d bytes per pixel, %d buffers",
		s.cardPath, g.Width, g.Height, g.Bpp, g.Buffers)

	return nil
}

func (s *Session) setup() error {
	cfg := &s.cfg

	card, path, err := drm.FindCard(cfg.DRIPath, cfg.Driver, s.open)
	if err != nil {
		return err
	}

	s.card = card
	s.cardPath = path
	s.drmFD.Store(int32(card.Fd()))

	width, height := cfg.Width, cfg.Height

	if cfg.UseScreen {
		s.out, err = kms.Open(card, kms.Options{
			Width:     cfg.Width,
			Height:    cfg.Height,
			Bpp:       cfg.Bpp,
			Connector: cfg.Connector,
			Atomic:    cfg.Atomic,
		})
		if err != nil {
			return err
		}

		mode := s.out.Mode()
		width, height = uint32(mode.Hdisplay), uint32(mode.Vdisplay)

		klog.V(1).Infof("display %s on CRTC %d, mode %s", s.out.ConnectorName(), s.out.CrtcID(), mode.String())
	}

	opts := bufpool.Options{
		Width:   width,
		Height:  height,
		Bpp:     cfg.Bpp,
		Count:   int(cfg.Buffers),
		Surface: cfg.UseScreen,
	}
	if s.out != nil {
		opts.Binder = s.out.PlaneRequest
	}

	s.pool, err = bufpool.New(card, opts)
	if err != nil {
		return err
	}

	if cfg.UseScreen {
		s.sched = flip.New(s.out, card, s.pool, s.stats)
		if err := s.sched.Start(); err != nil {
			return errors.Wrap(err, "initial modeset failed")
		}
	}

	s.geometry = Geometry{
		Width:   width,
		Height:  height,
		Bpp:     cfg.Bpp,
		Pitch:   width * cfg.Bpp,
		Size:    s.pool.Size(),
		Buffers: s.pool.Len(),
		Base:    cfg.BaseAddress,
	}

	vinfo := fbdev.NewVarScreenInfo(width, height, cfg.Bpp, cfg.Buffers)
	finfo := fbdev.NewFixScreenInfo(uintptr(cfg.BaseAddress), width, cfg.Bpp)
	copy(finfo.ID[:], cfg.Driver+"drmfb")

	s.varInfo.Store(&vinfo)
	s.fixInfo.Store(&finfo)

	return nil
}

// teardown releases whatever setup acquired, in reverse order. The first
// error is returned, the others are logged.
func (s *Session) teardown() error {
	var first error

	keep := func(err error) {
		if err == nil {
			return
		}

		if first == nil {
			first = err
		} else {
			klog.Warningf("teardown: %v", err)
		}
	}

	s.varInfo.Store(nil)
	s.fixInfo.Store(nil)

	// the display is only touched once the scheduler exists
	if s.sched != nil {
		keep(s.sched.Drain())
		keep(s.out.Restore())
		s.sched = nil
	}

	if s.pool != nil {
		keep(s.pool.Free())
		s.pool = nil
	}

	if s.out != nil {
		keep(s.out.Close())
		s.out = nil
	}

	if s.card != nil {
		keep(errors.Wrapf(s.card.Close(), "failed to close %s", s.cardPath))
		s.card = nil
		s.cardPath = ""
	}

	s.drmFD.Store(-1)
	s.geometry = Geometry{}

	return first
}

// Free tears down an initialized session. Freeing an uninitialized session
// does nothing.
func (s *Session) Free() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return nil
	}

	err := s.teardown()
	s.initialized = false
	s.stats.Inc(stats.SessionFrees)

	klog.V(1).Info("framebuffer emulation stopped")

	if s.cfg.StatsPath != "" {
		if werr := s.stats.WriteFile(s.cfg.StatsPath); werr != nil {
			klog.Warningf("%v", werr)
		}
	}

	return err
}

// Flip shows page index. Without a display the call does nothing.
func (s *Session) Flip(index int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}

	if s.sched == nil {
		if index < 0 || index >= s.pool.Len() {
			return errors.Errorf("page %d out of range", index)
		}

		return nil
	}

	return s.sched.Flip(index)
}

// Drain waits for an outstanding flip.
func (s *Session) Drain() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return ErrNotInitialized
	}

	if s.sched == nil {
		return nil
	}

	return s.sched.Drain()
}

// CurrentPage returns the displayed page, -1 without a display.
func (s *Session) CurrentPage() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sched == nil {
		return -1
	}

	return s.sched.Current()
}

// PendingFlips returns the number of flips awaiting completion.
func (s *Session) PendingFlips() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sched == nil {
		return 0
	}

	return s.sched.Pending()
}

// BufferFD returns the exported descriptor of page index.
func (s *Session) BufferFD(index int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return -1, ErrNotInitialized
	}

	fd := s.pool.FD(index)
	if fd < 0 {
		return -1, errors.Wrapf(ErrUnsupported, "no page %d", index)
	}

	return fd, nil
}

// BufferForAddress resolves an address inside the emulated framebuffer
// memory to the page starting there and its exported descriptor.
func (s *Session) BufferForAddress(addr uint64) (index, fd int, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.initialized {
		return -1, -1, ErrNotInitialized
	}

	index, ok := bufpool.IndexForAddress(s.geometry.Base, addr, s.pool.Size(), s.pool.Len())
	if !ok {
		return -1, -1, errors.Wrapf(ErrUnsupported, "address 0x%x is not a page of the framebuffer", addr)
	}

	return index, s.pool.FD(index), nil
}

// Geometry returns the negotiated layout, zero without a session.
func (s *Session) Geometry() Geometry {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.geometry
}

// Pool returns the buffer pool of an initialized session.
func (s *Session) Pool() *bufpool.Pool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.pool
}

// Card returns the card of an initialized session.
func (s *Session) Card() drm.Card {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.card
}

// VarScreenInfo returns a copy of the fabricated variable screen info.
func (s *Session) VarScreenInfo() (fbdev.VarScreenInfo, error) {
	v := s.varInfo.Load()
	if v == nil {
		return fbdev.VarScreenInfo{}, ErrNotInitialized
	}

	return *v, nil
}

// FixScreenInfo returns a copy of the fabricated fixed screen info.
func (s *Session) FixScreenInfo() (fbdev.FixScreenInfo, error) {
	f := s.fixInfo.Load()
	if f == nil {
		return fbdev.FixScreenInfo{}, ErrNotInitialized
	}

	return *f, nil
}
