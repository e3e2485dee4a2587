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

// Package flip schedules page flips of the buffer pool onto the display
// and tracks which page is on screen.
//
// The scheduler is idle or has exactly one flip pending. The displayed page
// only changes when the kernel reports a flip as complete, never when the
// flip is submitted. A Scheduler is not safe for concurrent use.
package flip

import (
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	"k8s.io/klog/v2"

	"github.com/intel/fbdev-drm-shim/internal/bufpool"
	"github.com/intel/fbdev-drm-shim/internal/stats"
	"github.com/intel/fbdev-drm-shim/pkg/drm"
)

// Presenter puts framebuffers on screen. *kms.Output implements it.
type Presenter interface {
	// Modeset shows a framebuffer for the first time and reports whether
	// a completion event tagged with userData follows.
	Modeset(fbID uint32, req *drm.AtomicReq, userData uint64) (bool, error)
	// Flip submits a framebuffer for the next vertical blank. A
	// completion event tagged with userData follows.
	Flip(fbID uint32, req *drm.AtomicReq, userData uint64) error
}

// Events is the display event channel of a card.
type Events interface {
	WaitEvent() error
	ReadEvents() ([]drm.Event, error)
}

// Scheduler flips pool pages.
type Scheduler struct {
	out    Presenter
	events Events
	pool   *bufpool.Pool
	stats  *stats.Collector

	current int
	pending int
	issued  time.Time
}

// New returns an idle scheduler with no current page. st may be nil.
func New(out Presenter, events Events, pool *bufpool.Pool, st *stats.Collector) *Scheduler {
	return &Scheduler{
		out:     out,
		events:  events,
		pool:    pool,
		stats:   st,
		current: -1,
	}
}

// Current returns the displayed page, -1 before the first completed flip.
func (s *Scheduler) Current() int {
	return s.current
}

// Pending returns the number of submitted flips not yet completed, 0 or 1.
func (s *Scheduler) Pending() int {
	return s.pending
}

// Start shows the last page of the pool and waits until it is on screen.
func (s *Scheduler) Start() error {
	last := s.pool.Len() - 1
	page := s.pool.Page(last)
	page.Used = true

	event, err := s.out.Modeset(page.FbID, page.Req, uint64(last))
	if err != nil {
		page.Used = false
		return err
	}

	if !event {
		s.current = last
		klog.V(2).Infof("page %d on screen", last)

		return nil
	}

	s.submitted()

	return s.Drain()
}

func (s *Scheduler) submitted() {
	s.pending++
	s.issued = s.stats.Now()
	s.stats.Inc(stats.FlipsIssued)
}

// Flip shows page. With one page there is nothing to flip. With two pages
// Flip returns once the page is on screen. With more pages Flip returns as
// soon as the flip is submitted; the next Flip or Drain completes it.
func (s *Scheduler) Flip(index int) error {
	if index < 0 || index >= s.pool.Len() {
		return errors.Wrapf(unix.EINVAL, "page %d out of range", index)
	}

	if s.pool.Len() == 1 {
		return nil
	}

	if err := s.Drain(); err != nil {
		return err
	}

	page := s.pool.Page(index)
	wasUsed := page.Used
	page.Used = true

	if err := s.out.Flip(page.FbID, page.Req, uint64(index)); err != nil {
		page.Used = wasUsed
		s.stats.Inc(stats.FlipErrors)

		return err
	}

	s.submitted()
	klog.V(2).Infof("flip to page %d submitted", index)

	if s.pool.Len() == 2 {
		return s.Drain()
	}

	return nil
}

// Drain waits until no flip is pending.
func (s *Scheduler) Drain() error {
	for s.pending > 0 {
		if err := s.Wait(); err != nil {
			return err
		}
	}

	return nil
}

// Wait blocks until the display reports events and handles them.
func (s *Scheduler) Wait() error {
	if err := s.events.WaitEvent(); err != nil {
		return errors.Wrap(err, "waiting for display events")
	}

	events, err := s.events.ReadEvents()
	if err != nil {
		return errors.Wrap(err, "reading display events")
	}

	for _, ev := range events {
		s.complete(ev)
	}

	return nil
}

// complete retires the previously displayed page and makes the flipped
// page current.
func (s *Scheduler) complete(ev drm.Event) {
	if ev.Type != drm.EventFlipComplete {
		klog.V(4).Infof("ignoring display event type %d", ev.Type)
		return
	}

	index := int(ev.UserData)
	if index < 0 || index >= s.pool.Len() {
		klog.Warningf("flip completion for unknown page %d", ev.UserData)
		return
	}

	if s.current >= 0 && s.current != index {
		s.pool.Page(s.current).Used = false
	}

	if s.pending > 0 {
		s.pending--
	}

	s.current = index

	s.stats.Inc(stats.FlipsCompleted)
	s.stats.ObserveFlip(s.issued)

	klog.V(2).Infof("page %d on screen (sequence %d)", index, ev.Sequence)
}
