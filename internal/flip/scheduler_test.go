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

package flip

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
	testingclock "k8s.io/utils/clock/testing"

	"github.com/intel/fbdev-drm-shim/internal/bufpool"
	"github.com/intel/fbdev-drm-shim/internal/config"
	"github.com/intel/fbdev-drm-shim/internal/kms"
	"github.com/intel/fbdev-drm-shim/internal/stats"
	"github.com/intel/fbdev-drm-shim/pkg/fakedri"
)

type fixture struct {
	card  *fakedri.Card
	out   *kms.Output
	pool  *bufpool.Pool
	stats *stats.Collector
	sched *Scheduler
}

func newFixture(t *testing.T, count int, atomic bool) *fixture {
	t.Helper()

	f := &fixture{
		card:  fakedri.NewDefault(),
		stats: stats.New(testingclock.NewFakePassiveClock(time.Unix(0, 0))),
	}

	var err error

	f.out, err = kms.Open(f.card, kms.Options{
		Width: 1280, Height: 720, Bpp: 4, Connector: config.ConnectorHDMI, Atomic: atomic,
	})
	if err != nil {
		t.Fatalf("%+v", err)
	}

	f.pool, err = bufpool.New(f.card, bufpool.Options{
		Width: 1280, Height: 720, Bpp: 4, Count: count, Surface: true, Binder: f.out.PlaneRequest,
	})
	if err != nil {
		t.Fatalf("%+v", err)
	}

	f.sched = New(f.out, f.card, f.pool, f.stats)

	return f
}

func (f *fixture) used() []bool {
	var used []bool
	for i := 0; i < f.pool.Len(); i++ {
		used = append(used, f.pool.Page(i).Used)
	}

	return used
}

func TestStart(t *testing.T) {
	tcases := []struct {
		name            string
		atomic          bool
		count           int
		expectedCommits int
		expectedSetCrtc int
	}{
		{name: "atomic, three pages", atomic: true, count: 3, expectedCommits: 1},
		{name: "atomic, one page", atomic: true, count: 1, expectedCommits: 1},
		{name: "legacy, two pages", count: 2, expectedSetCrtc: 1},
	}

	for _, tt := range tcases {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, tt.count, tt.atomic)

			if f.sched.Current() != -1 {
				t.Errorf("Test case '%s': page %d current before start", tt.name, f.sched.Current())
			}

			if err := f.sched.Start(); err != nil {
				t.Fatalf("Test case '%s': %+v", tt.name, err)
			}

			if f.sched.Current() != tt.count-1 || f.sched.Pending() != 0 {
				t.Errorf("Test case '%s': current %d, pending %d", tt.name, f.sched.Current(), f.sched.Pending())
			}

			if !f.pool.Page(tt.count - 1).Used {
				t.Errorf("Test case '%s': displayed page not marked used", tt.name)
			}

			if n := len(f.card.Commits()); n != tt.expectedCommits {
				t.Errorf("Test case '%s': expected %d commits, got %d", tt.name, tt.expectedCommits, n)
			}

			if n := len(f.card.SetCrtcCalls()); n != tt.expectedSetCrtc {
				t.Errorf("Test case '%s': expected %d SetCrtc calls, got %d", tt.name, tt.expectedSetCrtc, n)
			}
		})
	}
}

func TestStartFailure(t *testing.T) {
	f := newFixture(t, 3, true)
	f.card.FailAfter("AtomicCommit", 0, unix.EINVAL)

	if err := f.sched.Start(); errors.Cause(err) != unix.EINVAL {
		t.Fatalf("expected EINVAL, got %v", err)
	}

	if f.sched.Current() != -1 || f.sched.Pending() != 0 || f.pool.Page(2).Used {
		t.Errorf("failed modeset changed state: current %d, pending %d", f.sched.Current(), f.sched.Pending())
	}
}

func TestFlipOnePage(t *testing.T) {
	f := newFixture(t, 1, true)
	if err := f.sched.Start(); err != nil {
		t.Fatal(err)
	}

	if err := f.sched.Flip(0); err != nil {
		t.Fatal(err)
	}

	if n := len(f.card.Commits()); n != 1 {
		t.Errorf("single page flip submitted %d commits", n-1)
	}

	if f.stats.Value(stats.FlipsIssued) != 1 {
		t.Errorf("unexpected issued count %d", f.stats.Value(stats.FlipsIssued))
	}
}

func TestFlipTwoPagesWaits(t *testing.T) {
	f := newFixture(t, 2, true)
	if err := f.sched.Start(); err != nil {
		t.Fatal(err)
	}

	if err := f.sched.Flip(0); err != nil {
		t.Fatalf("%+v", err)
	}

	if f.sched.Current() != 0 || f.sched.Pending() != 0 {
		t.Errorf("flip returned before completion: current %d, pending %d", f.sched.Current(), f.sched.Pending())
	}

	if used := f.used(); !used[0] || used[1] {
		t.Errorf("unexpected used pages %v", used)
	}

	commits := f.card.Commits()
	if len(commits) != 2 || commits[1].UserData != 0 {
		t.Errorf("unexpected commits %+v", commits)
	}
}

func TestFlipTwoPagesBlocks(t *testing.T) {
	f := newFixture(t, 2, true)
	if err := f.sched.Start(); err != nil {
		t.Fatal(err)
	}

	f.card.HoldEvents(true)

	done := make(chan error, 1)

	go func() {
		done <- f.sched.Flip(0)
	}()

	select {
	case err := <-done:
		t.Fatalf("flip returned before its completion event: %v", err)
	case <-time.After(50 * time.Millisecond):
	}

	f.card.ReleaseEvents()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("%+v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("flip did not return after the completion event")
	}

	if f.sched.Current() != 0 {
		t.Errorf("page %d current", f.sched.Current())
	}
}

func TestFlipThreePages(t *testing.T) {
	f := newFixture(t, 3, true)
	if err := f.sched.Start(); err != nil {
		t.Fatal(err)
	}

	if err := f.sched.Flip(0); err != nil {
		t.Fatalf("%+v", err)
	}

	// submitted, not yet shown
	if f.sched.Current() != 2 || f.sched.Pending() != 1 {
		t.Errorf("after first flip: current %d, pending %d", f.sched.Current(), f.sched.Pending())
	}

	if used := f.used(); !used[0] || used[1] || !used[2] {
		t.Errorf("after first flip: used pages %v", used)
	}

	if err := f.sched.Flip(1); err != nil {
		t.Fatalf("%+v", err)
	}

	if f.sched.Current() != 0 || f.sched.Pending() != 1 {
		t.Errorf("after second flip: current %d, pending %d", f.sched.Current(), f.sched.Pending())
	}

	if used := f.used(); !used[0] || !used[1] || used[2] {
		t.Errorf("after second flip: used pages %v", used)
	}

	if err := f.sched.Drain(); err != nil {
		t.Fatal(err)
	}

	if f.sched.Current() != 1 || f.sched.Pending() != 0 {
		t.Errorf("after drain: current %d, pending %d", f.sched.Current(), f.sched.Pending())
	}

	if issued, completed := f.stats.Value(stats.FlipsIssued), f.stats.Value(stats.FlipsCompleted); issued != 3 || completed != 3 {
		t.Errorf("issued %d, completed %d", issued, completed)
	}

	if n, _ := f.stats.Latency(); n != 3 {
		t.Errorf("%d latency samples", n)
	}
}

func TestFlipLegacy(t *testing.T) {
	f := newFixture(t, 3, false)
	if err := f.sched.Start(); err != nil {
		t.Fatal(err)
	}

	if err := f.sched.Flip(0); err != nil {
		t.Fatalf("%+v", err)
	}

	if err := f.sched.Drain(); err != nil {
		t.Fatal(err)
	}

	flips := f.card.Flips()
	if len(flips) != 1 || flips[0].FbID != f.pool.Page(0).FbID || flips[0].UserData != 0 {
		t.Errorf("unexpected flips %+v", flips)
	}

	if f.sched.Current() != 0 || f.pool.Page(2).Used {
		t.Errorf("current %d, used pages %v", f.sched.Current(), f.used())
	}
}

func TestFlipFailure(t *testing.T) {
	f := newFixture(t, 3, true)
	if err := f.sched.Start(); err != nil {
		t.Fatal(err)
	}

	f.card.FailAfter("AtomicCommit", 1, unix.EINVAL)

	if err := f.sched.Flip(0); errors.Cause(err) != unix.EINVAL {
		t.Fatalf("expected EINVAL, got %v", err)
	}

	if f.sched.Pending() != 0 || f.sched.Current() != 2 || f.pool.Page(0).Used {
		t.Errorf("failed flip changed state: current %d, pending %d, used %v",
			f.sched.Current(), f.sched.Pending(), f.used())
	}

	if f.stats.Value(stats.FlipErrors) != 1 {
		t.Errorf("flip error not counted")
	}
}

func TestFlipOutOfRange(t *testing.T) {
	f := newFixture(t, 2, true)

	for _, index := range []int{-1, 2} {
		if err := f.sched.Flip(index); errors.Cause(err) != unix.EINVAL {
			t.Errorf("page %d: expected EINVAL, got %v", index, err)
		}
	}
}
