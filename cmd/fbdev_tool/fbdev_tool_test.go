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
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/intel/fbdev-drm-shim/pkg/fakedri"
)

func TestListCards(t *testing.T) {
	dir := t.TempDir()

	for _, name := range []string{"card10", "renderD128", "card1", "card0", "cardX", "by-path"} {
		if err := os.WriteFile(filepath.Join(dir, name), nil, 0600); err != nil {
			t.Fatal(err)
		}
	}

	paths, err := listCards(dir)
	if err != nil {
		t.Fatal(err)
	}

	expected := []string{
		filepath.Join(dir, "card0"),
		filepath.Join(dir, "card1"),
		filepath.Join(dir, "card10"),
	}
	if diff := cmp.Diff(expected, paths); diff != "" {
		t.Errorf("unexpected cards (-want +got):\n%s", diff)
	}

	if _, err := listCards(filepath.Join(dir, "missing")); err == nil {
		t.Error("expected error for a missing directory")
	}
}

func TestProbeCards(t *testing.T) {
	opts := fakedri.DefaultOptions()
	opts.Driver = "i915"

	other, err := fakedri.New(opts)
	if err != nil {
		t.Fatal(err)
	}

	open := fakedri.NewOpener("/dev/dri", other, fakedri.NewDefault())
	paths := []string{"/dev/dri/card0", "/dev/dri/card1", "/dev/dri/card2"}

	infos := probeCards(context.Background(), paths, open)

	drivers := []string{}
	for _, ci := range infos {
		if ci.err != nil {
			drivers = append(drivers, "error")
			continue
		}

		drivers = append(drivers, ci.driver)
	}

	if diff := cmp.Diff([]string{"i915", "exynos", "error"}, drivers); diff != "" {
		t.Errorf("unexpected drivers (-want +got):\n%s", diff)
	}

	if other.IsOpen() {
		t.Error("probed card left open")
	}
}

func TestFillPage(t *testing.T) {
	tcases := []struct {
		name     string
		bpp      uint32
		color    int
		expected uint32
	}{
		{
			name:     "XRGB8888 red",
			bpp:      4,
			expected: 0x00ff0000,
		},
		{
			name:     "XRGB8888 wraps around",
			bpp:      4,
			color:    4,
			expected: 0x0000ff00,
		},
		{
			name:     "RGB565 blue",
			bpp:      2,
			color:    2,
			expected: 0x001f,
		},
	}

	for _, tt := range tcases {
		t.Run(tt.name, func(t *testing.T) {
			buf := make([]byte, 64)
			fillPage(buf, tt.bpp, tt.color)

			for i := 0; i < len(buf); i += int(tt.bpp) {
				var got uint32
				if tt.bpp == 2 {
					got = uint32(binary.LittleEndian.Uint16(buf[i:]))
				} else {
					got = binary.LittleEndian.Uint32(buf[i:])
				}

				if got != tt.expected {
					t.Fatalf("Test case '%s': pixel %d is 0x%x, expected 0x%x", tt.name, i/int(tt.bpp), got, tt.expected)
				}
			}
		})
	}
}
