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

package drm_test

import (
	"testing"

	"github.com/pkg/errors"

	"github.com/intel/fbdev-drm-shim/pkg/drm"
	"github.com/intel/fbdev-drm-shim/pkg/fakedri"
)

func newCard(t *testing.T, driver string) *fakedri.Card {
	opts := fakedri.DefaultOptions()
	opts.Driver = driver

	card, err := fakedri.New(opts)
	if err != nil {
		t.Fatalf("can't create fake card: %+v", err)
	}

	return card
}

func TestFindCard(t *testing.T) {
	tcases := []struct {
		name         string
		drivers      []string
		driver       string
		expectedPath string
		expectedErr  bool
	}{
		{
			name:         "first card matches",
			drivers:      []string{"exynos"},
			driver:       "exynos",
			expectedPath: "/dev/dri/card0",
		},
		{
			name:         "match after other drivers",
			drivers:      []string{"vgem", "i915", "exynos"},
			driver:       "exynos",
			expectedPath: "/dev/dri/card2",
		},
		{
			name:        "enumeration exhausted",
			drivers:     []string{"vgem", "i915"},
			driver:      "exynos",
			expectedErr: true,
		},
		{
			name:        "no cards at all",
			driver:      "exynos",
			expectedErr: true,
		},
	}

	for _, tt := range tcases {
		t.Run(tt.name, func(t *testing.T) {
			var cards []*fakedri.Card
			for _, d := range tt.drivers {
				cards = append(cards, newCard(t, d))
			}

			card, path, err := drm.FindCard("/dev/dri", tt.driver, fakedri.NewOpener("/dev/dri", cards...))

			if tt.expectedErr {
				if err == nil {
					t.Fatalf("Test case '%s': expected error", tt.name)
				}

				if errors.Cause(err) != drm.ErrNoDevice {
					t.Errorf("Test case '%s': unexpected error %v", tt.name, err)
				}

				for i, c := range cards {
					if c.IsOpen() {
						t.Errorf("Test case '%s': card%d left open", tt.name, i)
					}
				}

				return
			}

			if err != nil {
				t.Fatalf("Test case '%s': unexpected error %+v", tt.name, err)
			}

			if path != tt.expectedPath {
				t.Errorf("Test case '%s': expected %s, got %s", tt.name, tt.expectedPath, path)
			}

			if card.Fd() < 0 {
				t.Errorf("Test case '%s': returned card is not usable", tt.name)
			}

			for i, c := range cards {
				if drm.CardPath("/dev/dri", i) != path && c.IsOpen() {
					t.Errorf("Test case '%s': non-matching card%d left open", tt.name, i)
				}
			}
		})
	}
}
