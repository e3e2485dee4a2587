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

package drm

import (
	"fmt"
	"path/filepath"

	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// MaxCards bounds the cardN enumeration.
const MaxCards = 64

// ErrNoDevice is returned when no card with the wanted driver exists.
var ErrNoDevice = errors.New("no compatible DRM device found")

// CardPath returns the device node path of card index n under dir.
func CardPath(dir string, n int) string {
	return filepath.Join(dir, fmt.Sprintf("card%d", n))
}

// FindCard opens dir/card0, dir/card1, ... until a card whose driver name
// equals driver is found. The first index that cannot be opened ends the
// enumeration. The matching card is returned open, together with its path.
func FindCard(dir, driver string, open Opener) (Card, string, error) {
	for n := 0; n < MaxCards; n++ {
		path := CardPath(dir, n)

		card, err := open(path)
		if err != nil {
			klog.V(4).Infof("stopping DRM device scan at %s: %v", path, err)
			break
		}

		ver, err := card.Version()
		if err != nil {
			klog.Warningf("%s: version query failed: %v", path, err)
			card.Close()

			continue
		}

		if ver.Name == driver {
			klog.V(1).Infof("using %s (%s %d.%d.%d)", path, ver.Name, ver.Major, ver.Minor, ver.Patch)
			return card, path, nil
		}

		klog.V(3).Infof("skipping %s: driver %q", path, ver.Name)
		card.Close()
	}

	return nil, "", errors.Wrapf(ErrNoDevice, "driver %q under %s", driver, dir)
}
