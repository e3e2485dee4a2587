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
	"testing"

	"golang.org/x/sys/unix"
)

func TestNeedsMode(t *testing.T) {
	tcases := []struct {
		name     string
		flags    int
		expected bool
	}{
		{
			name:  "read only",
			flags: unix.O_RDONLY,
		},
		{
			name:  "directory",
			flags: unix.O_RDONLY | unix.O_DIRECTORY,
		},
		{
			name:     "create",
			flags:    unix.O_RDWR | unix.O_CREAT,
			expected: true,
		},
		{
			name:     "temporary file",
			flags:    unix.O_RDWR | unix.O_TMPFILE,
			expected: true,
		},
	}

	for _, tt := range tcases {
		t.Run(tt.name, func(t *testing.T) {
			if got := needsMode(tt.flags); got != tt.expected {
				t.Errorf("Test case '%s': expected %v, got %v", tt.name, tt.expected, got)
			}
		})
	}
}
