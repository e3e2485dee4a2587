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

package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"k8s.io/klog/v2"
)

// Watch reloads the configuration file whenever it is written or
// (re)created and hands every valid result to fn. Invalid files are logged
// and skipped. Watch returns when ctx is done.
func Watch(ctx context.Context, path string, fn func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrapf(err, "failed to create watcher for %s", path)
	}
	defer watcher.Close()

	// editors replace files, so watch the directory
	if err = watcher.Add(filepath.Dir(path)); err != nil {
		return errors.Wrapf(err, "failed to add %s to watcher", path)
	}

	path = filepath.Clean(path)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}

			if filepath.Clean(ev.Name) != path || !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}

			c, err := Load(path)
			if err != nil {
				klog.Warningf("ignoring configuration change: %v", err)
				continue
			}

			klog.V(1).Infof("configuration %s reloaded", path)
			fn(c)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}

			return errors.WithStack(err)
		}
	}
}
